// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.19
//

package rtkamb

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

//-------------------------------------------------------------------
// PosLLH
//-------------------------------------------------------------------

// Geodetic position. Lat/Lon in radians, Hei in meters
type PosLLH struct {
	Lat float64
	Lon float64
	Hei float64
}

func (llh PosLLH) ToXYZ() PosXYZ {
	e2 := Fe * (2 - Fe)
	sinp := math.Sin(llh.Lat)
	n := Re / math.Sqrt(1-e2*sinp*sinp) // Radius of curvature in the prime vertical
	return PosXYZ{
		X: (n + llh.Hei) * math.Cos(llh.Lat) * math.Cos(llh.Lon),
		Y: (n + llh.Hei) * math.Cos(llh.Lat) * math.Sin(llh.Lon),
		Z: (n*(1-e2) + llh.Hei) * math.Sin(llh.Lat),
	}
}

// Read "lat lon hei" from string (degrees, degrees, meters)
func (llh *PosLLH) Set(s string) error {
	f := strings.Fields(s)
	if len(f) != 3 {
		return fmt.Errorf("need 3 fields: %q", s)
	}
	var v [3]float64
	for i := range 3 {
		x, err := strconv.ParseFloat(f[i], 64)
		if err != nil {
			return err
		}
		v[i] = x
	}
	llh.Lat, llh.Lon, llh.Hei = ToRad(v[0]), ToRad(v[1]), v[2]
	return nil
}

func (llh *PosLLH) String() string {
	return fmt.Sprintf("%.8f %.8f %.4f", ToDeg(llh.Lat), ToDeg(llh.Lon), llh.Hei)
}

//-------------------------------------------------------------------
// PosXYZ
//-------------------------------------------------------------------

// ECEF position [m]
type PosXYZ struct {
	X float64
	Y float64
	Z float64
}

func (pos PosXYZ) IsZero() bool {
	return pos.X == 0 && pos.Y == 0 && pos.Z == 0
}

// Dist returns the euclidean distance to b
func (pos PosXYZ) Dist(b PosXYZ) float64 {
	return math.Sqrt(SQ(b.X-pos.X) + SQ(b.Y-pos.Y) + SQ(b.Z-pos.Z))
}

// LOS returns the unit line-of-sight vector from pos to sat
func (pos PosXYZ) LOS(sat PosXYZ) [3]float64 {
	r := pos.Dist(sat)
	if r == 0 {
		return [3]float64{}
	}
	return [3]float64{(sat.X - pos.X) / r, (sat.Y - pos.Y) / r, (sat.Z - pos.Z) / r}
}

func (pos PosXYZ) ToLLH() PosLLH {
	if pos.IsZero() {
		return PosLLH{Lat: 0, Lon: 0, Hei: -Re}
	}
	a := Re
	b := a * (1 - Fe)
	e2 := Fe * (2 - Fe)
	h := a*a - b*b
	p := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y)
	t := math.Atan2(pos.Z*a, p*b)
	sint, cost := math.Sin(t), math.Cos(t)
	lat := math.Atan2(pos.Z+h/b*sint*sint*sint, p-h/a*cost*cost*cost)
	lon := math.Atan2(pos.Y, pos.X)
	n := a / math.Sqrt(1-e2*math.Sin(lat)*math.Sin(lat))
	return PosLLH{Lat: lat, Lon: lon, Hei: p/math.Cos(lat) - n}
}

// ToENU converts pos to local coordinates relative to base
func (pos PosXYZ) ToENU(base PosXYZ) PosENU {
	x := pos.X - base.X
	y := pos.Y - base.Y
	z := pos.Z - base.Z
	llh := base.ToLLH()
	s1, c1 := math.Sin(llh.Lon), math.Cos(llh.Lon)
	s2, c2 := math.Sin(llh.Lat), math.Cos(llh.Lat)
	return PosENU{
		E: -x*s1 + y*c1,
		N: -x*c1*s2 - y*s1*s2 + z*c2,
		U: x*c1*c2 + y*s1*c2 + z*s2,
	}
}

// Elevation angle [rad] of sat seen from usr
func (usr PosXYZ) Elevation(sat PosXYZ) float64 {
	enu := sat.ToENU(usr)
	return enu.Elevation()
}

//-------------------------------------------------------------------
// PosENU
//-------------------------------------------------------------------

// Local east/north/up coordinates [m]
type PosENU struct {
	E float64
	N float64
	U float64
}

func (enu PosENU) ToXYZ(base PosXYZ) PosXYZ {
	llh := base.ToLLH()
	s1, c1 := math.Sin(llh.Lon), math.Cos(llh.Lon)
	s2, c2 := math.Sin(llh.Lat), math.Cos(llh.Lat)
	return PosXYZ{
		X: base.X - enu.E*s1 - enu.N*c1*s2 + enu.U*c1*c2,
		Y: base.Y + enu.E*c1 - enu.N*s1*s2 + enu.U*s1*c2,
		Z: base.Z + enu.N*c2 + enu.U*s2,
	}
}

func (enu PosENU) Elevation() float64 {
	return math.Atan2(enu.U, math.Sqrt(enu.E*enu.E+enu.N*enu.N))
}
