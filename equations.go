// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.19
//

// Double-difference observation equations of the epoch.

package rtkamb

import (
	"math"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/mat"
)

// Signals and pairs selected for the epoch
type epochGeom struct {
	sigs  []SatFType          // Single-difference ambiguity parameters (state index 3+i)
	pairs []SatPairFType      // Double-difference pairs (reference, other)
	elev  map[SatType]float64 // Elevation angle [rad]
	nsats int                 // Number of satellites
}

// isDataOK checks that the signal has phase and code on both receivers this epoch
func (e *Engine) isDataOK(sat SatType, f int) bool {
	tr := e.trk[sat]
	if tr == nil {
		return false
	}
	if e.opt.IonoFree {
		return f == 0 && !tr.Unsolved[0] && !tr.Unsolved[1] && tr.fresh(&tr.IFCp) && tr.fresh(&tr.IFPr)
	}
	return f < tr.nf && !tr.Unsolved[f]
}

// numSigFreq returns the number of frequency slots of the parameters
func (e *Engine) numSigFreq() int {
	if e.opt.IonoFree {
		return 1
	}
	return e.opt.NumFreq
}

// selectSignals picks the usable satellites, the reference satellite of each
// system (highest elevation among those with the most frequencies) and the
// double-difference pairs
func (e *Engine) selectSignals(in *EpochInput, rovPos PosXYZ, exclude []SatFType) *epochGeom {
	g := &epochGeom{elev: map[SatType]float64{}}
	nf := e.numSigFreq()

	sats := []SatType{}
	for _, sat := range in.Rover.Sats() {
		if in.Base.Get(sat) == nil {
			continue
		}
		sp, ok := in.SatPos[sat]
		if !ok || sp.IsZero() {
			continue
		}
		el := rovPos.Elevation(sp)
		if ToDeg(el) < e.opt.ElMask {
			continue
		}
		g.elev[sat] = el
		sats = append(sats, sat)
	}

	// Count available frequencies for each satellite and find maximum per system
	numF := map[SatType]int{}
	maxF := map[SysType]int{}
	for _, sat := range sats {
		c := 0
		for f := range nf {
			if e.isDataOK(sat, f) && !slices.Contains(exclude, SatFType{Sat: sat, F: f}) {
				c++
			}
		}
		numF[sat] = c
		if c > maxF[sat.Sys()] {
			maxF[sat.Sys()] = c
		}
	}
	refSat := map[SysType]SatType{}
	refEl := map[SysType]float64{}
	for _, sat := range sats {
		sys := sat.Sys()
		if numF[sat] == maxF[sys] && numF[sat] > 0 {
			if _, ok := refSat[sys]; !ok || g.elev[sat] > refEl[sys] {
				refSat[sys] = sat
				refEl[sys] = g.elev[sat]
			}
		}
	}

	counted := map[SatType]bool{}
	for f := range nf {
		for _, sat := range sats {
			ref, ok := refSat[sat.Sys()]
			if !ok || !e.isDataOK(sat, f) || !e.isDataOK(ref, f) {
				continue
			}
			sf := SatFType{Sat: sat, F: f}
			if slices.Contains(exclude, sf) {
				continue
			}
			if sat != ref {
				g.pairs = append(g.pairs, SatPairFType{S1: ref, S2: sat, F: f})
			}
			g.sigs = append(g.sigs, sf)
			if !counted[sat] {
				counted[sat] = true
				g.nsats++
			}
		}
	}
	// Drop reference signals without pairs
	used := []SatFType{}
	for _, sf := range g.sigs {
		for _, sp := range g.pairs {
			if sp.F == sf.F && (sp.S1 == sf.Sat || sp.S2 == sf.Sat) {
				used = append(used, sf)
				break
			}
		}
	}
	g.sigs = used

	if DBG_ >= 3 {
		PrintA("\tdd pairs: (%d)", len(g.pairs))
		printDDpairs(g.pairs, g.elev)
	}
	return g
}

// Wavelength of the ambiguity parameter (1 for the ionosphere-free ambiguity in meters)
func (e *Engine) ambLam(sat SatType, f int) float64 {
	if e.opt.IonoFree {
		return 1
	}
	return e.trk[sat].Lam[f]
}

// Single-difference phase [m] and code [m] of a signal
func (e *Engine) sdObs(sat SatType, f int) (float64, float64) {
	tr := e.trk[sat]
	if e.opt.IonoFree {
		return tr.IFCp.Curr, tr.IFPr.Curr
	}
	s := tr.Sample(f)
	return s.Cp * tr.Lam[f], s.Pr
}

// Single-difference geometric range [m]
func sdRange(in *EpochInput, sat SatType, rovPos PosXYZ) float64 {
	sp := in.SatPos[sat]
	return rovPos.Dist(sp) - in.BasePos.Dist(sp)
}

// makeY calculates the double-difference residuals (phase rows first, then code rows)
// and lists the signals exceeding the innovation thresholds
func (e *Engine) makeY(in *EpochInput, g *epochGeom, x *mat.VecDense) (*mat.VecDense, []SatFType) {
	nv := len(g.pairs) * 2
	dy := mat.NewVecDense(nv, nil)
	rovPos := PosXYZ{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}
	exSats := []SatFType{}
	for i, sp := range g.pairs {
		k, j, f := sp.S1, sp.S2, sp.F
		Ck, Pk := e.sdObs(k, f)
		Cj, Pj := e.sdObs(j, f)
		Rdd := sdRange(in, k, rovPos) - sdRange(in, j, rovPos)
		ki := slices.Index(g.sigs, SatFType{Sat: k, F: f})
		ji := slices.Index(g.sigs, SatFType{Sat: j, F: f})
		Bdd := x.AtVec(3+ki)*e.ambLam(k, f) - x.AtVec(3+ji)*e.ambLam(j, f)
		ddCp := (Ck - Cj) - Rdd - Bdd
		ddPr := (Pk - Pj) - Rdd
		if math.Abs(ddCp) > e.opt.MaxInnovCp || math.Abs(ddPr) > e.opt.MaxInnovPr {
			exSats = append(exSats, SatFType{Sat: j, F: f})
			PrintD(2, "\toutlier: sat=%s, f=%d, ddCp=%.3f, ddPr=%.3f (thres: %.1f, %.1f)\n", j, f, ddCp, ddPr, e.opt.MaxInnovCp, e.opt.MaxInnovPr)
		}
		dy.SetVec(i, ddCp)
		dy.SetVec(nv/2+i, ddPr)
	}
	return dy, exSats
}

// makeH creates the Jacobian of the double-differences (observations x parameters)
func (e *Engine) makeH(in *EpochInput, g *epochGeom, x *mat.VecDense) *mat.Dense {
	nv := len(g.pairs) * 2
	H := mat.NewDense(nv, x.Len(), nil)
	rovPos := PosXYZ{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}
	for i, sp := range g.pairs {
		k, j, f := sp.S1, sp.S2, sp.F
		ek := rovPos.LOS(in.SatPos[k])
		ej := rovPos.LOS(in.SatPos[j])
		for c := range 3 {
			H.Set(i, c, -ek[c]+ej[c])
			H.Set(nv/2+i, c, -ek[c]+ej[c])
		}
		ki := slices.Index(g.sigs, SatFType{Sat: k, F: f})
		ji := slices.Index(g.sigs, SatFType{Sat: j, F: f})
		H.Set(i, 3+ki, e.ambLam(k, f))
		H.Set(i, 3+ji, -e.ambLam(j, f))
	}
	return H
}

// sdVar returns the single-difference variance of phase and code [m^2] (RTKLIB weighting)
func (e *Engine) sdVar(sat SatType, el float64) (float64, float64) {
	sinel := math.Sin(el)
	fact := 1.0
	if sat.Sys() == 'R' {
		fact = e.opt.GloFactor
	}
	a := e.opt.StdCp * fact
	vcp := 2.0 * (a*a + a*a/sinel/sinel)
	a = e.opt.StdPr * fact
	vpr := 2.0 * (a*a + a*a/sinel/sinel)
	if e.opt.IonoFree {
		k := IonoFreeVarFactor(e.trk[sat].Lam[0], e.trk[sat].Lam[1])
		vcp *= k
		vpr *= k
	}
	return vcp, vpr
}

// makeR creates the observation error covariance matrix. Double-differences
// sharing a reference satellite are correlated through its variance.
func (e *Engine) makeR(g *epochGeom) (*mat.Dense, []int) {
	np := len(g.pairs)
	nv := np * 2
	R := mat.NewDense(nv, nv, nil)
	group := make([]int, nv)
	for i, sp := range g.pairs {
		vcpK, vprK := e.sdVar(sp.S1, g.elev[sp.S1])
		vcpJ, vprJ := e.sdVar(sp.S2, g.elev[sp.S2])
		R.Set(i, i, vcpK+vcpJ)
		R.Set(np+i, np+i, vprK+vprJ)
		for m, sp2 := range g.pairs {
			if m != i && sp2.S1 == sp.S1 && sp2.F == sp.F {
				R.Set(i, m, vcpK)
				R.Set(np+i, np+m, vprK)
			}
		}
		group[i] = SysIndex(sp.S2.Sys())
		group[np+i] = SysIndex(sp.S2.Sys())
	}
	return R, group
}

// Print double-difference pairs with elevation angles
func printDDpairs(ddPairs []SatPairFType, elev map[SatType]float64) {
	var s1 SatType
	f := -1
	for _, sp := range ddPairs {
		if s1 != sp.S1 || f != sp.F {
			PrintA("\n\t%s(%d,%.1f):", sp.S1, sp.F+1, ToDeg(elev[sp.S1]))
			s1 = sp.S1
			f = sp.F
		}
		PrintA(" %s(%d,%.1f)", sp.S2, sp.F+1, ToDeg(elev[sp.S2]))
	}
	PrintA("\n")
}
