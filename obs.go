// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.19
//

package rtkamb

import (
	"fmt"
	"strconv"
)

// Type representing satellite name like "G10"
type SatType string

// Type representing satellite system like 'G'
type SysType byte

// Extract satellite system from satellite name
func (p SatType) Sys() SysType {
	if len(p) == 0 {
		return 0
	}
	return SysType(p[0])
}

// Check validity of satellite system
func (p SysType) IsValid() bool {
	return p == 'G' || p == 'J' || p == 'E' || p == 'R' || p == 'C' || p == 'S'
}

// Extract satellite number from satellite name
func (p SatType) Num() int {
	if len(p) < 2 {
		return 0
	}
	i, err := strconv.Atoi(string(p[1:]))
	if err != nil {
		return 0
	}
	return i
}

// Number of carrier frequencies
const NFREQ = 4

// Decoded observation record for one satellite at one epoch.
// Zero fields mean the observation is absent.
type ObsS struct {
	Cp   [NFREQ]float64 // Carrier phase [cycle]
	Pr   [NFREQ]float64 // Pseudorange [m]
	Dp   [NFREQ]float64 // Doppler frequency [Hz]
	Sn   [NFREQ]float64 // Signal strength [dB-Hz]
	LLI  [NFREQ]byte    // LLI (Loss-of-Lock Indicator) (bit0: cycle slip, bit1: half-cycle ambiguity)
	Code [NFREQ]string  // Observation code (1C,2X,5I etc.)
}

// Observation data for all satellites in one epoch
type ObsE struct {
	Time GTime             // Epoch time
	DatS map[SatType]*ObsS // Observation data for each satellite
}

// NewObsE creates an empty epoch at time t
func NewObsE(t GTime) *ObsE {
	return &ObsE{Time: t, DatS: map[SatType]*ObsS{}}
}

// Sats returns the satellites of the epoch in system/number order
func (p *ObsE) Sats() []SatType {
	if p == nil {
		return nil
	}
	s := make([]SatType, 0, len(p.DatS))
	for k := range p.DatS {
		s = append(s, k)
	}
	return Sorted(s)
}

// Get returns the record of the satellite, or nil when it was not observed
func (p *ObsE) Get(sat SatType) *ObsS {
	if p == nil {
		return nil
	}
	return p.DatS[sat]
}

// SatFType represents a satellite and frequency
type SatFType struct {
	Sat SatType // Satellite identifier
	F   int     // Frequency index (0, ..., NFREQ-1)
}

func (s SatFType) String() string {
	return fmt.Sprintf("%s(L%d)", s.Sat, s.F+1)
}

// SatPairFType represents a double-difference pair on one frequency
type SatPairFType struct {
	S1 SatType // Reference satellite (highest elevation satellite)
	S2 SatType // Paired satellite for double-difference
	F  int     // Frequency index
}
