// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.19
//

// Per-satellite signal state: observation history, slip detection and repair,
// ambiguity lifecycle.

package rtkamb

// Slip flags
const (
	SlipLLI        byte = 1 << iota // Loss-of-lock indicator
	SlipPoly                        // Phase departs from the polynomial prediction
	SlipGF                          // Geometry-free jump
	SlipMW                          // Wide-lane jump
	SlipUnrepaired                  // Slip could not be repaired
)

// Frequency pairs of the geometry-free registers
var gfPairs = [2][2]int{{0, 1}, {0, 2}}

// SatTracker keeps the state of the signals of one satellite.
// Observations are single-differenced between rover and base.
type SatTracker struct {
	Sat      SatType
	Time     GTime             // Time of the last update
	Lam      [NFREQ]float64    // Wavelengths [m]
	Amb      [NFREQ]Ambiguity  // Ambiguities
	Slip     [NFREQ]byte       // Slip flags of this epoch
	Jump     [NFREQ]float64    // Repaired jump of this epoch [cycle]
	Reset    [NFREQ]bool       // Ambiguity reinitialized this epoch
	Unsolved [NFREQ]bool       // Phase or code absent this epoch
	GF       [2]Register       // Geometry-free phase (f1,f2), (f1,f3) [m]
	IFCp     Register          // Ionosphere-free phase [m]
	IFPr     Register          // Ionosphere-free code [m]
	MW       Register          // Melbourne-Wubbena [wide-lane cycle]
	LastSeen GTime             // Time of the last valid observation

	nf     int
	win    [NFREQ]*Window
	wl     wlAverage
	fit    Solver // Least squares solver of the polynomial detector
	pred   [NFREQ]float64
	predOK [NFREQ]bool
}

// NewSatTracker creates the tracker of satellite sat. fit solves the polynomial
// fits of the slip detector and must use the least squares strategy.
func NewSatTracker(sat SatType, opt *RtkOpt, fit Solver) *SatTracker {
	tr := &SatTracker{
		Sat: sat,
		nf:  opt.NumFreq,
		fit: fit,
	}
	for f := range NFREQ {
		tr.win[f] = NewWindow(opt.PolyOrder + 1)
	}
	return tr
}

// snapshot copies the tracker state without the shared solver
func (tr *SatTracker) snapshot() *SatTracker {
	c := *tr
	for f := range NFREQ {
		c.win[f] = tr.win[f].Clone()
	}
	c.fit = nil
	return &c
}

// Update appends the single-differenced observations of the epoch and
// recomputes the combination registers. Absent observations become zero samples.
func (tr *SatTracker) Update(t GTime, rov, base *ObsS, lam [NFREQ]float64, opt *RtkOpt) {
	tr.Time = t
	tr.Lam = lam
	tr.Slip = [NFREQ]byte{}
	tr.Jump = [NFREQ]float64{}
	tr.Reset = [NFREQ]bool{}
	tr.predOK = [NFREQ]bool{}

	for f := range tr.nf {
		s := Sample{Time: t}
		if rov != nil && base != nil {
			if rov.Cp[f] != 0 && base.Cp[f] != 0 {
				s.Cp = rov.Cp[f] - base.Cp[f]
			}
			if rov.Pr[f] != 0 && base.Pr[f] != 0 {
				s.Pr = rov.Pr[f] - base.Pr[f]
			}
			if rov.Dp[f] != 0 && base.Dp[f] != 0 {
				s.Dp = rov.Dp[f] - base.Dp[f]
			}
			s.LLI = rov.LLI[f] | base.LLI[f]
		}
		tr.win[f].Append(s)
		tr.Unsolved[f] = !s.Valid() || lam[f] <= 0
		if !tr.Unsolved[f] {
			tr.LastSeen = t
		}
	}

	cur := func(f int) *Sample { return tr.win[f].At(0) }
	for p, fp := range gfPairs {
		if fp[1] >= tr.nf {
			continue
		}
		if gf := GeometryFree(cur(fp[0]).Cp, cur(fp[1]).Cp, lam[fp[0]], lam[fp[1]]); gf != 0 {
			tr.GF[p].Push(t, gf)
		}
	}
	if tr.nf >= 2 {
		s0, s1 := cur(0), cur(1)
		if v := IonoFree(s0.Cp*lam[0], s1.Cp*lam[1], lam[0], lam[1]); v != 0 {
			tr.IFCp.Push(t, v)
		}
		if v := IonoFree(s0.Pr, s1.Pr, lam[0], lam[1]); v != 0 {
			tr.IFPr.Push(t, v)
		}
		if v := MelbourneWubbena(s0.Cp, s1.Cp, s0.Pr, s1.Pr, lam[0], lam[1]); v != 0 {
			tr.MW.Push(t, v)
		}
	}
}

// Process runs the per-epoch sequence update, detection, repair and ambiguity update
func (tr *SatTracker) Process(t GTime, rov, base *ObsS, lam [NFREQ]float64, opt *RtkOpt) {
	tr.Update(t, rov, base, lam, opt)
	if tr.DetectSlip(opt) {
		tr.RepairSlip(opt)
	}
	tr.UpdateAmbiguity(opt)
}

// Sample returns the newest sample of frequency f
func (tr *SatTracker) Sample(f int) *Sample {
	return tr.win[f].At(0)
}

// Window returns the observation history of frequency f
func (tr *SatTracker) Window(f int) *Window {
	return tr.win[f]
}

// fresh reports whether the register was updated at the current epoch
func (tr *SatTracker) fresh(r *Register) bool {
	return r.Curr != 0 && r.CurrTime == tr.Time
}

// NumFreq returns the number of tracked frequencies
func (tr *SatTracker) NumFreq() int {
	return tr.nf
}

// IFJump returns the jump of the ionosphere-free ambiguity caused by the repaired slips [m]
func (tr *SatTracker) IFJump() float64 {
	if tr.nf < 2 {
		return 0
	}
	return ionoFreeLin(tr.Jump[0]*tr.Lam[0], tr.Jump[1]*tr.Lam[1], tr.Lam[0], tr.Lam[1])
}
