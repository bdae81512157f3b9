// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.19
//

package rtkamb

import "fmt"

// Fix state of an ambiguity
type FixState int

const (
	FixUninit    FixState = iota // Not fixed
	FixThisEpoch                 // Fixed at this epoch for the first time
	FixCarried                   // Fixed at this and the previous epoch
	FixHeld                      // Constrained to the fixed value (fix-and-hold)
)

func (s FixState) String() string {
	return enumString([]string{"uninit", "fixed", "carried", "held"}, int(s))
}

// Ambiguity of one signal, estimated from phase minus code.
// Units are cycles, or meters for the ionosphere-free ambiguity.
type Ambiguity struct {
	Init      bool     // Initialized
	Value     float64  // Float value
	Var       float64  // Variance
	LockTime  float64  // Continuous lock time [s]
	LockCount int      // Continuous lock epochs
	NumAvg    int      // Estimates in the running mean, kept across repaired slips
	FirstLock GTime    // Time of the last initialization
	Time      GTime    // Time of the last update
	State     FixState // Fix state
}

// Reset initializes the ambiguity at time t. Calling it again with the same
// arguments leaves the ambiguity unchanged.
func (a *Ambiguity) Reset(t GTime, value, variance float64) {
	*a = Ambiguity{
		Init:      true,
		Value:     value,
		Var:       variance,
		NumAvg:    1,
		FirstLock: t,
		Time:      t,
		State:     FixUninit,
	}
}

// Clear makes the ambiguity uninitialized
func (a *Ambiguity) Clear() {
	*a = Ambiguity{}
}

// Unlock restarts the lock counters, keeping the value and its running mean
func (a *Ambiguity) Unlock() {
	a.LockTime = 0
	a.LockCount = 0
	a.State = FixUninit
}

// advance counts one more epoch of continuous lock at time t
func (a *Ambiguity) advance(t GTime) {
	if a.LockCount > 0 {
		a.LockTime += t.Sub(a.Time)
	}
	a.LockCount++
	a.Time = t
}

// fold adds a new estimate to the running mean.
// varEst is the variance of one estimate and q the random walk variance since the last update.
func (a *Ambiguity) fold(t GTime, est, varEst, q float64) {
	a.advance(t)
	a.NumAvg++
	n := float64(a.NumAvg)
	a.Value += (est - a.Value) / n
	a.Var = varEst/n + q
}

func (a *Ambiguity) String() string {
	return fmt.Sprintf("%.3f (%.3f) lock=%d/%.0fs %s", a.Value, a.Var, a.LockCount, a.LockTime, a.State)
}

// UpdateAmbiguity resets or advances the ambiguities of the tracker.
// An ambiguity is reset when it is new, after an unrepaired slip, after a gap
// longer than MaxGap, in instantaneous mode, or when older than AmbResetTime.
func (tr *SatTracker) UpdateAmbiguity(opt *RtkOpt) {
	if opt.IonoFree {
		tr.updateIFAmbiguity(opt)
	} else {
		for f := range tr.nf {
			if tr.Unsolved[f] || tr.Lam[f] <= 0 {
				continue
			}
			lam := tr.Lam[f]
			est := tr.phaseCodeAmb(f)
			a := &tr.Amb[f]
			if reason := tr.resetReason(a, tr.Slip[f], opt); reason != "" {
				PrintD(3, "\tamb reset: %s(L%d), reason=%s\n", tr.Sat, f+1, reason)
				a.Reset(tr.Time, est, SQ(opt.AmbInitStd/lam))
				a.advance(tr.Time)
				tr.Reset[f] = true
				continue
			}
			dt := tr.Time.Sub(a.Time)
			a.fold(tr.Time, est, 2*SQ(opt.StdPr/lam), SQ(opt.ProcNoiseAmb/lam)*dt)
		}
	}
	tr.updateWL(opt)
}

// resetReason returns why the ambiguity must be reinitialized, or ""
func (tr *SatTracker) resetReason(a *Ambiguity, slip byte, opt *RtkOpt) string {
	switch {
	case !a.Init:
		return "init"
	case slip&SlipUnrepaired != 0:
		return "slip"
	case tr.Time.Sub(a.Time) > opt.MaxGap:
		return "gap"
	case opt.ModeAR == ARInstantaneous:
		return "instantaneous"
	case opt.AmbResetTime > 0 && tr.Time.Sub(a.FirstLock) > opt.AmbResetTime:
		return "age"
	}
	return ""
}

// phaseCodeAmb estimates the ambiguity of frequency f from the
// ionosphere-corrected phase minus code [cycle]
func (tr *SatTracker) phaseCodeAmb(f int) float64 {
	s := tr.win[f].At(0)
	lam := tr.Lam[f]
	iono := 0.0
	if tr.nf >= 2 && !tr.Unsolved[0] && !tr.Unsolved[1] {
		i1 := IonoDelay(tr.win[0].At(0).Pr, tr.win[1].At(0).Pr, tr.Lam[0], tr.Lam[1])
		iono = i1 * SQ(lam/tr.Lam[0])
	}
	return s.Cp - (s.Pr-2*iono)/lam
}

// The ionosphere-free ambiguity is kept in Amb[0] in meters
func (tr *SatTracker) updateIFAmbiguity(opt *RtkOpt) {
	if tr.nf < 2 || tr.Unsolved[0] || tr.Unsolved[1] || !tr.fresh(&tr.IFCp) || !tr.fresh(&tr.IFPr) {
		return
	}
	est := tr.IFCp.Curr - tr.IFPr.Curr
	a := &tr.Amb[0]
	if reason := tr.resetReason(a, tr.Slip[0]|tr.Slip[1], opt); reason != "" {
		PrintD(3, "\tamb reset: %s(IF), reason=%s\n", tr.Sat, reason)
		a.Reset(tr.Time, est, SQ(opt.AmbInitStd))
		a.advance(tr.Time)
		tr.Reset[0], tr.Reset[1] = true, true
		return
	}
	dt := tr.Time.Sub(a.Time)
	k := IonoFreeVarFactor(tr.Lam[0], tr.Lam[1])
	a.fold(tr.Time, est, 2*SQ(opt.StdPr)*k, SQ(opt.ProcNoiseAmb)*dt)
	tr.Amb[1].LockCount, tr.Amb[1].LockTime = a.LockCount, a.LockTime
}

// updateWL advances the wide-lane running average
func (tr *SatTracker) updateWL(opt *RtkOpt) {
	if tr.nf < 2 || tr.Unsolved[0] || tr.Unsolved[1] || !tr.fresh(&tr.MW) {
		return
	}
	if tr.wl.N > 0 && tr.MW.Dt() > opt.MaxGap {
		tr.wl.Reset()
	}
	tr.wl.Add(tr.MW.Curr)
}

// WideLane returns the averaged wide-lane ambiguity [cycle] and the number of averaged epochs
func (tr *SatTracker) WideLane() (float64, int) {
	return tr.wl.Mean, tr.wl.N
}
