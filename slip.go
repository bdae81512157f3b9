// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.19
//

package rtkamb

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DetectSlip runs the detectors on the newest samples in the order
// loss-of-lock indicator, polynomial fit, geometry-free and wide-lane.
// It returns true when any frequency is flagged.
func (tr *SatTracker) DetectSlip(opt *RtkOpt) bool {
	for f := range tr.nf {
		if tr.Unsolved[f] {
			continue
		}
		if tr.detectLLI(f) {
			tr.Slip[f] |= SlipLLI
		}
		if d, sig, ok := tr.polyResidual(f, opt); ok {
			tr.pred[f], tr.predOK[f] = d, true
			if math.Abs(d) > 3*sig {
				PrintD(3, "\tslip detected by poly, sat=%s, f=%d, res=%.3f > %.3f\n", tr.Sat, f, d, 3*sig)
				tr.Slip[f] |= SlipPoly
			}
		}
	}
	tr.detectGF(opt)
	tr.detectMW(opt)

	found := false
	for f := range tr.nf {
		if tr.Slip[f] == 0 {
			continue
		}
		found = true
		tr.win[f].At(0).Slip |= tr.Slip[f]
		tr.Amb[f].Unlock()
		if opt.IonoFree && f < 2 {
			tr.Amb[0].Unlock()
			tr.Amb[1].Unlock()
		}
	}
	return found
}

// detectLLI checks LLI bit0 (slip) and a change of LLI bit1 (half-cycle ambiguity)
func (tr *SatTracker) detectLLI(f int) bool {
	s := tr.win[f].At(0)
	if s.LLI&1 == 1 {
		PrintD(3, "\tslip detected by LLI, sat=%s, f=%d, LLI=%d\n", tr.Sat, f, s.LLI)
		return true
	}
	if prev := tr.lastValid(f); prev != nil && prev.LLI&2 != s.LLI&2 {
		PrintD(3, "\tslip detected by LLI change, sat=%s, f=%d, prevLLI=%d, currLLI=%d\n", tr.Sat, f, prev.LLI, s.LLI)
		return true
	}
	return false
}

// lastValid returns the newest sample before the current one with phase and code
func (tr *SatTracker) lastValid(f int) *Sample {
	w := tr.win[f]
	for age := 1; age < w.Len(); age++ {
		if s := w.At(age); s.Valid() {
			return s
		}
	}
	return nil
}

// polyResidual fits a polynomial of degree PolyOrder to the previous phases and
// Dopplers (phase rate = -Doppler) and returns the departure of the newest phase
// from the prediction and its standard deviation [cycle]
func (tr *SatTracker) polyResidual(f int, opt *RtkOpt) (float64, float64, bool) {
	w := tr.win[f]
	cur := w.At(0)
	prev := tr.lastValid(f)
	if prev == nil || tr.fit == nil {
		return 0, 0, false
	}
	np := opt.PolyOrder + 1

	type row struct {
		tau  float64
		v    float64
		rate bool
	}
	rows := []row{}
	nphase := 0
	for age := 1; age < w.Len(); age++ {
		s := w.At(age)
		tau := s.Time.Sub(cur.Time)
		if -tau > opt.MaxGap {
			continue
		}
		if s.Cp != 0 {
			rows = append(rows, row{tau: tau, v: s.Cp - prev.Cp})
			nphase++
		}
		if s.Dp != 0 {
			rows = append(rows, row{tau: tau, v: -s.Dp, rate: true})
		}
	}
	m := len(rows)
	if nphase == 0 || m < np {
		return 0, 0, false
	}

	A := mat.NewDense(np, m, nil)
	L := mat.NewVecDense(m, nil)
	R := mat.NewDense(m, m, nil)
	for j, r := range rows {
		for k := range np {
			if r.rate {
				if k > 0 {
					A.Set(k, j, float64(k)*math.Pow(r.tau, float64(k-1)))
				}
			} else {
				A.Set(k, j, math.Pow(r.tau, float64(k)))
			}
		}
		L.SetVec(j, r.v)
		if r.rate {
			R.Set(j, j, SQ(opt.DopplerNoise))
		} else {
			R.Set(j, j, SQ(opt.PhaseNoise))
		}
	}
	X := mat.NewVecDense(np, nil)
	Rx := mat.NewDense(np, np, nil)
	if _, err := tr.fit.Adjust(&Problem{A: A, L: L, R: R}, X, Rx); err != nil {
		PrintD(4, "\tpoly fit failed, sat=%s, f=%d: %s\n", tr.Sat, f, err.Error())
		return 0, 0, false
	}
	pred := X.AtVec(0) + prev.Cp
	sig := math.Sqrt(Rx.At(0, 0) + SQ(opt.PhaseNoise))
	return cur.Cp - pred, sig, true
}

// detectGF flags both frequencies of a pair when the geometry-free change
// exceeds the ionospheric drift bound plus 3 sigma
func (tr *SatTracker) detectGF(opt *RtkOpt) {
	for p, fp := range gfPairs {
		if fp[1] >= tr.nf || tr.Unsolved[fp[0]] || tr.Unsolved[fp[1]] {
			continue
		}
		r := &tr.GF[p]
		if !tr.fresh(r) || !r.Valid() {
			continue
		}
		dt := r.Dt()
		if dt > opt.MaxIonoGap {
			PrintD(4, "\tgf test skipped, sat=%s, dt=%.1f > %.1f\n", tr.Sat, dt, opt.MaxIonoGap)
			continue
		}
		thres := opt.IonoDrift*dt + 3*opt.GFNoise
		if math.Abs(r.Delta()) > thres {
			PrintD(3, "\tslip detected by gf, sat=%s, f=%d/%d, gf=%.3f->%.3f (thres=%.3f)\n", tr.Sat, fp[0], fp[1], r.Prev, r.Curr, thres)
			tr.Slip[fp[0]] |= SlipGF
			tr.Slip[fp[1]] |= SlipGF
		}
	}
}

// detectMW flags the first two frequencies when the Melbourne-Wubbena
// combination departs from its running average
func (tr *SatTracker) detectMW(opt *RtkOpt) {
	if tr.nf < 2 || tr.Unsolved[0] || tr.Unsolved[1] || !tr.fresh(&tr.MW) {
		return
	}
	n := tr.wl.N
	if n < opt.MinWLCount || n < 1 {
		return
	}
	thres := opt.WLSlipFactor * opt.MWNoise * math.Sqrt(1+1/float64(n))
	if d := tr.MW.Curr - tr.wl.Mean; math.Abs(d) > thres {
		PrintD(3, "\tslip detected by mw, sat=%s, mw=%.3f, mean=%.3f (thres=%.3f)\n", tr.Sat, tr.MW.Curr, tr.wl.Mean, thres)
		tr.Slip[0] |= SlipMW
		tr.Slip[1] |= SlipMW
	}
}

// RepairSlip estimates the jump of each flagged frequency from the polynomial
// and the geometry-free estimators, averaging when both succeed. The history and
// the ambiguity are shifted by the rounded jump. Frequencies without an estimate
// are marked SlipUnrepaired.
func (tr *SatTracker) RepairSlip(opt *RtkOpt) {
	for f := range tr.nf {
		if tr.Slip[f] == 0 || tr.Unsolved[f] {
			continue
		}
		est := []float64{}
		if tr.predOK[f] {
			est = append(est, tr.pred[f])
		}
		if j, ok := tr.gfJump(f, opt); ok {
			est = append(est, j)
		}
		jump, ok := 0.0, false
		if opt.RepairSlip && len(est) > 0 {
			mean := floats.Sum(est) / float64(len(est))
			jump = math.Round(mean)
			ok = math.Abs(mean-jump) <= opt.SlipRepairTol
		}
		if !ok {
			PrintD(3, "\tslip not repaired, sat=%s, f=%d, est=%v\n", tr.Sat, f, est)
			tr.Slip[f] |= SlipUnrepaired
			tr.win[f].At(0).Slip |= SlipUnrepaired
			tr.win[f].Truncate()
			continue
		}
		PrintD(3, "\tslip repaired, sat=%s, f=%d, jump=%.0f, est=%v\n", tr.Sat, f, jump, est)
		tr.Jump[f] = jump
		if jump != 0 {
			tr.win[f].Shift(jump)
			if !opt.IonoFree {
				tr.Amb[f].Value += jump
			}
		}
	}
	if opt.IonoFree {
		if d := tr.IFJump(); d != 0 && tr.Slip[0]&SlipUnrepaired == 0 && tr.Slip[1]&SlipUnrepaired == 0 {
			tr.Amb[0].Value += d
		}
	}
	if tr.nf >= 2 && (tr.Slip[0] != 0 || tr.Slip[1] != 0) {
		if (tr.Slip[0]|tr.Slip[1])&SlipUnrepaired != 0 {
			tr.wl.Reset()
		} else {
			tr.wl.Shift(tr.Jump[0] - tr.Jump[1])
		}
	}
}

// gfJump estimates the jump of frequency f from the geometry-free change of a
// pair whose other frequency passed the polynomial test
func (tr *SatTracker) gfJump(f int, opt *RtkOpt) (float64, bool) {
	for p, fp := range gfPairs {
		if fp[1] >= tr.nf || (f != fp[0] && f != fp[1]) {
			continue
		}
		o := fp[1]
		if f == fp[1] {
			o = fp[0]
		}
		r := &tr.GF[p]
		if tr.Unsolved[o] || !tr.fresh(r) || !r.Valid() || r.Dt() > opt.MaxIonoGap {
			continue
		}
		if !tr.predOK[o] || tr.Slip[o]&(SlipLLI|SlipPoly) != 0 {
			continue
		}
		if f == fp[0] {
			return r.Delta() / tr.Lam[f], true
		}
		return -r.Delta() / tr.Lam[f], true
	}
	return 0, false
}
