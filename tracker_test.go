// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.19
//

package rtkamb

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tStart = GTime{Week: 2400, Sec: 3600}

func newTestTracker(opt *RtkOpt) *SatTracker {
	fit := NewAdjuster(StratLeastSquares, opt, opt.PolyOrder+1, 2*opt.PolyOrder)
	return NewSatTracker("G05", opt, fit)
}

// Single frequency track with a quadratic phase, constant base observations
type track1 struct {
	lam     float64
	phi0    float64
	a, b    float64         // Phase rate [cycle/s], half acceleration [cycle/s^2]
	jump    map[int]float64 // Slip cycles added from the epoch on
	lli     map[int]byte
	noise   map[int]float64 // Rover code noise [m]
	base    ObsS
	sumJump float64
}

func newTrack1() *track1 {
	tk := &track1{lam: 0.19029367, phi0: 1000, a: -300, b: 0.5, jump: map[int]float64{}, lli: map[int]byte{}, noise: map[int]float64{}}
	tk.base.Cp[0], tk.base.Pr[0], tk.base.Dp[0] = 100, 2e7, 1.0
	return tk
}

// process feeds epoch k to the tracker
func (tk *track1) process(tr *SatTracker, opt *RtkOpt, k int) {
	tt, rov, base, lam := tk.epoch(k)
	tr.Process(tt, rov, base, lam, opt)
}

func (tk *track1) epoch(k int) (GTime, *ObsS, *ObsS, [NFREQ]float64) {
	tt := float64(k)
	tk.sumJump += tk.jump[k]
	rov := &ObsS{}
	phi := tk.phi0 + tk.a*tt + tk.b*tt*tt
	rov.Cp[0] = tk.base.Cp[0] + phi + tk.sumJump
	rov.Pr[0] = tk.base.Pr[0] + phi*tk.lam + tk.noise[k]
	rov.Dp[0] = -(tk.a + 2*tk.b*tt) + tk.base.Dp[0]
	rov.LLI[0] = tk.lli[k]
	base := tk.base
	return tStart.Add(tt), rov, &base, [NFREQ]float64{tk.lam}
}

func singleFreqOpt() *RtkOpt {
	opt := NewRtkOpt()
	opt.NumFreq = 1
	return opt
}

func TestAmbiguityResetIdempotent(t *testing.T) {
	var a, b Ambiguity
	a.Reset(tStart, 12.5, 0.3)
	b = a
	a.Reset(tStart, 12.5, 0.3)
	assert.Equal(t, b, a)
	assert.True(t, a.Init)
	assert.Equal(t, FixUninit, a.State)
	assert.Zero(t, a.LockCount)
	assert.Equal(t, 1, a.NumAvg)

	a.advance(tStart.Add(1))
	a.fold(tStart.Add(2), 14.5, 0.2, 0)
	assert.Equal(t, 13.5, a.Value)
	a.Unlock()
	assert.Zero(t, a.LockCount)
	assert.Equal(t, 2, a.NumAvg)
	assert.Equal(t, 13.5, a.Value)

	a.Clear()
	assert.False(t, a.Init)
	assert.Zero(t, a.NumAvg)
}

func TestTrackerNoSlip(t *testing.T) {
	opt := singleFreqOpt()
	tr := newTestTracker(opt)
	tk := newTrack1()
	for k := range 10 {
		tk.process(tr, opt, k)
		assert.Zero(t, tr.Slip[0], "epoch %d", k)
		assert.Equal(t, k == 0, tr.Reset[0], "epoch %d", k)
	}
	assert.Equal(t, 10, tr.Amb[0].LockCount)
	assert.InDelta(t, 9.0, tr.Amb[0].LockTime, 1e-9)
	assert.Equal(t, tStart.Add(9), tr.LastSeen)
}

func TestTrackerSlipRepaired(t *testing.T) {
	opt := singleFreqOpt()
	tr := newTestTracker(opt)
	tk := newTrack1()
	tk.jump[5] = 1

	var ambBefore float64
	for k := range 10 {
		if k == 5 {
			ambBefore = tr.Amb[0].Value
		}
		tk.process(tr, opt, k)
		if k == 5 {
			assert.NotZero(t, tr.Slip[0]&SlipPoly)
			assert.Zero(t, tr.Slip[0]&SlipUnrepaired)
			assert.Equal(t, 1.0, tr.Jump[0])
			assert.False(t, tr.Reset[0])
			assert.Equal(t, 1, tr.Amb[0].LockCount)
			// History shifted onto the new phase level
			assert.InDelta(t, tr.Sample(0).Cp-tr.Window(0).At(1).Cp, tk.a+tk.b*(2*5-1), 1e-6)
		} else {
			assert.Zero(t, tr.Slip[0], "epoch %d", k)
			assert.Zero(t, tr.Jump[0], "epoch %d", k)
		}
	}
	assert.InDelta(t, ambBefore+1, tr.Amb[0].Value, 1e-6)
	assert.Equal(t, 5, tr.Amb[0].LockCount)
}

func TestTrackerSlipRepairedKeepsMean(t *testing.T) {
	opt := singleFreqOpt()
	tr := newTestTracker(opt)
	tk := newTrack1()
	r := rand.New(rand.NewSource(3))
	for k := range 25 {
		tk.noise[k] = 0.5 * r.NormFloat64()
	}
	tk.jump[20] = 1

	for k := range 20 {
		tk.process(tr, opt, k)
		require.Zero(t, tr.Slip[0], "epoch %d", k)
	}
	before := tr.Amb[0]
	require.Equal(t, 20, before.NumAvg)

	tk.process(tr, opt, 20)
	require.NotZero(t, tr.Slip[0]&SlipPoly)
	require.Equal(t, 1.0, tr.Jump[0])
	a := tr.Amb[0]
	assert.False(t, tr.Reset[0])
	assert.Equal(t, 1, a.LockCount)
	assert.Equal(t, 21, a.NumAvg)

	// Running mean carried onto the new phase level
	mean := before.Value + 1
	assert.InDelta(t, mean+(tr.phaseCodeAmb(0)-mean)/21, a.Value, 1e-9)
	assert.Less(t, a.Var, before.Var)
	assert.InEpsilon(t, before.Var, a.Var, 0.1)

	for k := 21; k < 25; k++ {
		tk.process(tr, opt, k)
		assert.Zero(t, tr.Slip[0], "epoch %d", k)
	}
	assert.Equal(t, 25, tr.Amb[0].NumAvg)
	assert.Equal(t, 5, tr.Amb[0].LockCount)
}

func TestTrackerSlipUnrepaired(t *testing.T) {
	opt := singleFreqOpt()
	opt.RepairSlip = false
	tr := newTestTracker(opt)
	tk := newTrack1()
	tk.jump[4] = 7

	for k := range 8 {
		tk.process(tr, opt, k)
		if k == 4 {
			assert.NotZero(t, tr.Slip[0]&SlipPoly)
			assert.NotZero(t, tr.Slip[0]&SlipUnrepaired)
			assert.True(t, tr.Reset[0])
			assert.Equal(t, 1, tr.Window(0).Len())
			assert.Equal(t, 1, tr.Amb[0].LockCount)
		} else {
			assert.Zero(t, tr.Slip[0], "epoch %d", k)
		}
	}
	assert.Equal(t, 4, tr.Amb[0].LockCount)
}

func TestTrackerLLI(t *testing.T) {
	opt := singleFreqOpt()
	tr := newTestTracker(opt)
	tk := newTrack1()
	tk.lli[3] = 1

	for k := range 6 {
		tk.process(tr, opt, k)
		if k == 3 {
			assert.Equal(t, SlipLLI, tr.Slip[0])
			assert.Zero(t, tr.Jump[0])
			assert.False(t, tr.Reset[0])
			assert.Equal(t, 1, tr.Amb[0].LockCount)
			assert.Equal(t, SlipLLI, tr.Sample(0).Slip)
		} else {
			assert.Zero(t, tr.Slip[0], "epoch %d", k)
		}
	}
}

func TestTrackerLLIHalfCycle(t *testing.T) {
	opt := singleFreqOpt()
	tr := newTestTracker(opt)
	tk := newTrack1()
	for k := 3; k < 6; k++ {
		tk.lli[k] = 2
	}

	// Only the change of the half-cycle bit is a slip
	for k := range 6 {
		tk.process(tr, opt, k)
		if k == 3 {
			assert.Equal(t, SlipLLI, tr.Slip[0])
			assert.Equal(t, byte(2), tr.Sample(0).LLI)
		} else {
			assert.Zero(t, tr.Slip[0], "epoch %d", k)
		}
	}
}

func TestTrackerAgeReset(t *testing.T) {
	opt := singleFreqOpt()
	opt.AmbResetTime = 3.5
	tr := newTestTracker(opt)
	tk := newTrack1()
	for k := range 10 {
		tk.process(tr, opt, k)
		assert.Zero(t, tr.Slip[0], "epoch %d", k)
		assert.Equal(t, k%4 == 0, tr.Reset[0], "epoch %d", k)
	}
	assert.Equal(t, tStart.Add(8), tr.Amb[0].FirstLock)
	assert.Equal(t, 2, tr.Amb[0].LockCount)
	assert.Equal(t, 2, tr.Amb[0].NumAvg)

	// Disabled
	opt.AmbResetTime = 0
	tr = newTestTracker(opt)
	tk = newTrack1()
	for k := range 10 {
		tk.process(tr, opt, k)
		assert.Equal(t, k == 0, tr.Reset[0], "epoch %d", k)
	}
}

func TestTrackerGapReset(t *testing.T) {
	opt := singleFreqOpt()
	tr := newTestTracker(opt)
	tk := newTrack1()
	for k := range 5 {
		tk.process(tr, opt, k)
	}
	require.Equal(t, 5, tr.Amb[0].LockCount)

	tk.process(tr, opt, 40)
	assert.Zero(t, tr.Slip[0])
	assert.True(t, tr.Reset[0])
	assert.Equal(t, 1, tr.Amb[0].LockCount)
	assert.Equal(t, tStart.Add(40), tr.Amb[0].FirstLock)
}

func TestTrackerMissingObservation(t *testing.T) {
	opt := singleFreqOpt()
	tr := newTestTracker(opt)
	tk := newTrack1()
	for k := range 4 {
		tk.process(tr, opt, k)
	}
	tt, rov, base, lam := tk.epoch(4)
	rov.Cp[0] = 0
	tr.Process(tt, rov, base, lam, opt)
	assert.True(t, tr.Unsolved[0])
	assert.Zero(t, tr.Slip[0])
	assert.Equal(t, tStart.Add(3), tr.LastSeen)
	assert.Equal(t, 4, tr.Amb[0].LockCount)

	// Recovers on the next epoch across the gap
	tk.process(tr, opt, 5)
	assert.False(t, tr.Unsolved[0])
	assert.Zero(t, tr.Slip[0])
	assert.Equal(t, 5, tr.Amb[0].LockCount)
}

// Dual frequency track: constant range rate, no ionosphere
func dualEpoch(tr *SatTracker, opt *RtkOpt, k int, slip [2]float64) {
	lam := [NFREQ]float64{0.19029367, 0.24421021}
	amb := [2]float64{10, 3}
	tt := float64(k)
	r := 150.0 + 25.0*tt
	rov, base := &ObsS{}, &ObsS{}
	for f := range 2 {
		base.Cp[f], base.Pr[f], base.Dp[f] = 500, 2.1e7, 2
		rov.Cp[f] = base.Cp[f] + r/lam[f] + amb[f] + slip[f]
		rov.Pr[f] = base.Pr[f] + r
		rov.Dp[f] = base.Dp[f] - 25.0/lam[f]
	}
	tr.Process(tStart.Add(tt), rov, base, lam, opt)
}

func TestTrackerGFMW(t *testing.T) {
	opt := NewRtkOpt()
	tr := newTestTracker(opt)
	for k := range 6 {
		dualEpoch(tr, opt, k, [2]float64{})
		assert.Zero(t, tr.Slip[0]|tr.Slip[1], "epoch %d", k)
	}
	wl, n := tr.WideLane()
	assert.InDelta(t, 7.0, wl, 1e-6)
	assert.Equal(t, 6, n)

	dualEpoch(tr, opt, 6, [2]float64{3, 0})
	assert.Equal(t, SlipPoly|SlipGF|SlipMW, tr.Slip[0])
	assert.Equal(t, SlipGF|SlipMW, tr.Slip[1])
	assert.Equal(t, 3.0, tr.Jump[0])
	assert.Zero(t, tr.Jump[1])
	assert.False(t, tr.Reset[0] || tr.Reset[1])

	// Wide-lane average follows the repaired jump
	wl, _ = tr.WideLane()
	assert.InDelta(t, 10.0, wl, 1e-6)

	dualEpoch(tr, opt, 7, [2]float64{3, 0})
	assert.Zero(t, tr.Slip[0]|tr.Slip[1])
}

func TestTrackerGFSkippedAfterGap(t *testing.T) {
	opt := NewRtkOpt()
	opt.MaxIonoGap = 0.5
	tr := newTestTracker(opt)
	for k := range 6 {
		dualEpoch(tr, opt, k, [2]float64{})
		assert.Zero(t, tr.Slip[0]|tr.Slip[1], "epoch %d", k)
	}

	// One second between epochs is beyond the geometry-free limit
	dualEpoch(tr, opt, 6, [2]float64{3, 0})
	assert.Equal(t, SlipPoly|SlipMW, tr.Slip[0])
	assert.Equal(t, SlipMW, tr.Slip[1])
	assert.Zero(t, (tr.Slip[0]|tr.Slip[1])&SlipGF)
	assert.Equal(t, 3.0, tr.Jump[0])
	assert.Zero(t, tr.Jump[1])
	assert.False(t, tr.Reset[0] || tr.Reset[1])
}

func TestTrackerIFJump(t *testing.T) {
	opt := NewRtkOpt()
	tr := newTestTracker(opt)
	tr.Lam = [NFREQ]float64{0.19029367, 0.24421021}
	tr.Jump = [NFREQ]float64{1, 1}
	want := IonoFree(tr.Lam[0], tr.Lam[1], tr.Lam[0], tr.Lam[1])
	assert.InDelta(t, want, tr.IFJump(), 1e-12)

	tr.nf = 1
	assert.Zero(t, tr.IFJump())
}
