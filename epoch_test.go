// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.19
//

package rtkamb

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScenarioOpt(epochs int) *ScenarioOpt {
	sopt := NewScenarioOpt()
	sopt.Epochs = epochs
	sopt.StdPr = 0.1
	sopt.ApproxStd = 0.5
	return sopt
}

// runScenario processes all epochs of the scenario and returns the solutions
// with the distance of each solution from the true rover position
func runScenario(t *testing.T, opt *RtkOpt, sopt *ScenarioOpt, met *Metrics) ([]*Solution, []float64) {
	sc, err := NewScenario(sopt)
	require.NoError(t, err)
	eng, err := NewEngine(opt, met)
	require.NoError(t, err)

	sols, errs := []*Solution{}, []float64{}
	for {
		in, ok := sc.Next()
		if !ok {
			break
		}
		sol := eng.ProcessEpoch(in)
		require.NotNil(t, sol)
		sols = append(sols, sol)
		errs = append(errs, sol.Pos.Dist(sc.TruePos(in.Time)))
	}
	return sols, errs
}

func staticOpt() *RtkOpt {
	opt := NewRtkOpt()
	opt.PosMode = PosStatic
	return opt
}

func TestEngineStaticFix(t *testing.T) {
	sols, errs := runScenario(t, staticOpt(), testScenarioOpt(40), nil)
	require.Len(t, sols, 40)

	nfix := 0
	for i, sol := range sols {
		require.NoError(t, sol.Err, "epoch %d", i)
		assert.GreaterOrEqual(t, int(sol.Status), int(StatusFloat), "epoch %d", i)
		assert.Equal(t, 14, sol.NumSats)
		assert.Len(t, sol.Amb, 28)
		if sol.Status >= StatusFix {
			nfix++
			assert.Less(t, errs[i], 0.05, "epoch %d", i)
			assert.GreaterOrEqual(t, sol.Ratio, 3.0)
			assert.Len(t, sol.Fixed, len(sol.Pairs))
			for _, v := range sol.Fixed {
				assert.Equal(t, math.Round(v), v)
			}
		}
	}
	assert.Greater(t, nfix, 0)
	assert.Equal(t, StatusFix, sols[len(sols)-1].Status)
	assert.Less(t, errs[len(errs)-1], 0.05)
}

func TestEngineFixAndHold(t *testing.T) {
	opt := staticOpt()
	opt.ModeAR = ARFixAndHold
	opt.MinFixToHold = 3
	sols, errs := runScenario(t, opt, testScenarioOpt(40), nil)

	held := 0
	for i, sol := range sols {
		if sol.Status == StatusHold {
			held++
			assert.Less(t, errs[i], 0.05, "epoch %d", i)
			for _, a := range sol.Amb {
				assert.Contains(t, []FixState{FixUninit, FixHeld}, a.State)
			}
		}
	}
	assert.Greater(t, held, 0)
}

func TestEngineFloatOnly(t *testing.T) {
	for _, strat := range []Strategy{StratLeastSquares, StratKalman, StratKalmanHelmert} {
		t.Run(strat.String(), func(t *testing.T) {
			opt := staticOpt()
			opt.ModeAR = AROff
			opt.Strategy = strat
			sols, errs := runScenario(t, opt, testScenarioOpt(30), nil)
			for i, sol := range sols {
				require.Equal(t, StatusFloat, sol.Status, "epoch %d: %v", i, sol.Err)
				assert.Zero(t, sol.Ratio)
				assert.NotNil(t, sol.Stats)
				assert.NotNil(t, sol.PosCov)
			}
			assert.Less(t, errs[len(errs)-1], 0.5)

			if strat == StratKalmanHelmert {
				// Helmert must actually run, not silently fall back to Kalman
				nh := 0
				for i, sol := range sols {
					if sol.Stats.Fallback {
						assert.Equal(t, StratKalman, sol.Stats.Strategy, "epoch %d", i)
						continue
					}
					nh++
					assert.Equal(t, StratKalmanHelmert, sol.Stats.Strategy, "epoch %d", i)
					assert.NotEmpty(t, sol.Stats.Scale, "epoch %d", i)
					assert.GreaterOrEqual(t, sol.Stats.Iter, 1, "epoch %d", i)
				}
				assert.Greater(t, nh, len(sols)/2)
				last := sols[len(sols)-1].Stats
				assert.False(t, last.Fallback)
				assert.Len(t, last.Scale, 2)
			}
		})
	}
}

func TestEngineInstantaneous(t *testing.T) {
	opt := NewRtkOpt()
	opt.ModeAR = ARInstantaneous
	sols, _ := runScenario(t, opt, testScenarioOpt(5), nil)
	for i, sol := range sols {
		assert.GreaterOrEqual(t, int(sol.Status), int(StatusFloat), "epoch %d", i)
		for _, a := range sol.Amb {
			assert.Equal(t, 1, a.Lock)
		}
	}
}

func TestEngineIonoFree(t *testing.T) {
	opt := staticOpt()
	opt.IonoFree = true
	sols, _ := runScenario(t, opt, testScenarioOpt(10), nil)
	for i, sol := range sols {
		require.Equal(t, StatusFloat, sol.Status, "epoch %d: %v", i, sol.Err)
		assert.Len(t, sol.Amb, 14)
		assert.Empty(t, sol.Fixed)
	}
}

func TestEngineSlipRepaired(t *testing.T) {
	sopt := testScenarioOpt(30)
	sopt.Slips = []InjectedSlip{{Epoch: 15, Sat: "G03", F: 0, Cycles: 2}}
	sols, errs := runScenario(t, staticOpt(), sopt, nil)

	for i, sol := range sols {
		if i != 15 {
			for _, sl := range sol.Slips {
				assert.NotEqual(t, SatType("G03"), sl.Sig.Sat, "epoch %d", i)
			}
			continue
		}
		jumps := map[int]float64{}
		for _, sl := range sol.Slips {
			require.Equal(t, SatType("G03"), sl.Sig.Sat)
			assert.Zero(t, sl.Flags&SlipUnrepaired)
			jumps[sl.Sig.F] = sl.Jump
			if sl.Sig.F == 0 {
				assert.NotZero(t, sl.Flags&SlipPoly)
			}
		}
		require.Contains(t, jumps, 0)
		assert.Equal(t, 2.0, jumps[0])
		assert.Zero(t, jumps[1])
	}
	last := sols[len(sols)-1]
	assert.Equal(t, StatusFix, last.Status)
	assert.Less(t, errs[len(errs)-1], 0.05)
}

func TestEngineSlipUnrepaired(t *testing.T) {
	opt := staticOpt()
	opt.RepairSlip = false
	sopt := testScenarioOpt(20)
	sopt.Slips = []InjectedSlip{{Epoch: 10, Sat: "E02", F: 1, Cycles: -5, LLI: true}}

	sc, err := NewScenario(sopt)
	require.NoError(t, err)
	eng, err := NewEngine(opt, nil)
	require.NoError(t, err)
	for k := 0; ; k++ {
		in, ok := sc.Next()
		if !ok {
			break
		}
		sol := eng.ProcessEpoch(in)
		if k != 10 {
			continue
		}
		tr := eng.Tracker("E02")
		require.NotNil(t, tr)
		assert.NotZero(t, tr.Slip[1]&SlipLLI)
		assert.NotZero(t, tr.Slip[1]&SlipUnrepaired)
		assert.True(t, tr.Reset[1])
		// The geometry-free test flags the other frequency as well
		assert.NotZero(t, tr.Slip[0]&SlipGF)
		assert.True(t, tr.Reset[0])
		for _, p := range sol.Pairs {
			assert.False(t, p.S1 == "E02" || p.S2 == "E02", "reset ambiguity used in the fix")
		}
	}
}

func TestEngineNoData(t *testing.T) {
	eng, err := NewEngine(nil, nil)
	require.NoError(t, err)
	sol := eng.ProcessEpoch(nil)
	assert.Equal(t, StatusNone, sol.Status)
	assert.ErrorIs(t, sol.Err, ErrNoData)

	sol = eng.ProcessEpoch(&EpochInput{Time: tStart})
	assert.ErrorIs(t, sol.Err, ErrNoData)
}

func TestEngineInsufficientObs(t *testing.T) {
	sopt := testScenarioOpt(3)
	sopt.NumGPS, sopt.NumGAL = 2, 0
	sols, _ := runScenario(t, NewRtkOpt(), sopt, nil)
	for _, sol := range sols {
		assert.Equal(t, StatusNone, sol.Status)
		assert.True(t, errors.Is(sol.Err, ErrInsufficientObs))
	}
}

func TestEngineInvalidOpt(t *testing.T) {
	opt := NewRtkOpt()
	opt.NumFreq = 0
	_, err := NewEngine(opt, nil)
	assert.Error(t, err)
}

func TestEngineReset(t *testing.T) {
	sc, err := NewScenario(testScenarioOpt(3))
	require.NoError(t, err)
	eng, err := NewEngine(nil, nil)
	require.NoError(t, err)
	in, _ := sc.Next()
	eng.ProcessEpoch(in)
	require.NotNil(t, eng.Tracker("G01"))

	eng.Reset()
	assert.Nil(t, eng.Tracker("G01"))

	// Starts over with new ambiguities
	in, _ = sc.Next()
	sol := eng.ProcessEpoch(in)
	for _, a := range sol.Amb {
		assert.Equal(t, 1, a.Lock)
	}
}

func TestEngineTrackerRemoved(t *testing.T) {
	opt := NewRtkOpt()
	opt.MaxGap = 3
	sc, err := NewScenario(testScenarioOpt(10))
	require.NoError(t, err)
	eng, err := NewEngine(opt, nil)
	require.NoError(t, err)
	for k := 0; ; k++ {
		in, ok := sc.Next()
		if !ok {
			break
		}
		if k >= 5 {
			delete(in.Rover.DatS, "G02")
		}
		eng.ProcessEpoch(in)
		if k == 7 {
			assert.NotNil(t, eng.Tracker("G02"))
		}
	}
	assert.Nil(t, eng.Tracker("G02"))
}

func TestEngineTrackerSnapshot(t *testing.T) {
	sc, err := NewScenario(testScenarioOpt(3))
	require.NoError(t, err)
	eng, err := NewEngine(nil, nil)
	require.NoError(t, err)
	in, _ := sc.Next()
	eng.ProcessEpoch(in)
	snap := eng.Tracker("G01")
	require.NotNil(t, snap)
	t0, cp := snap.Time, snap.Sample(0).Cp

	in, _ = sc.Next()
	eng.ProcessEpoch(in)
	assert.Equal(t, t0, snap.Time)
	assert.Equal(t, cp, snap.Sample(0).Cp)
	assert.Equal(t, 1, snap.Window(0).Len())
	assert.Equal(t, in.Time, eng.Tracker("G01").Time)
	assert.Equal(t, 2, eng.Tracker("G01").Window(0).Len())
}

func TestEngineUnknownSystem(t *testing.T) {
	sols := []*Solution{}
	sc, err := NewScenario(testScenarioOpt(3))
	require.NoError(t, err)
	eng, err := NewEngine(staticOpt(), nil)
	require.NoError(t, err)
	for {
		in, ok := sc.Next()
		if !ok {
			break
		}
		in.Rover.DatS["X05"] = in.Rover.DatS["G05"]
		in.Base.DatS["X05"] = in.Base.DatS["G05"]
		in.SatPos["X05"] = in.SatPos["G05"]
		sols = append(sols, eng.ProcessEpoch(in))
	}
	assert.Nil(t, eng.Tracker("X05"))
	for _, sol := range sols {
		assert.Equal(t, 14, sol.NumSats)
		for _, a := range sol.Amb {
			assert.NotEqual(t, SatType("X05"), a.Sig.Sat)
		}
	}
}

func TestEngineOutlierExcluded(t *testing.T) {
	sc, err := NewScenario(testScenarioOpt(12))
	require.NoError(t, err)
	eng, err := NewEngine(staticOpt(), nil)
	require.NoError(t, err)
	for k := 0; ; k++ {
		in, ok := sc.Next()
		if !ok {
			break
		}
		if k == 10 {
			in.Rover.Get("G03").Pr[0] += 100
			in.Rover.Get("E04").Pr[1] += 100
		}
		sol := eng.ProcessEpoch(in)
		if k == 10 {
			require.NotEmpty(t, sol.Excluded)
			assert.Equal(t, SortedSatF(sol.Excluded), sol.Excluded)
			assert.GreaterOrEqual(t, int(sol.Status), int(StatusFloat))
		}
	}
}

func TestEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := NewMetrics(reg)
	sopt := testScenarioOpt(12)
	sopt.Slips = []InjectedSlip{{Epoch: 6, Sat: "G04", F: 0, Cycles: 0, LLI: true}}
	sols, _ := runScenario(t, staticOpt(), sopt, met)

	total := 0.0
	for _, s := range []Status{StatusNone, StatusFloat, StatusFix, StatusHold} {
		total += testutil.ToFloat64(met.Epochs.WithLabelValues(s.String()))
	}
	assert.Equal(t, float64(len(sols)), total)
	assert.Equal(t, 1.0, testutil.ToFloat64(met.Slips.WithLabelValues("lli")))
	assert.Equal(t, 4, testutil.CollectAndCount(met.Elapsed))
	assert.Equal(t, sols[len(sols)-1].Ratio, testutil.ToFloat64(met.Ratio))

	// A nil Metrics records nothing
	var none *Metrics
	none.countStatus(StatusFix)
	none.countSlip(SlipGF)
	none.setRatio(1)
}

func TestWithPrior(t *testing.T) {
	p, _ := linearProblem(rand.New(rand.NewSource(1)), []float64{1, 2}, []int{0, 0, 2}, map[int]float64{0: 1, 2: 1})
	Rx := eye(2, 4)
	q := withPrior(p, Rx)
	n, m := p.A.Dims()
	qn, qm := q.A.Dims()
	assert.Equal(t, n, qn)
	assert.Equal(t, m+n, qm)
	assert.Equal(t, 1.0, q.A.At(1, m+1))
	assert.Equal(t, 4.0, q.R.At(m, m))
	assert.Zero(t, q.L.AtVec(m))
	assert.Equal(t, -1, q.Group[m+n-1])
}
