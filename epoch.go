// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.19
//

// Implements the per-epoch RTK processing: signal tracking, float solution
// by the configured adjustment and integer ambiguity resolution.

package rtkamb

import (
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/mat"
)

// Solution status
type Status int

const (
	StatusNone  Status = iota // No solution
	StatusFloat               // Float solution
	StatusFix                 // Ambiguities fixed
	StatusHold                // Ambiguities fixed and held
)

func (s Status) String() string {
	return enumString([]string{"none", "float", "fix", "hold"}, int(s))
}

// EpochInput is one synchronized rover/base observation pair with the
// satellite positions at the signal transmission time
type EpochInput struct {
	Time        GTime              // Rover observation time
	Rover       *ObsE              // Rover observations
	Base        *ObsE              // Base observations
	SatPos      map[SatType]PosXYZ // Satellite positions (ECEF)
	BasePos     PosXYZ             // Base station position
	RoverPos    PosXYZ             // Approximate rover position (optional)
	Wavelengths Wavelengths        // Carrier wavelengths (optional)
}

// AmbInfo reports the state of one single-difference ambiguity
type AmbInfo struct {
	Sig      SatFType
	Value    float64 // Float estimate [cycle] ([m] if ionosphere-free)
	Var      float64 // Variance
	Lock     int     // Lock count
	LockTime float64 // Lock time [s]
	State    FixState
}

// SlipInfo reports the slips of one signal at the epoch
type SlipInfo struct {
	Sig   SatFType
	Flags byte    // Slip flags
	Jump  float64 // Repaired jump [cycle]
}

// Solution of one epoch
type Solution struct {
	Time     GTime
	Status   Status
	Pos      PosXYZ         // Fixed position if Status >= StatusFix, else float position
	PosCov   *mat.Dense     // Covariance of Pos (3 x 3)
	FloatPos PosXYZ         // Float position
	Ratio    float64        // Ratio test value (second best / best)
	NumSats  int            // Number of satellites used
	Pairs    []SatPairFType // Double-difference pairs of the fixed ambiguities
	Fixed    []float64      // Fixed double-difference ambiguities [cycle]
	Amb      []AmbInfo
	Slips    []SlipInfo
	Excluded []SatFType   // Signals rejected by the innovation check, by frequency then satellite
	Stats    *AdjustStats // Diagnostics of the float adjustment
	Elapsed  time.Duration
	Err      error // Reason of a degraded solution
}

// Engine holds the state carried between epochs
type Engine struct {
	mu  sync.Mutex
	opt *RtkOpt
	met *Metrics

	adj *Adjuster // Float solution
	kf  *Adjuster // Kalman fallback and hold
	fit *Adjuster // Polynomial fits of the slip detector

	trk  map[SatType]*SatTracker
	x    *mat.VecDense // Position and single-difference ambiguities
	P    *mat.Dense
	par  []SatFType // Ambiguity parameters of x[3:]
	time GTime

	nfix     int // Consecutive fixed epochs
	nfixPair int // Number of pairs of the last fix
}

// NewEngine creates an engine. met may be nil.
func NewEngine(opt *RtkOpt, met *Metrics) (*Engine, error) {
	if opt == nil {
		opt = NewRtkOpt()
	}
	if err := opt.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	nx, nv := 3+32, 64
	return &Engine{
		opt: opt,
		met: met,
		adj: NewAdjuster(opt.Strategy, opt, nx, nv),
		kf:  NewAdjuster(StratKalman, opt, nx, nv),
		fit: NewAdjuster(StratLeastSquares, opt, opt.PolyOrder+1, 2*opt.PolyOrder),
		trk: map[SatType]*SatTracker{},
	}, nil
}

// Reset discards the carried state
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trk = map[SatType]*SatTracker{}
	e.x, e.P, e.par = nil, nil, nil
	e.time = GTime{}
	e.nfix, e.nfixPair = 0, 0
}

// Tracker returns a snapshot of the tracker of the satellite, or nil.
// The snapshot is detached from the engine and cannot process epochs.
func (e *Engine) Tracker(sat SatType) *SatTracker {
	e.mu.Lock()
	defer e.mu.Unlock()
	tr, ok := e.trk[sat]
	if !ok {
		return nil
	}
	return tr.snapshot()
}

// ProcessEpoch processes one epoch. It never fails: numerical problems and
// lack of data degrade the status of the returned solution.
func (e *Engine) ProcessEpoch(in *EpochInput) *Solution {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	sol := &Solution{Status: StatusNone}
	if in == nil || in.Rover == nil || in.Base == nil {
		sol.Err = ErrNoData
		return sol
	}
	sol.Time = in.Time
	defer func() {
		sol.Elapsed = time.Since(start)
		e.met.observe("epoch", sol.Elapsed)
		e.met.countStatus(sol.Status)
		PrintD(1, "%s status=%s ratio=%.2f nsat=%d pos=%.4f %.4f %.4f\n", sol.Time, sol.Status, sol.Ratio, sol.NumSats, sol.Pos.X, sol.Pos.Y, sol.Pos.Z)
	}()
	PrintD(2, "--- epoch %s ---\n", in.Time)

	t0 := time.Now()
	e.updateTrackers(in, sol)
	e.met.observe("update", time.Since(t0))

	dt := 0.0
	if !e.time.IsZero() {
		dt = math.Abs(in.Time.Sub(e.time))
	}
	rovPos := e.approxPos(in)

	// Select signals and remove outliers
	g := e.selectSignals(in, rovPos, nil)
	if len(g.pairs) < 3 {
		sol.Err = fmt.Errorf("%w: number of dds: %d < 3", ErrInsufficientObs, len(g.pairs))
		return sol
	}
	x, P := e.predict(g, rovPos, dt)
	trusted := e.x != nil || !in.RoverPos.IsZero()
	if _, ex := e.makeY(in, g, x); trusted && len(ex) > 0 {
		sol.Excluded = SortedSatF(ex)
		g = e.selectSignals(in, rovPos, ex)
		if len(g.pairs) < 3 {
			sol.Err = fmt.Errorf("%w: number of dds after outlier removal: %d < 3", ErrInsufficientObs, len(g.pairs))
			return sol
		}
		x, P = e.predict(g, rovPos, dt)
	}
	sol.NumSats = g.nsats

	// Float solution
	t0 = time.Now()
	st, err := e.filter(in, g, x, P)
	e.met.observe("adjust", time.Since(t0))
	e.store(in.Time, g, x, P)
	if err != nil {
		sol.Err = fmt.Errorf("float solution: %w", err)
		e.nfix = 0
		e.setFixState(g, nil, FixUninit)
		e.fillAmb(sol, g)
		return sol
	}
	sol.Stats = st
	sol.Status = StatusFloat
	sol.FloatPos = PosXYZ{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}
	sol.Pos = sol.FloatPos
	sol.PosCov = mat.DenseCopyOf(P.Slice(0, 3, 0, 3))

	// Integer ambiguity resolution
	if e.opt.ModeAR != AROff && !e.opt.IonoFree {
		t0 = time.Now()
		fix, ratio, err := e.resolve(g, x, P, st)
		e.met.observe("resolve", time.Since(t0))
		sol.Ratio = ratio
		e.met.setRatio(ratio)
		if err != nil {
			PrintD(2, "\tambiguity resolution: %s\n", err.Error())
		}
		if fix != nil {
			e.nfix++
			e.nfixPair = len(fix.pairs)
			sol.Status = StatusFix
			sol.Pos = fix.pos
			sol.PosCov = fix.cov
			sol.Pairs = fix.pairs
			sol.Fixed = fix.fixed
			state := FixThisEpoch
			if e.opt.ModeAR == ARFixAndHold && e.nfix >= e.opt.MinFixToHold {
				if err := e.holdAmb(fix, x, P); err != nil {
					PrintD(2, "\thold failed: %s\n", err.Error())
				} else {
					sol.Status = StatusHold
					state = FixHeld
				}
			}
			e.setFixState(g, fix.pairs, state)
		} else {
			e.nfix = 0
			e.setFixState(g, nil, FixUninit)
		}
	}
	e.fillAmb(sol, g)
	return sol
}

// updateTrackers runs the trackers of all observed and tracked satellites
func (e *Engine) updateTrackers(in *EpochInput, sol *Solution) {
	for _, sat := range in.Rover.Sats() {
		if !sat.Sys().IsValid() {
			PrintD(3, "\tunknown satellite system: %s\n", sat)
			continue
		}
		if _, ok := e.trk[sat]; !ok {
			e.trk[sat] = NewSatTracker(sat, e.opt, e.fit)
		}
	}
	sats := make([]SatType, 0, len(e.trk))
	for sat := range e.trk {
		sats = append(sats, sat)
	}
	for _, sat := range Sorted(sats) {
		tr := e.trk[sat]
		lam, ok := in.Wavelengths[sat]
		if !ok {
			lam = NewWavelengths([]SatType{sat}, nil)[sat]
		}
		tr.Process(in.Time, in.Rover.Get(sat), in.Base.Get(sat), lam, e.opt)
		for f := range tr.nf {
			if tr.Slip[f] == 0 {
				continue
			}
			sol.Slips = append(sol.Slips, SlipInfo{Sig: SatFType{Sat: sat, F: f}, Flags: tr.Slip[f], Jump: tr.Jump[f]})
			e.met.countSlip(tr.Slip[f])
		}
		if in.Time.Sub(tr.LastSeen) > e.opt.MaxGap {
			PrintD(3, "\ttracker removed: %s\n", sat)
			delete(e.trk, sat)
		}
	}
}

// approxPos returns the linearization point of the rover position
func (e *Engine) approxPos(in *EpochInput) PosXYZ {
	prev := PosXYZ{}
	if e.x != nil {
		prev = PosXYZ{X: e.x.AtVec(0), Y: e.x.AtVec(1), Z: e.x.AtVec(2)}
	}
	if e.opt.PosMode == PosKinematic && !in.RoverPos.IsZero() {
		return in.RoverPos
	}
	if !prev.IsZero() {
		return prev
	}
	if !in.RoverPos.IsZero() {
		return in.RoverPos
	}
	return in.BasePos
}

// predict sets up the state vector and its covariance. Ambiguities carried
// from the previous epoch keep their covariance (plus random walk) and are
// shifted by the repaired slips; the others start from the tracker estimate.
func (e *Engine) predict(g *epochGeom, rovPos PosXYZ, dt float64) (*mat.VecDense, *mat.Dense) {
	nx := 3 + len(g.sigs)
	x := mat.NewVecDense(nx, nil)
	P := mat.NewDense(nx, nx, nil)
	x.SetVec(0, rovPos.X)
	x.SetVec(1, rovPos.Y)
	x.SetVec(2, rovPos.Z)
	static := e.opt.PosMode == PosStatic && e.x != nil
	for i := range 3 {
		if static {
			for j := range 3 {
				P.Set(i, j, e.P.At(i, j))
			}
			P.Set(i, i, P.At(i, i)+SQ(e.opt.ProcNoisePos)*dt)
		} else {
			P.Set(i, i, e.opt.VarPos)
		}
	}

	idx := make([]int, len(g.sigs))
	for i, sf := range g.sigs {
		tr := e.trk[sf.Sat]
		lam := e.ambLam(sf.Sat, sf.F)
		l := -1
		if e.x != nil {
			l = slices.Index(e.par, sf)
		}
		reset := tr.Reset[sf.F]
		value, jump := tr.Amb[sf.F].Value, tr.Jump[sf.F]
		if e.opt.IonoFree {
			reset = tr.Reset[0] || tr.Reset[1]
			value, jump = tr.Amb[0].Value, tr.IFJump()
		}
		if l >= 0 && !reset {
			x.SetVec(3+i, e.x.AtVec(3+l)+jump)
			idx[i] = l
		} else {
			x.SetVec(3+i, value)
			P.Set(3+i, 3+i, SQ(e.opt.AmbInitStd/lam))
			idx[i] = -1
		}
	}
	for i, sf := range g.sigs {
		l := idx[i]
		if l < 0 {
			continue
		}
		for k := range g.sigs {
			if m := idx[k]; m >= 0 {
				P.Set(3+i, 3+k, e.P.At(3+l, 3+m))
			}
		}
		lam := e.ambLam(sf.Sat, sf.F)
		P.Set(3+i, 3+i, P.At(3+i, 3+i)+SQ(e.opt.ProcNoiseAmb/lam)*dt)
		if static {
			for c := range 3 {
				P.Set(c, 3+i, e.P.At(c, 3+l))
				P.Set(3+i, c, e.P.At(3+l, c))
			}
		}
	}
	return x, P
}

// filter runs the configured adjustment. In instantaneous mode the
// observation update is repeated from the predicted state with equations
// relinearized at the last estimate.
func (e *Engine) filter(in *EpochInput, g *epochGeom, x *mat.VecDense, P *mat.Dense) (*AdjustStats, error) {
	nLoop := 1
	if e.opt.ModeAR == ARInstantaneous {
		nLoop = 3
	}
	x0, P0 := mat.VecDenseCopyOf(x), mat.DenseCopyOf(P)
	R, group := e.makeR(g)
	var st *AdjustStats
	for loop := range nLoop {
		dy, _ := e.makeY(in, g, x)
		H := e.makeH(in, g, x)
		if loop > 0 {
			// dy + H (x - x0), then restart from the prediction
			var d, hd mat.VecDense
			d.SubVec(x, x0)
			hd.MulVec(H, &d)
			dy.AddVec(dy, &hd)
			x.CopyVec(x0)
			P.Copy(P0)
		}
		p := &Problem{A: H.T(), L: dy, R: R, Group: group}

		var err error
		if e.adj.Strategy() == StratLeastSquares {
			st, err = e.adj.Adjust(withPrior(p, P), x, P)
		} else {
			st, err = e.adj.Adjust(p, x, P)
		}
		if err != nil && e.adj.Strategy() == StratLeastSquares {
			PrintD(2, "\tleast squares failed, fallback to kalman: %s\n", err.Error())
			e.met.countFallback()
			st, err = e.kf.Adjust(p, x, P)
		}
		if err != nil {
			return nil, err
		}
		if st.Fallback {
			e.met.countFallback()
		}
		if DBG_ >= 2 {
			PrintA("\tLOOP %d: XYZ= %.4f %.4f %.4f, chi2=%.2f, scale=%v\n", loop+1, x.AtVec(0), x.AtVec(1), x.AtVec(2), st.Chi2, st.Scale)
		}
		PrintMatD(5, "P", P)
	}
	return st, nil
}

// withPrior appends the prior estimate as pseudo-observations so that
// least squares uses the carried information
func withPrior(p *Problem, Rx *mat.Dense) *Problem {
	n, m := p.A.Dims()
	A := mat.NewDense(n, m+n, nil)
	A.Slice(0, n, 0, m).(*mat.Dense).Copy(p.A)
	L := mat.NewVecDense(m+n, nil)
	R := mat.NewDense(m+n, m+n, nil)
	R.Slice(0, m, 0, m).(*mat.Dense).Copy(p.R)
	R.Slice(m, m+n, m, m+n).(*mat.Dense).Copy(Rx)
	for i := range m {
		L.SetVec(i, p.L.AtVec(i))
	}
	for i := range n {
		A.Set(i, m+i, 1)
	}
	group := make([]int, m+n)
	copy(group, p.Group)
	for i := m; i < m+n; i++ {
		group[i] = -1
	}
	return &Problem{A: A, L: L, R: R, Group: group}
}

// store keeps the state for the next epoch
func (e *Engine) store(t GTime, g *epochGeom, x *mat.VecDense, P *mat.Dense) {
	e.x, e.P, e.par, e.time = x, P, g.sigs, t
}

// setFixState updates the fix state of the tracker ambiguities
func (e *Engine) setFixState(g *epochGeom, pairs []SatPairFType, state FixState) {
	for _, sf := range g.sigs {
		a := &e.trk[sf.Sat].Amb[sf.F]
		fixed := false
		for _, sp := range pairs {
			if sp.F == sf.F && (sp.S1 == sf.Sat || sp.S2 == sf.Sat) {
				fixed = true
				break
			}
		}
		switch {
		case !fixed || state == FixUninit:
			a.State = FixUninit
		case state == FixHeld:
			a.State = FixHeld
		case a.State == FixUninit:
			a.State = FixThisEpoch
		default:
			a.State = FixCarried
		}
	}
}

// fillAmb reports the ambiguity states
func (e *Engine) fillAmb(sol *Solution, g *epochGeom) {
	for i, sf := range g.sigs {
		a := e.trk[sf.Sat].Amb[sf.F]
		sol.Amb = append(sol.Amb, AmbInfo{
			Sig:      sf,
			Value:    e.x.AtVec(3 + i),
			Var:      e.P.At(3+i, 3+i),
			Lock:     a.LockCount,
			LockTime: a.LockTime,
			State:    a.State,
		})
	}
}
