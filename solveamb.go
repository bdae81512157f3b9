// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.19
//

// Implements integer ambiguity resolution for RTK (Real-Time Kinematic) positioning.

package rtkamb

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/mat"
)

// Minimum number of pairs of a fix relative to the previous fix
const NUM_DDPAIR_MIN_RATIO = 1 / 3.0

var errNoFix = errors.New("ambiguity not fixed")

// ambFix holds a validated integer solution
type ambFix struct {
	pairs []SatPairFType // Double-difference pairs
	float []float64      // Float double-difference ambiguities [cycle]
	fixed []float64      // Fixed double-difference ambiguities [cycle]
	s     []float64      // Quadratic forms of the best and second best candidates
	ratio float64
	D     *mat.Dense // Double-difference operator (pairs x states)
	DP    *mat.Dense // D * P
	Qb    *mat.Dense // D * P * D'
	pos   PosXYZ     // Fixed position
	cov   *mat.Dense // Covariance of the fixed position
}

// resolve fixes the double-difference ambiguities of the float state x, P.
// It returns the fix if the ratio test passes, and the ratio of the last attempt.
func (e *Engine) resolve(g *epochGeom, x *mat.VecDense, P *mat.Dense, st *AdjustStats) (*ambFix, float64, error) {
	if e.opt.ChiTest && st != nil && st.NumObs > 1 {
		if thres := ChiSqr(st.NumObs - 1); thres > 0 && st.Chi2 > thres {
			return nil, 0, fmt.Errorf("chi-square test failed, chi2=%.2f > %.2f", st.Chi2, thres)
		}
	}

	ddPairs := e.selectDDpairs(g)
	if len(ddPairs) < e.opt.MinAmb || len(ddPairs) < 1 {
		return nil, 0, fmt.Errorf("not enough dd pairs, num of dd pairs=%d", len(ddPairs))
	}

	fix, err := e.solveAmbByLambda(ddPairs, g, x, P)
	if err != nil {
		return nil, 0, fmt.Errorf("solveAmbByLambda() failed, err= %w", err)
	}
	PrintD(2, "\tratio: %8.2f (%.3f/%.3f)\n", fix.ratio, fix.s[1], fix.s[0])

	// Retry by removing low elevation satellites
	if fix.ratio < e.opt.RatioThres {
		PrintD(2, "\tratio: %8.2f < %3.2f\n", fix.ratio, e.opt.RatioThres)
		if f2, err := e.retryWithLowElevSatRemoval(ddPairs, g, x, P); err == nil && f2.ratio >= e.opt.RatioThres {
			fix = f2
		}
	}
	if fix.ratio < e.opt.RatioThres {
		return nil, fix.ratio, errNoFix
	}

	// Even if the ratio test passes, reject if too many pairs were removed
	if e.nfix > 0 {
		minNum := float64(e.nfixPair) * NUM_DDPAIR_MIN_RATIO
		if float64(len(fix.pairs)) < minNum {
			return nil, fix.ratio, fmt.Errorf("number of dd pairs is too small, ndd(prev)=%d, ndd(curr)=%d < %.1f", e.nfixPair, len(fix.pairs), minNum)
		}
	}

	if DBG_ >= 2 {
		PrintA("\t--- final ---\n")
		PrintA("\tdd pairs: (%d)", len(fix.pairs))
		printDDpairs(fix.pairs, g.elev)
		for i := range fix.pairs {
			PrintA("\t%10.3f ---> %10.1f\n", fix.float[i], fix.fixed[i])
		}
	}

	if err := fixedPos(fix, x, P); err != nil {
		return nil, fix.ratio, err
	}
	return fix, fix.ratio, nil
}

// selectDDpairs selects the pairs eligible for ambiguity resolution. Pairs with
// a slip or reset at this epoch, a short lock or a low elevation are excluded.
// Instantaneous mode reinitializes every epoch, so slips and resets are ignored.
func (e *Engine) selectDDpairs(g *epochGeom) []SatPairFType {
	inst := e.opt.ModeAR == ARInstantaneous
	ok := func(sat SatType, f int) bool {
		tr := e.trk[sat]
		a := tr.Amb[f]
		fresh := tr.Slip[f] == 0 && !tr.Reset[f]
		return (fresh || inst) && a.LockCount >= e.opt.MinLock &&
			ToDeg(g.elev[sat]) >= e.opt.ElMaskAR
	}
	ddPairs := []SatPairFType{}
	for _, sp := range g.pairs {
		if ok(sp.S1, sp.F) && ok(sp.S2, sp.F) {
			ddPairs = append(ddPairs, sp)
		}
	}
	if DBG_ >= 2 {
		PrintA("\tdd pairs for ar: (%d)", len(ddPairs))
		printDDpairs(ddPairs, g.elev)
	}
	return ddPairs
}

// solveAmbByLambda forms the double-difference ambiguities and their covariance
// and solves them by the LAMBDA method
func (e *Engine) solveAmbByLambda(ddPairs []SatPairFType, g *epochGeom, x *mat.VecDense, P *mat.Dense) (*ambFix, error) {
	nb, nx := len(ddPairs), x.Len()
	D := mat.NewDense(nb, nx, nil)
	for i, sp := range ddPairs {
		ki := slices.Index(g.sigs, SatFType{Sat: sp.S1, F: sp.F})
		ji := slices.Index(g.sigs, SatFType{Sat: sp.S2, F: sp.F})
		if ki < 0 || ji < 0 {
			return nil, fmt.Errorf("ambiguity not estimated: %s-%s(%d)", sp.S1, sp.S2, sp.F+1)
		}
		D.Set(i, 3+ki, 1)
		D.Set(i, 3+ji, -1)
	}
	b := mat.NewVecDense(nb, nil)
	b.MulVec(D, x)
	DP := mat.NewDense(nb, nx, nil)
	DP.Mul(D, P)
	Qb := mat.NewDense(nb, nb, nil)
	Qb.Mul(DP, D.T())
	symmetrize(Qb)
	PrintMatD(4, "Qb", Qb)

	Qs := mat.NewSymDense(nb, nil)
	for i := range nb {
		for j := i; j < nb; j++ {
			Qs.SetSym(i, j, Qb.At(i, j))
		}
	}
	cand, err := LambdaLoop(b.RawVector().Data, Qs, 2, e.opt.LoopMax)
	if err != nil {
		return nil, err
	}
	return &ambFix{
		pairs: ddPairs,
		float: b.RawVector().Data,
		fixed: cand.Fixed(0),
		s:     cand.S,
		ratio: cand.Ratio(),
		D:     D,
		DP:    DP,
		Qb:    Qb,
	}, nil
}

// selectDDpairsWithLowestElevSatRemoved removes the pairs of the lowest
// elevation satellite below maxElevToRemove [deg]
func selectDDpairsWithLowestElevSatRemoved(ddPairs []SatPairFType, elev map[SatType]float64, maxElevToRemove float64) ([]SatPairFType, SatType) {
	minElev := 90.0
	var minElevSat SatType
	for _, spf := range ddPairs {
		el := ToDeg(elev[spf.S2])
		if el < minElev && el < maxElevToRemove {
			minElev = el
			minElevSat = spf.S2
		}
	}
	if minElev == 90.0 {
		return ddPairs, minElevSat
	}
	ddp := []SatPairFType{}
	for _, spf := range ddPairs {
		if spf.S2 != minElevSat {
			ddp = append(ddp, spf)
		}
	}
	return ddp, minElevSat
}

// retryWithLowElevSatRemoval iteratively removes the satellite with the lowest
// elevation and retries ambiguity resolution
func (e *Engine) retryWithLowElevSatRemoval(ddPairs []SatPairFType, g *epochGeom, x *mat.VecDense, P *mat.Dense) (*ambFix, error) {
	currentPairs := slices.Clone(ddPairs)
	for i := range e.opt.MaxRetNum {
		newPairs, removedSat := selectDDpairsWithLowestElevSatRemoved(currentPairs, g.elev, e.opt.MaxElevToRemove)
		if len(newPairs) == len(currentPairs) {
			PrintD(2, "\tno sat pair to remove\n")
			break
		}
		if len(newPairs) < e.opt.MinAmb || len(newPairs) < 1 {
			PrintD(2, "\tnot enough dd pairs, num of dd pairs=%d\n", len(newPairs))
			break
		}
		currentPairs = newPairs

		if DBG_ >= 2 {
			PrintA("\t--- retry(%d/%d) ---\n", i+1, e.opt.MaxRetNum)
			PrintA("\tsat removed: %s(%.1f)\n", removedSat, ToDeg(g.elev[removedSat]))
			PrintA("\tdd pairs: (%d)", len(currentPairs))
			printDDpairs(currentPairs, g.elev)
		}

		fix, err := e.solveAmbByLambda(currentPairs, g, x, P)
		if err != nil {
			return nil, fmt.Errorf("solveAmbByLambda() failed, err= %w", err)
		}
		PrintD(2, "\tratio(%d/%d): %8.2f (%.3f/%.3f)\n", i+1, e.opt.MaxRetNum, fix.ratio, fix.s[1], fix.s[0])
		if fix.ratio >= e.opt.RatioThres {
			return fix, nil
		}
	}
	return nil, errors.New("retry failed")
}

// fixedPos conditions the float position on the fixed ambiguities:
// xa = x - Qab Qb^-1 (b - bf), Pa = Pxx - Qab Qb^-1 Qab'
func fixedPos(fix *ambFix, x *mat.VecDense, P *mat.Dense) error {
	nb := len(fix.pairs)
	db := mat.NewVecDense(nb, nil)
	for i := range nb {
		db.SetVec(i, fix.float[i]-fix.fixed[i])
	}
	// Qab' = D P[:, 0:3]
	QabT := fix.DP.Slice(0, nb, 0, 3)

	var y mat.VecDense
	if err := y.SolveVec(fix.Qb, db); err != nil {
		return fmt.Errorf("%w: fixed position: %s", ErrSingular, err.Error())
	}
	var dx mat.VecDense
	dx.MulVec(QabT.T(), &y)

	var Y, QQ mat.Dense
	if err := Y.Solve(fix.Qb, QabT); err != nil {
		return fmt.Errorf("%w: fixed position covariance: %s", ErrSingular, err.Error())
	}
	QQ.Mul(QabT.T(), &Y)
	cov := mat.DenseCopyOf(P.Slice(0, 3, 0, 3))
	cov.Sub(cov, &QQ)
	symmetrize(cov)

	fix.pos = PosXYZ{X: x.AtVec(0) - dx.AtVec(0), Y: x.AtVec(1) - dx.AtVec(1), Z: x.AtVec(2) - dx.AtVec(2)}
	fix.cov = cov
	return nil
}

// holdAmb constrains the float state to the fixed ambiguities
func (e *Engine) holdAmb(fix *ambFix, x *mat.VecDense, P *mat.Dense) error {
	nb := len(fix.pairs)
	L := mat.NewVecDense(nb, nil)
	R := mat.NewDense(nb, nb, nil)
	var Dx mat.VecDense
	Dx.MulVec(fix.D, x)
	for i := range nb {
		L.SetVec(i, fix.fixed[i]-Dx.AtVec(i))
		R.Set(i, i, e.opt.VarHoldAmb)
	}
	if _, err := e.kf.Adjust(&Problem{A: fix.D.T(), L: L, R: R}, x, P); err != nil {
		return fmt.Errorf("hold ambiguity: %w", err)
	}
	PrintD(2, "\tambiguities held: %d\n", nb)
	return nil
}
