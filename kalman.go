// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.19
//

package rtkamb

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Kalman filter observation update
func (a *Adjuster) kalman(p *Problem, X *mat.VecDense, Rx *mat.Dense) (*AdjustStats, error) {
	n, m, err := p.dims(X, Rx)
	if err != nil {
		return nil, err
	}

	if err := a.makeK(p, Rx); err != nil {
		return nil, err
	}
	a.updateX(p, X)
	a.updateP(p, Rx)

	// Post-fit residuals V = L - A^t K L
	a.v.Reset()
	a.v.MulVec(p.A.T(), &a.dx)
	a.v.SubVec(p.L, &a.v)

	// Innovation test statistic L^t Q^-1 L
	a.tv.Reset()
	a.tv.MulVec(&a.qinv, p.L)
	chi2 := mat.Dot(p.L, &a.tv)

	PrintD(4, "\tkalman: n=%d, m=%d, chi2=%.4f\n", n, m, chi2)
	return &AdjustStats{
		Strategy: StratKalman,
		V:        mat.VecDenseCopyOf(&a.v),
		Chi2:     chi2,
		NumObs:   m,
	}, nil
}

// makeK calculates Kalman gain K = Rx A (A^t Rx A + R)^-1
func (a *Adjuster) makeK(p *Problem, Rx *mat.Dense) error {
	a.ra.Reset()
	a.ra.Mul(Rx, p.A)
	a.q.Reset()
	a.q.Mul(p.A.T(), &a.ra)
	a.q.Add(&a.q, p.R)
	if err := inverse(&a.qinv, &a.q); err != nil {
		return fmt.Errorf("innovation covariance: %w", err)
	}
	a.k.Reset()
	a.k.Mul(&a.ra, &a.qinv)
	return nil
}

// updateX calculates X' = X + K L
func (a *Adjuster) updateX(p *Problem, X *mat.VecDense) {
	a.dx.Reset()
	a.dx.MulVec(&a.k, p.L)
	X.AddVec(X, &a.dx)
}

// updateP calculates Rx' = (I - K A^t) Rx (I - K A^t)^t + K R K^t.
// The Joseph form keeps Rx positive definite under a diffuse prior.
func (a *Adjuster) updateP(p *Problem, Rx *mat.Dense) {
	a.ka.Reset()
	a.ka.Mul(&a.k, p.A.T())
	n, _ := a.ka.Dims()
	a.ikh.Reset()
	a.ikh.Scale(-1, &a.ka)
	for i := range n {
		a.ikh.Set(i, i, 1+a.ikh.At(i, i))
	}
	a.tmp.Reset()
	a.tmp.Mul(&a.ikh, Rx)
	Rx.Mul(&a.tmp, a.ikh.T())

	// ra is free once K is formed
	a.ra.Reset()
	a.ra.Mul(&a.k, p.R)
	a.krk.Reset()
	a.krk.Mul(&a.ra, a.k.T())
	Rx.Add(Rx, &a.krk)
	symmetrize(Rx)
}
