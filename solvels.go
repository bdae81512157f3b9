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

// Solve the observation equations using weighted least squares
// - dX = (A R^-1 A^t)^-1 A R^-1 L, X += dX
// - Rx = (A R^-1 A^t)^-1
// - sigma0^2 = V^t R^-1 V / max(1, m-n)
func (a *Adjuster) leastSquares(p *Problem, X *mat.VecDense, Rx *mat.Dense) (*AdjustStats, error) {
	n, m, err := p.dims(X, Rx)
	if err != nil {
		return nil, err
	}
	if m < n {
		return nil, fmt.Errorf("%w: m=%d < n=%d", ErrInsufficientObs, m, n)
	}

	if err := inverse(&a.rinv, p.R); err != nil {
		return nil, fmt.Errorf("weight matrix: %w", err)
	}

	// Normal matrix (A R^-1 A^t)
	a.ar.Reset()
	a.ar.Mul(p.A, &a.rinv)
	a.nrm.Reset()
	a.nrm.Mul(&a.ar, p.A.T())
	if err := inverse(&a.ninv, &a.nrm); err != nil {
		return nil, fmt.Errorf("normal matrix: %w", err)
	}

	// A R^-1 L
	a.b.Reset()
	a.b.MulVec(&a.ar, p.L)

	a.dx.Reset()
	a.dx.MulVec(&a.ninv, &a.b)
	X.AddVec(X, &a.dx)
	Rx.Copy(&a.ninv)
	symmetrize(Rx)

	// Residuals V = L - A^t dX
	a.v.Reset()
	a.v.MulVec(p.A.T(), &a.dx)
	a.v.SubVec(p.L, &a.v)
	a.tv.Reset()
	a.tv.MulVec(&a.rinv, &a.v)
	chi2 := mat.Dot(&a.v, &a.tv)

	dof := max(1, m-n)
	st := &AdjustStats{
		Strategy: StratLeastSquares,
		V:        mat.VecDenseCopyOf(&a.v),
		Sigma0:   chi2 / float64(dof),
		Chi2:     chi2,
		NumObs:   m,
	}
	PrintD(4, "\tls: n=%d, m=%d, sigma0^2=%.4f\n", n, m, st.Sigma0)
	return st, nil
}
