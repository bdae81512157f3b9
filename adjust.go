// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.19
//

// Parameter adjustment: weighted least squares, Kalman filter and
// Kalman filter with Helmert variance component estimation.

package rtkamb

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrSingular        = errors.New("singular matrix")
	ErrNotPosDef       = errors.New("matrix not positive definite")
	ErrSearchOverflow  = errors.New("search loop count overflow")
	ErrInsufficientObs = errors.New("insufficient observations")
	ErrNoData          = errors.New("no data")
)

// Problem holds the linearized observation equations of one adjustment.
// A, L, R are read only; the estimate and its covariance are passed separately
// and updated in place.
type Problem struct {
	A     mat.Matrix // Design matrix (parameters x observations)
	L     mat.Vector // Observed minus computed
	R     mat.Matrix // Observation error covariance
	Group []int      // Observation group (satellite system index), used by Helmert
}

// AdjustStats reports diagnostics of an adjustment
type AdjustStats struct {
	Strategy Strategy        // Strategy that produced the estimate
	V        *mat.VecDense   // Post-fit residuals
	Sigma0   float64         // Unit weight variance (least squares)
	Chi2     float64         // V'R^-1 V (least squares) or L'Q^-1 L (Kalman)
	NumObs   int             // Number of observations
	Scale    map[int]float64 // Covariance scale per group (Helmert)
	Iter     int             // Helmert iterations performed
	Fallback bool            // Helmert fell back to a plain Kalman update
}

// Solver updates an estimate from a set of observation equations
type Solver interface {
	Adjust(p *Problem, X *mat.VecDense, Rx *mat.Dense) (*AdjustStats, error)
}

// Adjuster implements Solver for the strategy chosen at construction.
// Intermediate matrices are kept between calls and reused when large enough.
// An Adjuster must not be used concurrently.
type Adjuster struct {
	strategy  Strategy
	maxIter   int
	fallback  HelmertFallback
	lastScale map[int]float64 // Last successful Helmert scaling

	// Scratch
	rinv, ar, nrm, ninv mat.Dense
	ra, q, qinv, k, ka  mat.Dense
	tmp, rs, rx0        mat.Dense
	ikh, krk            mat.Dense
	b, dx, v, tv, x0    mat.VecDense
}

// NewAdjuster creates an adjuster with scratch space for nx parameters and nv observations
func NewAdjuster(strategy Strategy, opt *RtkOpt, nx, nv int) *Adjuster {
	a := &Adjuster{
		strategy: strategy,
		maxIter:  3,
		fallback: FallbackUnscaled,
	}
	if opt != nil {
		a.maxIter = opt.MaxHelmertIter
		a.fallback = opt.HelmertFallback
	}
	reserve(&a.rinv, nv, nv)
	reserve(&a.ar, nx, nv)
	reserve(&a.nrm, nx, nx)
	reserve(&a.ninv, nx, nx)
	reserve(&a.ra, nx, nv)
	reserve(&a.q, nv, nv)
	reserve(&a.qinv, nv, nv)
	reserve(&a.k, nx, nv)
	reserve(&a.ka, nx, nx)
	reserve(&a.tmp, nx, nx)
	reserve(&a.ikh, nx, nx)
	reserve(&a.krk, nx, nx)
	reserve(&a.rs, nv, nv)
	reserve(&a.rx0, nx, nx)
	reserveVec(&a.b, nx)
	reserveVec(&a.dx, nx)
	reserveVec(&a.v, nv)
	reserveVec(&a.tv, nv)
	reserveVec(&a.x0, nx)
	return a
}

func (a *Adjuster) Strategy() Strategy {
	return a.strategy
}

// Adjust dispatches to the configured strategy
func (a *Adjuster) Adjust(p *Problem, X *mat.VecDense, Rx *mat.Dense) (*AdjustStats, error) {
	switch a.strategy {
	case StratLeastSquares:
		return a.leastSquares(p, X, Rx)
	case StratKalman:
		return a.kalman(p, X, Rx)
	case StratKalmanHelmert:
		return a.helmert(p, X, Rx)
	}
	return nil, fmt.Errorf("unknown strategy: %d", a.strategy)
}

// dims checks the consistency of the problem and returns the number of
// parameters and observations
func (p *Problem) dims(X *mat.VecDense, Rx *mat.Dense) (n, m int, err error) {
	if p == nil || p.A == nil || p.L == nil || p.R == nil || X == nil || Rx == nil {
		return 0, 0, ErrNoData
	}
	n, m = p.A.Dims()
	if n == 0 || m == 0 {
		return 0, 0, ErrNoData
	}
	if p.L.Len() != m {
		return 0, 0, fmt.Errorf("invalid matrix size. A(%d x %d), L(%d)", n, m, p.L.Len())
	}
	if r, c := p.R.Dims(); r != m || c != m {
		return 0, 0, fmt.Errorf("invalid matrix size. A(%d x %d), R(%d x %d)", n, m, r, c)
	}
	if X.Len() != n {
		return 0, 0, fmt.Errorf("invalid matrix size. A(%d x %d), X(%d)", n, m, X.Len())
	}
	if r, c := Rx.Dims(); r != n || c != n {
		return 0, 0, fmt.Errorf("invalid matrix size. A(%d x %d), Rx(%d x %d)", n, m, r, c)
	}
	if p.Group != nil && len(p.Group) != m {
		return 0, 0, fmt.Errorf("invalid group size: %d != %d", len(p.Group), m)
	}
	return n, m, nil
}

// reserve sizes the backing store of d to hold r x c elements
func reserve(d *mat.Dense, r, c int) {
	if r > 0 && c > 0 {
		*d = *mat.NewDense(r, c, nil)
		d.Reset()
	}
}

func reserveVec(v *mat.VecDense, n int) {
	if n > 0 {
		*v = *mat.NewVecDense(n, nil)
		v.Reset()
	}
}

// inverse sets dst to the inverse of src, reporting ErrSingular on failure
func inverse(dst *mat.Dense, src mat.Matrix) error {
	dst.Reset()
	if err := dst.Inverse(src); err != nil {
		return fmt.Errorf("%w: %s", ErrSingular, err.Error())
	}
	return nil
}

// symmetrize replaces P with (P + P')/2
func symmetrize(P *mat.Dense) {
	n, _ := P.Dims()
	for i := range n {
		for j := i + 1; j < n; j++ {
			v := (P.At(i, j) + P.At(j, i)) / 2
			P.Set(i, j, v)
			P.Set(j, i, v)
		}
	}
}
