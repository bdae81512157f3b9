// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.19
//

package rtkamb

import (
	"fmt"
	"maps"
	"math"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/mat"
)

// Observations of one group
type obsGroup struct {
	id  int
	idx []int
}

// groupObs collects the observation indices of each group, ordered by group id
func groupObs(group []int, m int) []obsGroup {
	if group == nil {
		return []obsGroup{{id: 0, idx: seq(m)}}
	}
	ids := []int{}
	for _, g := range group {
		if !slices.Contains(ids, g) {
			ids = append(ids, g)
		}
	}
	slices.Sort(ids)
	gs := make([]obsGroup, len(ids))
	for i, id := range ids {
		gs[i].id = id
	}
	for j, g := range group {
		i := slices.Index(ids, g)
		gs[i].idx = append(gs[i].idx, j)
	}
	return gs
}

func seq(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}

// Kalman filter with Helmert variance component estimation between groups.
// Each round restarts from the prior with the current group scaling of R.
func (a *Adjuster) helmert(p *Problem, X *mat.VecDense, Rx *mat.Dense) (*AdjustStats, error) {
	_, m, err := p.dims(X, Rx)
	if err != nil {
		return nil, err
	}
	a.x0.Reset()
	a.x0.CloneFromVec(X)
	a.rx0.Reset()
	a.rx0.CloneFrom(Rx)

	groups := groupObs(p.Group, m)
	if len(groups) < 2 {
		return a.helmertFallback(p, X, Rx, nil, fmt.Errorf("%w: %d group(s)", ErrInsufficientObs, len(groups)))
	}

	scale := map[int]float64{}
	for _, g := range groups {
		scale[g.id] = 1
	}
	var good map[int]float64
	iter := 0
	for iter < a.maxIter {
		iter++
		X.CopyVec(&a.x0)
		Rx.Copy(&a.rx0)
		a.scaleR(p.R, p.Group, scale)
		st, err := a.kalman(&Problem{A: p.A, L: p.L, R: &a.rs}, X, Rx)
		if err != nil {
			return a.helmertFallback(p, X, Rx, good, err)
		}
		sig, err := varianceComponents(p.A, &a.rs, st.V, Rx, groups)
		if err != nil {
			return a.helmertFallback(p, X, Rx, good, err)
		}
		conv := true
		for i, g := range groups {
			r := sig[i] / sig[0]
			scale[g.id] *= r
			if math.Abs(r-1) > 1e-3 {
				conv = false
			}
		}
		good = maps.Clone(scale)
		PrintD(3, "\thelmert(%d): sigma^2=%v, scale=%v\n", iter, sig, scale)
		if conv {
			break
		}
	}

	X.CopyVec(&a.x0)
	Rx.Copy(&a.rx0)
	a.scaleR(p.R, p.Group, scale)
	st, err := a.kalman(&Problem{A: p.A, L: p.L, R: &a.rs}, X, Rx)
	if err != nil {
		return a.helmertFallback(p, X, Rx, good, err)
	}
	a.lastScale = maps.Clone(scale)
	st.Strategy = StratKalmanHelmert
	st.Scale = scale
	st.Iter = iter
	return st, nil
}

// helmertFallback restores the prior and runs a plain Kalman update
// following the configured policy
func (a *Adjuster) helmertFallback(p *Problem, X *mat.VecDense, Rx *mat.Dense, good map[int]float64, cause error) (*AdjustStats, error) {
	PrintD(2, "\thelmert failed, fallback to kalman (%s): %s\n", a.fallback, cause.Error())
	X.CopyVec(&a.x0)
	Rx.Copy(&a.rx0)

	var scale map[int]float64
	if a.fallback == FallbackLastScale {
		scale = good
		if scale == nil {
			scale = a.lastScale
		}
	}
	q := p
	if scale != nil {
		a.scaleR(p.R, p.Group, scale)
		q = &Problem{A: p.A, L: p.L, R: &a.rs, Group: p.Group}
	}
	st, err := a.kalman(q, X, Rx)
	if err != nil {
		return nil, fmt.Errorf("helmert fallback: %w", err)
	}
	st.Fallback = true
	st.Scale = maps.Clone(scale)
	return st, nil
}

// scaleR sets the scratch covariance to R with each group block multiplied by its scale
func (a *Adjuster) scaleR(R mat.Matrix, group []int, scale map[int]float64) {
	a.rs.Reset()
	a.rs.CloneFrom(R)
	if group == nil {
		return
	}
	m := len(group)
	for i := range m {
		for j := range m {
			if group[i] != group[j] {
				continue
			}
			if s, ok := scale[group[i]]; ok {
				a.rs.Set(i, j, a.rs.At(i, j)*s)
			}
		}
	}
}

// varianceComponents solves S sigma^2 = W for the variance factor of each group.
//
//	N_i = A_i R_i^-1 A_i^t, M_i = N_i Rx
//	S_ii = n_i - 2 tr(M_i) + tr(M_i M_i), S_ij = tr(M_i M_j)
//	W_i = V_i^t R_i^-1 V_i
func varianceComponents(A mat.Matrix, R *mat.Dense, V *mat.VecDense, Rx *mat.Dense, groups []obsGroup) ([]float64, error) {
	n, _ := A.Dims()
	k := len(groups)
	M := make([]*mat.Dense, k)
	W := make([]float64, k)
	for gi, g := range groups {
		mi := len(g.idx)
		Ai := mat.NewDense(n, mi, nil)
		Ri := mat.NewDense(mi, mi, nil)
		Vi := mat.NewVecDense(mi, nil)
		for c, j := range g.idx {
			for r := range n {
				Ai.Set(r, c, A.At(r, j))
			}
			for c2, j2 := range g.idx {
				Ri.Set(c, c2, R.At(j, j2))
			}
			Vi.SetVec(c, V.AtVec(j))
		}
		var Riinv mat.Dense
		if err := inverse(&Riinv, Ri); err != nil {
			return nil, fmt.Errorf("group %d covariance: %w", g.id, err)
		}
		var AR, Ni mat.Dense
		AR.Mul(Ai, &Riinv)
		Ni.Mul(&AR, Ai.T())
		M[gi] = &mat.Dense{}
		M[gi].Mul(&Ni, Rx)

		var t mat.VecDense
		t.MulVec(&Riinv, Vi)
		W[gi] = mat.Dot(Vi, &t)
	}

	S := mat.NewDense(k, k, nil)
	var MM mat.Dense
	for i := range k {
		for j := i; j < k; j++ {
			MM.Reset()
			MM.Mul(M[i], M[j])
			tr := mat.Trace(&MM)
			if i == j {
				S.Set(i, i, float64(len(groups[i].idx))-2*mat.Trace(M[i])+tr)
			} else {
				S.Set(i, j, tr)
				S.Set(j, i, tr)
			}
		}
	}

	var sig mat.VecDense
	if err := sig.SolveVec(S, mat.NewVecDense(k, W)); err != nil {
		return nil, fmt.Errorf("%w: variance components: %s", ErrSingular, err.Error())
	}
	out := make([]float64, k)
	for i := range k {
		out[i] = sig.AtVec(i)
		if !(out[i] > 0) {
			return nil, fmt.Errorf("%w: variance component of group %d = %g", ErrNotPosDef, groups[i].id, out[i])
		}
	}
	return out, nil
}
