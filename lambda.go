// This code is adapted from RTKLIB.
// The author gratefully acknowledges T.Takasu for his outstanding contribution in developing RTKLIB.
//
// Last modified: 2026.10.19
//

// Integer least-squares ambiguity resolution (LAMBDA/MLAMBDA).

package rtkamb

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Default maximum number of search loops
const LOOPMAX = 10000

// Candidates holds integer vectors ranked by ascending quadratic form
type Candidates struct {
	F *mat.Dense // Integer vectors, one per column (n x m)
	S []float64  // Squared residual norms of the candidates
}

// Len returns the number of candidates
func (c *Candidates) Len() int {
	return len(c.S)
}

// Fixed returns candidate i as a slice
func (c *Candidates) Fixed(i int) []float64 {
	return mat.Col(nil, i, c.F)
}

// Ratio returns S[1]/S[0], the ratio test statistic
func (c *Candidates) Ratio() float64 {
	if len(c.S) < 2 || c.S[0] <= 0 {
		return 0
	}
	return c.S[1] / c.S[0]
}

func sgn(x float64) float64 {
	if x <= 0.0 {
		return -1.0
	} else {
		return 1.0
	}
}

// LDFactor factorizes Q = L' diag(D) L with unit lower triangular L
func LDFactor(Q mat.Symmetric) (*mat.Dense, []float64, error) {
	n := Q.SymmetricDim()
	if n == 0 {
		return nil, nil, ErrNoData
	}
	A := mat.NewDense(n, n, nil)
	A.Copy(Q)
	L := mat.NewDense(n, n, nil)
	D := make([]float64, n)
	for i := n - 1; i > -1; i-- {
		D[i] = A.At(i, i)
		if !(D[i] > 0) {
			return nil, nil, fmt.Errorf("%w: LD factorization pivot %d = %g", ErrNotPosDef, i, D[i])
		}
		a := math.Sqrt(D[i])
		for j := 0; j < i+1; j++ {
			L.Set(i, j, A.At(i, j)/a)
		}
		for j := 0; j < i; j++ {
			for k := 0; k < j+1; k++ {
				A.Set(j, k, A.At(j, k)-L.At(i, k)*L.At(i, j))
			}
		}
		lii := L.At(i, i)
		for j := 0; j < i+1; j++ {
			L.Set(i, j, L.At(i, j)/lii)
		}
	}
	return L, D, nil
}

// Integer gauss transformation of column j by row i
func gauss(L, Z *mat.Dense, i, j int) {
	n, _ := L.Dims()
	mu := math.Round(L.At(i, j))
	if mu != 0 {
		for k := i; k < n; k++ {
			L.Set(k, j, L.At(k, j)-mu*L.At(k, i))
		}
		for k := 0; k < n; k++ {
			Z.Set(k, j, Z.At(k, j)-mu*Z.At(k, i))
		}
	}
}

// Permutation of dimensions j and j+1
func perm(L *mat.Dense, D []float64, j int, del float64, Z *mat.Dense) {
	n, _ := L.Dims()
	eta := D[j] / del
	lam := D[j+1] * L.At(j+1, j) / del
	D[j] = eta * D[j+1]
	D[j+1] = del
	for k := 0; k < j; k++ {
		a0 := L.At(j, k)
		a1 := L.At(j+1, k)
		L.Set(j, k, -L.At(j+1, j)*a0+a1)
		L.Set(j+1, k, eta*a0+lam*a1)
	}
	L.Set(j+1, j, lam)
	for k := j + 2; k < n; k++ {
		a0, a1 := L.At(k, j), L.At(k, j+1)
		L.Set(k, j, a1)
		L.Set(k, j+1, a0)
	}
	for k := 0; k < n; k++ {
		a0, a1 := Z.At(k, j), Z.At(k, j+1)
		Z.Set(k, j, a1)
		Z.Set(k, j+1, a0)
	}
}

// Reduction decorrelates L and D in place by integer gauss transformations
// and permutations, accumulating them into the unimodular Z
func Reduction(L *mat.Dense, D []float64, Z *mat.Dense) {
	n, _ := L.Dims()
	j := n - 2
	k := n - 2
	for j >= 0 {
		if j <= k {
			for i := j + 1; i < n; i++ {
				gauss(L, Z, i, j)
			}
		}
		del := D[j] + L.At(j+1, j)*L.At(j+1, j)*D[j+1]
		if (del + 1e-6) < D[j+1] {
			perm(L, D, j, del, Z)
			k = j
			j = n - 2
		} else {
			j -= 1
		}
	}
}

// Search finds the m best integer vectors around zs (MLAMBDA).
// Candidates are returned as columns of zn ordered by ascending s.
func Search(L *mat.Dense, D []float64, zs []float64, m, loopMax int) (*mat.Dense, []float64, error) {
	n, _ := L.Dims()
	if loopMax <= 0 {
		loopMax = LOOPMAX
	}
	nn := 0
	imax := 0
	maxdist := math.Inf(1)
	zn := mat.NewDense(n, m, nil)
	s := make([]float64, m)
	S := mat.NewDense(n, n, nil)
	dist := make([]float64, n)
	zb := make([]float64, n)
	z := make([]float64, n)
	step := make([]float64, n)
	k := n - 1
	dist[k] = 0.0
	zb[k] = zs[k]
	z[k] = math.Round(zb[k])
	y := zb[k] - z[k]
	step[k] = sgn(y)
	c := 0
	for c = 0; c < loopMax; c++ {
		newdist := dist[k] + y*y/D[k]
		if newdist < maxdist {
			if k != 0 {
				// Move down
				k -= 1
				dist[k] = newdist
				for i := 0; i < k+1; i++ {
					S.Set(k, i, S.At(k+1, i)+(z[k+1]-zb[k+1])*L.At(k+1, i))
				}
				zb[k] = zs[k] + S.At(k, k)
				z[k] = math.Round(zb[k])
				y = zb[k] - z[k]
				step[k] = sgn(y)
			} else {
				// Store candidate and try next valid integer
				if nn < m {
					if nn == 0 || newdist > s[imax] {
						imax = nn
					}
					zn.SetCol(nn, z)
					s[nn] = newdist
					nn += 1
				} else {
					if newdist < s[imax] {
						zn.SetCol(imax, z)
						s[imax] = newdist
						imax = 0
						for i := 0; i < m; i++ {
							if s[imax] < s[i] {
								imax = i
							}
						}
					}
					maxdist = s[imax]
				}
				z[0] += step[0]
				y = zb[0] - z[0]
				step[0] = -step[0] - sgn(step[0])
			}
		} else {
			// Exit or move up
			if k == n-1 {
				break
			} else {
				k += 1
				z[k] += step[k]
				y = zb[k] - z[k]
				step[k] = -step[k] - sgn(step[k])
			}
		}
	}
	// Sort by s
	for i := 0; i < m-1; i++ {
		for j := i + 1; j < m; j++ {
			if s[i] < s[j] {
				continue
			}
			s[i], s[j] = s[j], s[i]
			for k := 0; k < n; k++ {
				a0, a1 := zn.At(k, i), zn.At(k, j)
				zn.Set(k, i, a1)
				zn.Set(k, j, a0)
			}
		}
	}
	if c >= loopMax {
		return nil, nil, fmt.Errorf("%w: %d", ErrSearchOverflow, loopMax)
	}
	return zn, s, nil
}

func identity(n int) *mat.Dense {
	Z := mat.NewDense(n, n, nil)
	for i := range n {
		Z.Set(i, i, 1)
	}
	return Z
}

func checkArgs(a []float64, Q mat.Symmetric, m int) error {
	n := len(a)
	if n <= 0 || m <= 0 {
		return fmt.Errorf("%w: n=%d, m=%d", ErrNoData, n, m)
	}
	if Q.SymmetricDim() != n {
		return fmt.Errorf("invalid matrix size. a(%d), Q(%d x %d)", n, Q.SymmetricDim(), Q.SymmetricDim())
	}
	return nil
}

// Lambda finds the m best integer vectors for the float vector a with covariance Q
func Lambda(a []float64, Q mat.Symmetric, m int) (*Candidates, error) {
	return LambdaLoop(a, Q, m, LOOPMAX)
}

// LambdaLoop is Lambda with an explicit search loop bound
func LambdaLoop(a []float64, Q mat.Symmetric, m, loopMax int) (*Candidates, error) {
	if err := checkArgs(a, Q, m); err != nil {
		return nil, err
	}
	n := len(a)

	// LD factorization and decorrelation
	L, D, err := LDFactor(Q)
	if err != nil {
		return nil, err
	}
	Z := identity(n)
	Reduction(L, D, Z)

	// z = Z' a
	var z mat.VecDense
	z.MulVec(Z.T(), mat.NewVecDense(n, a))

	// MLAMBDA search
	E, s, err := Search(L, D, z.RawVector().Data, m, loopMax)
	if err != nil {
		return nil, err
	}

	// F = Z'^-1 E
	var F mat.Dense
	if err := F.Solve(Z.T(), E); err != nil {
		return nil, fmt.Errorf("%w: back transformation: %s", ErrSingular, err.Error())
	}
	F.Apply(func(_, _ int, v float64) float64 { return math.Round(v) }, &F)
	return &Candidates{F: &F, S: s}, nil
}

// LambdaReduction returns the decorrelating transformation Z of Q
func LambdaReduction(Q mat.Symmetric) (*mat.Dense, error) {
	L, D, err := LDFactor(Q)
	if err != nil {
		return nil, err
	}
	Z := identity(Q.SymmetricDim())
	Reduction(L, D, Z)
	return Z, nil
}

// LambdaSearch finds the m best integer vectors without decorrelation
func LambdaSearch(a []float64, Q mat.Symmetric, m int) (*Candidates, error) {
	if err := checkArgs(a, Q, m); err != nil {
		return nil, err
	}
	L, D, err := LDFactor(Q)
	if err != nil {
		return nil, err
	}
	E, s, err := Search(L, D, a, m, LOOPMAX)
	if err != nil {
		return nil, err
	}
	return &Candidates{F: E, S: s}, nil
}
