// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.19
//

// Linear combinations of dual-frequency observations.

package rtkamb

import "math"

// Register keeps the previous and current value of a combination.
// Only valid values are pushed, so Prev is the last value before Curr.
type Register struct {
	Prev, Curr         float64
	PrevTime, CurrTime GTime
}

func (r *Register) Push(t GTime, v float64) {
	r.Prev, r.PrevTime = r.Curr, r.CurrTime
	r.Curr, r.CurrTime = v, t
}

// Valid reports whether both slots hold a value
func (r *Register) Valid() bool {
	return r.Prev != 0 && r.Curr != 0
}

func (r *Register) Delta() float64 {
	return r.Curr - r.Prev
}

// Dt returns the time between the two slots [s]
func (r *Register) Dt() float64 {
	return r.CurrTime.Sub(r.PrevTime)
}

func (r *Register) Clear() {
	*r = Register{}
}

// GeometryFree returns L1*lam1 - L2*lam2 [m], or 0 when a phase is missing
func GeometryFree(cp1, cp2, lam1, lam2 float64) float64 {
	if cp1 == 0 || cp2 == 0 || lam1 <= 0 || lam2 <= 0 {
		return 0
	}
	return cp1*lam1 - cp2*lam2
}

// IonoFree returns the first order ionosphere-free combination of v1, v2 [m]
func IonoFree(v1, v2, lam1, lam2 float64) float64 {
	if v1 == 0 || v2 == 0 || lam1 <= 0 || lam2 <= 0 || lam1 == lam2 {
		return 0
	}
	return ionoFreeLin(v1, v2, lam1, lam2)
}

// ionoFreeLin applies the ionosphere-free coefficients without checking for absent values
func ionoFreeLin(v1, v2, lam1, lam2 float64) float64 {
	a, b := lam2*lam2, lam1*lam1
	return (a*v1 - b*v2) / (a - b)
}

// IonoFreeVarFactor returns the noise amplification of the ionosphere-free combination
func IonoFreeVarFactor(lam1, lam2 float64) float64 {
	a, b := lam2*lam2, lam1*lam1
	return (a*a + b*b) / SQ(a-b)
}

// MelbourneWubbena returns the wide-lane phase minus narrow-lane code [wide-lane cycle]
func MelbourneWubbena(cp1, cp2, pr1, pr2, lam1, lam2 float64) float64 {
	if cp1 == 0 || cp2 == 0 || pr1 == 0 || pr2 == 0 || lam1 <= 0 || lam2 <= 0 {
		return 0
	}
	return (cp1 - cp2) - (pr1/lam1+pr2/lam2)*(lam2-lam1)/(lam1+lam2)
}

// IonoDelay returns the slant ionospheric delay on the first frequency [m]
// estimated from the code observations of two frequencies
func IonoDelay(pr1, pr2, lam1, lam2 float64) float64 {
	if pr1 == 0 || pr2 == 0 || lam1 <= 0 || lam2 <= 0 || lam1 == lam2 {
		return 0
	}
	g := SQ(lam2 / lam1)
	return (pr2 - pr1) / (g - 1)
}

// Running average of the wide-lane combination
type wlAverage struct {
	N    int
	Mean float64
	m2   float64
}

// Add folds x into the average (Welford)
func (a *wlAverage) Add(x float64) {
	a.N++
	d := x - a.Mean
	a.Mean += d / float64(a.N)
	a.m2 += d * (x - a.Mean)
}

// Std returns the sample standard deviation
func (a *wlAverage) Std() float64 {
	if a.N < 2 {
		return 0
	}
	return math.Sqrt(a.m2 / float64(a.N-1))
}

func (a *wlAverage) Shift(d float64) {
	a.Mean += d
}

func (a *wlAverage) Reset() {
	*a = wlAverage{}
}
