// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.19
//

package rtkamb

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/mat"
)

// ------------------------------------
// Mini functions
// ------------------------------------

func SQ(x float64) float64 {
	return x * x
}

func ToDeg(rad float64) float64 {
	return rad / PI * 180.0
}

func ToRad(deg float64) float64 {
	return deg / 180.0 * PI
}

// ------------------------------------
// Debug print function
// ------------------------------------

// Debug display level
var DBG_ int

// Destination of debug output
var DbgOut io.Writer = os.Stderr

func PrintMat(X mat.Matrix) {
	r, c := X.Dims()
	fmt.Fprintf(DbgOut, "(%d x %d)\n", r, c)
	fa := mat.Formatted(X, mat.Prefix(""), mat.Squeeze())
	fmt.Fprintf(DbgOut, "%v\n", fa)
}

func PrintA(format string, a ...any) {
	fmt.Fprintf(DbgOut, format, a...)
}

func PrintAIf(cond bool, format string, a ...any) {
	if cond {
		PrintA(format, a...)
	}
}

func PrintB(t GTime, format string, a ...any) {
	fmt.Fprintf(DbgOut, t.ToTime().UTC().Format("2006-01-02T15:04:05.000000")+"\t"+format, a...)
}

// Debug display
func PrintD(v int, format string, a ...any) {
	PrintAIf(DBG_ >= v, format, a...)
}

// Debug display of a matrix
func PrintMatD(v int, name string, X mat.Matrix) {
	if DBG_ >= v {
		PrintA("--- %s ---\n", name)
		PrintMat(X)
	}
}

func PrintE(err error) {
	fmt.Fprintf(DbgOut, "err=%s\n", err.Error())
}

// ------------------------------------
// Satellite lists
// ------------------------------------

// Order of satellite systems in lists and Helmert groups
var sysOrder = []SysType{'G', 'J', 'E', 'R', 'C', 'S'}

// SysIndex returns the position of the system in the processing order, or -1
func SysIndex(sys SysType) int {
	return slices.Index(sysOrder, sys)
}

func cmpSat(a, b SatType) int {
	ia, ib := SysIndex(a.Sys()), SysIndex(b.Sys())
	if ia != ib {
		return ia - ib
	}
	if na, nb := a.Num(), b.Num(); na != nb {
		return na - nb
	}
	return strings.Compare(string(a), string(b))
}

// Sort the list of satellite names
func Sorted(s []SatType) []SatType {
	s2 := make([]SatType, len(s))
	copy(s2, s)
	slices.SortFunc(s2, cmpSat)
	return s2
}

// Sort satellite/frequency list by frequency, then system and number
func SortedSatF(s []SatFType) []SatFType {
	s2 := make([]SatFType, len(s))
	copy(s2, s)
	slices.SortFunc(s2, func(a, b SatFType) int {
		if a.F != b.F {
			return a.F - b.F
		}
		return cmpSat(a.Sat, b.Sat)
	})
	return s2
}

// Chi-squared test (α=0.001)
func ChiSqr(i int) float64 {
	v := [...]float64{
		10.8, 13.8, 16.3, 18.5, 20.5, 22.5, 24.3, 26.1, 27.9, 29.6,
		31.3, 32.9, 34.5, 36.1, 37.7, 39.3, 40.8, 42.3, 43.8, 45.3,
		46.8, 48.3, 49.7, 51.2, 52.6, 54.1, 55.5, 56.9, 58.3, 59.7,
		61.1, 62.5, 63.9, 65.2, 66.6, 68.0, 69.3, 70.7, 72.1, 73.4,
		74.7, 76.0, 77.3, 78.6, 80.0, 81.3, 82.6, 84.0, 85.4, 86.7,
		88.0, 89.3, 90.6, 91.9, 93.3, 94.7, 96.0, 97.4, 98.7, 100,
		101, 102, 103, 104, 105, 107, 108, 109, 110, 112,
		113, 114, 115, 116, 118, 119, 120, 122, 123, 125,
		126, 127, 128, 129, 131, 132, 133, 134, 135, 137,
		138, 139, 140, 142, 143, 144, 145, 147, 148, 149}
	if i >= 0 && i < len(v) {
		return v[i]
	}
	return 0
}
