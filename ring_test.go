// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.19
//

package rtkamb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindow(t *testing.T) {
	w := NewWindow(3)
	assert.Equal(t, 3, w.Cap())
	assert.Zero(t, w.Len())
	assert.Nil(t, w.At(0))

	for i := 1; i <= 5; i++ {
		w.Append(Sample{Cp: float64(i), Pr: 10})
	}
	require.Equal(t, 3, w.Len())
	assert.Equal(t, 5.0, w.At(0).Cp)
	assert.Equal(t, 4.0, w.At(1).Cp)
	assert.Equal(t, 3.0, w.At(2).Cp)
	assert.Nil(t, w.At(3))
	assert.Nil(t, w.At(-1))

	w.Shift(10)
	assert.Equal(t, 5.0, w.At(0).Cp)
	assert.Equal(t, 14.0, w.At(1).Cp)
	assert.Equal(t, 13.0, w.At(2).Cp)

	w.Truncate()
	assert.Equal(t, 1, w.Len())
	assert.Equal(t, 5.0, w.At(0).Cp)

	w.Clear()
	assert.Zero(t, w.Len())
	w.Truncate()
	assert.Zero(t, w.Len())

	assert.Equal(t, 1, NewWindow(0).Cap())
}

func TestWindowShiftSkipsAbsent(t *testing.T) {
	w := NewWindow(4)
	w.Append(Sample{Cp: 1, Pr: 1})
	w.Append(Sample{Pr: 1})
	w.Append(Sample{Cp: 3, Pr: 1})
	w.Shift(-2)
	assert.Equal(t, -1.0, w.At(2).Cp)
	assert.Zero(t, w.At(1).Cp)
	assert.False(t, w.At(1).Valid())
	assert.Equal(t, 3.0, w.At(0).Cp)
}

func TestWindowClone(t *testing.T) {
	w := NewWindow(3)
	w.Append(Sample{Cp: 1, Pr: 1})
	w.Append(Sample{Cp: 2, Pr: 1})
	c := w.Clone()
	w.Append(Sample{Cp: 3, Pr: 1})
	w.Shift(10)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 2.0, c.At(0).Cp)
	assert.Equal(t, 1.0, c.At(1).Cp)
	assert.Equal(t, 12.0, w.At(1).Cp)
}

func TestRegister(t *testing.T) {
	var r Register
	assert.False(t, r.Valid())
	r.Push(tStart, 2)
	assert.False(t, r.Valid())
	r.Push(tStart.Add(5), 3.5)
	require.True(t, r.Valid())
	assert.Equal(t, 1.5, r.Delta())
	assert.Equal(t, 5.0, r.Dt())
	r.Clear()
	assert.False(t, r.Valid())
}

func TestCombinations(t *testing.T) {
	lam1, lam2 := 0.19029367, 0.24421021
	r, n1, n2, iono := 2.2e7, 12.0, -4.0, 3.2

	// Phase advances and code delays by the ionosphere, scaled by lam^2
	i2 := iono * SQ(lam2/lam1)
	cp1, cp2 := (r-iono)/lam1+n1, (r-i2)/lam2+n2
	pr1, pr2 := r+iono, r+i2

	assert.InDelta(t, (n1*lam1-n2*lam2)-(iono-i2), GeometryFree(cp1, cp2, lam1, lam2), 1e-6)
	assert.Zero(t, GeometryFree(0, cp2, lam1, lam2))

	assert.InDelta(t, r, IonoFree(pr1, pr2, lam1, lam2), 1e-6)
	assert.Zero(t, IonoFree(pr1, pr2, lam1, lam1))
	assert.InDelta(t, iono, IonoDelay(pr1, pr2, lam1, lam2), 1e-6)

	// Geometry and ionosphere cancel in the wide-lane
	assert.InDelta(t, n1-n2, MelbourneWubbena(cp1, cp2, pr1, pr2, lam1, lam2), 1e-6)
	assert.Zero(t, MelbourneWubbena(cp1, cp2, 0, pr2, lam1, lam2))

	assert.Greater(t, IonoFreeVarFactor(lam1, lam2), 1.0)
}

func TestWLAverage(t *testing.T) {
	var a wlAverage
	assert.Zero(t, a.Std())
	for _, x := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		a.Add(x)
	}
	assert.Equal(t, 8, a.N)
	assert.InDelta(t, 5.0, a.Mean, 1e-12)
	assert.InDelta(t, 2.138089935299395, a.Std(), 1e-12)
	a.Shift(1)
	assert.InDelta(t, 6.0, a.Mean, 1e-12)
	a.Reset()
	assert.Zero(t, a.N)
}
