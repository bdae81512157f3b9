// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.19
//

package rtkamb

import "golang.org/x/exp/slices"

// Sample is one single-differenced (rover - base) observation of a signal.
// Zero Cp/Pr/Dp mean the observation is absent.
type Sample struct {
	Time GTime
	Cp   float64 // Carrier phase [cycle]
	Pr   float64 // Pseudorange [m]
	Dp   float64 // Doppler [Hz]
	LLI  byte    // Loss-of-lock indicator of rover | base
	Slip byte    // Slip flags set by the detectors
}

// Valid reports whether both phase and code are present
func (s *Sample) Valid() bool {
	return s.Cp != 0 && s.Pr != 0
}

// Window is a fixed-capacity ring buffer of samples.
// The newest sample is at age 0.
type Window struct {
	buf []Sample
	pos int // Next write position
	n   int // Number of stored samples
}

func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{buf: make([]Sample, size)}
}

// Append stores s as the newest sample, evicting the oldest when full
func (w *Window) Append(s Sample) {
	w.buf[w.pos] = s
	w.pos = (w.pos + 1) % len(w.buf)
	if w.n < len(w.buf) {
		w.n++
	}
}

// Clone returns an independent copy of the window
func (w *Window) Clone() *Window {
	c := *w
	c.buf = slices.Clone(w.buf)
	return &c
}

func (w *Window) Len() int { return w.n }
func (w *Window) Cap() int { return len(w.buf) }

// At returns the sample of the given age (0: newest), or nil when out of range
func (w *Window) At(age int) *Sample {
	if age < 0 || age >= w.n {
		return nil
	}
	i := (w.pos - 1 - age + 2*len(w.buf)) % len(w.buf)
	return &w.buf[i]
}

// Shift adds dcp cycles to the phase of every valid sample older than the newest
func (w *Window) Shift(dcp float64) {
	for age := 1; age < w.n; age++ {
		if s := w.At(age); s.Cp != 0 {
			s.Cp += dcp
		}
	}
}

// Truncate drops every sample except the newest
func (w *Window) Truncate() {
	if w.n == 0 {
		return
	}
	newest := *w.At(0)
	w.Clear()
	w.Append(newest)
}

func (w *Window) Clear() {
	for i := range w.buf {
		w.buf[i] = Sample{}
	}
	w.pos = 0
	w.n = 0
}
