// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.19
//

package rtkamb

import (
	"math"
	"time"
)

const secPerWeek = 3600 * 24 * 7

// GPS time (week number and seconds of week)
type GTime struct {
	Week int
	Sec  float64
}

func NewGTime(dt time.Time) *GTime {
	t := dt.Unix()
	t -= time.Date(1980, 1, 6, 0, 0, 0, 0, time.UTC).Unix() // Elapsed seconds since 1980/1/6 00:00:00
	return &GTime{
		Week: int(t / secPerWeek),
		Sec:  float64(t%secPerWeek) + float64(dt.Nanosecond())/1000000000,
	}
}

func (p GTime) ToTime() time.Time {
	o := time.Date(1980, 1, 6, 0, 0, 0, 0, time.UTC).Unix() // GPS time starts from 1980/1/6 00:00:00
	i := int64(math.Trunc(p.Sec))
	t := int64(secPerWeek*p.Week) + i + o
	n := int64((p.Sec - float64(i)) * 1e9)
	return time.Unix(t, n)
}

// IsZero reports whether the time is unset
func (p GTime) IsZero() bool {
	return p.Week == 0 && p.Sec == 0
}

// Sub returns p - b in seconds
func (p GTime) Sub(b GTime) float64 {
	return float64(p.Week-b.Week)*secPerWeek + (p.Sec - b.Sec)
}

// Add returns the time shifted by sec seconds, normalised to the week
func (p GTime) Add(sec float64) GTime {
	t := GTime{Week: p.Week, Sec: p.Sec + sec}
	for t.Sec >= secPerWeek {
		t.Sec -= secPerWeek
		t.Week++
	}
	for t.Sec < 0 {
		t.Sec += secPerWeek
		t.Week--
	}
	return t
}

func (p GTime) Less(b GTime) bool {
	if p.Week == b.Week {
		return p.Sec < b.Sec
	}
	return p.Week < b.Week
}

func (p GTime) String() string {
	return p.ToTime().UTC().Format("2006/01/02 15:04:05.000")
}
