// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.19
//

package rtkamb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewGTime(t *testing.T) {
	ts := time.Date(2026, 10, 19, 0, 0, 30, 500000000, time.UTC)
	g := NewGTime(ts)
	assert.Equal(t, 2441, g.Week)
	assert.InDelta(t, 86430.5, g.Sec, 1e-9)
	assert.True(t, g.ToTime().Equal(ts))

	assert.Equal(t, GTime{}, *NewGTime(time.Date(1980, 1, 6, 0, 0, 0, 0, time.UTC)))
	assert.InDelta(t, 60.0, g.Add(60).Sub(*g), 1e-9)
}
