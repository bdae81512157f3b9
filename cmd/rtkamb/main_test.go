// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.19
//

package main

import (
	"bytes"
	"strings"
	"testing"

	m "github.com/mkhts/rtkamb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadProblem(t *testing.T) {
	src := `# float ambiguities, then covariance
5.45 3.10 2.97
6.290 5.978 0.544
5.978 6.292 2.340
0.544 2.340 6.288
`
	a, Q, err := readProblem(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, []float64{5.45, 3.10, 2.97}, a)
	assert.Equal(t, 3, Q.SymmetricDim())
	assert.Equal(t, 2.340, Q.At(2, 1))

	cand, err := m.Lambda(a, Q, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 3, 4}, cand.Fixed(0))
}

func TestReadProblemErrors(t *testing.T) {
	for _, src := range []string{
		"",
		"1 2\n",
		"1 2\n1 0\n",
		"1 2\n1 0\n0\n",
		"1 x\n1 0\n0 1\n",
	} {
		_, _, err := readProblem(strings.NewReader(src))
		assert.Error(t, err, src)
	}
}

func TestReplay(t *testing.T) {
	opt := m.NewRtkOpt()
	opt.PosMode = m.PosStatic
	sopt := m.NewScenarioOpt()
	sopt.Epochs = 5
	sopt.ApproxStd = 1

	var buf bytes.Buffer
	require.NoError(t, replay(cmdOpt{}, opt, sopt, nil, &buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5+5)
	assert.True(t, strings.HasPrefix(lines[0], "% program"))
	assert.Len(t, strings.Fields(lines[len(lines)-1]), 11)
}

func TestLoadScenarioOptStart(t *testing.T) {
	sopt, err := loadScenarioOpt(cmdOpt{start: "2026/10/19 00:00:30", epochs: 4})
	require.NoError(t, err)
	assert.Equal(t, m.GTime{Week: 2441, Sec: 86430}, sopt.Start)
	assert.Equal(t, 4, sopt.Epochs)

	sopt, err = loadScenarioOpt(cmdOpt{})
	require.NoError(t, err)
	assert.Equal(t, m.NewScenarioOpt().Start, sopt.Start)

	_, err = loadScenarioOpt(cmdOpt{start: "2026-10-19"})
	assert.Error(t, err)
}
