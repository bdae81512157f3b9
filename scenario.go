// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.19
//

// Deterministic generator of rover/base observations for replay and tests.

package rtkamb

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// InjectedSlip adds a cycle slip to the rover phase from Epoch on
type InjectedSlip struct {
	Epoch  int     `yaml:"epoch"`
	Sat    SatType `yaml:"sat"`
	F      int     `yaml:"freq"`
	Cycles float64 `yaml:"cycles"`
	LLI    bool    `yaml:"lli"` // Set LLI bit0 at the slip epoch
}

// ScenarioOpt configures the generator
type ScenarioOpt struct {
	Seed      uint64         `yaml:"seed"`
	Start     GTime          `yaml:"start"`
	Epochs    int            `yaml:"epochs"`
	Interval  float64        `yaml:"interval"`   // [s]
	NumFreq   int            `yaml:"num-freq"`   // Frequencies per satellite
	NumGPS    int            `yaml:"num-gps"`    // Number of GPS satellites
	NumGAL    int            `yaml:"num-gal"`    // Number of Galileo satellites
	BasePos   PosLLH         `yaml:"-"`          // Base position
	Baseline  PosENU         `yaml:"baseline"`   // Rover offset from the base at start [m]
	Velocity  PosENU         `yaml:"velocity"`   // Rover velocity [m/s]
	StdCp     float64        `yaml:"std-cp"`     // Phase noise [m]
	StdPr     float64        `yaml:"std-pr"`     // Code noise [m]
	StdDp     float64        `yaml:"std-dp"`     // Doppler noise [Hz]
	Iono      float64        `yaml:"iono"`       // Std of the rover-base ionosphere difference on L1 [m]
	ApproxStd float64        `yaml:"approx-std"` // Noise of the approximate rover position [m] (0: not given)
	Slips     []InjectedSlip `yaml:"slips"`
}

// NewScenarioOpt returns a short static baseline with GPS and Galileo
func NewScenarioOpt() *ScenarioOpt {
	return &ScenarioOpt{
		Seed:     1,
		Start:    GTime{Week: 2400, Sec: 86400},
		Epochs:   60,
		Interval: 1,
		NumFreq:  2,
		NumGPS:   8,
		NumGAL:   6,
		BasePos:  PosLLH{Lat: ToRad(35.0), Lon: ToRad(139.0), Hei: 50},
		Baseline: PosENU{E: 300, N: 400, U: 10},
		StdCp:    0.002,
		StdPr:    0.3,
		StdDp:    0.03,
		Iono:     0.002,
	}
}

type simSat struct {
	sat      SatType
	az, el   float64 // At start [rad]
	daz, del float64 // Rates [rad/s]
	iono     float64 // Base slant delay on L1 [m]
	dIono    float64 // Rover minus base delay on L1 [m]
	amb      [2][NFREQ]float64
}

// Scenario generates the epochs of a simulated rover and base
type Scenario struct {
	opt   ScenarioOpt
	base  PosXYZ
	sats  []simSat
	lam   Wavelengths
	clk   [2]float64 // Receiver clock offsets (base, rover) [m]
	drift [2]float64 // Receiver clock drifts [m/s]
	norm  distuv.Normal
	k     int
}

// NewScenario creates a generator. The same options always produce the same epochs.
func NewScenario(opt *ScenarioOpt) (*Scenario, error) {
	if opt.Epochs < 0 || opt.Interval <= 0 {
		return nil, fmt.Errorf("invalid epochs/interval: %d/%.3f", opt.Epochs, opt.Interval)
	}
	if opt.NumFreq < 1 || opt.NumFreq > 3 {
		return nil, fmt.Errorf("invalid number of frequencies: %d", opt.NumFreq)
	}
	if opt.NumGPS+opt.NumGAL < 2 {
		return nil, fmt.Errorf("too few satellites: %d", opt.NumGPS+opt.NumGAL)
	}
	src := rand.NewSource(opt.Seed)
	uni := distuv.Uniform{Min: 0, Max: 1, Src: src}
	s := &Scenario{
		opt:  *opt,
		base: opt.BasePos.ToXYZ(),
		norm: distuv.Normal{Mu: 0, Sigma: 1, Src: src},
	}
	for r := range 2 {
		s.clk[r] = (uni.Rand() - 0.5) * 2e3
		s.drift[r] = (uni.Rand() - 0.5) * 2
	}
	names := []SatType{}
	for i := range opt.NumGPS {
		names = append(names, SatType(fmt.Sprintf("G%02d", i+1)))
	}
	for i := range opt.NumGAL {
		names = append(names, SatType(fmt.Sprintf("E%02d", i+1)))
	}
	s.lam = NewWavelengths(names, nil)
	for i, sat := range names {
		ss := simSat{
			sat: sat,
			az:  2 * PI * (float64(i) + uni.Rand()) / float64(len(names)),
			el:  ToRad(20 + 65*uni.Rand()),
			daz: (uni.Rand() - 0.5) * 2e-4,
			del: (uni.Rand() - 0.5) * 1e-4,
		}
		ss.iono = (1 + 4*uni.Rand()) / math.Sin(ss.el)
		ss.dIono = opt.Iono * s.norm.Rand()
		for r := range 2 {
			for f := range opt.NumFreq {
				ss.amb[r][f] = math.Round((uni.Rand() - 0.5) * 2e5)
			}
		}
		s.sats = append(s.sats, ss)
	}
	return s, nil
}

// Wavelengths returns the carrier wavelengths of the simulated satellites
func (s *Scenario) Wavelengths() Wavelengths {
	return s.lam
}

// BasePos returns the base position
func (s *Scenario) BasePos() PosXYZ {
	return s.base
}

// TruePos returns the rover position at time t
func (s *Scenario) TruePos(t GTime) PosXYZ {
	tt := t.Sub(s.opt.Start)
	v := s.opt.Velocity
	return PosENU{
		E: s.opt.Baseline.E + v.E*tt,
		N: s.opt.Baseline.N + v.N*tt,
		U: s.opt.Baseline.U + v.U*tt,
	}.ToXYZ(s.base)
}

// Orbit radius over the earth radius
const (
	simRe = 6371e3
	simH  = 20200e3
)

// Satellite position at tt seconds from the start
func (s *Scenario) satPos(ss *simSat, tt float64) PosXYZ {
	az := ss.az + ss.daz*tt
	el := ss.el + ss.del*tt
	sinel := math.Sin(el)
	rho := -simRe*sinel + math.Sqrt(SQ(simRe*sinel)+simH*simH+2*simRe*simH)
	return PosENU{
		E: rho * math.Cos(el) * math.Sin(az),
		N: rho * math.Cos(el) * math.Cos(az),
		U: rho * sinel,
	}.ToXYZ(s.base)
}

// Next returns the next epoch, or false after the last one
func (s *Scenario) Next() (*EpochInput, bool) {
	if s.k >= s.opt.Epochs {
		return nil, false
	}
	k := s.k
	s.k++
	tt := float64(k) * s.opt.Interval
	t := s.opt.Start.Add(tt)
	rovPos := s.TruePos(t)

	for _, sl := range s.opt.Slips {
		if sl.Epoch != k {
			continue
		}
		for i := range s.sats {
			if s.sats[i].sat == sl.Sat && sl.F >= 0 && sl.F < NFREQ {
				s.sats[i].amb[1][sl.F] += sl.Cycles
			}
		}
	}

	in := &EpochInput{
		Time:        t,
		Rover:       NewObsE(t),
		Base:        NewObsE(t),
		SatPos:      map[SatType]PosXYZ{},
		BasePos:     s.base,
		Wavelengths: s.lam,
	}
	if s.opt.ApproxStd > 0 {
		in.RoverPos = PosXYZ{
			X: rovPos.X + s.opt.ApproxStd*s.norm.Rand(),
			Y: rovPos.Y + s.opt.ApproxStd*s.norm.Rand(),
			Z: rovPos.Z + s.opt.ApproxStd*s.norm.Rand(),
		}
	}

	const h = 0.5
	for i := range s.sats {
		ss := &s.sats[i]
		sp := s.satPos(ss, tt)
		in.SatPos[ss.sat] = sp
		for r, obs := range []*ObsE{in.Base, in.Rover} {
			pos := s.base
			p0, p1 := s.base, s.base
			iono := ss.iono
			if r == 1 {
				pos = rovPos
				p0, p1 = s.TruePos(t.Add(-h)), s.TruePos(t.Add(h))
				iono += ss.dIono
			}
			rho := pos.Dist(sp)
			rate := (p1.Dist(s.satPos(ss, tt+h)) - p0.Dist(s.satPos(ss, tt-h))) / (2 * h)
			clk := s.clk[r] + s.drift[r]*tt

			o := &ObsS{}
			lam := s.lam[ss.sat]
			for f := range s.opt.NumFreq {
				if lam[f] == 0 {
					continue
				}
				ion := iono * SQ(lam[f]/lam[0])
				o.Pr[f] = rho + clk + ion + s.opt.StdPr*s.norm.Rand()
				o.Cp[f] = (rho+clk-ion+s.opt.StdCp*s.norm.Rand())/lam[f] + ss.amb[r][f]
				o.Dp[f] = -(rate+s.drift[r])/lam[f] + s.opt.StdDp*s.norm.Rand()
				o.Sn[f] = 45
			}
			if r == 1 {
				for _, sl := range s.opt.Slips {
					if sl.Epoch == k && sl.LLI && sl.Sat == ss.sat && sl.F >= 0 && sl.F < NFREQ {
						o.LLI[sl.F] |= 1
					}
				}
			}
			obs.DatS[ss.sat] = o
		}
	}
	return in, true
}
