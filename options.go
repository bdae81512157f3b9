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
	"strings"

	"gopkg.in/yaml.v3"
)

// Adjustment strategy, selected once at configuration time
type Strategy int

const (
	StratLeastSquares Strategy = iota
	StratKalman
	StratKalmanHelmert
)

var strategyNames = []string{"ls", "kalman", "helmert"}

// Ambiguity resolution mode
type ARMode int

const (
	AROff           ARMode = iota // Float solution only
	ARContinuous                  // Carry ambiguities between epochs
	ARInstantaneous               // Reset ambiguities every epoch
	ARFixAndHold                  // Continuous and constrain the filter to fixed values
)

var arModeNames = []string{"off", "continuous", "instantaneous", "fix-and-hold"}

// Policy when the Helmert iteration cannot complete
type HelmertFallback int

const (
	FallbackUnscaled  HelmertFallback = iota // Plain Kalman with the nominal weights
	FallbackLastScale                        // Plain Kalman with the last successful scaling
)

var fallbackNames = []string{"unscaled", "last-scale"}

// Receiver dynamics model for the position parameters
type PosMode int

const (
	PosKinematic PosMode = iota
	PosStatic
)

var posModeNames = []string{"kinematic", "static"}

func enumString(names []string, i int) string {
	if i < 0 || i >= len(names) {
		return fmt.Sprintf("UNKNOWN(%d)", i)
	}
	return names[i]
}

func enumParse(names []string, s string) (int, error) {
	for i, n := range names {
		if strings.EqualFold(n, strings.TrimSpace(s)) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("invalid value %q, want one of %s", s, strings.Join(names, ","))
}

func (p Strategy) String() string        { return enumString(strategyNames, int(p)) }
func (p ARMode) String() string          { return enumString(arModeNames, int(p)) }
func (p HelmertFallback) String() string { return enumString(fallbackNames, int(p)) }
func (p PosMode) String() string         { return enumString(posModeNames, int(p)) }

func (p *Strategy) UnmarshalText(b []byte) error {
	i, err := enumParse(strategyNames, string(b))
	*p = Strategy(i)
	return err
}

func (p *ARMode) UnmarshalText(b []byte) error {
	i, err := enumParse(arModeNames, string(b))
	*p = ARMode(i)
	return err
}

func (p *HelmertFallback) UnmarshalText(b []byte) error {
	i, err := enumParse(fallbackNames, string(b))
	*p = HelmertFallback(i)
	return err
}

func (p *PosMode) UnmarshalText(b []byte) error {
	i, err := enumParse(posModeNames, string(b))
	*p = PosMode(i)
	return err
}

func (p Strategy) MarshalText() ([]byte, error)        { return []byte(p.String()), nil }
func (p ARMode) MarshalText() ([]byte, error)          { return []byte(p.String()), nil }
func (p HelmertFallback) MarshalText() ([]byte, error) { return []byte(p.String()), nil }
func (p PosMode) MarshalText() ([]byte, error)         { return []byte(p.String()), nil }

// Set implements flag.Value
func (p *Strategy) Set(s string) error { return p.UnmarshalText([]byte(s)) }
func (p *ARMode) Set(s string) error   { return p.UnmarshalText([]byte(s)) }

// RtkOpt contains the processing options of the estimation core
type RtkOpt struct {
	// Signals
	NumFreq  int  `yaml:"num-freq"`  // Number of frequencies to process
	IonoFree bool `yaml:"iono-free"` // Estimate one ionosphere-free ambiguity per satellite (float only)

	// Cycle slip detection and repair
	PolyOrder     int     `yaml:"poly-order"`      // Polynomial order of the phase predictor (window = order+1)
	PhaseNoise    float64 `yaml:"phase-noise"`     // Phase noise for the polynomial detector [cycle]
	DopplerNoise  float64 `yaml:"doppler-noise"`   // Doppler noise for the polynomial detector [Hz]
	RepairSlip    bool    `yaml:"repair-slip"`     // Try to repair detected slips
	SlipRepairTol float64 `yaml:"slip-repair-tol"` // Max distance of a jump estimate from an integer [cycle]
	IonoDrift     float64 `yaml:"iono-drift"`      // Geometry-free ionospheric drift bound [m/s]
	GFNoise       float64 `yaml:"gf-noise"`        // Geometry-free noise [m]
	MaxIonoGap    float64 `yaml:"max-iono-gap"`    // Max gap for the geometry-free test [s]
	WLSlipFactor  float64 `yaml:"wl-slip-factor"`  // Confidence factor of the wide-lane test
	MWNoise       float64 `yaml:"mw-noise"`        // Melbourne-Wubbena noise [wide-lane cycle]
	MinWLCount    int     `yaml:"min-wl-count"`    // Epochs averaged before the wide-lane test runs
	MaxGap        float64 `yaml:"max-gap"`         // Max un-repaired observation gap [s]

	// Ambiguity parameters
	AmbResetTime float64 `yaml:"amb-reset-time"` // Reset ambiguities older than this [s] (0: never)
	AmbInitStd   float64 `yaml:"amb-init-std"`   // Initial ambiguity std [m]
	ProcNoiseAmb float64 `yaml:"proc-noise-amb"` // Ambiguity random walk [m/sqrt(s)]

	// Position parameters
	PosMode      PosMode `yaml:"pos-mode"`       // Receiver dynamics
	VarPos       float64 `yaml:"var-pos"`        // Initial position variance [m^2]
	ProcNoisePos float64 `yaml:"proc-noise-pos"` // Static position random walk [m/sqrt(s)]

	// Observation model
	StdCp      float64 `yaml:"std-cp"`       // Carrier phase noise [m]
	StdPr      float64 `yaml:"std-pr"`       // Pseudorange noise [m]
	GloFactor  float64 `yaml:"glo-factor"`   // Noise factor of Glonass
	ElMask     float64 `yaml:"el-mask"`      // Elevation mask [deg]
	MaxInnovCp float64 `yaml:"max-innov-cp"` // Carrier phase innovation threshold [m]
	MaxInnovPr float64 `yaml:"max-innov-pr"` // Pseudorange innovation threshold [m]
	ChiTest    bool    `yaml:"chi-test"`     // Reject AR when the float residuals fail the chi-square test

	// Adjustment
	Strategy        Strategy        `yaml:"strategy"`         // Adjustment strategy
	MaxHelmertIter  int             `yaml:"max-helmert-iter"` // Helmert iterations
	HelmertFallback HelmertFallback `yaml:"helmert-fallback"` // Helmert failure policy

	// Ambiguity resolution
	ModeAR          ARMode  `yaml:"mode-ar"`            // Ambiguity resolution mode
	RatioThres      float64 `yaml:"ratio-thres"`        // Ratio test threshold
	MinLock         int     `yaml:"min-lock"`           // Min lock count to use an ambiguity in AR
	MinAmb          int     `yaml:"min-amb"`            // Min number of DD ambiguities to try AR
	MaxRetNum       int     `yaml:"max-ret-num"`        // Max satellite removals during AR retry
	MaxElevToRemove float64 `yaml:"max-elev-to-remove"` // Do not remove satellites above this elevation [deg]
	ElMaskAR        float64 `yaml:"el-mask-ar"`         // Elevation mask for AR [deg]
	MinFixToHold    int     `yaml:"min-fix-to-hold"`    // Consecutive fixes before holding
	VarHoldAmb      float64 `yaml:"var-hold-amb"`       // Variance of the hold constraint [cycle^2]
	LoopMax         int     `yaml:"loop-max"`           // Max search loop count of LAMBDA
}

// NewRtkOpt creates options with default values
func NewRtkOpt() *RtkOpt {
	return &RtkOpt{
		NumFreq:         2,
		IonoFree:        false,
		PolyOrder:       2,
		PhaseNoise:      0.05,
		DopplerNoise:    0.1,
		RepairSlip:      true,
		SlipRepairTol:   0.25,
		IonoDrift:       0.01,
		GFNoise:         0.01,
		MaxIonoGap:      30,
		WLSlipFactor:    4,
		MWNoise:         0.5,
		MinWLCount:      3,
		MaxGap:          30,
		AmbResetTime:    0,
		AmbInitStd:      30,
		ProcNoiseAmb:    1e-4,
		PosMode:         PosKinematic,
		VarPos:          30 * 30,
		ProcNoisePos:    0,
		StdCp:           0.003,
		StdPr:           0.3,
		GloFactor:       1.5,
		ElMask:          15,
		MaxInnovCp:      5,
		MaxInnovPr:      30,
		ChiTest:         false,
		Strategy:        StratKalman,
		MaxHelmertIter:  3,
		HelmertFallback: FallbackUnscaled,
		ModeAR:          ARContinuous,
		RatioThres:      3.0,
		MinLock:         0,
		MinAmb:          3,
		MaxRetNum:       10,
		MaxElevToRemove: 45,
		ElMaskAR:        0,
		MinFixToHold:    10,
		VarHoldAmb:      0.001,
		LoopMax:         10000,
	}
}

// LoadOpt overlays options read from a YAML document onto the defaults
func LoadOpt(r io.Reader) (*RtkOpt, error) {
	opt := NewRtkOpt()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(opt); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	return opt, nil
}

// Validate checks the consistency of the options
func (opt *RtkOpt) Validate() error {
	if opt.NumFreq < 1 || opt.NumFreq > NFREQ {
		return fmt.Errorf("num-freq out of range: %d", opt.NumFreq)
	}
	if opt.IonoFree && opt.NumFreq < 2 {
		return fmt.Errorf("iono-free needs 2 frequencies")
	}
	if opt.PolyOrder < 1 {
		return fmt.Errorf("poly-order must be >= 1: %d", opt.PolyOrder)
	}
	if opt.MaxHelmertIter < 1 {
		return fmt.Errorf("max-helmert-iter must be >= 1: %d", opt.MaxHelmertIter)
	}
	if opt.LoopMax < 1 {
		return fmt.Errorf("loop-max must be >= 1: %d", opt.LoopMax)
	}
	return nil
}
