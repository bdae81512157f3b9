// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.19
//

package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	m "github.com/mkhts/rtkamb"
	"github.com/prometheus/client_golang/prometheus"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

func main() {

	// Parse command line arguments
	args, err := parseArgs()
	if err != nil {
		m.PrintE(err)
		flag.Usage()
		os.Exit(1)
	}

	// Run the main application
	if err := runApplication(args); err != nil {
		m.PrintE(err)
		os.Exit(1)
	}
}

// Structure to hold command line argument information
type cmdOpt struct {
	problemFn   string
	optFn       string
	scenarioFn  string
	posFn       string
	sim         bool
	noPosHeader bool
	numCand     int
	epochs      int
	start       string
	basePos     m.PosLLH
	strategy    m.Strategy
	modeAR      m.ARMode
	metrics     bool
}

// Main application processing
func runApplication(args cmdOpt) error {
	if !args.sim {
		return runLambda(args)
	}

	opt, err := loadOpt(args)
	if err != nil {
		return fmt.Errorf("failed to load options: %w", err)
	}
	sopt, err := loadScenarioOpt(args)
	if err != nil {
		return fmt.Errorf("failed to load scenario: %w", err)
	}

	// Prepare output file
	pos, err := prepareOutput(args)
	if err != nil {
		return fmt.Errorf("failed to prepare output: %w", err)
	}
	defer closeOutput(pos)

	reg := prometheus.NewRegistry()
	var met *m.Metrics
	if args.metrics {
		met = m.NewMetrics(reg)
	}
	if err := replay(args, opt, sopt, met, pos); err != nil {
		return err
	}
	if args.metrics {
		return printMetrics(reg)
	}
	return nil
}

// Load processing options: defaults, YAML file, then command line
func loadOpt(args cmdOpt) (*m.RtkOpt, error) {
	opt := m.NewRtkOpt()
	if args.optFn != "" {
		f, err := os.Open(args.optFn)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if opt, err = m.LoadOpt(f); err != nil {
			return nil, err
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "s":
			opt.Strategy = args.strategy
		case "ar":
			opt.ModeAR = args.modeAR
		}
	})
	return opt, opt.Validate()
}

// Load scenario options
func loadScenarioOpt(args cmdOpt) (*m.ScenarioOpt, error) {
	sopt := m.NewScenarioOpt()
	if args.scenarioFn != "" {
		f, err := os.Open(args.scenarioFn)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(sopt); err != nil && err != io.EOF {
			return nil, err
		}
	}
	if args.basePos.Lat != 0 || args.basePos.Lon != 0 {
		sopt.BasePos = args.basePos
	}
	if args.epochs > 0 {
		sopt.Epochs = args.epochs
	}
	if args.start != "" {
		ts, err := time.Parse("2006/01/02 15:04:05", args.start)
		if err != nil {
			return nil, fmt.Errorf("invalid start time: %w", err)
		}
		sopt.Start = *m.NewGTime(ts)
	}
	sopt.ApproxStd = max(sopt.ApproxStd, 1)
	return sopt, nil
}

// Prepare output file
func prepareOutput(args cmdOpt) (io.WriteCloser, error) {

	// Use stdout if no output file is specified
	if len(args.posFn) == 0 {
		return &nopCloser{os.Stdout}, nil
	}

	posf, err := os.Create(args.posFn)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return posf, nil
}

// Close output file
func closeOutput(pos io.WriteCloser) {
	if pos != nil {
		pos.Close()
	}
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// Replay the synthetic scenario through the engine
func replay(args cmdOpt, opt *m.RtkOpt, sopt *m.ScenarioOpt, met *m.Metrics, pos io.Writer) error {
	sc, err := m.NewScenario(sopt)
	if err != nil {
		return err
	}
	eng, err := m.NewEngine(opt, met)
	if err != nil {
		return err
	}
	if !args.noPosHeader {
		printPosHeader(pos, os.Args[0], opt, sc.BasePos())
	}
	for {
		in, ok := sc.Next()
		if !ok {
			break
		}
		sol := eng.ProcessEpoch(in)
		if sol.Err != nil {
			m.PrintB(sol.Time, "%s\n", sol.Err.Error())
		}
		printPos(pos, sol, sc.TruePos(in.Time), sc.BasePos())
	}
	return nil
}

// Print pos file header
func printPosHeader(pos io.Writer, cmd string, opt *m.RtkOpt, basePos m.PosXYZ) {
	fmt.Fprintf(pos, "%% program   : %s\n", filepath.Base(cmd))
	fmt.Fprintf(pos, "%% strategy  : %s\n", opt.Strategy)
	fmt.Fprintf(pos, "%% ar mode   : %s (ratio %.1f)\n", opt.ModeAR, opt.RatioThres)
	llh := basePos.ToLLH()
	fmt.Fprintf(pos, "%% ref pos   : %.8f %.8f %.3f\n", m.ToDeg(llh.Lat), m.ToDeg(llh.Lon), llh.Hei)
	fmt.Fprintf(pos, "%%  GPST                 latitude(deg) longitude(deg)  height(m)   Q  ns      ratio     err-e(m)   err-n(m)   err-u(m)\n")
}

// Output one pos line. Q: 1 fix/hold, 2 float, 0 none
func printPos(pos io.Writer, sol *m.Solution, truth, basePos m.PosXYZ) {
	Q := 0
	switch sol.Status {
	case m.StatusFix, m.StatusHold:
		Q = 1
	case m.StatusFloat:
		Q = 2
	}
	t := m.GTime{Week: sol.Time.Week, Sec: math.Round(sol.Time.Sec*1000) / 1000}
	llh := sol.Pos.ToLLH()
	d := sol.Pos.ToENU(basePos)
	r := truth.ToENU(basePos)
	fmt.Fprintf(pos, "%s %13.9f %14.9f %10.4f %3d %3d %10.3f %10.4f %10.4f %10.4f\n",
		t.ToTime().UTC().Format("2006/01/02 15:04:05.000"), m.ToDeg(llh.Lat), m.ToDeg(llh.Lon), llh.Hei,
		Q, sol.NumSats, sol.Ratio, d.E-r.E, d.N-r.N, d.U-r.U)
}

// Print the collected metrics
func printMetrics(reg *prometheus.Registry) error {
	mfs, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		for _, mt := range mf.GetMetric() {
			labels := []string{}
			for _, lp := range mt.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			switch {
			case mt.GetCounter() != nil:
				m.PrintA("%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), mt.GetCounter().GetValue())
			case mt.GetGauge() != nil:
				m.PrintA("%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), mt.GetGauge().GetValue())
			case mt.GetHistogram() != nil:
				h := mt.GetHistogram()
				m.PrintA("%s{%s} count=%d sum=%.6f\n", mf.GetName(), strings.Join(labels, ","), h.GetSampleCount(), h.GetSampleSum())
			}
		}
	}
	return nil
}

// Solve an integer least squares problem read from a text file:
// the float vector on the first line, then the covariance matrix row by row
func runLambda(args cmdOpt) error {
	f, err := os.Open(args.problemFn)
	if err != nil {
		return err
	}
	defer f.Close()
	a, Q, err := readProblem(f)
	if err != nil {
		return fmt.Errorf("failed to read problem: %w", err)
	}
	cand, err := m.Lambda(a, Q, args.numCand)
	if err != nil {
		return fmt.Errorf("Lambda() failed: %w", err)
	}
	for i := range cand.Len() {
		fmt.Printf("%3d %14.6f :", i+1, cand.S[i])
		for _, v := range cand.Fixed(i) {
			fmt.Printf(" %6.0f", v)
		}
		fmt.Printf("\n")
	}
	fmt.Printf("ratio: %.3f\n", cand.Ratio())
	return nil
}

func readProblem(r io.Reader) ([]float64, *mat.SymDense, error) {
	rows := [][]float64{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		row := []float64{}
		for _, s := range strings.Fields(line) {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, nil, err
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	if len(rows) < 2 {
		return nil, nil, fmt.Errorf("too few lines: %d", len(rows))
	}
	a := rows[0]
	n := len(a)
	if len(rows)-1 != n {
		return nil, nil, fmt.Errorf("covariance must have %d rows: %d", n, len(rows)-1)
	}
	Q := mat.NewSymDense(n, nil)
	for i := range n {
		if len(rows[i+1]) != n {
			return nil, nil, fmt.Errorf("covariance row %d must have %d columns", i+1, n)
		}
		for j := i; j < n; j++ {
			Q.SetSym(i, j, rows[i+1][j])
		}
	}
	return a, Q, nil
}

// Parse command line arguments
func parseArgs() (a cmdOpt, err error) {
	flag.Usage = func() {
		m.PrintA(`
[Usage]
	%s [Options] problem.txt          (solve an integer least squares problem)
	%s [Options] -sim                 (replay a synthetic scenario)

[Options]
`, filepath.Base(os.Args[0]), filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	opt := m.NewRtkOpt()
	a.strategy, a.modeAR = opt.Strategy, opt.ModeAR
	flag.BoolVar(&a.sim, "sim", false, "Replay the synthetic scenario instead of solving a problem file")
	flag.StringVar(&a.optFn, "c", "", "Processing options file (YAML)")
	flag.StringVar(&a.scenarioFn, "sc", "", "Scenario file (YAML)")
	flag.StringVar(&a.posFn, "o", "", "Output pos file path. If not specified, output to stdout.")
	flag.BoolVar(&a.noPosHeader, "nh", false, "Do not output header section of pos file.")
	flag.IntVar(&a.numCand, "n", 2, "Number of integer candidates")
	flag.IntVar(&a.epochs, "e", 0, "Number of epochs of the scenario. 0 keeps the scenario setting.")
	flag.StringVar(&a.start, "ts", "", "Start time of the scenario (GPST) like -ts \"2026/10/19 00:00:00\"")
	flag.Var(&a.basePos, "l", "Base station latitude/longitude/ellipsoidal height. Enclose in quotes like -l \"35.73101206 139.7396917 80.33\"")
	flag.Var(&a.strategy, "s", "Adjustment strategy. ls, kalman, helmert")
	flag.Var(&a.modeAR, "ar", "Ambiguity resolution mode. off, continuous, instantaneous, fix-and-hold")
	flag.BoolVar(&a.metrics, "metrics", false, "Print processing metrics at the end")
	var dbg int
	flag.IntVar(&dbg, "x", 0, "Debug information display. Specify level value. 0(OFF), 1(display), 2(detailed display), 3(more detailed), 4(most detailed)")
	flag.Parse()
	m.DBG_ = dbg

	switch {
	case a.sim && flag.NArg() == 0:
	case !a.sim && flag.NArg() == 1:
		a.problemFn = flag.Arg(0)
	default:
		return a, fmt.Errorf("too less or many arguments")
	}
	if a.numCand < 1 {
		return a, fmt.Errorf("number of candidates must be positive: %d", a.numCand)
	}
	return
}
