// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.19
//

package rtkamb

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics of the epoch processing. A nil *Metrics records nothing.
type Metrics struct {
	Elapsed   *prometheus.HistogramVec // Processing time by stage [s]
	Epochs    *prometheus.CounterVec   // Epochs by solution status
	Slips     *prometheus.CounterVec   // Slips by detector
	Fallbacks prometheus.Counter       // Adjustments that fell back to plain kalman
	Ratio     prometheus.Gauge         // Ratio of the last ambiguity resolution
}

var slipNames = []struct {
	flag byte
	name string
}{
	{SlipLLI, "lli"},
	{SlipPoly, "poly"},
	{SlipGF, "gf"},
	{SlipMW, "mw"},
	{SlipUnrepaired, "unrepaired"},
}

// NewMetrics creates the metrics and registers them to reg if not nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Elapsed: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rtkamb_stage_seconds",
				Help:    "processing time of an epoch stage",
				Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
			},
			[]string{"stage"},
		),
		Epochs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtkamb_epochs_total",
				Help: "processed epochs by solution status",
			},
			[]string{"status"},
		),
		Slips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtkamb_slips_total",
				Help: "cycle slips by detector",
			},
			[]string{"detector"},
		),
		Fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtkamb_adjust_fallbacks_total",
			Help: "adjustments that fell back to the plain kalman filter",
		}),
		Ratio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtkamb_ratio",
			Help: "ratio test value of the last ambiguity resolution",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Collectors()...)
	}
	return m
}

// Collectors returns all collectors of m
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.Elapsed, m.Epochs, m.Slips, m.Fallbacks, m.Ratio}
}

func (m *Metrics) observe(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.Elapsed.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) countStatus(s Status) {
	if m == nil {
		return
	}
	m.Epochs.WithLabelValues(s.String()).Inc()
}

func (m *Metrics) countSlip(flags byte) {
	if m == nil {
		return
	}
	for _, s := range slipNames {
		if flags&s.flag != 0 {
			m.Slips.WithLabelValues(s.name).Inc()
		}
	}
}

func (m *Metrics) countFallback() {
	if m == nil {
		return
	}
	m.Fallbacks.Inc()
}

func (m *Metrics) setRatio(r float64) {
	if m == nil {
		return
	}
	m.Ratio.Set(r)
}
