// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpucc

import (
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects compilation statistics.
type Metrics struct {
	compiles     *prometheus.CounterVec
	codeBytes    prometheus.Histogram
	maxGPR       *prometheus.GaugeVec
	instructions prometheus.Counter
}

// NewMetrics creates the compiler metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gpucc",
			Name:      "compiles_total",
			Help:      "Programs compiled, by result.",
		}, []string{"result"}),
		codeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gpucc",
			Name:      "code_bytes",
			Help:      "Size of the emitted binaries.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}),
		maxGPR: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gpucc",
			Name:      "max_gpr",
			Help:      "Highest general purpose register used by the last program compiled for a chipset.",
		}, []string{"chipset"}),
		instructions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gpucc",
			Name:      "instructions_emitted_total",
			Help:      "Machine instructions emitted.",
		}),
	}
	for _, c := range []prometheus.Collector{m.compiles, m.codeBytes, m.maxGPR, m.instructions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// result names the outcome of a compilation for the result label.
func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errdefs.IsNotImplemented(err):
		return "unsupported"
	case errdefs.IsResourceExhausted(err):
		return "out_of_registers"
	case errdefs.IsOutOfRange(err):
		return "code_size"
	case errdefs.IsInvalidArgument(err), errdefs.IsFailedPrecondition(err):
		return "invalid"
	}
	return "error"
}

func (m *Metrics) observe(chipset uint32, res *Result, err error) {
	if m == nil {
		return
	}
	m.compiles.WithLabelValues(result(err)).Inc()
	if err != nil || res == nil {
		return
	}
	if res.Size > 0 {
		m.codeBytes.Observe(float64(res.Size))
		m.instructions.Add(float64(res.Instructions))
	}
	m.maxGPR.WithLabelValues(fmt.Sprintf("0x%x", chipset)).Set(float64(res.MaxGPR))
}
