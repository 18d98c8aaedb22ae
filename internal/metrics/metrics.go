// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

// Package metrics holds the Prometheus registry and the controller's own
// counters. All AppMetrics methods are safe on a nil receiver so packages
// can run without metrics wired in.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OpenAgricultureFoundation/gro-controller/pkg/groduino"
)

const namespace = "gro"

// NewRegistry creates a registry with the Go and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus text format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics are the controller's own counters
type AppMetrics struct {
	ConnectTotal        *prometheus.CounterVec // labels: result=ok|error
	DispatchTotal       *prometheus.CounterVec // labels: result
	ActuatorCommands    prometheus.Counter
	ConvergenceFailures prometheus.Counter
	BackendRequests     *prometheus.CounterVec // labels: op, result=ok|error
	ReconcileTotal      prometheus.Counter
	LoopDuration        prometheus.Histogram
}

// NewAppMetrics registers and returns the controller counters
func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		ConnectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_connect_total",
			Help:      "Link connection attempts by result.",
		}, []string{"result"}),
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Device message parts by dispatch result.",
		}, []string{"result"}),
		ActuatorCommands: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actuator_commands_total",
			Help:      "Actuator commands written to the link.",
		}),
		ConvergenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actuator_convergence_failures_total",
			Help:      "Desired actuator states abandoned without device confirmation.",
		}),
		BackendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Backend calls by operation and result.",
		}, []string{"op", "result"}),
		ReconcileTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_total",
			Help:      "Backend reconcile passes run by the engine.",
		}),
		LoopDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_duration_seconds",
			Help:      "Engine loop iteration time.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
	}
	reg.MustRegister(m.ConnectTotal, m.DispatchTotal, m.ActuatorCommands, m.ConvergenceFailures,
		m.BackendRequests, m.ReconcileTotal, m.LoopDuration)
	return m
}

// ObserveConnect counts one connection attempt
func (m *AppMetrics) ObserveConnect(err error) {
	if m == nil {
		return
	}
	m.ConnectTotal.WithLabelValues(result(err)).Inc()
}

// ObserveDispatch counts one dispatched message part
func (m *AppMetrics) ObserveDispatch(res string) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(res).Inc()
}

// ObserveCommand counts one actuator command
func (m *AppMetrics) ObserveCommand() {
	if m == nil {
		return
	}
	m.ActuatorCommands.Inc()
}

// ObserveConvergenceFailure counts one abandoned desired state
func (m *AppMetrics) ObserveConvergenceFailure() {
	if m == nil {
		return
	}
	m.ConvergenceFailures.Inc()
}

// ObserveBackend counts one backend call
func (m *AppMetrics) ObserveBackend(op string, err error) {
	if m == nil {
		return
	}
	m.BackendRequests.WithLabelValues(op, result(err)).Inc()
}

// ObserveReconcile counts one reconcile pass
func (m *AppMetrics) ObserveReconcile() {
	if m == nil {
		return
	}
	m.ReconcileTotal.Inc()
}

// ObserveLoop records one loop iteration time
func (m *AppMetrics) ObserveLoop(d time.Duration) {
	if m == nil {
		return
	}
	m.LoopDuration.Observe(d.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RegisterLinkStats exports the link counters. snapshot is called on every
// scrape and must be safe for concurrent use.
func RegisterLinkStats(reg prometheus.Registerer, snapshot func() groduino.Counters) {
	counter := func(name, help string, value func(groduino.Counters) uint64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value(snapshot())) })
	}
	reg.MustRegister(
		counter("frames_received_total", "Candidate frames decoded.", func(c groduino.Counters) uint64 { return c.TotalFrames }),
		counter("frames_valid_total", "Frames that passed length and CRC checks.", func(c groduino.Counters) uint64 { return c.ValidFrames }),
		counter("frames_malformed_total", "Frames rejected as malformed.", func(c groduino.Counters) uint64 { return c.MalformedFrames }),
		counter("crc_errors_total", "Frames rejected on CRC mismatch.", func(c groduino.Counters) uint64 { return c.ChecksumErrors }),
		counter("empty_crc_total", "Frames carrying the no-CRC sentinel.", func(c groduino.Counters) uint64 { return c.EmptyCRCFrames }),
		counter("frames_sent_total", "Command frames written.", func(c groduino.Counters) uint64 { return c.FramesSent }),
		counter("overflow_recoveries_total", "Receive buffer overflow recoveries.", func(c groduino.Counters) uint64 { return c.OverflowRecoveries }),
		counter("buffer_trims_total", "Receive buffer hard-cap trims.", func(c groduino.Counters) uint64 { return c.BufferTrims }),
		counter("bytes_discarded_total", "Bytes dropped by overflow handling.", func(c groduino.Counters) uint64 { return c.BytesDiscarded }),
		counter("noise_bytes_total", "Bytes skipped before a start marker.", func(c groduino.Counters) uint64 { return c.NoiseBytes }),
	)
}

// PosterState is what the poster gauges read
type PosterState interface {
	InFlight() int
	CurrentWait() time.Duration
}

// RegisterPosterGauges exports the background poster load
func RegisterPosterGauges(reg prometheus.Registerer, p PosterState) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poster",
			Name:      "in_flight",
			Help:      "Datapoint posts currently running.",
		}, func() float64 { return float64(p.InFlight()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poster",
			Name:      "backoff_seconds",
			Help:      "Current caller backoff when the poster is at capacity.",
		}, func() float64 { return p.CurrentWait().Seconds() }),
	)
}
