// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gracht

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the server's Prometheus instrumentation: connects,
// disconnects, dispatched frames, dropped frames (unknown protocol/action,
// decode failures) and broadcast fan-out (spec.md SPEC_FULL §3 "Metrics",
// grounded on nabbar-golib/prometheus/metrics's counter/gauge wrapping of
// github.com/prometheus/client_golang).
type Metrics struct {
	connects    prometheus.Counter
	disconnects prometheus.Counter
	dispatched  prometheus.Counter
	dropped     prometheus.Counter
	broadcast   prometheus.Counter
	queueDepth  prometheus.Gauge
}

// NewMetrics constructs a Metrics instance and registers it against reg. reg
// may be prometheus.NewRegistry() for test isolation or
// prometheus.DefaultRegisterer for a process-wide server.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gracht_connects_total",
			Help: "Total accepted/subscribed clients.",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gracht_disconnects_total",
			Help: "Total clients removed from the client table.",
		}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gracht_dispatched_frames_total",
			Help: "Total frames successfully handed to a registered handler.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gracht_dropped_frames_total",
			Help: "Total frames dropped: unknown protocol/action or decode failure.",
		}),
		broadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gracht_broadcast_sends_total",
			Help: "Total per-client sends performed while broadcasting.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gracht_worker_queue_depth",
			Help: "Current number of envelopes queued for the worker pool.",
		}),
	}
	reg.MustRegister(m.connects, m.disconnects, m.dispatched, m.dropped, m.broadcast, m.queueDepth)
	return m
}
