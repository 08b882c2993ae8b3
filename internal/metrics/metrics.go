// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

// NewRegistry creates a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// StreamMetrics counts continuous mode activity.
type StreamMetrics struct {
	Frames          *prometheus.CounterVec // labels: record
	ChecksumErrors  prometheus.Counter
	ResyncFailures  prometheus.Counter
	TransportErrors prometheus.Counter
	DiscardedBytes  prometheus.Counter
	Anomalies       *prometheus.CounterVec // labels: type
	Streaming       prometheus.Gauge
	SinkErrors      *prometheus.CounterVec // labels: sink
	BrokerDropped   prometheus.Counter
}

// NewStreamMetrics registers and returns the stream metrics.
func NewStreamMetrics(reg prometheus.Registerer) *StreamMetrics {
	m := &StreamMetrics{
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gyrostat_frames_total",
			Help: "Verified frames received in continuous mode.",
		}, []string{"record"}),
		ChecksumErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gyrostat_checksum_errors_total",
			Help: "Frames dropped for a checksum mismatch.",
		}),
		ResyncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gyrostat_resync_failures_total",
			Help: "Reads that exhausted the resynchronization budget.",
		}),
		TransportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gyrostat_transport_errors_total",
			Help: "Reads that failed on the serial link.",
		}),
		DiscardedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gyrostat_discarded_bytes_total",
			Help: "Bytes skipped while looking for a frame start.",
		}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gyrostat_anomalies_total",
			Help: "Verified records with implausible values.",
		}, []string{"type"}),
		Streaming: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gyrostat_streaming",
			Help: "1 while a continuous mode session is active.",
		}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gyrostat_sink_errors_total",
			Help: "Failed sink writes.",
		}, []string{"sink"}),
		BrokerDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gyrostat_broker_dropped_total",
			Help: "Samples dropped for slow subscribers.",
		}),
	}
	reg.MustRegister(m.Frames, m.ChecksumErrors, m.ResyncFailures, m.TransportErrors,
		m.DiscardedBytes, m.Anomalies, m.Streaming, m.SinkErrors, m.BrokerDropped)
	return m
}

// ObserveRead records the outcome of one stream read. A nil receiver is a no-op.
func (m *StreamMetrics) ObserveRead(rec gx3.Record, err error, discarded int, anomalies []gx3.ValidationError) {
	if m == nil {
		return
	}
	if discarded > 0 {
		m.DiscardedBytes.Add(float64(discarded))
	}
	switch {
	case err == nil:
		m.Frames.WithLabelValues(gx3.CommandName(rec.Command())).Inc()
		for _, a := range anomalies {
			m.Anomalies.WithLabelValues(a.Type.String()).Inc()
		}
	case errors.Is(err, gx3.ErrChecksumMismatch):
		m.ChecksumErrors.Inc()
	case errors.Is(err, gx3.ErrResyncFailed):
		m.ResyncFailures.Inc()
	default:
		m.TransportErrors.Inc()
	}
}

// SetStreaming flips the streaming gauge.
func (m *StreamMetrics) SetStreaming(on bool) {
	if m == nil {
		return
	}
	if on {
		m.Streaming.Set(1)
	} else {
		m.Streaming.Set(0)
	}
}

// SinkError counts a failed write to the named sink.
func (m *StreamMetrics) SinkError(sink string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink).Inc()
}

// Dropped counts samples a broker could not deliver.
func (m *StreamMetrics) Dropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BrokerDropped.Add(float64(n))
}
