// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

func TestStreamMetrics_ObserveRead(t *testing.T) {
	reg := NewRegistry()
	m := NewStreamMetrics(reg)

	m.ObserveRead(gx3.EulerAngles{}, nil, 3, []gx3.ValidationError{{Type: gx3.AnomalyNonFinite}})
	m.ObserveRead(gx3.EulerAngles{}, nil, 0, nil)
	m.ObserveRead(nil, &gx3.ChecksumError{Kind: gx3.ChecksumMismatch}, 0, nil)
	m.ObserveRead(nil, &gx3.ResyncError{Discarded: 75, Budget: 75}, 75, nil)
	m.ObserveRead(nil, &gx3.TransportError{Kind: gx3.TransportIO}, 0, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Frames.WithLabelValues("EULER_ANGLES")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Anomalies.WithLabelValues("non_finite")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChecksumErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResyncFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransportErrors))
	assert.Equal(t, 78.0, testutil.ToFloat64(m.DiscardedBytes))
}

func TestStreamMetrics_NilSafe(t *testing.T) {
	var m *StreamMetrics
	assert.NotPanics(t, func() {
		m.ObserveRead(gx3.EulerAngles{}, nil, 1, nil)
		m.SetStreaming(true)
		m.SinkError("redis")
		m.Dropped(2)
	})
}

func TestHandler(t *testing.T) {
	reg := NewRegistry()
	m := NewStreamMetrics(reg)
	m.SetStreaming(true)

	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "gyrostat_streaming 1")
}
