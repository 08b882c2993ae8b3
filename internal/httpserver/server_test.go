// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/gyrostat/internal/acquire"
	"github.com/Thermoquad/gyrostat/internal/config"
	appmetrics "github.com/Thermoquad/gyrostat/internal/metrics"
	"github.com/Thermoquad/gyrostat/internal/remote"
	"github.com/Thermoquad/gyrostat/pkg/gx3"
	"github.com/Thermoquad/gyrostat/pkg/gx3/gx3test"
)

var testCfg = config.HTTPConfig{Addr: ":0", ReadTimeout: time.Second, WriteTimeout: time.Second}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestHealthzReadyzMetrics(t *testing.T) {
	reg := appmetrics.NewRegistry()
	m := appmetrics.NewStreamMetrics(reg)
	m.SetStreaming(true)
	srv := New(testCfg, Deps{MetricsPath: "/metrics", MetricsHandler: appmetrics.Handler(reg), Ready: func() bool { return true }})

	assert.Equal(t, http.StatusOK, get(t, srv, "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(t, srv, "/readyz").Code)

	rr := get(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "gyrostat_streaming 1")

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/api/v1/latest").Code, "no broker, no route")
	assert.Equal(t, http.StatusNotFound, get(t, srv, "/ws/raw").Code, "no bridge, no route")
}

func TestReadyzNotReady(t *testing.T) {
	srv := New(testCfg, Deps{Ready: func() bool { return false }})
	assert.Equal(t, http.StatusServiceUnavailable, get(t, srv, "/readyz").Code)
}

func TestLatest(t *testing.T) {
	broker := acquire.NewBroker(4)
	srv := New(testCfg, Deps{Broker: broker})

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/api/v1/latest").Code)

	session := uuid.New()
	broker.Publish(acquire.Sample{SessionID: session, Seq: 1, Record: gx3.EulerAngles{Euler: gx3.Vector3{0, 0.5, 1}, Timer: 10}})
	broker.Publish(acquire.Sample{SessionID: session, Seq: 2, Record: gx3.Magnetometer{Mag: gx3.Vector3{0.2, 0, 0.4}, Timer: 20}})

	rr := get(t, srv, "/api/v1/latest")
	require.Equal(t, http.StatusOK, rr.Code)
	var view SampleView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, uint64(2), view.Seq)
	assert.Equal(t, "SCALED_MAGNETOMETER", view.Record)
	assert.Equal(t, session.String(), view.Session)

	rr = get(t, srv, "/api/v1/latest?record=euler_angles")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, uint64(1), view.Seq)
	assert.Equal(t, uint8(gx3.CmdEulerAngles), view.Command)

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/api/v1/latest?record=TEMPERATURES").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/v1/latest?record=bogus").Code)
}

func TestStats(t *testing.T) {
	stats := gx3.NewStatistics()
	stats.Update(gx3.EulerAngles{}, nil, 3, nil)
	srv := New(testCfg, Deps{Stats: func() gx3.Statistics { return *stats }})

	rr := get(t, srv, "/api/v1/stats")
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["validFrames"])
	assert.EqualValues(t, 3, body["discardedBytes"])
}

func TestRecordsWebSocket(t *testing.T) {
	broker := acquire.NewBroker(8)
	srv := New(testCfg, Deps{Broker: broker})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	bin, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/records"), nil)
	require.NoError(t, err)
	defer bin.Close()
	txt, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/records?format=json"), nil)
	require.NoError(t, err)
	defer txt.Close()

	require.Eventually(t, func() bool { return broker.Subscribers() == 2 }, time.Second, time.Millisecond)

	rec := gx3.AccelAngRate{Accel: gx3.Vector3{0, 0, -1}, AngRate: gx3.Vector3{0.01, 0, 0}, Timer: 62}
	broker.Publish(acquire.Sample{Seq: 1, Record: rec})

	_ = bin.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := bin.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	got, err := gx3.ParseRecordCBOR(data)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	_ = txt.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err = txt.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	var view SampleView
	require.NoError(t, json.Unmarshal(data, &view))
	assert.Equal(t, "ACCEL_ANG_RATE", view.Record)

	// Closing the broker ends both streams
	broker.Close()
	_, _, err = bin.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestRawBridge(t *testing.T) {
	sim := gx3test.NewSimulator()
	srv := New(testCfg, Deps{Bridge: sim})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	port, err := remote.Dial(context.Background(), wsURL(ts, "/ws/raw"), remote.DialOptions{})
	require.NoError(t, err)
	dev, err := gx3.New(port, gx3.WithTimeouts(50*time.Millisecond, time.Second), gx3.WithReadRetries(40))
	require.NoError(t, err)

	fw, err := dev.FirmwareVersion(context.Background())
	require.NoError(t, err)
	assert.NotZero(t, fw.Raw)

	// A second client is turned away while the first is attached
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/raw"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.NoError(t, dev.Close())
	require.Eventually(t, func() bool { return !srv.bridging.Load() }, 2*time.Second, 5*time.Millisecond)

	again, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/raw"), nil)
	require.NoError(t, err)
	_ = again.Close()
}
