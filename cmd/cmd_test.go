// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Thermoquad/gyrostat/internal/acquire"
	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    uint8
		wantErr bool
	}{
		{"0", 0, false},
		{"252", 252, false},
		{"0xFC", 0xFC, false},
		{"0x100", 0, true},
		{"-1", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseAddress(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseWord(t *testing.T) {
	v, err := parseWord("0xBEEF")
	require.NoError(t, err)
	assert.Equal(t, uint16(0xBEEF), v)

	v, err = parseWord("65535")
	require.NoError(t, err)
	assert.Equal(t, uint16(65535), v)

	_, err = parseWord("65536")
	assert.Error(t, err)
}

func TestParseVector(t *testing.T) {
	v, err := parseVector([]string{"0.5", "-1", "2e-3"})
	require.NoError(t, err)
	assert.Equal(t, gx3.Vector3{0.5, -1, 0.002}, v)

	_, err = parseVector([]string{"1", "x", "3"})
	assert.ErrorContains(t, err, `invalid component "x"`)
}

func TestParseQueryCommand(t *testing.T) {
	c, err := parseQueryCommand("euler_angles")
	require.NoError(t, err)
	assert.Equal(t, byte(gx3.CmdEulerAngles), c)

	c, err = parseQueryCommand("0xC2")
	require.NoError(t, err)
	assert.Equal(t, byte(gx3.CmdAccelAngRate), c)

	_, err = parseQueryCommand("0xCD")
	assert.ErrorContains(t, err, "not a sensor query")

	_, err = parseQueryCommand("bogus")
	assert.Error(t, err)
}

func TestCheckFormat(t *testing.T) {
	for _, f := range []string{formatText, formatYAML, formatJSON} {
		assert.NoError(t, checkFormat(f))
	}
	assert.Error(t, checkFormat("xml"))
}

func TestPrintRecord(t *testing.T) {
	rec := gx3.AccelAngRate{Accel: gx3.Vector3{0, 0, -1}, AngRate: gx3.Vector3{0.1, 0, 0}, Timer: 62500}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printRecord(&buf, rec, formatJSON))

		var doc struct {
			Record  string `json:"record"`
			Command string `json:"command"`
			Values  struct {
				Accel []float64 `json:"accel"`
				Timer uint32    `json:"timer"`
			} `json:"values"`
		}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
		assert.Equal(t, "ACCEL_ANG_RATE", doc.Record)
		assert.Equal(t, "0xC2", doc.Command)
		assert.Equal(t, []float64{0, 0, -1}, doc.Values.Accel)
		assert.Equal(t, uint32(62500), doc.Values.Timer)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printRecord(&buf, rec, formatYAML))
		assert.Contains(t, buf.String(), "record: ACCEL_ANG_RATE")
		assert.Contains(t, buf.String(), "ang_rate:")
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printRecord(&buf, rec, formatText))
		assert.Equal(t, gx3.FormatRecord(rec), buf.String())
	})
}

func TestIsConnectionLoss(t *testing.T) {
	assert.False(t, isConnectionLoss(nil))
	assert.True(t, isConnectionLoss(&gx3.TransportError{Kind: gx3.TransportIO, Op: "read"}))
	assert.True(t, isConnectionLoss(fmt.Errorf("read next: %w", &gx3.TransportError{Kind: gx3.TransportClosed, Op: "read"})))
	assert.False(t, isConnectionLoss(&gx3.TransportError{Kind: gx3.TransportShortRead, Op: "read"}))
	assert.True(t, isConnectionLoss(&gx3.TransportError{Kind: gx3.TransportWriteTimeout, Op: "write"}))
	assert.False(t, isConnectionLoss(fmt.Errorf("read next: %w", gx3.ErrResyncFailed)))
	assert.False(t, isConnectionLoss(errors.New("other")))
}

func TestParseCaptureMs(t *testing.T) {
	ms, err := parseCaptureMs("")
	require.NoError(t, err)
	assert.Equal(t, uint16(defaultCaptureMs), ms)

	ms, err = parseCaptureMs(" 500 ")
	require.NoError(t, err)
	assert.Equal(t, uint16(500), ms)

	for _, bad := range []string{"0", "-5", "70000", "fast"} {
		_, err := parseCaptureMs(bad)
		assert.Error(t, err, bad)
	}
}

func newTestMonitor(t *testing.T) monitorModel {
	t.Helper()
	sm := newSessionManager(nil, "test", gx3.CmdAccelAngRate, zap.NewNop())
	t.Cleanup(sm.broker.Close)
	return initialMonitorModel(sm, "test", gx3.CmdAccelAngRate, false)
}

func TestMonitorModel_EventLogCapped(t *testing.T) {
	m := newTestMonitor(t)
	for i := 0; i < 150; i++ {
		m.addLogEntry(fmt.Sprintf("event %d", i), false)
	}
	require.Len(t, m.eventLog, 100)
	assert.Equal(t, "event 50", m.eventLog[0].message)
	assert.Equal(t, "event 149", m.eventLog[99].message)
}

func TestMonitorModel_Samples(t *testing.T) {
	m := newTestMonitor(t)

	bad := gx3.AccelAngRate{Accel: gx3.Vector3{0, 0, 40}}
	good := gx3.AccelAngRate{Accel: gx3.Vector3{0, 0, -1}}
	next, _ := m.Update(sampleBatchMsg{samples: []acquire.Sample{
		{Seq: 1, Record: bad},
		{Seq: 2, Record: good},
	}})
	m = next.(monitorModel)

	assert.True(t, m.synchronized)
	assert.Equal(t, uint64(2), m.samples)
	assert.Equal(t, gx3.Record(good), m.latest)
	// "Synchronized" plus one anomaly for the out of range acceleration
	assert.Len(t, m.eventLog, 2)
	assert.Contains(t, m.View(), "ACCEL_ANG_RATE")
}

func TestMonitorModel_RecordSwitchRequest(t *testing.T) {
	m := newTestMonitor(t)

	// Select the entry after ACCEL_ANG_RATE and apply it
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(monitorModel)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(monitorModel)

	select {
	case req := <-m.sm.requests:
		assert.Equal(t, byte(gx3.CmdDeltaAngleVelocity), req.dataType)
		assert.Zero(t, req.captureMs)
	default:
		t.Fatal("no session request queued")
	}

	next, _ = m.Update(sessionStartedMsg{dataType: gx3.CmdDeltaAngleVelocity})
	m = next.(monitorModel)
	assert.Equal(t, byte(gx3.CmdDeltaAngleVelocity), m.dataType)
}

func TestMonitorModel_CaptureRequest(t *testing.T) {
	m := newTestMonitor(t)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(monitorModel)
	require.Equal(t, focusCaptureInput, m.focusedField)

	for _, r := range "250" {
		next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		m = next.(monitorModel)
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(monitorModel)
	assert.True(t, m.capturing)

	req := <-m.sm.requests
	assert.Equal(t, uint16(250), req.captureMs)

	next, _ = m.Update(biasCapturedMsg{bias: gx3.Vector3{0.001, 0, 0}})
	m = next.(monitorModel)
	assert.False(t, m.capturing)
	require.NotNil(t, m.lastBias)
	assert.Equal(t, float32(0.001), m.lastBias[0])
}

func TestMonitorModel_ConnectionLost(t *testing.T) {
	m := newTestMonitor(t)

	next, _ := m.Update(connectionLostMsg{})
	m = next.(monitorModel)
	assert.True(t, m.connectionLost)
	assert.Contains(t, m.View(), "RECONNECTING")

	// Commands are refused while disconnected
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(monitorModel)
	assert.Empty(t, m.sm.requests)

	next, _ = m.Update(reconnectedMsg{connInfo: "Serial: /dev/ttyACM1 @ 115200 baud"})
	m = next.(monitorModel)
	assert.False(t, m.connectionLost)
	assert.Equal(t, "Serial: /dev/ttyACM1 @ 115200 baud", m.connInfo)
}
