// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package acquire

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/gyrostat/internal/metrics"
	"github.com/Thermoquad/gyrostat/pkg/gx3"
	"github.com/Thermoquad/gyrostat/pkg/gx3/gx3test"
)

// ============================================================================
// Broker
// ============================================================================

func TestBroker_FanOut(t *testing.T) {
	b := NewBroker(4)
	a, cancelA := b.Subscribe()
	c, cancelC := b.Subscribe()
	defer cancelA()
	defer cancelC()

	s := Sample{Seq: 1, Record: gx3.EulerAngles{Timer: 5}}
	assert.Zero(t, b.Publish(s))

	assert.Equal(t, s, <-a)
	assert.Equal(t, s, <-c)

	latest, ok := b.LatestFor(gx3.CmdEulerAngles)
	require.True(t, ok)
	assert.Equal(t, uint64(1), latest.Seq)
	_, ok = b.LatestFor(gx3.CmdAccelAngRate)
	assert.False(t, ok)
}

func TestBroker_SlowSubscriberMisses(t *testing.T) {
	b := NewBroker(1)
	_, cancel := b.Subscribe()
	defer cancel()

	assert.Zero(t, b.Publish(Sample{Seq: 1}))
	assert.Equal(t, 1, b.Publish(Sample{Seq: 2}))
	assert.Equal(t, uint64(1), b.Dropped())

	last, ok := b.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(2), last.Seq)
}

func TestBroker_CancelAndClose(t *testing.T) {
	b := NewBroker(1)
	ch, cancel := b.Subscribe()
	assert.Equal(t, 1, b.Subscribers())
	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, b.Subscribers())

	ch2, _ := b.Subscribe()
	b.Close()
	_, open = <-ch2
	assert.False(t, open)

	ch3, _ := b.Subscribe()
	_, open = <-ch3
	assert.False(t, open, "subscribing to a closed broker yields a closed channel")
	assert.Zero(t, b.Publish(Sample{}))
}

// ============================================================================
// Acquirer
// ============================================================================

func newSimDevice(t *testing.T, sim *gx3test.Simulator, opts ...gx3.Option) *gx3.Device {
	t.Helper()
	opts = append([]gx3.Option{gx3.WithTimeouts(5*time.Millisecond, time.Second)}, opts...)
	dev, err := gx3.New(sim, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })
	return dev
}

func TestAcquirer_PublishesUntilCancelled(t *testing.T) {
	sim := gx3test.NewSimulator()
	sim.NoiseEvery = 4
	sim.NoiseBytes = 3
	dev := newSimDevice(t, sim)

	reg := metrics.NewRegistry()
	m := metrics.NewStreamMetrics(reg)
	broker := NewBroker(256)
	samples, cancelSub := broker.Subscribe()
	defer cancelSub()

	a := New(dev, broker, Options{DataType: gx3.CmdEulerAngles, Validate: true}, nil, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	var got []Sample
	for len(got) < 20 {
		select {
		case s := <-samples:
			got = append(got, s)
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d samples arrived", len(got))
		}
	}
	cancel()
	require.NoError(t, <-done)

	assert.NotEqual(t, uuid.Nil, got[0].SessionID)
	for i, s := range got {
		assert.Equal(t, uint64(i+1), s.Seq)
		assert.Equal(t, got[0].SessionID, s.SessionID)
		assert.Equal(t, byte(gx3.CmdEulerAngles), s.Record.Command())
	}

	stats := a.Statistics()
	assert.GreaterOrEqual(t, stats.ValidFrames, uint64(20))
	assert.Positive(t, stats.DiscardedBytes)
	assert.False(t, sim.Streaming(), "the device must be told to stop")
	assert.Equal(t, gx3.StreamStopped, a.State())
}

func TestAcquirer_StartFailure(t *testing.T) {
	port := gx3test.NewMockPort()
	dev, err := gx3.New(port, gx3.WithReadRetries(1))
	require.NoError(t, err)

	a := New(dev, NewBroker(1), Options{}, nil, nil)
	err = a.Run(context.Background())
	assert.ErrorIs(t, err, gx3.ErrShortRead)
}

func TestAcquirer_GivesUpAfterMaxErrors(t *testing.T) {
	port := gx3test.NewMockPort()
	dev, err := gx3.New(port, gx3.WithResyncBudget(4))
	require.NoError(t, err)
	port.Queue(gx3.AppendChecksum([]byte{gx3.CmdContinuousPreset, gx3.CmdAccelAngRate}))
	port.Queue(gx3.AppendChecksum([]byte{gx3.CmdMode, gx3.ModeContinuous}))

	a := New(dev, NewBroker(1), Options{MaxErrors: 3}, nil, nil)
	err = a.Run(context.Background())
	assert.ErrorIs(t, err, gx3.ErrResyncFailed)
	assert.Equal(t, uint64(3), a.Statistics().ResyncFailures)
	assert.Contains(t, string(port.Written()), "\xFA\x75\xB4")
}

// ============================================================================
// Sinks
// ============================================================================

type memorySink struct {
	mu      sync.Mutex
	samples []Sample
	fail    bool
	closed  bool
}

func (m *memorySink) Name() string { return "memory" }

func (m *memorySink) Write(_ context.Context, s Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.samples = append(m.samples, s)
	return nil
}

func (m *memorySink) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

func TestRunSink(t *testing.T) {
	broker := NewBroker(8)
	sink := &memorySink{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunSink(ctx, broker, sink, nil, nil) }()

	require.Eventually(t, func() bool { return broker.Subscribers() == 1 }, time.Second, time.Millisecond)
	for i := 1; i <= 3; i++ {
		broker.Publish(Sample{Seq: uint64(i), Record: gx3.Magnetometer{}})
	}
	require.Eventually(t, func() bool { return sink.count() == 3 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.True(t, sink.closed)
}

func TestRunSink_WriteErrorsAreCounted(t *testing.T) {
	reg := metrics.NewRegistry()
	m := metrics.NewStreamMetrics(reg)
	broker := NewBroker(8)
	sink := &memorySink{fail: true}

	done := make(chan error, 1)
	go func() { done <- RunSink(context.Background(), broker, sink, nil, m) }()

	require.Eventually(t, func() bool { return broker.Subscribers() == 1 }, time.Second, time.Millisecond)
	broker.Publish(Sample{Seq: 1})
	broker.Close()
	require.NoError(t, <-done)
	assert.Equal(t, 0, sink.count())
}
