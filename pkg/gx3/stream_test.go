// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gx3_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Thermoquad/gyrostat/pkg/gx3"
	"github.com/Thermoquad/gyrostat/pkg/gx3/gx3test"
)

// startedStream returns a streaming session on a mock port that has
// already answered both start acknowledgements.
func startedStream(t *testing.T, opts ...gx3.Option) (*gx3.Stream, *gx3test.MockPort, *gx3.Device) {
	t.Helper()
	port := gx3test.NewMockPort()
	dev := newDevice(t, port, opts...)
	port.Queue(gx3.AppendChecksum([]byte{gx3.CmdContinuousPreset, gx3.CmdAccelAngRate}))
	port.Queue(gx3.AppendChecksum([]byte{gx3.CmdMode, gx3.ModeContinuous}))

	s := gx3.NewStream(dev)
	if err := s.Start(context.Background(), gx3.CmdAccelAngRate); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	return s, port, dev
}

func TestStream_StartSequence(t *testing.T) {
	s, port, dev := startedStream(t)

	want := "\xD6\xC6\x6B\xC2\xD4\xA3\x47\x02"
	if string(port.Written()) != want {
		t.Errorf("expected % X, got % X", []byte(want), port.Written())
	}
	if s.State() != gx3.StreamStreaming {
		t.Errorf("expected streaming, got %s", s.State())
	}
	if !dev.Streaming() {
		t.Error("device should report streaming")
	}
	sess := s.Session()
	if sess.DataType != gx3.CmdAccelAngRate || len(sess.Allowed) != 4 {
		t.Errorf("unexpected session %+v", sess)
	}
}

func TestStream_StartFailsOnBadAck(t *testing.T) {
	port := gx3test.NewMockPort()
	dev := newDevice(t, port, gx3.WithReadRetries(1))
	port.Queue(gx3.AppendChecksum([]byte{gx3.CmdContinuousPreset, gx3.CmdAccelAngRate}))
	port.Queue([]byte{gx3.CmdMode, gx3.ModeContinuous, 0x00, 0x00})

	s := gx3.NewStream(dev)
	err := s.Start(context.Background(), gx3.CmdAccelAngRate)
	if !errors.Is(err, gx3.ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
	if s.State() != gx3.StreamStopped || dev.Streaming() {
		t.Error("a failed start must leave the stream stopped")
	}
}

func TestStream_StartRejectsUnknownType(t *testing.T) {
	s := gx3.NewStream(newDevice(t, gx3test.NewMockPort()))
	if err := s.Start(context.Background(), 0x42); !errors.Is(err, gx3.ErrUnknownCommand) {
		t.Errorf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestStream_StartTwice(t *testing.T) {
	s, _, _ := startedStream(t)
	if err := s.Start(context.Background(), gx3.CmdAccelAngRate); !errors.Is(err, gx3.ErrAlreadyStreaming) {
		t.Errorf("expected ErrAlreadyStreaming, got %v", err)
	}
}

func TestStream_ReadNextRequiresStart(t *testing.T) {
	s := gx3.NewStream(newDevice(t, gx3test.NewMockPort()))
	if _, err := s.ReadNext(context.Background()); !errors.Is(err, gx3.ErrNotStreaming) {
		t.Errorf("expected ErrNotStreaming, got %v", err)
	}
}

func TestStream_ResyncAfterGarbage(t *testing.T) {
	s, port, _ := startedStream(t)
	port.Queue([]byte{0x00, 0x13, 0x37, 0xFF, 0x01})
	port.Queue(cannedAccelResponse)

	rec, err := s.ReadNext(context.Background())
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if _, ok := rec.(gx3.AccelAngRate); !ok {
		t.Fatalf("expected AccelAngRate, got %T", rec)
	}
	if s.Discarded() != 5 {
		t.Errorf("expected exactly 5 discarded bytes, got %d", s.Discarded())
	}
}

func TestStream_ResyncBudgetExhausted(t *testing.T) {
	s, port, _ := startedStream(t)
	port.Queue(make([]byte, 80))

	_, err := s.ReadNext(context.Background())
	if !errors.Is(err, gx3.ErrResyncFailed) {
		t.Fatalf("expected ErrResyncFailed, got %v", err)
	}
	var re *gx3.ResyncError
	if !errors.As(err, &re) || re.Discarded != gx3.DefaultResyncBudget {
		t.Errorf("expected %d discarded bytes, got %+v", gx3.DefaultResyncBudget, re)
	}
	if port.Pending() == 0 {
		t.Error("the scan should stop at the budget, not drain the input")
	}
}

func TestStream_TimeoutsCountAgainstBudget(t *testing.T) {
	s, port, _ := startedStream(t, gx3.WithResyncBudget(10))
	port.QueueTimeouts(10)
	port.Queue(cannedAccelResponse)

	if _, err := s.ReadNext(context.Background()); !errors.Is(err, gx3.ErrResyncFailed) {
		t.Fatalf("expected ErrResyncFailed, got %v", err)
	}
	if _, err := s.ReadNext(context.Background()); err != nil {
		t.Errorf("the next call should find the frame, got %v", err)
	}
}

func TestStream_CorruptFrameIsRecoverable(t *testing.T) {
	s, port, _ := startedStream(t)
	bad := append([]byte(nil), cannedAccelResponse...)
	bad[10] ^= 0x01
	port.Queue(bad)
	port.Queue(cannedAccelResponse)

	_, err := s.ReadNext(context.Background())
	if !errors.Is(err, gx3.ErrChecksumMismatch) || !gx3.IsRecoverable(err) {
		t.Fatalf("expected recoverable checksum mismatch, got %v", err)
	}
	if _, err := s.ReadNext(context.Background()); err != nil {
		t.Errorf("stream should continue after a corrupt frame, got %v", err)
	}
	if sess := s.Session(); sess.Frames != 1 {
		t.Errorf("expected 1 good frame, got %d", sess.Frames)
	}
}

func TestStream_AcceptsOtherStreamIdentifiers(t *testing.T) {
	s, port, _ := startedStream(t)
	ack, _ := gx3.EncodeFrame(gx3.ContinuousAck{DataType: gx3.CmdAccelAngRate, Timer: 7})
	mag, _ := gx3.EncodeFrame(gx3.AccelAngRateMag{Timer: 8})
	port.Queue(ack).Queue(mag)

	rec, err := s.ReadNext(context.Background())
	if err != nil || rec.Command() != gx3.CmdSetContinuous {
		t.Fatalf("expected C4 ack, got %v (%v)", rec, err)
	}
	rec, err = s.ReadNext(context.Background())
	if err != nil || rec.Command() != gx3.CmdAccelAngRateMag {
		t.Fatalf("expected CB record, got %v (%v)", rec, err)
	}
}

func TestStream_QueryWhileStreaming(t *testing.T) {
	_, _, dev := startedStream(t)
	if _, err := dev.Query(context.Background(), gx3.CmdEulerAngles); !errors.Is(err, gx3.ErrAlreadyStreaming) {
		t.Errorf("expected ErrAlreadyStreaming, got %v", err)
	}
}

func TestStream_Stop(t *testing.T) {
	s, port, dev := startedStream(t)
	resetsBefore := port.InputResets
	written := len(port.Written())

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if got := port.Written()[written:]; string(got) != "\xFA\x75\xB4" {
		t.Errorf("expected stop request FA 75 B4, got % X", got)
	}
	if port.InputResets != resetsBefore+1 {
		t.Error("stop must purge buffered input")
	}
	if s.State() != gx3.StreamStopped || dev.Streaming() {
		t.Error("stream should be stopped")
	}
	if err := s.Stop(context.Background()); !errors.Is(err, gx3.ErrNotStreaming) {
		t.Errorf("second stop should report ErrNotStreaming, got %v", err)
	}
}

func TestStream_DeviceStopEndsSession(t *testing.T) {
	stops := map[string]func(*gx3.Device) error{
		"stop continuous": func(d *gx3.Device) error { return d.StopContinuous(context.Background()) },
		"reset":           func(d *gx3.Device) error { return d.Reset(context.Background()) },
	}
	for name, stop := range stops {
		t.Run(name, func(t *testing.T) {
			s, port, dev := startedStream(t)

			if err := stop(dev); err != nil {
				t.Fatalf("device command failed: %v", err)
			}
			if s.State() != gx3.StreamStopped || dev.Streaming() {
				t.Errorf("expected stopped stream, got %s (device streaming %v)", s.State(), dev.Streaming())
			}
			if _, err := s.ReadNext(context.Background()); !errors.Is(err, gx3.ErrNotStreaming) {
				t.Errorf("expected ErrNotStreaming, got %v", err)
			}

			// The same stream can be started again
			port.Queue(gx3.AppendChecksum([]byte{gx3.CmdContinuousPreset, gx3.CmdEulerAngles}))
			port.Queue(gx3.AppendChecksum([]byte{gx3.CmdMode, gx3.ModeContinuous}))
			if err := s.Start(context.Background(), gx3.CmdEulerAngles); err != nil {
				t.Fatalf("restart failed: %v", err)
			}
			if s.State() != gx3.StreamStreaming {
				t.Errorf("expected streaming after restart, got %s", s.State())
			}
		})
	}
}

func TestStream_SimulatorSession(t *testing.T) {
	sim := gx3test.NewSimulator()
	sim.NoiseEvery = 3
	sim.NoiseBytes = 4
	dev := newDevice(t, sim)
	ctx := context.Background()

	s := gx3.NewStream(dev)
	if err := s.Start(ctx, gx3.CmdEulerAngles); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		rec, err := s.ReadNext(ctx)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if rec.Command() != gx3.CmdEulerAngles {
			t.Fatalf("frame %d: expected EULER_ANGLES, got %s", i, gx3.CommandName(rec.Command()))
		}
	}
	sess := s.Session()
	if sess.Frames != 10 || sess.TotalDiscarded != 12 {
		t.Errorf("expected 10 frames and 12 discarded bytes, got %d and %d", sess.Frames, sess.TotalDiscarded)
	}

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if sim.Streaming() {
		t.Error("simulator should have left continuous mode")
	}
	if _, err := dev.EulerAngles(ctx); err != nil {
		t.Errorf("queries should work again after stop, got %v", err)
	}
}

func TestStream_LegacyStart(t *testing.T) {
	sim := gx3test.NewSimulator()
	dev := newDevice(t, sim)
	ctx := context.Background()

	s := gx3.NewStream(dev)
	if err := s.StartLegacy(ctx, gx3.CmdAccelAngRate); err != nil {
		t.Fatalf("legacy start failed: %v", err)
	}
	if _, err := s.ReadNext(ctx); err != nil {
		t.Errorf("read failed: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Errorf("stop failed: %v", err)
	}
}
