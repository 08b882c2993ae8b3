// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gx3

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// StreamState is the continuous-mode lifecycle state.
type StreamState int

const (
	StreamStopped StreamState = iota
	StreamStarting
	StreamStreaming
	StreamStopping
)

func (s StreamState) String() string {
	switch s {
	case StreamStopped:
		return "stopped"
	case StreamStarting:
		return "starting"
	case StreamStreaming:
		return "streaming"
	case StreamStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Session is a snapshot of a continuous-mode session.
type Session struct {
	DataType       byte
	State          StreamState
	Allowed        []byte
	Discarded      int // bytes dropped by the last ReadNext
	TotalDiscarded uint64
	Frames         uint64
	StartedAt      time.Time
}

// Stream drives continuous mode on a Device. A Stream is driven by one
// goroutine; Session may be read from others.
type Stream struct {
	dev    *Device
	budget int

	mu      sync.Mutex
	session Session
	allowed [256]bool
	buf     [LenTripleMatrix]byte
}

// NewStream returns a stopped stream for dev.
func NewStream(dev *Device) *Stream {
	return &Stream{dev: dev, budget: dev.cfg.ResyncBudget}
}

// Start selects dataType as the pushed record and switches the device to
// continuous mode. Both acknowledgements must verify before the stream is
// considered running.
func (s *Stream) Start(ctx context.Context, dataType byte) error {
	if err := s.begin(dataType); err != nil {
		return err
	}
	if _, err := s.dev.exchange(ctx, CmdContinuousPreset, NewContinuousPresetRequest(dataType)); err != nil {
		s.abort()
		return err
	}
	if _, err := s.dev.exchange(ctx, CmdMode, NewModeRequest(ModeContinuous)); err != nil {
		s.abort()
		return err
	}
	s.running(dataType)
	return nil
}

// StartLegacy starts continuous mode with the single 0xC4 command understood
// by early firmware.
func (s *Stream) StartLegacy(ctx context.Context, dataType byte) error {
	if err := s.begin(dataType); err != nil {
		return err
	}
	if _, err := s.dev.exchange(ctx, CmdSetContinuous, NewSetContinuousRequest(dataType)); err != nil {
		s.abort()
		return err
	}
	s.running(dataType)
	return nil
}

func (s *Stream) begin(dataType byte) error {
	if !IsQueryCommand(dataType) {
		return wrapCommand(dataType, ErrUnknownCommand)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.State != StreamStopped || s.dev.streaming.Load() {
		return ErrAlreadyStreaming
	}
	s.session = Session{DataType: dataType, State: StreamStarting}
	return nil
}

func (s *Stream) abort() {
	s.mu.Lock()
	s.session.State = StreamStopped
	s.mu.Unlock()
}

func (s *Stream) running(dataType byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.allowed = [256]bool{}
	s.allowed[dataType] = true
	allowed := []byte{dataType}
	for _, id := range StreamIdentifiers {
		if !s.allowed[id] {
			s.allowed[id] = true
			allowed = append(allowed, id)
		}
	}
	s.session.Allowed = allowed
	s.session.State = StreamStreaming
	s.session.StartedAt = time.Now()
	s.dev.stream.Store(s)
	s.dev.streaming.Store(true)

	s.dev.cfg.logInfo("continuous mode started", "data_type", fmt.Sprintf("0x%02X", dataType))
}

// ReadNext returns the next pushed record. Bytes that cannot start a frame
// and read attempts that time out are discarded; once the resynchronization
// budget is spent the call fails with a *ResyncError. A frame that fails
// verification is reported and the next call resumes scanning.
func (s *Stream) ReadNext(ctx context.Context) (Record, error) {
	s.mu.Lock()
	state := s.session.State
	s.mu.Unlock()
	if state != StreamStreaming {
		return nil, ErrNotStreaming
	}

	t := s.dev.t
	t.mu.Lock()
	defer t.mu.Unlock()

	discarded := 0
	for attempts := 0; ; attempts++ {
		if attempts >= s.budget {
			s.noteDiscarded(discarded, false)
			return nil, &ResyncError{Discarded: discarded, Budget: s.budget}
		}

		b, ok, err := t.ReadByte(ctx)
		if err != nil {
			s.noteDiscarded(discarded, false)
			return nil, err
		}
		if !ok {
			continue
		}
		if !s.allowed[b] {
			discarded++
			continue
		}

		spec := frameSpecs[b]
		frame := s.buf[:spec.length]
		frame[0] = b
		if _, err := t.ReadExact(ctx, frame[1:]); err != nil {
			s.noteDiscarded(discarded, false)
			return nil, wrapCommand(b, err)
		}
		if discarded > 0 {
			s.dev.cfg.logDebug("resynchronized stream", "discarded", discarded, "identifier", fmt.Sprintf("0x%02X", b))
		}
		if err := Verify(frame); err != nil {
			s.noteDiscarded(discarded, false)
			return nil, wrapCommand(b, err)
		}
		s.noteDiscarded(discarded, true)
		return spec.decode(frame), nil
	}
}

func (s *Stream) noteDiscarded(n int, frame bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.Discarded = n
	s.session.TotalDiscarded += uint64(n)
	if frame {
		s.session.Frames++
	}
}

// Stop leaves continuous mode and drops whatever streamed bytes are still
// buffered. The stream is stopped even when the stop request fails.
func (s *Stream) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.session.State != StreamStreaming {
		s.mu.Unlock()
		return ErrNotStreaming
	}
	s.session.State = StreamStopping
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.session.State = StreamStopped
		s.mu.Unlock()
		s.dev.stream.CompareAndSwap(s, nil)
		s.dev.streaming.Store(false)
	}()

	t := s.dev.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.Write(ctx, NewStopContinuousRequest()); err != nil {
		return wrapCommand(CmdStopContinuous, err)
	}
	if err := t.PurgeInput(); err != nil {
		return wrapCommand(CmdStopContinuous, err)
	}
	s.dev.cfg.logInfo("continuous mode stopped")
	return nil
}

// detach stops the session without talking to the device.
func (s *Stream) detach() {
	s.mu.Lock()
	s.session.State = StreamStopped
	dataType := s.session.DataType
	s.mu.Unlock()
	s.dev.cfg.logInfo("continuous mode ended by device command", "data_type", fmt.Sprintf("0x%02X", dataType))
}

// State returns the current lifecycle state.
func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.State
}

// Discarded returns the bytes dropped by the last ReadNext.
func (s *Stream) Discarded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Discarded
}

// Session returns a copy of the session state.
func (s *Stream) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.session
	sess.Allowed = append([]byte(nil), s.session.Allowed...)
	return sess
}
