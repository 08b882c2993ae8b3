// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package gx3test provides in-memory ports for exercising the gx3 package
// without hardware: a scripted MockPort and a behavioural Simulator.
package gx3test

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// ErrMockClosed is returned by reads and writes after Close.
var ErrMockClosed = errors.New("mock port closed")

type step struct {
	data    []byte
	timeout bool
	err     error
}

// MockPort replays a script of read results and records every write.
// An empty script behaves like a read timeout.
type MockPort struct {
	mu      sync.Mutex
	script  []step
	written bytes.Buffer
	closed  bool

	// DiscardOnReset drops queued input when ResetInputBuffer is called.
	DiscardOnReset bool

	// WriteLimit caps the bytes accepted per Write when positive.
	WriteLimit int

	// WriteDelay blocks each Write.
	WriteDelay time.Duration

	ReadTimeout  time.Duration
	InputResets  int
	OutputResets int
	Reads        int
}

// NewMockPort returns an empty mock.
func NewMockPort() *MockPort {
	return &MockPort{}
}

// Queue appends data delivered by the next read.
func (m *MockPort) Queue(data []byte) *MockPort {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, step{data: append([]byte(nil), data...)})
	return m
}

// QueueBytes delivers each byte from its own read.
func (m *MockPort) QueueBytes(data ...byte) *MockPort {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range data {
		m.script = append(m.script, step{data: []byte{b}})
	}
	return m
}

// QueueTimeouts appends n reads that return no data.
func (m *MockPort) QueueTimeouts(n int) *MockPort {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.script = append(m.script, step{timeout: true})
	}
	return m
}

// QueueError appends a read that fails with err.
func (m *MockPort) QueueError(err error) *MockPort {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, step{err: err})
	return m
}

// Pending reports how many scripted reads are left.
func (m *MockPort) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.script)
}

// Written returns a copy of everything written so far.
func (m *MockPort) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.written.Bytes()...)
}

func (m *MockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reads++
	if m.closed {
		return 0, ErrMockClosed
	}
	if len(m.script) == 0 {
		return 0, nil
	}

	s := &m.script[0]
	switch {
	case s.timeout:
		m.script = m.script[1:]
		return 0, nil
	case s.err != nil:
		m.script = m.script[1:]
		return 0, s.err
	}

	n := copy(p, s.data)
	s.data = s.data[n:]
	if len(s.data) == 0 {
		m.script = m.script[1:]
	}
	return n, nil
}

func (m *MockPort) Write(p []byte) (int, error) {
	if m.WriteDelay > 0 {
		time.Sleep(m.WriteDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrMockClosed
	}
	n := len(p)
	if m.WriteLimit > 0 && n > m.WriteLimit {
		n = m.WriteLimit
	}
	m.written.Write(p[:n])
	return n, nil
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockPort) SetReadTimeout(t time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadTimeout = t
	return nil
}

func (m *MockPort) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InputResets++
	if m.DiscardOnReset {
		m.script = nil
	}
	return nil
}

func (m *MockPort) ResetOutputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OutputResets++
	return nil
}
