// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gx3_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Thermoquad/gyrostat/pkg/gx3"
	"github.com/Thermoquad/gyrostat/pkg/gx3/gx3test"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func newTransport(t *testing.T, port gx3.Port, opts ...gx3.Option) *gx3.Transport {
	t.Helper()
	tr, err := gx3.NewTransport(port, opts...)
	if err != nil {
		t.Fatalf("NewTransport failed: %v", err)
	}
	return tr
}

func TestNewTransport_PurgesAndConfigures(t *testing.T) {
	port := gx3test.NewMockPort()
	newTransport(t, port, gx3.WithTimeouts(250*time.Millisecond, time.Second))

	if port.InputResets != 1 || port.OutputResets != 1 {
		t.Errorf("expected both buffers purged once, got in=%d out=%d", port.InputResets, port.OutputResets)
	}
	if port.ReadTimeout != 250*time.Millisecond {
		t.Errorf("expected read timeout 250ms, got %v", port.ReadTimeout)
	}
}

func TestNewTransport_NilPort(t *testing.T) {
	if _, err := gx3.NewTransport(nil); err == nil {
		t.Error("expected an error for a nil port")
	}
}

func TestReadExact_PartialReads(t *testing.T) {
	port := gx3test.NewMockPort()
	tr := newTransport(t, port)
	port.Queue([]byte{1, 2}).Queue([]byte{3}).Queue([]byte{4, 5, 6})

	buf := make([]byte, 6)
	n, err := tr.ReadExact(context.Background(), buf)
	if err != nil || n != 6 {
		t.Fatalf("expected 6 bytes, got %d (%v)", n, err)
	}
	if string(buf) != "\x01\x02\x03\x04\x05\x06" {
		t.Errorf("unexpected bytes % X", buf)
	}
}

func TestReadExact_RetryOnTimeout(t *testing.T) {
	tests := []struct {
		name     string
		timeouts int
		retries  int
		wantErr  bool
	}{
		{"no timeouts", 0, 10, false},
		{"within budget", 7, 10, false},
		{"exactly budget", 10, 10, false},
		{"over budget", 11, 10, true},
		{"zero budget", 1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := gx3test.NewMockPort()
			tr := newTransport(t, port, gx3.WithReadRetries(tt.retries))
			port.Queue([]byte{0xAA})
			port.QueueTimeouts(tt.timeouts)
			port.Queue([]byte{0xBB, 0xCC})

			buf := make([]byte, 3)
			n, err := tr.ReadExact(context.Background(), buf)
			if tt.wantErr {
				if !errors.Is(err, gx3.ErrShortRead) {
					t.Fatalf("expected ErrShortRead, got %v", err)
				}
				var te *gx3.TransportError
				if !errors.As(err, &te) || te.Transferred != 1 || te.Requested != 3 {
					t.Errorf("expected 1 of 3 bytes reported, got %+v", te)
				}
				return
			}
			if err != nil || n != 3 {
				t.Fatalf("expected success, got %d bytes (%v)", n, err)
			}
		})
	}
}

func TestReadExact_TimeoutError(t *testing.T) {
	port := gx3test.NewMockPort()
	tr := newTransport(t, port, gx3.WithReadRetries(2))
	port.QueueError(timeoutErr{}).QueueError(timeoutErr{}).Queue([]byte{0x01})

	buf := make([]byte, 1)
	if _, err := tr.ReadExact(context.Background(), buf); err != nil {
		t.Errorf("timeout errors should consume retries, got %v", err)
	}
}

func TestReadExact_IOError(t *testing.T) {
	port := gx3test.NewMockPort()
	tr := newTransport(t, port)
	boom := errors.New("device unplugged")
	port.QueueError(boom)

	_, err := tr.ReadExact(context.Background(), make([]byte, 4))
	if !errors.Is(err, boom) {
		t.Errorf("expected the port error to be wrapped, got %v", err)
	}
	var te *gx3.TransportError
	if !errors.As(err, &te) || te.Kind != gx3.TransportIO {
		t.Errorf("expected TransportIO, got %v", err)
	}
}

func TestReadExact_ContextCancelled(t *testing.T) {
	port := gx3test.NewMockPort()
	tr := newTransport(t, port)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tr.ReadExact(ctx, make([]byte, 1)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if port.Reads != 0 {
		t.Errorf("no read should be attempted after cancellation, got %d", port.Reads)
	}
}

func TestWrite_ShortWrite(t *testing.T) {
	port := gx3test.NewMockPort()
	port.WriteLimit = 2
	tr := newTransport(t, port)

	n, err := tr.Write(context.Background(), []byte{0xD4, 0xA3, 0x47, 0x02})
	if !errors.Is(err, gx3.ErrShortWrite) {
		t.Fatalf("expected ErrShortWrite, got %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 bytes written, got %d", n)
	}
}

func TestWrite_Timeout(t *testing.T) {
	port := gx3test.NewMockPort()
	port.WriteDelay = 200 * time.Millisecond
	tr := newTransport(t, port, gx3.WithTimeouts(10*time.Millisecond, 20*time.Millisecond))

	_, err := tr.Write(context.Background(), []byte{0xC2})
	if !errors.Is(err, gx3.ErrWriteTimeout) {
		t.Errorf("expected ErrWriteTimeout, got %v", err)
	}
}

func TestWrite_TimeoutClosesTransport(t *testing.T) {
	port := gx3test.NewMockPort()
	port.WriteDelay = 100 * time.Millisecond
	tr := newTransport(t, port, gx3.WithTimeouts(10*time.Millisecond, 20*time.Millisecond))

	if _, err := tr.Write(context.Background(), []byte{0xCE}); !errors.Is(err, gx3.ErrWriteTimeout) {
		t.Fatalf("expected ErrWriteTimeout, got %v", err)
	}
	if !tr.Closed() {
		t.Fatal("expected the transport to close after an abandoned write")
	}

	_, err := tr.Write(context.Background(), []byte{0xC2})
	if !errors.Is(err, gx3.ErrPortClosed) {
		t.Errorf("expected ErrPortClosed, got %v", err)
	}

	// The abandoned write lands on a closed port and sends nothing
	time.Sleep(150 * time.Millisecond)
	if len(port.Written()) != 0 {
		t.Errorf("expected nothing written, got % X", port.Written())
	}
}

func TestClose_Idempotent(t *testing.T) {
	port := gx3test.NewMockPort()
	tr := newTransport(t, port)

	if err := tr.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
	if _, err := tr.ReadExact(context.Background(), make([]byte, 1)); !errors.Is(err, gx3.ErrPortClosed) {
		t.Errorf("expected ErrPortClosed after close, got %v", err)
	}
	if _, err := tr.Write(context.Background(), []byte{0xC2}); !errors.Is(err, gx3.ErrPortClosed) {
		t.Errorf("expected ErrPortClosed after close, got %v", err)
	}
}

// A reader blocked in the retry loop must return promptly once the
// transport is closed from another goroutine.
func TestClose_UnblocksReader(t *testing.T) {
	sim := gx3test.NewSimulator()
	tr := newTransport(t, sim, gx3.WithTimeouts(5*time.Millisecond, time.Second), gx3.WithReadRetries(100000))

	done := make(chan error, 1)
	go func() {
		_, err := tr.ReadExact(context.Background(), make([]byte, 31))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := tr.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, gx3.ErrPortClosed) {
			t.Errorf("expected ErrPortClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not return after close")
	}
}

func TestExchange(t *testing.T) {
	port := gx3test.NewMockPort()
	tr := newTransport(t, port, gx3.WithPurgeBeforeCommand(true))
	port.Queue([]byte{0xE5, 0x12, 0x34, 0x01, 0x2B})

	resp := make([]byte, 5)
	if err := tr.Exchange(context.Background(), gx3.NewReadEepromRequest(0x42), resp); err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	if string(port.Written()) != "\xE5\x00\xFC\x42" {
		t.Errorf("unexpected request % X", port.Written())
	}
	if port.InputResets != 2 {
		t.Errorf("expected a purge before the command, got %d input resets", port.InputResets)
	}
}
