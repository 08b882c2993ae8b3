// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gx3

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Port is the byte channel to the device. go.bug.st/serial.Port satisfies it.
// Read must return (0, nil) or a Timeout() error when the read timeout
// expires without data.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	ResetOutputBuffer() error
}

// Transport owns a Port and adds bounded retry reads, timed writes and
// exchange serialization.
//
// Write, ReadExact and ReadByte assume a single caller. Exchange holds the
// transport lock for a whole write-then-read pair.
type Transport struct {
	port   Port
	cfg    Config
	mu     sync.Mutex
	closed atomic.Bool

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewTransport wraps port, applies the read timeout and purges both buffers.
func NewTransport(port Port, opts ...Option) (*Transport, error) {
	if port == nil {
		return nil, &TransportError{Kind: TransportOpen, Op: "open", Err: errors.New("nil port")}
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newTransport(port, cfg)
}

func newTransport(port Port, cfg Config) (*Transport, error) {
	t := &Transport{port: port, cfg: cfg}
	if err := t.SetTimeouts(cfg.ReadTimeout, cfg.WriteTimeout); err != nil {
		return nil, err
	}
	if err := t.Purge(); err != nil {
		return nil, err
	}
	return t, nil
}

// SetTimeouts changes the per-attempt read timeout and the write timeout.
func (t *Transport) SetTimeouts(read, write time.Duration) error {
	if err := t.port.SetReadTimeout(read); err != nil {
		return &TransportError{Kind: TransportConfig, Op: "set read timeout", Err: err}
	}
	t.readTimeout = read
	t.writeTimeout = write
	return nil
}

// ReadTimeout returns the current per-attempt read timeout.
func (t *Transport) ReadTimeout() time.Duration {
	return t.readTimeout
}

// WriteTimeout returns the current write timeout.
func (t *Transport) WriteTimeout() time.Duration {
	return t.writeTimeout
}

// Write sends p. It fails with ErrShortWrite when the port accepts fewer
// bytes and with ErrWriteTimeout when the write does not finish in time.
//
// A write abandoned by timeout or cancellation may still complete later, so
// the transport closes itself and every later call fails with ErrPortClosed.
func (t *Transport) Write(ctx context.Context, p []byte) (int, error) {
	if t.closed.Load() {
		return 0, t.closedError("write", len(p), 0)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	n, err := t.timedWrite(ctx, p)
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			return n, err
		}
		if ctx.Err() != nil {
			return n, err
		}
		if t.closed.Load() {
			return n, t.closedError("write", len(p), n)
		}
		return n, &TransportError{Kind: TransportIO, Op: "write", Requested: len(p), Transferred: n, Err: err}
	}
	if n < len(p) {
		return n, &TransportError{Kind: TransportShortWrite, Op: "write", Requested: len(p), Transferred: n}
	}
	return n, nil
}

type writeResult struct {
	n   int
	err error
}

func (t *Transport) timedWrite(ctx context.Context, p []byte) (int, error) {
	if t.writeTimeout <= 0 {
		return t.port.Write(p)
	}

	done := make(chan writeResult, 1)
	go func() {
		n, err := t.port.Write(p)
		done <- writeResult{n, err}
	}()

	timer := time.NewTimer(t.writeTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.n, r.err
	case <-timer.C:
		if r, ok := t.abandonWrite(done); ok {
			return r.n, r.err
		}
		return 0, &TransportError{Kind: TransportWriteTimeout, Op: "write", Requested: len(p)}
	case <-ctx.Done():
		if r, ok := t.abandonWrite(done); ok {
			return r.n, r.err
		}
		return 0, ctx.Err()
	}
}

// abandonWrite closes the port under an in-flight write so the stray bytes
// cannot land between the frames of a later command. A write that already
// finished is returned instead.
func (t *Transport) abandonWrite(done <-chan writeResult) (writeResult, bool) {
	select {
	case r := <-done:
		return r, true
	default:
	}
	_ = t.Close()
	return writeResult{}, false
}

// ReadExact fills buf. Partial reads are accumulated; every attempt that
// times out without data consumes one retry, and running out of retries
// fails with ErrShortRead. The context is checked between attempts.
func (t *Transport) ReadExact(ctx context.Context, buf []byte) (int, error) {
	got := 0
	retries := t.cfg.ReadRetries
	for got < len(buf) {
		if err := ctx.Err(); err != nil {
			return got, err
		}
		if t.closed.Load() {
			return got, t.closedError("read", len(buf), got)
		}

		n, err := t.port.Read(buf[got:])
		got += n
		if err != nil && !isTimeout(err) {
			if t.closed.Load() {
				return got, t.closedError("read", len(buf), got)
			}
			return got, &TransportError{Kind: TransportIO, Op: "read", Requested: len(buf), Transferred: got, Err: err}
		}
		if n > 0 {
			continue
		}
		if retries == 0 {
			return got, &TransportError{Kind: TransportShortRead, Op: "read", Requested: len(buf), Transferred: got}
		}
		retries--
	}
	return got, nil
}

// ReadByte makes one read attempt. ok is false when the attempt timed out.
func (t *Transport) ReadByte(ctx context.Context) (b byte, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	if t.closed.Load() {
		return 0, false, t.closedError("read", 1, 0)
	}
	var one [1]byte
	n, err := t.port.Read(one[:])
	if err != nil && !isTimeout(err) {
		if t.closed.Load() {
			return 0, false, t.closedError("read", 1, 0)
		}
		return 0, false, &TransportError{Kind: TransportIO, Op: "read", Requested: 1, Err: err}
	}
	if n == 0 {
		return 0, false, nil
	}
	return one[0], true, nil
}

// Purge discards buffered input and unflushed output.
func (t *Transport) Purge() error {
	if err := t.PurgeInput(); err != nil {
		return err
	}
	if err := t.port.ResetOutputBuffer(); err != nil {
		return &TransportError{Kind: TransportIO, Op: "purge output", Err: err}
	}
	return nil
}

// PurgeInput discards buffered input only.
func (t *Transport) PurgeInput() error {
	if err := t.port.ResetInputBuffer(); err != nil {
		return &TransportError{Kind: TransportIO, Op: "purge input", Err: err}
	}
	return nil
}

// Exchange writes req and reads exactly len(resp) bytes as one locked unit.
func (t *Transport) Exchange(ctx context.Context, req, resp []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exchangeLocked(ctx, req, resp)
}

func (t *Transport) exchangeLocked(ctx context.Context, req, resp []byte) error {
	if t.cfg.PurgeBeforeCommand {
		if err := t.PurgeInput(); err != nil {
			return err
		}
	}
	if _, err := t.Write(ctx, req); err != nil {
		return err
	}
	if len(resp) == 0 {
		return nil
	}
	_, err := t.ReadExact(ctx, resp)
	return err
}

// Close releases the port. A goroutine blocked in ReadExact returns
// ErrPortClosed at its next attempt; the serial driver unblocks the
// in-flight read itself. Close is idempotent.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	if err := t.port.Close(); err != nil {
		return &TransportError{Kind: TransportIO, Op: "close", Err: err}
	}
	return nil
}

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool {
	return t.closed.Load()
}

func (t *Transport) closedError(op string, requested, transferred int) error {
	return &TransportError{Kind: TransportClosed, Op: op, Requested: requested, Transferred: transferred, Err: ErrPortClosed}
}

// isTimeout reports read errors that mean "no data yet".
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, io.EOF) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
