// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package remote carries the device byte stream over a websocket, so a
// device attached to another host (gyrostat serve --bridge) can be driven
// as if it were local.
package remote

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

// ErrConnectionClosed is returned when reading from a closed websocket.
var ErrConnectionClosed = errors.New("websocket connection closed")

// Port adapts a websocket carrying binary messages to gx3.Port. A reader
// goroutine queues incoming messages so that read timeouts never touch the
// websocket deadline.
type Port struct {
	conn *websocket.Conn

	messages chan []byte
	dead     chan struct{}
	closing  chan struct{}
	err      error // set before dead is closed

	mu          sync.Mutex
	buf         []byte
	readTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewPort wraps an established websocket connection.
func NewPort(conn *websocket.Conn) *Port {
	p := &Port{
		conn:        conn,
		messages:    make(chan []byte, 64),
		dead:        make(chan struct{}),
		closing:     make(chan struct{}),
		readTimeout: gx3.DefaultReadTimeout,
	}
	go p.pump()
	return p
}

func (p *Port) pump() {
	defer close(p.dead)
	for {
		messageType, data, err := p.conn.ReadMessage()
		if err != nil {
			p.err = err
			return
		}
		// Only binary messages carry device bytes
		if messageType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		select {
		case p.messages <- data:
		case <-p.closing:
			return
		}
	}
}

// Read returns buffered bytes, or waits up to the read timeout for the next
// message. A timeout returns (0, nil) like a serial port does.
func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buf) > 0 {
		n := copy(b, p.buf)
		p.buf = p.buf[n:]
		return n, nil
	}

	var timeout <-chan time.Time
	if p.readTimeout > 0 {
		timer := time.NewTimer(p.readTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case data := <-p.messages:
		return p.take(b, data), nil
	case <-p.dead:
		// Deliver what arrived before the connection went away
		select {
		case data := <-p.messages:
			return p.take(b, data), nil
		default:
		}
		if p.err != nil && !websocket.IsCloseError(p.err, websocket.CloseNormalClosure) {
			return 0, fmt.Errorf("%w: %v", ErrConnectionClosed, p.err)
		}
		return 0, ErrConnectionClosed
	case <-timeout:
		return 0, nil
	}
}

func (p *Port) take(b, data []byte) int {
	n := copy(b, data)
	if n < len(data) {
		p.buf = data[n:]
	}
	return n
}

// Write sends p as one binary message.
func (p *Port) Write(b []byte) (int, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// SetReadTimeout bounds how long Read waits for a message. Zero or a
// negative value blocks.
func (p *Port) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	p.readTimeout = t
	p.mu.Unlock()
	return nil
}

// ResetInputBuffer drops buffered and queued bytes. Bytes still in flight
// on the bridge host are not affected.
func (p *Port) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = nil
	for {
		select {
		case <-p.messages:
		default:
			return nil
		}
	}
}

// ResetOutputBuffer is a no-op; writes are sent immediately.
func (p *Port) ResetOutputBuffer() error {
	return nil
}

// Close sends a close frame and tears down the connection. It is safe to
// call more than once.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closing)
		p.writeMu.Lock()
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		p.writeMu.Unlock()
		err = p.conn.Close()
	})
	return err
}

// DialOptions configures Dial.
type DialOptions struct {
	Username      string
	Password      string
	SkipSSLVerify bool
	Timeout       time.Duration
}

// Dial connects to a ws:// or wss:// bridge with optional HTTP Basic auth.
func Dial(ctx context.Context, rawURL string, opts DialOptions) (*Port, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %q (use ws:// or wss://)", u.Scheme)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: opts.SkipSSLVerify}
	}

	headers := http.Header{}
	if opts.Username != "" && opts.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, rawURL, headers)
	if err != nil {
		if resp != nil {
			return nil, &gx3.TransportError{Kind: gx3.TransportOpen, Op: "dial " + rawURL,
				Err: fmt.Errorf("HTTP %d: %w", resp.StatusCode, err)}
		}
		return nil, &gx3.TransportError{Kind: gx3.TransportOpen, Op: "dial " + rawURL, Err: err}
	}
	return NewPort(conn), nil
}

var _ gx3.Port = (*Port)(nil)
