// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package acquire runs a continuous mode session and publishes every
// verified record to a Broker.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Thermoquad/gyrostat/internal/metrics"
	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

// stopTimeout bounds the stop request sent after the session context ends.
const stopTimeout = 2 * time.Second

// Options configures an Acquirer.
type Options struct {
	DataType byte
	// Legacy starts the session with the single 0xC4 command
	Legacy bool
	// WarnInterval is the minimum spacing between recoverable error warnings
	WarnInterval time.Duration
	// MaxErrors ends the session after this many consecutive failed reads;
	// zero never gives up on recoverable errors
	MaxErrors int
	// Validate runs the plausibility checks on every record
	Validate bool
}

// Acquirer owns one device while streaming.
type Acquirer struct {
	dev     *gx3.Device
	stream  *gx3.Stream
	broker  *Broker
	opts    Options
	log     *zap.Logger
	metrics *metrics.StreamMetrics
	warn    *rate.Limiter

	mu         sync.Mutex
	stats      *gx3.Statistics
	sessionID  uuid.UUID
	seq        uint64
	suppressed int
}

// New creates an Acquirer. log and m may be nil.
func New(dev *gx3.Device, broker *Broker, opts Options, log *zap.Logger, m *metrics.StreamMetrics) *Acquirer {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.DataType == 0 {
		opts.DataType = gx3.CmdAccelAngRate
	}
	every := rate.Inf
	if opts.WarnInterval > 0 {
		every = rate.Every(opts.WarnInterval)
	}
	return &Acquirer{
		dev:     dev,
		stream:  gx3.NewStream(dev),
		broker:  broker,
		opts:    opts,
		log:     log,
		metrics: m,
		warn:    rate.NewLimiter(every, 1),
		stats:   gx3.NewStatistics(),
	}
}

// Run starts continuous mode, reads until ctx ends or the session fails,
// then stops the device. It returns nil when ctx was cancelled.
func (a *Acquirer) Run(ctx context.Context) error {
	a.mu.Lock()
	a.sessionID = uuid.New()
	a.seq = 0
	a.stats.Reset()
	a.mu.Unlock()

	var err error
	if a.opts.Legacy {
		err = a.stream.StartLegacy(ctx, a.opts.DataType)
	} else {
		err = a.stream.Start(ctx, a.opts.DataType)
	}
	if err != nil {
		return fmt.Errorf("start continuous mode: %w", err)
	}
	a.metrics.SetStreaming(true)
	a.log.Info("acquisition started",
		zap.Stringer("session", a.SessionID()),
		zap.String("record", gx3.CommandName(a.opts.DataType)))

	runErr := a.loop(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := a.stream.Stop(stopCtx); err != nil && !errors.Is(err, gx3.ErrNotStreaming) {
		a.log.Warn("stop continuous mode failed", zap.Error(err))
	}
	a.metrics.SetStreaming(false)

	stats := a.Statistics()
	a.log.Info("acquisition stopped",
		zap.Stringer("session", a.SessionID()),
		zap.Uint64("frames", stats.ValidFrames),
		zap.Uint64("checksumErrors", stats.ChecksumErrors),
		zap.Uint64("discardedBytes", stats.DiscardedBytes))

	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return nil
		}
	}
	return runErr
}

func (a *Acquirer) loop(ctx context.Context) error {
	consecutive := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := a.stream.ReadNext(ctx)
		discarded := a.stream.Discarded()

		var anomalies []gx3.ValidationError
		if err == nil && a.opts.Validate {
			anomalies = gx3.ValidateRecord(rec)
		}

		a.mu.Lock()
		a.stats.Update(rec, err, discarded, anomalies)
		a.mu.Unlock()
		a.metrics.ObserveRead(rec, err, discarded, anomalies)

		if err != nil {
			if !gx3.IsRecoverable(err) {
				return err
			}
			consecutive++
			a.warnf("stream read failed", err, consecutive)
			if a.opts.MaxErrors > 0 && consecutive >= a.opts.MaxErrors {
				return fmt.Errorf("%d consecutive stream errors: %w", consecutive, err)
			}
			continue
		}
		consecutive = 0

		if len(anomalies) > 0 && a.warn.Allow() {
			a.log.Warn("implausible record",
				zap.String("record", gx3.CommandName(rec.Command())),
				zap.String("issue", anomalies[0].Message),
				zap.Int("issues", len(anomalies)))
		}

		a.publish(rec)
	}
}

func (a *Acquirer) publish(rec gx3.Record) {
	a.mu.Lock()
	a.seq++
	s := Sample{SessionID: a.sessionID, Seq: a.seq, Received: time.Now(), Record: rec}
	a.mu.Unlock()

	if missed := a.broker.Publish(s); missed > 0 {
		a.metrics.Dropped(missed)
	}
}

// warnf logs recoverable errors at most once per WarnInterval and reports
// how many were suppressed in between.
func (a *Acquirer) warnf(msg string, err error, consecutive int) {
	if !a.warn.Allow() {
		a.mu.Lock()
		a.suppressed++
		a.mu.Unlock()
		return
	}
	a.mu.Lock()
	suppressed := a.suppressed
	a.suppressed = 0
	a.mu.Unlock()

	fields := []zap.Field{zap.Error(err), zap.Int("consecutive", consecutive)}
	if suppressed > 0 {
		fields = append(fields, zap.Int("suppressed", suppressed))
	}
	var re *gx3.ResyncError
	if errors.As(err, &re) {
		fields = append(fields, zap.Int("discarded", re.Discarded))
	}
	a.log.Warn(msg, fields...)
}

// SessionID identifies the current or last session.
func (a *Acquirer) SessionID() uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// Statistics returns a snapshot of the session counters with rates filled in.
func (a *Acquirer) Statistics() gx3.Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.CalculateRates()
	return *a.stats
}

// State reports the stream state.
func (a *Acquirer) State() gx3.StreamState {
	return a.stream.State()
}
