// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package acquire

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Thermoquad/gyrostat/internal/metrics"
)

// Sink stores or forwards samples.
type Sink interface {
	Name() string
	Write(ctx context.Context, s Sample) error
	// Close flushes pending samples
	Close() error
}

// RunSink feeds a broker subscription into sink until ctx ends or the
// broker closes. Write failures are logged and counted; they never stop
// the acquisition.
func RunSink(ctx context.Context, broker *Broker, sink Sink, log *zap.Logger, m *metrics.StreamMetrics) error {
	if log == nil {
		log = zap.NewNop()
	}
	samples, cancel := broker.Subscribe()
	defer cancel()

	log = log.With(zap.String("sink", sink.Name()))
	log.Info("sink attached")

	var err error
	for err == nil {
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case s, ok := <-samples:
			if !ok {
				err = errBrokerClosed
				break
			}
			if werr := sink.Write(ctx, s); werr != nil && ctx.Err() == nil {
				m.SinkError(sink.Name())
				log.Warn("sink write failed", zap.Uint64("seq", s.Seq), zap.Error(werr))
			}
		}
	}

	if cerr := sink.Close(); cerr != nil {
		log.Warn("sink close failed", zap.Error(cerr))
	}
	if errors.Is(err, errBrokerClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var errBrokerClosed = errors.New("broker closed")
