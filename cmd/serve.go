// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/gyrostat/internal/acquire"
	"github.com/Thermoquad/gyrostat/internal/httpserver"
	"github.com/Thermoquad/gyrostat/internal/metrics"
	"github.com/Thermoquad/gyrostat/internal/sink"
	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

const shutdownTimeout = 10 * time.Second

var (
	serveBridge bool
	serveLegacy bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Stream records to HTTP, websocket, redis and postgres consumers",
	Long: `Run continuous mode and serve the records.

Endpoints (http.addr):
  /healthz          liveness
  /readyz           ready while the device is streaming
  /metrics          prometheus metrics (metrics.enable)
  /api/v1/latest    latest record as JSON (?record=<name> for one type)
  /api/v1/stats     session statistics
  /ws/records       live records, CBOR binary messages (?format=json for text)

Sinks:
  redis.enabled     latest record per type plus a pub/sub channel
  database.enabled  sample archive in postgres

With --bridge no acquisition runs. The device port is offered raw on
/ws/raw instead, for use with --url from another host.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveBridge, "bridge", false, "Expose the raw device port on /ws/raw instead of streaming")
	serveCmd.Flags().StringVarP(&streamType, "type", "t", "", "Streamed record (default stream.dataType)")
	serveCmd.Flags().BoolVar(&serveLegacy, "legacy", false, "Start with the single-command 0xC4 sequence")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	logger.Info("starting gyrostat server", zap.String("version", rootCmd.Version))

	// Metrics
	deps := httpserver.Deps{Logger: logger, MetricsPath: cfg.Metrics.Path}
	var sm *metrics.StreamMetrics
	if cfg.Metrics.Enable {
		reg := metrics.NewRegistry()
		sm = metrics.NewStreamMetrics(reg)
		deps.MetricsHandler = metrics.Handler(reg)
	}

	if serveBridge {
		port, connInfo, err := OpenConnection(ctx)
		if err != nil {
			return err
		}
		defer port.Close()
		logger.Info("bridging device port", zap.String("connection", connInfo))
		deps.Bridge = port
		return serveHTTP(ctx, deps)
	}

	dataType, err := streamDataType(streamType)
	if err != nil {
		return err
	}

	// Sinks
	broker := acquire.NewBroker(256)
	deps.Broker = broker
	var sinks []acquire.Sink

	if cfg.Redis.Enabled {
		rdb, err := sink.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		sinks = append(sinks, sink.NewRedis(rdb, cfg.Redis))
		logger.Info("redis sink ready", zap.String("addr", cfg.Redis.Addr))
	}

	if cfg.Database.Enabled {
		db, err := sink.OpenPostgres(cfg.Database)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		sinks = append(sinks, sink.NewPostgres(db, cfg.Database))
		logger.Info("postgres sink ready")
	}

	// Acquisition
	dev, connInfo, err := openDevice(ctx)
	if err != nil {
		return err
	}
	logger.Info("device opened", zap.String("connection", connInfo))

	var current atomic.Pointer[acquire.Acquirer]
	deps.Stats = func() gx3.Statistics {
		if a := current.Load(); a != nil {
			return a.Statistics()
		}
		return gx3.Statistics{}
	}
	deps.Ready = func() bool {
		a := current.Load()
		return a != nil && a.State() == gx3.StreamStreaming
	}

	var wg sync.WaitGroup
	for _, s := range sinks {
		wg.Add(1)
		go func(s acquire.Sink) {
			defer wg.Done()
			if err := acquire.RunSink(ctx, broker, s, logger, sm); err != nil {
				logger.Warn("sink stopped", zap.String("sink", s.Name()), zap.Error(err))
			}
		}(s)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer broker.Close()
		superviseAcquisition(ctx, dev, broker, dataType, sm, &current)
	}()

	err = serveHTTP(ctx, deps)
	cancel()
	wg.Wait()
	logger.Info("shutdown complete")
	return err
}

// superviseAcquisition runs sessions until ctx ends, reopening the device
// after the connection is lost.
func superviseAcquisition(ctx context.Context, dev *gx3.Device, broker *acquire.Broker, dataType byte, sm *metrics.StreamMetrics, current *atomic.Pointer[acquire.Acquirer]) {
	defer func() {
		if dev != nil {
			_ = dev.Close()
		}
	}()

	for ctx.Err() == nil {
		if dev == nil {
			var err error
			dev, _, err = openDevice(ctx)
			if err != nil {
				logger.Debug("reconnect failed", zap.Error(err))
				sleepCtx(ctx, reconnectDelay)
				continue
			}
			logger.Info("reconnected")
		}

		acq := acquire.New(dev, broker, acquire.Options{
			DataType:     dataType,
			Legacy:       serveLegacy,
			WarnInterval: cfg.Stream.WarnInterval,
			MaxErrors:    cfg.Stream.MaxErrors,
			Validate:     true,
		}, logger, sm)
		current.Store(acq)

		err := acq.Run(ctx)
		if err == nil {
			return
		}
		logger.Error("acquisition ended", zap.Error(err))
		if isConnectionLoss(err) {
			_ = dev.Close()
			dev = nil
		}
		sleepCtx(ctx, reconnectDelay)
	}
}

// serveHTTP serves deps until ctx ends.
func serveHTTP(ctx context.Context, deps httpserver.Deps) error {
	srv := httpserver.New(cfg.HTTP, deps)

	errc := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	logger.Info("http server started", zap.String("addr", cfg.HTTP.Addr))

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("received shutdown signal, gracefully shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	logger.Info("http server stopped")
	return nil
}
