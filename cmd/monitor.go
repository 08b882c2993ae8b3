// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/gyrostat/internal/acquire"
	"github.com/Thermoquad/gyrostat/internal/logging"
	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

// reconnectDelay is the pause between reconnection attempts.
const reconnectDelay = 2 * time.Second

// batchInterval bounds how often samples are delivered to the TUI.
const batchInterval = 100 * time.Millisecond

var monitorLegacy bool

var monitorCmd = &cobra.Command{
	Use:     "monitor",
	Aliases: []string{"error_detection", "control"},
	Short:   "Interactive TUI for streaming and controlling a device",
	Long: `Monitor a device in continuous mode via an interactive terminal UI.

Features:
  - Real-time display of the latest record
  - Frame, checksum and resync statistics with rates
  - Plausibility checks on every record
  - Record selection: pick another streamed record from the list
  - Gyro bias capture with a configurable sampling time
  - Event logging
  - Automatic reconnection on connection loss

Tab switches between the record list and the bias capture field. Enter
applies the focused control. Logs go to logging.file.filename when set.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVarP(&streamType, "type", "t", "", "Streamed record (default stream.dataType)")
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Log every record (not just anomalies)")
	monitorCmd.Flags().BoolVar(&monitorLegacy, "legacy", false, "Start with the single-command 0xC4 sequence")
}

// sessionRequest asks the session manager to change what it is doing.
type sessionRequest struct {
	dataType  byte
	captureMs uint16
}

// sessionManager owns the device connection and restarts acquisition after
// requests and connection loss.
type sessionManager struct {
	mu       sync.RWMutex
	dev      *gx3.Device
	connInfo string
	acq      *acquire.Acquirer
	dataType byte

	broker   *acquire.Broker
	log      *zap.Logger
	p        *tea.Program
	requests chan sessionRequest
}

func newSessionManager(dev *gx3.Device, connInfo string, dataType byte, log *zap.Logger) *sessionManager {
	return &sessionManager{
		dev:      dev,
		connInfo: connInfo,
		dataType: dataType,
		broker:   acquire.NewBroker(256),
		log:      log,
		requests: make(chan sessionRequest, 4),
	}
}

func (sm *sessionManager) device() *gx3.Device {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.dev
}

func (sm *sessionManager) setDevice(dev *gx3.Device, connInfo string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.dev = dev
	sm.connInfo = connInfo
}

// statistics returns the running session's counters.
func (sm *sessionManager) statistics() (gx3.Statistics, bool) {
	sm.mu.RLock()
	acq := sm.acq
	sm.mu.RUnlock()
	if acq == nil {
		return gx3.Statistics{}, false
	}
	return acq.Statistics(), true
}

// request queues r without blocking the TUI.
func (sm *sessionManager) request(r sessionRequest) bool {
	select {
	case sm.requests <- r:
		return true
	default:
		return false
	}
}

func (sm *sessionManager) send(msg tea.Msg) {
	if sm.p != nil {
		sm.p.Send(msg)
	}
}

func (sm *sessionManager) close() {
	sm.broker.Close()
	if dev := sm.device(); dev != nil {
		_ = dev.Close()
	}
}

// run drives acquisition sessions until ctx ends.
func (sm *sessionManager) run(ctx context.Context) {
	for ctx.Err() == nil {
		dev := sm.device()
		if dev == nil {
			sm.reconnect(ctx)
			continue
		}

		sm.mu.Lock()
		dataType := sm.dataType
		acq := acquire.New(dev, sm.broker, acquire.Options{
			DataType:     dataType,
			Legacy:       monitorLegacy,
			WarnInterval: cfg.Stream.WarnInterval,
			MaxErrors:    cfg.Stream.MaxErrors,
			Validate:     true,
		}, sm.log, nil)
		sm.acq = acq
		sm.mu.Unlock()

		sessCtx, cancel := context.WithCancel(ctx)
		errc := make(chan error, 1)
		go func() { errc <- acq.Run(sessCtx) }()
		sm.send(sessionStartedMsg{dataType: dataType})

		select {
		case <-ctx.Done():
			cancel()
			<-errc
			return

		case req := <-sm.requests:
			cancel()
			<-errc
			sm.handle(ctx, dev, req)

		case err := <-errc:
			cancel()
			sm.send(sessionEndedMsg{err: err})
			if isConnectionLoss(err) {
				_ = dev.Close()
				sm.setDevice(nil, "")
				sm.send(connectionLostMsg{})
				continue
			}
			sleepCtx(ctx, reconnectDelay)
		}
	}
}

func (sm *sessionManager) handle(ctx context.Context, dev *gx3.Device, req sessionRequest) {
	if req.captureMs > 0 {
		bias, err := dev.CaptureGyroBias(ctx, req.captureMs)
		sm.send(biasCapturedMsg{bias: bias, err: err})
	}
	if req.dataType != 0 {
		sm.mu.Lock()
		sm.dataType = req.dataType
		sm.mu.Unlock()
	}
}

// reconnect opens the connection again, retrying until ctx ends.
func (sm *sessionManager) reconnect(ctx context.Context) {
	for ctx.Err() == nil {
		dev, connInfo, err := openDevice(ctx)
		if err == nil {
			sm.setDevice(dev, connInfo)
			sm.log.Info("reconnected", zap.String("connection", connInfo))
			sm.send(reconnectedMsg{connInfo: connInfo})
			return
		}
		sm.log.Debug("reconnect failed", zap.Error(err))
		sleepCtx(ctx, reconnectDelay)
	}
}

// forward delivers broker samples to the TUI in batches.
func (sm *sessionManager) forward(ctx context.Context) {
	samples, cancel := sm.broker.Subscribe()
	defer cancel()

	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	var batch []acquire.Sample
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-samples:
			if !ok {
				return
			}
			batch = append(batch, s)
		case <-ticker.C:
			if len(batch) > 0 {
				sm.send(sampleBatchMsg{samples: batch})
				batch = nil
			}
		}
	}
}

// isConnectionLoss reports errors after which the port is unusable.
func isConnectionLoss(err error) bool {
	if err == nil {
		return false
	}
	var te *gx3.TransportError
	if errors.As(err, &te) {
		return te.Kind == gx3.TransportClosed || te.Kind == gx3.TransportIO || te.Kind == gx3.TransportWriteTimeout
	}
	return errors.Is(err, gx3.ErrPortClosed)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	dataType, err := streamDataType(streamType)
	if err != nil {
		return err
	}

	// The TUI owns the terminal; logs only go to a configured file
	logger, err = logging.InitFileLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx, cancel := commandContext()
	defer cancel()

	dev, connInfo, err := openDevice(ctx)
	if err != nil {
		return err
	}

	sm := newSessionManager(dev, connInfo, dataType, logger)
	m := initialMonitorModel(sm, connInfo, dataType, showAll)

	p := tea.NewProgram(m, tea.WithAltScreen())
	sm.p = p

	go sm.run(ctx)
	go sm.forward(ctx)

	_, runErr := p.Run()
	cancel()
	sm.close()
	if runErr != nil {
		return fmt.Errorf("TUI error: %w", runErr)
	}
	return nil
}
