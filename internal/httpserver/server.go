// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package httpserver exposes health, metrics and live records over HTTP
// for the serve command.
package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Thermoquad/gyrostat/internal/acquire"
	"github.com/Thermoquad/gyrostat/internal/config"
	"github.com/Thermoquad/gyrostat/internal/remote"
	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

// Deps are the optional collaborators of the server. Nil members disable
// the routes that need them.
type Deps struct {
	MetricsPath    string
	MetricsHandler http.Handler
	Broker         *acquire.Broker
	Stats          func() gx3.Statistics
	Ready          func() bool
	// Bridge is the device port offered on /ws/raw
	Bridge gx3.Port
	Logger *zap.Logger
}

// Server wraps the gin engine and its http.Server.
type Server struct {
	srv      *http.Server
	deps     Deps
	log      *zap.Logger
	upgrader websocket.Upgrader
	bridging atomic.Bool
}

// New creates and wires the server.
func New(cfg config.HTTPConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		deps: deps,
		log:  deps.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/readyz", func(c *gin.Context) {
		if deps.Ready == nil || deps.Ready() {
			c.String(http.StatusOK, "ready")
			return
		}
		c.String(http.StatusServiceUnavailable, "not-ready")
	})

	metricsPath := deps.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	if deps.MetricsHandler != nil {
		r.GET(metricsPath, gin.WrapH(deps.MetricsHandler))
	}

	api := r.Group("/api/v1")
	if deps.Broker != nil {
		api.GET("/latest", s.handleLatest)
		r.GET("/ws/records", s.handleRecords)
	}
	if deps.Stats != nil {
		api.GET("/stats", s.handleStats)
	}
	if deps.Bridge != nil {
		r.GET("/ws/raw", s.handleRaw)
	}

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves until Shutdown (blocking).
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Shutdown stops the listener and waits for plain requests to finish.
// Hijacked websocket connections end when their context or peer does.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// SampleView is the JSON form of a sample.
type SampleView struct {
	Session  string          `json:"session"`
	Seq      uint64          `json:"seq"`
	Received time.Time       `json:"received"`
	Record   string          `json:"record"`
	Command  uint8           `json:"command"`
	Values   json.RawMessage `json:"values"`
}

// NewSampleView converts a sample for JSON output. Records holding NaN or
// Inf values are reported with null values.
func NewSampleView(smp acquire.Sample) SampleView {
	values, err := json.Marshal(smp.Record)
	if err != nil {
		values = []byte("null")
	}
	return SampleView{
		Session:  smp.SessionID.String(),
		Seq:      smp.Seq,
		Received: smp.Received,
		Record:   gx3.CommandName(smp.Record.Command()),
		Command:  smp.Record.Command(),
		Values:   values,
	}
}

func (s *Server) handleLatest(c *gin.Context) {
	var (
		smp acquire.Sample
		ok  bool
	)
	if name := c.Query("record"); name != "" {
		cmd, err := gx3.LookupCommand(name)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		smp, ok = s.deps.Broker.LatestFor(cmd)
	} else {
		smp, ok = s.deps.Broker.Latest()
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no samples yet"})
		return
	}
	c.JSON(http.StatusOK, NewSampleView(smp))
}

func (s *Server) handleStats(c *gin.Context) {
	stats := s.deps.Stats()
	stats.CalculateRates()
	c.JSON(http.StatusOK, gin.H{
		"start":           stats.StartTime,
		"totalFrames":     stats.TotalFrames,
		"validFrames":     stats.ValidFrames,
		"checksumErrors":  stats.ChecksumErrors,
		"resyncFailures":  stats.ResyncFailures,
		"transportErrors": stats.TransportErrors,
		"discardedBytes":  stats.DiscardedBytes,
		"anomalousFrames": stats.AnomalousFrames,
		"frameRate":       stats.FrameRate,
		"errorRate":       stats.ErrorRate,
	})
}

// handleRecords streams samples to a websocket client, as CBOR envelopes
// in binary messages or, with ?format=json, as JSON text messages.
func (s *Server) handleRecords(c *gin.Context) {
	asJSON := c.Query("format") == "json"

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	samples, cancel := s.deps.Broker.Subscribe()
	defer cancel()

	// Reader notices the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.log.Debug("records client connected", zap.String("remote", c.Request.RemoteAddr), zap.Bool("json", asJSON))
	for {
		select {
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		case smp, ok := <-samples:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream ended"))
				return
			}
			if err := writeSample(conn, smp, asJSON); err != nil {
				s.log.Debug("records client write failed", zap.Error(err))
				return
			}
		}
	}
}

func writeSample(conn *websocket.Conn, smp acquire.Sample, asJSON bool) error {
	if asJSON {
		data, err := json.Marshal(NewSampleView(smp))
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, data)
	}
	data, err := gx3.MarshalRecordCBOR(smp.Record)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// handleRaw bridges one websocket client to the device port.
func (s *Server) handleRaw(c *gin.Context) {
	if !s.bridging.CompareAndSwap(false, true) {
		c.JSON(http.StatusConflict, gin.H{"error": "device is in use"})
		return
	}
	defer s.bridging.Store(false)

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s.log.Info("bridge client connected", zap.String("remote", c.Request.RemoteAddr))
	if err := remote.Bridge(c.Request.Context(), conn, s.deps.Bridge); err != nil {
		s.log.Warn("bridge ended", zap.Error(err))
		return
	}
	s.log.Info("bridge client disconnected", zap.String("remote", c.Request.RemoteAddr))
}
