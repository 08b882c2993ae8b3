// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Thermoquad/gyrostat/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for name, want := range tests {
		assert.Equal(t, want, ParseLevel(name), name)
	}
}

func TestNewLogger_ConsoleAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gyrostat.log")
	var console bytes.Buffer

	logger, err := newLogger(config.LoggingConfig{
		Level:  "debug",
		Format: "json",
		File:   config.LumberjackConfig{Filename: path, MaxSizeMB: 1},
	}, &console)
	require.NoError(t, err)

	logger.Debug("stream started", zap.String("type", "ACCEL_ANG_RATE"))
	require.NoError(t, logger.Sync())

	assert.Contains(t, console.String(), `"msg":"stream started"`)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ACCEL_ANG_RATE")
}

func TestNewLogger_LevelFilter(t *testing.T) {
	var console bytes.Buffer
	logger, err := newLogger(config.LoggingConfig{Level: "warn", Format: "console"}, &console)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("resync failed")
	_ = logger.Sync()

	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), "resync failed")
}

func TestInitFileLogger(t *testing.T) {
	logger, err := InitFileLogger(config.LoggingConfig{Level: "info"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.ErrorLevel), "no file means no output")

	path := filepath.Join(t.TempDir(), "monitor.log")
	logger, err = InitFileLogger(config.LoggingConfig{Level: "info", File: config.LumberjackConfig{Filename: path, MaxSizeMB: 1}})
	require.NoError(t, err)
	logger.Info("reconnected")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "reconnected")
}
