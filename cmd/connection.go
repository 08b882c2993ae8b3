// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Thermoquad/gyrostat/internal/discovery"
	"github.com/Thermoquad/gyrostat/internal/remote"
	"github.com/Thermoquad/gyrostat/internal/serialport"
	"github.com/Thermoquad/gyrostat/pkg/gx3"
	"github.com/Thermoquad/gyrostat/pkg/gx3/gx3test"
)

// PasswordEnv holds the websocket password when set.
const PasswordEnv = "GYROSTAT_PASSWORD"

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// newSimulator returns the device behind --simulate, pacing frames at 100 Hz.
func newSimulator() *gx3test.Simulator {
	sim := gx3test.NewSimulator()
	sim.Pace = 10 * time.Millisecond
	return sim
}

// remotePassword is asked for once per process.
var remotePassword string

// OpenConnection opens the port selected by the flags and configuration:
// the simulator, a websocket bridge, a named serial port, or a discovered one.
func OpenConnection(ctx context.Context) (gx3.Port, string, error) {
	if simulate {
		return newSimulator(), "Simulator: 3DM-GX3-25", nil
	}

	if cfg.Remote.URL != "" {
		if cfg.Remote.Username != "" && remotePassword == "" {
			var err error
			remotePassword, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		port, err := remote.Dial(ctx, cfg.Remote.URL, remote.DialOptions{
			Username:      cfg.Remote.Username,
			Password:      remotePassword,
			SkipSSLVerify: cfg.Remote.NoSSLVerify,
		})
		if err != nil {
			return nil, "", err
		}
		return port, fmt.Sprintf("WebSocket: %s", cfg.Remote.URL), nil
	}

	name := cfg.Serial.Port
	if name == "" {
		cand, err := discoverPort(ctx)
		if err != nil {
			return nil, "", err
		}
		name = cand.Name
		// Reconnects reuse the chosen port without prompting again
		cfg.Serial.Port = name
	}

	port, err := serialport.Open(name, cfg.Serial.Baud)
	if err != nil {
		return nil, "", err
	}
	return port, fmt.Sprintf("Serial: %s @ %d baud", name, cfg.Serial.Baud), nil
}

// discoverPort scans serial ports for a device, probing candidates when more
// than one passes the filter.
func discoverPort(ctx context.Context) (discovery.Candidate, error) {
	finder := newFinder()
	cands, err := finder.Candidates()
	if err != nil {
		return discovery.Candidate{}, err
	}
	if len(cands) > 1 {
		if alive := discovery.Responding(finder.Probe(ctx, cands)); len(alive) > 0 {
			cands = alive
		}
	}
	cand, err := discovery.Choose(cands, os.Stdin, os.Stderr, discovery.IsInteractive())
	if err != nil {
		return discovery.Candidate{}, err
	}
	logger.Info("selected serial port", zap.String("port", cand.Name), zap.String("product", cand.Product))
	return cand, nil
}

func newFinder() *discovery.Finder {
	open := func(name string) (gx3.Port, error) {
		return serialport.Open(name, cfg.Serial.Baud)
	}
	return discovery.NewFinder(cfg.Discovery.Filter, open, cfg.Discovery.ProbeTimeout, deviceOptions()...)
}

func deviceOptions() []gx3.Option {
	return cfg.DeviceOptions(logger.Sugar())
}

// openDevice opens the connection and wraps it in a gx3 Device.
func openDevice(ctx context.Context) (*gx3.Device, string, error) {
	port, connInfo, err := OpenConnection(ctx)
	if err != nil {
		return nil, "", err
	}
	dev, err := gx3.New(port, deviceOptions()...)
	if err != nil {
		_ = port.Close()
		return nil, "", err
	}
	return dev, connInfo, nil
}

// commandContext returns a context cancelled on interrupt.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
