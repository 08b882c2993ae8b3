// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gx3

import "time"

// Logger is an optional structured logger. *zap.SugaredLogger satisfies it.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
}

// Config holds transport, codec and stream settings.
type Config struct {
	// Logger receives protocol diagnostics (optional)
	Logger Logger

	// ReadTimeout bounds a single read attempt
	ReadTimeout time.Duration

	// WriteTimeout bounds a whole write; zero disables it
	WriteTimeout time.Duration

	// ReadRetries is the number of timed-out read attempts tolerated
	// while collecting one response
	ReadRetries int

	// ResyncBudget is the number of bytes or timeouts a stream read may
	// discard before it gives up
	ResyncBudget int

	// ChecksumRetries re-issues a query after a corrupted response
	ChecksumRetries int

	// PurgeBeforeCommand drops stale input before each exchange
	PurgeBeforeCommand bool
}

func defaultConfig() Config {
	return Config{
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		ReadRetries:  DefaultReadRetries,
		ResyncBudget: DefaultResyncBudget,
	}
}

// Option configures a Transport or Device.
type Option func(*Config)

// WithLogger sets a logger for protocol diagnostics.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithTimeouts sets the per-attempt read timeout and the write timeout.
func WithTimeouts(read, write time.Duration) Option {
	return func(c *Config) {
		if read > 0 {
			c.ReadTimeout = read
		}
		if write >= 0 {
			c.WriteTimeout = write
		}
	}
}

// WithReadRetries sets how many timed-out read attempts a response may take.
func WithReadRetries(retries int) Option {
	return func(c *Config) {
		if retries >= 0 {
			c.ReadRetries = retries
		}
	}
}

// WithResyncBudget sets the stream resynchronization bound.
func WithResyncBudget(budget int) Option {
	return func(c *Config) {
		if budget > 0 {
			c.ResyncBudget = budget
		}
	}
}

// WithChecksumRetries re-issues query commands whose response fails
// verification up to n more times.
func WithChecksumRetries(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.ChecksumRetries = n
		}
	}
}

// WithPurgeBeforeCommand drops buffered input before every exchange.
func WithPurgeBeforeCommand(purge bool) Option {
	return func(c *Config) {
		c.PurgeBeforeCommand = purge
	}
}

func (c *Config) logDebug(msg string, keysAndValues ...interface{}) {
	if c.Logger != nil {
		c.Logger.Debugw(msg, keysAndValues...)
	}
}

func (c *Config) logInfo(msg string, keysAndValues ...interface{}) {
	if c.Logger != nil {
		c.Logger.Infow(msg, keysAndValues...)
	}
}

func (c *Config) logWarn(msg string, keysAndValues ...interface{}) {
	if c.Logger != nil {
		c.Logger.Warnw(msg, keysAndValues...)
	}
}
