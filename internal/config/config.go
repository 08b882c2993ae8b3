// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads gyrostat settings from a file, GYROSTAT_*
// environment variables and command line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/gyrostat/pkg/gx3"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "GYROSTAT"

// SerialConfig describes the local serial link.
type SerialConfig struct {
	Port               string        `mapstructure:"port"`
	Baud               int           `mapstructure:"baud"`
	ReadTimeout        time.Duration `mapstructure:"readTimeout"`
	WriteTimeout       time.Duration `mapstructure:"writeTimeout"`
	ReadRetries        int           `mapstructure:"readRetries"`
	ChecksumRetries    int           `mapstructure:"checksumRetries"`
	PurgeBeforeCommand bool          `mapstructure:"purgeBeforeCommand"`
}

// RemoteConfig describes a websocket bridge to a device on another host.
type RemoteConfig struct {
	URL         string `mapstructure:"url"`
	Username    string `mapstructure:"username"`
	NoSSLVerify bool   `mapstructure:"noSSLVerify"`
}

// StreamConfig controls continuous mode sessions.
type StreamConfig struct {
	DataType      string        `mapstructure:"dataType"`
	ResyncBudget  int           `mapstructure:"resyncBudget"`
	StatsInterval time.Duration `mapstructure:"statsInterval"`
	WarnInterval  time.Duration `mapstructure:"warnInterval"`
	// MaxErrors ends a session after this many consecutive failed reads
	MaxErrors int `mapstructure:"maxErrors"`
}

// LumberjackConfig configures log file rotation.
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig selects log level, encoding and outputs.
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// HTTPConfig configures the serve command's HTTP listener.
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// RedisConfig configures the live record sink.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	KeyPrefix    string        `mapstructure:"keyPrefix"`
	Channel      string        `mapstructure:"channel"`
	TTL          time.Duration `mapstructure:"ttl"`
	DialTimeout  time.Duration `mapstructure:"dialTimeout"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// DatabaseConfig configures the postgres sample archive.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
	BatchSize       int           `mapstructure:"batchSize"`
	// Decimate stores every n-th sample
	Decimate int `mapstructure:"decimate"`
}

// DiscoveryConfig controls automatic port selection.
type DiscoveryConfig struct {
	Filter       string        `mapstructure:"filter"`
	ProbeTimeout time.Duration `mapstructure:"probeTimeout"`
}

// Config is the top level configuration.
type Config struct {
	Serial    SerialConfig    `mapstructure:"serial"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
}

// flagKeys maps persistent flag names to configuration keys.
var flagKeys = map[string]string{
	"port":          "serial.port",
	"baud":          "serial.baud",
	"url":           "remote.url",
	"username":      "remote.username",
	"no-ssl-verify": "remote.noSSLVerify",
	"log-level":     "logging.level",
}

// Load reads configuration from path (or ./gyrostat.yaml, ./configs/gyrostat.yaml
// when path is empty), then applies environment overrides and any flags in
// flags that were set explicitly. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("gyrostat")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing default file is fine; an explicit path must exist
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud", 115200)
	v.SetDefault("serial.readTimeout", gx3.DefaultReadTimeout.String())
	v.SetDefault("serial.writeTimeout", gx3.DefaultWriteTimeout.String())
	v.SetDefault("serial.readRetries", gx3.DefaultReadRetries)
	v.SetDefault("serial.checksumRetries", 0)
	v.SetDefault("serial.purgeBeforeCommand", false)

	v.SetDefault("remote.url", "")
	v.SetDefault("remote.username", "")
	v.SetDefault("remote.noSSLVerify", false)

	v.SetDefault("stream.dataType", "ACCEL_ANG_RATE")
	v.SetDefault("stream.resyncBudget", gx3.DefaultResyncBudget)
	v.SetDefault("stream.statsInterval", "10s")
	v.SetDefault("stream.warnInterval", "5s")
	v.SetDefault("stream.maxErrors", 50)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 50)
	v.SetDefault("logging.file.maxBackups", 5)
	v.SetDefault("logging.file.maxAge", 14)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.keyPrefix", "gyrostat:")
	v.SetDefault("redis.channel", "gyrostat:records")
	v.SetDefault("redis.ttl", "1m")
	v.SetDefault("redis.dialTimeout", "5s")
	v.SetDefault("redis.readTimeout", "3s")
	v.SetDefault("redis.writeTimeout", "3s")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.maxOpenConns", 4)
	v.SetDefault("database.maxIdleConns", 2)
	v.SetDefault("database.connMaxLifetime", "30m")
	v.SetDefault("database.batchSize", 100)
	v.SetDefault("database.decimate", 1)

	v.SetDefault("discovery.filter", "MicroStrain")
	v.SetDefault("discovery.probeTimeout", "2s")
}

// Validate rejects settings the device layer cannot honor.
func (c *Config) Validate() error {
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud)
	}
	if c.Serial.ReadRetries < 0 {
		return fmt.Errorf("serial.readRetries must not be negative")
	}
	if c.Stream.ResyncBudget <= 0 {
		return fmt.Errorf("stream.resyncBudget must be positive, got %d", c.Stream.ResyncBudget)
	}
	if _, err := c.Stream.DataTypeByte(); err != nil {
		return err
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when the archive is enabled")
	}
	return nil
}

// DataTypeByte resolves the configured stream record by name or hex id.
func (s StreamConfig) DataTypeByte() (byte, error) {
	cmd, err := gx3.LookupCommand(s.DataType)
	if err != nil {
		return 0, fmt.Errorf("stream.dataType: %w", err)
	}
	if !gx3.IsQueryCommand(cmd) {
		return 0, fmt.Errorf("stream.dataType: %s (0x%02X) cannot be streamed", gx3.CommandName(cmd), cmd)
	}
	return cmd, nil
}

// DeviceOptions translates the serial and stream settings into gx3 options.
func (c *Config) DeviceOptions(logger gx3.Logger) []gx3.Option {
	opts := []gx3.Option{
		gx3.WithTimeouts(c.Serial.ReadTimeout, c.Serial.WriteTimeout),
		gx3.WithReadRetries(c.Serial.ReadRetries),
		gx3.WithChecksumRetries(c.Serial.ChecksumRetries),
		gx3.WithPurgeBeforeCommand(c.Serial.PurgeBeforeCommand),
		gx3.WithResyncBudget(c.Stream.ResyncBudget),
	}
	if logger != nil {
		opts = append(opts, gx3.WithLogger(logger))
	}
	return opts
}
