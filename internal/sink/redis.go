// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sink stores acquired samples outside the process.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Thermoquad/gyrostat/internal/acquire"
	"github.com/Thermoquad/gyrostat/internal/config"
	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

// NewRedisClient connects to redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// Redis keeps the latest sample of each record type under
// <prefix>latest:<RECORD> and publishes every sample on a channel. Values
// are CBOR envelopes as produced by gx3.MarshalRecordCBOR.
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	channel string
	ttl     time.Duration
}

// NewRedis creates a sink on an established client.
func NewRedis(client redis.UniversalClient, cfg config.RedisConfig) *Redis {
	return &Redis{client: client, prefix: cfg.KeyPrefix, channel: cfg.Channel, ttl: cfg.TTL}
}

// Name implements acquire.Sink.
func (r *Redis) Name() string { return "redis" }

// LatestKey returns the key holding the latest record of type cmd.
func (r *Redis) LatestKey(cmd byte) string {
	return r.prefix + "latest:" + gx3.CommandName(cmd)
}

// SessionKey returns the hash holding session bookkeeping.
func (r *Redis) SessionKey() string {
	return r.prefix + "session"
}

// Write implements acquire.Sink.
func (r *Redis) Write(ctx context.Context, s acquire.Sample) error {
	payload, err := gx3.MarshalRecordCBOR(s.Record)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.LatestKey(s.Record.Command()), payload, r.ttl)
	pipe.HSet(ctx, r.SessionKey(),
		"id", s.SessionID.String(),
		"seq", s.Seq,
		"received", s.Received.UTC().Format(time.RFC3339Nano))
	if r.channel != "" {
		pipe.Publish(ctx, r.channel, payload)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Latest reads back the most recent record of type cmd.
func (r *Redis) Latest(ctx context.Context, cmd byte) (gx3.Record, error) {
	data, err := r.client.Get(ctx, r.LatestKey(cmd)).Bytes()
	if err != nil {
		return nil, err
	}
	return gx3.ParseRecordCBOR(data)
}

// Close implements acquire.Sink. The client is owned by the caller.
func (r *Redis) Close() error { return nil }
