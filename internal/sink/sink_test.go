// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/gyrostat/internal/acquire"
	"github.com/Thermoquad/gyrostat/internal/config"
	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

func testSample(seq uint64) acquire.Sample {
	return acquire.Sample{
		SessionID: uuid.MustParse("6f1c2a8e-3d4b-4c5a-9e7f-0a1b2c3d4e5f"),
		Seq:       seq,
		Received:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Record:    gx3.EulerAngles{Euler: gx3.Vector3{0.1, -0.2, 1.5}, Timer: 62500},
	}
}

func TestNewSampleRow(t *testing.T) {
	row, err := NewSampleRow(testSample(7))
	require.NoError(t, err)

	assert.Equal(t, "6f1c2a8e-3d4b-4c5a-9e7f-0a1b2c3d4e5f", row.SessionID)
	assert.Equal(t, int64(7), row.Seq)
	assert.Equal(t, int16(gx3.CmdEulerAngles), row.Command)
	assert.Equal(t, "EULER_ANGLES", row.Record)
	require.NotNil(t, row.Ticks)
	assert.Equal(t, int64(62500), *row.Ticks)
	assert.Len(t, row.Frame, gx3.LenSingleVector)
	assert.NoError(t, gx3.Verify(row.Frame))
	assert.Contains(t, row.Values, "62500")
}

func TestNewSampleRow_NonFinite(t *testing.T) {
	s := testSample(1)
	s.Record = gx3.Magnetometer{Mag: gx3.Vector3{float32(math.NaN()), 0, 0}}
	row, err := NewSampleRow(s)
	require.NoError(t, err)
	assert.Equal(t, "null", row.Values)
	assert.NotEmpty(t, row.Frame)
}

func TestPostgres_DecimateAndBuffer(t *testing.T) {
	p := NewPostgres(nil, config.DatabaseConfig{BatchSize: 100, Decimate: 3})
	for i := uint64(1); i <= 10; i++ {
		require.NoError(t, p.Write(context.Background(), testSample(i)))
	}
	// samples 1, 4, 7 and 10 are kept
	assert.Equal(t, 4, p.Pending())
}

func TestRedis_Keys(t *testing.T) {
	r := NewRedis(nil, config.RedisConfig{KeyPrefix: "imu:", Channel: "imu:records"})
	assert.Equal(t, "imu:latest:ACCEL_ANG_RATE", r.LatestKey(gx3.CmdAccelAngRate))
	assert.Equal(t, "imu:session", r.SessionKey())
	assert.Equal(t, "redis", r.Name())
}

func TestNewRedisClient_Disabled(t *testing.T) {
	_, err := NewRedisClient(context.Background(), config.RedisConfig{})
	assert.Error(t, err)
}

// Needs a running redis server; set GYROSTAT_TEST_REDIS=host:port.
func TestRedis_Integration(t *testing.T) {
	addr := os.Getenv("GYROSTAT_TEST_REDIS")
	if addr == "" {
		t.Skip("GYROSTAT_TEST_REDIS not set")
	}
	ctx := context.Background()
	cfg := config.RedisConfig{Enabled: true, Addr: addr, KeyPrefix: "gyrostat-test:", Channel: "gyrostat-test:records", TTL: time.Minute}
	client, err := NewRedisClient(ctx, cfg)
	require.NoError(t, err)
	defer client.Close()

	r := NewRedis(client, cfg)
	sub := client.Subscribe(ctx, cfg.Channel)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	s := testSample(1)
	require.NoError(t, r.Write(ctx, s))

	got, err := r.Latest(ctx, gx3.CmdEulerAngles)
	require.NoError(t, err)
	assert.Equal(t, s.Record, got)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	rec, err := gx3.ParseRecordCBOR([]byte(msg.Payload))
	require.NoError(t, err)
	assert.Equal(t, s.Record, rec)
}

// Needs a postgres server; set GYROSTAT_TEST_DSN.
func TestPostgres_Integration(t *testing.T) {
	dsn := os.Getenv("GYROSTAT_TEST_DSN")
	if dsn == "" {
		t.Skip("GYROSTAT_TEST_DSN not set")
	}
	cfg := config.DatabaseConfig{DSN: dsn, MaxOpenConns: 2, MaxIdleConns: 1, ConnMaxLifetime: time.Minute, BatchSize: 2}
	db, err := OpenPostgres(cfg)
	require.NoError(t, err)

	p := NewPostgres(db, cfg)
	s := testSample(1)
	s.SessionID = uuid.New()
	require.NoError(t, p.Write(context.Background(), s))
	s.Seq = 2
	require.NoError(t, p.Write(context.Background(), s))
	require.NoError(t, p.Close())

	var count int64
	require.NoError(t, db.Model(&SampleRow{}).Where("session_id = ?", s.SessionID.String()).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}
