// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Thermoquad/gyrostat/internal/acquire"
	"github.com/Thermoquad/gyrostat/internal/config"
	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

// SampleRow maps the samples table.
type SampleRow struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	SessionID  string    `gorm:"column:session_id;type:uuid;not null;index:idx_samples_session_seq,priority:1"`
	Seq        int64     `gorm:"column:seq;not null;index:idx_samples_session_seq,priority:2"`
	Command    int16     `gorm:"column:command;not null"`
	Record     string    `gorm:"column:record;type:text;not null"`
	Ticks      *int64    `gorm:"column:ticks"`
	Frame      []byte    `gorm:"column:frame;type:bytea;not null"`
	Values     string    `gorm:"column:values;type:jsonb"`
	ReceivedAt time.Time `gorm:"column:received_at;not null;index"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (SampleRow) TableName() string { return "samples" }

// NewSampleRow converts a sample to its table row.
func NewSampleRow(s acquire.Sample) (SampleRow, error) {
	frame, err := gx3.EncodeFrame(s.Record)
	if err != nil {
		return SampleRow{}, err
	}
	// JSON has no NaN or Inf; such records keep only their frame
	values, err := json.Marshal(s.Record)
	if err != nil {
		values = []byte("null")
	}

	row := SampleRow{
		SessionID:  s.SessionID.String(),
		Seq:        int64(s.Seq),
		Command:    int16(s.Record.Command()),
		Record:     gx3.CommandName(s.Record.Command()),
		Frame:      frame,
		Values:     string(values),
		ReceivedAt: s.Received,
	}
	if timed, ok := s.Record.(gx3.Timed); ok {
		ticks := int64(timed.Ticks())
		row.Ticks = &ticks
	}
	return row, nil
}

// OpenPostgres opens the archive database and migrates the samples table.
func OpenPostgres(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(&SampleRow{}); err != nil {
		return nil, fmt.Errorf("migrate samples: %w", err)
	}
	return db, nil
}

// Postgres archives samples in batches. Every Decimate-th sample is kept.
type Postgres struct {
	db        *gorm.DB
	batchSize int
	decimate  uint64

	mu      sync.Mutex
	pending []SampleRow
	seen    uint64
}

// NewPostgres creates a sink on an opened database.
func NewPostgres(db *gorm.DB, cfg config.DatabaseConfig) *Postgres {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 1
	}
	decimate := uint64(1)
	if cfg.Decimate > 1 {
		decimate = uint64(cfg.Decimate)
	}
	return &Postgres{db: db, batchSize: batch, decimate: decimate}
}

// Name implements acquire.Sink.
func (p *Postgres) Name() string { return "postgres" }

// Write implements acquire.Sink.
func (p *Postgres) Write(ctx context.Context, s acquire.Sample) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seen++
	if (p.seen-1)%p.decimate != 0 {
		return nil
	}
	row, err := NewSampleRow(s)
	if err != nil {
		return err
	}
	p.pending = append(p.pending, row)
	if len(p.pending) < p.batchSize {
		return nil
	}
	return p.flushLocked(ctx)
}

// Pending returns the number of buffered rows.
func (p *Postgres) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Postgres) flushLocked(ctx context.Context) error {
	if len(p.pending) == 0 {
		return nil
	}
	rows := p.pending
	p.pending = nil
	return p.db.WithContext(ctx).CreateInBatches(rows, p.batchSize).Error
}

// Close flushes buffered rows.
func (p *Postgres) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.flushLocked(ctx)
}
