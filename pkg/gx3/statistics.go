// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gx3

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks stream frame counts and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames     uint64
	ValidFrames     uint64
	ChecksumErrors  uint64
	ResyncFailures  uint64
	TransportErrors uint64
	DiscardedBytes  uint64
	AnomalousFrames uint64
	NonFinite       uint64
	BadMatrix       uint64
	OutOfRange      uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update counts the outcome of one ReadNext call
func (s *Statistics) Update(rec Record, readErr error, discarded int, validationErrors []ValidationError) {
	s.DiscardedBytes += uint64(discarded)
	s.LastUpdateTime = time.Now()

	if readErr != nil {
		switch {
		case errors.Is(readErr, ErrChecksumMismatch):
			s.TotalFrames++
			s.ChecksumErrors++
		case errors.Is(readErr, ErrResyncFailed):
			s.ResyncFailures++
		default:
			s.TransportErrors++
		}
		return
	}
	if rec == nil {
		return
	}

	s.TotalFrames++
	if len(validationErrors) == 0 {
		s.ValidFrames++
		return
	}

	s.AnomalousFrames++
	for _, err := range validationErrors {
		switch err.Type {
		case AnomalyNonFinite:
			s.NonFinite++
		case AnomalyMatrixNotOrthonormal:
			s.BadMatrix++
		default:
			s.OutOfRange++
		}
	}
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.ErrorCount()) / elapsed
	}
}

// ErrorCount sums every failure class.
func (s *Statistics) ErrorCount() uint64 {
	return s.ChecksumErrors + s.ResyncFailures + s.TransportErrors + s.AnomalousFrames
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, checksumPercent, anomalousPercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
		checksumPercent = float64(s.ChecksumErrors) * 100.0 / float64(s.TotalFrames)
		anomalousPercent = float64(s.AnomalousFrames) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)

	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, checksumPercent)
	}
	if s.ResyncFailures > 0 {
		result += fmt.Sprintf("Resync Failures: %8d\n", s.ResyncFailures)
	}
	if s.TransportErrors > 0 {
		result += fmt.Sprintf("Transport Errors:%8d\n", s.TransportErrors)
	}
	if s.DiscardedBytes > 0 {
		result += fmt.Sprintf("Discarded Bytes: %8d\n", s.DiscardedBytes)
	}
	if s.AnomalousFrames > 0 {
		result += fmt.Sprintf("Anomalous Frames:%8d (%.1f%%)\n", s.AnomalousFrames, anomalousPercent)
		if s.NonFinite > 0 {
			result += fmt.Sprintf("  Non-finite:       %5d\n", s.NonFinite)
		}
		if s.BadMatrix > 0 {
			result += fmt.Sprintf("  Bad matrix:       %5d\n", s.BadMatrix)
		}
		if s.OutOfRange > 0 {
			result += fmt.Sprintf("  Out of range:     %5d\n", s.OutOfRange)
		}
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
