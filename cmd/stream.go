// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

var (
	showAll       bool
	statsInterval time.Duration
	streamType    string
	streamLegacy  bool
	streamFrames  int
)

var streamCmd = &cobra.Command{
	Use:     "stream",
	Aliases: []string{"raw_log"},
	Short:   "Log continuous mode records and detect errors",
	Long: `Put the device in continuous mode and decode records as they arrive.

This command validates each record and detects:
  - Checksum errors and resynchronization failures
  - Non-finite values and non-orthonormal orientation matrices
  - Implausible acceleration, angular rate and magnetic field readings
  - Statistics and trends (frame rate, error rate, discarded bytes)

By default, only errors are displayed. Use --show-all to display valid records too.
Periodic statistics summaries are displayed at --stats-interval.

Press Ctrl+C to stop; the device is taken out of continuous mode on exit.`,
	Args: cobra.NoArgs,
	RunE: runStream,
}

func init() {
	rootCmd.AddCommand(streamCmd)
	streamCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all records (not just errors)")
	streamCmd.Flags().DurationVar(&statsInterval, "stats-interval", 0, "Statistics interval (default stream.statsInterval)")
	streamCmd.Flags().StringVarP(&streamType, "type", "t", "", "Streamed record (default stream.dataType)")
	streamCmd.Flags().BoolVar(&streamLegacy, "legacy", false, "Start with the single-command 0xC4 sequence")
	streamCmd.Flags().IntVarP(&streamFrames, "frames", "n", 0, "Stop after this many valid records (0 = run until interrupted)")
}

// streamDataType resolves --type, falling back to the configured record.
func streamDataType(flag string) (byte, error) {
	if flag == "" {
		return cfg.Stream.DataTypeByte()
	}
	return parseQueryCommand(flag)
}

// stopLeftoverStream ends a session another program left running so the
// first command of ours is not drowned in streamed frames.
func stopLeftoverStream(ctx context.Context, dev *gx3.Device) error {
	if err := dev.StopContinuous(ctx); err != nil {
		return err
	}
	// Frames already in flight arrive after the purge
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(50 * time.Millisecond):
	}
	return dev.Transport().PurgeInput()
}

func runStream(cmd *cobra.Command, args []string) error {
	dataType, err := streamDataType(streamType)
	if err != nil {
		return err
	}
	interval := statsInterval
	if interval <= 0 {
		interval = cfg.Stream.StatsInterval
	}

	ctx, cancel := commandContext()
	defer cancel()

	dev, connInfo, err := openDevice(ctx)
	if err != nil {
		return err
	}
	defer dev.Close()

	fmt.Printf("Gyrostat - Stream Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Record: %s (0x%02X)\n", gx3.CommandName(dataType), dataType)
	fmt.Printf("Statistics interval: %s\n", interval)
	if showAll {
		fmt.Printf("Mode: All records\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stream := gx3.NewStream(dev)
	if streamLegacy {
		err = stream.StartLegacy(ctx, dataType)
	} else {
		err = stream.Start(ctx, dataType)
	}
	if err != nil {
		return fmt.Errorf("start continuous mode: %w", err)
	}

	stats := gx3.NewStatistics()
	runErr := streamLoop(ctx, stream, stats, os.Stdout, interval)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := stream.Stop(stopCtx); err != nil && !errors.Is(err, gx3.ErrNotStreaming) {
		logger.Warn("stop continuous mode failed", zap.Error(err))
	}

	fmt.Println()
	stats.CalculateRates()
	fmt.Print(stats.String())

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// streamLoop reads records until ctx ends, a non-recoverable error occurs,
// or --frames valid records were seen.
func streamLoop(ctx context.Context, stream *gx3.Stream, stats *gx3.Statistics, w io.Writer, interval time.Duration) error {
	synchronized := false
	nextStats := time.Now().Add(interval)
	valid := 0

	for ctx.Err() == nil {
		rec, err := stream.ReadNext(ctx)
		discarded := stream.Discarded()

		var validationErrors []gx3.ValidationError
		if err == nil {
			validationErrors = gx3.ValidateRecord(rec)
		}
		stats.Update(rec, err, discarded, validationErrors)

		switch {
		case err != nil && !gx3.IsRecoverable(err):
			printStreamError(w, err)
			return err
		case err != nil:
			printStreamError(w, err)
		default:
			if !synchronized {
				synchronized = true
				if discarded > 0 {
					fmt.Fprintf(w, "[SYNC] Synchronized after skipping %d bytes\n\n", discarded)
				} else {
					fmt.Fprintf(w, "[SYNC] Synchronized\n\n")
				}
			}
			if len(validationErrors) > 0 {
				printValidationErrors(w, rec, validationErrors)
			} else if showAll {
				fmt.Fprintf(w, "[%s] %s", time.Now().Format("15:04:05.000"), gx3.FormatRecord(rec))
			}
			valid++
			if streamFrames > 0 && valid >= streamFrames {
				return nil
			}
		}

		if interval > 0 && time.Now().After(nextStats) {
			nextStats = time.Now().Add(interval)
			stats.CalculateRates()
			fmt.Fprintln(w)
			fmt.Fprint(w, stats.String())
			fmt.Fprintln(w)
		}
	}
	return ctx.Err()
}

// printStreamError prints a read failure in highlighted format
func printStreamError(w io.Writer, err error) {
	timestamp := time.Now().Format("15:04:05.000")
	label := "READ ERROR"
	switch {
	case errors.Is(err, gx3.ErrChecksumMismatch):
		label = "CHECKSUM ERROR"
	case errors.Is(err, gx3.ErrResyncFailed):
		label = "RESYNC FAILED"
	}
	fmt.Fprintf(w, "[%s] \033[1;31m%s:\033[0m %v\n", timestamp, label, err)
	fmt.Fprintf(w, "  >>> FRAME DROPPED <<<\n\n")
}

// printValidationErrors prints the anomalies found in a verified record
func printValidationErrors(w io.Writer, rec gx3.Record, errs []gx3.ValidationError) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(w, "[%s] \033[1;33mVALIDATION ERROR:\033[0m %s (0x%02X)\n",
		timestamp, gx3.CommandName(rec.Command()), rec.Command())
	fmt.Fprintf(w, "  Checksum: \033[1;32mOK\033[0m\n")

	for i, err := range errs {
		color := "\033[1;33m"
		if err.Type == gx3.AnomalyNonFinite || err.Type == gx3.AnomalyMatrixNotOrthonormal {
			color = "\033[1;31m"
		}
		fmt.Fprintf(w, "  Issue %d: %s%s\033[0m\n", i+1, color, err.Message)
		for k, v := range err.Details {
			fmt.Fprintf(w, "    %s=%v\n", k, v)
		}
	}
	fmt.Fprint(w, gx3.FormatRecordBody(rec))
	fmt.Fprintf(w, "  >>> RECORD FLAGGED <<<\n\n")
}
