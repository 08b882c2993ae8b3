// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

var (
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid streamed frame",
	Long: `Start continuous mode and wait for a valid frame until timeout.

This command connects to a serial port or WebSocket bridge, starts continuous
mode and waits for any frame passing its checksum. Bytes that cannot start a
frame are skipped and counted. Continuous mode is stopped before exiting.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for testing cabling, baud rate and a remote bridge.`,
	Args: cobra.NoArgs,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
	packetTestCmd.Flags().StringVarP(&streamType, "type", "t", "", "Streamed record (default stream.dataType)")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	dataType, err := streamDataType(streamType)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	dev, connInfo, err := openDevice(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Gyrostat - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid %s frame...\n\n", gx3.CommandName(dataType))

	code := packetTest(ctx, dev, dataType, time.Duration(packetTestTimeout)*time.Second)
	_ = dev.Close()
	os.Exit(code)
	return nil
}

// packetTest returns the process exit code.
func packetTest(ctx context.Context, dev *gx3.Device, dataType byte, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stream := gx3.NewStream(dev)
	if err := stream.Start(ctx, dataType); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, gx3.ErrShortRead) {
			fmt.Fprintf(os.Stderr, "TIMEOUT: device did not acknowledge continuous mode within %s\n", timeout)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Start error: %v\n", err)
		return 2
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = stream.Stop(stopCtx)
	}()

	skipped := 0
	for {
		rec, err := stream.ReadNext(ctx)
		skipped += stream.Discarded()
		switch {
		case err == nil:
			if skipped > 0 {
				fmt.Printf("(skipped %d invalid bytes before sync)\n", skipped)
			}
			fmt.Printf("SUCCESS: Received valid frame\n")
			fmt.Print(gx3.FormatRecord(rec))
			return 0
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %s\n", timeout)
			return 1
		case gx3.IsRecoverable(err):
			continue
		default:
			fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
			return 2
		}
	}
}
