// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

var sniffDuration int

var sniffCmd = &cobra.Command{
	Use:     "sniff",
	Aliases: []string{"ws_test"},
	Short:   "Dump raw bytes from the connection without sending anything",
	Long: `Open the connection and print every chunk of bytes received, in hex.

Nothing is written to the device. Useful for checking whether a unit is
already streaming, for spotting baud rate mismatches, and for debugging the
stability of a websocket bridge.

Exit codes:
  0 - Test completed normally
  1 - Connection failed during the test
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runSniff,
}

func init() {
	rootCmd.AddCommand(sniffCmd)
	sniffCmd.Flags().IntVar(&sniffDuration, "duration", 30, "Test duration in seconds")
}

func runSniff(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	port, connInfo, err := OpenConnection(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer port.Close()
	if err := port.SetReadTimeout(gx3.DefaultReadTimeout); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Gyrostat - Raw Byte Dump\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %d seconds\n\n", sniffDuration)
	fmt.Printf("Listening for data...\n\n")

	start := time.Now()
	endTime := start.Add(time.Duration(sniffDuration) * time.Second)
	nextBeat := start.Add(time.Second)
	bytesReceived := 0
	chunksReceived := 0
	buf := make([]byte, 256)

	for time.Now().Before(endTime) && ctx.Err() == nil {
		n, err := port.Read(buf)
		if err != nil {
			fmt.Printf("\n[%s] Connection error: %v\n", time.Now().Format("15:04:05.000"), err)
			fmt.Printf("\n--- Test Results ---\n")
			fmt.Printf("Duration: %v\n", time.Since(start).Round(time.Millisecond))
			fmt.Printf("Chunks received: %d\n", chunksReceived)
			fmt.Printf("Bytes received: %d\n", bytesReceived)
			fmt.Printf("Result: FAILED (connection error)\n")
			os.Exit(1)
		}
		if n > 0 {
			bytesReceived += n
			chunksReceived++
			fmt.Printf("[%s] Received %d bytes: % X\n", time.Now().Format("15:04:05.000"), n, buf[:n])
			continue
		}
		if time.Now().After(nextBeat) {
			// Just a heartbeat to show the test is running
			nextBeat = time.Now().Add(time.Second)
			fmt.Printf("[%s] Still connected... (%.0fs remaining)\n",
				time.Now().Format("15:04:05.000"), time.Until(endTime).Seconds())
		}
	}

	fmt.Printf("\n--- Test Results ---\n")
	fmt.Printf("Duration: %v\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("Chunks received: %d\n", chunksReceived)
	fmt.Printf("Bytes received: %d\n", bytesReceived)
	fmt.Printf("Result: PASSED (connection stable)\n")
	return nil
}
