// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetStop bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Stop continuous mode and restart the device",
	Long: `Send the stop-continuous command, then the device reset command.

Use --stop-only to leave the device running and only end a continuous mode
session left over by another program.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().BoolVar(&resetStop, "stop-only", false, "Only stop continuous mode")
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	dev, connInfo, err := openDevice(ctx)
	if err != nil {
		return err
	}
	defer dev.Close()

	fmt.Printf("Connection: %s\n", connInfo)
	if err := stopLeftoverStream(ctx, dev); err != nil {
		return err
	}
	fmt.Println("Continuous mode stopped")
	if resetStop {
		return nil
	}

	if err := dev.Reset(ctx); err != nil {
		return err
	}
	fmt.Println("Reset sent")
	return nil
}
