// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

var (
	biasSampleMs uint16
	biasAccel    bool
	biasFormat   string
)

var biasCmd = &cobra.Command{
	Use:   "bias",
	Short: "Capture or write sensor bias vectors",
}

var biasCaptureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Measure the gyro bias while the device is stationary",
	Long: `Have the device sample its gyros for --ms milliseconds and report the
measured bias. Keep the device still while sampling.`,
	Args: cobra.NoArgs,
	RunE: runBiasCapture,
}

var biasWriteCmd = &cobra.Command{
	Use:   "write <x> <y> <z>",
	Short: "Write the gyro (or, with --accel, accelerometer) bias",
	Args:  cobra.ExactArgs(3),
	RunE:  runBiasWrite,
}

func init() {
	rootCmd.AddCommand(biasCmd)
	biasCmd.AddCommand(biasCaptureCmd, biasWriteCmd)
	biasCmd.PersistentFlags().StringVarP(&biasFormat, "format", "f", formatText, "Output format (text, yaml, json)")
	biasCaptureCmd.Flags().Uint16Var(&biasSampleMs, "ms", 10000, "Sampling time in milliseconds")
	biasWriteCmd.Flags().BoolVar(&biasAccel, "accel", false, "Write the accelerometer bias instead of the gyro bias")
}

func parseVector(args []string) (gx3.Vector3, error) {
	var v gx3.Vector3
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 32)
		if err != nil {
			return v, fmt.Errorf("invalid component %q: %w", a, err)
		}
		v[i] = float32(f)
	}
	return v, nil
}

func runBiasCapture(cmd *cobra.Command, args []string) error {
	if err := checkFormat(biasFormat); err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	dev, _, err := openDevice(ctx)
	if err != nil {
		return err
	}
	defer dev.Close()

	fmt.Fprintf(os.Stderr, "Sampling gyros for %d ms, keep the device still...\n", biasSampleMs)
	bias, err := dev.CaptureGyroBias(ctx, biasSampleMs)
	if err != nil {
		return err
	}
	return printRecord(os.Stdout, gx3.BiasAck{Cmd: gx3.CmdCaptureGyroBias, Bias: bias}, biasFormat)
}

func runBiasWrite(cmd *cobra.Command, args []string) error {
	bias, err := parseVector(args)
	if err != nil {
		return err
	}
	if err := checkFormat(biasFormat); err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	dev, _, err := openDevice(ctx)
	if err != nil {
		return err
	}
	defer dev.Close()

	var ack gx3.BiasAck
	if biasAccel {
		ack, err = dev.WriteAccelBias(ctx, bias)
	} else {
		ack, err = dev.WriteGyroBias(ctx, bias)
	}
	if err != nil {
		return err
	}
	return printRecord(os.Stdout, ack, biasFormat)
}
