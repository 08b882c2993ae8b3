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
	eepromFloat  bool
	eepromLong   bool
	eepromFormat string
)

var eepromCmd = &cobra.Command{
	Use:   "eeprom",
	Short: "Read or write device EEPROM words",
}

var eepromReadCmd = &cobra.Command{
	Use:   "read <address>",
	Short: "Read an EEPROM word, float or long",
	Long: `Read the 16-bit word at an EEPROM address. With --float or --long the
words at address and address+2 are read and joined high word first.`,
	Args: cobra.ExactArgs(1),
	RunE: runEepromRead,
}

var eepromWriteCmd = &cobra.Command{
	Use:   "write <address> <value>",
	Short: "Write an EEPROM word",
	Long: `Write a 16-bit word to an EEPROM address. The device echoes the stored
word; a mismatch is reported as an error.`,
	Args: cobra.ExactArgs(2),
	RunE: runEepromWrite,
}

func init() {
	rootCmd.AddCommand(eepromCmd)
	eepromCmd.AddCommand(eepromReadCmd, eepromWriteCmd)
	eepromReadCmd.Flags().BoolVar(&eepromFloat, "float", false, "Read two words as an IEEE-754 float")
	eepromReadCmd.Flags().BoolVar(&eepromLong, "long", false, "Read two words as an unsigned 32-bit integer")
	eepromReadCmd.MarkFlagsMutuallyExclusive("float", "long")
	eepromReadCmd.Flags().StringVarP(&eepromFormat, "format", "f", formatText, "Output format (text, yaml, json)")
}

// parseAddress accepts decimal or 0x-prefixed hex addresses.
func parseAddress(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint8(v), nil
}

// parseWord accepts decimal or 0x-prefixed hex 16-bit values.
func parseWord(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	return uint16(v), nil
}

func eepromKind() gx3.EepromKind {
	switch {
	case eepromFloat:
		return gx3.EepromFloat
	case eepromLong:
		return gx3.EepromLong
	default:
		return gx3.EepromWord16
	}
}

func runEepromRead(cmd *cobra.Command, args []string) error {
	addr, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	if err := checkFormat(eepromFormat); err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	dev, _, err := openDevice(ctx)
	if err != nil {
		return err
	}
	defer dev.Close()

	val, err := dev.ReadEepromValue(ctx, addr, eepromKind())
	if err != nil {
		return err
	}
	if eepromFormat != formatText {
		return printDoc(os.Stdout, newRecordDoc("EEPROM", gx3.CmdReadEepromWord, val), eepromFormat)
	}
	fmt.Println(val.String())
	return nil
}

func runEepromWrite(cmd *cobra.Command, args []string) error {
	addr, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	value, err := parseWord(args[1])
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	dev, _, err := openDevice(ctx)
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := dev.WriteEepromWord(ctx, addr, value); err != nil {
		return err
	}
	fmt.Printf("0x%02X: wrote 0x%04X\n", addr, value)
	return nil
}
