// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

var infoFormat string

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show firmware version and identity strings",
	Long: `Read the firmware version and every device identity string
(model number, serial number, model name, options, filter type).`,
	Args: cobra.NoArgs,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().StringVarP(&infoFormat, "format", "f", formatText, "Output format (text, yaml, json)")
}

// deviceInfo is the structured output of the info command.
type deviceInfo struct {
	Connection string            `json:"connection" yaml:"connection"`
	Firmware   string            `json:"firmware" yaml:"firmware"`
	Raw        uint16            `json:"firmware_raw" yaml:"firmware_raw"`
	Identity   map[string]string `json:"identity" yaml:"identity"`
	HostOrder  string            `json:"host_byte_order" yaml:"host_byte_order"`
}

var identityFlags = []byte{
	gx3.IdentityModelNumber,
	gx3.IdentitySerialNumber,
	gx3.IdentityModelName,
	gx3.IdentityOptions,
	gx3.IdentityFilterType,
}

func hostOrder() string {
	if gx3.HostIsLittleEndian() {
		return "little-endian"
	}
	return "big-endian"
}

func runInfo(cmd *cobra.Command, args []string) error {
	if err := checkFormat(infoFormat); err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	dev, connInfo, err := openDevice(ctx)
	if err != nil {
		return err
	}
	defer dev.Close()

	fw, err := dev.FirmwareVersion(ctx)
	if err != nil {
		return err
	}

	info := deviceInfo{
		Connection: connInfo,
		Firmware:   fw.String(),
		Raw:        fw.Raw,
		Identity:   make(map[string]string),
		HostOrder:  hostOrder(),
	}
	for _, flag := range identityFlags {
		text, err := dev.DeviceIdentity(ctx, flag)
		if err != nil {
			return fmt.Errorf("%s: %w", gx3.IdentityFlagName(flag), err)
		}
		info.Identity[gx3.IdentityFlagName(flag)] = text
	}

	if infoFormat != formatText {
		return printDoc(os.Stdout, info, infoFormat)
	}

	fmt.Printf("Connection:  %s\n", info.Connection)
	fmt.Printf("Firmware:    %s (%d)\n", info.Firmware, info.Raw)
	for _, flag := range identityFlags {
		name := gx3.IdentityFlagName(flag)
		fmt.Printf("%-12s %s\n", name+":", info.Identity[name])
	}
	fmt.Printf("Host order:  %s\n", info.HostOrder)
	return nil
}
