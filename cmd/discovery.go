// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/gyrostat/internal/discovery"
	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

var (
	discoveryAll     bool
	discoveryNoProbe bool
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Find 3DM-GX3 devices on serial ports or behind a bridge",
	Long: `List serial ports matching the discovery filter and ask each for its
model name.

Modes:
  Serial (default): enumerate local serial ports. Ports whose USB vendor is
                    MicroStrain or whose product matches discovery.filter are
                    probed with the device identity query.

  Bridge (--url):   ask the device behind a websocket bridge for its identity.

Examples:
  # Scan local ports
  gyrostat discovery

  # Show every port, without probing
  gyrostat discovery --all --no-probe

  # Identify the device behind a bridge
  gyrostat discovery --url ws://imu-host:8080/ws/raw

Exit codes:
  0 - Discovery successful (at least one device answered)
  1 - Discovery failed (no devices answered)
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().BoolVar(&discoveryAll, "all", false, "List every serial port, ignoring the filter")
	discoveryCmd.Flags().BoolVar(&discoveryNoProbe, "no-probe", false, "Do not send identity queries")
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	fmt.Printf("Gyrostat - Device Discovery\n")

	if simulate || cfg.Remote.URL != "" {
		os.Exit(discoverRemote(ctx))
	}

	finder := newFinder()
	if discoveryAll {
		finder.Filter = ""
	}
	if discoveryNoProbe {
		finder.Open = nil
	}
	fmt.Printf("Filter: %q\n", finder.Filter)
	fmt.Printf("Probe timeout: %s\n\n", cfg.Discovery.ProbeTimeout)

	cands, err := finder.Candidates()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Enumeration error: %v\n", err)
		os.Exit(2)
	}
	cands = finder.Probe(ctx, cands)

	found := 0
	for _, c := range cands {
		fmt.Printf("Port %s\n", c.Name)
		if c.IsUSB {
			fmt.Printf("  USB: %s:%s serial=%s\n", c.VID, c.PID, c.Serial)
		}
		if c.Product != "" {
			fmt.Printf("  Product: %s\n", c.Product)
		}
		switch {
		case discoveryNoProbe:
			found++
		case c.ProbeErr != nil:
			fmt.Printf("  Probe: no answer (%v)\n", c.ProbeErr)
		default:
			fmt.Printf("  Model: %s\n", c.Identity)
			found++
		}
		fmt.Println()
	}

	fmt.Printf("--- Discovery summary ---\n")
	fmt.Printf("Ports matched: %d\n", len(cands))
	fmt.Printf("Devices found: %d\n", found)
	if found == 0 {
		fmt.Printf("No devices discovered. Check cabling, power and discovery.filter.\n")
		os.Exit(1)
	}
	return nil
}

// discoverRemote identifies the device behind --url or --simulate.
func discoverRemote(ctx context.Context) int {
	dev, connInfo, err := openDevice(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		return 2
	}
	defer dev.Close()

	fmt.Printf("Connection: %s\n\n", connInfo)
	probeCtx := ctx
	if cfg.Discovery.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, cfg.Discovery.ProbeTimeout)
		defer cancel()
	}

	cand := discovery.Candidate{Name: connInfo}
	cand.Identity, cand.ProbeErr = dev.DeviceIdentity(probeCtx, gx3.IdentityModelName)
	if cand.ProbeErr != nil {
		fmt.Printf("TIMEOUT: no identity answer (%v)\n", cand.ProbeErr)
		return 1
	}
	fmt.Printf("Device found: %s\n", cand)
	return 0
}
