// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

var (
	queryFormat   string
	queryCount    int
	queryInterval time.Duration
)

var queryCmd = &cobra.Command{
	Use:   "query <record>",
	Short: "Send one sensor query and print the response",
	Long: `Send a fixed-length sensor query and print the decoded response.

The record is named or given by its hex identifier, for example:
  gyrostat query EULER_ANGLES
  gyrostat query 0xC2 --count 10 --interval 100ms
  gyrostat query ORIENTATION_MATRIX --format yaml

Available records:
` + queryRecordList(),
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryFormat, "format", "f", formatText, "Output format (text, yaml, json)")
	queryCmd.Flags().IntVarP(&queryCount, "count", "n", 1, "Number of queries to send")
	queryCmd.Flags().DurationVar(&queryInterval, "interval", 0, "Delay between queries")
}

func queryRecordList() string {
	var sb strings.Builder
	for _, c := range gx3.QueryCommands() {
		fmt.Fprintf(&sb, "  0x%02X  %s\n", c, gx3.CommandName(c))
	}
	return sb.String()
}

func parseQueryCommand(arg string) (byte, error) {
	c, err := gx3.LookupCommand(arg)
	if err != nil {
		return 0, err
	}
	if !gx3.IsQueryCommand(c) {
		return 0, fmt.Errorf("%s (0x%02X) is not a sensor query", gx3.CommandName(c), c)
	}
	return c, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	c, err := parseQueryCommand(args[0])
	if err != nil {
		return err
	}
	if err := checkFormat(queryFormat); err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	dev, _, err := openDevice(ctx)
	if err != nil {
		return err
	}
	defer dev.Close()

	for i := 0; i < queryCount; i++ {
		if i > 0 && queryInterval > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(queryInterval):
			}
		}

		rec, err := dev.Query(ctx, c)
		if err != nil {
			return err
		}
		if err := printRecord(os.Stdout, rec, queryFormat); err != nil {
			return err
		}
	}
	return nil
}
