// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Gyrostat - 3DM-GX3 Inertial Sensor Tool
//
// A CLI tool for querying, streaming and serving records from 3DM-GX3
// inertial measurement units over their binary serial protocol.

package main

import (
	"os"

	"github.com/Thermoquad/gyrostat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
