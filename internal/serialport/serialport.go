// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package serialport opens local serial devices configured for the
// 3DM-GX3 link.
package serialport

import (
	"errors"

	"go.bug.st/serial"

	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

// DefaultBaud is the factory baud rate of the device family.
const DefaultBaud = 115200

// Mode returns the 8N1 mode used at the given baud rate.
func Mode(baud int) *serial.Mode {
	if baud <= 0 {
		baud = DefaultBaud
	}
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Open opens name in raw 8N1 mode. The returned port satisfies gx3.Port;
// timeouts and buffer purging are applied by gx3.NewTransport.
func Open(name string, baud int) (serial.Port, error) {
	if name == "" {
		return nil, &gx3.TransportError{Kind: gx3.TransportOpen, Op: "open", Err: errors.New("no device path")}
	}
	port, err := serial.Open(name, Mode(baud))
	if err != nil {
		kind := gx3.TransportOpen
		var perr *serial.PortError
		if errors.As(err, &perr) && perr.Code() == serial.InvalidSpeed {
			kind = gx3.TransportConfig
		}
		return nil, &gx3.TransportError{Kind: kind, Op: "open " + name, Err: err}
	}
	return port, nil
}

var _ gx3.Port = serial.Port(nil)
