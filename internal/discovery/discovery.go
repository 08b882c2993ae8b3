// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package discovery finds serial ports that look like 3DM-GX3 units and
// picks one, asking the user when several match.
package discovery

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial/enumerator"
	"golang.org/x/term"

	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

// MicroStrainVID is the USB vendor id of MicroStrain devices.
const MicroStrainVID = "199B"

var (
	ErrNoDevice  = errors.New("no matching serial device found")
	ErrAmbiguous = errors.New("several matching serial devices found; pass --port")
)

// Candidate is a port that passed the filter.
type Candidate struct {
	Name     string
	Product  string
	VID      string
	PID      string
	Serial   string
	IsUSB    bool
	Identity string // model name reported by the device, when probed
	ProbeErr error
}

func (c Candidate) String() string {
	desc := c.Product
	if c.IsUSB {
		desc = strings.TrimSpace(fmt.Sprintf("%s [%s:%s] %s", c.Product, c.VID, c.PID, c.Serial))
	}
	if c.Identity != "" {
		desc += " - " + c.Identity
	}
	if desc == "" {
		return c.Name
	}
	return c.Name + " (" + desc + ")"
}

// Enumerator lists serial ports.
type Enumerator func() ([]*enumerator.PortDetails, error)

// Opener opens a port by name.
type Opener func(name string) (gx3.Port, error)

// Finder locates candidate devices.
type Finder struct {
	Enumerate Enumerator
	// Filter matches product names case-insensitively; the MicroStrain
	// vendor id always matches. Empty accepts every port.
	Filter string
	// Open is used to probe identity; nil skips probing
	Open         Opener
	ProbeTimeout time.Duration
	Options      []gx3.Option
}

// NewFinder returns a Finder over the system port list.
func NewFinder(filter string, open Opener, probeTimeout time.Duration, opts ...gx3.Option) *Finder {
	return &Finder{
		Enumerate:    enumerator.GetDetailedPortsList,
		Filter:       filter,
		Open:         open,
		ProbeTimeout: probeTimeout,
		Options:      opts,
	}
}

// Match reports whether a port passes the filter.
func (f *Finder) Match(p *enumerator.PortDetails) bool {
	if f.Filter == "" {
		return true
	}
	if p.IsUSB && strings.EqualFold(p.VID, MicroStrainVID) {
		return true
	}
	return strings.Contains(strings.ToLower(p.Product), strings.ToLower(f.Filter))
}

// Candidates lists the ports passing the filter.
func (f *Finder) Candidates() ([]Candidate, error) {
	ports, err := f.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	var out []Candidate
	for _, p := range ports {
		if !f.Match(p) {
			continue
		}
		out = append(out, Candidate{
			Name:    p.Name,
			Product: p.Product,
			VID:     p.VID,
			PID:     p.PID,
			Serial:  p.SerialNumber,
			IsUSB:   p.IsUSB,
		})
	}
	return out, nil
}

// Probe asks each candidate for its model name. Candidates that do not
// answer keep their ProbeErr and are not removed.
func (f *Finder) Probe(ctx context.Context, cands []Candidate) []Candidate {
	if f.Open == nil {
		return cands
	}
	for i := range cands {
		cands[i].Identity, cands[i].ProbeErr = f.probeOne(ctx, cands[i].Name)
	}
	return cands
}

func (f *Finder) probeOne(ctx context.Context, name string) (string, error) {
	port, err := f.Open(name)
	if err != nil {
		return "", err
	}
	dev, err := gx3.New(port, f.Options...)
	if err != nil {
		_ = port.Close()
		return "", err
	}
	defer dev.Close()

	if f.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.ProbeTimeout)
		defer cancel()
	}
	return dev.DeviceIdentity(ctx, gx3.IdentityModelName)
}

// Responding drops candidates whose probe failed.
func Responding(cands []Candidate) []Candidate {
	var out []Candidate
	for _, c := range cands {
		if c.ProbeErr == nil {
			out = append(out, c)
		}
	}
	return out
}

// Choose picks one candidate. With several candidates it prompts on out
// and reads a 1-based index from in when interactive, otherwise it fails
// with ErrAmbiguous.
func Choose(cands []Candidate, in io.Reader, out io.Writer, interactive bool) (Candidate, error) {
	switch {
	case len(cands) == 0:
		return Candidate{}, ErrNoDevice
	case len(cands) == 1:
		return cands[0], nil
	case !interactive:
		return Candidate{}, ErrAmbiguous
	}

	fmt.Fprintf(out, "Found %d devices:\n", len(cands))
	for i, c := range cands {
		fmt.Fprintf(out, "  %d) %s\n", i+1, c)
	}
	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "Select device [1-%d]: ", len(cands))
		line, err := reader.ReadString('\n')
		if n, convErr := strconv.Atoi(strings.TrimSpace(line)); convErr == nil && n >= 1 && n <= len(cands) {
			return cands[n-1], nil
		}
		if err != nil {
			return Candidate{}, fmt.Errorf("read selection: %w", err)
		}
		fmt.Fprintln(out, "Invalid selection")
	}
}

// IsInteractive reports whether stdin is a terminal.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
