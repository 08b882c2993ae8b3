// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

// Output formats accepted by --format.
const (
	formatText = "text"
	formatYAML = "yaml"
	formatJSON = "json"
)

// recordDoc is the structured form of a record for yaml and json output.
type recordDoc struct {
	Record  string      `json:"record" yaml:"record"`
	Command string      `json:"command" yaml:"command"`
	Values  interface{} `json:"values" yaml:"values"`
}

func newRecordDoc(name string, cmd byte, values interface{}) recordDoc {
	return recordDoc{Record: name, Command: fmt.Sprintf("0x%02X", cmd), Values: values}
}

func checkFormat(format string) error {
	switch format {
	case formatText, formatYAML, formatJSON:
		return nil
	}
	return fmt.Errorf("unknown format %q (use text, yaml or json)", format)
}

// printRecord writes rec in the chosen format.
func printRecord(w io.Writer, rec gx3.Record, format string) error {
	if format == formatText {
		_, err := fmt.Fprint(w, gx3.FormatRecord(rec))
		return err
	}
	return printDoc(w, newRecordDoc(gx3.CommandName(rec.Command()), rec.Command(), rec), format)
}

// printDoc writes v as yaml or json.
func printDoc(w io.Writer, v interface{}, format string) error {
	switch format {
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		// NaN and Inf have no JSON form
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	default:
		_, err := fmt.Fprintf(w, "%v\n", v)
		return err
	}
}
