// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gx3

import (
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestRecordPayload_Fields(t *testing.T) {
	rec, err := DecodeAccelAngRate(accelFrame)
	if err != nil {
		t.Fatal(err)
	}
	m, err := RecordPayload(rec)
	if err != nil {
		t.Fatal(err)
	}
	if timer, ok := m[KeyTimer].(uint64); !ok || timer != 123456 {
		t.Errorf("expected timer 123456, got %v", m[KeyTimer])
	}
	accel, ok := m[KeyAccel].([]float32)
	if !ok || len(accel) != 3 || accel[2] != -1 {
		t.Errorf("expected accel [0 0 -1], got %v", m[KeyAccel])
	}
	if frame, ok := m[KeyFrame].([]byte); !ok || string(frame) != string(accelFrame) {
		t.Errorf("frame key should carry the wire frame")
	}
}

func TestParseRecordCBOR(t *testing.T) {
	rec, _ := DecodeAccelAngRate(accelFrame)
	data, err := MarshalRecordCBOR(rec)
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseRecordCBOR(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got != Record(rec) {
		t.Errorf("expected %+v, got %+v", rec, got)
	}
}

func TestParseRecordCBOR_Invalid(t *testing.T) {
	wrongCmd, _ := cbor.Marshal([]interface{}{uint64(CmdEulerAngles), map[int]interface{}{KeyFrame: accelFrame}})
	noFrame, _ := cbor.Marshal([]interface{}{uint64(CmdAccelAngRate), map[int]interface{}{KeyTimer: uint64(1)}})
	notArray, _ := cbor.Marshal(map[int]int{1: 2})

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not an array", notArray},
		{"no frame", noFrame},
		{"command mismatch", wrongCmd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseRecordCBOR(tt.data); err == nil {
				t.Error("expected an error")
			}
		})
	}

	if _, err := ParseRecordCBOR(wrongCmd); !errors.Is(err, ErrUnexpectedIdentifier) {
		t.Errorf("expected ErrUnexpectedIdentifier, got %v", err)
	}
}
