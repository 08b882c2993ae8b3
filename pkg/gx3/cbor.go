// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gx3

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CBOR envelope: [cmd, payload_map]. Key 0 carries the verified wire frame
// so receivers can rebuild the exact record; the other keys expose fields
// to consumers that do not link this package.
const (
	KeyFrame         = 0
	KeyTimer         = 1
	KeyAccel         = 2
	KeyAngRate       = 3
	KeyMag           = 4
	KeyMatrix        = 5
	KeyEuler         = 6
	KeyDeltaAngle    = 7
	KeyDeltaVelocity = 8
	KeyBias          = 9
	KeyTempAccel     = 10
	KeyTempGyro      = 11
	KeyValue         = 12
	KeyText          = 13
	KeyVersion       = 14
)

// RecordPayload returns the CBOR payload map for rec
func RecordPayload(rec Record) (map[int]interface{}, error) {
	frame, err := EncodeFrame(rec)
	if err != nil {
		return nil, err
	}
	m := map[int]interface{}{KeyFrame: frame}
	if timed, ok := rec.(Timed); ok {
		m[KeyTimer] = uint64(timed.Ticks())
	}

	vec := func(v Vector3) []float32 { return v[:] }
	mat := func(x Matrix3) [][]float32 { return [][]float32{x[0][:], x[1][:], x[2][:]} }

	switch r := rec.(type) {
	case RawAccelAngRate:
		m[KeyAccel], m[KeyAngRate] = vec(r.Accel), vec(r.AngRate)
	case AccelAngRate:
		m[KeyAccel], m[KeyAngRate] = vec(r.Accel), vec(r.AngRate)
	case DeltaAngleVelocity:
		m[KeyDeltaAngle], m[KeyDeltaVelocity] = vec(r.DeltaAngle), vec(r.DeltaVelocity)
	case OrientationMatrix:
		m[KeyMatrix] = mat(r.M)
	case OrientationUpdateMatrix:
		m[KeyMatrix] = mat(r.M)
	case Magnetometer:
		m[KeyMag] = vec(r.Mag)
	case AccelAngRateOrientation:
		m[KeyAccel], m[KeyAngRate], m[KeyMatrix] = vec(r.Accel), vec(r.AngRate), mat(r.M)
	case AccelAngRateMag:
		m[KeyAccel], m[KeyAngRate], m[KeyMag] = vec(r.Accel), vec(r.AngRate), vec(r.Mag)
	case AccelAngRateMagOrientation:
		m[KeyAccel], m[KeyAngRate], m[KeyMag] = vec(r.Accel), vec(r.AngRate), vec(r.Mag)
		m[KeyMatrix] = mat(r.M)
	case EulerAngles:
		m[KeyEuler] = vec(r.Euler)
	case EulerAnglesAngRate:
		m[KeyEuler], m[KeyAngRate] = vec(r.Euler), vec(r.AngRate)
	case Temperatures:
		m[KeyTempAccel] = uint64(r.Accel)
		m[KeyTempGyro] = []uint64{uint64(r.Gyro[0]), uint64(r.Gyro[1]), uint64(r.Gyro[2])}
	case GyroStabilizedVectors:
		m[KeyAccel], m[KeyAngRate], m[KeyMag] = vec(r.Accel), vec(r.AngRate), vec(r.Mag)
	case DeltaAngleVelocityMag:
		m[KeyDeltaAngle], m[KeyDeltaVelocity] = vec(r.DeltaAngle), vec(r.DeltaVelocity)
		m[KeyMag] = vec(r.Mag)
	case BiasAck:
		m[KeyBias] = vec(r.Bias)
	case ContinuousAck:
		m[KeyValue] = uint64(r.DataType)
	case ModeAck:
		m[KeyValue] = uint64(r.Value)
	case EepromWord:
		m[KeyValue] = uint64(r.Value)
	case FirmwareVersion:
		m[KeyValue] = uint64(r.Raw)
		m[KeyVersion] = r.String()
	case DeviceIdentity:
		m[KeyValue] = uint64(r.Flag)
		m[KeyText] = r.Text
	}
	return m, nil
}

// MarshalRecordCBOR encodes rec as a CBOR envelope: [cmd, payload_map]
func MarshalRecordCBOR(rec Record) ([]byte, error) {
	payload, err := RecordPayload(rec)
	if err != nil {
		return nil, err
	}
	data, err := cbor.Marshal([]interface{}{uint64(rec.Command()), payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR: %w", err)
	}
	return data, nil
}

// ParseRecordCBOR decodes a CBOR envelope back into a record. The embedded
// wire frame is checksum-verified and must agree with the envelope command.
func ParseRecordCBOR(data []byte) (Record, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty CBOR payload")
	}

	var msg []interface{}
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	if len(msg) != 2 {
		return nil, fmt.Errorf("expected 2-element array, got %d elements", len(msg))
	}

	cmd, ok := msg[0].(uint64)
	if !ok || cmd > 0xFF {
		return nil, fmt.Errorf("expected uint8 command, got %v (%T)", msg[0], msg[0])
	}

	payload, ok := msg[1].(map[interface{}]interface{})
	if !ok {
		return nil, fmt.Errorf("expected map payload, got %T", msg[1])
	}

	var frame []byte
	for key, val := range payload {
		if k, ok := key.(uint64); ok && k == KeyFrame {
			frame, _ = val.([]byte)
		}
	}
	if frame == nil {
		return nil, fmt.Errorf("payload has no frame")
	}
	if len(frame) == 0 || frame[0] != byte(cmd) {
		return nil, &IdentifierError{Expected: byte(cmd), Got: firstByte(frame)}
	}
	return DecodeFrame(frame)
}

func firstByte(b []byte) byte {
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

// EqualFrames reports whether two records encode to the same frame.
func EqualFrames(a, b Record) bool {
	fa, errA := EncodeFrame(a)
	fb, errB := EncodeFrame(b)
	return errA == nil && errB == nil && bytes.Equal(fa, fb)
}
