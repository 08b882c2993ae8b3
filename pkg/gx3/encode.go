// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gx3

import "fmt"

// EncodeFrame builds the response frame the device would send for rec,
// checksum included. It is the inverse of DecodeFrame.
func EncodeFrame(rec Record) ([]byte, error) {
	cmd := rec.Command()
	want, ok := ResponseLength(cmd)
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownCommand, cmd)
	}

	b := make([]byte, 1, want)
	b[0] = cmd

	switch r := rec.(type) {
	case RawAccelAngRate:
		b = appendVector(appendVector(b, r.Accel), r.AngRate)
		b = AppendUint32(b, r.Timer)
	case AccelAngRate:
		b = appendVector(appendVector(b, r.Accel), r.AngRate)
		b = AppendUint32(b, r.Timer)
	case DeltaAngleVelocity:
		b = appendVector(appendVector(b, r.DeltaAngle), r.DeltaVelocity)
		b = AppendUint32(b, r.Timer)
	case OrientationMatrix:
		b = AppendUint32(appendMatrix(b, r.M), r.Timer)
	case OrientationUpdateMatrix:
		b = AppendUint32(appendMatrix(b, r.M), r.Timer)
	case Magnetometer:
		b = AppendUint32(appendVector(b, r.Mag), r.Timer)
	case AccelAngRateOrientation:
		b = appendVector(appendVector(b, r.Accel), r.AngRate)
		b = AppendUint32(appendMatrix(b, r.M), r.Timer)
	case AccelAngRateMag:
		b = appendVector(appendVector(appendVector(b, r.Accel), r.AngRate), r.Mag)
		b = AppendUint32(b, r.Timer)
	case AccelAngRateMagOrientation:
		b = appendVector(appendVector(appendVector(b, r.Accel), r.AngRate), r.Mag)
		b = AppendUint32(appendMatrix(b, r.M), r.Timer)
	case EulerAngles:
		b = AppendUint32(appendVector(b, r.Euler), r.Timer)
	case EulerAnglesAngRate:
		b = appendVector(appendVector(b, r.Euler), r.AngRate)
		b = AppendUint32(b, r.Timer)
	case Temperatures:
		b = AppendUint16(b, r.Accel)
		for _, g := range r.Gyro {
			b = AppendUint16(b, g)
		}
		b = AppendUint32(b, r.Timer)
	case GyroStabilizedVectors:
		b = appendVector(appendVector(appendVector(b, r.Accel), r.AngRate), r.Mag)
		b = AppendUint32(b, r.Timer)
	case DeltaAngleVelocityMag:
		b = appendVector(appendVector(appendVector(b, r.DeltaAngle), r.DeltaVelocity), r.Mag)
		b = AppendUint32(b, r.Timer)
	case BiasAck:
		b = AppendUint32(appendVector(b, r.Bias), r.Timer)
	case ContinuousAck:
		b = AppendUint32(append(b, r.DataType), r.Timer)
	case ModeAck:
		b = append(b, r.Value)
	case EepromWord:
		b = AppendUint16(b, r.Value)
	case FirmwareVersion:
		b = AppendUint16(append(b, 0, 0), r.Raw)
	case DeviceIdentity:
		text := make([]byte, identityTextEnd-identityTextStart)
		for i := range text {
			text[i] = ' '
		}
		copy(text, r.Text)
		b = append(append(b, r.Flag), text...)
	default:
		return nil, fmt.Errorf("%w: no encoder for %T", ErrUnknownCommand, rec)
	}

	frame := AppendChecksum(b)
	if len(frame) != want {
		return nil, fmt.Errorf("encoded %s is %d bytes, want %d", CommandName(cmd), len(frame), want)
	}
	return frame, nil
}
