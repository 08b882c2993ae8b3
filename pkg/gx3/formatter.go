// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gx3

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// FormatRecord formats a record into a human-readable, multi-line string
func FormatRecord(rec Record) string {
	header := fmt.Sprintf("%s (0x%02X)", CommandName(rec.Command()), rec.Command())
	if timed, ok := rec.(Timed); ok {
		header += fmt.Sprintf(" timer=%d (%s)", timed.Ticks(), formatUptime(TicksToDuration(timed.Ticks())))
	}
	return header + "\n" + FormatRecordBody(rec)
}

// FormatRecordBody formats only the record fields, one per line
func FormatRecordBody(rec Record) string {
	var sb strings.Builder
	line := func(label, value string) {
		fmt.Fprintf(&sb, "  %-14s %s\n", label+":", value)
	}

	switch r := rec.(type) {
	case RawAccelAngRate:
		line("Accel (raw)", formatVector(r.Accel, ""))
		line("AngRate (raw)", formatVector(r.AngRate, ""))
	case AccelAngRate:
		line("Accel", formatVector(r.Accel, "g"))
		line("AngRate", formatVector(r.AngRate, "rad/s"))
	case DeltaAngleVelocity:
		line("DeltaAngle", formatVector(r.DeltaAngle, "rad"))
		line("DeltaVelocity", formatVector(r.DeltaVelocity, "g*s"))
	case OrientationMatrix:
		formatMatrixLines(&sb, r.M)
	case OrientationUpdateMatrix:
		formatMatrixLines(&sb, r.M)
	case Magnetometer:
		line("Mag", formatVector(r.Mag, "gauss"))
	case AccelAngRateOrientation:
		line("Accel", formatVector(r.Accel, "g"))
		line("AngRate", formatVector(r.AngRate, "rad/s"))
		formatMatrixLines(&sb, r.M)
	case AccelAngRateMag:
		line("Accel", formatVector(r.Accel, "g"))
		line("AngRate", formatVector(r.AngRate, "rad/s"))
		line("Mag", formatVector(r.Mag, "gauss"))
	case AccelAngRateMagOrientation:
		line("Accel", formatVector(r.Accel, "g"))
		line("AngRate", formatVector(r.AngRate, "rad/s"))
		line("Mag", formatVector(r.Mag, "gauss"))
		formatMatrixLines(&sb, r.M)
	case EulerAngles:
		line("Euler", formatEuler(r.Euler))
	case EulerAnglesAngRate:
		line("Euler", formatEuler(r.Euler))
		line("AngRate", formatVector(r.AngRate, "rad/s"))
	case Temperatures:
		line("Accel temp", fmt.Sprintf("%d", r.Accel))
		line("Gyro temps", fmt.Sprintf("%d %d %d", r.Gyro[0], r.Gyro[1], r.Gyro[2]))
	case GyroStabilizedVectors:
		line("Accel", formatVector(r.Accel, "g"))
		line("AngRate", formatVector(r.AngRate, "rad/s"))
		line("Mag", formatVector(r.Mag, "gauss"))
	case DeltaAngleVelocityMag:
		line("DeltaAngle", formatVector(r.DeltaAngle, "rad"))
		line("DeltaVelocity", formatVector(r.DeltaVelocity, "g*s"))
		line("Mag", formatVector(r.Mag, "gauss"))
	case BiasAck:
		line("Bias", formatVector(r.Bias, ""))
	case ContinuousAck:
		line("DataType", fmt.Sprintf("%s (0x%02X)", CommandName(r.DataType), r.DataType))
	case ModeAck:
		line("Value", fmt.Sprintf("0x%02X", r.Value))
	case EepromWord:
		line("Value", fmt.Sprintf("0x%04X (%d)", r.Value, r.Value))
	case FirmwareVersion:
		line("Version", r.String())
	case DeviceIdentity:
		line(formatIdentityFlag(r.Flag), r.Text)
	default:
		sb.WriteString("  (no fields)\n")
	}
	return sb.String()
}

// String returns major.minor.build.
func (f FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%d.%02d", f.Major, f.Minor, f.Build)
}

// String formats an EEPROM value according to its kind.
func (v EepromValue) String() string {
	switch v.Kind {
	case EepromFloat:
		return fmt.Sprintf("0x%02X: %g (0x%04X%04X)", v.Address, v.Float, v.Raw, v.Low)
	case EepromLong:
		return fmt.Sprintf("0x%02X: %d (0x%04X%04X)", v.Address, v.Long, v.Raw, v.Low)
	default:
		return fmt.Sprintf("0x%02X: 0x%04X (%d)", v.Address, v.Raw, v.Raw)
	}
}

func formatVector(v Vector3, unit string) string {
	s := fmt.Sprintf("[% 9.5f % 9.5f % 9.5f]", v[0], v[1], v[2])
	if unit != "" {
		s += " " + unit
	}
	return s
}

func formatEuler(v Vector3) string {
	deg := func(r float32) float64 { return float64(r) * 180 / math.Pi }
	return fmt.Sprintf("roll=%.2f° pitch=%.2f° yaw=%.2f°", deg(v[0]), deg(v[1]), deg(v[2]))
}

func formatMatrixLines(sb *strings.Builder, m Matrix3) {
	for i, row := range m {
		label := ""
		if i == 0 {
			label = "M:"
		}
		fmt.Fprintf(sb, "  %-14s %s\n", label, formatVector(row, ""))
	}
}

func formatIdentityFlag(flag byte) string {
	switch flag {
	case IdentityModelNumber:
		return "Model number"
	case IdentitySerialNumber:
		return "Serial number"
	case IdentityModelName:
		return "Model name"
	case IdentityOptions:
		return "Options"
	case IdentityFilterType:
		return "Filter type"
	default:
		return fmt.Sprintf("Identity %d", flag)
	}
}

// formatUptime renders a timer duration as h:mm:ss.mmm
func formatUptime(d time.Duration) string {
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	return fmt.Sprintf("%d:%02d:%02d.%03d", h, m, s, d/time.Millisecond)
}

// IdentityFlagName returns the label of an identity selector.
func IdentityFlagName(flag byte) string {
	return formatIdentityFlag(flag)
}
