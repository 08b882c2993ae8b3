// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gx3

import "time"

// TimerTickRate is the frequency of the device's internal timer field.
const TimerTickRate = 62500

// Vector3 holds an x, y, z triple.
type Vector3 [3]float32

// Matrix3 is a row-major 3x3 matrix.
type Matrix3 [3][3]float32

// Record is a decoded response or streamed frame.
type Record interface {
	Command() byte
}

// Timed is implemented by records that carry the device timer.
type Timed interface {
	Ticks() uint32
}

// TicksToDuration converts a device timer value to a duration since power-up.
func TicksToDuration(ticks uint32) time.Duration {
	return time.Duration(ticks) * time.Second / TimerTickRate
}

// RawAccelAngRate carries unscaled sensor outputs (0xC1).
type RawAccelAngRate struct {
	Accel   Vector3 `json:"accel" yaml:"accel"`
	AngRate Vector3 `json:"ang_rate" yaml:"ang_rate"`
	Timer   uint32  `json:"timer" yaml:"timer"`
}

func (RawAccelAngRate) Command() byte   { return CmdRawAccelAngRate }
func (r RawAccelAngRate) Ticks() uint32 { return r.Timer }

// AccelAngRate carries scaled acceleration (g) and angular rate (rad/s) (0xC2).
type AccelAngRate struct {
	Accel   Vector3 `json:"accel" yaml:"accel"`
	AngRate Vector3 `json:"ang_rate" yaml:"ang_rate"`
	Timer   uint32  `json:"timer" yaml:"timer"`
}

func (AccelAngRate) Command() byte   { return CmdAccelAngRate }
func (r AccelAngRate) Ticks() uint32 { return r.Timer }

// DeltaAngleVelocity carries integrated angle and velocity deltas (0xC3).
type DeltaAngleVelocity struct {
	DeltaAngle    Vector3 `json:"delta_angle" yaml:"delta_angle"`
	DeltaVelocity Vector3 `json:"delta_velocity" yaml:"delta_velocity"`
	Timer         uint32  `json:"timer" yaml:"timer"`
}

func (DeltaAngleVelocity) Command() byte   { return CmdDeltaAngleVelocity }
func (r DeltaAngleVelocity) Ticks() uint32 { return r.Timer }

// OrientationMatrix is the attitude matrix (0xC5).
type OrientationMatrix struct {
	M     Matrix3 `json:"m" yaml:"m"`
	Timer uint32  `json:"timer" yaml:"timer"`
}

func (OrientationMatrix) Command() byte   { return CmdOrientationMatrix }
func (r OrientationMatrix) Ticks() uint32 { return r.Timer }

// OrientationUpdateMatrix is the incremental attitude update (0xC6).
type OrientationUpdateMatrix struct {
	M     Matrix3 `json:"m" yaml:"m"`
	Timer uint32  `json:"timer" yaml:"timer"`
}

func (OrientationUpdateMatrix) Command() byte   { return CmdOrientationUpdateMatrix }
func (r OrientationUpdateMatrix) Ticks() uint32 { return r.Timer }

// Magnetometer carries the scaled magnetic field vector in gauss (0xC7).
type Magnetometer struct {
	Mag   Vector3 `json:"mag" yaml:"mag"`
	Timer uint32  `json:"timer" yaml:"timer"`
}

func (Magnetometer) Command() byte   { return CmdScaledMagnetometer }
func (r Magnetometer) Ticks() uint32 { return r.Timer }

// AccelAngRateOrientation combines 0xC2 and 0xC5 (0xC8).
type AccelAngRateOrientation struct {
	Accel   Vector3 `json:"accel" yaml:"accel"`
	AngRate Vector3 `json:"ang_rate" yaml:"ang_rate"`
	M       Matrix3 `json:"m" yaml:"m"`
	Timer   uint32  `json:"timer" yaml:"timer"`
}

func (AccelAngRateOrientation) Command() byte   { return CmdAccelAngRateOrientation }
func (r AccelAngRateOrientation) Ticks() uint32 { return r.Timer }

// AccelAngRateMag carries acceleration, angular rate and magnetic field (0xCB).
type AccelAngRateMag struct {
	Accel   Vector3 `json:"accel" yaml:"accel"`
	AngRate Vector3 `json:"ang_rate" yaml:"ang_rate"`
	Mag     Vector3 `json:"mag" yaml:"mag"`
	Timer   uint32  `json:"timer" yaml:"timer"`
}

func (AccelAngRateMag) Command() byte   { return CmdAccelAngRateMag }
func (r AccelAngRateMag) Ticks() uint32 { return r.Timer }

// AccelAngRateMagOrientation is the full vector and matrix set (0xCC).
type AccelAngRateMagOrientation struct {
	Accel   Vector3 `json:"accel" yaml:"accel"`
	AngRate Vector3 `json:"ang_rate" yaml:"ang_rate"`
	Mag     Vector3 `json:"mag" yaml:"mag"`
	M       Matrix3 `json:"m" yaml:"m"`
	Timer   uint32  `json:"timer" yaml:"timer"`
}

func (AccelAngRateMagOrientation) Command() byte   { return CmdAccelAngRateMagOrientation }
func (r AccelAngRateMagOrientation) Ticks() uint32 { return r.Timer }

// EulerAngles holds roll, pitch and yaw in radians (0xCE).
type EulerAngles struct {
	Euler Vector3 `json:"euler" yaml:"euler"`
	Timer uint32  `json:"timer" yaml:"timer"`
}

func (EulerAngles) Command() byte   { return CmdEulerAngles }
func (r EulerAngles) Ticks() uint32 { return r.Timer }

// EulerAnglesAngRate adds the angular rate vector to 0xCE (0xCF).
type EulerAnglesAngRate struct {
	Euler   Vector3 `json:"euler" yaml:"euler"`
	AngRate Vector3 `json:"ang_rate" yaml:"ang_rate"`
	Timer   uint32  `json:"timer" yaml:"timer"`
}

func (EulerAnglesAngRate) Command() byte   { return CmdEulerAnglesAngRate }
func (r EulerAnglesAngRate) Ticks() uint32 { return r.Timer }

// Temperatures holds the raw sensor temperature readings (0xD1).
type Temperatures struct {
	Accel uint16    `json:"accel" yaml:"accel"`
	Gyro  [3]uint16 `json:"gyro" yaml:"gyro"`
	Timer uint32    `json:"timer" yaml:"timer"`
}

func (Temperatures) Command() byte   { return CmdTemperatures }
func (r Temperatures) Ticks() uint32 { return r.Timer }

// GyroStabilizedVectors carries gyro-stabilized accel, rate and field (0xD2).
type GyroStabilizedVectors struct {
	Accel   Vector3 `json:"accel" yaml:"accel"`
	AngRate Vector3 `json:"ang_rate" yaml:"ang_rate"`
	Mag     Vector3 `json:"mag" yaml:"mag"`
	Timer   uint32  `json:"timer" yaml:"timer"`
}

func (GyroStabilizedVectors) Command() byte   { return CmdGyroStabilizedVectors }
func (r GyroStabilizedVectors) Ticks() uint32 { return r.Timer }

// DeltaAngleVelocityMag adds the magnetic field to 0xC3 (0xD3).
type DeltaAngleVelocityMag struct {
	DeltaAngle    Vector3 `json:"delta_angle" yaml:"delta_angle"`
	DeltaVelocity Vector3 `json:"delta_velocity" yaml:"delta_velocity"`
	Mag           Vector3 `json:"mag" yaml:"mag"`
	Timer         uint32  `json:"timer" yaml:"timer"`
}

func (DeltaAngleVelocityMag) Command() byte   { return CmdDeltaAngleVelocityMag }
func (r DeltaAngleVelocityMag) Ticks() uint32 { return r.Timer }

// BiasAck is the device's answer to a bias write or capture (0xC9, 0xCA, 0xCD).
type BiasAck struct {
	Cmd   byte    `json:"cmd" yaml:"cmd"`
	Bias  Vector3 `json:"bias" yaml:"bias"`
	Timer uint32  `json:"timer" yaml:"timer"`
}

func (r BiasAck) Command() byte { return r.Cmd }
func (r BiasAck) Ticks() uint32 { return r.Timer }

// ContinuousAck acknowledges the legacy set-continuous command (0xC4).
// It is also emitted inside a running stream.
type ContinuousAck struct {
	DataType byte   `json:"data_type" yaml:"data_type"`
	Timer    uint32 `json:"timer" yaml:"timer"`
}

func (ContinuousAck) Command() byte   { return CmdSetContinuous }
func (r ContinuousAck) Ticks() uint32 { return r.Timer }

// ModeAck acknowledges a mode or continuous preset command (0xD4, 0xD6).
type ModeAck struct {
	Cmd   byte `json:"cmd" yaml:"cmd"`
	Value byte `json:"value" yaml:"value"`
}

func (r ModeAck) Command() byte { return r.Cmd }

// EepromWord is a single 16-bit EEPROM reply (0xE4, 0xE5).
type EepromWord struct {
	Cmd   byte   `json:"cmd" yaml:"cmd"`
	Value uint16 `json:"value" yaml:"value"`
}

func (r EepromWord) Command() byte { return r.Cmd }

// FirmwareVersion splits the device firmware number (0xE9).
type FirmwareVersion struct {
	Raw   uint16 `json:"raw" yaml:"raw"`
	Major uint16 `json:"major" yaml:"major"`
	Minor uint16 `json:"minor" yaml:"minor"`
	Build uint16 `json:"build" yaml:"build"`
}

func (FirmwareVersion) Command() byte { return CmdFirmwareVersion }

// NewFirmwareVersion splits n into major, minor and build numbers.
func NewFirmwareVersion(n uint16) FirmwareVersion {
	return FirmwareVersion{
		Raw:   n,
		Major: n / 1000,
		Minor: (n % 1000) / 100,
		Build: n % 100,
	}
}

// DeviceIdentity is one identity string (0xEA).
type DeviceIdentity struct {
	Flag byte   `json:"flag" yaml:"flag"`
	Text string `json:"text" yaml:"text"`
}

func (DeviceIdentity) Command() byte { return CmdDeviceIdentity }

// EepromKind selects how an EEPROM value is interpreted.
type EepromKind int

const (
	EepromWord16 EepromKind = iota
	EepromFloat
	EepromLong
)

// EepromValue is an EEPROM location read as a word, float or long.
// Float and long values span two adjacent words.
type EepromValue struct {
	Address uint8      `json:"address" yaml:"address"`
	Kind    EepromKind `json:"kind" yaml:"kind"`
	Raw     uint16     `json:"raw" yaml:"raw"`
	Low     uint16     `json:"low,omitempty" yaml:"low,omitempty"`
	Float   float32    `json:"float,omitempty" yaml:"float,omitempty"`
	Long    uint32     `json:"long,omitempty" yaml:"long,omitempty"`
}

// NewEepromValue combines a high and a low word read from address and address+2.
func NewEepromValue(address uint8, kind EepromKind, hi, lo uint16) EepromValue {
	v := EepromValue{Address: address, Kind: kind, Raw: hi}
	if kind == EepromWord16 {
		return v
	}
	v.Low = lo
	wide := AppendUint16(AppendUint16(make([]byte, 0, 4), hi), lo)
	switch kind {
	case EepromFloat:
		v.Float = BytesToFloat32(wide)
	case EepromLong:
		v.Long = BytesToUint32(wide)
	}
	return v
}
