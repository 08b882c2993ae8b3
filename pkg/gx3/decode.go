// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gx3

import (
	"fmt"
	"strconv"
	"strings"
)

type frameSpec struct {
	name   string
	length int
	decode func(frame []byte) Record
}

// frameSpecs maps every response identifier to its fixed layout.
var frameSpecs = map[byte]frameSpec{
	CmdRawAccelAngRate: {"RAW_ACCEL_ANG_RATE", LenVectorPair, func(f []byte) Record {
		return RawAccelAngRate{Accel: readVector(f[1:]), AngRate: readVector(f[13:]), Timer: BytesToUint32(f[25:])}
	}},
	CmdAccelAngRate: {"ACCEL_ANG_RATE", LenVectorPair, func(f []byte) Record {
		return AccelAngRate{Accel: readVector(f[1:]), AngRate: readVector(f[13:]), Timer: BytesToUint32(f[25:])}
	}},
	CmdDeltaAngleVelocity: {"DELTA_ANGLE_VELOCITY", LenVectorPair, func(f []byte) Record {
		return DeltaAngleVelocity{DeltaAngle: readVector(f[1:]), DeltaVelocity: readVector(f[13:]), Timer: BytesToUint32(f[25:])}
	}},
	CmdSetContinuous: {"SET_CONTINUOUS", LenContinuousAck, func(f []byte) Record {
		return ContinuousAck{DataType: f[1], Timer: BytesToUint32(f[2:])}
	}},
	CmdOrientationMatrix: {"ORIENTATION_MATRIX", LenMatrix, func(f []byte) Record {
		return OrientationMatrix{M: readMatrix(f[1:]), Timer: BytesToUint32(f[37:])}
	}},
	CmdOrientationUpdateMatrix: {"ORIENTATION_UPDATE_MATRIX", LenMatrix, func(f []byte) Record {
		return OrientationUpdateMatrix{M: readMatrix(f[1:]), Timer: BytesToUint32(f[37:])}
	}},
	CmdScaledMagnetometer: {"SCALED_MAGNETOMETER", LenSingleVector, func(f []byte) Record {
		return Magnetometer{Mag: readVector(f[1:]), Timer: BytesToUint32(f[13:])}
	}},
	CmdAccelAngRateOrientation: {"ACCEL_ANG_RATE_ORIENTATION", LenPairAndMatrix, func(f []byte) Record {
		return AccelAngRateOrientation{
			Accel:   readVector(f[1:]),
			AngRate: readVector(f[13:]),
			M:       readMatrix(f[25:]),
			Timer:   BytesToUint32(f[61:]),
		}
	}},
	CmdWriteAccelBias: {"WRITE_ACCEL_BIAS", LenSingleVector, decodeBiasAck},
	CmdWriteGyroBias:  {"WRITE_GYRO_BIAS", LenSingleVector, decodeBiasAck},
	CmdAccelAngRateMag: {"ACCEL_ANG_RATE_MAG", LenVectorTriple, func(f []byte) Record {
		return AccelAngRateMag{
			Accel:   readVector(f[1:]),
			AngRate: readVector(f[13:]),
			Mag:     readVector(f[25:]),
			Timer:   BytesToUint32(f[37:]),
		}
	}},
	CmdAccelAngRateMagOrientation: {"ACCEL_ANG_RATE_MAG_ORIENTATION", LenTripleMatrix, func(f []byte) Record {
		return AccelAngRateMagOrientation{
			Accel:   readVector(f[1:]),
			AngRate: readVector(f[13:]),
			Mag:     readVector(f[25:]),
			M:       readMatrix(f[37:]),
			Timer:   BytesToUint32(f[73:]),
		}
	}},
	CmdCaptureGyroBias: {"CAPTURE_GYRO_BIAS", LenSingleVector, decodeBiasAck},
	CmdEulerAngles: {"EULER_ANGLES", LenSingleVector, func(f []byte) Record {
		return EulerAngles{Euler: readVector(f[1:]), Timer: BytesToUint32(f[13:])}
	}},
	CmdEulerAnglesAngRate: {"EULER_ANGLES_ANG_RATE", LenVectorPair, func(f []byte) Record {
		return EulerAnglesAngRate{Euler: readVector(f[1:]), AngRate: readVector(f[13:]), Timer: BytesToUint32(f[25:])}
	}},
	CmdTemperatures: {"TEMPERATURES", LenTemperatures, func(f []byte) Record {
		return Temperatures{
			Accel: BytesToUint16(f[1:]),
			Gyro:  [3]uint16{BytesToUint16(f[3:]), BytesToUint16(f[5:]), BytesToUint16(f[7:])},
			Timer: BytesToUint32(f[9:]),
		}
	}},
	CmdGyroStabilizedVectors: {"GYRO_STABILIZED_VECTORS", LenVectorTriple, func(f []byte) Record {
		return GyroStabilizedVectors{
			Accel:   readVector(f[1:]),
			AngRate: readVector(f[13:]),
			Mag:     readVector(f[25:]),
			Timer:   BytesToUint32(f[37:]),
		}
	}},
	CmdDeltaAngleVelocityMag: {"DELTA_ANGLE_VELOCITY_MAG", LenVectorTriple, func(f []byte) Record {
		return DeltaAngleVelocityMag{
			DeltaAngle:    readVector(f[1:]),
			DeltaVelocity: readVector(f[13:]),
			Mag:           readVector(f[25:]),
			Timer:         BytesToUint32(f[37:]),
		}
	}},
	CmdMode: {"MODE", LenModeAck, func(f []byte) Record {
		return ModeAck{Cmd: f[0], Value: f[1]}
	}},
	CmdContinuousPreset: {"CONTINUOUS_PRESET", LenPresetAck, func(f []byte) Record {
		return ModeAck{Cmd: f[0], Value: f[1]}
	}},
	CmdWriteEepromWord: {"WRITE_EEPROM_WORD", LenEepromWord, decodeEepromWord},
	CmdReadEepromWord:  {"READ_EEPROM_WORD", LenEepromWord, decodeEepromWord},
	CmdFirmwareVersion: {"FIRMWARE_VERSION", LenFirmware, func(f []byte) Record {
		return NewFirmwareVersion(BytesToUint16(f[3:]))
	}},
	CmdDeviceIdentity: {"DEVICE_IDENTITY", LenIdentity, func(f []byte) Record {
		return DeviceIdentity{Flag: f[1], Text: identityText(f[identityTextStart:identityTextEnd])}
	}},
}

// Commands without a response frame.
var requestOnlyNames = map[byte]string{
	CmdStopContinuous: "STOP_CONTINUOUS",
	CmdDeviceReset:    "DEVICE_RESET",
}

func decodeBiasAck(f []byte) Record {
	return BiasAck{Cmd: f[0], Bias: readVector(f[1:]), Timer: BytesToUint32(f[13:])}
}

func decodeEepromWord(f []byte) Record {
	return EepromWord{Cmd: f[0], Value: BytesToUint16(f[1:])}
}

// identityText trims the NUL and space padding of a fixed-width identity field.
func identityText(b []byte) string {
	return strings.TrimRight(string(b), "\x00 ")
}

// CommandName returns the human-readable name for a command identifier
func CommandName(cmd byte) string {
	if layout, ok := frameSpecs[cmd]; ok {
		return layout.name
	}
	if name, ok := requestOnlyNames[cmd]; ok {
		return name
	}
	return "UNKNOWN"
}

// ResponseLength returns the total response frame length for cmd.
func ResponseLength(cmd byte) (int, bool) {
	layout, ok := frameSpecs[cmd]
	if !ok {
		return 0, false
	}
	return layout.length, true
}

// IsQueryCommand reports whether cmd is a parameterless sensor query.
func IsQueryCommand(cmd byte) bool {
	switch cmd {
	case CmdRawAccelAngRate, CmdAccelAngRate, CmdDeltaAngleVelocity,
		CmdOrientationMatrix, CmdOrientationUpdateMatrix, CmdScaledMagnetometer,
		CmdAccelAngRateOrientation, CmdAccelAngRateMag, CmdAccelAngRateMagOrientation,
		CmdEulerAngles, CmdEulerAnglesAngRate, CmdTemperatures,
		CmdGyroStabilizedVectors, CmdDeltaAngleVelocityMag:
		return true
	}
	return false
}

// QueryCommands lists the parameterless sensor queries in identifier order.
func QueryCommands() []byte {
	var cmds []byte
	for c := 0xC1; c <= 0xD3; c++ {
		if IsQueryCommand(byte(c)) {
			cmds = append(cmds, byte(c))
		}
	}
	return cmds
}

// LookupCommand resolves a command by name (case-insensitive) or by hex
// identifier such as "C2" or "0xC2".
func LookupCommand(s string) (byte, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for cmd, layout := range frameSpecs {
		if layout.name == upper {
			return cmd, nil
		}
	}
	hex := strings.TrimPrefix(upper, "0X")
	if v, err := strconv.ParseUint(hex, 16, 8); err == nil {
		if _, ok := frameSpecs[byte(v)]; ok {
			return byte(v), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, s)
}

// DecodeFrame verifies a complete response frame and decodes it by its
// leading identifier.
func DecodeFrame(frame []byte) (Record, error) {
	if len(frame) < 2 {
		return nil, &ChecksumError{Kind: ChecksumFrameTooShort, Length: len(frame)}
	}
	layout, ok := frameSpecs[frame[0]]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownCommand, frame[0])
	}
	if len(frame) != layout.length {
		return nil, &TransportError{
			Kind:        TransportShortRead,
			Op:          "decode " + layout.name,
			Requested:   layout.length,
			Transferred: len(frame),
		}
	}
	if err := Verify(frame); err != nil {
		return nil, err
	}
	return layout.decode(frame), nil
}

// DecodeAccelAngRate decodes a 0xC2 response frame.
func DecodeAccelAngRate(frame []byte) (AccelAngRate, error) {
	rec, err := decodeAs(CmdAccelAngRate, frame)
	if err != nil {
		return AccelAngRate{}, err
	}
	return rec.(AccelAngRate), nil
}

// DecodeOrientationMatrix decodes a 0xC5 response frame.
func DecodeOrientationMatrix(frame []byte) (OrientationMatrix, error) {
	rec, err := decodeAs(CmdOrientationMatrix, frame)
	if err != nil {
		return OrientationMatrix{}, err
	}
	return rec.(OrientationMatrix), nil
}

// DecodeEulerAngles decodes a 0xCE response frame.
func DecodeEulerAngles(frame []byte) (EulerAngles, error) {
	rec, err := decodeAs(CmdEulerAngles, frame)
	if err != nil {
		return EulerAngles{}, err
	}
	return rec.(EulerAngles), nil
}

func decodeAs(cmd byte, frame []byte) (Record, error) {
	if len(frame) > 0 && frame[0] != cmd {
		return nil, &IdentifierError{Expected: cmd, Got: frame[0]}
	}
	return DecodeFrame(frame)
}
