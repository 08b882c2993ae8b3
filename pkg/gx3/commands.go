// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gx3

// Request builders return the exact bytes written to the device. Requests
// carry no checksum; the guard bytes stand in for one on state-changing
// commands.

// NewQueryRequest creates the single byte request for a sensor query.
func NewQueryRequest(cmd byte) []byte {
	return []byte{cmd}
}

// NewWriteGyroBiasRequest creates a WRITE_GYRO_BIAS request (0xCA).
func NewWriteGyroBiasRequest(bias Vector3) []byte {
	b := []byte{CmdWriteGyroBias, gyroBiasKey[0], gyroBiasKey[1]}
	return appendVector(b, bias)
}

// NewWriteAccelBiasRequest creates a WRITE_ACCEL_BIAS request (0xC9).
func NewWriteAccelBiasRequest(bias Vector3) []byte {
	b := []byte{CmdWriteAccelBias, accelBiasKey[0], accelBiasKey[1]}
	return appendVector(b, bias)
}

// NewCaptureGyroBiasRequest creates a CAPTURE_GYRO_BIAS request (0xCD).
// The device samples for sampleTime milliseconds before it answers.
func NewCaptureGyroBiasRequest(sampleTime uint16) []byte {
	b := []byte{CmdCaptureGyroBias, captureBiasKey[0], captureBiasKey[1]}
	return AppendUint16(b, sampleTime)
}

// NewReadEepromRequest creates a READ_EEPROM_WORD request (0xE5).
func NewReadEepromRequest(address uint8) []byte {
	return []byte{CmdReadEepromWord, readEepromKey[0], readEepromKey[1], address}
}

// NewWriteEepromRequest creates a WRITE_EEPROM_WORD request (0xE4).
func NewWriteEepromRequest(address uint8, value uint16) []byte {
	b := []byte{CmdWriteEepromWord, writeEepromKey[0], writeEepromKey[1], address}
	return AppendUint16(b, value)
}

// NewDeviceIdentityRequest creates a DEVICE_IDENTITY request (0xEA).
// See the Identity* constants for flag values.
func NewDeviceIdentityRequest(flag uint8) []byte {
	return []byte{CmdDeviceIdentity, flag}
}

// NewFirmwareVersionRequest creates a FIRMWARE_VERSION request (0xE9).
func NewFirmwareVersionRequest() []byte {
	return []byte{CmdFirmwareVersion}
}

// NewContinuousPresetRequest selects the record pushed in continuous mode (0xD6).
func NewContinuousPresetRequest(dataType byte) []byte {
	return []byte{CmdContinuousPreset, continuousKey[0], continuousKey[1], dataType}
}

// NewModeRequest switches the device mode (0xD4).
func NewModeRequest(mode byte) []byte {
	return []byte{CmdMode, modeKey[0], modeKey[1], mode}
}

// NewSetContinuousRequest is the single step continuous start used by
// older firmware (0xC4). It is answered with an 8 byte ack.
func NewSetContinuousRequest(dataType byte) []byte {
	return []byte{CmdSetContinuous, setContinuousKey[0], setContinuousKey[1], dataType}
}

// NewStopContinuousRequest creates a STOP_CONTINUOUS request (0xFA).
// There is no response frame.
func NewStopContinuousRequest() []byte {
	return []byte{CmdStopContinuous, stopContinuousKey[0], stopContinuousKey[1]}
}

// NewResetRequest creates a DEVICE_RESET request (0xFE).
func NewResetRequest() []byte {
	return []byte{CmdDeviceReset, resetKey[0], resetKey[1]}
}
