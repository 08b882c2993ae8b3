// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package gx3 implements the MicroStrain 3DM-GX3 binary serial protocol.
//
// Every frame starts with a one byte command identifier. Requests carry
// optional parameter bytes; responses echo the identifier, carry a payload
// whose length is fixed by that identifier, and end in a big-endian 16-bit
// additive checksum. This package provides the byte order helpers, checksum
// discipline, record decoders, a timeout-aware transport, a command/response
// codec and the continuous-mode stream reader.
package gx3

import "time"

// Serial line settings required by the device.
const (
	DefaultBaudRate = 115200
	DataBits        = 8
)

// Fixed query commands (single byte request, fixed length response).
const (
	CmdRawAccelAngRate            = 0xC1
	CmdAccelAngRate               = 0xC2
	CmdDeltaAngleVelocity         = 0xC3
	CmdSetContinuous              = 0xC4
	CmdOrientationMatrix          = 0xC5
	CmdOrientationUpdateMatrix    = 0xC6
	CmdScaledMagnetometer         = 0xC7
	CmdAccelAngRateOrientation    = 0xC8
	CmdWriteAccelBias             = 0xC9
	CmdWriteGyroBias              = 0xCA
	CmdAccelAngRateMag            = 0xCB
	CmdAccelAngRateMagOrientation = 0xCC
	CmdCaptureGyroBias            = 0xCD
	CmdEulerAngles                = 0xCE
	CmdEulerAnglesAngRate         = 0xCF
	CmdTemperatures               = 0xD1
	CmdGyroStabilizedVectors      = 0xD2
	CmdDeltaAngleVelocityMag      = 0xD3
	CmdMode                       = 0xD4
	CmdContinuousPreset           = 0xD6
	CmdWriteEepromWord            = 0xE4
	CmdReadEepromWord             = 0xE5
	CmdFirmwareVersion            = 0xE9
	CmdDeviceIdentity             = 0xEA
	CmdStopContinuous             = 0xFA
	CmdDeviceReset                = 0xFE
)

// Response frame lengths, identifier and checksum included.
const (
	LenVectorPair    = 31 // two float vectors + timer
	LenVectorTriple  = 43 // three float vectors + timer
	LenMatrix        = 43 // 3x3 float matrix + timer
	LenSingleVector  = 19 // one float vector + timer
	LenPairAndMatrix = 67
	LenTripleMatrix  = 79
	LenTemperatures  = 15
	LenContinuousAck = 8
	LenModeAck       = 4
	LenPresetAck     = 4
	LenEepromWord    = 5
	LenFirmware      = 7
	LenIdentity      = 20
)

// Parameter bytes that guard state-changing commands against line noise.
var (
	gyroBiasKey       = [2]byte{0x12, 0xA5}
	accelBiasKey      = [2]byte{0xB7, 0x44}
	captureBiasKey    = [2]byte{0xC1, 0x29}
	setContinuousKey  = [2]byte{0xC1, 0x29}
	writeEepromKey    = [2]byte{0xC1, 0x29}
	readEepromKey     = [2]byte{0x00, 0xFC}
	modeKey           = [2]byte{0xA3, 0x47}
	continuousKey     = [2]byte{0xC6, 0x6B}
	stopContinuousKey = [2]byte{0x75, 0xB4}
	resetKey          = [2]byte{0x9E, 0x3A}
)

// Mode values for CmdMode.
const (
	ModeQuery      = 0x00
	ModeActive     = 0x01
	ModeContinuous = 0x02
	ModeIdle       = 0x03
)

// Identity string selectors for CmdDeviceIdentity.
const (
	IdentityModelNumber  = 0x00
	IdentitySerialNumber = 0x01
	IdentityModelName    = 0x02
	IdentityOptions      = 0x03
	IdentityFilterType   = 0x04
)

// Offsets inside an identity response.
const (
	identityTextStart = 2
	identityTextEnd   = 18
)

// Transport and stream defaults.
const (
	DefaultReadTimeout  = 100 * time.Millisecond
	DefaultWriteTimeout = time.Second
	DefaultReadRetries  = 10
	DefaultResyncBudget = 75

	// Added on top of the sampling window when capturing gyro bias.
	captureBiasMargin = time.Second
)

// StreamIdentifiers lists the identifiers accepted while streaming
// regardless of the selected data type.
var StreamIdentifiers = []byte{
	CmdAccelAngRate,
	CmdAccelAngRateMag,
	CmdDeltaAngleVelocityMag,
	CmdSetContinuous,
}
