// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gx3

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is.
var (
	ErrChecksumMismatch     = errors.New("checksum mismatch")
	ErrFrameTooShort        = errors.New("frame too short to carry a checksum")
	ErrShortRead            = errors.New("short read")
	ErrShortWrite           = errors.New("short write")
	ErrWriteTimeout         = errors.New("write timed out")
	ErrPortClosed           = errors.New("port closed")
	ErrResyncFailed         = errors.New("resynchronization failed")
	ErrUnexpectedIdentifier = errors.New("unexpected frame identifier")
	ErrUnknownCommand       = errors.New("unknown command")
	ErrNotStreaming         = errors.New("continuous mode is not active")
	ErrAlreadyStreaming     = errors.New("continuous mode is already active")
	ErrWriteNotConfirmed    = errors.New("device did not confirm the written value")
	ErrEepromAddressRange   = errors.New("eeprom value extends past the last word")
)

// ChecksumKind distinguishes checksum failures.
type ChecksumKind int

const (
	ChecksumMismatch ChecksumKind = iota
	ChecksumFrameTooShort
)

// ChecksumError reports a frame whose trailing checksum could not be verified.
type ChecksumError struct {
	Kind     ChecksumKind
	Command  byte
	Length   int
	Computed uint16
	Received uint16
}

func (e *ChecksumError) Error() string {
	if e.Kind == ChecksumFrameTooShort {
		return fmt.Sprintf("frame too short: %d bytes, need at least 2", e.Length)
	}
	return fmt.Sprintf("checksum mismatch: computed 0x%04X, received 0x%04X", e.Computed, e.Received)
}

// Is matches ErrChecksumMismatch or ErrFrameTooShort.
func (e *ChecksumError) Is(target error) bool {
	switch target {
	case ErrChecksumMismatch:
		return e.Kind == ChecksumMismatch
	case ErrFrameTooShort:
		return e.Kind == ChecksumFrameTooShort
	}
	return false
}

// TransportKind classifies transport failures.
type TransportKind int

const (
	TransportOpen TransportKind = iota
	TransportConfig
	TransportShortWrite
	TransportShortRead
	TransportWriteTimeout
	TransportClosed
	TransportIO
)

func (k TransportKind) String() string {
	switch k {
	case TransportOpen:
		return "open"
	case TransportConfig:
		return "configure"
	case TransportShortWrite:
		return "short write"
	case TransportShortRead:
		return "short read"
	case TransportWriteTimeout:
		return "write timeout"
	case TransportClosed:
		return "closed"
	case TransportIO:
		return "i/o"
	default:
		return "unknown"
	}
}

// TransportError reports a failure of the byte channel to the device.
type TransportError struct {
	Kind        TransportKind
	Op          string
	Requested   int
	Transferred int
	Err         error
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case TransportShortRead, TransportShortWrite:
		return fmt.Sprintf("%s: %s: transferred %d of %d bytes", e.Op, e.Kind, e.Transferred, e.Requested)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is matches the transport sentinels.
func (e *TransportError) Is(target error) bool {
	switch target {
	case ErrShortRead:
		return e.Kind == TransportShortRead
	case ErrShortWrite:
		return e.Kind == TransportShortWrite
	case ErrWriteTimeout:
		return e.Kind == TransportWriteTimeout
	case ErrPortClosed:
		return e.Kind == TransportClosed
	}
	return false
}

// ResyncError is returned when the stream reader discards its whole byte
// budget without finding a frame start.
type ResyncError struct {
	Discarded int
	Budget    int
}

func (e *ResyncError) Error() string {
	return fmt.Sprintf("resynchronization failed: discarded %d bytes (budget %d)", e.Discarded, e.Budget)
}

func (e *ResyncError) Is(target error) bool {
	return target == ErrResyncFailed
}

// IdentifierError reports a response whose leading byte does not echo the request.
type IdentifierError struct {
	Expected byte
	Got      byte
}

func (e *IdentifierError) Error() string {
	return fmt.Sprintf("unexpected frame identifier 0x%02X, expected 0x%02X", e.Got, e.Expected)
}

func (e *IdentifierError) Is(target error) bool {
	return target == ErrUnexpectedIdentifier
}

// EepromWriteError reports an EEPROM write whose echo differs from the value sent.
type EepromWriteError struct {
	Address uint8
	Wrote   uint16
	Echoed  uint16
}

func (e *EepromWriteError) Error() string {
	return fmt.Sprintf("eeprom 0x%02X: wrote 0x%04X, device echoed 0x%04X", e.Address, e.Wrote, e.Echoed)
}

func (e *EepromWriteError) Is(target error) bool {
	return target == ErrWriteNotConfirmed
}

// CommandError names the command whose exchange failed.
type CommandError struct {
	Command byte
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s (0x%02X): %v", CommandName(e.Command), e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func wrapCommand(cmd byte, err error) error {
	if err == nil {
		return nil
	}
	return &CommandError{Command: cmd, Err: err}
}

// IsRecoverable reports whether err leaves the device in a usable state,
// so the caller may re-issue the command or keep reading the stream.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrChecksumMismatch) ||
		errors.Is(err, ErrUnexpectedIdentifier) ||
		errors.Is(err, ErrResyncFailed)
}
