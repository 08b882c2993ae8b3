// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gx3

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// SensorProtocol is implemented by each supported IMU family.
type SensorProtocol interface {
	Query(ctx context.Context, cmd byte) (Record, error)
}

var _ SensorProtocol = (*Device)(nil)

// Device issues commands to a 3DM-GX3 over a Transport.
type Device struct {
	t         *Transport
	cfg       Config
	streaming atomic.Bool
	stream    atomic.Pointer[Stream]
}

// New wraps port in a Transport and returns a Device using it.
func New(port Port, opts ...Option) (*Device, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	t, err := newTransport(port, cfg)
	if err != nil {
		return nil, err
	}
	return &Device{t: t, cfg: cfg}, nil
}

// NewDevice returns a Device on an existing Transport.
func NewDevice(t *Transport) *Device {
	return &Device{t: t, cfg: t.cfg}
}

// Transport returns the underlying transport.
func (d *Device) Transport() *Transport {
	return d.t
}

// Streaming reports whether continuous mode is active on this device.
func (d *Device) Streaming() bool {
	return d.streaming.Load()
}

// Close closes the transport.
func (d *Device) Close() error {
	return d.t.Close()
}

// exchange sends req and returns the decoded response to cmd.
func (d *Device) exchange(ctx context.Context, cmd byte, req []byte) (Record, error) {
	layout, ok := frameSpecs[cmd]
	if !ok {
		return nil, wrapCommand(cmd, ErrUnknownCommand)
	}

	frame := make([]byte, layout.length)
	if err := d.t.Exchange(ctx, req, frame); err != nil {
		return nil, wrapCommand(cmd, err)
	}
	if frame[0] != cmd {
		d.cfg.logDebug("unexpected response identifier",
			"command", fmt.Sprintf("0x%02X", cmd),
			"got", fmt.Sprintf("0x%02X", frame[0]),
		)
		// The rest of the input belongs to some other frame.
		_ = d.t.PurgeInput()
		return nil, wrapCommand(cmd, &IdentifierError{Expected: cmd, Got: frame[0]})
	}
	if err := Verify(frame); err != nil {
		return nil, wrapCommand(cmd, err)
	}
	return layout.decode(frame), nil
}

// exchangeRetry repeats exchange after recoverable failures up to the
// configured checksum retry count.
func (d *Device) exchangeRetry(ctx context.Context, cmd byte, req []byte) (Record, error) {
	var lastErr error
	for attempt := 0; attempt <= d.cfg.ChecksumRetries; attempt++ {
		rec, err := d.exchange(ctx, cmd, req)
		if err == nil {
			return rec, nil
		}
		if !IsRecoverable(err) {
			return nil, err
		}
		lastErr = err
		d.cfg.logDebug("retrying command", "command", CommandName(cmd), "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

// Query issues a parameterless sensor query and decodes the response.
func (d *Device) Query(ctx context.Context, cmd byte) (Record, error) {
	if !IsQueryCommand(cmd) {
		return nil, wrapCommand(cmd, ErrUnknownCommand)
	}
	if d.streaming.Load() {
		return nil, wrapCommand(cmd, ErrAlreadyStreaming)
	}
	return d.exchangeRetry(ctx, cmd, NewQueryRequest(cmd))
}

func queryAs[T Record](ctx context.Context, d *Device, cmd byte) (T, error) {
	var zero T
	rec, err := d.Query(ctx, cmd)
	if err != nil {
		return zero, err
	}
	return rec.(T), nil
}

// AccelAngRate queries scaled acceleration and angular rate (0xC2).
func (d *Device) AccelAngRate(ctx context.Context) (AccelAngRate, error) {
	return queryAs[AccelAngRate](ctx, d, CmdAccelAngRate)
}

// DeltaAngleVelocity queries 0xC3.
func (d *Device) DeltaAngleVelocity(ctx context.Context) (DeltaAngleVelocity, error) {
	return queryAs[DeltaAngleVelocity](ctx, d, CmdDeltaAngleVelocity)
}

// OrientationMatrix queries 0xC5.
func (d *Device) OrientationMatrix(ctx context.Context) (OrientationMatrix, error) {
	return queryAs[OrientationMatrix](ctx, d, CmdOrientationMatrix)
}

// Magnetometer queries 0xC7.
func (d *Device) Magnetometer(ctx context.Context) (Magnetometer, error) {
	return queryAs[Magnetometer](ctx, d, CmdScaledMagnetometer)
}

// EulerAngles queries 0xCE.
func (d *Device) EulerAngles(ctx context.Context) (EulerAngles, error) {
	return queryAs[EulerAngles](ctx, d, CmdEulerAngles)
}

// Temperatures queries 0xD1.
func (d *Device) Temperatures(ctx context.Context) (Temperatures, error) {
	return queryAs[Temperatures](ctx, d, CmdTemperatures)
}

// WriteGyroBias stores a new gyro bias vector. The device answers with the
// bias now in effect.
func (d *Device) WriteGyroBias(ctx context.Context, bias Vector3) (BiasAck, error) {
	return d.writeBias(ctx, CmdWriteGyroBias, NewWriteGyroBiasRequest(bias))
}

// WriteAccelBias stores a new accelerometer bias vector.
func (d *Device) WriteAccelBias(ctx context.Context, bias Vector3) (BiasAck, error) {
	return d.writeBias(ctx, CmdWriteAccelBias, NewWriteAccelBiasRequest(bias))
}

func (d *Device) writeBias(ctx context.Context, cmd byte, req []byte) (BiasAck, error) {
	if d.streaming.Load() {
		return BiasAck{}, wrapCommand(cmd, ErrAlreadyStreaming)
	}
	rec, err := d.exchange(ctx, cmd, req)
	if err != nil {
		return BiasAck{}, err
	}
	return rec.(BiasAck), nil
}

// CaptureGyroBias has the device sample its gyros for sampleTime
// milliseconds while stationary and returns the measured bias. The read
// timeout is raised for the call so the sampling window cannot expire it.
func (d *Device) CaptureGyroBias(ctx context.Context, sampleTime uint16) (Vector3, error) {
	if d.streaming.Load() {
		return Vector3{}, wrapCommand(CmdCaptureGyroBias, ErrAlreadyStreaming)
	}

	prevRead, prevWrite := d.t.ReadTimeout(), d.t.WriteTimeout()
	window := time.Duration(sampleTime)*time.Millisecond + captureBiasMargin
	if window > prevRead {
		if err := d.t.SetTimeouts(window, prevWrite); err != nil {
			return Vector3{}, wrapCommand(CmdCaptureGyroBias, err)
		}
		defer func() {
			if err := d.t.SetTimeouts(prevRead, prevWrite); err != nil {
				d.cfg.logWarn("failed to restore read timeout", "error", err)
			}
		}()
	}

	d.cfg.logInfo("capturing gyro bias", "sample_ms", sampleTime)
	rec, err := d.exchange(ctx, CmdCaptureGyroBias, NewCaptureGyroBiasRequest(sampleTime))
	if err != nil {
		return Vector3{}, err
	}
	return rec.(BiasAck).Bias, nil
}

// ReadEepromWord reads the 16-bit word at address.
func (d *Device) ReadEepromWord(ctx context.Context, address uint8) (uint16, error) {
	if d.streaming.Load() {
		return 0, wrapCommand(CmdReadEepromWord, ErrAlreadyStreaming)
	}
	rec, err := d.exchangeRetry(ctx, CmdReadEepromWord, NewReadEepromRequest(address))
	if err != nil {
		return 0, err
	}
	return rec.(EepromWord).Value, nil
}

// ReadEepromValue reads a word, or for EepromFloat and EepromLong the two
// words at address and address+2, joined high word first. A two-word value
// must start at or below 0xFD.
func (d *Device) ReadEepromValue(ctx context.Context, address uint8, kind EepromKind) (EepromValue, error) {
	if kind != EepromWord16 && address > 0xFD {
		return EepromValue{}, wrapCommand(CmdReadEepromWord, fmt.Errorf("%w: 0x%02X", ErrEepromAddressRange, address))
	}
	hi, err := d.ReadEepromWord(ctx, address)
	if err != nil {
		return EepromValue{}, err
	}
	if kind == EepromWord16 {
		return NewEepromValue(address, kind, hi, 0), nil
	}
	lo, err := d.ReadEepromWord(ctx, address+2)
	if err != nil {
		return EepromValue{}, err
	}
	return NewEepromValue(address, kind, hi, lo), nil
}

// WriteEepromWord stores value at address and checks the echoed word.
func (d *Device) WriteEepromWord(ctx context.Context, address uint8, value uint16) error {
	if d.streaming.Load() {
		return wrapCommand(CmdWriteEepromWord, ErrAlreadyStreaming)
	}
	rec, err := d.exchange(ctx, CmdWriteEepromWord, NewWriteEepromRequest(address, value))
	if err != nil {
		return err
	}
	if echoed := rec.(EepromWord).Value; echoed != value {
		return wrapCommand(CmdWriteEepromWord, &EepromWriteError{Address: address, Wrote: value, Echoed: echoed})
	}
	return nil
}

// DeviceIdentity returns the identity string selected by flag.
func (d *Device) DeviceIdentity(ctx context.Context, flag uint8) (string, error) {
	if d.streaming.Load() {
		return "", wrapCommand(CmdDeviceIdentity, ErrAlreadyStreaming)
	}
	rec, err := d.exchangeRetry(ctx, CmdDeviceIdentity, NewDeviceIdentityRequest(flag))
	if err != nil {
		return "", err
	}
	return rec.(DeviceIdentity).Text, nil
}

// FirmwareVersion reads and splits the firmware number.
func (d *Device) FirmwareVersion(ctx context.Context) (FirmwareVersion, error) {
	if d.streaming.Load() {
		return FirmwareVersion{}, wrapCommand(CmdFirmwareVersion, ErrAlreadyStreaming)
	}
	rec, err := d.exchangeRetry(ctx, CmdFirmwareVersion, NewFirmwareVersionRequest())
	if err != nil {
		return FirmwareVersion{}, err
	}
	return rec.(FirmwareVersion), nil
}

// StopContinuous sends the stop command whatever the local state and drops
// buffered input. It recovers a device left streaming by another program.
func (d *Device) StopContinuous(ctx context.Context) error {
	if err := d.t.Exchange(ctx, NewStopContinuousRequest(), nil); err != nil {
		return wrapCommand(CmdStopContinuous, err)
	}
	if err := d.t.PurgeInput(); err != nil {
		return wrapCommand(CmdStopContinuous, err)
	}
	d.endStreaming()
	return nil
}

// Reset restarts the device. No response is sent.
func (d *Device) Reset(ctx context.Context) error {
	if err := d.t.Exchange(ctx, NewResetRequest(), nil); err != nil {
		return wrapCommand(CmdDeviceReset, err)
	}
	d.endStreaming()
	return nil
}

// endStreaming clears continuous mode after the device left it outside
// Stream.Stop. A Stream bound to the device is moved to StreamStopped.
func (d *Device) endStreaming() {
	if s := d.stream.Swap(nil); s != nil {
		s.detach()
	}
	d.streaming.Store(false)
}
