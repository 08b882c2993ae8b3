// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gx3test

import (
	"math"
	"sync"
	"time"

	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

// Simulator answers gx3 requests like a level device turning slowly
// about its vertical axis. It implements gx3.Port.
type Simulator struct {
	mu      sync.Mutex
	pending []byte
	closed  bool

	ticks     uint32
	gyroBias  gx3.Vector3
	accelBias gx3.Vector3
	eeprom    map[uint8]uint16
	identity  map[uint8]string
	firmware  uint16

	preset    byte
	streaming bool
	dataType  byte
	frames    int

	readTimeout time.Duration

	// Pace is the interval between streamed frames. Zero streams as fast
	// as the reader asks.
	Pace time.Duration

	// NoiseEvery inserts NoiseBytes of garbage before every n-th streamed frame.
	NoiseEvery int
	NoiseBytes int

	// CorruptEvery flips a payload bit in every n-th streamed frame.
	CorruptEvery int
}

// Timer ticks added per sample (100 Hz).
const ticksPerSample = gx3.TimerTickRate / 100

// NewSimulator returns a simulator with factory EEPROM contents.
func NewSimulator() *Simulator {
	return &Simulator{
		eeprom: map[uint8]uint16{
			0x00: 0x3F80, // 1.0 as the high word of a float
			0x02: 0x0000,
			0xFC: 0x0003,
		},
		identity: map[uint8]string{
			gx3.IdentityModelNumber:  "6233-4220",
			gx3.IdentitySerialNumber: "0000012345",
			gx3.IdentityModelName:    "3DM-GX3-25",
			gx3.IdentityOptions:      "5g 300d/s",
			gx3.IdentityFilterType:   "Complementary",
		},
		firmware: 1104,
		preset:   gx3.CmdAccelAngRate,
	}
}

// Streaming reports whether the simulator is pushing frames.
func (s *Simulator) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// SetEeprom stores a word.
func (s *Simulator) SetEeprom(address uint8, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eeprom[address] = value
}

// GyroBias returns the bias last written or captured.
func (s *Simulator) GyroBias() gx3.Vector3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gyroBias
}

func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrMockClosed
	}
	if len(p) > 0 {
		s.handle(p)
	}
	return len(p), nil
}

func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrMockClosed
	}
	if len(s.pending) == 0 && s.streaming {
		pace := s.Pace
		s.mu.Unlock()
		if pace > 0 {
			time.Sleep(pace)
		}
		s.mu.Lock()
		if s.streaming {
			s.pushStreamFrame()
		}
	}
	if len(s.pending) == 0 {
		wait := s.readTimeout
		s.mu.Unlock()
		if wait > 0 {
			time.Sleep(wait)
		}
		return 0, nil
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	s.mu.Unlock()
	return n, nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Simulator) SetReadTimeout(t time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readTimeout = t
	return nil
}

func (s *Simulator) ResetInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	return nil
}

func (s *Simulator) ResetOutputBuffer() error {
	return nil
}

func key(p []byte, a, b byte) bool {
	return len(p) >= 3 && p[1] == a && p[2] == b
}

// handle consumes one request. Requests with wrong guard bytes are
// ignored, as the device does.
func (s *Simulator) handle(p []byte) {
	cmd := p[0]
	switch {
	case gx3.IsQueryCommand(cmd):
		s.reply(s.sample(cmd))
	case cmd == gx3.CmdWriteGyroBias && len(p) == 15 && key(p, 0x12, 0xA5):
		s.gyroBias = vectorAt(p[3:])
		s.reply(gx3.BiasAck{Cmd: cmd, Bias: s.gyroBias, Timer: s.tick()})
	case cmd == gx3.CmdWriteAccelBias && len(p) == 15 && key(p, 0xB7, 0x44):
		s.accelBias = vectorAt(p[3:])
		s.reply(gx3.BiasAck{Cmd: cmd, Bias: s.accelBias, Timer: s.tick()})
	case cmd == gx3.CmdCaptureGyroBias && len(p) == 5 && key(p, 0xC1, 0x29):
		s.gyroBias = gx3.Vector3{0.0012, -0.0007, 0.0003}
		s.reply(gx3.BiasAck{Cmd: cmd, Bias: s.gyroBias, Timer: s.tick()})
	case cmd == gx3.CmdReadEepromWord && len(p) == 4 && key(p, 0x00, 0xFC):
		s.reply(gx3.EepromWord{Cmd: cmd, Value: s.eeprom[p[3]]})
	case cmd == gx3.CmdWriteEepromWord && len(p) == 6 && key(p, 0xC1, 0x29):
		v := gx3.BytesToUint16(p[4:])
		s.eeprom[p[3]] = v
		s.reply(gx3.EepromWord{Cmd: cmd, Value: v})
	case cmd == gx3.CmdDeviceIdentity && len(p) == 2:
		s.reply(gx3.DeviceIdentity{Flag: p[1], Text: s.identity[p[1]]})
	case cmd == gx3.CmdFirmwareVersion:
		s.reply(gx3.NewFirmwareVersion(s.firmware))
	case cmd == gx3.CmdContinuousPreset && len(p) == 4 && key(p, 0xC6, 0x6B):
		s.preset = p[3]
		s.reply(gx3.ModeAck{Cmd: cmd, Value: p[3]})
	case cmd == gx3.CmdMode && len(p) == 4 && key(p, 0xA3, 0x47):
		s.reply(gx3.ModeAck{Cmd: cmd, Value: p[3]})
		if p[3] == gx3.ModeContinuous {
			s.streaming, s.dataType = true, s.preset
		}
	case cmd == gx3.CmdSetContinuous && len(p) == 4 && key(p, 0xC1, 0x29):
		s.reply(gx3.ContinuousAck{DataType: p[3], Timer: s.tick()})
		s.streaming, s.dataType = true, p[3]
	case cmd == gx3.CmdStopContinuous && key(p, 0x75, 0xB4):
		s.streaming = false
	case cmd == gx3.CmdDeviceReset && key(p, 0x9E, 0x3A):
		s.streaming = false
		s.pending = nil
		s.ticks = 0
	}
}

func (s *Simulator) reply(rec gx3.Record) {
	frame, err := gx3.EncodeFrame(rec)
	if err != nil {
		return
	}
	s.pending = append(s.pending, frame...)
}

func (s *Simulator) pushStreamFrame() {
	s.frames++
	if s.NoiseEvery > 0 && s.frames%s.NoiseEvery == 0 {
		for i := 0; i < s.NoiseBytes; i++ {
			// 0x00 never starts a frame.
			s.pending = append(s.pending, 0x00)
		}
	}
	frame, err := gx3.EncodeFrame(s.sample(s.dataType))
	if err != nil {
		return
	}
	if s.CorruptEvery > 0 && s.frames%s.CorruptEvery == 0 {
		frame[1] ^= 0x01
	}
	s.pending = append(s.pending, frame...)
}

func (s *Simulator) tick() uint32 {
	s.ticks += ticksPerSample
	return s.ticks
}

// sample synthesizes the record for cmd at the next timer value.
func (s *Simulator) sample(cmd byte) gx3.Record {
	timer := s.tick()
	t := float64(timer) / gx3.TimerTickRate
	const yawRate = 0.1 // rad/s
	yaw := math.Mod(yawRate*t, 2*math.Pi)
	c, sn := float32(math.Cos(yaw)), float32(math.Sin(yaw))

	accel := gx3.Vector3{0, 0, -1}
	rate := gx3.Vector3{-s.gyroBias[0], -s.gyroBias[1], yawRate - s.gyroBias[2]}
	mag := gx3.Vector3{0.22 * c, -0.22 * sn, 0.41}
	m := gx3.Matrix3{{c, sn, 0}, {-sn, c, 0}, {0, 0, 1}}
	euler := gx3.Vector3{0, 0, float32(yaw)}
	dt := float32(ticksPerSample) / gx3.TimerTickRate
	dAngle := gx3.Vector3{rate[0] * dt, rate[1] * dt, rate[2] * dt}
	dVel := gx3.Vector3{0, 0, -dt}

	switch cmd {
	case gx3.CmdRawAccelAngRate:
		return gx3.RawAccelAngRate{Accel: gx3.Vector3{32768, 32768, 24576}, AngRate: gx3.Vector3{32768, 32768, 32900}, Timer: timer}
	case gx3.CmdAccelAngRate:
		return gx3.AccelAngRate{Accel: accel, AngRate: rate, Timer: timer}
	case gx3.CmdDeltaAngleVelocity:
		return gx3.DeltaAngleVelocity{DeltaAngle: dAngle, DeltaVelocity: dVel, Timer: timer}
	case gx3.CmdOrientationMatrix:
		return gx3.OrientationMatrix{M: m, Timer: timer}
	case gx3.CmdOrientationUpdateMatrix:
		return gx3.OrientationUpdateMatrix{M: m, Timer: timer}
	case gx3.CmdScaledMagnetometer:
		return gx3.Magnetometer{Mag: mag, Timer: timer}
	case gx3.CmdAccelAngRateOrientation:
		return gx3.AccelAngRateOrientation{Accel: accel, AngRate: rate, M: m, Timer: timer}
	case gx3.CmdAccelAngRateMag:
		return gx3.AccelAngRateMag{Accel: accel, AngRate: rate, Mag: mag, Timer: timer}
	case gx3.CmdAccelAngRateMagOrientation:
		return gx3.AccelAngRateMagOrientation{Accel: accel, AngRate: rate, Mag: mag, M: m, Timer: timer}
	case gx3.CmdEulerAngles:
		return gx3.EulerAngles{Euler: euler, Timer: timer}
	case gx3.CmdEulerAnglesAngRate:
		return gx3.EulerAnglesAngRate{Euler: euler, AngRate: rate, Timer: timer}
	case gx3.CmdTemperatures:
		return gx3.Temperatures{Accel: 2510, Gyro: [3]uint16{2498, 2503, 2507}, Timer: timer}
	case gx3.CmdGyroStabilizedVectors:
		return gx3.GyroStabilizedVectors{Accel: accel, AngRate: rate, Mag: mag, Timer: timer}
	default:
		return gx3.DeltaAngleVelocityMag{DeltaAngle: dAngle, DeltaVelocity: dVel, Mag: mag, Timer: timer}
	}
}

func vectorAt(b []byte) gx3.Vector3 {
	return gx3.Vector3{gx3.BytesToFloat32(b[0:]), gx3.BytesToFloat32(b[4:]), gx3.BytesToFloat32(b[8:])}
}
