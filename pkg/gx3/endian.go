// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gx3

import (
	"encoding/binary"
	"math"
	"unsafe"
)

// All multi-byte wire fields are big-endian.

var hostLittleEndian = detectLittleEndian()

func detectLittleEndian() bool {
	pattern := uint16(0x0001)
	return *(*byte)(unsafe.Pointer(&pattern)) == 0x01
}

// HostIsLittleEndian reports the byte order of the running machine.
// Decoding does not depend on it; it is exposed for diagnostics.
func HostIsLittleEndian() bool {
	return hostLittleEndian
}

// BytesToUint16 interprets two big-endian bytes.
func BytesToUint16(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

// BytesToInt16 interprets two big-endian bytes as a signed value.
func BytesToInt16(b []byte) int16 {
	return int16(binary.BigEndian.Uint16(b))
}

// BytesToUint32 interprets four big-endian bytes.
func BytesToUint32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

// BytesToInt32 interprets four big-endian bytes as a signed value.
func BytesToInt32(b []byte) int32 {
	return int32(binary.BigEndian.Uint32(b))
}

// BytesToFloat32 reinterprets four big-endian bytes as an IEEE-754 single.
func BytesToFloat32(b []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}

// AppendUint16 appends v in wire order.
func AppendUint16(b []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(b, v)
}

// AppendUint32 appends v in wire order.
func AppendUint32(b []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(b, v)
}

// AppendFloat32 appends the IEEE-754 bits of v in wire order.
func AppendFloat32(b []byte, v float32) []byte {
	return binary.BigEndian.AppendUint32(b, math.Float32bits(v))
}

func readVector(b []byte) Vector3 {
	return Vector3{
		BytesToFloat32(b[0:4]),
		BytesToFloat32(b[4:8]),
		BytesToFloat32(b[8:12]),
	}
}

// readMatrix decodes nine floats in row-major order.
func readMatrix(b []byte) Matrix3 {
	var m Matrix3
	for row := 0; row < 3; row++ {
		m[row] = readVector(b[row*12:])
	}
	return m
}

func appendVector(b []byte, v Vector3) []byte {
	for _, f := range v {
		b = AppendFloat32(b, f)
	}
	return b
}

func appendMatrix(b []byte, m Matrix3) []byte {
	for _, row := range m {
		b = appendVector(b, row)
	}
	return b
}
