// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gx3

// Checksum returns the 16-bit truncated sum of all bytes in buf.
func Checksum(buf []byte) uint16 {
	var sum uint16
	for _, b := range buf {
		sum += uint16(b)
	}
	return sum
}

// Verify checks the trailing big-endian checksum of a complete frame.
func Verify(frame []byte) error {
	n := len(frame)
	if n < 2 {
		return &ChecksumError{Kind: ChecksumFrameTooShort, Length: n}
	}
	computed := Checksum(frame[:n-2])
	received := BytesToUint16(frame[n-2:])
	if computed != received {
		var cmd byte
		if n > 2 {
			cmd = frame[0]
		}
		return &ChecksumError{
			Kind:     ChecksumMismatch,
			Command:  cmd,
			Length:   n,
			Computed: computed,
			Received: received,
		}
	}
	return nil
}

// AppendChecksum returns b followed by its checksum in wire order.
func AppendChecksum(b []byte) []byte {
	sum := Checksum(b)
	out := make([]byte, len(b), len(b)+2)
	copy(out, b)
	return AppendUint16(out, sum)
}
