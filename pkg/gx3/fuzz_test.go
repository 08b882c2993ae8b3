// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gx3

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, or default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func randomVector(rng *rand.Rand) Vector3 {
	return Vector3{rng.Float32()*4 - 2, rng.Float32()*4 - 2, rng.Float32()*4 - 2}
}

func randomMatrix(rng *rand.Rand) Matrix3 {
	return Matrix3{randomVector(rng), randomVector(rng), randomVector(rng)}
}

// randomRecord builds a random record of a random query type
func randomRecord(rng *rand.Rand) Record {
	timer := rng.Uint32()
	switch rng.Intn(6) {
	case 0:
		return AccelAngRate{Accel: randomVector(rng), AngRate: randomVector(rng), Timer: timer}
	case 1:
		return OrientationMatrix{M: randomMatrix(rng), Timer: timer}
	case 2:
		return AccelAngRateMagOrientation{
			Accel: randomVector(rng), AngRate: randomVector(rng), Mag: randomVector(rng),
			M: randomMatrix(rng), Timer: timer,
		}
	case 3:
		return EulerAngles{Euler: randomVector(rng), Timer: timer}
	case 4:
		return Temperatures{Accel: uint16(rng.Uint32()), Gyro: [3]uint16{1, 2, 3}, Timer: timer}
	default:
		return DeltaAngleVelocityMag{
			DeltaAngle: randomVector(rng), DeltaVelocity: randomVector(rng), Mag: randomVector(rng),
			Timer: timer,
		}
	}
}

// TestFuzz_DecodeRandomBytes feeds random buffers to DecodeFrame; it must
// never panic and must only accept frames with a valid checksum.
func TestFuzz_DecodeRandomBytes(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		buf := make([]byte, rng.Intn(90))
		rng.Read(buf)
		if len(buf) > 0 && rng.Intn(2) == 0 {
			buf[0] = QueryCommands()[rng.Intn(len(QueryCommands()))]
		}

		rec, err := DecodeFrame(buf)
		if err == nil {
			if Verify(buf) != nil {
				t.Fatalf("round %d: accepted frame with bad checksum: % X", i, buf)
			}
			if rec.Command() != buf[0] {
				t.Fatalf("round %d: record 0x%02X from frame 0x%02X", i, rec.Command(), buf[0])
			}
		}
	}
}

// TestFuzz_RecordRoundTrip encodes random records and decodes them back.
func TestFuzz_RecordRoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		rec := randomRecord(rng)
		frame, err := EncodeFrame(rec)
		if err != nil {
			t.Fatalf("round %d: encode %T: %v", i, rec, err)
		}
		got, err := DecodeFrame(frame)
		if err != nil {
			t.Fatalf("round %d: decode %T: %v", i, rec, err)
		}
		if got != rec {
			t.Fatalf("round %d: expected %+v, got %+v", i, rec, got)
		}
	}
}

// TestFuzz_CBORRoundTrip checks that the CBOR envelope preserves records.
func TestFuzz_CBORRoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds() / 10
	if rounds == 0 {
		rounds = 1
	}

	for i := 0; i < rounds; i++ {
		rec := randomRecord(rng)
		data, err := MarshalRecordCBOR(rec)
		if err != nil {
			t.Fatalf("round %d: marshal: %v", i, err)
		}
		got, err := ParseRecordCBOR(data)
		if err != nil {
			t.Fatalf("round %d: parse: %v", i, err)
		}
		if !EqualFrames(rec, got) {
			t.Fatalf("round %d: expected %+v, got %+v", i, rec, got)
		}
	}
}
