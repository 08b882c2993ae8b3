// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gx3

import (
	"fmt"
	"math"
)

// AnomalyType represents different types of record anomalies
type AnomalyType int

const (
	AnomalyNonFinite AnomalyType = iota
	AnomalyMatrixNotOrthonormal
	AnomalyHighAccel
	AnomalyHighAngRate
	AnomalyHighMag
)

func (a AnomalyType) String() string {
	switch a {
	case AnomalyNonFinite:
		return "non_finite"
	case AnomalyMatrixNotOrthonormal:
		return "matrix_not_orthonormal"
	case AnomalyHighAccel:
		return "high_accel"
	case AnomalyHighAngRate:
		return "high_ang_rate"
	case AnomalyHighMag:
		return "high_mag"
	default:
		return "unknown"
	}
}

// Plausibility limits. They sit well above the widest sensor ranges the
// device family ships with.
const (
	maxAccelG          = 20.0
	maxAngRateRadS     = 35.0
	maxMagGauss        = 10.0
	orthonormalEpsilon = 0.05
)

// ValidationError represents a record validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateRecord checks a decoded record for physically implausible values.
// Returns a slice of validation errors (empty if the record is plausible)
func ValidateRecord(rec Record) []ValidationError {
	errors := []ValidationError{}

	switch r := rec.(type) {
	case AccelAngRate:
		errors = append(errors, checkAccel(r.Accel)...)
		errors = append(errors, checkAngRate(r.AngRate)...)
	case DeltaAngleVelocity:
		errors = append(errors, checkFinite("delta_angle", r.DeltaAngle)...)
		errors = append(errors, checkFinite("delta_velocity", r.DeltaVelocity)...)
	case OrientationMatrix:
		errors = append(errors, checkMatrix(r.M)...)
	case OrientationUpdateMatrix:
		errors = append(errors, checkMatrix(r.M)...)
	case Magnetometer:
		errors = append(errors, checkMag(r.Mag)...)
	case AccelAngRateOrientation:
		errors = append(errors, checkAccel(r.Accel)...)
		errors = append(errors, checkAngRate(r.AngRate)...)
		errors = append(errors, checkMatrix(r.M)...)
	case AccelAngRateMag:
		errors = append(errors, checkAccel(r.Accel)...)
		errors = append(errors, checkAngRate(r.AngRate)...)
		errors = append(errors, checkMag(r.Mag)...)
	case AccelAngRateMagOrientation:
		errors = append(errors, checkAccel(r.Accel)...)
		errors = append(errors, checkAngRate(r.AngRate)...)
		errors = append(errors, checkMag(r.Mag)...)
		errors = append(errors, checkMatrix(r.M)...)
	case EulerAngles:
		errors = append(errors, checkFinite("euler", r.Euler)...)
	case EulerAnglesAngRate:
		errors = append(errors, checkFinite("euler", r.Euler)...)
		errors = append(errors, checkAngRate(r.AngRate)...)
	case GyroStabilizedVectors:
		errors = append(errors, checkAccel(r.Accel)...)
		errors = append(errors, checkAngRate(r.AngRate)...)
		errors = append(errors, checkMag(r.Mag)...)
	case DeltaAngleVelocityMag:
		errors = append(errors, checkFinite("delta_angle", r.DeltaAngle)...)
		errors = append(errors, checkFinite("delta_velocity", r.DeltaVelocity)...)
		errors = append(errors, checkMag(r.Mag)...)
	}

	return errors
}

func norm(v Vector3) float64 {
	x, y, z := float64(v[0]), float64(v[1]), float64(v[2])
	return math.Sqrt(x*x + y*y + z*z)
}

func checkFinite(field string, v Vector3) []ValidationError {
	for i, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return []ValidationError{{
				Type:    AnomalyNonFinite,
				Message: fmt.Sprintf("Non-finite %s[%d]=%v", field, i, f),
				Details: map[string]interface{}{"field": field, "index": i},
			}}
		}
	}
	return nil
}

func checkMagnitude(field string, v Vector3, limit float64, kind AnomalyType, unit string) []ValidationError {
	if errs := checkFinite(field, v); len(errs) > 0 {
		return errs
	}
	if n := norm(v); n > limit {
		return []ValidationError{{
			Type:    kind,
			Message: fmt.Sprintf("%s magnitude %.2f %s exceeds %.0f", field, n, unit, limit),
			Details: map[string]interface{}{"field": field, "magnitude": n, "max": limit},
		}}
	}
	return nil
}

func checkAccel(v Vector3) []ValidationError {
	return checkMagnitude("accel", v, maxAccelG, AnomalyHighAccel, "g")
}

func checkAngRate(v Vector3) []ValidationError {
	return checkMagnitude("ang_rate", v, maxAngRateRadS, AnomalyHighAngRate, "rad/s")
}

func checkMag(v Vector3) []ValidationError {
	return checkMagnitude("mag", v, maxMagGauss, AnomalyHighMag, "gauss")
}

// checkMatrix requires M*Mt to be the identity within orthonormalEpsilon.
func checkMatrix(m Matrix3) []ValidationError {
	for _, row := range m {
		if errs := checkFinite("matrix", row); len(errs) > 0 {
			return errs
		}
	}
	worst := 0.0
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var dot float64
			for k := 0; k < 3; k++ {
				dot += float64(m[i][k]) * float64(m[j][k])
			}
			want := 0.0
			if i == j {
				want = 1
			}
			worst = math.Max(worst, math.Abs(dot-want))
		}
	}
	if worst > orthonormalEpsilon {
		return []ValidationError{{
			Type:    AnomalyMatrixNotOrthonormal,
			Message: fmt.Sprintf("Orientation matrix not orthonormal (deviation %.3f)", worst),
			Details: map[string]interface{}{"deviation": worst, "max": orthonormalEpsilon},
		}}
	}
	return nil
}
