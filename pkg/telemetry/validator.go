// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import "fmt"

// AnomalyType classifies a validation failure
type AnomalyType int

const (
	AnomalyMissingField AnomalyType = iota
	AnomalyInvalidDuty
	AnomalyInvalidYaw
	AnomalyInvalidAltitude
	AnomalyInvalidMode
	AnomalyOverrun
	AnomalyCRCError
	AnomalyDecodeError
)

func (a AnomalyType) String() string {
	switch a {
	case AnomalyMissingField:
		return "missing field"
	case AnomalyInvalidDuty:
		return "invalid duty"
	case AnomalyInvalidYaw:
		return "invalid yaw"
	case AnomalyInvalidAltitude:
		return "invalid altitude"
	case AnomalyInvalidMode:
		return "invalid mode"
	case AnomalyOverrun:
		return "overrun"
	case AnomalyCRCError:
		return "CRC error"
	case AnomalyDecodeError:
		return "decode error"
	default:
		return "unknown"
	}
}

// ValidationError is one anomaly found in a frame
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateFrame checks a decoded frame for values the rig cannot produce.
// It returns nil for a valid frame.
func ValidateFrame(f *Frame) []ValidationError {
	if err := f.ParseError(); err != nil {
		return []ValidationError{{
			Type:    AnomalyDecodeError,
			Message: fmt.Sprintf("Payload does not decode: %v", err),
		}}
	}

	switch f.Type() {
	case MsgStatus:
		return validateStatus(f)
	case MsgTaskStats:
		return validateTaskStat(f)
	}
	return nil
}

func validateStatus(f *Frame) []ValidationError {
	s, err := ParseStatus(f)
	if err != nil {
		return []ValidationError{{
			Type:    AnomalyMissingField,
			Message: err.Error(),
			Details: map[string]interface{}{"fields": len(f.Fields()), "expected": 9},
		}}
	}

	var errs []ValidationError
	for name, duty := range map[string]float64{"main": s.MainDuty, "tail": s.TailDuty} {
		if duty < 0 || duty > 100 {
			errs = append(errs, ValidationError{
				Type:    AnomalyInvalidDuty,
				Message: fmt.Sprintf("%s duty out of range (%.1f%%, valid 0-100)", name, duty),
				Details: map[string]interface{}{"rotor": name, "duty": duty},
			})
		}
	}
	for name, deg := range map[string]int32{"yaw": s.Yaw, "yaw setpoint": s.YawSetpoint} {
		if deg < 0 || deg >= 360 {
			errs = append(errs, ValidationError{
				Type:    AnomalyInvalidYaw,
				Message: fmt.Sprintf("%s out of range (%d°, valid 0-359)", name, deg),
				Details: map[string]interface{}{"field": name, "degrees": deg},
			})
		}
	}
	if s.Altitude < -50 || s.Altitude > 150 {
		errs = append(errs, ValidationError{
			Type:    AnomalyInvalidAltitude,
			Message: fmt.Sprintf("Altitude out of range (%d%%, valid -50 to 150)", s.Altitude),
			Details: map[string]interface{}{"altitude": s.Altitude, "min": -50, "max": 150},
		})
	}
	if s.AltitudeSetpoint < 0 || s.AltitudeSetpoint > 100 {
		errs = append(errs, ValidationError{
			Type:    AnomalyInvalidAltitude,
			Message: fmt.Sprintf("Altitude setpoint out of range (%d%%, valid 0-100)", s.AltitudeSetpoint),
			Details: map[string]interface{}{"setpoint": s.AltitudeSetpoint},
		})
	}
	if !s.Mode.Valid() {
		errs = append(errs, ValidationError{
			Type:    AnomalyInvalidMode,
			Message: fmt.Sprintf("Invalid mode=%d", s.Mode),
			Details: map[string]interface{}{"mode": int(s.Mode)},
		})
	}
	return errs
}

func validateTaskStat(f *Frame) []ValidationError {
	t, err := ParseTaskStat(f)
	if err != nil {
		return []ValidationError{{
			Type:    AnomalyMissingField,
			Message: err.Error(),
			Details: map[string]interface{}{"fields": len(f.Fields()), "expected": 7},
		}}
	}

	if t.Period > 0 && t.Duration > t.Period {
		return []ValidationError{{
			Type:    AnomalyOverrun,
			Message: fmt.Sprintf("Task %s ran longer than its period (%d > %d µs)", t.Name, t.Duration, t.Period),
			Details: map[string]interface{}{"task": t.Name, "duration": t.Duration, "period": t.Period},
		}}
	}
	return nil
}
