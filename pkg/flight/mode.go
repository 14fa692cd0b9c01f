// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package flight sequences takeoff, hover and landing of the rig.
//
// The transition function is pure: it receives a snapshot of the estimator
// and setpoint predicates and returns the next mode together with the side
// effects to apply, so the sequencing can be tested without actuators.
package flight

// Mode is the flight mode of the rig
type Mode int

// Flight modes, in cycle order
const (
	Landed Mode = iota
	TakeOff
	InFlight
	Landing
)

func (m Mode) String() string {
	switch m {
	case Landed:
		return "LANDED"
	case TakeOff:
		return "TAKE_OFF"
	case InFlight:
		return "IN_FLIGHT"
	case Landing:
		return "LANDING"
	default:
		return "UNKNOWN"
	}
}

// Next returns the mode that follows m in the cycle
func (m Mode) Next() Mode {
	return (m + 1) % 4
}

// Valid reports whether m is a known mode
func (m Mode) Valid() bool {
	return m >= Landed && m <= Landing
}

// CommandKind identifies a side effect of a transition
type CommandKind int

// Command kinds
const (
	EnableAltitude CommandKind = iota
	EnableYaw
	DisableAltitude
	DisableYaw
	CalibrateAltitude
	ResetAltitudeCalibration
	ResetYawCalibration
	SetYawSetpoint
	SetAltitudeSetpoint
	ForceMainDuty
	ForceTailDuty
)

var commandNames = map[CommandKind]string{
	EnableAltitude:           "ENABLE_ALTITUDE",
	EnableYaw:                "ENABLE_YAW",
	DisableAltitude:          "DISABLE_ALTITUDE",
	DisableYaw:               "DISABLE_YAW",
	CalibrateAltitude:        "CALIBRATE_ALTITUDE",
	ResetAltitudeCalibration: "RESET_ALTITUDE_CALIBRATION",
	ResetYawCalibration:      "RESET_YAW_CALIBRATION",
	SetYawSetpoint:           "SET_YAW_SETPOINT",
	SetAltitudeSetpoint:      "SET_ALTITUDE_SETPOINT",
	ForceMainDuty:            "FORCE_MAIN_DUTY",
	ForceTailDuty:            "FORCE_TAIL_DUTY",
}

func (k CommandKind) String() string {
	if name, ok := commandNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// Command is one side effect. Value carries the setpoint or duty for the
// kinds that need one.
type Command struct {
	Kind  CommandKind
	Value int32
}

func cmd(kind CommandKind) Command {
	return Command{Kind: kind}
}

func cmdValue(kind CommandKind, value int32) Command {
	return Command{Kind: kind, Value: value}
}
