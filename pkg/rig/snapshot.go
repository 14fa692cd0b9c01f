// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rig

import (
	"github.com/Thermoquad/helirig/pkg/flight"
	"github.com/Thermoquad/helirig/pkg/kernel"
)

// Snapshot is a read-only copy of the rig state for telemetry
type Snapshot struct {
	Tick            uint32
	KernelFrequency uint32
	Mode            flight.Mode
	Direct          bool

	YawSetpoint      int32
	Yaw              int32
	AltitudeSetpoint int32
	Altitude         int32

	MainDuty float64
	TailDuty float64

	YawCalibrated      bool
	AltitudeCalibrated bool
	YawEnabled         bool
	AltitudeEnabled    bool

	Tasks []kernel.TaskStats
}

// Snapshot captures the current state. Mainline context only.
func (r *Rig) Snapshot() Snapshot {
	return Snapshot{
		Tick:               r.Clock.Now(),
		KernelFrequency:    r.cfg.Kernel.Frequency,
		Mode:               r.Flight.Mode(),
		Direct:             r.direct,
		YawSetpoint:        r.Setpoints.Yaw(),
		Yaw:                r.Yaw.Degrees(),
		AltitudeSetpoint:   r.Setpoints.Altitude(),
		Altitude:           r.Altitude.Percent(),
		MainDuty:           r.actuator.MainDuty(),
		TailDuty:           r.actuator.TailDuty(),
		YawCalibrated:      r.Yaw.IsCalibrated(),
		AltitudeCalibrated: r.Altitude.IsCalibrated(),
		YawEnabled:         r.Control.YawEnabled(),
		AltitudeEnabled:    r.Control.AltitudeEnabled(),
		Tasks:              r.Kernel.Tasks(),
	}
}

// Utilization returns the summed CPU utilisation of the snapshot's tasks
func (s Snapshot) Utilization() float64 {
	total := 0.0
	for _, t := range s.Tasks {
		total += t.Utilization()
	}
	return total
}
