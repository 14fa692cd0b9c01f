// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package control

import (
	"github.com/Thermoquad/helirig/pkg/kernel"
	"github.com/rs/zerolog"
)

// Actuator is the PWM driver. Duty is a signed percentage; the driver clamps
// it to hardware-safe bounds.
type Actuator interface {
	SetMainDuty(percent float64)
	SetTailDuty(percent float64)
	MainDuty() float64
	TailDuty() float64
}

// AltitudeEstimate provides the measured height in percent
type AltitudeEstimate interface {
	Percent() int32
}

// HeadingEstimate provides the measured yaw in degrees
type HeadingEstimate interface {
	Degrees() int32
}

// Setpoints provides the desired yaw and altitude
type Setpoints interface {
	Yaw() int32
	Altitude() int32
}

// SystemConfig configures both axes
type SystemConfig struct {
	Altitude Config `yaml:"altitude"`
	Yaw      Config `yaml:"yaw"`

	// Coupling is the fraction of main duty the tail must at least match to
	// hold yaw authority against main-rotor torque
	Coupling float64 `yaml:"coupling"`
}

// DefaultSystemConfig returns gains tuned for the rig
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		Altitude: Config{
			Gains:     Gains{Kp: 0.9, Ki: 0.02, Kd: 2.0},
			GainLimit: 40,
			Duty:      Band{Min: 10, Max: 90},
			Base:      40,
			Variant:   Positional,
		},
		Yaw: Config{
			Gains:     Gains{Kp: 0.4, Ki: 0.01, Kd: 1.5},
			GainLimit: 30,
			Duty:      Band{Min: 5, Max: 90},
			Base:      30,
			Variant:   Positional,
		},
		Coupling: 0.5,
	}
}

// System owns both axis controllers and drives the actuator from the
// estimates and setpoints. All methods run in mainline context.
type System struct {
	altitude *PID
	yaw      *PID
	coupling float64

	actuator  Actuator
	altEst    AltitudeEstimate
	yawEst    HeadingEstimate
	setpoints Setpoints

	altitudeEnabled bool
	yawEnabled      bool

	logger zerolog.Logger
}

// Option configures a System
type Option func(*System)

// WithLogger sets the logger for enable/disable events
func WithLogger(logger zerolog.Logger) Option {
	return func(s *System) {
		s.logger = logger
	}
}

// NewSystem creates both controllers, disabled
func NewSystem(cfg SystemConfig, act Actuator, alt AltitudeEstimate, yaw HeadingEstimate, sp Setpoints, opts ...Option) *System {
	s := &System{
		altitude:  NewPID(cfg.Altitude),
		yaw:       NewPID(cfg.Yaw),
		coupling:  cfg.Coupling,
		actuator:  act,
		altEst:    alt,
		yawEst:    yaw,
		setpoints: sp,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Altitude returns the altitude controller
func (s *System) Altitude() *PID {
	return s.altitude
}

// Yaw returns the yaw controller
func (s *System) Yaw() *PID {
	return s.yaw
}

// UpdateAltitude is the altitude control task
func (s *System) UpdateAltitude(_ *kernel.Task) {
	if !s.altitudeEnabled {
		return
	}

	err := s.setpoints.Altitude() - s.altEst.Percent()
	s.actuator.SetMainDuty(s.altitude.Step(float64(err)))
}

// UpdateYaw is the yaw control task. The tail duty never drops below the
// coupling share of the current main duty.
func (s *System) UpdateYaw(_ *kernel.Task) {
	if !s.yawEnabled {
		return
	}

	s.yaw.SetFloor(s.coupling * s.altitude.Duty())
	err := YawError(s.setpoints.Yaw(), s.yawEst.Degrees())
	s.actuator.SetTailDuty(s.yaw.Step(float64(err)))
}

// EnableAltitude enables or disables the altitude controller. Disabling
// clears its state and drives the main rotor to zero.
func (s *System) EnableAltitude(enabled bool) {
	if !enabled {
		s.altitude.Reset()
		s.actuator.SetMainDuty(0)
	}
	if s.altitudeEnabled != enabled {
		s.logger.Info().Bool("enabled", enabled).Msg("altitude control")
	}
	s.altitudeEnabled = enabled
}

// EnableYaw enables or disables the yaw controller. Disabling clears its
// state and drives the tail rotor to zero.
func (s *System) EnableYaw(enabled bool) {
	if !enabled {
		s.yaw.Reset()
		s.actuator.SetTailDuty(0)
	}
	if s.yawEnabled != enabled {
		s.logger.Info().Bool("enabled", enabled).Msg("yaw control")
	}
	s.yawEnabled = enabled
}

// AltitudeEnabled reports whether the altitude controller is running
func (s *System) AltitudeEnabled() bool {
	return s.altitudeEnabled
}

// YawEnabled reports whether the yaw controller is running
func (s *System) YawEnabled() bool {
	return s.yawEnabled
}

// ForceMainDuty writes a main duty directly. Ignored while the altitude
// controller owns the output.
func (s *System) ForceMainDuty(percent float64) {
	if s.altitudeEnabled {
		return
	}
	s.actuator.SetMainDuty(percent)
}

// ForceTailDuty writes a tail duty directly. Ignored while the yaw
// controller owns the output.
func (s *System) ForceTailDuty(percent float64) {
	if s.yawEnabled {
		return
	}
	s.actuator.SetTailDuty(percent)
}

// NudgeMainDuty steps the main duty for direct control
func (s *System) NudgeMainDuty(direction int, step float64) {
	s.ForceMainDuty(clamp(s.actuator.MainDuty()+float64(direction)*step, 0, 100))
}

// NudgeTailDuty steps the tail duty for direct control
func (s *System) NudgeTailDuty(direction int, step float64) {
	s.ForceTailDuty(clamp(s.actuator.TailDuty()+float64(direction)*step, 0, 100))
}
