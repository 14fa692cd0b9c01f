// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package control implements the altitude and yaw PID controllers of the rig
package control

// Variant selects how a controller turns its gain into a duty
type Variant string

// Controller variants
const (
	// Positional computes duty = base + P + I + D
	Positional Variant = "positional"

	// Incremental adds the change in P + I + D to the running duty
	Incremental Variant = "incremental"
)

// Gains are the PID coefficients
type Gains struct {
	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`
	Kd float64 `yaml:"kd"`
}

// Band is an inclusive [Min, Max] range
type Band struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Clamp limits v to the band
func (b Band) Clamp(v float64) float64 {
	return clamp(v, b.Min, b.Max)
}

// Config is the per-axis controller configuration
type Config struct {
	Gains `yaml:",inline"`

	// GainLimit bounds the P and D terms to ±GainLimit. Zero disables it.
	GainLimit float64 `yaml:"gain_limit"`

	// Duty is the output band, in percent
	Duty Band `yaml:"duty"`

	// Base is the idle duty added by the positional variant
	Base float64 `yaml:"base"`

	Variant Variant `yaml:"variant"`
}

// PID is a single-axis controller with conditional-integration anti-windup
type PID struct {
	cfg Config

	lastError float64
	integral  float64
	lastGain  float64
	duty      float64

	// floor raises the lower edge of the duty band at runtime
	floor float64
}

// NewPID creates a controller at rest
func NewPID(cfg Config) *PID {
	if cfg.Variant == "" {
		cfg.Variant = Positional
	}
	if cfg.Duty.Max < cfg.Duty.Min {
		cfg.Duty.Min, cfg.Duty.Max = cfg.Duty.Max, cfg.Duty.Min
	}
	return &PID{cfg: cfg, floor: cfg.Duty.Min}
}

// Config returns the controller configuration
func (p *PID) Config() Config {
	return p.cfg
}

// Band returns the current output band including any runtime floor
func (p *PID) Band() Band {
	return Band{Min: p.floor, Max: p.cfg.Duty.Max}
}

// SetFloor raises the lower edge of the output band, never outside the
// configured band
func (p *PID) SetFloor(floor float64) {
	p.floor = p.cfg.Duty.Clamp(floor)
}

// Step advances the controller by one cycle and returns the new duty
func (p *PID) Step(err float64) float64 {
	band := p.Band()

	pTerm := p.limit(err * p.cfg.Kp)

	// Anti-windup: integrate only while the output is off the band edges
	if p.duty > band.Min && p.duty < band.Max {
		p.integral += err
	}
	iTerm := p.integral * p.cfg.Ki

	dTerm := p.limit((err - p.lastError) * p.cfg.Kd)

	gain := pTerm + iTerm + dTerm

	var duty float64
	switch p.cfg.Variant {
	case Incremental:
		duty = p.duty + gain - p.lastGain
	default:
		duty = p.cfg.Base + gain
	}

	p.lastGain = gain
	p.lastError = err
	p.duty = band.Clamp(duty)
	return p.duty
}

// Duty returns the last output
func (p *PID) Duty() float64 {
	return p.duty
}

// Integral returns the accumulated error
func (p *PID) Integral() float64 {
	return p.integral
}

// Reset clears all controller state and the output
func (p *PID) Reset() {
	p.lastError = 0
	p.integral = 0
	p.lastGain = 0
	p.duty = 0
	p.floor = p.cfg.Duty.Min
}

func (p *PID) limit(v float64) float64 {
	if p.cfg.GainLimit <= 0 {
		return v
	}
	return clamp(v, -p.cfg.GainLimit, p.cfg.GainLimit)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// YawError returns setpoint - actual mapped onto the shorter rotation, in
// [-180, 180]. Both angles are in degrees.
func YawError(setpoint, actual int32) int32 {
	err := (setpoint - actual) % 360
	switch {
	case err > 180:
		err -= 360
	case err < -180:
		err += 360
	}
	return err
}
