// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sensor

import (
	"sync/atomic"

	"github.com/Thermoquad/helirig/pkg/kernel"
)

// YawConfig describes the yaw encoder
type YawConfig struct {
	Teeth  uint32 `yaml:"teeth"`
	Phases uint32 `yaml:"phases"`

	SettlingSize   int   `yaml:"settling_size"`
	SettlingMargin int32 `yaml:"settling_margin"`
}

// DefaultYawConfig is the rig's 112-tooth disc read on both edges of both
// channels
func DefaultYawConfig() YawConfig {
	return YawConfig{
		Teeth:          112,
		Phases:         4,
		SettlingSize:   10,
		SettlingMargin: 2,
	}
}

// MaxSlots returns the number of encoder slots per revolution
func (c YawConfig) MaxSlots() uint32 {
	return c.Teeth * c.Phases
}

// settlingOffset shifts yaw so settling tests around 0° do not straddle
// the 359/0 wrap
const settlingOffset = 180

// Yaw estimates heading from the quadrature encoder and the once-per-rev
// reference sensor.
type Yaw struct {
	mu         kernel.Mutex
	quad       *Quadrature
	calibrated atomic.Bool

	settling *Settling
}

// NewYaw creates an uncalibrated yaw estimator
func NewYaw(cfg YawConfig) *Yaw {
	return &Yaw{
		quad:     NewQuadrature(cfg.MaxSlots()),
		settling: NewSettling(cfg.SettlingSize, cfg.SettlingMargin),
	}
}

// PhaseISR handles a change on either encoder channel
func (y *Yaw) PhaseISR(a, b bool) Direction {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.quad.Update(a, b)
}

// ReferenceISR handles the reference edge. Only the first edge after a
// reset calibrates; later edges are ignored until ResetCalibration.
func (y *Yaw) ReferenceISR() {
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.calibrated.CompareAndSwap(false, true) {
		y.quad.Zero()
	}
}

// Degrees returns the heading in [0, 360)
func (y *Yaw) Degrees() int32 {
	y.mu.Wait()
	return int32(y.quad.Slots() * 360 / y.quad.MaxSlots())
}

// Slots returns the raw slot counter
func (y *Yaw) Slots() uint32 {
	y.mu.Wait()
	return y.quad.Slots()
}

// Direction returns the last decoded direction
func (y *Yaw) Direction() Direction {
	return y.quad.Direction()
}

// IsCalibrated reports whether the reference edge has been seen
func (y *Yaw) IsCalibrated() bool {
	return y.calibrated.Load()
}

// ResetCalibration arms the reference edge again
func (y *Yaw) ResetCalibration() {
	y.calibrated.Store(false)
}

// UpdateSettling pushes the offset heading into the settling buffer
func (y *Yaw) UpdateSettling(_ *kernel.Task) {
	y.settling.Push(WrapDegrees(y.Degrees() + settlingOffset))
}

// IsSettled reports whether the heading has reached steady state
func (y *Yaw) IsSettled() bool {
	return y.settling.IsSettled()
}

// Settled returns the settled heading in degrees, or NotSettled
func (y *Yaw) Settled() int32 {
	v := y.settling.Settled()
	if v == NotSettled {
		return NotSettled
	}
	return WrapDegrees(v - settlingOffset)
}

// IsSettledAround reports whether the heading has settled near degrees
func (y *Yaw) IsSettledAround(degrees int32) bool {
	return y.settling.IsSettledAround(WrapDegrees(degrees + settlingOffset))
}

// WrapDegrees maps any angle into [0, 360)
func WrapDegrees(degrees int32) int32 {
	degrees %= 360
	if degrees < 0 {
		degrees += 360
	}
	return degrees
}
