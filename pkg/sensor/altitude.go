// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sensor

import (
	"sync/atomic"

	"github.com/Thermoquad/helirig/pkg/kernel"
)

// Converter is the analog sampling driver. Trigger starts one conversion and
// the completed sample is delivered to the handler registered with OnSample.
type Converter interface {
	Trigger()
	OnSample(handler func(raw uint16))
}

// AltitudeConfig sizes the altitude estimator
type AltitudeConfig struct {
	// BufferSize is the number of raw samples averaged
	BufferSize int `yaml:"buffer_size"`

	// FullScaleDelta is the ADC swing between landed and full height
	FullScaleDelta int32 `yaml:"full_scale_delta"`

	SettlingSize   int   `yaml:"settling_size"`
	SettlingMargin int32 `yaml:"settling_margin"`
}

// DefaultAltitudeConfig matches the rig's 12-bit ADC with a 0.8 V height swing
func DefaultAltitudeConfig() AltitudeConfig {
	return AltitudeConfig{
		BufferSize:     20,
		FullScaleDelta: 993,
		SettlingSize:   10,
		SettlingMargin: 1,
	}
}

// Altitude estimates height as a percentage of full swing from the moving
// average of raw ADC samples, relative to a calibrated landed reference.
type Altitude struct {
	cfg AltitudeConfig

	mu         kernel.Mutex
	samples    *Ring
	calibrated atomic.Bool

	// mainline only
	mean      int32
	reference int32
	percent   int32
	settling  *Settling
}

// NewAltitude creates an uncalibrated altitude estimator
func NewAltitude(cfg AltitudeConfig) *Altitude {
	if cfg.FullScaleDelta == 0 {
		cfg.FullScaleDelta = DefaultAltitudeConfig().FullScaleDelta
	}
	return &Altitude{
		cfg:      cfg,
		samples:  NewRing(cfg.BufferSize),
		settling: NewSettling(cfg.SettlingSize, cfg.SettlingMargin),
	}
}

// Attach registers the estimator as the converter's sample handler
func (a *Altitude) Attach(conv Converter) {
	conv.OnSample(a.Sample)
}

// Sample pushes one raw reading. Interrupt context.
func (a *Altitude) Sample(raw uint16) {
	a.mu.Lock()
	a.samples.Write(int32(raw))
	a.mu.Unlock()
}

// UpdateMean recomputes the mean and the derived percentage
func (a *Altitude) UpdateMean(_ *kernel.Task) {
	a.mu.Wait()
	a.mean = a.samples.Mean()
	a.percent = (a.reference - a.mean) * 100 / a.cfg.FullScaleDelta
}

// UpdateSettling pushes the current percentage into the settling buffer
func (a *Altitude) UpdateSettling(_ *kernel.Task) {
	a.settling.Push(a.percent)
}

// Calibrate takes the current mean as the landed reference. Settling
// history recorded against the previous reference is discarded.
func (a *Altitude) Calibrate() {
	a.mu.Wait()
	a.mean = a.samples.Mean()
	a.reference = a.mean
	a.percent = 0
	a.settling.Reset()
	a.calibrated.Store(true)
}

// ResetCalibration clears the calibrated flag. The reference is kept until
// the next Calibrate.
func (a *Altitude) ResetCalibration() {
	a.calibrated.Store(false)
}

// IsCalibrated reports whether a landed reference has been captured
func (a *Altitude) IsCalibrated() bool {
	return a.calibrated.Load()
}

// IsBufferFull reports whether the moving average covers a full buffer
func (a *Altitude) IsBufferFull() bool {
	a.mu.Wait()
	return a.samples.Full()
}

// Mean returns the last computed raw mean
func (a *Altitude) Mean() int32 {
	return a.mean
}

// Reference returns the calibrated landed reading
func (a *Altitude) Reference() int32 {
	return a.reference
}

// Percent returns the altitude as a signed percentage of full swing
func (a *Altitude) Percent() int32 {
	return a.percent
}

// IsSettled reports whether the altitude has reached steady state
func (a *Altitude) IsSettled() bool {
	return a.settling.IsSettled()
}

// Settled returns the settled altitude or NotSettled
func (a *Altitude) Settled() int32 {
	return a.settling.Settled()
}

// IsSettledAround reports whether the altitude has settled near percent
func (a *Altitude) IsSettledAround(percent int32) bool {
	return a.settling.IsSettledAround(percent)
}
