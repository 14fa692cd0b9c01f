// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sim is a simulated two-rotor rig. It stands in for the PWM
// outputs, the height ADC and the yaw encoder so the flight core can run on
// a host.
package sim

import (
	"math"
	"math/rand"
	"sync"

	"github.com/Thermoquad/helirig/pkg/sensor"
)

// Encoder receives the plant's yaw sensor edges
type Encoder interface {
	PhaseISR(a, b bool) sensor.Direction
	ReferenceISR()
}

// Config holds the plant's physical constants
type Config struct {
	// Duty below which the main rotor cannot lift the rig
	HoverDuty float64 `yaml:"hover_duty"`

	// Lift per duty percent above hover, in height fractions/s²
	LiftGain float64 `yaml:"lift_gain"`
	Drag     float64 `yaml:"drag"`

	// Torque coupling of the main rotor onto yaw
	MainTorque float64 `yaml:"main_torque"`
	TailGain   float64 `yaml:"tail_gain"`
	YawDrag    float64 `yaml:"yaw_drag"`

	// Landed ADC reading and swing at full height
	GroundADC     float64 `yaml:"ground_adc"`
	FullScaleADC  float64 `yaml:"full_scale_adc"`
	NoiseADC      float64 `yaml:"noise_adc"`
	SlotsPerRev   uint32  `yaml:"slots_per_rev"`
	ReferenceSlot uint32  `yaml:"reference_slot"`

	Seed int64 `yaml:"seed"`
}

// DefaultConfig returns a plant that behaves like the bench rig
func DefaultConfig() Config {
	return Config{
		HoverDuty:     40,
		LiftGain:      0.02,
		Drag:          2,
		MainTorque:    0.8,
		TailGain:      5,
		YawDrag:       1,
		GroundADC:     2500,
		FullScaleADC:  993,
		NoiseADC:      2,
		SlotsPerRev:   448,
		ReferenceSlot: 37,
		Seed:          1,
	}
}

// quadrature phases in clockwise order
var cwSeq = [4]sensor.Phase{0, 1, 3, 2}

// Plant simulates the rig's rotors and sensors. It implements the actuator
// and converter interfaces used by the flight core.
type Plant struct {
	cfg Config

	mu   sync.Mutex
	main float64
	tail float64

	height   float64 // fraction of full swing
	velocity float64
	heading  float64 // slots, continuous
	spin     float64 // slots/s
	slot     int64   // last emitted slot

	rng     *rand.Rand
	handler func(uint16)
	encoder Encoder
}

// New creates a plant resting on the ground with its encoder at the
// reference slot offset
func New(cfg Config) *Plant {
	return &Plant{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		heading: float64(cfg.ReferenceSlot),
		slot:    int64(cfg.ReferenceSlot),
	}
}

// AttachEncoder connects the yaw sensor outputs and presents the current
// phase
func (p *Plant) AttachEncoder(enc Encoder) {
	p.mu.Lock()
	p.encoder = enc
	ph := p.phase(p.slot)
	p.mu.Unlock()

	if enc != nil {
		enc.PhaseISR(ph&0b10 != 0, ph&0b01 != 0)
	}
}

// clampDuty limits a duty to the range the PWM peripheral accepts. Zero
// switches the output off.
func clampDuty(percent float64) float64 {
	if percent <= 0 {
		return 0
	}
	return math.Max(2, math.Min(98, percent))
}

// SetMainDuty sets the main rotor duty
func (p *Plant) SetMainDuty(percent float64) {
	p.mu.Lock()
	p.main = clampDuty(percent)
	p.mu.Unlock()
}

// SetTailDuty sets the tail rotor duty
func (p *Plant) SetTailDuty(percent float64) {
	p.mu.Lock()
	p.tail = clampDuty(percent)
	p.mu.Unlock()
}

// MainDuty returns the applied main duty
func (p *Plant) MainDuty() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.main
}

// TailDuty returns the applied tail duty
func (p *Plant) TailDuty() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tail
}

// OnSample registers the conversion-complete handler
func (p *Plant) OnSample(handler func(raw uint16)) {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
}

// Trigger performs one conversion and delivers it to the handler
func (p *Plant) Trigger() {
	p.mu.Lock()
	raw := p.cfg.GroundADC - p.height*p.cfg.FullScaleADC + p.rng.NormFloat64()*p.cfg.NoiseADC
	handler := p.handler
	p.mu.Unlock()

	if handler != nil {
		handler(uint16(math.Max(0, math.Min(4095, math.Round(raw)))))
	}
}

// Height returns the height as a fraction of full swing
func (p *Plant) Height() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.height
}

// Heading returns the true heading in degrees relative to the reference
func (p *Plant) Heading() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	rev := float64(p.cfg.SlotsPerRev)
	deg := math.Mod(p.heading, rev) * 360 / rev
	if deg < 0 {
		deg += 360
	}
	return deg
}

// Step advances the physics by dt seconds and emits the encoder edges the
// movement produced
func (p *Plant) Step(dt float64) {
	p.mu.Lock()

	accel := (p.main-p.cfg.HoverDuty)*p.cfg.LiftGain - p.cfg.Drag*p.velocity
	if p.main == 0 {
		accel = -1
	}
	p.velocity += accel * dt
	p.height += p.velocity * dt
	if p.height <= 0 {
		p.height, p.velocity = 0, math.Max(0, p.velocity)
	}
	if p.height >= 1 {
		p.height, p.velocity = 1, math.Min(0, p.velocity)
	}

	// torque in deg/s², converted to slots
	torque := (p.tail-p.cfg.MainTorque*p.main)*p.cfg.TailGain - p.cfg.YawDrag*p.spin*360/float64(p.cfg.SlotsPerRev)
	p.spin += torque * float64(p.cfg.SlotsPerRev) / 360 * dt
	if p.height == 0 && p.main == 0 && p.tail == 0 {
		p.spin = 0
	}
	p.heading += p.spin * dt

	target := int64(math.Floor(p.heading))
	var edges []edge
	for p.slot != target {
		if target > p.slot {
			p.slot++
		} else {
			p.slot--
		}
		edges = append(edges, edge{phase: p.phase(p.slot), reference: p.mod(p.slot) == 0})
	}
	enc := p.encoder
	p.mu.Unlock()

	if enc == nil {
		return
	}
	for _, e := range edges {
		enc.PhaseISR(e.phase&0b10 != 0, e.phase&0b01 != 0)
		if e.reference {
			enc.ReferenceISR()
		}
	}
}

// edge is one encoder event produced by a physics step
type edge struct {
	phase     sensor.Phase
	reference bool
}

func (p *Plant) mod(slot int64) int64 {
	rev := int64(p.cfg.SlotsPerRev)
	m := slot % rev
	if m < 0 {
		m += rev
	}
	return m
}

func (p *Plant) phase(slot int64) sensor.Phase {
	i := slot % 4
	if i < 0 {
		i += 4
	}
	return cwSeq[i]
}
