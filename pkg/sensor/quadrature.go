// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sensor

import "sync/atomic"

// Phase is the 2-bit encoder state, channel A in bit 1 and B in bit 0
type Phase uint8

// PhaseOf packs the two channel levels into a Phase
func PhaseOf(a, b bool) Phase {
	var p Phase
	if a {
		p |= 0b10
	}
	if b {
		p |= 0b01
	}
	return p
}

// Direction classifies one phase transition
type Direction int32

// Direction values
const (
	NoChange Direction = iota
	Clockwise
	Anticlockwise
	Invalid
)

func (d Direction) String() string {
	switch d {
	case NoChange:
		return "NOCHANGE"
	case Clockwise:
		return "CLOCKWISE"
	case Anticlockwise:
		return "ANTICLOCKWISE"
	case Invalid:
		return "INVALID"
	default:
		return "UNKNOWN"
	}
}

// Classify returns the direction of the transition prev -> next.
// Clockwise walks 0 → 1 → 3 → 2 → 0, anticlockwise the reverse; a jump of
// two states cannot be attributed to either and is Invalid.
func Classify(prev, next Phase) Direction {
	prev &= 0b11
	next &= 0b11
	if prev == next {
		return NoChange
	}

	switch prev<<2 | next {
	case 0<<2 | 1, 1<<2 | 3, 3<<2 | 2, 2<<2 | 0:
		return Clockwise
	case 1<<2 | 0, 3<<2 | 1, 0<<2 | 2, 2<<2 | 3:
		return Anticlockwise
	default:
		return Invalid
	}
}

// Quadrature counts encoder slots from phase transitions. Update is called
// from interrupt context; readers only load atomics.
type Quadrature struct {
	maxSlots  uint32
	prev      atomic.Uint32
	direction atomic.Int32
	slots     atomic.Uint32
}

// NewQuadrature creates a decoder whose slot counter wraps at maxSlots
func NewQuadrature(maxSlots uint32) *Quadrature {
	if maxSlots == 0 {
		maxSlots = 1
	}
	return &Quadrature{maxSlots: maxSlots}
}

// Update classifies the new channel levels and moves the slot counter.
// Invalid transitions leave the counter untouched.
func (q *Quadrature) Update(a, b bool) Direction {
	next := PhaseOf(a, b)
	dir := Classify(Phase(q.prev.Load()), next)
	q.prev.Store(uint32(next))
	q.direction.Store(int32(dir))

	slots := q.slots.Load()
	switch dir {
	case Clockwise:
		slots++
		if slots >= q.maxSlots {
			slots = 0
		}
		q.slots.Store(slots)
	case Anticlockwise:
		if slots == 0 {
			slots = q.maxSlots
		}
		q.slots.Store(slots - 1)
	}

	return dir
}

// Slots returns the slot counter, in [0, MaxSlots)
func (q *Quadrature) Slots() uint32 {
	return q.slots.Load()
}

// MaxSlots returns the number of slots per revolution
func (q *Quadrature) MaxSlots() uint32 {
	return q.maxSlots
}

// Direction returns the classification of the most recent transition
func (q *Quadrature) Direction() Direction {
	return Direction(q.direction.Load())
}

// Phase returns the most recently observed phase
func (q *Quadrature) Phase() Phase {
	return Phase(q.prev.Load())
}

// Zero makes the current position the origin
func (q *Quadrature) Zero() {
	q.slots.Store(0)
}

// SetSlots moves the counter, wrapping into range
func (q *Quadrature) SetSlots(slots uint32) {
	q.slots.Store(slots % q.maxSlots)
}
