// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sensor implements the altitude and yaw estimators: the moving
// average over raw ADC samples, quadrature decoding of the yaw encoder, the
// reference calibration of both axes and settling detection.
package sensor

import "sync/atomic"

// Ring is a fixed-capacity ring buffer with a single producer.
//
// Slots are atomics so an interrupt handler may write while a task reads;
// a reader can observe a mix of old and new samples but never a torn value.
type Ring struct {
	slots  []atomic.Int32
	writes atomic.Uint64
}

// NewRing creates a ring holding capacity samples. Capacity is fixed for the
// lifetime of the ring.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{slots: make([]atomic.Int32, capacity)}
}

// Cap returns the ring capacity
func (r *Ring) Cap() int {
	return len(r.slots)
}

// Write stores v, overwriting the oldest sample once full
func (r *Ring) Write(v int32) {
	n := r.writes.Load()
	r.slots[n%uint64(len(r.slots))].Store(v)
	r.writes.Store(n + 1)
}

// Len returns the number of valid samples
func (r *Ring) Len() int {
	n := r.writes.Load()
	if n > uint64(len(r.slots)) {
		return len(r.slots)
	}
	return int(n)
}

// Full reports whether every slot holds a sample
func (r *Ring) Full() bool {
	return r.writes.Load() >= uint64(len(r.slots))
}

// Reset discards all samples
func (r *Ring) Reset() {
	r.writes.Store(0)
	for i := range r.slots {
		r.slots[i].Store(0)
	}
}

// Mean returns the rounded integer mean over the whole buffer,
// (2·sum + N) / (2·N). It is only meaningful once the ring is full.
func (r *Ring) Mean() int32 {
	n := int64(len(r.slots))
	var sum int64
	for i := range r.slots {
		sum += int64(r.slots[i].Load())
	}
	return int32((2*sum + n) / (2 * n))
}

// Min returns the smallest valid sample, or 0 when empty
func (r *Ring) Min() int32 {
	n := r.Len()
	if n == 0 {
		return 0
	}
	lowest := r.slots[0].Load()
	for i := 1; i < n; i++ {
		if v := r.slots[i].Load(); v < lowest {
			lowest = v
		}
	}
	return lowest
}

// Max returns the largest valid sample, or 0 when empty
func (r *Ring) Max() int32 {
	n := r.Len()
	if n == 0 {
		return 0
	}
	highest := r.slots[0].Load()
	for i := 1; i < n; i++ {
		if v := r.slots[i].Load(); v > highest {
			highest = v
		}
	}
	return highest
}

// Range returns Max() - Min()
func (r *Ring) Range() int32 {
	return r.Max() - r.Min()
}
