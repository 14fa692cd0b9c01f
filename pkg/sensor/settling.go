// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sensor

// NotSettled is returned by Settled while a signal has not settled
const NotSettled int32 = -1

// Settling tracks recent estimates of a signal and decides whether it has
// reached steady state. It is written and read from mainline only.
type Settling struct {
	ring   *Ring
	margin int32
}

// NewSettling creates a settling buffer of the given size. A signal is
// settled when its spread over a full buffer is within 2×margin.
func NewSettling(size int, margin int32) *Settling {
	return &Settling{ring: NewRing(size), margin: margin}
}

// Push records an estimate
func (s *Settling) Push(v int32) {
	s.ring.Write(v)
}

// Margin returns the configured margin
func (s *Settling) Margin() int32 {
	return s.margin
}

// IsSettled reports whether the buffer is full and max-min ≤ 2×margin
func (s *Settling) IsSettled() bool {
	return s.ring.Full() && s.ring.Range() <= 2*s.margin
}

// Settled returns the representative value min+margin, or NotSettled
func (s *Settling) Settled() int32 {
	if !s.IsSettled() {
		return NotSettled
	}
	return s.ring.Min() + s.margin
}

// IsSettledAround reports whether the signal has settled within ±margin of v
func (s *Settling) IsSettledAround(v int32) bool {
	if !s.IsSettled() {
		return false
	}
	diff := s.ring.Min() + s.margin - v
	return diff >= -s.margin && diff <= s.margin
}

// Reset discards the recorded history
func (s *Settling) Reset() {
	s.ring.Reset()
}
