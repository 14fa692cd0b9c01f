// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package setpoint holds the desired yaw and altitude of the rig
package setpoint

// Step sizes for operator nudges
const (
	YawStep      = 15 // degrees
	AltitudeStep = 10 // percent

	MaxAltitude = 100
)

// Store holds the desired heading and height. It is mutated from mainline
// only, by input handling and the flight-mode task; never by the controllers.
type Store struct {
	yaw      int32
	altitude int32
}

// New returns a store with both setpoints at zero
func New() *Store {
	return &Store{}
}

// Yaw returns the desired heading in [0, 360)
func (s *Store) Yaw() int32 {
	return s.yaw
}

// Altitude returns the desired height in percent, [0, 100]
func (s *Store) Altitude() int32 {
	return s.altitude
}

// SetYaw sets the desired heading, wrapping into [0, 360)
func (s *Store) SetYaw(degrees int32) {
	degrees %= 360
	if degrees < 0 {
		degrees += 360
	}
	s.yaw = degrees
}

// SetAltitude sets the desired height, clamped to [0, MaxAltitude]
func (s *Store) SetAltitude(percent int32) {
	switch {
	case percent < 0:
		percent = 0
	case percent > MaxAltitude:
		percent = MaxAltitude
	}
	s.altitude = percent
}

// NudgeYaw moves the heading one step; positive direction is clockwise
func (s *Store) NudgeYaw(direction int) {
	s.SetYaw(s.yaw + int32(sign(direction))*YawStep)
}

// NudgeAltitude moves the height one step up or down
func (s *Store) NudgeAltitude(direction int) {
	s.SetAltitude(s.altitude + int32(sign(direction))*AltitudeStep)
}

// Reset zeroes both setpoints
func (s *Store) Reset() {
	s.yaw = 0
	s.altitude = 0
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
