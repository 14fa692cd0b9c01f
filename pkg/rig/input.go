// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rig

import (
	"github.com/Thermoquad/helirig/pkg/flight"
	"github.com/Thermoquad/helirig/pkg/kernel"
)

// EventKind identifies an operator event
type EventKind int

// Operator events
const (
	EventNudgeYaw EventKind = iota
	EventNudgeAltitude
	EventAdvance
	EventDirect
)

func (k EventKind) String() string {
	switch k {
	case EventNudgeYaw:
		return "NUDGE_YAW"
	case EventNudgeAltitude:
		return "NUDGE_ALTITUDE"
	case EventAdvance:
		return "ADVANCE"
	case EventDirect:
		return "DIRECT"
	default:
		return "UNKNOWN"
	}
}

// Event is a discrete operator input
type Event struct {
	Kind EventKind

	// Direction of a nudge, +1 or -1
	Direction int

	// Enabled selects direct control on or off for EventDirect
	Enabled bool
}

// Submit queues an operator event for the input task. It never blocks and
// returns false when the queue is full.
func (r *Rig) Submit(ev Event) bool {
	select {
	case r.events <- ev:
		return true
	default:
		r.logger.Warn().Str("event", ev.Kind.String()).Msg("input queue full, event dropped")
		return false
	}
}

// handleInput is the input task. It drains the events queued since its last
// run.
func (r *Rig) handleInput(_ *kernel.Task) {
	for i := 0; i < cap(r.events); i++ {
		select {
		case ev := <-r.events:
			r.apply(ev)
		default:
			return
		}
	}
}

func (r *Rig) apply(ev Event) {
	log := r.logger.Debug().Str("event", ev.Kind.String()).Int("direction", ev.Direction)

	switch ev.Kind {
	case EventAdvance:
		if r.direct {
			log.Msg("advance ignored in direct control")
			return
		}
		if r.Flight.Advance() {
			r.logger.Info().Str("mode", r.Flight.Mode().String()).Msg("mode advance requested")
			return
		}
		log.Str("mode", r.Flight.Mode().String()).Msg("advance ignored")

	case EventNudgeYaw:
		switch {
		case r.direct:
			r.Control.NudgeTailDuty(sign(ev.Direction), r.cfg.Direct.TailStep)
		case r.Flight.Mode() == flight.InFlight:
			r.Setpoints.NudgeYaw(ev.Direction)
		default:
			log.Msg("yaw nudge ignored outside flight")
		}

	case EventNudgeAltitude:
		switch {
		case r.direct:
			r.Control.NudgeMainDuty(sign(ev.Direction), r.cfg.Direct.MainStep)
		case r.Flight.Mode() == flight.InFlight:
			r.Setpoints.NudgeAltitude(ev.Direction)
		default:
			log.Msg("altitude nudge ignored outside flight")
		}

	case EventDirect:
		if r.Flight.Mode() != flight.Landed {
			log.Msg("direct control only switches while landed")
			return
		}
		r.setDirect(ev.Enabled)
	}
}

// setDirect switches direct duty control. Both controllers are disabled
// either way, which also zeroes the duties.
func (r *Rig) setDirect(enabled bool) {
	r.Control.EnableAltitude(false)
	r.Control.EnableYaw(false)
	if r.direct != enabled {
		r.logger.Info().Bool("enabled", enabled).Msg("direct control")
	}
	r.direct = enabled
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
