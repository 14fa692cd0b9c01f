// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package rig assembles the flight-control core: it owns the tick counter,
// the scheduler and its task table, the estimators, the setpoints, the
// controllers and the flight-mode machine, and wires operator input and
// telemetry to them.
package rig

import (
	"context"
	"fmt"

	"github.com/Thermoquad/helirig/pkg/control"
	"github.com/Thermoquad/helirig/pkg/flight"
	"github.com/Thermoquad/helirig/pkg/kernel"
	"github.com/Thermoquad/helirig/pkg/sensor"
	"github.com/Thermoquad/helirig/pkg/setpoint"
	"github.com/rs/zerolog"
)

// Sink receives telemetry snapshots from the telemetry task. Publish runs in
// mainline context and must not block.
type Sink interface {
	Publish(s Snapshot)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Snapshot)

// Publish calls f(s)
func (f SinkFunc) Publish(s Snapshot) { f(s) }

// Rig is the assembled flight-control core
type Rig struct {
	cfg Config

	Clock     *kernel.TickCounter
	Kernel    *kernel.Scheduler
	Altitude  *sensor.Altitude
	Yaw       *sensor.Yaw
	Setpoints *setpoint.Store
	Control   *control.System
	Flight    *flight.Machine

	actuator control.Actuator
	events   chan Event
	sinks    []Sink
	direct   bool

	logger zerolog.Logger
}

// Option configures a Rig
type Option func(*Rig)

// WithLogger sets the logger shared by the rig and its components
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Rig) {
		r.logger = logger
	}
}

// WithSink adds a telemetry sink
func WithSink(sink Sink) Option {
	return func(r *Rig) {
		r.sinks = append(r.sinks, sink)
	}
}

// New builds the rig and registers its task table. The returned rig may
// still report Ready() == false when the scheduler could not be set up; it
// then never runs a task.
func New(cfg Config, act control.Actuator, opts ...Option) (*Rig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rig config: %w", err)
	}

	r := &Rig{
		cfg:       cfg,
		Clock:     &kernel.TickCounter{},
		Altitude:  sensor.NewAltitude(cfg.Altitude),
		Yaw:       sensor.NewYaw(cfg.Yaw),
		Setpoints: setpoint.New(),
		Flight:    flight.NewMachine(cfg.Flight),
		actuator:  act,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	queue := cfg.InputQueue
	if queue < 1 {
		queue = 1
	}
	r.events = make(chan Event, queue)

	r.Kernel = kernel.New(r.Clock, cfg.Kernel.Frequency, cfg.Kernel.MaxTasks,
		kernel.WithLogger(r.logger.With().Str("component", "kernel").Logger()))
	r.Control = control.NewSystem(cfg.Control, act, r.Altitude, r.Yaw, r.Setpoints,
		control.WithLogger(r.logger.With().Str("component", "control").Logger()))

	r.registerTasks()

	if cfg.Direct.Enabled {
		r.setDirect(true)
	}

	r.logger.Info().
		Uint32("kernel_frequency", cfg.Kernel.Frequency).
		Int("tasks", len(r.Kernel.Tasks())).
		Bool("ready", r.Kernel.Ready()).
		Msg("rig initialised")

	return r, nil
}

// registerTasks builds the task table from the configuration and sorts it
func (r *Rig) registerTasks() {
	bodies := map[string]kernel.TaskFunc{
		TaskAltitudeMean:     r.Altitude.UpdateMean,
		TaskControlAltitude:  r.Control.UpdateAltitude,
		TaskControlYaw:       r.Control.UpdateYaw,
		TaskAltitudeSettling: r.Altitude.UpdateSettling,
		TaskYawSettling:      r.Yaw.UpdateSettling,
		TaskFlightMode:       r.updateFlightMode,
		TaskInput:            r.handleInput,
		TaskTelemetry:        r.publishTelemetry,
	}

	for _, name := range TaskNames {
		tc, ok := r.cfg.Tasks[name]
		if !ok {
			tc = DefaultConfig().Tasks[name]
		}
		// Failures are logged by the scheduler and are not fatal
		_ = r.Kernel.Register(kernel.Task{
			Name:      name,
			Run:       bodies[name],
			Frequency: tc.Frequency,
			Priority:  tc.Priority,
		})
	}
	r.Kernel.Prioritize()
}

// AddSink adds a telemetry sink. It must be called before Run.
func (r *Rig) AddSink(sink Sink) {
	r.sinks = append(r.sinks, sink)
}

// Config returns the configuration the rig was built with
func (r *Rig) Config() Config {
	return r.cfg
}

// Ready reports whether the scheduler can run tasks
func (r *Rig) Ready() bool {
	return r.Kernel.Ready()
}

// Actuator returns the actuator driver the rig writes to
func (r *Rig) Actuator() control.Actuator {
	return r.actuator
}

// Run runs the scheduler until ctx is cancelled
func (r *Rig) Run(ctx context.Context) {
	if !r.Ready() {
		r.logger.Error().Msg("scheduler not ready, holding safe idle")
		<-ctx.Done()
		return
	}
	r.Kernel.Run(ctx)
}

// Direct reports whether duties are controlled directly by the operator
func (r *Rig) Direct() bool {
	return r.direct
}

// updateFlightMode is the flight-mode task
func (r *Rig) updateFlightMode(_ *kernel.Task) {
	if r.direct {
		return
	}

	before := r.Flight.Mode()
	cmds := r.Flight.Step(r.flightInputs())
	flight.Apply(cmds, effects{r})

	if after := r.Flight.Mode(); after != before {
		r.logger.Info().
			Str("from", before.String()).
			Str("to", after.String()).
			Msg("flight mode changed")
	}
}

// flightInputs samples the predicates the transition function needs
func (r *Rig) flightInputs() flight.Inputs {
	hover := r.cfg.Flight.HoverAltitude
	return flight.Inputs{
		YawCalibrated:              r.Yaw.IsCalibrated(),
		AltitudeCalibrated:         r.Altitude.IsCalibrated(),
		AltitudeBufferFull:         r.Altitude.IsBufferFull(),
		YawSettledAroundZero:       r.Yaw.IsSettledAround(0),
		AltitudeSettledAroundZero:  r.Altitude.IsSettledAround(0),
		AltitudeSettledAroundHover: r.Altitude.IsSettledAround(hover),
		Altitude:                   r.Altitude.Percent(),
		YawSetpoint:                r.Setpoints.Yaw(),
		AltitudeSetpoint:           r.Setpoints.Altitude(),
	}
}

// publishTelemetry is the telemetry task
func (r *Rig) publishTelemetry(_ *kernel.Task) {
	if len(r.sinks) == 0 {
		return
	}
	snap := r.Snapshot()
	for _, sink := range r.sinks {
		sink.Publish(snap)
	}
}

// effects applies flight-mode commands to the rig's components
type effects struct {
	r *Rig
}

func (e effects) EnableAltitude(enabled bool)    { e.r.Control.EnableAltitude(enabled) }
func (e effects) EnableYaw(enabled bool)         { e.r.Control.EnableYaw(enabled) }
func (e effects) CalibrateAltitude()             { e.r.Altitude.Calibrate() }
func (e effects) ResetAltitudeCalibration()      { e.r.Altitude.ResetCalibration() }
func (e effects) ResetYawCalibration()           { e.r.Yaw.ResetCalibration() }
func (e effects) SetYawSetpoint(degrees int32)   { e.r.Setpoints.SetYaw(degrees) }
func (e effects) SetAltitudeSetpoint(pct int32)  { e.r.Setpoints.SetAltitude(pct) }
func (e effects) ForceMainDuty(percent int32)    { e.r.Control.ForceMainDuty(float64(percent)) }
func (e effects) ForceTailDuty(percent int32)    { e.r.Control.ForceTailDuty(float64(percent)) }
