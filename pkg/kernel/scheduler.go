// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kernel

import (
	"context"
	"errors"
	"runtime"
	"sort"

	"github.com/rs/zerolog"
)

var (
	// ErrTableFull is returned when a task is registered past capacity
	ErrTableFull = errors.New("kernel: task table full")

	// ErrNotReady is returned when registering on a scheduler whose task
	// table could not be allocated
	ErrNotReady = errors.New("kernel: scheduler not ready")
)

// Scheduler runs at most one due task per pass, in ascending priority order
type Scheduler struct {
	clock     Clock
	frequency uint32
	capacity  int
	tasks     []*Task
	ready     bool

	lastTick uint32
	started  bool

	logger zerolog.Logger
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLogger sets the logger used for registration diagnostics
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// New creates a scheduler driven by clock at the given kernel frequency with
// room for capacity tasks. When the table cannot be allocated the scheduler
// is returned anyway but reports Ready() == false and never runs anything.
func New(clock Clock, frequency uint32, capacity int, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:     clock,
		frequency: frequency,
		capacity:  capacity,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if clock == nil || frequency == 0 || capacity <= 0 {
		s.logger.Error().
			Uint32("frequency", frequency).
			Int("capacity", capacity).
			Msg("task table allocation failed, scheduler disabled")
		return s
	}

	s.tasks = make([]*Task, 0, capacity)
	s.ready = true
	return s
}

// Ready reports whether the task table was allocated
func (s *Scheduler) Ready() bool {
	return s.ready
}

// Frequency returns the kernel tick frequency in Hz
func (s *Scheduler) Frequency() uint32 {
	return s.frequency
}

// Register adds a task to the table. A frequency above the kernel frequency
// is coerced to zero (run every pass). When the table is full the task is
// dropped and ErrTableFull returned; this is not fatal.
func (s *Scheduler) Register(task Task) error {
	if !s.ready {
		s.logger.Warn().Str("task", task.Name).Msg("dropping task, scheduler not ready")
		return ErrNotReady
	}
	if len(s.tasks) >= s.capacity {
		s.logger.Warn().
			Str("task", task.Name).
			Int("capacity", s.capacity).
			Msg("dropping task, table full")
		return ErrTableFull
	}

	if task.Frequency > s.frequency {
		s.logger.Warn().
			Str("task", task.Name).
			Uint32("frequency", task.Frequency).
			Uint32("kernel_frequency", s.frequency).
			Msg("task frequency above kernel frequency, running every pass")
		task.Frequency = 0
	}

	t := task
	s.tasks = append(s.tasks, &t)
	s.Prioritize()

	s.logger.Debug().
		Str("task", t.Name).
		Uint32("frequency", t.Frequency).
		Uint8("priority", t.Priority).
		Msg("task registered")
	return nil
}

// Prioritize sorts the table by ascending priority. Tasks of equal priority
// keep their registration order.
func (s *Scheduler) Prioritize() {
	sort.SliceStable(s.tasks, func(i, j int) bool {
		return s.tasks[i].Priority < s.tasks[j].Priority
	})
}

// RunOnce runs the first due task in priority order and reports whether a
// task ran. It returns immediately when the tick has not advanced since the
// previous call.
func (s *Scheduler) RunOnce() bool {
	if !s.ready {
		return false
	}

	now := s.clock.Now()
	if s.started && now == s.lastTick {
		return false
	}
	s.started = true
	s.lastTick = now

	for _, t := range s.tasks {
		delta := Delta(t.lastRun, now)
		if !s.due(t, delta) {
			continue
		}

		start := s.clock.Now()
		t.Run(t)
		end := s.clock.Now()

		t.period = Micros(delta, s.frequency)
		t.duration = Micros(Delta(start, end), s.frequency)
		t.lastRun = now
		t.runs++
		return true
	}

	return false
}

// due reports whether delta/kernelFrequency > 1/task.Frequency
func (s *Scheduler) due(t *Task, delta uint32) bool {
	if t.Frequency == 0 {
		return true
	}
	return uint64(delta)*uint64(t.Frequency) > uint64(s.frequency)
}

// Run calls RunOnce until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if !s.RunOnce() {
			runtime.Gosched()
		}
	}
}

// Tasks returns diagnostics for every registered task in priority order
func (s *Scheduler) Tasks() []TaskStats {
	stats := make([]TaskStats, 0, len(s.tasks))
	for _, t := range s.tasks {
		stats = append(stats, t.Stats())
	}
	return stats
}

// Utilization returns the summed CPU utilisation of all tasks, in percent
func (s *Scheduler) Utilization() float64 {
	total := 0.0
	for _, t := range s.tasks {
		total += t.Stats().Utilization()
	}
	return total
}
