// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kernel

// TaskFunc is a task body. It receives its own descriptor so it can read the
// timing the scheduler recorded for it.
type TaskFunc func(t *Task)

// Task is a periodic job owned by the scheduler
type Task struct {
	Name string
	Run  TaskFunc

	// Frequency in Hz. Zero runs the task on every scheduler pass.
	Frequency uint32

	// Priority orders the scan, lower values are considered first
	Priority uint8

	lastRun  uint32
	period   uint32 // µs between the last two runs
	duration uint32 // µs spent in the last run
	runs     uint64
}

// Period returns the observed time between the last two runs in microseconds
func (t *Task) Period() uint32 {
	return t.period
}

// Duration returns the execution time of the last run in microseconds
func (t *Task) Duration() uint32 {
	return t.duration
}

// Runs returns how many times the task has run
func (t *Task) Runs() uint64 {
	return t.runs
}

// TaskStats is a read-only copy of a task's diagnostics
type TaskStats struct {
	Name      string
	Frequency uint32
	Priority  uint8
	Period    uint32 // µs
	Duration  uint32 // µs
	Runs      uint64
}

// Stats returns the task's current diagnostics
func (t *Task) Stats() TaskStats {
	return TaskStats{
		Name:      t.Name,
		Frequency: t.Frequency,
		Priority:  t.Priority,
		Period:    t.period,
		Duration:  t.duration,
		Runs:      t.runs,
	}
}

// Utilization returns the share of CPU time the task consumes, in percent.
// A task running every pass has no fixed rate and reports zero.
func (s TaskStats) Utilization() float64 {
	return float64(s.Duration) * float64(s.Frequency) / 10000
}
