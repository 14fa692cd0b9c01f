// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Statistics tracks frame counts and error rates on a link
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	TotalFrames     uint64
	ValidFrames     uint64
	CRCErrors       uint64
	DecodeErrors    uint64
	MalformedFrames uint64
	AnomalousValues uint64
	InvalidDuty     uint64
	InvalidYaw      uint64
	InvalidAltitude uint64
	InvalidMode     uint64
	Overruns        uint64

	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a tracker starting now
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{StartTime: now, LastUpdateTime: now}
}

// Update records one frame, or one decode failure when decodeErr is set
func (s *Statistics) Update(decodeErr error, anomalies []ValidationError) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		if errors.Is(decodeErr, ErrCRCMismatch) {
			s.CRCErrors++
		} else {
			s.DecodeErrors++
		}
		return
	}

	if len(anomalies) == 0 {
		s.ValidFrames++
		return
	}

	for _, a := range anomalies {
		switch a.Type {
		case AnomalyMissingField, AnomalyDecodeError:
			s.MalformedFrames++
		case AnomalyInvalidDuty:
			s.InvalidDuty++
			s.AnomalousValues++
		case AnomalyInvalidYaw:
			s.InvalidYaw++
			s.AnomalousValues++
		case AnomalyInvalidAltitude:
			s.InvalidAltitude++
			s.AnomalousValues++
		case AnomalyInvalidMode:
			s.InvalidMode++
			s.AnomalousValues++
		case AnomalyOverrun:
			s.Overruns++
			s.AnomalousValues++
		}
	}
}

// Errors returns the number of failed or anomalous frames
func (s *Statistics) Errors() uint64 {
	return s.CRCErrors + s.DecodeErrors + s.MalformedFrames + s.AnomalousValues
}

// CalculateRates refreshes FrameRate and ErrorRate
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a summary table
func (s *Statistics) String() string {
	s.CalculateRates()

	pct := func(n uint64) float64 {
		if s.TotalFrames == 0 {
			return 0
		}
		return float64(n) * 100 / float64(s.TotalFrames)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Statistics (%.0f seconds) ===\n", time.Since(s.StartTime).Seconds())
	fmt.Fprintf(&b, "Total Frames:    %8d\n", s.TotalFrames)
	fmt.Fprintf(&b, "Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, pct(s.ValidFrames))
	if s.CRCErrors > 0 {
		fmt.Fprintf(&b, "CRC Errors:      %8d (%.1f%%)\n", s.CRCErrors, pct(s.CRCErrors))
	}
	if s.DecodeErrors > 0 {
		fmt.Fprintf(&b, "Decode Errors:   %8d (%.1f%%)\n", s.DecodeErrors, pct(s.DecodeErrors))
	}
	if s.MalformedFrames > 0 {
		fmt.Fprintf(&b, "Malformed:       %8d (%.1f%%)\n", s.MalformedFrames, pct(s.MalformedFrames))
	}
	if s.AnomalousValues > 0 {
		fmt.Fprintf(&b, "Anomalous Values:%8d (%.1f%%)\n", s.AnomalousValues, pct(s.AnomalousValues))
		for _, c := range []struct {
			name string
			n    uint64
		}{
			{"Invalid Duty", s.InvalidDuty},
			{"Invalid Yaw", s.InvalidYaw},
			{"Invalid Altitude", s.InvalidAltitude},
			{"Invalid Mode", s.InvalidMode},
			{"Overruns", s.Overruns},
		} {
			if c.n > 0 {
				fmt.Fprintf(&b, "  %-17s%5d\n", c.name+":", c.n)
			}
		}
	}
	fmt.Fprintf(&b, "Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	fmt.Fprintf(&b, "Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	b.WriteString("================================\n")
	return b.String()
}

// Reset clears all counters and restarts the clock
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}

// TaskSummary aggregates the TASK_STATS samples of one task
type TaskSummary struct {
	Name      string
	Priority  uint8
	Frequency uint32
	Samples   int

	MeanDuration   float64 // µs
	StdDevDuration float64 // µs
	MaxDuration    float64 // µs
	MeanPeriod     float64 // µs
	StdDevPeriod   float64 // µs

	// Utilization is the mean CPU share in percent
	Utilization float64
}

// TaskStatistics collects TASK_STATS samples per task
type TaskStatistics struct {
	tasks map[string]*taskSamples
}

type taskSamples struct {
	last      TaskStat
	durations []float64
	periods   []float64
}

// NewTaskStatistics creates an empty collector
func NewTaskStatistics() *TaskStatistics {
	return &TaskStatistics{tasks: make(map[string]*taskSamples)}
}

// Add records one sample. Samples of a task that has not run yet are
// skipped.
func (ts *TaskStatistics) Add(t TaskStat) {
	if t.Runs == 0 {
		return
	}
	s, ok := ts.tasks[t.Name]
	if !ok {
		s = &taskSamples{}
		ts.tasks[t.Name] = s
	}
	s.last = t
	s.durations = append(s.durations, float64(t.Duration))
	if t.Period > 0 {
		s.periods = append(s.periods, float64(t.Period))
	}
}

// Len returns the number of tasks seen
func (ts *TaskStatistics) Len() int {
	return len(ts.tasks)
}

// Summaries returns one summary per task ordered by priority then name
func (ts *TaskStatistics) Summaries() []TaskSummary {
	out := make([]TaskSummary, 0, len(ts.tasks))
	for name, s := range ts.tasks {
		sum := TaskSummary{
			Name:      name,
			Priority:  s.last.Priority,
			Frequency: s.last.Frequency,
			Samples:   len(s.durations),
		}
		sum.MeanDuration, sum.StdDevDuration = meanStdDev(s.durations)
		sum.MeanPeriod, sum.StdDevPeriod = meanStdDev(s.periods)
		for _, d := range s.durations {
			if d > sum.MaxDuration {
				sum.MaxDuration = d
			}
		}
		sum.Utilization = sum.MeanDuration * float64(sum.Frequency) / 10000
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Utilization returns the summed mean CPU share of all tasks
func (ts *TaskStatistics) Utilization() float64 {
	total := 0.0
	for _, s := range ts.Summaries() {
		total += s.Utilization
	}
	return total
}

func meanStdDev(x []float64) (float64, float64) {
	switch len(x) {
	case 0:
		return 0, 0
	case 1:
		return x[0], 0
	}
	return stat.MeanStdDev(x, nil)
}
