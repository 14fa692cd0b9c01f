// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kernel

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

// ============================================================
// Test Helpers
// ============================================================

// manualClock is a Clock advanced explicitly by the test
type manualClock struct {
	now uint32
}

func (c *manualClock) Now() uint32 { return c.now }

func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

func newFuzzRng(t *testing.T) *rand.Rand {
	seed := time.Now().UnixNano()
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if s, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			seed = s
		}
	}
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// ============================================================
// Tick Tests
// ============================================================

func TestDelta_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		from, to uint32
		expected uint32
	}{
		{"no wrap", 100, 250, 150},
		{"same tick", 42, 42, 0},
		{"wrap by one", math.MaxUint32, 0, 1},
		{"wrap across boundary", math.MaxUint32 - 9, 10, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Delta(tt.from, tt.to); got != tt.expected {
				t.Errorf("Delta(%d, %d) = %d, expected %d", tt.from, tt.to, got, tt.expected)
			}
		})
	}
}

func TestDelta_Wraparound(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		from := rng.Uint32()
		elapsed := rng.Uint32()
		to := from + elapsed // may wrap, at most once

		if got := Delta(from, to); got != elapsed {
			t.Fatalf("round %d: Delta(%d, %d) = %d, expected %d", i, from, to, got, elapsed)
		}
	}
}

func TestMicros(t *testing.T) {
	tests := []struct {
		ticks, frequency, expected uint32
	}{
		{1, 1000, 1000},
		{3, 100, 30000},
		{0, 1000, 0},
		{5, 0, 0},
		{4_000_000, 1_000_000, 4_000_000},
	}

	for _, tt := range tests {
		if got := Micros(tt.ticks, tt.frequency); got != tt.expected {
			t.Errorf("Micros(%d, %d) = %d, expected %d", tt.ticks, tt.frequency, got, tt.expected)
		}
	}
}

func TestTickCounter_Concurrent(t *testing.T) {
	var counter TickCounter
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			counter.Tick()
		}
	}()

	<-done
	if got := counter.Now(); got != 1000 {
		t.Errorf("expected 1000 ticks, got %d", got)
	}
}

func TestRunTimer_ChainsISRs(t *testing.T) {
	var counter TickCounter
	var chained atomic.Int32

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		RunTimer(ctx, &counter, 1000, func() { chained.Add(1) })
		close(finished)
	}()

	deadline := time.After(2 * time.Second)
	for counter.Now() < 5 {
		select {
		case <-deadline:
			cancel()
			t.Fatal("timer did not tick within deadline")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	cancel()
	<-finished

	if chained.Load() == 0 {
		t.Error("chained ISR was never called")
	}
	if int64(chained.Load()) != int64(counter.Now()) {
		t.Errorf("chained ISR calls (%d) should match ticks (%d)", chained.Load(), counter.Now())
	}
}

// ============================================================
// Mutex Tests
// ============================================================

func TestMutex_LockUnlock(t *testing.T) {
	var m Mutex
	if m.Locked() {
		t.Fatal("zero mutex should be unlocked")
	}
	m.Lock()
	if !m.Locked() {
		t.Fatal("expected locked after Lock")
	}
	m.Unlock()
	if m.Locked() {
		t.Fatal("expected unlocked after Unlock")
	}
	m.Wait() // must not spin when unlocked
}

func TestMutex_WaitReleasedByHandler(t *testing.T) {
	var m Mutex
	m.Lock()

	released := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		m.Unlock()
		close(released)
	}()

	m.Wait()
	select {
	case <-released:
	default:
		t.Fatal("Wait returned before the handler unlocked")
	}
}

// ============================================================
// Scheduler Tests
// ============================================================

func TestScheduler_NotReady(t *testing.T) {
	tests := []struct {
		name      string
		clock     Clock
		frequency uint32
		capacity  int
	}{
		{"zero frequency", &manualClock{}, 0, 4},
		{"zero capacity", &manualClock{}, 1000, 0},
		{"nil clock", nil, 1000, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.clock, tt.frequency, tt.capacity)
			if s.Ready() {
				t.Fatal("expected scheduler not ready")
			}

			ran := false
			err := s.Register(Task{Name: "late", Run: func(*Task) { ran = true }})
			if !errors.Is(err, ErrNotReady) {
				t.Errorf("expected ErrNotReady, got %v", err)
			}
			if s.RunOnce() || ran {
				t.Error("a scheduler that is not ready must never run a task")
			}
		})
	}
}

func TestScheduler_TableFull(t *testing.T) {
	s := New(&manualClock{}, 1000, 2)
	noop := func(*Task) {}

	if err := s.Register(Task{Name: "a", Run: noop}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Register(Task{Name: "b", Run: noop}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Register(Task{Name: "c", Run: noop}); !errors.Is(err, ErrTableFull) {
		t.Fatalf("expected ErrTableFull, got %v", err)
	}

	if got := len(s.Tasks()); got != 2 {
		t.Errorf("expected 2 tasks, got %d", got)
	}
}

func TestScheduler_FrequencyCoerced(t *testing.T) {
	s := New(&manualClock{}, 100, 4)
	if err := s.Register(Task{Name: "fast", Run: func(*Task) {}, Frequency: 200}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.Tasks()[0].Frequency; got != 0 {
		t.Errorf("expected frequency coerced to 0, got %d", got)
	}
}

func TestScheduler_SameTickIsNoop(t *testing.T) {
	clock := &manualClock{now: 5}
	s := New(clock, 1000, 4)
	runs := 0
	s.Register(Task{Name: "every", Run: func(*Task) { runs++ }})

	if !s.RunOnce() {
		t.Fatal("expected the task to run on the first pass")
	}
	if s.RunOnce() {
		t.Fatal("expected no run while the tick is unchanged")
	}
	clock.now++
	if !s.RunOnce() {
		t.Fatal("expected a run once the tick advanced")
	}
	if runs != 2 {
		t.Errorf("expected 2 runs, got %d", runs)
	}
}

func TestScheduler_PriorityOrder(t *testing.T) {
	clock := &manualClock{}
	s := New(clock, 100, 4)

	var order []string
	record := func(t *Task) { order = append(order, t.Name) }

	// Registered out of order on purpose
	s.Register(Task{Name: "T2", Run: record, Frequency: 10, Priority: 5})
	s.Register(Task{Name: "T1", Run: record, Frequency: 10, Priority: 1})

	clock.now = 20 // both due
	s.RunOnce()
	if len(order) != 1 || order[0] != "T1" {
		t.Fatalf("expected T1 alone in the first pass, got %v", order)
	}

	clock.now = 21 // T1 not due again yet, T2 still due
	s.RunOnce()
	if len(order) != 2 || order[1] != "T2" {
		t.Fatalf("expected T2 in the second pass, got %v", order)
	}
}

func TestScheduler_EqualPriorityKeepsRegistrationOrder(t *testing.T) {
	s := New(&manualClock{}, 100, 4)
	noop := func(*Task) {}
	s.Register(Task{Name: "first", Run: noop, Priority: 3})
	s.Register(Task{Name: "second", Run: noop, Priority: 3})
	s.Register(Task{Name: "urgent", Run: noop, Priority: 0})
	s.Prioritize()

	names := []string{}
	for _, ts := range s.Tasks() {
		names = append(names, ts.Name)
	}
	expected := []string{"urgent", "first", "second"}
	for i := range expected {
		if names[i] != expected[i] {
			t.Fatalf("expected order %v, got %v", expected, names)
		}
	}
}

func TestScheduler_DueMonotonicity(t *testing.T) {
	tests := []struct {
		kernel, task uint32
	}{
		{1000, 100},
		{1000, 7},
		{100, 100},
		{2000, 333},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(int(tt.task))+"Hz", func(t *testing.T) {
			clock := &manualClock{}
			s := New(clock, tt.kernel, 1)
			var runTicks []uint32
			s.Register(Task{Name: "periodic", Frequency: tt.task, Run: func(*Task) {
				runTicks = append(runTicks, clock.now)
			}})

			for i := 0; i < int(tt.kernel)*2; i++ {
				clock.now++
				s.RunOnce()
			}

			if len(runTicks) < 2 {
				t.Fatalf("expected several runs, got %d", len(runTicks))
			}
			minGap := tt.kernel / tt.task
			for i := 1; i < len(runTicks); i++ {
				gap := Delta(runTicks[i-1], runTicks[i])
				if gap < minGap {
					t.Fatalf("run %d only %d ticks after previous, expected at least %d", i, gap, minGap)
				}
			}
		})
	}
}

func TestScheduler_ZeroFrequencyRunsEveryAdvancedPass(t *testing.T) {
	clock := &manualClock{}
	s := New(clock, 1000, 1)
	runs := 0
	s.Register(Task{Name: "every", Run: func(*Task) { runs++ }})

	for i := 0; i < 50; i++ {
		clock.now++
		s.RunOnce()
		s.RunOnce() // same tick, ignored
	}
	if runs != 50 {
		t.Errorf("expected 50 runs, got %d", runs)
	}
}

func TestScheduler_Timing(t *testing.T) {
	clock := &manualClock{}
	s := New(clock, 1000, 1)

	var seenPeriod uint32
	s.Register(Task{Name: "slow", Frequency: 100, Run: func(task *Task) {
		seenPeriod = task.Period()
		clock.now += 2 // execution spans two ticks
	}})

	clock.now = 11
	if !s.RunOnce() {
		t.Fatal("expected task to run at tick 11")
	}
	stats := s.Tasks()[0]
	if stats.Duration != 2000 {
		t.Errorf("expected duration 2000µs, got %d", stats.Duration)
	}
	if stats.Period != 11000 {
		t.Errorf("expected period 11000µs, got %d", stats.Period)
	}
	if seenPeriod != 0 {
		t.Errorf("task should see the previous period (0) during its first run, got %d", seenPeriod)
	}

	// Last run is the sampled tick 11, not the end tick 13
	clock.now = 22
	if !s.RunOnce() {
		t.Error("expected task due 11 ticks after the sampled tick")
	}
	if got := s.Tasks()[0].Runs; got != 2 {
		t.Errorf("expected 2 runs, got %d", got)
	}
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	var counter TickCounter
	s := New(&counter, 1000, 1)
	var runs atomic.Int32
	s.Register(Task{Name: "every", Run: func(*Task) { runs.Add(1) }})

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(finished)
	}()

	for i := 0; i < 10; i++ {
		counter.Tick()
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if runs.Load() == 0 {
		t.Error("expected at least one run")
	}
}

func TestUtilization(t *testing.T) {
	stats := TaskStats{Duration: 100, Frequency: 50}
	if got := stats.Utilization(); got != 0.5 {
		t.Errorf("expected 0.5%%, got %v", got)
	}

	clock := &manualClock{}
	s := New(clock, 1000, 2)
	s.Register(Task{Name: "a", Frequency: 100, Run: func(*Task) { clock.now++ }})
	clock.now = 11
	s.RunOnce()
	// 1 tick at 1kHz = 1000µs, at 100Hz = 10%
	if got := s.Utilization(); got != 10 {
		t.Errorf("expected 10%% utilisation, got %v", got)
	}
}
