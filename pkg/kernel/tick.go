// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package kernel provides the cooperative, tick-driven task scheduler of the
// rig together with the tick counter and the interrupt/mainline mutex.
//
// Exactly one task body runs per scheduler pass and every task runs to
// completion. Interrupt sources (the tick timer and the encoder edges) only
// touch shared scalars through their ISR entry points.
package kernel

import (
	"context"
	"sync/atomic"
	"time"
)

// Clock is a source of monotonic ticks
type Clock interface {
	Now() uint32
}

// TickCounter is the process tick counter. Tick is the timer ISR entry point,
// Now is the mainline reader.
type TickCounter struct {
	mu    Mutex
	ticks atomic.Uint32
}

// Tick advances the counter by one. Called from interrupt context only.
func (c *TickCounter) Tick() {
	c.mu.Lock()
	c.ticks.Add(1)
	c.mu.Unlock()
}

// Now returns the current tick count. Called from mainline only.
func (c *TickCounter) Now() uint32 {
	c.mu.Wait()
	return c.ticks.Load()
}

// Delta returns the number of ticks elapsed between two samples.
// Unsigned subtraction keeps the result correct across a single wrap.
func Delta(from, to uint32) uint32 {
	return to - from
}

// Micros converts a tick count to microseconds at the given kernel frequency
func Micros(ticks, frequency uint32) uint32 {
	if frequency == 0 {
		return 0
	}
	return uint32(uint64(ticks) * 1_000_000 / uint64(frequency))
}

// RunTimer emulates the hardware tick timer on a host. Each period it calls
// Tick on the counter followed by every chained ISR (for example an ADC
// trigger), until ctx is cancelled.
func RunTimer(ctx context.Context, counter *TickCounter, frequency uint32, isrs ...func()) {
	if frequency == 0 {
		return
	}

	ticker := time.NewTicker(time.Second / time.Duration(frequency))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counter.Tick()
			for _, isr := range isrs {
				isr()
			}
		}
	}
}
