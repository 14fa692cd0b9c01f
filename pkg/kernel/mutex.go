// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kernel

import (
	"runtime"
	"sync/atomic"
)

// Mutex guards scalars shared between interrupt handlers and mainline code.
//
// Interrupt handlers call Lock and Unlock around their writes. Mainline code
// never locks; it calls Wait before reading, spinning while a handler is
// mid-update.
type Mutex struct {
	locked atomic.Bool
}

// Lock marks the guarded state as being written
func (m *Mutex) Lock() {
	m.locked.Store(true)
}

// Unlock releases the guard
func (m *Mutex) Unlock() {
	m.locked.Store(false)
}

// Wait spins until no handler holds the guard
func (m *Mutex) Wait() {
	for m.locked.Load() {
		runtime.Gosched()
	}
}

// Locked reports whether a handler currently holds the guard
func (m *Mutex) Locked() bool {
	return m.locked.Load()
}
