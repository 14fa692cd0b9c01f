// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Helirig - flight-control core for a two-rotor test rig
//
// Runs the cooperative scheduler, estimators, controllers and flight-mode
// machine against a simulated plant, and monitors or commands a rig over
// its serial or WebSocket telemetry link.

package main

import (
	"os"

	"github.com/Thermoquad/helirig/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
