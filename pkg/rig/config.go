// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rig

import (
	"fmt"
	"os"

	"github.com/Thermoquad/helirig/pkg/control"
	"github.com/Thermoquad/helirig/pkg/flight"
	"github.com/Thermoquad/helirig/pkg/sensor"
	"gopkg.in/yaml.v3"
)

// Task names, in registration order
const (
	TaskAltitudeMean     = "altitude_mean"
	TaskControlAltitude  = "control_altitude"
	TaskControlYaw       = "control_yaw"
	TaskAltitudeSettling = "altitude_settling"
	TaskYawSettling      = "yaw_settling"
	TaskFlightMode       = "flight_mode"
	TaskInput            = "input"
	TaskTelemetry        = "telemetry"
)

// TaskNames lists every task of the rig in registration order
var TaskNames = []string{
	TaskAltitudeMean,
	TaskControlAltitude,
	TaskControlYaw,
	TaskAltitudeSettling,
	TaskYawSettling,
	TaskFlightMode,
	TaskInput,
	TaskTelemetry,
}

// KernelConfig sizes the scheduler
type KernelConfig struct {
	Frequency uint32 `yaml:"frequency"`
	MaxTasks  int    `yaml:"max_tasks"`
}

// TaskConfig sets the rate and priority of one task
type TaskConfig struct {
	Frequency uint32 `yaml:"frequency"`
	Priority  uint8  `yaml:"priority"`
}

// DirectConfig configures direct duty control
type DirectConfig struct {
	Enabled  bool    `yaml:"enabled"`
	MainStep float64 `yaml:"main_step"`
	TailStep float64 `yaml:"tail_step"`
}

// Config is the complete rig configuration
type Config struct {
	Kernel   KernelConfig          `yaml:"kernel"`
	Altitude sensor.AltitudeConfig `yaml:"altitude"`
	Yaw      sensor.YawConfig      `yaml:"yaw"`
	Control  control.SystemConfig  `yaml:"control"`
	Flight   flight.Config         `yaml:"flight"`
	Tasks    map[string]TaskConfig `yaml:"tasks"`
	Direct   DirectConfig          `yaml:"direct"`

	// InputQueue bounds pending operator events
	InputQueue int `yaml:"input_queue"`
}

// DefaultConfig returns the configuration of the bench rig
func DefaultConfig() Config {
	return Config{
		Kernel: KernelConfig{
			Frequency: 1000,
			MaxTasks:  len(TaskNames),
		},
		Altitude: sensor.DefaultAltitudeConfig(),
		Yaw:      sensor.DefaultYawConfig(),
		Control:  control.DefaultSystemConfig(),
		Flight:   flight.DefaultConfig(),
		Tasks: map[string]TaskConfig{
			TaskAltitudeMean:     {Frequency: 100, Priority: 0},
			TaskControlAltitude:  {Frequency: 50, Priority: 1},
			TaskControlYaw:       {Frequency: 50, Priority: 2},
			TaskAltitudeSettling: {Frequency: 20, Priority: 3},
			TaskYawSettling:      {Frequency: 20, Priority: 4},
			TaskFlightMode:       {Frequency: 20, Priority: 5},
			TaskInput:            {Frequency: 50, Priority: 6},
			TaskTelemetry:        {Frequency: 4, Priority: 7},
		},
		Direct: DirectConfig{
			MainStep: 1,
			TailStep: 1,
		},
		InputQueue: 16,
	}
}

// LoadConfig reads a YAML file over the defaults and validates the result.
// A task listed in the file replaces its default entry.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Marshal renders the configuration as YAML
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks the configuration for values the rig cannot run with
func (c Config) Validate() error {
	if c.Kernel.Frequency == 0 {
		return fmt.Errorf("kernel frequency must be positive")
	}
	if c.Altitude.BufferSize < 1 {
		return fmt.Errorf("altitude buffer size must be positive, got %d", c.Altitude.BufferSize)
	}
	if c.Altitude.FullScaleDelta == 0 {
		return fmt.Errorf("altitude full scale delta must be non-zero")
	}
	if c.Altitude.SettlingSize < 1 || c.Yaw.SettlingSize < 1 {
		return fmt.Errorf("settling sizes must be positive")
	}
	if c.Yaw.Teeth == 0 || c.Yaw.Phases == 0 {
		return fmt.Errorf("yaw encoder needs teeth and phases, got %d×%d", c.Yaw.Teeth, c.Yaw.Phases)
	}
	for name, axis := range map[string]control.Config{"altitude": c.Control.Altitude, "yaw": c.Control.Yaw} {
		if axis.Duty.Min > axis.Duty.Max {
			return fmt.Errorf("%s duty band inverted: [%v, %v]", name, axis.Duty.Min, axis.Duty.Max)
		}
		if axis.Duty.Min < 0 || axis.Duty.Max > 100 {
			return fmt.Errorf("%s duty band outside [0, 100]: [%v, %v]", name, axis.Duty.Min, axis.Duty.Max)
		}
		if axis.Variant != "" && axis.Variant != control.Positional && axis.Variant != control.Incremental {
			return fmt.Errorf("%s controller variant %q unknown", name, axis.Variant)
		}
	}
	if c.Flight.HoverAltitude < 0 || c.Flight.HoverAltitude > 100 {
		return fmt.Errorf("hover altitude outside [0, 100]: %d", c.Flight.HoverAltitude)
	}
	for name := range c.Tasks {
		if !knownTask(name) {
			return fmt.Errorf("unknown task %q", name)
		}
	}
	return nil
}

func knownTask(name string) bool {
	for _, n := range TaskNames {
		if n == name {
			return true
		}
	}
	return false
}
