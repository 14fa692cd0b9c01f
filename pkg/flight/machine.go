// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flight

// Config holds the sequencing constants
type Config struct {
	// HoverAltitude is the intermediate height held before final descent
	HoverAltitude int32 `yaml:"hover_altitude"`

	// TakeOffMainDuty is the main duty held while searching for the yaw
	// reference
	TakeOffMainDuty int32 `yaml:"take_off_main_duty"`

	// ReferenceTailDuty spins the rig slowly to find the yaw reference
	ReferenceTailDuty int32 `yaml:"reference_tail_duty"`
}

// DefaultConfig returns the rig's sequencing constants
func DefaultConfig() Config {
	return Config{
		HoverAltitude:     5,
		TakeOffMainDuty:   0,
		ReferenceTailDuty: 20,
	}
}

// Inputs is the snapshot of predicates a transition is decided on
type Inputs struct {
	YawCalibrated      bool
	AltitudeCalibrated bool
	AltitudeBufferFull bool

	YawSettledAroundZero       bool
	AltitudeSettledAroundZero  bool
	AltitudeSettledAroundHover bool

	Altitude         int32 // percent
	YawSetpoint      int32
	AltitudeSetpoint int32
}

// Transition decides the next mode and the side effects of one flight-mode
// task run. It has no side effects of its own.
func Transition(mode Mode, in Inputs, cfg Config) (Mode, []Command) {
	switch mode {
	case TakeOff:
		return takeOff(in, cfg)
	case Landing:
		return landing(in, cfg)
	default:
		// Landed and InFlight only leave on an external trigger
		return mode, nil
	}
}

func takeOff(in Inputs, cfg Config) (Mode, []Command) {
	if in.YawCalibrated && in.AltitudeCalibrated {
		return InFlight, []Command{
			cmd(EnableYaw),
			cmd(EnableAltitude),
		}
	}

	cmds := []Command{
		cmdValue(ForceMainDuty, cfg.TakeOffMainDuty),
		cmdValue(ForceTailDuty, cfg.ReferenceTailDuty),
	}
	if in.AltitudeBufferFull && !in.AltitudeCalibrated {
		cmds = append(cmds, cmd(CalibrateAltitude))
	}
	return TakeOff, cmds
}

// landing turns to the yaw origin first, then descends through the hover
// altitude before touching down
func landing(in Inputs, cfg Config) (Mode, []Command) {
	if in.YawSetpoint != 0 || !in.YawSettledAroundZero {
		if in.YawSetpoint != 0 {
			return Landing, []Command{cmdValue(SetYawSetpoint, 0)}
		}
		return Landing, nil
	}

	if in.Altitude <= 0 || in.AltitudeSettledAroundZero {
		return Landed, []Command{
			cmd(DisableYaw),
			cmd(DisableAltitude),
			cmd(ResetYawCalibration),
			cmd(ResetAltitudeCalibration),
			cmdValue(SetYawSetpoint, 0),
			cmdValue(SetAltitudeSetpoint, 0),
		}
	}

	if in.AltitudeSettledAroundHover {
		if in.AltitudeSetpoint != 0 {
			return Landing, []Command{cmdValue(SetAltitudeSetpoint, 0)}
		}
		return Landing, nil
	}

	// A non-zero setpoint below hover is raised to hover too
	if (in.AltitudeSetpoint != 0 || in.Altitude > cfg.HoverAltitude) &&
		in.AltitudeSetpoint != cfg.HoverAltitude {
		return Landing, []Command{cmdValue(SetAltitudeSetpoint, cfg.HoverAltitude)}
	}

	return Landing, nil
}

// Machine tracks the current flight mode
type Machine struct {
	mode Mode
	cfg  Config
}

// NewMachine creates a machine in Landed
func NewMachine(cfg Config) *Machine {
	return &Machine{mode: Landed, cfg: cfg}
}

// Mode returns the current mode
func (m *Machine) Mode() Mode {
	return m.mode
}

// Config returns the sequencing constants
func (m *Machine) Config() Config {
	return m.cfg
}

// Advance handles the external mode-advance trigger. Only Landed and
// InFlight advance on request; the other modes finish on their own.
func (m *Machine) Advance() bool {
	switch m.mode {
	case Landed, InFlight:
		m.mode = m.mode.Next()
		return true
	}
	return false
}

// Step runs one transition and returns the commands to apply
func (m *Machine) Step(in Inputs) []Command {
	next, cmds := Transition(m.mode, in, m.cfg)
	m.mode = next
	return cmds
}

// Effects applies commands to the rig
type Effects interface {
	EnableAltitude(enabled bool)
	EnableYaw(enabled bool)
	CalibrateAltitude()
	ResetAltitudeCalibration()
	ResetYawCalibration()
	SetYawSetpoint(degrees int32)
	SetAltitudeSetpoint(percent int32)
	ForceMainDuty(percent int32)
	ForceTailDuty(percent int32)
}

// Apply executes commands in order
func Apply(cmds []Command, e Effects) {
	for _, c := range cmds {
		switch c.Kind {
		case EnableAltitude:
			e.EnableAltitude(true)
		case EnableYaw:
			e.EnableYaw(true)
		case DisableAltitude:
			e.EnableAltitude(false)
		case DisableYaw:
			e.EnableYaw(false)
		case CalibrateAltitude:
			e.CalibrateAltitude()
		case ResetAltitudeCalibration:
			e.ResetAltitudeCalibration()
		case ResetYawCalibration:
			e.ResetYawCalibration()
		case SetYawSetpoint:
			e.SetYawSetpoint(c.Value)
		case SetAltitudeSetpoint:
			e.SetAltitudeSetpoint(c.Value)
		case ForceMainDuty:
			e.ForceMainDuty(c.Value)
		case ForceTailDuty:
			e.ForceTailDuty(c.Value)
		}
	}
}
