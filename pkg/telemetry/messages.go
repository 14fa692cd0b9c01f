// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"fmt"
	"math"

	"github.com/Thermoquad/helirig/pkg/flight"
)

// Status is the payload of a STATUS frame
type Status struct {
	Tick             uint32
	Mode             flight.Mode
	YawSetpoint      int32
	Yaw              int32
	AltitudeSetpoint int32
	Altitude         int32
	MainDuty         float64
	TailDuty         float64
	Flags            Flags
}

// Frame builds the STATUS frame for s
func (s Status) Frame() *Frame {
	return NewFrame(MsgStatus, map[int]interface{}{
		0: uint64(s.Tick),
		1: uint64(s.Mode),
		2: int64(s.YawSetpoint),
		3: int64(s.Yaw),
		4: int64(s.AltitudeSetpoint),
		5: int64(s.Altitude),
		6: s.MainDuty,
		7: s.TailDuty,
		8: uint64(s.Flags),
	})
}

// ParseStatus reads a STATUS frame
func ParseStatus(f *Frame) (Status, error) {
	if err := expect(f, MsgStatus); err != nil {
		return Status{}, err
	}
	m := f.Fields()

	var s Status
	tick, ok1 := GetUint(m, 0)
	mode, ok2 := GetUint(m, 1)
	yawSp, ok3 := GetInt(m, 2)
	yaw, ok4 := GetInt(m, 3)
	altSp, ok5 := GetInt(m, 4)
	alt, ok6 := GetInt(m, 5)
	main, ok7 := GetFloat(m, 6)
	tail, ok8 := GetFloat(m, 7)
	flags, ok9 := GetUint(m, 8)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7 && ok8 && ok9) {
		return s, fmt.Errorf("STATUS frame missing fields")
	}

	s = Status{
		Tick:             uint32(tick),
		Mode:             flight.Mode(mode),
		YawSetpoint:      int32(yawSp),
		Yaw:              int32(yaw),
		AltitudeSetpoint: int32(altSp),
		Altitude:         int32(alt),
		MainDuty:         main,
		TailDuty:         tail,
		Flags:            Flags(flags),
	}
	return s, nil
}

// TaskStat is the payload of a TASK_STATS frame
type TaskStat struct {
	Index     uint8
	Name      string
	Frequency uint32
	Priority  uint8
	Period    uint32 // µs
	Duration  uint32 // µs
	Runs      uint64
}

// Utilization returns the task's CPU share in percent
func (t TaskStat) Utilization() float64 {
	return float64(t.Duration) * float64(t.Frequency) / 10000
}

// Frame builds the TASK_STATS frame for t
func (t TaskStat) Frame() *Frame {
	return NewFrame(MsgTaskStats, map[int]interface{}{
		0: uint64(t.Index),
		1: t.Name,
		2: uint64(t.Frequency),
		3: uint64(t.Priority),
		4: uint64(t.Period),
		5: uint64(t.Duration),
		6: t.Runs,
	})
}

// ParseTaskStat reads a TASK_STATS frame
func ParseTaskStat(f *Frame) (TaskStat, error) {
	if err := expect(f, MsgTaskStats); err != nil {
		return TaskStat{}, err
	}
	m := f.Fields()

	index, ok1 := GetUint(m, 0)
	name, ok2 := GetString(m, 1)
	freq, ok3 := GetUint(m, 2)
	prio, ok4 := GetUint(m, 3)
	period, ok5 := GetUint(m, 4)
	duration, ok6 := GetUint(m, 5)
	runs, ok7 := GetUint(m, 6)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
		return TaskStat{}, fmt.Errorf("TASK_STATS frame missing fields")
	}

	return TaskStat{
		Index:     uint8(index),
		Name:      name,
		Frequency: uint32(freq),
		Priority:  uint8(prio),
		Period:    uint32(period),
		Duration:  uint32(duration),
		Runs:      runs,
	}, nil
}

// Ping is the payload of a PING_RESPONSE frame
type Ping struct {
	UptimeTicks     uint32
	KernelFrequency uint32
}

// Uptime converts the tick count to seconds
func (p Ping) Uptime() float64 {
	if p.KernelFrequency == 0 {
		return 0
	}
	return float64(p.UptimeTicks) / float64(p.KernelFrequency)
}

// NewPingResponse creates a PING_RESPONSE frame (0x3F)
func NewPingResponse(uptimeTicks, kernelFrequency uint32) *Frame {
	return NewFrame(MsgPingResponse, map[int]interface{}{
		0: uint64(uptimeTicks),
		1: uint64(kernelFrequency),
	})
}

// ParsePing reads a PING_RESPONSE frame
func ParsePing(f *Frame) (Ping, error) {
	if err := expect(f, MsgPingResponse); err != nil {
		return Ping{}, err
	}
	uptime, ok1 := GetUint(f.Fields(), 0)
	freq, ok2 := GetUint(f.Fields(), 1)
	if !ok1 || !ok2 {
		return Ping{}, fmt.Errorf("PING_RESPONSE frame missing fields")
	}
	return Ping{UptimeTicks: uint32(uptime), KernelFrequency: uint32(freq)}, nil
}

// NewAdvanceMode creates an ADVANCE_MODE frame (0x20)
func NewAdvanceMode() *Frame {
	return NewFrame(MsgAdvanceMode, nil)
}

// NewNudge creates a NUDGE frame (0x21). Direction is reduced to its sign.
func NewNudge(axis Axis, direction int) *Frame {
	dir := int64(0)
	switch {
	case direction > 0:
		dir = 1
	case direction < 0:
		dir = -1
	}
	return NewFrame(MsgNudge, map[int]interface{}{
		0: uint64(axis),
		1: dir,
	})
}

// NewSetDirect creates a SET_DIRECT frame (0x22)
func NewSetDirect(enabled bool) *Frame {
	return NewFrame(MsgSetDirect, map[int]interface{}{0: enabled})
}

// NewPingRequest creates a PING_REQUEST frame (0x2F)
func NewPingRequest() *Frame {
	return NewFrame(MsgPingRequest, nil)
}

// NewInvalidCommand creates an ERROR_INVALID_CMD frame naming the rejected
// message type
func NewInvalidCommand(msgType uint8) *Frame {
	return NewFrame(MsgErrorInvalidCmd, map[int]interface{}{0: uint64(msgType)})
}

// ParseNudge reads a NUDGE frame
func ParseNudge(f *Frame) (Axis, int, error) {
	if err := expect(f, MsgNudge); err != nil {
		return 0, 0, err
	}
	axis, ok1 := GetUint(f.Fields(), 0)
	dir, ok2 := GetInt(f.Fields(), 1)
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("NUDGE frame missing fields")
	}
	if Axis(axis) != AxisYaw && Axis(axis) != AxisAltitude {
		return 0, 0, fmt.Errorf("NUDGE axis %d unknown", axis)
	}
	return Axis(axis), int(dir), nil
}

// ParseSetDirect reads a SET_DIRECT frame
func ParseSetDirect(f *Frame) (bool, error) {
	if err := expect(f, MsgSetDirect); err != nil {
		return false, err
	}
	enabled, ok := GetBool(f.Fields(), 0)
	if !ok {
		return false, fmt.Errorf("SET_DIRECT frame missing fields")
	}
	return enabled, nil
}

func expect(f *Frame, msgType uint8) error {
	if err := f.ParseError(); err != nil {
		return err
	}
	if f.Type() != msgType {
		return fmt.Errorf("expected %s, got %s", FormatMessageType(msgType), FormatMessageType(f.Type()))
	}
	return nil
}

// Percent rounds a duty for the text status line
func Percent(duty float64) int {
	return int(math.Round(duty))
}
