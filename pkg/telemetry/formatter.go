// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Thermoquad/helirig/pkg/flight"
)

// FormatFrame renders a frame for logging
func FormatFrame(f *Frame) string {
	timestamp := f.timestamp.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s (0x%02X) len=%d\n", timestamp, FormatMessageType(f.Type()), f.Type(), len(f.payload))
	if err := f.ParseError(); err != nil {
		return result + fmt.Sprintf("  (parse error: %v)\n", err)
	}
	return result + FormatFields(f.Type(), f.Fields())
}

// FormatMessageType returns the name of a message type
func FormatMessageType(msgType uint8) string {
	switch msgType {
	case MsgAdvanceMode:
		return "ADVANCE_MODE"
	case MsgNudge:
		return "NUDGE"
	case MsgSetDirect:
		return "SET_DIRECT"
	case MsgPingRequest:
		return "PING_REQUEST"
	case MsgStatus:
		return "STATUS"
	case MsgTaskStats:
		return "TASK_STATS"
	case MsgPingResponse:
		return "PING_RESPONSE"
	case MsgErrorInvalidCmd:
		return "ERROR_INVALID_CMD"
	default:
		return "UNKNOWN"
	}
}

// FormatFields renders the payload of a message
func FormatFields(msgType uint8, m map[int]interface{}) string {
	switch msgType {
	case MsgAdvanceMode, MsgPingRequest:
		return "  (no payload)\n"

	case MsgNudge:
		axis, _ := GetUint(m, 0)
		dir, _ := GetInt(m, 1)
		return fmt.Sprintf("  Axis: %s, Direction: %+d\n", Axis(axis), dir)

	case MsgSetDirect:
		enabled, _ := GetBool(m, 0)
		return fmt.Sprintf("  Direct: %t\n", enabled)

	case MsgStatus:
		f := NewFrame(MsgStatus, m)
		s, err := ParseStatus(f)
		if err != nil {
			return fmt.Sprintf("  (%v)\n", err)
		}
		return fmt.Sprintf("  Tick: %d, Mode: %s, Yaw: %d°/%d°, Altitude: %d%%/%d%%, Main: %.1f%%, Tail: %.1f%%, Flags: %s\n",
			s.Tick, s.Mode, s.Yaw, s.YawSetpoint, s.Altitude, s.AltitudeSetpoint, s.MainDuty, s.TailDuty, FormatFlags(s.Flags))

	case MsgTaskStats:
		t, err := ParseTaskStat(NewFrame(MsgTaskStats, m))
		if err != nil {
			return fmt.Sprintf("  (%v)\n", err)
		}
		return fmt.Sprintf("  Task %d %s: %d Hz, prio %d, period %d µs, duration %d µs, runs %d, CPU %.2f%%\n",
			t.Index, t.Name, t.Frequency, t.Priority, t.Period, t.Duration, t.Runs, t.Utilization())

	case MsgPingResponse:
		p, err := ParsePing(NewFrame(MsgPingResponse, m))
		if err != nil {
			return fmt.Sprintf("  (%v)\n", err)
		}
		return fmt.Sprintf("  Uptime: %.3f s (%d ticks @ %d Hz)\n", p.Uptime(), p.UptimeTicks, p.KernelFrequency)

	case MsgErrorInvalidCmd:
		t, _ := GetUint(m, 0)
		return fmt.Sprintf("  Rejected: %s (0x%02X)\n", FormatMessageType(uint8(t)), t)

	default:
		return fmt.Sprintf("  Fields: %v\n", m)
	}
}

// FormatFlags lists the set STATUS flags, or "-" when none are set
func FormatFlags(f Flags) string {
	names := []struct {
		flag Flags
		name string
	}{
		{FlagYawCalibrated, "yaw-cal"},
		{FlagAltitudeCalibrated, "alt-cal"},
		{FlagYawEnabled, "yaw-ctl"},
		{FlagAltitudeEnabled, "alt-ctl"},
		{FlagDirect, "direct"},
	}
	var set []string
	for _, n := range names {
		if f.Has(n.flag) {
			set = append(set, n.name)
		}
	}
	if len(set) == 0 {
		return "-"
	}
	return strings.Join(set, ",")
}

// FormatStatusLine renders the tab-separated status line printed by the rig:
// yaw setpoint, yaw, altitude setpoint, altitude, main duty, tail duty, mode
func FormatStatusLine(s Status) string {
	return fmt.Sprintf("Y%d\ty%d\tA%d\ta%d\tm%d\tt%d\to%d\n",
		s.YawSetpoint, s.Yaw, s.AltitudeSetpoint, s.Altitude,
		Percent(s.MainDuty), Percent(s.TailDuty), int(s.Mode))
}

// FormatKernelLine renders one name,duration,period,frequency record per task
func FormatKernelLine(tasks []TaskStat) string {
	var b strings.Builder
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s,%d,%d,%d\t", t.Name, t.Duration, t.Period, t.Frequency)
	}
	b.WriteByte('\n')
	return b.String()
}

// ParseKernelLine reads a line produced by FormatKernelLine
func ParseKernelLine(line string) ([]TaskStat, error) {
	var tasks []TaskStat
	for i, rec := range strings.Split(strings.TrimRight(line, "\r\n"), "\t") {
		if rec == "" {
			continue
		}
		parts := strings.Split(rec, ",")
		if len(parts) != 4 {
			return nil, fmt.Errorf("record %d: expected 4 fields, got %d", i, len(parts))
		}
		var nums [3]uint32
		for j, p := range parts[1:] {
			v, err := strconv.ParseUint(p, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("record %d field %d: %w", i, j+1, err)
			}
			nums[j] = uint32(v)
		}
		tasks = append(tasks, TaskStat{
			Index:     uint8(len(tasks)),
			Name:      parts[0],
			Duration:  nums[0],
			Period:    nums[1],
			Frequency: nums[2],
		})
	}
	return tasks, nil
}

// ParseStatusLine reads a line produced by FormatStatusLine
func ParseStatusLine(line string) (Status, error) {
	var s Status
	var main, tail, mode int
	_, err := fmt.Sscanf(strings.TrimSpace(line), "Y%d\ty%d\tA%d\ta%d\tm%d\tt%d\to%d",
		&s.YawSetpoint, &s.Yaw, &s.AltitudeSetpoint, &s.Altitude, &main, &tail, &mode)
	if err != nil {
		return s, fmt.Errorf("malformed status line: %w", err)
	}
	s.MainDuty = float64(main)
	s.TailDuty = float64(tail)
	s.Mode = flight.Mode(mode)
	return s, nil
}
