// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package telemetry implements the rig's serial link protocol.
//
// Frames carry a CBOR message [msg_type, payload_map] between a START and an
// END byte, byte-stuffed and protected by a CRC-16-CCITT over the length and
// payload. The rig streams STATUS and TASK_STATS frames and accepts mode,
// nudge and ping commands from the host.
package telemetry

// Framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Frame size limits
const (
	MaxPayloadSize = 120
	MaxFrameSize   = 1 + MaxPayloadSize + 2 // length + payload + CRC
)

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Message types - Commands (host → rig) 0x20-0x2F
const (
	MsgAdvanceMode = 0x20
	MsgNudge       = 0x21
	MsgSetDirect   = 0x22
	MsgPingRequest = 0x2F
)

// Message types - Telemetry (rig → host) 0x30-0x3F
const (
	MsgStatus       = 0x30
	MsgTaskStats    = 0x31
	MsgPingResponse = 0x3F
)

// Message types - Errors 0xE0-0xEF
const (
	MsgErrorInvalidCmd = 0xE0
)

// Decoder states
const (
	stateIdle = iota
	stateLength
	statePayload
	stateCRC1
	stateCRC2
	stateEnd
)

// Axis selects the setpoint a NUDGE command moves
type Axis int

// Nudge axes
const (
	AxisYaw      Axis = 0
	AxisAltitude Axis = 1
)

func (a Axis) String() string {
	switch a {
	case AxisYaw:
		return "yaw"
	case AxisAltitude:
		return "altitude"
	default:
		return "unknown"
	}
}

// Flags is the STATUS bit field
type Flags uint8

// Status flag bits
const (
	FlagYawCalibrated Flags = 1 << iota
	FlagAltitudeCalibrated
	FlagYawEnabled
	FlagAltitudeEnabled
	FlagDirect
)

// Has reports whether every bit of f2 is set
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}
