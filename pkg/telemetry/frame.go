// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import "time"

// Frame is one decoded or outgoing message
type Frame struct {
	payload   []byte // raw CBOR: [msg_type, payload_map]
	crc       uint16
	timestamp time.Time

	// parsed lazily from payload
	msgType  uint8
	fields   map[int]interface{}
	parsed   bool
	parseErr error
}

// NewFrame builds an outgoing frame from a message type and its fields
func NewFrame(msgType uint8, fields map[int]interface{}) *Frame {
	return &Frame{
		msgType:   msgType,
		fields:    fields,
		parsed:    true,
		timestamp: time.Now(),
	}
}

func (f *Frame) parse() {
	if f.parsed {
		return
	}
	f.parsed = true
	f.msgType, f.fields, f.parseErr = ParseMessage(f.payload)
}

// Type returns the message type
func (f *Frame) Type() uint8 {
	f.parse()
	return f.msgType
}

// Fields returns the decoded payload map, nil when the message has none
func (f *Frame) Fields() map[int]interface{} {
	f.parse()
	return f.fields
}

// ParseError returns the error from decoding the CBOR payload, if any
func (f *Frame) ParseError() error {
	f.parse()
	return f.parseErr
}

// Payload returns the raw CBOR bytes of a decoded frame
func (f *Frame) Payload() []byte {
	return f.payload
}

// CRC returns the checksum carried by a decoded frame
func (f *Frame) CRC() uint16 {
	return f.crc
}

// Timestamp returns when the frame was decoded or built
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}
