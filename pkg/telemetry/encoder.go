// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"errors"
	"fmt"
)

// ErrPayloadTooLarge is returned when a message does not fit in one frame
var ErrPayloadTooLarge = errors.New("payload too large")

// Encode returns the wire bytes of f
func Encode(f *Frame) ([]byte, error) {
	return EncodeFrame(f.Type(), f.Fields())
}

// EncodeFrame builds a complete frame, including framing and stuffing
func EncodeFrame(msgType uint8, fields map[int]interface{}) ([]byte, error) {
	payload, err := encodeMessage(msgType, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR payload: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}

	data := make([]byte, 0, MaxFrameSize)
	data = append(data, uint8(len(payload)))
	data = append(data, payload...)
	crc := CRC(data)
	data = append(data, byte(crc>>8), byte(crc))

	stuffed := stuff(data)
	out := make([]byte, 0, len(stuffed)+2)
	out = append(out, StartByte)
	out = append(out, stuffed...)
	return append(out, EndByte), nil
}

// MustEncode is Encode for frames known to fit. It panics on error.
func MustEncode(f *Frame) []byte {
	data, err := Encode(f)
	if err != nil {
		panic(fmt.Sprintf("telemetry: encode error: %v", err))
	}
	return data
}

// stuff escapes framing bytes as ESC, byte^EscXor
func stuff(data []byte) []byte {
	out := make([]byte, 0, len(data)*2)
	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			out = append(out, EscByte, b^EscXor)
			continue
		}
		out = append(out, b)
	}
	return out
}

// Unstuff reverses byte stuffing
func Unstuff(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data))
	escaped := false
	for _, b := range data {
		switch {
		case escaped:
			out = append(out, b^EscXor)
			escaped = false
		case b == EscByte:
			escaped = true
		default:
			out = append(out, b)
		}
	}
	if escaped {
		return nil, fmt.Errorf("incomplete escape sequence at end of data")
	}
	return out, nil
}
