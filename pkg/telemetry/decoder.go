// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"errors"
	"fmt"
	"time"
)

// ErrCRCMismatch is returned for frames whose checksum does not match
var ErrCRCMismatch = errors.New("CRC mismatch")

// Decoder reassembles frames from a byte stream
type Decoder struct {
	state   int
	buffer  []byte // length + payload, for the CRC
	length  int
	crc     uint16
	escaped bool
	raw     []byte
}

// NewDecoder creates a decoder waiting for a START byte
func NewDecoder() *Decoder {
	return &Decoder{
		buffer: make([]byte, 0, MaxFrameSize),
		raw:    make([]byte, 0, MaxFrameSize*2),
	}
}

// Reset drops any partial frame
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.buffer = d.buffer[:0]
	d.length = 0
	d.crc = 0
	d.escaped = false
	d.raw = d.raw[:0]
}

// RawBytes returns the wire bytes of the frame in progress
func (d *Decoder) RawBytes() []byte {
	return d.raw
}

// DecodeByte feeds one byte. It returns a frame when one completes, and an
// error when the byte ends a corrupt frame.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	d.raw = append(d.raw, b)

	if !d.escaped {
		switch b {
		case EscByte:
			d.escaped = true
			return nil, nil
		case StartByte:
			d.Reset()
			d.raw = append(d.raw, b)
			d.state = stateLength
			return nil, nil
		case EndByte:
			return d.finish()
		}
	} else {
		b ^= EscXor
		d.escaped = false
	}

	switch d.state {
	case stateIdle:
		return nil, nil

	case stateLength:
		if b > MaxPayloadSize {
			d.Reset()
			return nil, fmt.Errorf("invalid length: %d (max %d)", b, MaxPayloadSize)
		}
		d.length = int(b)
		d.buffer = append(d.buffer, b)
		if d.length == 0 {
			d.state = stateCRC1
		} else {
			d.state = statePayload
		}

	case statePayload:
		d.buffer = append(d.buffer, b)
		if len(d.buffer) == 1+d.length {
			d.state = stateCRC1
		}

	case stateCRC1:
		d.crc = uint16(b) << 8
		d.state = stateCRC2

	case stateCRC2:
		d.crc |= uint16(b)
		d.state = stateEnd

	case stateEnd:
		d.Reset()
		return nil, fmt.Errorf("unexpected byte 0x%02X after CRC", b)
	}
	return nil, nil
}

func (d *Decoder) finish() (*Frame, error) {
	defer d.Reset()

	if d.state != stateEnd {
		return nil, fmt.Errorf("unexpected END byte in state %d", d.state)
	}
	if want := CRC(d.buffer); want != d.crc {
		return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrCRCMismatch, want, d.crc)
	}

	payload := make([]byte, d.length)
	copy(payload, d.buffer[1:])
	return &Frame{payload: payload, crc: d.crc, timestamp: time.Now()}, nil
}

// Decode decodes every complete frame in data. Decode errors are returned
// alongside the frames that decoded cleanly.
func Decode(data []byte) ([]*Frame, []error) {
	d := NewDecoder()
	var frames []*Frame
	var errs []error
	for _, b := range data {
		f, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
	return frames, errs
}
