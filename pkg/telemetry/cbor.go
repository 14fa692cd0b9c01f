// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ParseMessage decodes a CBOR message [msg_type, payload_map]. The map is
// nil for messages without fields.
func ParseMessage(data []byte) (uint8, map[int]interface{}, error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("empty CBOR payload")
	}

	var msg []interface{}
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return 0, nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	if len(msg) != 2 {
		return 0, nil, fmt.Errorf("expected 2-element array, got %d elements", len(msg))
	}

	t, ok := msg[0].(uint64)
	if !ok {
		return 0, nil, fmt.Errorf("expected uint for message type, got %T", msg[0])
	}
	if t > 255 {
		return 0, nil, fmt.Errorf("message type out of range: %d", t)
	}

	if msg[1] == nil {
		return uint8(t), nil, nil
	}

	raw, ok := msg[1].(map[interface{}]interface{})
	if !ok {
		return 0, nil, fmt.Errorf("expected map or nil for payload, got %T", msg[1])
	}
	fields := make(map[int]interface{}, len(raw))
	for key, val := range raw {
		switch k := key.(type) {
		case uint64:
			fields[int(k)] = val
		case int64:
			fields[int(k)] = val
		default:
			return 0, nil, fmt.Errorf("expected integer map key, got %T", key)
		}
	}
	return uint8(t), fields, nil
}

func encodeMessage(msgType uint8, fields map[int]interface{}) ([]byte, error) {
	var body interface{}
	if len(fields) > 0 {
		body = fields
	}
	return cbor.Marshal([]interface{}{uint64(msgType), body})
}

// GetUint extracts an unsigned integer field
func GetUint(m map[int]interface{}, key int) (uint64, bool) {
	switch v := m[key].(type) {
	case uint64:
		return v, true
	case int64:
		if v >= 0 {
			return uint64(v), true
		}
	case float64:
		if v >= 0 {
			return uint64(v), true
		}
	}
	return 0, false
}

// GetInt extracts a signed integer field
func GetInt(m map[int]interface{}, key int) (int64, bool) {
	switch v := m[key].(type) {
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// GetFloat extracts a numeric field as float64
func GetFloat(m map[int]interface{}, key int) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

// GetBool extracts a boolean field
func GetBool(m map[int]interface{}, key int) (bool, bool) {
	v, ok := m[key].(bool)
	return v, ok
}

// GetString extracts a text field
func GetString(m map[int]interface{}, key int) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}
