// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/helirig/pkg/flight"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/go-cmp/cmp"
)

// ============================================================
// Test Helpers
// ============================================================

func newFuzzRng(t *testing.T) *rand.Rand {
	seed := time.Now().UnixNano()
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if s, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			seed = s
		}
	}
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// decodeOne feeds wire bytes through a decoder and expects exactly one frame
func decodeOne(t *testing.T, data []byte) *Frame {
	t.Helper()
	frames, errs := Decode(data)
	if len(errs) != 0 {
		t.Fatalf("unexpected decode errors: %v", errs)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	return frames[0]
}

func sampleStatus() Status {
	return Status{
		Tick:             123456,
		Mode:             flight.InFlight,
		YawSetpoint:      90,
		Yaw:              350,
		AltitudeSetpoint: 40,
		Altitude:         -2,
		MainDuty:         42.5,
		TailDuty:         60,
		Flags:            FlagYawCalibrated | FlagAltitudeCalibrated | FlagYawEnabled | FlagAltitudeEnabled,
	}
}

// ============================================================
// CRC Tests
// ============================================================

func TestCRC_Empty(t *testing.T) {
	if crc := CRC(nil); crc != crcInitial {
		t.Errorf("CRC of empty data should be the initial value, got 0x%04X", crc)
	}
}

func TestCRC_CheckValue(t *testing.T) {
	if crc := CRC([]byte("123456789")); crc != 0x29B1 {
		t.Errorf("expected CRC-16-CCITT check value 0x29B1, got 0x%04X", crc)
	}
}

// ============================================================
// CBOR Tests
// ============================================================

func TestParseMessage_Errors(t *testing.T) {
	mustMarshal := func(v interface{}) []byte {
		data, err := cbor.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not cbor", []byte{0xFF, 0xFF}},
		{"wrong arity", mustMarshal([]interface{}{uint64(1)})},
		{"type not uint", mustMarshal([]interface{}{"x", nil})},
		{"type out of range", mustMarshal([]interface{}{uint64(300), nil})},
		{"payload not map", mustMarshal([]interface{}{uint64(1), "x"})},
		{"string key", mustMarshal([]interface{}{uint64(1), map[string]int{"a": 1}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseMessage(tt.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestGetHelpers(t *testing.T) {
	m := map[int]interface{}{
		0: uint64(7),
		1: int64(-3),
		2: 2.5,
		3: true,
		4: "name",
	}

	if v, ok := GetUint(m, 0); !ok || v != 7 {
		t.Errorf("GetUint: got %d %v", v, ok)
	}
	if _, ok := GetUint(m, 1); ok {
		t.Error("GetUint must reject negative values")
	}
	if v, ok := GetInt(m, 1); !ok || v != -3 {
		t.Errorf("GetInt: got %d %v", v, ok)
	}
	if v, ok := GetFloat(m, 2); !ok || v != 2.5 {
		t.Errorf("GetFloat: got %v %v", v, ok)
	}
	if v, ok := GetFloat(m, 0); !ok || v != 7 {
		t.Errorf("GetFloat of uint: got %v %v", v, ok)
	}
	if v, ok := GetBool(m, 3); !ok || !v {
		t.Errorf("GetBool: got %v %v", v, ok)
	}
	if v, ok := GetString(m, 4); !ok || v != "name" {
		t.Errorf("GetString: got %q %v", v, ok)
	}
	if _, ok := GetUint(nil, 0); ok {
		t.Error("nil map should miss")
	}
	if _, ok := GetString(m, 0); ok {
		t.Error("GetString must reject numbers")
	}
}

// ============================================================
// Stuffing Tests
// ============================================================

func TestStuff(t *testing.T) {
	tests := []struct {
		name     string
		in       []byte
		expected []byte
	}{
		{"plain", []byte{0x01, 0x02}, []byte{0x01, 0x02}},
		{"start", []byte{StartByte}, []byte{EscByte, StartByte ^ EscXor}},
		{"end", []byte{EndByte}, []byte{EscByte, EndByte ^ EscXor}},
		{"escape", []byte{EscByte}, []byte{EscByte, EscByte ^ EscXor}},
		{"consecutive", []byte{StartByte, EndByte, EscByte}, []byte{
			EscByte, StartByte ^ EscXor, EscByte, EndByte ^ EscXor, EscByte, EscByte ^ EscXor,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stuff(tt.in)
			if !bytes.Equal(got, tt.expected) {
				t.Errorf("expected % X, got % X", tt.expected, got)
			}
			back, err := Unstuff(got)
			if err != nil || !bytes.Equal(back, tt.in) {
				t.Errorf("unstuff: expected % X, got % X (%v)", tt.in, back, err)
			}
		})
	}
}

func TestUnstuff_IncompleteEscape(t *testing.T) {
	if _, err := Unstuff([]byte{0x01, EscByte}); err == nil {
		t.Error("expected error for trailing escape")
	}
}

func TestStuff_NoFramingBytesSurvive(t *testing.T) {
	rng := newFuzzRng(t)
	for round := 0; round < getFuzzRounds(); round++ {
		data := make([]byte, rng.Intn(64))
		rng.Read(data)
		for _, b := range stuff(data) {
			if b == StartByte || b == EndByte {
				t.Fatalf("round %d: framing byte 0x%02X in stuffed output of % X", round, b, data)
			}
		}
	}
}

// ============================================================
// Encoder / Decoder Tests
// ============================================================

func TestEncodeFrame_Layout(t *testing.T) {
	data, err := EncodeFrame(MsgPingRequest, nil)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if data[0] != StartByte || data[len(data)-1] != EndByte {
		t.Fatalf("frame not delimited: % X", data)
	}

	body, err := Unstuff(data[1 : len(data)-1])
	if err != nil {
		t.Fatal(err)
	}
	length := int(body[0])
	if len(body) != 1+length+2 {
		t.Fatalf("expected %d body bytes, got %d", 1+length+2, len(body))
	}
	crc := uint16(body[len(body)-2])<<8 | uint16(body[len(body)-1])
	if want := CRC(body[:1+length]); crc != want {
		t.Errorf("CRC must cover length and payload: expected 0x%04X, got 0x%04X", want, crc)
	}
}

func TestEncodeDecode_Commands(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
		check func(t *testing.T, f *Frame)
	}{
		{"advance", NewAdvanceMode(), func(t *testing.T, f *Frame) {
			if f.Fields() != nil {
				t.Errorf("expected no fields, got %v", f.Fields())
			}
		}},
		{"ping", NewPingRequest(), nil},
		{"nudge", NewNudge(AxisAltitude, -7), func(t *testing.T, f *Frame) {
			axis, dir, err := ParseNudge(f)
			if err != nil || axis != AxisAltitude || dir != -1 {
				t.Errorf("got axis %v dir %d err %v", axis, dir, err)
			}
		}},
		{"direct", NewSetDirect(true), func(t *testing.T, f *Frame) {
			on, err := ParseSetDirect(f)
			if err != nil || !on {
				t.Errorf("got %v %v", on, err)
			}
		}},
		{"invalid", NewInvalidCommand(0x99), func(t *testing.T, f *Frame) {
			if v, _ := GetUint(f.Fields(), 0); v != 0x99 {
				t.Errorf("expected rejected type 0x99, got 0x%02X", v)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := decodeOne(t, MustEncode(tt.frame))
			if f.Type() != tt.frame.Type() {
				t.Fatalf("expected type 0x%02X, got 0x%02X", tt.frame.Type(), f.Type())
			}
			if tt.check != nil {
				tt.check(t, f)
			}
		})
	}
}

func TestEncodeDecode_Status(t *testing.T) {
	want := sampleStatus()
	f := decodeOne(t, MustEncode(want.Frame()))

	got, err := ParseStatus(f)
	if err != nil {
		t.Fatalf("ParseStatus failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeDecode_TaskStat(t *testing.T) {
	want := TaskStat{Index: 3, Name: "altitude_settling", Frequency: 20, Priority: 3, Period: 50000, Duration: 12, Runs: 99}
	f := decodeOne(t, MustEncode(want.Frame()))

	got, err := ParseTaskStat(f)
	if err != nil {
		t.Fatalf("ParseTaskStat failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("task stat mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeDecode_Ping(t *testing.T) {
	f := decodeOne(t, MustEncode(NewPingResponse(2500, 1000)))
	p, err := ParsePing(f)
	if err != nil {
		t.Fatal(err)
	}
	if p.UptimeTicks != 2500 || p.KernelFrequency != 1000 || p.Uptime() != 2.5 {
		t.Errorf("unexpected ping %+v", p)
	}
}

func TestParse_WrongType(t *testing.T) {
	if _, err := ParseStatus(NewPingRequest()); err == nil {
		t.Error("expected error parsing PING_REQUEST as STATUS")
	}
	if _, _, err := ParseNudge(NewFrame(MsgNudge, map[int]interface{}{0: uint64(5), 1: int64(1)})); err == nil {
		t.Error("expected error for unknown axis")
	}
}

func TestEncodeFrame_PayloadTooLarge(t *testing.T) {
	_, err := EncodeFrame(MsgTaskStats, map[int]interface{}{1: strings.Repeat("x", MaxPayloadSize)})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestDecoder_CRCMismatch(t *testing.T) {
	data := MustEncode(NewAdvanceMode())
	// corrupt the low CRC byte, which is never a framing byte after xor 1
	data[len(data)-2] ^= 0x01
	if data[len(data)-2] == StartByte || data[len(data)-2] == EndByte || data[len(data)-2] == EscByte {
		t.Skip("corruption produced a framing byte")
	}

	_, errs := Decode(data)
	if len(errs) != 1 || !errors.Is(errs[0], ErrCRCMismatch) {
		t.Errorf("expected one CRC mismatch, got %v", errs)
	}
}

func TestDecoder_InvalidLength(t *testing.T) {
	d := NewDecoder()
	d.DecodeByte(StartByte)
	if _, err := d.DecodeByte(MaxPayloadSize + 1); err == nil {
		t.Error("expected error for oversized length")
	}
}

func TestDecoder_UnexpectedEnd(t *testing.T) {
	d := NewDecoder()
	d.DecodeByte(StartByte)
	d.DecodeByte(0x05)
	if _, err := d.DecodeByte(EndByte); err == nil {
		t.Error("expected error for truncated frame")
	}
}

func TestDecoder_StartResyncs(t *testing.T) {
	frame := MustEncode(NewPingRequest())
	stream := append([]byte{StartByte, 0x03, 0x01}, frame...)

	f := decodeOne(t, stream)
	if f.Type() != MsgPingRequest {
		t.Errorf("expected PING_REQUEST after resync, got %s", FormatMessageType(f.Type()))
	}
}

func TestDecoder_IgnoresNoiseBetweenFrames(t *testing.T) {
	var stream []byte
	stream = append(stream, 0x01, 0x02)
	stream = append(stream, MustEncode(NewAdvanceMode())...)
	stream = append(stream, 0x33)
	stream = append(stream, MustEncode(sampleStatus().Frame())...)

	frames, errs := Decode(stream)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(frames) != 2 || frames[0].Type() != MsgAdvanceMode || frames[1].Type() != MsgStatus {
		t.Fatalf("unexpected frames %v", frames)
	}
}

func TestDecoder_RawBytes(t *testing.T) {
	d := NewDecoder()
	d.DecodeByte(StartByte)
	d.DecodeByte(0x02)
	if !bytes.Equal(d.RawBytes(), []byte{StartByte, 0x02}) {
		t.Errorf("unexpected raw bytes % X", d.RawBytes())
	}
	d.Reset()
	if len(d.RawBytes()) != 0 {
		t.Error("reset should clear raw bytes")
	}
}

func TestEncodeDecode_StatusFuzz(t *testing.T) {
	rng := newFuzzRng(t)
	for round := 0; round < getFuzzRounds(); round++ {
		want := Status{
			Tick:             rng.Uint32(),
			Mode:             flight.Mode(rng.Intn(4)),
			YawSetpoint:      int32(rng.Intn(360)),
			Yaw:              int32(rng.Intn(360)),
			AltitudeSetpoint: int32(rng.Intn(101)),
			Altitude:         int32(rng.Intn(201) - 50),
			MainDuty:         rng.Float64() * 100,
			TailDuty:         rng.Float64() * 100,
			Flags:            Flags(rng.Intn(32)),
		}
		f := decodeOne(t, MustEncode(want.Frame()))
		got, err := ParseStatus(f)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		if got != want {
			t.Fatalf("round %d: expected %+v, got %+v", round, want, got)
		}
		if anomalies := ValidateFrame(f); len(anomalies) != 0 {
			t.Fatalf("round %d: valid status flagged: %v", round, anomalies)
		}
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatMessageType(t *testing.T) {
	tests := map[uint8]string{
		MsgAdvanceMode:     "ADVANCE_MODE",
		MsgNudge:           "NUDGE",
		MsgSetDirect:       "SET_DIRECT",
		MsgPingRequest:     "PING_REQUEST",
		MsgStatus:          "STATUS",
		MsgTaskStats:       "TASK_STATS",
		MsgPingResponse:    "PING_RESPONSE",
		MsgErrorInvalidCmd: "ERROR_INVALID_CMD",
		0x99:               "UNKNOWN",
	}
	for msgType, want := range tests {
		if got := FormatMessageType(msgType); got != want {
			t.Errorf("0x%02X: expected %s, got %s", msgType, want, got)
		}
	}
}

func TestFormatFrame(t *testing.T) {
	f := decodeOne(t, MustEncode(sampleStatus().Frame()))
	out := FormatFrame(f)

	for _, want := range []string{"STATUS (0x30)", "Mode: IN_FLIGHT", "Yaw: 350°/90°", "Main: 42.5%", "yaw-cal,alt-cal,yaw-ctl,alt-ctl"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
}

func TestFormatStatusLine(t *testing.T) {
	line := FormatStatusLine(sampleStatus())
	expected := "Y90\ty350\tA40\ta-2\tm43\tt60\to2\n"
	if line != expected {
		t.Errorf("expected %q, got %q", expected, line)
	}

	back, err := ParseStatusLine(line)
	if err != nil {
		t.Fatalf("ParseStatusLine failed: %v", err)
	}
	if back.Yaw != 350 || back.Altitude != -2 || back.MainDuty != 43 || back.Mode != flight.InFlight {
		t.Errorf("unexpected parsed status %+v", back)
	}
}

func TestFormatKernelLine_RoundTrip(t *testing.T) {
	tasks := []TaskStat{
		{Index: 0, Name: "altitude_mean", Duration: 4, Period: 11000, Frequency: 100},
		{Index: 1, Name: "control_altitude", Duration: 9, Period: 21000, Frequency: 50},
	}
	line := FormatKernelLine(tasks)
	if line != "altitude_mean,4,11000,100\tcontrol_altitude,9,21000,50\t\n" {
		t.Errorf("unexpected kernel line %q", line)
	}

	back, err := ParseKernelLine(line)
	if err != nil {
		t.Fatalf("ParseKernelLine failed: %v", err)
	}
	if diff := cmp.Diff(tasks, back); diff != "" {
		t.Errorf("kernel line mismatch (-want +got):\n%s", diff)
	}
}

func TestParseKernelLine_Errors(t *testing.T) {
	for _, line := range []string{"a,1,2\t\n", "a,x,2,3\t\n"} {
		if _, err := ParseKernelLine(line); err == nil {
			t.Errorf("expected error for %q", line)
		}
	}
}

// ============================================================
// Validator Tests
// ============================================================

func countAnomalies(errs []ValidationError, kind AnomalyType) int {
	n := 0
	for _, e := range errs {
		if e.Type == kind {
			n++
		}
	}
	return n
}

func TestValidateFrame_Status(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Status)
		kind   AnomalyType
	}{
		{"main duty high", func(s *Status) { s.MainDuty = 101 }, AnomalyInvalidDuty},
		{"tail duty negative", func(s *Status) { s.TailDuty = -1 }, AnomalyInvalidDuty},
		{"yaw 360", func(s *Status) { s.Yaw = 360 }, AnomalyInvalidYaw},
		{"yaw setpoint negative", func(s *Status) { s.YawSetpoint = -15 }, AnomalyInvalidYaw},
		{"altitude high", func(s *Status) { s.Altitude = 151 }, AnomalyInvalidAltitude},
		{"altitude setpoint high", func(s *Status) { s.AltitudeSetpoint = 110 }, AnomalyInvalidAltitude},
		{"mode", func(s *Status) { s.Mode = flight.Mode(7) }, AnomalyInvalidMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sampleStatus()
			tt.mutate(&s)
			errs := ValidateFrame(decodeOne(t, MustEncode(s.Frame())))
			if len(errs) != 1 || countAnomalies(errs, tt.kind) != 1 {
				t.Errorf("expected one %v anomaly, got %v", tt.kind, errs)
			}
		})
	}
}

func TestValidateFrame_MissingFields(t *testing.T) {
	f := NewFrame(MsgStatus, map[int]interface{}{0: uint64(1)})
	errs := ValidateFrame(f)
	if countAnomalies(errs, AnomalyMissingField) != 1 {
		t.Errorf("expected missing-field anomaly, got %v", errs)
	}
}

func TestValidateFrame_Overrun(t *testing.T) {
	f := TaskStat{Name: "input", Frequency: 50, Period: 20000, Duration: 25000, Runs: 1}.Frame()
	errs := ValidateFrame(f)
	if countAnomalies(errs, AnomalyOverrun) != 1 {
		t.Errorf("expected overrun anomaly, got %v", errs)
	}
	if errs[0].Error() == "" {
		t.Error("validation error should carry a message")
	}
}

func TestValidateFrame_Commands(t *testing.T) {
	for _, f := range []*Frame{NewAdvanceMode(), NewPingRequest(), NewNudge(AxisYaw, 1)} {
		if errs := ValidateFrame(f); len(errs) != 0 {
			t.Errorf("%s: unexpected anomalies %v", FormatMessageType(f.Type()), errs)
		}
	}
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()

	s.Update(nil, nil)
	s.Update(errors.Join(ErrCRCMismatch), nil)
	s.Update(errors.New("unexpected END byte"), nil)
	s.Update(nil, []ValidationError{{Type: AnomalyInvalidDuty}, {Type: AnomalyInvalidMode}})
	s.Update(nil, []ValidationError{{Type: AnomalyMissingField}})

	if s.TotalFrames != 5 || s.ValidFrames != 1 {
		t.Errorf("expected 5 total 1 valid, got %d/%d", s.TotalFrames, s.ValidFrames)
	}
	if s.CRCErrors != 1 || s.DecodeErrors != 1 {
		t.Errorf("expected 1 CRC and 1 decode error, got %d/%d", s.CRCErrors, s.DecodeErrors)
	}
	if s.AnomalousValues != 2 || s.InvalidDuty != 1 || s.InvalidMode != 1 || s.MalformedFrames != 1 {
		t.Errorf("unexpected anomaly counters %+v", s)
	}
	if s.Errors() != 5 {
		t.Errorf("expected 5 errors, got %d", s.Errors())
	}

	out := s.String()
	for _, want := range []string{"Total Frames:", "CRC Errors:", "Invalid Duty:"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}

	s.Reset()
	if s.TotalFrames != 0 || s.Errors() != 0 {
		t.Error("reset should clear counters")
	}
}

func TestTaskStatistics(t *testing.T) {
	ts := NewTaskStatistics()
	for _, d := range []uint32{10, 20, 30} {
		ts.Add(TaskStat{Name: "control_yaw", Priority: 2, Frequency: 50, Period: 20000, Duration: d, Runs: 1})
	}
	ts.Add(TaskStat{Name: "altitude_mean", Priority: 0, Frequency: 100, Period: 10000, Duration: 5, Runs: 1})
	ts.Add(TaskStat{Name: "telemetry", Priority: 7, Frequency: 4})

	if ts.Len() != 2 {
		t.Fatalf("tasks that never ran should be skipped, got %d tasks", ts.Len())
	}

	sums := ts.Summaries()
	if sums[0].Name != "altitude_mean" || sums[1].Name != "control_yaw" {
		t.Fatalf("summaries not ordered by priority: %+v", sums)
	}

	yaw := sums[1]
	if yaw.Samples != 3 || yaw.MeanDuration != 20 || yaw.MaxDuration != 30 {
		t.Errorf("unexpected summary %+v", yaw)
	}
	if math.Abs(yaw.StdDevDuration-10) > 1e-9 {
		t.Errorf("expected sample std-dev 10, got %v", yaw.StdDevDuration)
	}
	if yaw.Utilization != 0.1 {
		t.Errorf("expected 0.1%% utilisation, got %v", yaw.Utilization)
	}
	if sums[0].StdDevDuration != 0 {
		t.Error("a single sample has no spread")
	}
	if got := ts.Utilization(); math.Abs(got-0.15) > 1e-9 {
		t.Errorf("expected total 0.15%%, got %v", got)
	}
}
