// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sensor

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// ============================================================
// Test Helpers
// ============================================================

func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

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

// clockwise maps each phase to the phase that follows it clockwise
var clockwise = map[Phase]Phase{0: 1, 1: 3, 3: 2, 2: 0}

// anticlockwise is the inverse of clockwise
var anticlockwise = map[Phase]Phase{1: 0, 3: 1, 2: 3, 0: 2}

func levels(p Phase) (a, b bool) {
	return p&0b10 != 0, p&0b01 != 0
}

type fakeConverter struct {
	handler func(uint16)
	reading uint16
}

func (c *fakeConverter) Trigger()                     { c.handler(c.reading) }
func (c *fakeConverter) OnSample(handler func(uint16)) { c.handler = handler }

// ============================================================
// Ring Tests
// ============================================================

func TestRing_MeanRounding(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int32
		expected int32
	}{
		{"exact", []int32{10, 10, 10, 10}, 10},
		{"rounds half up", []int32{1, 2}, 2},
		{"rounds down", []int32{1, 1, 2}, 1},
		{"rounds up", []int32{1, 2, 2}, 2},
		{"full scale", []int32{4095, 4095, 4095}, 4095},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRing(len(tt.samples))
			for _, s := range tt.samples {
				r.Write(s)
			}
			if got := r.Mean(); got != tt.expected {
				t.Errorf("expected mean %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestRing_MeanBounds(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		n := 1 + rng.Intn(64)
		r := NewRing(n)
		for j := 0; j < n+rng.Intn(n); j++ {
			r.Write(int32(rng.Intn(4096)))
		}
		if mean := r.Mean(); mean < 0 || mean > 4095 {
			t.Fatalf("round %d: mean %d outside [0, 4095]", i, mean)
		}
	}
}

func TestRing_WrapAndRange(t *testing.T) {
	r := NewRing(3)
	if r.Full() || r.Len() != 0 {
		t.Fatal("new ring should be empty")
	}

	for _, v := range []int32{5, 9, 7} {
		r.Write(v)
	}
	if !r.Full() {
		t.Fatal("ring should be full after 3 writes")
	}
	if r.Min() != 5 || r.Max() != 9 || r.Range() != 4 {
		t.Errorf("unexpected min/max/range %d/%d/%d", r.Min(), r.Max(), r.Range())
	}

	r.Write(8) // overwrites 5
	if r.Min() != 7 || r.Len() != 3 {
		t.Errorf("expected min 7 after overwrite, got %d (len %d)", r.Min(), r.Len())
	}

	r.Reset()
	if r.Full() || r.Len() != 0 {
		t.Error("ring should be empty after reset")
	}
}

// ============================================================
// Settling Tests
// ============================================================

func TestSettling_WithinMargin(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		margin := int32(1 + rng.Intn(5))
		size := 2 + rng.Intn(10)
		base := int32(rng.Intn(200) - 100)
		s := NewSettling(size, margin)
		for j := 0; j < size; j++ {
			s.Push(base + int32(rng.Intn(int(margin)+1)))
		}
		if !s.IsSettled() {
			t.Fatalf("round %d: values within margin %d should be settled", i, margin)
		}
	}
}

func TestSettling_SpreadTooWide(t *testing.T) {
	s := NewSettling(4, 2)
	for _, v := range []int32{10, 11, 12, 15} { // range 5 > 4
		s.Push(v)
	}
	if s.IsSettled() {
		t.Error("range above 2×margin must not be settled")
	}
	if s.Settled() != NotSettled {
		t.Errorf("expected sentinel, got %d", s.Settled())
	}
}

func TestSettling_NotFull(t *testing.T) {
	s := NewSettling(4, 2)
	s.Push(3)
	if s.IsSettled() {
		t.Error("a partially filled buffer must not be settled")
	}
}

func TestSettling_Around(t *testing.T) {
	s := NewSettling(4, 2)
	for _, v := range []int32{4, 5, 6, 7} {
		s.Push(v)
	}
	if got := s.Settled(); got != 6 {
		t.Fatalf("expected representative 6, got %d", got)
	}

	tests := []struct {
		v        int32
		expected bool
	}{
		{6, true},
		{4, true},
		{8, true},
		{3, false},
		{9, false},
	}
	for _, tt := range tests {
		if got := s.IsSettledAround(tt.v); got != tt.expected {
			t.Errorf("IsSettledAround(%d) = %v, expected %v", tt.v, got, tt.expected)
		}
	}
}

// ============================================================
// Altitude Tests
// ============================================================

func TestAltitude_CalibrateAndPercent(t *testing.T) {
	cfg := AltitudeConfig{BufferSize: 4, FullScaleDelta: 1000, SettlingSize: 3, SettlingMargin: 1}
	alt := NewAltitude(cfg)
	conv := &fakeConverter{reading: 2000}
	alt.Attach(conv)

	for i := 0; i < 3; i++ {
		conv.Trigger()
	}
	if alt.IsBufferFull() {
		t.Fatal("buffer should not be full after 3 of 4 samples")
	}
	conv.Trigger()
	if !alt.IsBufferFull() {
		t.Fatal("buffer should be full after 4 samples")
	}

	alt.Calibrate()
	if !alt.IsCalibrated() || alt.Reference() != 2000 {
		t.Fatalf("expected calibrated at 2000, got %v/%d", alt.IsCalibrated(), alt.Reference())
	}

	// Voltage falls as the rig climbs
	conv.reading = 1600
	for i := 0; i < 4; i++ {
		conv.Trigger()
	}
	alt.UpdateMean(nil)
	if got := alt.Percent(); got != 40 {
		t.Errorf("expected 40%%, got %d", got)
	}

	for i := 0; i < 3; i++ {
		alt.UpdateSettling(nil)
	}
	if !alt.IsSettledAround(40) {
		t.Error("expected altitude settled around 40%")
	}

	alt.ResetCalibration()
	if alt.IsCalibrated() {
		t.Error("expected calibration cleared")
	}
}

func TestAltitude_BelowReferenceIsNegative(t *testing.T) {
	alt := NewAltitude(AltitudeConfig{BufferSize: 2, FullScaleDelta: 1000, SettlingSize: 2})
	alt.Sample(1000)
	alt.Sample(1000)
	alt.Calibrate()

	alt.Sample(1100)
	alt.Sample(1100)
	alt.UpdateMean(nil)
	if got := alt.Percent(); got != -10 {
		t.Errorf("expected -10%%, got %d", got)
	}
}

func TestAltitude_CalibrateClearsSettling(t *testing.T) {
	cfg := AltitudeConfig{BufferSize: 2, FullScaleDelta: 1000, SettlingSize: 3, SettlingMargin: 1}
	alt := NewAltitude(cfg)

	// Uncalibrated readings are far below the landed reference
	alt.Sample(2000)
	alt.Sample(2000)
	alt.UpdateMean(nil)
	for i := 0; i < 3; i++ {
		alt.UpdateSettling(nil)
	}
	if !alt.IsSettled() {
		t.Fatal("expected settled before calibration")
	}

	alt.Calibrate()
	if alt.IsSettled() {
		t.Fatal("settling history should be cleared by Calibrate")
	}

	for i := 0; i < 2; i++ {
		alt.UpdateSettling(nil)
	}
	if alt.IsSettled() {
		t.Error("expected unsettled until the buffer refills")
	}
	alt.UpdateSettling(nil)
	if !alt.IsSettledAround(0) {
		t.Error("expected settled around 0% after refill")
	}
}

// ============================================================
// Quadrature Tests
// ============================================================

func TestClassify_Exhaustive(t *testing.T) {
	expected := map[[2]Phase]Direction{
		{0, 1}: Clockwise, {1, 3}: Clockwise, {3, 2}: Clockwise, {2, 0}: Clockwise,
		{1, 0}: Anticlockwise, {3, 1}: Anticlockwise, {0, 2}: Anticlockwise, {2, 3}: Anticlockwise,
		{0, 3}: Invalid, {3, 0}: Invalid, {1, 2}: Invalid, {2, 1}: Invalid,
	}

	for prev := Phase(0); prev < 4; prev++ {
		for next := Phase(0); next < 4; next++ {
			want := NoChange
			if prev != next {
				want = expected[[2]Phase{prev, next}]
			}
			if got := Classify(prev, next); got != want {
				t.Errorf("Classify(%d, %d) = %v, expected %v", prev, next, got, want)
			}
		}
	}
}

func TestQuadrature_Wraps(t *testing.T) {
	q := NewQuadrature(8)

	// Anticlockwise from 0 wraps to MaxSlots-1
	q.Update(levels(anticlockwise[0]))
	if q.Slots() != 7 {
		t.Fatalf("expected wrap to 7, got %d", q.Slots())
	}

	// Clockwise from 7 wraps to 0
	q.Update(levels(0))
	if q.Slots() != 0 {
		t.Fatalf("expected wrap to 0, got %d", q.Slots())
	}
}

func TestQuadrature_RoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		q := NewQuadrature(448)
		start := uint32(rng.Intn(448))
		q.SetSlots(start)

		phases := []Phase{0}
		for j := 0; j < 1+rng.Intn(2000); j++ {
			cur := phases[len(phases)-1]
			if rng.Intn(2) == 0 {
				phases = append(phases, clockwise[cur])
			} else {
				phases = append(phases, anticlockwise[cur])
			}
		}

		for _, p := range phases[1:] {
			if dir := q.Update(levels(p)); dir == Invalid || dir == NoChange {
				t.Fatalf("round %d: generated transition classified %v", i, dir)
			}
		}
		for k := len(phases) - 2; k >= 0; k-- {
			q.Update(levels(phases[k]))
		}

		if q.Slots() != start {
			t.Fatalf("round %d: expected slots %d after reverse, got %d", i, start, q.Slots())
		}
	}
}

func TestQuadrature_InvalidIsIgnored(t *testing.T) {
	y := NewYaw(DefaultYawConfig())
	y.PhaseISR(levels(1)) // 0 -> 1, one slot clockwise
	before := y.Slots()

	// 1 -> 2 skips a state
	if dir := y.PhaseISR(levels(2)); dir != Invalid {
		t.Fatalf("expected Invalid, got %v", dir)
	}
	if y.Slots() != before {
		t.Errorf("invalid transition moved slots from %d to %d", before, y.Slots())
	}
	if y.IsCalibrated() {
		t.Error("invalid transition must not calibrate")
	}
}

// ============================================================
// Yaw Tests
// ============================================================

func TestYaw_ReferenceCalibratesOnce(t *testing.T) {
	y := NewYaw(DefaultYawConfig())
	y.PhaseISR(levels(1))
	y.PhaseISR(levels(3))
	if y.Slots() != 2 {
		t.Fatalf("expected 2 slots, got %d", y.Slots())
	}

	y.ReferenceISR()
	if !y.IsCalibrated() || y.Slots() != 0 {
		t.Fatalf("first reference edge should calibrate and zero, got %v/%d", y.IsCalibrated(), y.Slots())
	}

	y.PhaseISR(levels(2))
	y.ReferenceISR() // ignored until reset
	if y.Slots() != 1 {
		t.Errorf("second reference edge must be ignored, slots %d", y.Slots())
	}

	y.ResetCalibration()
	y.ReferenceISR()
	if !y.IsCalibrated() || y.Slots() != 0 {
		t.Error("reference edge after reset should calibrate again")
	}
}

func TestYaw_Degrees(t *testing.T) {
	y := NewYaw(DefaultYawConfig())
	tests := []struct {
		slots    uint32
		expected int32
	}{
		{0, 0},
		{112, 90},
		{224, 180},
		{447, 359},
	}
	for _, tt := range tests {
		y.quad.SetSlots(tt.slots)
		if got := y.Degrees(); got != tt.expected {
			t.Errorf("slots %d: expected %d°, got %d°", tt.slots, tt.expected, got)
		}
	}
}

func TestYaw_SettledAroundZeroAcrossWrap(t *testing.T) {
	y := NewYaw(YawConfig{Teeth: 90, Phases: 4, SettlingSize: 4, SettlingMargin: 2})

	// 359°, 0°, 1°, 0°
	for _, slots := range []uint32{359, 0, 1, 0} {
		y.quad.SetSlots(slots)
		y.UpdateSettling(nil)
	}

	if !y.IsSettled() {
		t.Fatal("heading jittering across 0° should be settled")
	}
	if !y.IsSettledAround(0) {
		t.Error("expected settled around 0°")
	}
	if y.IsSettledAround(90) {
		t.Error("must not be settled around 90°")
	}
	if got := y.Settled(); got != 1 {
		t.Errorf("expected settled heading 1°, got %d", got)
	}
}

func TestWrapDegrees(t *testing.T) {
	tests := map[int32]int32{0: 0, 360: 0, 365: 5, -15: 345, -360: 0, 719: 359}
	for in, expected := range tests {
		if got := WrapDegrees(in); got != expected {
			t.Errorf("WrapDegrees(%d) = %d, expected %d", in, got, expected)
		}
	}
}
