// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rig

import (
	"context"
	"fmt"
	"io"

	"github.com/Thermoquad/helirig/pkg/telemetry"
	"github.com/rs/zerolog"
)

// StatusOf converts a snapshot to a STATUS payload
func StatusOf(s Snapshot) telemetry.Status {
	var flags telemetry.Flags
	for _, f := range []struct {
		set  bool
		flag telemetry.Flags
	}{
		{s.YawCalibrated, telemetry.FlagYawCalibrated},
		{s.AltitudeCalibrated, telemetry.FlagAltitudeCalibrated},
		{s.YawEnabled, telemetry.FlagYawEnabled},
		{s.AltitudeEnabled, telemetry.FlagAltitudeEnabled},
		{s.Direct, telemetry.FlagDirect},
	} {
		if f.set {
			flags |= f.flag
		}
	}

	return telemetry.Status{
		Tick:             s.Tick,
		Mode:             s.Mode,
		YawSetpoint:      s.YawSetpoint,
		Yaw:              s.Yaw,
		AltitudeSetpoint: s.AltitudeSetpoint,
		Altitude:         s.Altitude,
		MainDuty:         s.MainDuty,
		TailDuty:         s.TailDuty,
		Flags:            flags,
	}
}

// TaskStatsOf converts the snapshot's task table to TASK_STATS payloads
func TaskStatsOf(s Snapshot) []telemetry.TaskStat {
	out := make([]telemetry.TaskStat, len(s.Tasks))
	for i, t := range s.Tasks {
		out[i] = telemetry.TaskStat{
			Index:     uint8(i),
			Name:      t.Name,
			Frequency: t.Frequency,
			Priority:  t.Priority,
			Period:    t.Period,
			Duration:  t.Duration,
			Runs:      t.Runs,
		}
	}
	return out
}

// EventFromFrame converts a command frame to an operator event
func EventFromFrame(f *telemetry.Frame) (Event, error) {
	if err := f.ParseError(); err != nil {
		return Event{}, err
	}

	switch f.Type() {
	case telemetry.MsgAdvanceMode:
		return Event{Kind: EventAdvance}, nil

	case telemetry.MsgNudge:
		axis, dir, err := telemetry.ParseNudge(f)
		if err != nil {
			return Event{}, err
		}
		kind := EventNudgeYaw
		if axis == telemetry.AxisAltitude {
			kind = EventNudgeAltitude
		}
		return Event{Kind: kind, Direction: dir}, nil

	case telemetry.MsgSetDirect:
		enabled, err := telemetry.ParseSetDirect(f)
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: EventDirect, Enabled: enabled}, nil
	}

	return Event{}, fmt.Errorf("%s is not a command", telemetry.FormatMessageType(f.Type()))
}

// Link streams telemetry frames to a writer and feeds command frames from a
// reader back into the rig. Publish never blocks; frames are dropped when
// the writer falls behind.
type Link struct {
	rig    *Rig
	w      io.Writer
	out    chan []byte
	logger zerolog.Logger

	// TASK_STATS frames are sent on every statsEvery-th publish
	statsEvery int
	published  int
}

// LinkOption configures a Link
type LinkOption func(*Link)

// WithLinkLogger sets the link's logger
func WithLinkLogger(logger zerolog.Logger) LinkOption {
	return func(l *Link) {
		l.logger = logger
	}
}

// WithStatsEvery sets how many STATUS frames go out per TASK_STATS round.
// Zero disables TASK_STATS.
func WithStatsEvery(n int) LinkOption {
	return func(l *Link) {
		l.statsEvery = n
	}
}

// NewLink creates a link that writes frames to w
func NewLink(r *Rig, w io.Writer, opts ...LinkOption) *Link {
	l := &Link{
		rig:        r,
		w:          w,
		out:        make(chan []byte, 64),
		logger:     zerolog.Nop(),
		statsEvery: 4,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Publish implements Sink
func (l *Link) Publish(s Snapshot) {
	l.send(telemetry.MustEncode(StatusOf(s).Frame()))

	l.published++
	if l.statsEvery > 0 && l.published%l.statsEvery == 0 {
		for _, ts := range TaskStatsOf(s) {
			l.send(telemetry.MustEncode(ts.Frame()))
		}
	}
}

func (l *Link) send(frame []byte) {
	select {
	case l.out <- frame:
	default:
		l.logger.Warn().Msg("link backlog full, frame dropped")
	}
}

// Run writes queued frames until ctx is cancelled or the writer fails
func (l *Link) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-l.out:
			if _, err := l.w.Write(frame); err != nil {
				return fmt.Errorf("link write failed: %w", err)
			}
		}
	}
}

// Serve decodes command frames from rd until it fails or ctx is cancelled
func (l *Link) Serve(ctx context.Context, rd io.Reader) error {
	dec := telemetry.NewDecoder()
	buf := make([]byte, 256)

	for ctx.Err() == nil {
		n, err := rd.Read(buf)
		for _, b := range buf[:n] {
			f, derr := dec.DecodeByte(b)
			if derr != nil {
				l.logger.Debug().Err(derr).Msg("command frame dropped")
				continue
			}
			if f != nil {
				l.Handle(f)
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("link read failed: %w", err)
		}
	}
	return ctx.Err()
}

// Handle processes one command frame
func (l *Link) Handle(f *telemetry.Frame) {
	if f.ParseError() == nil && f.Type() == telemetry.MsgPingRequest {
		l.send(telemetry.MustEncode(telemetry.NewPingResponse(l.rig.Clock.Now(), l.rig.Kernel.Frequency())))
		return
	}

	ev, err := EventFromFrame(f)
	if err != nil {
		l.logger.Warn().Err(err).Msg("invalid command")
		l.send(telemetry.MustEncode(telemetry.NewInvalidCommand(f.Type())))
		return
	}
	l.rig.Submit(ev)
}

// TextSink prints the status line on every publish and the kernel line on
// every statsEvery-th publish
type TextSink struct {
	w          io.Writer
	statsEvery int
	published  int
	logger     zerolog.Logger
	failing    bool
}

// TextSinkOption configures a TextSink
type TextSinkOption func(*TextSink)

// WithTextLogger sets the logger that reports write failures
func WithTextLogger(logger zerolog.Logger) TextSinkOption {
	return func(t *TextSink) {
		t.logger = logger
	}
}

// NewTextSink creates a text sink writing to w
func NewTextSink(w io.Writer, statsEvery int, opts ...TextSinkOption) *TextSink {
	t := &TextSink{w: w, statsEvery: statsEvery, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Publish implements Sink. A failed write is logged once until the writer
// recovers.
func (t *TextSink) Publish(s Snapshot) {
	t.write("status", telemetry.FormatStatusLine(StatusOf(s)))

	t.published++
	if t.statsEvery > 0 && t.published%t.statsEvery == 0 {
		t.write("kernel", telemetry.FormatKernelLine(TaskStatsOf(s)))
	}
}

func (t *TextSink) write(kind, line string) {
	if _, err := io.WriteString(t.w, line); err != nil {
		if !t.failing {
			t.logger.Warn().Err(err).Str("line", kind).Msg("text output failed")
		}
		t.failing = true
		return
	}
	if t.failing {
		t.logger.Info().Msg("text output recovered")
	}
	t.failing = false
}
