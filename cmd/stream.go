// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/helirig/pkg/telemetry"
)

// frameHandler receives each decoded frame, or the error that dropped one
type frameHandler func(f *telemetry.Frame, err error)

// readFrames decodes frames from r until the stream ends (nil) or the
// connection closes or ctx is done.
// Other read errors are logged and retried after a short pause, which is
// what a serial port needs.
func readFrames(ctx context.Context, r io.Reader, handle frameHandler) error {
	decoder := telemetry.NewDecoder()
	buf := make([]byte, 256)

	for ctx.Err() == nil {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			f, decodeErr := decoder.DecodeByte(b)
			if decodeErr != nil {
				handle(nil, decodeErr)
				continue
			}
			if f != nil {
				handle(f, nil)
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, ErrConnectionClosed) {
				return err
			}
			logger.Debug().Err(err).Msg("read error")
			time.Sleep(10 * time.Millisecond)
		}
	}
	return ctx.Err()
}

// signalContext returns a context cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
