// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/helirig/pkg/telemetry"
	"github.com/spf13/cobra"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously decode and display telemetry frames as they arrive.

Each frame is shown with its timestamp, message type and decoded payload.
Decode errors are printed inline and the decoder resynchronises on the next
START byte.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Helirig - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, cancel := signalContext()
	defer cancel()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	err = readFrames(ctx, conn, func(f *telemetry.Frame, err error) {
		if err != nil {
			fmt.Printf("[ERROR] %v\n", err)
			return
		}
		fmt.Print(telemetry.FormatFrame(f))
	})
	if ctx.Err() != nil || errors.Is(err, ErrConnectionClosed) {
		logger.Info().Msg("connection closed")
		return nil
	}
	return err
}
