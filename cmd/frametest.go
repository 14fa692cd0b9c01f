// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/helirig/pkg/telemetry"
	"github.com/spf13/cobra"
)

var (
	frameTestTimeout int
)

var frameTestCmd = &cobra.Command{
	Use:   "frame_test",
	Short: "Test connection by waiting for a valid telemetry frame",
	Long: `Wait for a valid telemetry frame on the connection until timeout.

Invalid bytes are skipped until a complete frame passes its CRC check.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error`,
	RunE: runFrameTest,
}

func init() {
	rootCmd.AddCommand(frameTestCmd)
	frameTestCmd.Flags().IntVar(&frameTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runFrameTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Helirig - Frame Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", frameTestTimeout)
	fmt.Printf("Waiting for valid frame...\n\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frameChan := make(chan *telemetry.Frame, 1)
	errChan := make(chan error, 1)

	go func() {
		invalid := 0
		err := readFrames(ctx, conn, func(f *telemetry.Frame, err error) {
			if err != nil {
				invalid++
				return
			}
			if invalid > 0 {
				fmt.Printf("(dropped %d invalid frames before sync)\n", invalid)
				invalid = 0
			}
			select {
			case frameChan <- f:
				cancel()
			default:
			}
		})
		if err != nil && ctx.Err() == nil {
			errChan <- err
		}
	}()

	select {
	case f := <-frameChan:
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Type: %s (0x%02X)\n", telemetry.FormatMessageType(f.Type()), f.Type())
		fmt.Printf("  Length: %d bytes\n", len(f.Payload()))
		fmt.Printf("  CRC: 0x%04X\n", f.CRC())
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(frameTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", frameTestTimeout)
		os.Exit(1)
	}

	return nil
}
