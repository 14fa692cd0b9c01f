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
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Send PING_REQUEST frames and wait for PING_RESPONSE",
	Long: `Send PING_REQUEST frames to the rig and wait for PING_RESPONSE.

The response carries the rig's uptime in kernel ticks and its kernel
frequency. This verifies bidirectional frame flow over serial or WebSocket.

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

// formatUptime renders a ping response's uptime
func formatUptime(p telemetry.Ping) string {
	d := time.Duration(p.Uptime() * float64(time.Second))
	return d.Round(time.Millisecond).String()
}

func runPing(cmd *cobra.Command, args []string) error {
	if pingCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Helirig - Ping Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	responses := make(chan telemetry.Ping, 1)
	readErr := make(chan error, 1)
	go func() {
		err := readFrames(ctx, conn, func(f *telemetry.Frame, err error) {
			if err != nil || f.Type() != telemetry.MsgPingResponse {
				return
			}
			p, err := telemetry.ParsePing(f)
			if err != nil {
				logger.Warn().Err(err).Msg("malformed ping response")
				return
			}
			select {
			case responses <- p:
			default:
			}
		})
		if ctx.Err() == nil {
			readErr <- fmt.Errorf("connection ended: %v", err)
		}
	}()

	request := telemetry.MustEncode(telemetry.NewPingRequest())
	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		startTime := time.Now()
		if _, err := conn.Write(request); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		select {
		case p := <-responses:
			rtt := time.Since(startTime)
			fmt.Printf("PONG uptime=%s kernel=%dHz rtt=%v\n",
				formatUptime(p), p.KernelFrequency, rtt.Round(time.Millisecond))
			successCount++

		case err := <-readErr:
			fmt.Printf("READ FAILED: %v\n", err)
			failCount += pingCount - i + 1
			i = pingCount

		case <-time.After(time.Duration(pingTimeout) * time.Second):
			fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
			failCount++
		}

		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
