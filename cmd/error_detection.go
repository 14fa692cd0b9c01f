// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Thermoquad/helirig/pkg/telemetry"
	"github.com/spf13/cobra"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze malformed frames and anomalous telemetry",
	Long: `Track frame errors, malformed payloads and anomalous values with statistics.

Each frame is validated and the command reports:
  - CRC errors and decode failures
  - Frames missing payload fields
  - Anomalous values (duty outside 0-100%, yaw outside 0-359°,
    altitude out of range, unknown flight mode)
  - Task overruns (duration longer than the task period)
  - Frame rate and error rate

By default, only errors are displayed. Use --show-all to display valid frames too.
With --tui the interactive monitor is started instead.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().BoolVar(&useTUI, "tui", false, "Use the interactive monitor")
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	if useTUI {
		return runMonitor(cmd, args)
	}
	if statsInterval < 1 {
		return fmt.Errorf("--stats-interval must be at least 1")
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Helirig - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, cancel := signalContext()
	defer cancel()

	frames := make(chan frameMsg, 64)
	readDone := make(chan error, 1)
	go func() {
		readDone <- readFrames(ctx, conn, func(f *telemetry.Frame, err error) {
			frames <- frameMsg{frame: f, decodeErr: err}
		})
	}()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	d := newErrorDetector(os.Stdout, showAll)
	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case msg := <-frames:
			d.process(msg.frame, msg.decodeErr)

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(d.stats.String())
			fmt.Println()

		case err := <-readDone:
			fmt.Println()
			fmt.Print(d.stats.String())
			if ctx.Err() != nil || err == nil || errors.Is(err, ErrConnectionClosed) {
				return nil
			}
			return err
		}
	}
}

// errorDetector validates frames and prints anomalies. Decode errors before
// the first valid frame are counted but not reported.
type errorDetector struct {
	w       io.Writer
	showAll bool
	stats   *telemetry.Statistics

	synchronized bool
	dropped      int
}

func newErrorDetector(w io.Writer, showAll bool) *errorDetector {
	return &errorDetector{w: w, showAll: showAll, stats: telemetry.NewStatistics()}
}

func (d *errorDetector) process(f *telemetry.Frame, decodeErr error) {
	if decodeErr != nil {
		if !d.synchronized {
			d.dropped++
			return
		}
		d.stats.Update(decodeErr, nil)
		fmt.Fprintf(d.w, "[%s] \033[1;31mDECODE ERROR:\033[0m %v\n\n", time.Now().Format("15:04:05.000"), decodeErr)
		return
	}

	if !d.synchronized {
		d.synchronized = true
		if d.dropped > 0 {
			fmt.Fprintf(d.w, "[SYNC] Synchronized after dropping %d frames\n\n", d.dropped)
		} else {
			fmt.Fprintf(d.w, "[SYNC] Synchronized\n\n")
		}
	}

	anomalies := telemetry.ValidateFrame(f)
	d.stats.Update(nil, anomalies)

	switch {
	case len(anomalies) > 0:
		d.printAnomalies(f, anomalies)
	case f.Type() == telemetry.MsgPingResponse:
		if p, err := telemetry.ParsePing(f); err == nil {
			fmt.Fprintf(d.w, "[%s] \033[1;32mPING_RESPONSE:\033[0m rig uptime: %s\n\n",
				f.Timestamp().Format("15:04:05.000"), formatUptime(p))
		}
	case d.showAll:
		fmt.Fprint(d.w, telemetry.FormatFrame(f))
	}
}

func (d *errorDetector) printAnomalies(f *telemetry.Frame, anomalies []telemetry.ValidationError) {
	fmt.Fprintf(d.w, "[%s] \033[1;33mVALIDATION ERROR:\033[0m %s (0x%02X)\n",
		f.Timestamp().Format("15:04:05.000"), telemetry.FormatMessageType(f.Type()), f.Type())
	fmt.Fprintf(d.w, "  CRC: \033[1;32mOK\033[0m\n")

	for i, a := range anomalies {
		color := "1;33"
		if a.Type == telemetry.AnomalyMissingField || a.Type == telemetry.AnomalyDecodeError {
			color = "1;31"
		}
		fmt.Fprintf(d.w, "  Issue %d (%s): \033[%sm%s\033[0m\n", i+1, a.Type, color, a.Message)
	}

	if f.ParseError() == nil {
		fmt.Fprint(d.w, telemetry.FormatFields(f.Type(), f.Fields()))
	}
	fmt.Fprintf(d.w, "  >>> FRAME REJECTED <<<\n\n")
}
