// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Thermoquad/helirig/pkg/telemetry"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var (
	kernelStatsDuration time.Duration
	kernelStatsStdin    bool
)

var kernelStatsCmd = &cobra.Command{
	Use:   "kernel_stats",
	Short: "Summarise scheduler task timings",
	Long: `Collect per-task timings and print a summary table.

Samples come from TASK_STATS frames on the connection, or with --stdin from
the kernel lines of the rig's text output:

  helirig sim --duration 30s | helirig kernel_stats --stdin

For every task the table shows the mean, standard deviation and maximum
run duration, the mean measured period and the CPU share.`,
	RunE: runKernelStats,
}

func init() {
	rootCmd.AddCommand(kernelStatsCmd)
	kernelStatsCmd.Flags().DurationVar(&kernelStatsDuration, "duration", 10*time.Second, "How long to collect samples (0 until interrupted)")
	kernelStatsCmd.Flags().BoolVar(&kernelStatsStdin, "stdin", false, "Read text kernel lines from stdin")
}

func runKernelStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	if kernelStatsDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, kernelStatsDuration)
		defer cancel()
	}

	ts := telemetry.NewTaskStatistics()

	if kernelStatsStdin {
		skipped, err := collectKernelLines(ctx, os.Stdin, ts)
		if err != nil {
			return err
		}
		if skipped > 0 {
			logger.Warn().Int("lines", skipped).Msg("skipped malformed kernel lines")
		}
	} else {
		conn, connInfo, err := OpenConnection()
		if err != nil {
			return err
		}
		defer conn.Close()
		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		fmt.Fprintf(os.Stderr, "Collecting TASK_STATS from %s\n", connInfo)
		readFrames(ctx, conn, func(f *telemetry.Frame, err error) {
			if err != nil || f.Type() != telemetry.MsgTaskStats {
				return
			}
			if t, err := telemetry.ParseTaskStat(f); err == nil {
				ts.Add(t)
			}
		})
	}

	fmt.Print(renderTaskSummaries(ts))
	return nil
}

// collectKernelLines feeds the kernel lines of a text stream into ts. Status
// lines are ignored. It returns the number of malformed lines skipped.
func collectKernelLines(ctx context.Context, r io.Reader, ts *telemetry.TaskStatistics) (int, error) {
	skipped := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() && ctx.Err() == nil {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "Y") {
			continue
		}
		tasks, err := telemetry.ParseKernelLine(line)
		if err != nil {
			skipped++
			continue
		}
		for _, t := range tasks {
			// The text line carries no run counter; a reported duration
			// means the task has run.
			if t.Period > 0 || t.Duration > 0 {
				t.Runs = 1
			}
			ts.Add(t)
		}
	}
	if err := scanner.Err(); err != nil {
		return skipped, fmt.Errorf("failed to read kernel lines: %w", err)
	}
	return skipped, nil
}

// renderTaskSummaries draws the summary table
func renderTaskSummaries(ts *telemetry.TaskStatistics) string {
	if ts.Len() == 0 {
		return "No task samples collected\n"
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TASK", "HZ", "PRIO", "SAMPLES", "MEAN µs", "SD µs", "MAX µs", "PERIOD µs", "CPU %")
	for _, s := range ts.Summaries() {
		t.Row(
			s.Name,
			fmt.Sprintf("%d", s.Frequency),
			fmt.Sprintf("%d", s.Priority),
			fmt.Sprintf("%d", s.Samples),
			fmt.Sprintf("%.1f", s.MeanDuration),
			fmt.Sprintf("%.1f", s.StdDevDuration),
			fmt.Sprintf("%.0f", s.MaxDuration),
			fmt.Sprintf("%.0f", s.MeanPeriod),
			fmt.Sprintf("%.2f", s.Utilization),
		)
	}
	return t.String() + fmt.Sprintf("\nTotal utilization: %.2f%%\n", ts.Utilization())
}
