// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/helirig/pkg/kernel"
	"github.com/Thermoquad/helirig/pkg/rig"
	"github.com/Thermoquad/helirig/pkg/sim"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	simConfigPath string
	simPlantPath  string
	simListen     string
	simPath       string
	simTakeOff    bool
	simDirect     bool
	simDuration   time.Duration
	simText       bool
	simStatsEvery int
	simDumpConfig bool
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run the flight-control core against a simulated rig",
	Long: `Run the scheduler, estimators, controllers and flight-mode machine in
real time against a simulated plant.

The tick timer runs at the configured kernel frequency and triggers an ADC
conversion on every tick. The status line is printed to stdout at the
telemetry task rate. With --port the telemetry link is served on a serial
port; with --listen it is served to WebSocket clients. Both accept
commands from monitor, ping and the other link tools.`,
	RunE: runSim,
}

func init() {
	rootCmd.AddCommand(simCmd)
	simCmd.Flags().StringVarP(&simConfigPath, "config", "c", "", "Rig configuration file (YAML)")
	simCmd.Flags().StringVar(&simPlantPath, "plant", "", "Plant model file (YAML)")
	simCmd.Flags().StringVar(&simListen, "listen", "", "Serve the link to WebSocket clients on this address")
	simCmd.Flags().StringVar(&simPath, "path", "/link", "WebSocket endpoint path")
	simCmd.Flags().BoolVar(&simTakeOff, "takeoff", false, "Request take-off once the sensors have settled")
	simCmd.Flags().BoolVar(&simDirect, "direct", false, "Start in direct duty control")
	simCmd.Flags().DurationVar(&simDuration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	simCmd.Flags().BoolVar(&simText, "text", true, "Print status lines to stdout")
	simCmd.Flags().IntVar(&simStatsEvery, "stats-every", 4, "Emit kernel statistics every N telemetry publishes (0 disables)")
	simCmd.Flags().BoolVar(&simDumpConfig, "dump-config", false, "Print the effective rig configuration and exit")
}

// loadPlantConfig reads a plant model over the defaults
func loadPlantConfig(path string) (sim.Config, error) {
	cfg := sim.DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read plant config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse plant config %s: %w", path, err)
	}
	return cfg, nil
}

func loadRigConfig(path string) (rig.Config, error) {
	if path == "" {
		return rig.DefaultConfig(), nil
	}
	return rig.LoadConfig(path)
}

func runSim(cmd *cobra.Command, args []string) error {
	cfg, err := loadRigConfig(simConfigPath)
	if err != nil {
		return err
	}
	if simDirect {
		cfg.Direct.Enabled = true
	}
	if simDumpConfig {
		out, err := cfg.Marshal()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	}

	plantCfg, err := loadPlantConfig(simPlantPath)
	if err != nil {
		return err
	}
	plant := sim.New(plantCfg)

	r, err := rig.New(cfg, plant, rig.WithLogger(logger))
	if err != nil {
		return err
	}
	plant.AttachEncoder(r.Yaw)
	r.Altitude.Attach(plant)

	if simText {
		textLogger := logger.With().Str("component", "text").Logger()
		r.AddSink(rig.NewTextSink(os.Stdout, simStatsEvery, rig.WithTextLogger(textLogger)))
	}

	ctx, cancel := signalContext()
	defer cancel()
	if simDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, simDuration)
		defer cancel()
	}

	linkLogger := logger.With().Str("component", "link").Logger()
	linkOpts := []rig.LinkOption{rig.WithLinkLogger(linkLogger), rig.WithStatsEvery(simStatsEvery)}

	if portName != "" {
		conn, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			return err
		}
		defer conn.Close()

		link := rig.NewLink(r, conn, linkOpts...)
		r.AddSink(link)
		go runLink(ctx, link, conn)
	}

	if simListen != "" {
		password := ""
		if wsUsername != "" {
			if password, err = GetPassword(); err != nil {
				return err
			}
		}
		hub := newLinkHub(wsUsername, password, linkLogger)
		link := rig.NewLink(r, hub, linkOpts...)
		hub.attach(link)
		r.AddSink(link)

		go func() {
			if err := link.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				linkLogger.Error().Err(err).Msg("link writer stopped")
			}
		}()
		go func() {
			if err := hub.serve(ctx, simListen, simPath); err != nil {
				linkLogger.Error().Err(err).Msg("websocket server failed")
				cancel()
			}
		}()
	}

	if simTakeOff {
		go requestTakeOff(ctx, r)
	}

	freq := cfg.Kernel.Frequency
	dt := 1 / float64(freq)
	go kernel.RunTimer(ctx, r.Clock, freq, func() { plant.Step(dt) }, plant.Trigger)

	r.Run(ctx)

	snap := r.Snapshot()
	logger.Info().
		Str("mode", snap.Mode.String()).
		Float64("height", plant.Height()).
		Int32("yaw", snap.Yaw).
		Float64("utilization", snap.Utilization()).
		Msg("simulation stopped")
	return nil
}

// runLink pumps a serial link in both directions until ctx is done
func runLink(ctx context.Context, link *rig.Link, conn Connection) {
	log := logger.With().Str("component", "link").Logger()
	go func() {
		if err := link.Serve(ctx, conn); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("command reader stopped")
		}
	}()
	if err := link.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("link writer stopped")
	}
}

// requestTakeOff submits ADVANCE_MODE once both estimators have had time to
// fill their settling buffers
func requestTakeOff(ctx context.Context, r *rig.Rig) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.Altitude.IsBufferFull() && r.Yaw.IsSettled() {
				r.Submit(rig.Event{Kind: rig.EventAdvance})
				logger.Info().Msg("take-off requested")
				return
			}
		}
	}
}
