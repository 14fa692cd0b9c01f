// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/helirig/pkg/telemetry"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for monitoring and commanding a rig",
	Long: `Monitor a rig via an interactive terminal UI.

Shows the flight mode, yaw and altitude against their setpoints, rotor
duties, calibration and controller flags, link statistics and per-task
kernel timings. Key bindings send ADVANCE_MODE, NUDGE and SET_DIRECT
commands; press ? for the full list.

The connection is re-established with exponential backoff when lost.

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

// connectionManager owns the connection and reopens it when it fails
type connectionManager struct {
	mu       sync.RWMutex
	conn     Connection
	connInfo string

	p    *tea.Program
	ctx  context.Context
	stop context.CancelFunc
}

func (cm *connectionManager) getConn() Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.conn
}

func (cm *connectionManager) setConn(conn Connection, connInfo string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.conn = conn
	cm.connInfo = connInfo
}

// send writes one frame to the current connection
func (cm *connectionManager) send(f *telemetry.Frame) error {
	conn := cm.getConn()
	if conn == nil {
		return errors.New("connection lost")
	}
	data, err := telemetry.Encode(f)
	if err != nil {
		return err
	}
	_, err = conn.Write(data)
	return err
}

func runMonitor(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}

	ctx, stop := context.WithCancel(context.Background())
	cm := &connectionManager{
		conn:     conn,
		connInfo: connInfo,
		ctx:      ctx,
		stop:     stop,
	}

	p := tea.NewProgram(initialMonitorModel(cm, connInfo), tea.WithAltScreen())
	cm.p = p

	go cm.readerLoop()

	_, err = p.Run()
	stop()
	if conn := cm.getConn(); conn != nil {
		conn.Close()
	}
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// readerLoop reads until shutdown, reconnecting whenever the link drops
func (cm *connectionManager) readerLoop() {
	for cm.ctx.Err() == nil {
		cm.readFromConnection()
		if cm.ctx.Err() != nil {
			return
		}

		cm.p.Send(connectionLostMsg{})
		if !cm.reconnect() {
			return
		}
	}
}

// readFromConnection decodes frames and forwards them to the TUI in
// batches every 50ms until the connection fails
func (cm *connectionManager) readFromConnection() {
	frames := make(chan frameMsg, 256)
	readerDone := make(chan struct{})

	go func() {
		defer close(readerDone)
		synchronized := false
		dropped := 0

		err := readFrames(cm.ctx, cm.getConn(), func(f *telemetry.Frame, err error) {
			if !synchronized {
				if err != nil {
					dropped++
					return
				}
				synchronized = true
				cm.p.Send(syncMsg{droppedFrames: dropped})
			}

			msg := frameMsg{frame: f, decodeErr: err}
			if f != nil {
				msg.validationErrors = telemetry.ValidateFrame(f)
			}
			select {
			case frames <- msg:
			default:
			}
		})
		if err == nil {
			err = errors.New("end of stream")
		}
		logger.Debug().Err(err).Msg("reader stopped")
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-readerDone:
			return
		case <-ticker.C:
			var batch batchMsg
		drain:
			for {
				select {
				case msg := <-frames:
					batch = append(batch, msg)
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				cm.p.Send(batch)
			}
		}
	}
}

// reconnect retries with exponential backoff from 1s to 30s. It returns
// false when shutdown was requested.
func (cm *connectionManager) reconnect() bool {
	if conn := cm.getConn(); conn != nil {
		conn.Close()
	}

	backoff := 1 * time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-cm.ctx.Done():
			return false
		case <-time.After(backoff):
		}

		conn, connInfo, err := OpenConnection()
		if err == nil {
			cm.setConn(conn, connInfo)
			cm.p.Send(reconnectedMsg{connInfo: connInfo})
			return true
		}
		logger.Debug().Err(err).Dur("backoff", backoff).Msg("reconnect failed")

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
