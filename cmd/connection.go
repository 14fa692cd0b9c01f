// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"
)

const (
	// passwordEnv names the environment variable holding the WebSocket password
	passwordEnv = "HELIRIG_PASSWORD"

	// serialReadTimeout bounds a serial Read so reader loops see ctx
	// cancellation while the rig is silent
	serialReadTimeout = 100 * time.Millisecond

	dialTimeout = 15 * time.Second
)

// ErrConnectionClosed is returned once the rig's WebSocket has gone away
var ErrConnectionClosed = errors.New("websocket connection closed")

// Connection is the byte stream carrying telemetry and command frames
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// SerialConnection is a rig link on a UART. Reads return (0, nil) after
// serialReadTimeout without data.
type SerialConnection struct {
	port serial.Port
	name string
	baud int
}

func (s *SerialConnection) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *SerialConnection) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *SerialConnection) Close() error                { return s.port.Close() }

func (s *SerialConnection) String() string {
	return fmt.Sprintf("Serial: %s @ %d baud", s.name, s.baud)
}

// OpenSerialConnection opens a rig UART at 8N1 and discards whatever the
// rig sent before the port was opened
func OpenSerialConnection(portName string, baudRate int) (*SerialConnection, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to configure serial port %s: %w", portName, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to flush serial port %s: %w", portName, err)
	}
	return &SerialConnection{port: port, name: portName, baud: baudRate}, nil
}

// WebSocketConnection carries the link in binary messages. Reads return the
// concatenated message bodies and skip text messages. Writes are serialised,
// since gorilla allows one concurrent writer.
type WebSocketConnection struct {
	conn    *websocket.Conn
	url     string
	pending []byte
	closed  bool

	writeMu sync.Mutex
}

func newWebSocketConnection(conn *websocket.Conn, rawURL string) *WebSocketConnection {
	return &WebSocketConnection{conn: conn, url: rawURL}
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if w.closed {
		return 0, ErrConnectionClosed
	}

	for len(w.pending) == 0 {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed = true
			return 0, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}
		if kind == websocket.BinaryMessage {
			w.pending = data
		}
	}

	n := copy(p, w.pending)
	w.pending = w.pending[n:]
	return n, nil
}

// Write sends p as one binary message
func (w *WebSocketConnection) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a normal-closure frame before dropping the socket
func (w *WebSocketConnection) Close() error {
	w.writeMu.Lock()
	w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait))
	w.writeMu.Unlock()
	return w.conn.Close()
}

func (w *WebSocketConnection) String() string {
	return "WebSocket: " + w.url
}

// validateWebSocketURL checks that raw is a ws:// or wss:// URL
func validateWebSocketURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return u, nil
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %q (use ws:// or wss://)", u.Scheme)
	}
}

// basicAuthHeader returns the handshake headers. Authorization is only set
// when both credentials are present.
func basicAuthHeader(username, password string) http.Header {
	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}
	return headers
}

// OpenWebSocketConnection dials a rig's link endpoint
func OpenWebSocketConnection(rawURL, username, password string, skipSSLVerify bool) (*WebSocketConnection, error) {
	u, err := validateWebSocketURL(rawURL)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: skipSSLVerify}
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, rawURL, basicAuthHeader(username, password))
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	return newWebSocketConnection(conn, rawURL), nil
}

// GetPassword returns $HELIRIG_PASSWORD, or prompts on stderr. Input is
// echoed off when stdin is a terminal and read as one line otherwise.
func GetPassword() (string, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}

	fd := int(os.Stdin.Fd())
	fmt.Fprintf(os.Stderr, "Password for %s: ", wsUsername)
	defer fmt.Fprintln(os.Stderr)

	if term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(pw), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// OpenConnection opens the rig link named by --url or --port, preferring
// the WebSocket
func OpenConnection() (Connection, string, error) {
	switch {
	case wsURL != "":
		password := ""
		if wsUsername != "" {
			var err error
			if password, err = GetPassword(); err != nil {
				return nil, "", err
			}
		}
		conn, err := OpenWebSocketConnection(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, conn.String(), nil

	case portName != "":
		conn, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			return nil, "", err
		}
		return conn, conn.String(), nil
	}

	return nil, "", errors.New("either --port or --url must be specified")
}
