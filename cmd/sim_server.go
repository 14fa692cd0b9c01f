// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Thermoquad/helirig/pkg/rig"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const wsWriteWait = 2 * time.Second

// linkHub serves a rig link to WebSocket clients. Frames written to the hub
// are broadcast to every client as binary messages; frames received from a
// client are handed to the link as commands.
type linkHub struct {
	upgrader websocket.Upgrader
	username string
	password string
	logger   zerolog.Logger

	mu      sync.Mutex
	link    *rig.Link
	clients map[*websocket.Conn]struct{}
}

func newLinkHub(username, password string, logger zerolog.Logger) *linkHub {
	return &linkHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		username: username,
		password: password,
		logger:   logger,
		clients:  make(map[*websocket.Conn]struct{}),
	}
}

// attach sets the link that receives client commands
func (h *linkHub) attach(l *rig.Link) {
	h.mu.Lock()
	h.link = l
	h.mu.Unlock()
}

// Write broadcasts one frame. Clients that cannot keep up are dropped.
func (h *linkHub) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		c.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.WriteMessage(websocket.BinaryMessage, p); err != nil {
			h.logger.Warn().Err(err).Str("client", c.RemoteAddr().String()).Msg("dropping client")
			c.Close()
			delete(h.clients, c)
		}
	}
	return len(p), nil
}

// Clients returns the number of connected clients
func (h *linkHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *linkHub) authorized(req *http.Request) bool {
	if h.username == "" {
		return true
	}
	user, pass, ok := req.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(h.password)) == 1
	return userOK && passOK
}

func (h *linkHub) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if !h.authorized(req) {
		w.Header().Set("WWW-Authenticate", `Basic realm="helirig"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	c, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	log := h.logger.With().Str("client", c.RemoteAddr().String()).Logger()

	h.mu.Lock()
	h.clients[c] = struct{}{}
	link := h.link
	h.mu.Unlock()
	log.Info().Msg("client connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		c.Close()
		log.Info().Msg("client disconnected")
	}()

	if link == nil {
		return
	}
	err = link.Serve(context.Background(), newWebSocketConnection(c, c.RemoteAddr().String()))
	if err != nil && !errors.Is(err, ErrConnectionClosed) {
		log.Warn().Err(err).Msg("command stream failed")
	}
}

// closeAll disconnects every client
func (h *linkHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(wsWriteWait))
		c.Close()
		delete(h.clients, c)
	}
}

// serve runs an HTTP server for the hub at path until ctx is cancelled
func (h *linkHub) serve(ctx context.Context, addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, h)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		h.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	h.logger.Info().Str("addr", addr).Str("path", path).Msg("websocket link listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
