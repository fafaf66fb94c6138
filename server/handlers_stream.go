package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/onnwee/chatfeed/telemetry"
)

const (
	streamHeartbeat = 15 * time.Second
	wsWriteTimeout  = 5 * time.Second
)

// HandleStream pushes the full feed as Server-Sent Events after every change.
func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.Debug("clear write deadline", slog.Any("err", err))
	}
	if _, ok := w.(http.Flusher); !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	changes, cancel := h.deps.Store.Subscribe()
	defer cancel()
	telemetry.AddGauge(telemetry.StreamClients, 1)
	defer telemetry.AddGauge(telemetry.StreamClients, -1)

	send := func() error {
		b, err := json.Marshal(h.deps.Store.List())
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: messages\ndata: %s\n\n", b); err != nil {
			return err
		}
		return rc.Flush()
	}
	if err := send(); err != nil {
		return
	}

	ticker := time.NewTicker(streamHeartbeat)
	defer ticker.Stop()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			if err := send(); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// HandleWebSocket pushes the full feed as a JSON text frame after every change.
// Client frames are ignored.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("websocket accept failed", slog.Any("err", err), slog.String("component", "http"))
		return
	}
	defer conn.CloseNow()

	changes, cancel := h.deps.Store.Subscribe()
	defer cancel()
	telemetry.AddGauge(telemetry.StreamClients, 1)
	defer telemetry.AddGauge(telemetry.StreamClients, -1)

	ctx := conn.CloseRead(r.Context())
	send := func() error {
		wctx, done := context.WithTimeout(ctx, wsWriteTimeout)
		defer done()
		return wsjson.Write(wctx, conn, h.deps.Store.List())
	}
	if err := send(); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-changes:
			if err := send(); err != nil {
				return
			}
		}
	}
}

func (h *Handlers) acceptOptions() *websocket.AcceptOptions {
	if h.cors.Permissive {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	patterns := make([]string, 0, len(h.cors.AllowedOrigins))
	for _, o := range h.cors.AllowedOrigins {
		if _, host, ok := strings.Cut(o, "://"); ok {
			o = host
		}
		patterns = append(patterns, o)
	}
	return &websocket.AcceptOptions{OriginPatterns: patterns}
}
