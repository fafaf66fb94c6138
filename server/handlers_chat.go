package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/chatfeed/db"
	"github.com/onnwee/chatfeed/feed"
	"github.com/onnwee/chatfeed/telemetry"
)

const defaultManualUser = "PC"

// HandleMessages returns the full feed, oldest first. Served at /api/messages
// and /api/chat.
func (h *Handlers) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Store.List())
}

// HandleClearChat empties the feed and its durable mirror.
func (h *Handlers) HandleClearChat(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := h.deps.Store.Clear(r.Context()); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("clear chat failed", slog.Any("err", err), slog.String("component", "http"))
		writeError(w, http.StatusInternalServerError, "Failed to clear chat file: "+err.Error())
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("chat cleared", slog.String("component", "http"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "Chat cleared successfully"})
}

type manualMessage struct {
	Text string `json:"text"`
	User string `json:"user"`
	TS   int64  `json:"ts"`
}

// HandlePostMessage appends an operator-typed line to the feed.
func (h *Handlers) HandlePostMessage(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var body manualMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	text := strings.TrimSpace(body.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "text required")
		return
	}
	user := strings.TrimSpace(body.User)
	if user == "" {
		user = defaultManualUser
	}
	h.deps.Store.Append(feed.Entry{
		Username: user,
		Message:  text,
		TS:       body.TS,
		Source:   feed.SourceManual,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type lastMessage struct {
	User string `json:"user"`
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

// HandleLast returns the newest entry in the compact single-line form.
func (h *Handlers) HandleLast(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	var out lastMessage
	if e, ok := h.deps.Store.Latest(); ok {
		out = lastMessage{User: e.Username, Text: e.Message, TS: e.TS}
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleHistory serves archived entries, newest last.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if h.deps.History == nil {
		writeError(w, http.StatusNotFound, "history archive not configured")
		return
	}
	limit := db.ClampHistoryLimit(parseIntQuery(r, "limit", db.DefaultHistoryLimit))
	entries, err := h.deps.History.Recent(r.Context(), limit)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("history query failed", slog.Any("err", err), slog.String("component", "http"))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if entries == nil {
		entries = []feed.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
