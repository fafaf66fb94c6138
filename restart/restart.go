// Package restart implements the remote-restart side channel: a small HTTP
// service that drops a flag file, and a watcher the chat server (or its
// supervisor) polls to notice the request.
package restart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// DefaultFlagPath is the flag file name relative to the working directory.
const DefaultFlagPath = ".restart_requested"

// ErrNoFlag is returned by Consume when no restart is pending.
var ErrNoFlag = errors.New("restart: no pending request")

// Flag is the restart-request artifact shared with the process supervisor.
type Flag struct {
	Path string
	now  func() time.Time
}

// NewFlag returns a flag stored at path, or DefaultFlagPath when empty.
func NewFlag(path string) *Flag {
	if path == "" {
		path = DefaultFlagPath
	}
	return &Flag{Path: path, now: time.Now}
}

// Request writes the flag, replacing any earlier request. The file holds the
// request time so supervisors can log it.
func (f *Flag) Request() error {
	dir := filepath.Dir(f.Path)
	tmp, err := os.CreateTemp(dir, ".restart-*")
	if err != nil {
		return fmt.Errorf("create restart flag: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(f.now().UTC().Format(time.RFC3339) + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("write restart flag: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close restart flag: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("rename restart flag: %w", err)
	}
	return nil
}

// Pending reports whether a restart has been requested and not consumed.
func (f *Flag) Pending() bool {
	_, err := os.Stat(f.Path)
	return err == nil
}

// Consume removes the flag. It returns ErrNoFlag if none was pending.
func (f *Flag) Consume() error {
	err := os.Remove(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNoFlag
	}
	return err
}

// Watch polls the flag every interval. It consumes the flag and returns true
// when a restart is requested, or returns false once ctx is done.
func (f *Flag) Watch(ctx context.Context, every time.Duration) bool {
	if every <= 0 {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			if !f.Pending() {
				continue
			}
			if err := f.Consume(); err != nil && !errors.Is(err, ErrNoFlag) {
				slog.Warn("consume restart flag", slog.Any("err", err), slog.String("component", "restart"))
			}
			slog.Info("restart requested", slog.String("flag", f.Path), slog.String("component", "restart"))
			return true
		}
	}
}

// Response is the body returned by the restart service.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Service string `json:"service,omitempty"`
}

// Handler serves POST /restart and GET /health for the restart service.
func Handler(f *Flag) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /restart", func(w http.ResponseWriter, r *http.Request) {
		if err := f.Request(); err != nil {
			slog.Error("restart request failed", slog.Any("err", err), slog.String("component", "restart"))
			writeJSON(w, http.StatusInternalServerError, Response{Status: "error", Message: err.Error()})
			return
		}
		slog.Info("restart flag written", slog.String("flag", f.Path), slog.String("remote", r.RemoteAddr), slog.String("component", "restart"))
		writeJSON(w, http.StatusOK, Response{Status: "restart_requested", Message: "Server will restart within 10 seconds"})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Response{Status: "healthy", Service: "restart_endpoint"})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
