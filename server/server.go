// Package server exposes the HTTP API: audio upload, chat feed reads, the
// overlay page, live push, health and metrics. Correlation IDs are injected
// into request contexts for consistent logging.
package server

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/chatfeed/telemetry"
)

// rateLimitedPaths accept uploads or trigger completion calls.
var rateLimitedPaths = map[string]bool{
	"/api/process_audio": true,
	"/api/test_text":     true,
	"/api/message":       true,
}

// NewMux returns the HTTP handler with all routes.
// The provided context bounds the rate limiter cleanup goroutine.
func NewMux(ctx context.Context, deps Deps, opts Options) http.Handler {
	limiter := newIPRateLimiter(ctx, newRateLimiterConfig(opts.RateLimit))
	h := NewHandlers(deps, opts)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", h.HandleHealth)
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)

	mux.HandleFunc("/api/process_audio", h.HandleProcessAudio)
	mux.HandleFunc("/api/test_text", h.HandleTestText)
	mux.HandleFunc("/api/latest", h.HandleLatest)
	mux.HandleFunc("/api/messages", h.HandleMessages)
	mux.HandleFunc("/api/chat", h.HandleMessages)
	mux.HandleFunc("/api/clear_chat", h.HandleClearChat)
	mux.HandleFunc("/api/message", h.HandlePostMessage)
	mux.HandleFunc("/api/last", h.HandleLast)
	mux.HandleFunc("/api/history", h.HandleHistory)
	mux.HandleFunc("/api/stream", h.HandleStream)
	mux.HandleFunc("/api/ws", h.HandleWebSocket)

	mux.HandleFunc("/overlay", h.HandleOverlay)
	mux.HandleFunc("/overlay.html", h.HandleOverlay)
	mux.HandleFunc("/{$}", h.HandleIndex)

	selective := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rateLimitedPaths[r.URL.Path] {
			rateLimitMiddleware(mux, limiter).ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http", r.Method+" "+r.URL.Path,
			telemetry.HTTPAttrs(r.Method, r.URL.Path, r.URL.String())...)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		selective.ServeHTTP(rec, r.WithContext(ctx))

		telemetry.FinishHTTPSpan(span, rec.statusCode)
	})
	return withCORS(handler, opts.CORS)
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets the WebSocket upgrade take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	r.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, deps Deps, opts Options, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMux(ctx, deps, opts),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Completion and STT calls bound the slowest request; streams clear
		// their own deadline.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
