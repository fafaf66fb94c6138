// Command restartd serves the restart endpoint on its own port so the chat
// server can be restarted even when its main listener is wedged. POST /restart
// writes the flag file that the server's watcher picks up.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/chatfeed/config"
	"github.com/onnwee/chatfeed/restart"
	"github.com/onnwee/chatfeed/telemetry"
)

func main() {
	_ = godotenv.Load()
	telemetry.InitLogging(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	flag := restart.NewFlag(cfg.RestartFlagPath)
	srv := &http.Server{
		Addr:              cfg.RestartAddr,
		Handler:           restart.Handler(flag),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("restart server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("restart service listening", slog.String("addr", cfg.RestartAddr), slog.String("flag", flag.Path))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("restart server error", slog.Any("err", err))
		os.Exit(1)
	}
}
