// Command chatfeed is the synthetic live-chat overlay server.
// It:
//   - Loads configuration and initializes structured logging, metrics and tracing.
//   - Restores the chat feed from its file or Redis mirror.
//   - Wires transcription, reply selection and chat bursts behind the HTTP API.
//   - Starts background jobs: ambient chatter, Twitch and YouTube chat bridges,
//     the Postgres archive writer, the console and the restart flag watcher.
//
// Shutdown is graceful on SIGINT/SIGTERM. With RESTART_WATCH set, a restart
// request makes the process exit with code 3 so a supervisor can start it again.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/chatfeed/chat"
	"github.com/onnwee/chatfeed/clock"
	"github.com/onnwee/chatfeed/config"
	"github.com/onnwee/chatfeed/console"
	"github.com/onnwee/chatfeed/db"
	"github.com/onnwee/chatfeed/feed"
	"github.com/onnwee/chatfeed/identity"
	"github.com/onnwee/chatfeed/openaiapi"
	"github.com/onnwee/chatfeed/phrases"
	"github.com/onnwee/chatfeed/pipeline"
	"github.com/onnwee/chatfeed/responder"
	"github.com/onnwee/chatfeed/restart"
	"github.com/onnwee/chatfeed/rng"
	"github.com/onnwee/chatfeed/server"
	"github.com/onnwee/chatfeed/telemetry"
	"github.com/onnwee/chatfeed/twitchapi"
	"github.com/onnwee/chatfeed/youtubeapi"
)

const (
	exitRestart   = 3
	archiveBuffer = 256
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	telemetry.InitLogging(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing("chatfeed", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	restartRequested, err := run(ctx, cfg)
	stop()
	shutdownTracing()

	if err != nil {
		slog.Error("chatfeed exited with error", slog.Any("err", err))
		os.Exit(1)
	}
	if restartRequested {
		slog.Info("exiting for restart", slog.Int("code", exitRestart))
		os.Exit(exitRestart)
	}
	slog.Info("shutdown complete")
}

// run wires every component and blocks until ctx is done, the operator quits
// or a restart is requested.
func run(parent context.Context, cfg *config.Config) (bool, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	src := rng.New(cfg.RandSeed)
	clk := clock.Real{}

	cat := phrases.Default()
	if cfg.PhrasesFile != "" {
		c, err := phrases.LoadFile(cfg.PhrasesFile)
		if err != nil {
			return false, err
		}
		cat = c
		slog.Info("phrase pack loaded", slog.String("path", cfg.PhrasesFile))
	}
	ids := identity.New(src, cat)

	var checks []server.Check
	var storeOpts []feed.Option

	persister, closePersister, err := openPersister(ctx, cfg, &checks)
	if err != nil {
		return false, err
	}
	defer closePersister()

	var archiver *db.Archiver
	if cfg.DBDsn != "" {
		database, err := openArchive(ctx, cfg.DBDsn)
		if err != nil {
			return false, err
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		archiver = db.NewArchiver(database, archiveBuffer)
		storeOpts = append(storeOpts, feed.WithSink(archiver.Enqueue))
		checks = append(checks, server.Check{Name: "postgres", Fn: database.PingContext})
	}

	store := feed.New(cfg.ChatHistoryLimit, persister, storeOpts...)
	if err := store.Load(ctx); err != nil {
		slog.Warn("chat feed not restored; starting empty", slog.Any("err", err), slog.String("component", "feed"))
	} else {
		slog.Info("chat feed restored", slog.Int("entries", store.Len()), slog.String("component", "feed"))
	}

	var stt pipeline.Transcriber
	var completer responder.Completer
	if cfg.OpenAIConfigured() {
		opts := []openaiapi.Option{
			openaiapi.WithModel(cfg.OpenAIModel),
			openaiapi.WithSTTModel(cfg.OpenAISTTModel),
			openaiapi.WithLanguage(cfg.STTLanguage),
			openaiapi.WithTimeout(cfg.OpenAITimeout),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openaiapi.WithBaseURL(cfg.OpenAIBaseURL))
		}
		oc, err := openaiapi.New(cfg.OpenAIAPIKey, opts...)
		if err != nil {
			return false, err
		}
		stt, completer = oc, oc
		slog.Info("openai configured", slog.String("model", oc.Model()), slog.String("stt_model", cfg.OpenAISTTModel))
	} else {
		slog.Warn("OPENAI_API_KEY not set; audio uploads will fail and replies use fallback phrases")
	}

	selector := responder.New(completer, cat, src,
		responder.WithCasualProbability(cfg.CasualProbability),
		responder.WithTimeout(cfg.OpenAITimeout))

	sched := chat.NewScheduler(clk, cfg.MaxConcurrentTasks)
	defer sched.Close()
	seq := chat.NewSequencer(store, ids, cat, src, clk, sched, chat.SequencerConfig{
		Cooldown:     cfg.Cooldown,
		Buffer:       cfg.SequenceBuffer,
		MaxFollowUps: cfg.MaxFollowUps,
	})
	pipe := pipeline.New(stt, selector, seq, ids, pipeline.WithSkipReplyWhileActive(cfg.SkipReplyWhileActive))

	deps := server.Deps{
		Store:            store,
		Pipeline:         pipe,
		OpenAIConfigured: cfg.OpenAIConfigured(),
		Checks:           checks,
	}
	if archiver != nil {
		deps.History = archiver
	}
	opts := server.Options{
		MaxAudioBytes: cfg.MaxAudioBytes,
		RateLimit: server.RateLimitOptions{
			Enabled:       cfg.RateLimitEnabled,
			RequestsPerIP: cfg.RateLimitRequestsPerIP,
			Window:        cfg.RateLimitWindow,
		},
		CORS: server.CORSOptions{
			Permissive:     cfg.CORSPermissive,
			AllowedOrigins: cfg.CORSAllowedOrigins,
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return server.Start(gctx, deps, opts, cfg.HTTPAddr) })

	if archiver != nil {
		g.Go(func() error { return archiver.Run(gctx) })
	}

	if cfg.AmbientEnabled {
		amb := chat.NewAmbient(store, ids, seq, cat, src, clk, chat.AmbientConfig{
			MinInterval: cfg.AmbientMin,
			MaxInterval: cfg.AmbientMax,
			QuietBelow:  cfg.AmbientQuietBelow,
		})
		g.Go(func() error { return amb.Run(gctx) })
	}

	startTwitchBridges(gctx, g, cfg, store)

	if err := startYouTubeBridge(gctx, g, cfg, store); err != nil {
		slog.Warn("youtube chat bridge disabled", slog.Any("err", err), slog.String("component", "youtube"))
	}

	if cfg.ConsoleEnabled {
		l := &console.Listener{
			OnClear: store.Clear,
			OnQuit:  cancel,
			Out:     os.Stdout,
		}
		g.Go(func() error {
			err := l.Run(gctx)
			if errors.Is(err, console.ErrNotTerminal) {
				slog.Info("console disabled: stdin is not a terminal", slog.String("component", "console"))
				return nil
			}
			if err != nil {
				slog.Warn("console stopped", slog.Any("err", err), slog.String("component", "console"))
			}
			return nil
		})
	}

	var restarting atomic.Bool
	if cfg.RestartWatch {
		flag := restart.NewFlag(cfg.RestartFlagPath)
		// a flag left over from before this process started is stale
		if err := flag.Consume(); err != nil && !errors.Is(err, restart.ErrNoFlag) {
			slog.Warn("clear stale restart flag", slog.Any("err", err), slog.String("component", "restart"))
		}
		g.Go(func() error {
			if flag.Watch(gctx, time.Second) {
				restarting.Store(true)
				cancel()
			}
			return nil
		})
	}

	slog.Info("chatfeed started",
		slog.String("addr", cfg.HTTPAddr),
		slog.String("store", cfg.StoreBackend),
		slog.Bool("ambient", cfg.AmbientEnabled),
		slog.Bool("archive", archiver != nil))

	err = g.Wait()
	return restarting.Load(), err
}

// openPersister selects the durable mirror of the feed. The returned close
// func is always safe to call.
func openPersister(ctx context.Context, cfg *config.Config, checks *[]server.Check) (feed.Persister, func(), error) {
	if cfg.StoreBackend != config.StoreRedis {
		return &feed.FilePersister{Path: cfg.ChatFilePath}, func() {}, nil
	}
	if cfg.RedisURL == "" {
		return nil, nil, errors.New("STORE_BACKEND=redis requires REDIS_URL")
	}
	rp, err := feed.NewRedisPersister(ctx, cfg.RedisURL, cfg.RedisKey)
	if err != nil {
		return nil, nil, err
	}
	*checks = append(*checks, server.Check{Name: "redis", Fn: rp.Ping})
	slog.Info("chat feed mirrored to redis", slog.String("key", cfg.RedisKey), slog.String("component", "feed"))
	return rp, func() {
		if err := rp.Close(); err != nil {
			slog.Error("failed to close redis", slog.Any("err", err))
		}
	}, nil
}

func openArchive(ctx context.Context, dsn string) (*sql.DB, error) {
	database, err := db.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		_ = database.Close()
		return nil, err
	}
	return database, nil
}

// startTwitchBridges mirrors Twitch chat either continuously or, with
// CHAT_AUTO_START, only while the channel is live.
func startTwitchBridges(ctx context.Context, g *errgroup.Group, cfg *config.Config, store *feed.Store) {
	tcfg := chat.TwitchConfig{
		Channel:    cfg.TwitchChannel,
		Username:   cfg.TwitchBotUsername,
		OAuthToken: cfg.TwitchOAuthToken,
	}
	switch {
	case cfg.TwitchAutoEnabled():
		auto := &chat.AutoBridge{
			Streams: &twitchapi.HelixClient{
				AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
				ClientID:       cfg.TwitchClientID,
			},
			Channel:   cfg.TwitchChannel,
			PollEvery: cfg.ChatAutoPollInterval,
			Start:     func(c context.Context) { chat.StartTwitchBridge(c, store, tcfg) },
		}
		g.Go(func() error {
			auto.Run(ctx)
			return nil
		})
	case cfg.TwitchChatEnabled():
		if err := cfg.ValidateChatReady(); err != nil {
			slog.Info("twitch bridge joining anonymously", slog.String("channel", cfg.TwitchChannel), slog.String("component", "twitch"))
		}
		g.Go(func() error {
			chat.StartTwitchBridge(ctx, store, tcfg)
			return nil
		})
	default:
		slog.Info("twitch bridge disabled (TWITCH_CHANNEL not set)", slog.String("component", "twitch"))
	}
}

func startYouTubeBridge(ctx context.Context, g *errgroup.Group, cfg *config.Config, store *feed.Store) error {
	ycfg := youtubeapi.Config{
		ClientID:     cfg.YTClientID,
		ClientSecret: cfg.YTClientSecret,
		RefreshToken: cfg.YTRefreshToken,
		LiveChatID:   cfg.YTLiveChatID,
		VideoID:      cfg.YTVideoID,
	}
	if !ycfg.Configured() {
		return nil
	}
	lc, err := youtubeapi.New(ctx, ycfg)
	if err != nil {
		return err
	}
	g.Go(func() error {
		if err := lc.Run(ctx, store); err != nil {
			slog.Warn("youtube chat bridge stopped", slog.Any("err", err), slog.String("component", "youtube"))
		}
		return nil
	})
	return nil
}
