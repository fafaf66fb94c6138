// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with no setup beyond an
// OpenAI key. Missing optional credentials disable the features that need them.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreFile  = "file"
	StoreRedis = "redis"
)

type Config struct {
	// HTTP
	HTTPAddr      string
	Env           string
	MaxAudioBytes int64

	// OpenAI
	OpenAIAPIKey   string
	OpenAIModel    string
	OpenAISTTModel string
	OpenAIBaseURL  string
	OpenAITimeout  time.Duration
	STTLanguage    string

	// Feed storage
	ChatFilePath     string
	StoreBackend     string
	RedisURL         string
	RedisKey         string
	ChatHistoryLimit int

	// Synthetic chat
	Cooldown             time.Duration
	SequenceBuffer       time.Duration
	MaxFollowUps         int
	CasualProbability    float64
	SkipReplyWhileActive bool
	AmbientEnabled       bool
	AmbientMin           time.Duration
	AmbientMax           time.Duration
	AmbientQuietBelow    int
	MaxConcurrentTasks   int64
	RandSeed             uint64
	PhrasesFile          string

	// Database archive
	DBDsn string

	// Twitch
	TwitchChannel        string
	TwitchBotUsername    string
	TwitchOAuthToken     string
	TwitchClientID       string
	TwitchClientSecret   string
	ChatAutoStart        bool
	ChatAutoPollInterval time.Duration

	// YouTube
	YTClientID     string
	YTClientSecret string
	YTRefreshToken string
	YTLiveChatID   string
	YTVideoID      string

	// Restart
	RestartAddr     string
	RestartFlagPath string
	RestartWatch    bool

	// Console
	ConsoleEnabled bool

	// Middleware
	RateLimitEnabled       bool
	RateLimitRequestsPerIP int
	RateLimitWindow        time.Duration
	CORSPermissive         bool
	CORSAllowedOrigins     []string
}

// Load reads environment variables and applies defaults. Malformed numbers,
// booleans and durations are errors; missing optional values are not.
func Load() (*Config, error) {
	cfg := &Config{}
	p := &parser{}

	// HTTP
	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	cfg.Env = getDefault("ENV", "development")
	cfg.MaxAudioBytes = int64(p.intEnv("MAX_AUDIO_BYTES", 25<<20))

	// OpenAI
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIModel = getDefault("OPENAI_MODEL", "gpt-4o-mini")
	cfg.OpenAISTTModel = getDefault("OPENAI_STT_MODEL", "whisper-1")
	cfg.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	cfg.OpenAITimeout = p.durationEnv("OPENAI_TIMEOUT", 20*time.Second)
	cfg.STTLanguage = getDefault("STT_LANGUAGE", "en")

	// Feed storage
	cfg.ChatFilePath = getDefault("CHAT_FILE_PATH", "chat_messages.json")
	cfg.StoreBackend = strings.ToLower(getDefault("STORE_BACKEND", StoreFile))
	if cfg.StoreBackend != StoreFile && cfg.StoreBackend != StoreRedis {
		p.fail("STORE_BACKEND", cfg.StoreBackend, fmt.Errorf("want %q or %q", StoreFile, StoreRedis))
	}
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.RedisKey = getDefault("REDIS_KEY", "chatfeed:messages")
	cfg.ChatHistoryLimit = p.intEnv("CHAT_HISTORY_LIMIT", 20)

	// Synthetic chat
	cfg.Cooldown = p.durationEnv("CHAT_COOLDOWN", 15*time.Second)
	cfg.SequenceBuffer = p.durationEnv("CHAT_SEQUENCE_BUFFER", 5*time.Second)
	cfg.MaxFollowUps = p.intEnv("CHAT_MAX_FOLLOWUPS", 3)
	cfg.CasualProbability = p.floatEnv("CHAT_CASUAL_PROBABILITY", 0.15)
	if cfg.CasualProbability < 0 || cfg.CasualProbability > 1 {
		p.fail("CHAT_CASUAL_PROBABILITY", os.Getenv("CHAT_CASUAL_PROBABILITY"), fmt.Errorf("must be within [0, 1]"))
	}
	cfg.SkipReplyWhileActive = p.boolEnv("CHAT_SKIP_REPLY_WHILE_ACTIVE", false)
	cfg.AmbientEnabled = p.boolEnv("CHAT_AMBIENT_ENABLED", true)
	cfg.AmbientMin = p.durationEnv("CHAT_AMBIENT_MIN", 30*time.Second)
	cfg.AmbientMax = p.durationEnv("CHAT_AMBIENT_MAX", 120*time.Second)
	if cfg.AmbientMax < cfg.AmbientMin {
		p.fail("CHAT_AMBIENT_MAX", cfg.AmbientMax.String(), fmt.Errorf("below CHAT_AMBIENT_MIN %s", cfg.AmbientMin))
	}
	cfg.AmbientQuietBelow = p.intEnv("CHAT_AMBIENT_QUIET_BELOW", 10)
	cfg.MaxConcurrentTasks = int64(p.intEnv("CHAT_MAX_CONCURRENT_TASKS", 8))
	cfg.RandSeed = p.uintEnv("CHAT_RAND_SEED", 0)
	cfg.PhrasesFile = os.Getenv("PHRASES_FILE")

	// Database archive
	cfg.DBDsn = os.Getenv("DB_DSN")

	// Twitch
	cfg.TwitchChannel = os.Getenv("TWITCH_CHANNEL")
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.ChatAutoStart = p.boolEnv("CHAT_AUTO_START", false)
	cfg.ChatAutoPollInterval = p.durationEnv("CHAT_AUTO_POLL_INTERVAL", 30*time.Second)

	// YouTube
	cfg.YTClientID = os.Getenv("YT_CLIENT_ID")
	cfg.YTClientSecret = os.Getenv("YT_CLIENT_SECRET")
	cfg.YTRefreshToken = os.Getenv("YT_REFRESH_TOKEN")
	cfg.YTLiveChatID = os.Getenv("YT_LIVE_CHAT_ID")
	cfg.YTVideoID = os.Getenv("YT_VIDEO_ID")

	// Restart
	cfg.RestartAddr = getDefault("RESTART_ADDR", ":8081")
	cfg.RestartFlagPath = getDefault("RESTART_FLAG_PATH", ".restart_requested")
	cfg.RestartWatch = p.boolEnv("RESTART_WATCH", false)

	// Console
	cfg.ConsoleEnabled = p.boolEnv("CONSOLE_ENABLED", true)

	// Middleware
	cfg.RateLimitEnabled = p.boolEnv("RATE_LIMIT_ENABLED", true)
	cfg.RateLimitRequestsPerIP = p.intEnv("RATE_LIMIT_REQUESTS_PER_IP", 120)
	cfg.RateLimitWindow = time.Duration(p.intEnv("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second
	cfg.CORSPermissive = p.boolEnv("CORS_PERMISSIVE", cfg.Env == "development")
	for _, o := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

// OpenAIConfigured reports whether the STT and completion collaborators can be built.
func (c *Config) OpenAIConfigured() bool { return c.OpenAIAPIKey != "" }

// TwitchChatEnabled reports whether a Twitch channel is set for the IRC bridge.
func (c *Config) TwitchChatEnabled() bool { return c.TwitchChannel != "" }

// TwitchAutoEnabled reports whether the live-status poller can run.
func (c *Config) TwitchAutoEnabled() bool {
	return c.ChatAutoStart && c.TwitchChannel != "" && c.TwitchClientID != "" && c.TwitchClientSecret != ""
}

// ValidateChatReady checks the credentials needed to join Twitch chat as a
// named bot. Anonymous read-only joins only need TWITCH_CHANNEL.
func (c *Config) ValidateChatReady() error {
	if c.TwitchChannel == "" || c.TwitchBotUsername == "" || c.TwitchOAuthToken == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CHANNEL, TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN")
	}
	return nil
}

func getDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// parser keeps the first malformed variable.
type parser struct {
	err error
}

func (p *parser) fail(key, val string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s=%q: %w", key, val, err)
	}
}

func (p *parser) intEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

func (p *parser) uintEnv(key string, def uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

func (p *parser) floatEnv(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return f
}

func (p *parser) boolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return b
}

// duration accepts Go durations ("15s") or bare seconds ("15").
func (p *parser) durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return d
}
