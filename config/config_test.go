package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every variable Load reads so ambient values do not leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"HTTP_ADDR", "PORT", "ENV", "MAX_AUDIO_BYTES", "OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_TIMEOUT",
		"STORE_BACKEND", "CHAT_HISTORY_LIMIT", "CHAT_COOLDOWN", "CHAT_CASUAL_PROBABILITY",
		"CHAT_AMBIENT_MIN", "CHAT_AMBIENT_MAX", "CHAT_RAND_SEED", "CHAT_AUTO_START",
		"TWITCH_CHANNEL", "TWITCH_BOT_USERNAME", "TWITCH_OAUTH_TOKEN", "TWITCH_CLIENT_ID", "TWITCH_CLIENT_SECRET",
		"CORS_PERMISSIVE", "CORS_ALLOWED_ORIGINS", "RATE_LIMIT_WINDOW_SECONDS", "RESTART_WATCH",
	} {
		t.Setenv(k, "")
		if err := os.Unsetenv(k); err != nil {
			t.Fatalf("unset %s: %v", k, err)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.RestartAddr != ":8081" {
		t.Errorf("addrs = %q %q", cfg.HTTPAddr, cfg.RestartAddr)
	}
	if cfg.OpenAIModel != "gpt-4o-mini" || cfg.OpenAISTTModel != "whisper-1" || cfg.OpenAITimeout != 20*time.Second {
		t.Errorf("openai defaults = %q %q %v", cfg.OpenAIModel, cfg.OpenAISTTModel, cfg.OpenAITimeout)
	}
	if cfg.ChatHistoryLimit != 20 || cfg.Cooldown != 15*time.Second || cfg.SequenceBuffer != 5*time.Second || cfg.MaxFollowUps != 3 {
		t.Errorf("chat defaults = %+v", cfg)
	}
	if cfg.AmbientMin != 30*time.Second || cfg.AmbientMax != 120*time.Second || cfg.AmbientQuietBelow != 10 {
		t.Errorf("ambient defaults = %v %v %d", cfg.AmbientMin, cfg.AmbientMax, cfg.AmbientQuietBelow)
	}
	if cfg.StoreBackend != StoreFile || cfg.ChatFilePath != "chat_messages.json" {
		t.Errorf("store defaults = %q %q", cfg.StoreBackend, cfg.ChatFilePath)
	}
	if !cfg.CORSPermissive || !cfg.RateLimitEnabled || cfg.RateLimitWindow != time.Minute {
		t.Errorf("middleware defaults = %v %v %v", cfg.CORSPermissive, cfg.RateLimitEnabled, cfg.RateLimitWindow)
	}
	if cfg.OpenAIConfigured() || cfg.TwitchChatEnabled() || cfg.TwitchAutoEnabled() {
		t.Error("optional integrations enabled without credentials")
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("ENV", "production")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CHAT_COOLDOWN", "20")
	t.Setenv("CHAT_AMBIENT_MIN", "1m")
	t.Setenv("CHAT_AMBIENT_MAX", "90s")
	t.Setenv("CHAT_RAND_SEED", "42")
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("TWITCH_CHANNEL", "chan")
	t.Setenv("TWITCH_CLIENT_ID", "id")
	t.Setenv("TWITCH_CLIENT_SECRET", "secret")
	t.Setenv("CHAT_AUTO_START", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.Cooldown != 20*time.Second || cfg.AmbientMin != time.Minute || cfg.AmbientMax != 90*time.Second {
		t.Errorf("durations = %v %v %v", cfg.Cooldown, cfg.AmbientMin, cfg.AmbientMax)
	}
	if cfg.RandSeed != 42 || cfg.StoreBackend != StoreRedis {
		t.Errorf("seed=%d backend=%q", cfg.RandSeed, cfg.StoreBackend)
	}
	if cfg.CORSPermissive {
		t.Error("production should not default to permissive CORS")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Errorf("origins = %q", cfg.CORSAllowedOrigins)
	}
	if !cfg.OpenAIConfigured() || !cfg.TwitchAutoEnabled() {
		t.Error("integrations not enabled")
	}
}

func TestHTTPAddrWinsOverPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("HTTP_ADDR", "127.0.0.1:7000")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != "127.0.0.1:7000" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	tests := []struct {
		key, val string
	}{
		{"CHAT_HISTORY_LIMIT", "twenty"},
		{"CHAT_COOLDOWN", "soon"},
		{"CHAT_CASUAL_PROBABILITY", "1.5"},
		{"CHAT_RAND_SEED", "-1"},
		{"RESTART_WATCH", "maybe"},
		{"STORE_BACKEND", "s3"},
		{"CHAT_AMBIENT_MAX", "10s"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			if err == nil {
				t.Fatalf("Load() with %s=%q succeeded", tt.key, tt.val)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error %q does not name %s", err, tt.key)
			}
		})
	}
}

func TestValidateChatReady(t *testing.T) {
	clearEnv(t)
	t.Setenv("TWITCH_CHANNEL", "chan")
	t.Setenv("TWITCH_BOT_USERNAME", "bot")
	t.Setenv("TWITCH_OAUTH_TOKEN", "oauth:token")
	cfg, _ := Load()
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("expected valid chat config, got %v", err)
	}
	if err := os.Unsetenv("TWITCH_OAUTH_TOKEN"); err != nil {
		t.Fatalf("failed to unset TWITCH_OAUTH_TOKEN: %v", err)
	}
	cfg, _ = Load()
	if err := cfg.ValidateChatReady(); err == nil {
		t.Errorf("expected error when missing twitch envs")
	}
	if !cfg.TwitchChatEnabled() {
		t.Error("anonymous read should still be enabled with a channel")
	}
}
