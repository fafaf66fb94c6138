package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter(t *testing.T) {
	cfg := &rateLimiterConfig{
		enabled:       true,
		requestsPerIP: 3,
		window:        100 * time.Millisecond,
	}
	limiter := newIPRateLimiter(t.Context(), cfg)

	for i := 0; i < 3; i++ {
		if !limiter.allow("192.168.1.1") {
			t.Errorf("request %d should be allowed", i+1)
		}
	}
	if limiter.allow("192.168.1.1") {
		t.Error("request 4 should be denied (rate limit exceeded)")
	}

	time.Sleep(150 * time.Millisecond)

	if !limiter.allow("192.168.1.1") {
		t.Error("request after window expiry should be allowed")
	}
}

func TestRateLimiterDifferentIPs(t *testing.T) {
	cfg := &rateLimiterConfig{enabled: true, requestsPerIP: 2, window: time.Second}
	limiter := newIPRateLimiter(t.Context(), cfg)

	for _, ip := range []string{"192.168.1.1", "192.168.1.2"} {
		for i := 0; i < 2; i++ {
			if !limiter.allow(ip) {
				t.Errorf("%s request %d should be allowed", ip, i+1)
			}
		}
	}
	for _, ip := range []string{"192.168.1.1", "192.168.1.2"} {
		if limiter.allow(ip) {
			t.Errorf("%s request 3 should be denied", ip)
		}
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := newIPRateLimiter(t.Context(), &rateLimiterConfig{enabled: false, requestsPerIP: 1, window: time.Second})
	for i := 0; i < 100; i++ {
		if !limiter.allow("192.168.1.1") {
			t.Fatalf("request %d should be allowed when rate limiter is disabled", i+1)
		}
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	limiter := newIPRateLimiter(t.Context(), &rateLimiterConfig{enabled: true, requestsPerIP: 1, window: time.Second})
	limiter.allow("10.0.0.1")
	limiter.cleanup(time.Now().Add(3 * time.Second))

	limiter.mu.Lock()
	n := len(limiter.visitors)
	limiter.mu.Unlock()
	if n != 0 {
		t.Errorf("visitors after cleanup = %d, want 0", n)
	}
}

func TestNewRateLimiterConfigDefaults(t *testing.T) {
	cfg := newRateLimiterConfig(RateLimitOptions{Enabled: true})
	if cfg.requestsPerIP != 120 || cfg.window != time.Minute {
		t.Errorf("defaults = %d per %v", cfg.requestsPerIP, cfg.window)
	}
	cfg = newRateLimiterConfig(RateLimitOptions{Enabled: true, RequestsPerIP: 5, Window: 10 * time.Second})
	if cfg.requestsPerIP != 5 || cfg.window != 10*time.Second {
		t.Errorf("explicit = %d per %v", cfg.requestsPerIP, cfg.window)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := newIPRateLimiter(t.Context(), &rateLimiterConfig{enabled: true, requestsPerIP: 2, window: time.Second})
	handler := rateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), limiter)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/test_text", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i+1, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/test_text", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", rr.Header().Get("Retry-After"))
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"ipv4 with port", "192.168.1.1:12345", "", "192.168.1.1"},
		{"ipv4 without port", "192.168.1.1", "", "192.168.1.1"},
		{"ipv6 with port", "[2001:db8::1]:8080", "", "2001:db8::1"},
		{"ipv6 without port", "2001:db8::1", "", "2001:db8::1"},
		{"bracketed ipv6 without port", "[::1]", "", "::1"},
		{"forwarded first hop", "10.0.0.1:1", "203.0.113.7, 10.0.0.1", "203.0.113.7"},
		{"forwarded with port", "10.0.0.1:1", "203.0.113.7:5555", "203.0.113.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	tests := []struct {
		name       string
		opts       CORSOptions
		origin     string
		wantHeader string
	}{
		{"permissive", CORSOptions{Permissive: true}, "https://anything.test", "*"},
		{"allowed origin", CORSOptions{AllowedOrigins: []string{"https://overlay.example.com"}}, "https://overlay.example.com", "https://overlay.example.com"},
		{"disallowed origin", CORSOptions{AllowedOrigins: []string{"https://overlay.example.com"}}, "https://evil.test", ""},
		{"no origins configured", CORSOptions{}, "https://overlay.example.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()
			withCORS(ok, tt.opts).ServeHTTP(rr, req)
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantHeader {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantHeader)
			}
		})
	}
}

func TestCORSPreflightRequest(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	req := httptest.NewRequest(http.MethodOptions, "/api/process_audio", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	withCORS(next, CORSOptions{Permissive: true}).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rr.Code)
	}
	if called {
		t.Error("preflight reached the wrapped handler")
	}
}

func TestIsOriginAllowed(t *testing.T) {
	allowed := []string{"https://example.com", "*.overlay.tv"}
	tests := []struct {
		origin string
		want   bool
	}{
		{"https://example.com", true},
		{"https://other.com", false},
		{"https://obs.overlay.tv", true},
		{"https://overlay.tv", true},
		{"http://overlay.tv", true},
		{"https://notoverlay.tv", false},
	}
	for _, tt := range tests {
		if got := isOriginAllowed(tt.origin, allowed); got != tt.want {
			t.Errorf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
