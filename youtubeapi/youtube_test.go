package youtubeapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/chatfeed/feed"
)

type mockYouTube struct {
	mu     sync.Mutex
	pages  map[string]map[string]any
	tokens []string
	auth   []string
}

func newMockYouTube(t *testing.T) (*mockYouTube, *httptest.Server) {
	t.Helper()
	m := &mockYouTube{pages: map[string]map[string]any{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("refresh_token") != "refresh-1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "yt-access", "token_type": "Bearer", "expires_in": 3600})
	})
	mux.HandleFunc("/youtube/v3/liveChat/messages", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		tok := r.URL.Query().Get("pageToken")
		m.tokens = append(m.tokens, tok)
		m.auth = append(m.auth, r.Header.Get("Authorization"))
		page, ok := m.pages[tok]
		m.mu.Unlock()
		if r.URL.Query().Get("liveChatId") != "chat-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if !ok {
			page = map[string]any{"nextPageToken": tok, "pollingIntervalMillis": 5000, "items": []any{}}
		}
		_ = json.NewEncoder(w).Encode(page)
	})
	mux.HandleFunc("/youtube/v3/videos", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "vid-1" {
			_ = json.NewEncoder(w).Encode(map[string]any{"items": []any{}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": []any{
			map[string]any{"id": "vid-1", "liveStreamingDetails": map[string]any{"activeLiveChatId": "chat-1"}},
		}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return m, srv
}

func (m *mockYouTube) setPage(token string, page map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[token] = page
}

func message(name, text string, author map[string]any) map[string]any {
	author["displayName"] = name
	return map[string]any{
		"snippet":       map[string]any{"type": "textMessageEvent", "displayMessage": text},
		"authorDetails": author,
	}
}

func testConfig(srv *httptest.Server) Config {
	return Config{
		ClientID:     "cid",
		ClientSecret: "secret",
		RefreshToken: "refresh-1",
		LiveChatID:   "chat-1",
		TokenURL:     srv.URL + "/token",
		BaseURL:      srv.URL + "/",
	}
}

type memFeed struct {
	mu      sync.Mutex
	entries []feed.Entry
}

func (f *memFeed) Append(e feed.Entry) feed.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return e
}

func TestConfigured(t *testing.T) {
	cfg := Config{ClientID: "a", ClientSecret: "b", RefreshToken: "c"}
	if cfg.Configured() {
		t.Error("configured without a chat or video id")
	}
	cfg.VideoID = "v"
	if !cfg.Configured() {
		t.Error("not configured with video id")
	}
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Error("New() without credentials should fail")
	}
}

func TestPollMapsMessages(t *testing.T) {
	m, srv := newMockYouTube(t)
	m.setPage("", map[string]any{
		"nextPageToken":         "p2",
		"pollingIntervalMillis": 500,
		"items": []any{
			message("Owner", "welcome", map[string]any{"isChatOwner": true}),
			message("Mod", "no spam", map[string]any{"isChatModerator": true}),
			message("Member", "hype", map[string]any{"isChatSponsor": true}),
			message("Viewer", "hi", map[string]any{}),
			message("Empty", "", map[string]any{}),
		},
	})

	lc, err := New(context.Background(), testConfig(srv))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	p, err := lc.Poll(context.Background(), "")
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if p.NextPageToken != "p2" || p.PollAfter != minPollInterval {
		t.Errorf("page = %+v", p)
	}
	if len(p.Entries) != 4 {
		t.Fatalf("entries = %+v", p.Entries)
	}
	wantColors := []string{ColorOwner, ColorModerator, ColorMember, ""}
	for i, e := range p.Entries {
		if e.Color != wantColors[i] || e.Source != feed.SourceYouTube {
			t.Errorf("entry %d = %+v", i, e)
		}
	}
	if p.Entries[3].Username != "Viewer" || p.Entries[3].Message != "hi" {
		t.Errorf("viewer entry = %+v", p.Entries[3])
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.auth[0] != "Bearer yt-access" {
		t.Errorf("Authorization = %q", m.auth[0])
	}
}

func TestResolveLiveChatID(t *testing.T) {
	_, srv := newMockYouTube(t)
	lc, err := New(context.Background(), testConfig(srv))
	if err != nil {
		t.Fatal(err)
	}
	id, err := lc.ResolveLiveChatID(context.Background(), "vid-1")
	if err != nil || id != "chat-1" {
		t.Errorf("ResolveLiveChatID() = %q, %v", id, err)
	}
	if _, err := lc.ResolveLiveChatID(context.Background(), "offline"); err == nil {
		t.Error("expected error for a video without live chat")
	}
}

func TestRunSkipsBacklog(t *testing.T) {
	m, srv := newMockYouTube(t)
	m.setPage("", map[string]any{"nextPageToken": "p2", "items": []any{message("Old", "backlog", map[string]any{})}})
	m.setPage("p2", map[string]any{"nextPageToken": "p3", "items": []any{message("New", "fresh", map[string]any{})}})

	cfg := testConfig(srv)
	cfg.LiveChatID = ""
	cfg.VideoID = "vid-1"
	lc, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	polls := 0
	lc.sleep = func(ctx context.Context, d time.Duration) error {
		polls++
		if d < minPollInterval {
			t.Errorf("sleep %v below minimum", d)
		}
		if polls == 2 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	f := &memFeed{}
	if err := lc.Run(ctx, f); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(f.entries) != 1 || f.entries[0].Message != "fresh" {
		t.Errorf("entries = %+v", f.entries)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tokens) != 2 || m.tokens[1] != "p2" {
		t.Errorf("page tokens = %v", m.tokens)
	}
}
