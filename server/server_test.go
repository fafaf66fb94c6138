package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/onnwee/chatfeed/chat"
	"github.com/onnwee/chatfeed/clock"
	"github.com/onnwee/chatfeed/db"
	"github.com/onnwee/chatfeed/feed"
	"github.com/onnwee/chatfeed/identity"
	"github.com/onnwee/chatfeed/phrases"
	"github.com/onnwee/chatfeed/pipeline"
	"github.com/onnwee/chatfeed/rng"
	"github.com/onnwee/chatfeed/testutil"
)

type fixedSTT string

func (s fixedSTT) Transcribe(context.Context, []byte) (string, error) { return string(s), nil }

type fixedReplier string

func (r fixedReplier) SelectReply(_ context.Context, transcript string) string {
	if transcript == "" {
		return ""
	}
	return string(r)
}

type testEnv struct {
	store   *feed.Store
	clock   *clock.Fake
	path    string
	handler http.Handler
}

// newTestEnv wires the real feed, sequencer and pipeline behind the mux with
// a simulated clock. A nil stt exercises the unexpected-failure path.
func newTestEnv(t *testing.T, stt pipeline.Transcriber, deps Deps, opts Options) *testEnv {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	path := filepath.Join(t.TempDir(), "chat_messages.json")
	store := feed.New(feed.DefaultLimit, &feed.FilePersister{Path: path}, feed.WithNow(clk.Now))
	cat := phrases.Default()
	src := rng.New(7)
	ids := identity.New(src, cat)
	sched := chat.NewScheduler(clk, 4)
	t.Cleanup(sched.Close)
	seq := chat.NewSequencer(store, ids, cat, src, clk, sched, chat.SequencerConfig{})

	deps.Store = store
	if deps.Pipeline == nil {
		deps.Pipeline = pipeline.New(stt, fixedReplier("nice"), seq, ids)
	}
	return &testEnv{store: store, clock: clk, path: path, handler: NewMux(t.Context(), deps, opts)}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func audioRequest(t *testing.T, field string, audio []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "chunk.wav")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(audio); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/process_audio", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, fixedSTT(""), Deps{OpenAIConfigured: true}, Options{})
	rr := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	got := decode[healthResponse](t, rr)
	if got.Status != "healthy" || !got.OpenAIConfigured {
		t.Errorf("health = %+v", got)
	}
}

func TestHealthzOK(t *testing.T) {
	env := newTestEnv(t, fixedSTT(""), Deps{}, Options{})
	rr := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rr.Code, rr.Body.String())
	}
}

func TestReadyz(t *testing.T) {
	failing := Check{Name: "redis", Fn: func(context.Context) error { return errors.New("connection refused") }}
	passing := Check{Name: "db", Fn: func(context.Context) error { return nil }}

	env := newTestEnv(t, fixedSTT(""), Deps{Checks: []Check{passing}}, Options{})
	if rr := env.do(httptest.NewRequest(http.MethodGet, "/readyz", nil)); rr.Code != http.StatusOK {
		t.Errorf("ready: got %d", rr.Code)
	}

	env = newTestEnv(t, fixedSTT(""), Deps{Checks: []Check{passing, failing}}, Options{})
	rr := env.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("not ready: got %d", rr.Code)
	}
	if got := decode[map[string]string](t, rr); got["failed_check"] != "redis" {
		t.Errorf("failed_check = %q", got["failed_check"])
	}
}

func TestProcessAudioNoSpeech(t *testing.T) {
	env := newTestEnv(t, fixedSTT(""), Deps{}, Options{})
	rr := env.do(audioRequest(t, "audio", make([]byte, 1024)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != `{"status":"no_speech","transcript":""}` {
		t.Errorf("body = %s", got)
	}
	if env.store.Len() != 0 {
		t.Errorf("store changed on no_speech: %+v", env.store.List())
	}
}

func TestProcessAudioStartsBurst(t *testing.T) {
	env := newTestEnv(t, fixedSTT("hello world"), Deps{}, Options{})
	rr := env.do(audioRequest(t, "audio", []byte("RIFF....WAVE")))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	got := decode[audioResponse](t, rr)
	want := audioResponse{Status: pipeline.StatusSuccess, Transcript: "hello world", Response: "nice"}
	if got != want {
		t.Errorf("response = %+v, want %+v", got, want)
	}

	entries := env.store.List()
	if len(entries) != 1 || entries[0].Message != "nice" || entries[0].Username == "" {
		t.Fatalf("immediate entries = %+v", entries)
	}

	env.clock.Advance(20 * time.Second)
	if n := env.store.Len() - 1; n < 1 || n > 3 {
		t.Errorf("follow-ups = %d, want 1..3", n)
	}

	latest := env.do(httptest.NewRequest(http.MethodGet, "/api/latest", nil))
	if l := decode[pipeline.Latest](t, latest); l.Text != "nice" || l.Transcript != "hello world" {
		t.Errorf("latest = %+v", l)
	}
}

func TestProcessAudioAcceptsFileField(t *testing.T) {
	env := newTestEnv(t, fixedSTT("hi"), Deps{}, Options{})
	if rr := env.do(audioRequest(t, "file", []byte("x"))); rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestProcessAudioRejects(t *testing.T) {
	env := newTestEnv(t, fixedSTT("hi"), Deps{}, Options{MaxAudioBytes: 16})

	if rr := env.do(httptest.NewRequest(http.MethodGet, "/api/process_audio", nil)); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET: got %d", rr.Code)
	}
	if rr := env.do(audioRequest(t, "other", []byte("x"))); rr.Code != http.StatusBadRequest {
		t.Errorf("missing field: got %d", rr.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/process_audio", strings.NewReader("raw"))
	if rr := env.do(req); rr.Code != http.StatusBadRequest {
		t.Errorf("not multipart: got %d", rr.Code)
	}
	if rr := env.do(audioRequest(t, "audio", make([]byte, 64))); rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized: got %d", rr.Code)
	}
}

func TestProcessAudioUnexpectedFailure(t *testing.T) {
	env := newTestEnv(t, nil, Deps{}, Options{})
	rr := env.do(audioRequest(t, "audio", []byte("x")))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if got := decode[map[string]string](t, rr); got["status"] != pipeline.StatusError || got["error"] == "" {
		t.Errorf("body = %+v", got)
	}
}

func TestTestText(t *testing.T) {
	env := newTestEnv(t, fixedSTT(""), Deps{}, Options{})

	for _, body := range []string{`{"text":""}`, `{"text":"   "}`, `{}`, ``} {
		rr := env.do(httptest.NewRequest(http.MethodPost, "/api/test_text", strings.NewReader(body)))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %q: got %d", body, rr.Code)
		}
		if got := decode[map[string]string](t, rr); got["error"] != "No text provided" {
			t.Errorf("body %q: error = %q", body, got["error"])
		}
	}

	rr := env.do(httptest.NewRequest(http.MethodPost, "/api/test_text", strings.NewReader(`{"text":"what game is this"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	got := decode[map[string]string](t, rr)
	if got["status"] != "success" || got["input"] != "what game is this" || got["response"] != "nice" {
		t.Errorf("response = %+v", got)
	}
	if env.store.Len() != 0 {
		t.Error("test_text scheduled chat entries")
	}
}

func TestMessagesEndpoints(t *testing.T) {
	env := newTestEnv(t, fixedSTT(""), Deps{}, Options{})
	for _, path := range []string{"/api/messages", "/api/chat"} {
		rr := env.do(httptest.NewRequest(http.MethodGet, path, nil))
		if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
			t.Errorf("%s empty = %s", path, got)
		}
	}

	env.store.Append(feed.Entry{Username: "a", Message: "first"})
	env.store.Append(feed.Entry{Username: "b", Message: "second"})
	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/chat", nil))
	entries := decode[[]feed.Entry](t, rr)
	if len(entries) != 2 || entries[0].Message != "first" || entries[1].Message != "second" {
		t.Errorf("entries = %+v", entries)
	}
	if entries[0].Timestamp != "09:00:00" {
		t.Errorf("timestamp = %q", entries[0].Timestamp)
	}
}

func TestClearChat(t *testing.T) {
	env := newTestEnv(t, fixedSTT(""), Deps{}, Options{})
	env.store.Append(feed.Entry{Username: "a", Message: "hello"})

	if rr := env.do(httptest.NewRequest(http.MethodGet, "/api/clear_chat", nil)); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET: got %d", rr.Code)
	}
	rr := env.do(httptest.NewRequest(http.MethodPost, "/api/clear_chat", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := decode[map[string]string](t, rr); got["status"] != "Chat cleared successfully" {
		t.Errorf("status = %q", got["status"])
	}
	if env.store.Len() != 0 {
		t.Error("store not empty after clear")
	}
	b, err := os.ReadFile(env.path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(b)) != "[]" {
		t.Errorf("durable file = %s", b)
	}
}

func TestClearChatPersistFailure(t *testing.T) {
	env := newTestEnv(t, fixedSTT(""), Deps{}, Options{})
	// A directory in place of the file makes the rename fail.
	if err := os.MkdirAll(filepath.Join(env.path, "blocker"), 0o755); err != nil {
		t.Fatal(err)
	}
	rr := env.do(httptest.NewRequest(http.MethodPost, "/api/clear_chat", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if got := decode[map[string]string](t, rr); !strings.HasPrefix(got["error"], "Failed to clear chat file: ") {
		t.Errorf("error = %q", got["error"])
	}
}

func TestPostMessageAndLast(t *testing.T) {
	env := newTestEnv(t, fixedSTT(""), Deps{}, Options{})

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/last", nil))
	if got := decode[lastMessage](t, rr); got != (lastMessage{}) {
		t.Errorf("empty last = %+v", got)
	}

	if rr := env.do(httptest.NewRequest(http.MethodPost, "/api/message", strings.NewReader(`{"user":"x"}`))); rr.Code != http.StatusBadRequest {
		t.Errorf("missing text: got %d", rr.Code)
	}

	rr = env.do(httptest.NewRequest(http.MethodPost, "/api/message", strings.NewReader(`{"text":"brb","ts":1717232400000}`)))
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != `{"ok":true}` {
		t.Fatalf("post = %d %s", rr.Code, rr.Body.String())
	}
	long := strings.Repeat("n", 40)
	env.do(httptest.NewRequest(http.MethodPost, "/api/message", strings.NewReader(`{"text":"hi","user":"`+long+`"}`)))

	entries := env.store.List()
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Username != "PC" || entries[0].Source != feed.SourceManual || entries[0].TS != 1717232400000 {
		t.Errorf("first = %+v", entries[0])
	}
	if len(entries[1].Username) != feed.MaxUsernameLen {
		t.Errorf("username not capped: %q", entries[1].Username)
	}

	rr = env.do(httptest.NewRequest(http.MethodGet, "/api/last", nil))
	if got := decode[lastMessage](t, rr); got.Text != "hi" || got.User != entries[1].Username {
		t.Errorf("last = %+v", got)
	}
}

type stubHistory struct {
	limit int
}

func (s *stubHistory) Recent(_ context.Context, limit int) ([]feed.Entry, error) {
	s.limit = limit
	return nil, nil
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t, fixedSTT(""), Deps{}, Options{})
	if rr := env.do(httptest.NewRequest(http.MethodGet, "/api/history", nil)); rr.Code != http.StatusNotFound {
		t.Errorf("unconfigured: got %d", rr.Code)
	}

	hist := &stubHistory{}
	env = newTestEnv(t, fixedSTT(""), Deps{History: hist}, Options{})
	tests := []struct {
		query string
		want  int
	}{
		{"", 100},
		{"?limit=5", 5},
		{"?limit=0", 100},
		{"?limit=99999", 1000},
		{"?limit=abc", 100},
	}
	for _, tt := range tests {
		rr := env.do(httptest.NewRequest(http.MethodGet, "/api/history"+tt.query, nil))
		if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
			t.Errorf("%q: %d %s", tt.query, rr.Code, rr.Body.String())
		}
		if hist.limit != tt.want {
			t.Errorf("%q: limit = %d, want %d", tt.query, hist.limit, tt.want)
		}
	}
}

func TestHistoryFromArchive(t *testing.T) {
	database := testutil.SetupTestDB(t)
	archive := db.NewArchiver(database, 8)
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i, msg := range []string{"first", "second", "third"} {
		e := feed.Entry{
			ID:       "hist-" + msg,
			Username: "viewer",
			Message:  msg,
			Source:   feed.SourceTwitch,
			TS:       base.Add(time.Duration(i) * time.Second).UnixMilli(),
		}
		if err := archive.Insert(t.Context(), e); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	env := newTestEnv(t, fixedSTT(""), Deps{History: archive}, Options{})
	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/history?limit=2", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	got := decode[[]feed.Entry](t, rr)
	if len(got) != 2 || got[0].Message != "second" || got[1].Message != "third" {
		t.Errorf("history = %+v", got)
	}
}

func TestOverlayServed(t *testing.T) {
	env := newTestEnv(t, fixedSTT(""), Deps{}, Options{})
	for _, path := range []string{"/overlay", "/overlay.html"} {
		rr := env.do(httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "/api/ws") {
			t.Errorf("%s = %d", path, rr.Code)
		}
	}
	rr := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.Contains(rr.Body.String(), `href="/overlay"`) {
		t.Error("index does not link the overlay")
	}
	if rr := env.do(httptest.NewRequest(http.MethodGet, "/nope", nil)); rr.Code != http.StatusNotFound {
		t.Errorf("unknown path: got %d", rr.Code)
	}
}

func TestCorrelationIDHeader(t *testing.T) {
	env := newTestEnv(t, fixedSTT(""), Deps{}, Options{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	if got := env.do(req).Header().Get("X-Correlation-ID"); got != "abc-123" {
		t.Errorf("echoed correlation = %q", got)
	}
	if got := env.do(httptest.NewRequest(http.MethodGet, "/health", nil)).Header().Get("X-Correlation-ID"); got == "" {
		t.Error("no correlation id generated")
	}
}

func TestRateLimitedUploads(t *testing.T) {
	env := newTestEnv(t, fixedSTT(""), Deps{}, Options{RateLimit: RateLimitOptions{Enabled: true, RequestsPerIP: 1, Window: time.Minute}})
	post := func() int {
		return env.do(httptest.NewRequest(http.MethodPost, "/api/test_text", strings.NewReader(`{"text":"a"}`))).Code
	}
	if got := post(); got != http.StatusOK {
		t.Fatalf("first: got %d", got)
	}
	if got := post(); got != http.StatusTooManyRequests {
		t.Errorf("second: got %d", got)
	}
	for i := 0; i < 3; i++ {
		if rr := env.do(httptest.NewRequest(http.MethodGet, "/api/messages", nil)); rr.Code != http.StatusOK {
			t.Errorf("reads are not limited: got %d", rr.Code)
		}
	}
}

func readSSEData(t *testing.T, r *bufio.Reader) []feed.Entry {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			var entries []feed.Entry
			if err := json.Unmarshal([]byte(data), &entries); err != nil {
				t.Fatalf("decode event %q: %v", data, err)
			}
			return entries
		}
	}
}

func TestStreamPushesChanges(t *testing.T) {
	env := newTestEnv(t, fixedSTT(""), Deps{}, Options{})
	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	if got := readSSEData(t, r); len(got) != 0 {
		t.Errorf("initial = %+v", got)
	}
	env.store.Append(feed.Entry{Username: "a", Message: "live"})
	if got := readSSEData(t, r); len(got) != 1 || got[0].Message != "live" {
		t.Errorf("after append = %+v", got)
	}
}

func TestWebSocketPushesChanges(t *testing.T) {
	env := newTestEnv(t, fixedSTT(""), Deps{}, Options{CORS: CORSOptions{Permissive: true}})
	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.CloseNow()

	var got []feed.Entry
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("initial = %+v", got)
	}
	env.store.Append(feed.Entry{Username: "a", Message: "live"})
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Message != "live" {
		t.Errorf("after append = %+v", got)
	}
}

func TestStartAndShutdown(t *testing.T) {
	env := newTestEnv(t, fixedSTT(""), Deps{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Start(ctx, Deps{Store: env.store, Pipeline: pipeline.New(nil, fixedReplier(""), nil, nil)}, Options{}, "127.0.0.1:0")
	}()

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}
