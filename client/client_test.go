package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/chatfeed/audio"
	"github.com/onnwee/chatfeed/restart"
)

type fakeServer struct {
	mu       sync.Mutex
	healthy  atomic.Bool
	uploads  [][]byte
	lastJSON map[string]string
}

func (fs *fakeServer) sent() map[string]string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.lastJSON
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	fs := &fakeServer{}
	fs.healthy.Store(true)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if !fs.healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"status":"healthy","openai_configured":true}`)
	})
	mux.HandleFunc("POST /api/process_audio", func(w http.ResponseWriter, r *http.Request) {
		f, _, err := r.FormFile("audio")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"missing audio file"}`)
			return
		}
		b, _ := io.ReadAll(f)
		fs.mu.Lock()
		fs.uploads = append(fs.uploads, b)
		fs.mu.Unlock()
		_, _ = io.WriteString(w, `{"status":"success","transcript":"hello","response":"nice"}`)
	})
	record := func(w http.ResponseWriter, r *http.Request, reply string) {
		var m map[string]string
		_ = json.NewDecoder(r.Body).Decode(&m)
		fs.mu.Lock()
		fs.lastJSON = m
		fs.mu.Unlock()
		_, _ = io.WriteString(w, reply)
	}
	mux.HandleFunc("POST /api/test_text", func(w http.ResponseWriter, r *http.Request) {
		record(w, r, `{"status":"success","input":"hi","response":"lol"}`)
	})
	mux.HandleFunc("POST /api/message", func(w http.ResponseWriter, r *http.Request) {
		record(w, r, `{"ok":true}`)
	})
	mux.HandleFunc("POST /api/clear_chat", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"Failed to clear chat file: disk full"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fs, srv
}

func TestHealth(t *testing.T) {
	fs, srv := newFakeServer(t)
	c := New(srv.URL+"/", "")
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	fs.healthy.Store(false)
	if err := c.Health(context.Background()); !errors.Is(err, ErrUnhealthy) {
		t.Errorf("Health() error = %v, want ErrUnhealthy", err)
	}
	if err := c.RestartHealth(context.Background()); err == nil {
		t.Error("RestartHealth() without URL should fail")
	}
}

func TestSendTextAndPost(t *testing.T) {
	fs, srv := newFakeServer(t)
	c := New(srv.URL, "")

	res, err := c.SendText(context.Background(), "hi")
	if err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if res.Response != "lol" || fs.sent()["text"] != "hi" {
		t.Errorf("SendText() = %+v, sent %v", res, fs.sent())
	}

	if err := c.PostMessage(context.Background(), "PC", "brb"); err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}
	if sent := fs.sent(); sent["user"] != "PC" || sent["text"] != "brb" {
		t.Errorf("posted %v", sent)
	}
}

func TestErrorBodySurfaced(t *testing.T) {
	_, srv := newFakeServer(t)
	err := New(srv.URL, "").ClearChat(context.Background())
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("ClearChat() error = %v", err)
	}
}

func TestRestartAndWait(t *testing.T) {
	fs, srv := newFakeServer(t)
	flag := restart.NewFlag(filepath.Join(t.TempDir(), restart.DefaultFlagPath))
	rs := httptest.NewServer(restart.Handler(flag))
	t.Cleanup(rs.Close)

	c := New(srv.URL, rs.URL)
	if err := c.RestartHealth(context.Background()); err != nil {
		t.Fatalf("RestartHealth() error = %v", err)
	}
	res, err := c.Restart(context.Background())
	if err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if res.Status != "restart_requested" || !flag.Pending() {
		t.Errorf("Restart() = %+v pending=%v", res, flag.Pending())
	}

	fs.healthy.Store(false)
	go func() {
		time.Sleep(50 * time.Millisecond)
		fs.healthy.Store(true)
	}()
	if _, err := c.WaitHealthy(context.Background(), 5*time.Second, 10*time.Millisecond); err != nil {
		t.Errorf("WaitHealthy() error = %v", err)
	}

	fs.healthy.Store(false)
	if _, err := c.WaitHealthy(context.Background(), 50*time.Millisecond, 10*time.Millisecond); err == nil {
		t.Error("WaitHealthy() should time out")
	}
}

type fakeRecorder struct {
	mu     sync.Mutex
	chunks [][]int16
	calls  int
}

func (f *fakeRecorder) SampleRate() int { return audio.SampleRate }

func (f *fakeRecorder) Record(ctx context.Context, _ time.Duration) ([]int16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.chunks) == 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	c := f.chunks[0]
	f.chunks = f.chunks[1:]
	if c == nil {
		return nil, errors.New("device busy")
	}
	return c, nil
}

func tone(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 4000
		} else {
			out[i] = -4000
		}
	}
	return out
}

func TestCaptureSkipsSilenceAndUploads(t *testing.T) {
	fs, srv := newFakeServer(t)
	rec := &fakeRecorder{chunks: [][]int16{make([]int16, 1600), nil, tone(1600)}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	results := make(chan AudioResult, 1)
	done := make(chan error, 1)
	go func() {
		done <- Capture(ctx, rec, New(srv.URL, ""), CaptureOptions{
			Interval:   time.Millisecond,
			ErrorPause: time.Millisecond,
			OnResult:   func(r AudioResult) { results <- r },
		})
	}()

	select {
	case r := <-results:
		if r.Status != "success" || r.Transcript != "hello" {
			t.Errorf("result = %+v", r)
		}
	case <-ctx.Done():
		t.Fatal("no upload before deadline")
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Capture() error = %v", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.uploads) != 1 {
		t.Fatalf("uploads = %d, want 1 (silence skipped)", len(fs.uploads))
	}
	samples, rate, err := audio.DecodeWAV(fs.uploads[0])
	if err != nil || rate != audio.SampleRate || len(samples) != 1600 {
		t.Errorf("uploaded wav: rate=%d len=%d err=%v", rate, len(samples), err)
	}
}
