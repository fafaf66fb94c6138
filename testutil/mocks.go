package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockTwitchServer creates a test server that mocks Twitch Helix and OAuth responses
type MockTwitchServer struct {
	*httptest.Server

	mu       sync.Mutex
	Handlers map[string]http.HandlerFunc
	Requests map[string]int
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
		Requests: make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.Requests[r.URL.Path]++
		handler, ok := m.Handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Count returns how many requests hit path.
func (m *MockTwitchServer) Count(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Requests[path]
}

// Handle registers h for path.
func (m *MockTwitchServer) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[path] = h
}

// MockStreamsResponse adds a handler for /helix/streams endpoint
func (m *MockTwitchServer) MockStreamsResponse(streams []map[string]interface{}) {
	m.Handle("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": streams})
	})
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	})
}

// MockOpenAI fakes the chat completion and transcription endpoints.
type MockOpenAI struct {
	*httptest.Server

	mu          sync.Mutex
	Transcript  string
	Reply       string
	FailSTT     bool
	FailChat    bool
	ChatCalls   int
	STTCalls    int
	LastModel   string
	LastAudio   []byte
	LastMessage string
}

// NewMockOpenAI starts a fake OpenAI-compatible API. Point a client at its URL.
func NewMockOpenAI(t *testing.T) *MockOpenAI {
	t.Helper()
	m := &MockOpenAI{}
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", m.chat)
	mux.HandleFunc("/audio/transcriptions", m.transcribe)
	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

// Set replaces the canned transcript and reply.
func (m *MockOpenAI) Set(transcript, reply string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Transcript, m.Reply = transcript, reply
}

// Fail makes the transcription or chat endpoints return 500.
func (m *MockOpenAI) Fail(stt, chat bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailSTT, m.FailChat = stt, chat
}

// Calls returns the chat and transcription call counts.
func (m *MockOpenAI) Calls() (chat, stt int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ChatCalls, m.STTCalls
}

// Last returns the model, final user message and audio of the latest requests.
func (m *MockOpenAI) Last() (model, message string, audio []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastModel, m.LastMessage, m.LastAudio
}

func (m *MockOpenAI) chat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		} `json:"messages"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck // test mock request
	m.mu.Lock()
	m.ChatCalls++
	m.LastModel = req.Model
	if n := len(req.Messages); n > 0 {
		if s, ok := req.Messages[n-1].Content.(string); ok {
			m.LastMessage = s
		}
	}
	fail, reply := m.FailChat, m.Reply
	m.mu.Unlock()

	if fail {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": map[string]any{"message": "mock failure", "type": "server_error"}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      "chatcmpl-mock",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   req.Model,
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": reply},
		}},
	})
}

func (m *MockOpenAI) transcribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": err.Error()}})
		return
	}
	var audio []byte
	if f, _, err := r.FormFile("file"); err == nil {
		audio, _ = io.ReadAll(f)
		_ = f.Close()
	}
	m.mu.Lock()
	m.STTCalls++
	m.LastModel = r.FormValue("model")
	m.LastAudio = audio
	fail, text := m.FailSTT, m.Transcript
	m.mu.Unlock()

	if fail {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": map[string]any{"message": "mock failure", "type": "server_error"}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"text": text})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}
