// Package server exposes the HTTP API handlers.
package server

import (
	"context"

	"github.com/onnwee/chatfeed/feed"
	"github.com/onnwee/chatfeed/pipeline"
)

const defaultMaxAudioBytes = 25 << 20

// AudioHandler processes uploaded audio and typed text.
type AudioHandler interface {
	Handle(ctx context.Context, audio []byte) (pipeline.Result, error)
	HandleText(ctx context.Context, text string) pipeline.Result
	Latest() pipeline.Latest
}

// HistoryReader serves archived entries beyond the in-memory feed.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]feed.Entry, error)
}

// Check is a named readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Store    *feed.Store
	Pipeline AudioHandler
	// History is optional; /api/history answers 404 without it.
	History HistoryReader
	// OpenAIConfigured is reported by /health.
	OpenAIConfigured bool
	Checks           []Check
}

// Options tunes the HTTP layer.
type Options struct {
	MaxAudioBytes int64
	RateLimit     RateLimitOptions
	CORS          CORSOptions
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps          Deps
	maxAudioBytes int64
	cors          CORSOptions
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps, opts Options) *Handlers {
	maxBytes := opts.MaxAudioBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxAudioBytes
	}
	return &Handlers{deps: deps, maxAudioBytes: maxBytes, cors: opts.CORS}
}
