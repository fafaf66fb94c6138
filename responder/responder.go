// Package responder picks the synthetic reply for a transcript: occasionally a
// canned casual phrase, otherwise a short generated reply from a chat
// completion backend, with canned fallbacks when that backend fails.
package responder

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/chatfeed/phrases"
	"github.com/onnwee/chatfeed/rng"
	"github.com/onnwee/chatfeed/telemetry"
)

// SystemPrompt steers the completion backend toward a terse viewer persona.
const SystemPrompt = `You are a regular person chatting naturally. Never mention that you're an AI or assistant.
Respond like a friend or viewer would - casual, relatable, and authentic. Use everyday language,
contractions, and speak like you're just having a normal conversation. Keep it under 30 words.
No explanations, no helpful tips, just natural human reactions and responses.`

// DefaultCasualProbability is the share of transcripts answered with a canned phrase.
const DefaultCasualProbability = 0.15

// Completer is a chat completion backend.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Selector implements reply selection. It never returns an error.
type Selector struct {
	completer Completer
	cat       *phrases.Catalog
	src       rng.Source
	casualP   float64
	timeout   time.Duration
}

// Option configures a Selector.
type Option func(*Selector)

// WithCasualProbability sets the casual reply probability, clamped to [0,1].
func WithCasualProbability(p float64) Option {
	return func(s *Selector) {
		switch {
		case p < 0:
			p = 0
		case p > 1:
			p = 1
		}
		s.casualP = p
	}
}

// WithTimeout bounds each completion call.
func WithTimeout(d time.Duration) Option { return func(s *Selector) { s.timeout = d } }

// New returns a Selector. A nil completer always uses the fallback list on the
// generated-reply branch.
func New(c Completer, cat *phrases.Catalog, src rng.Source, opts ...Option) *Selector {
	s := &Selector{
		completer: c,
		cat:       cat,
		src:       src,
		casualP:   DefaultCasualProbability,
		timeout:   20 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SelectReply returns the reply text for transcript. It returns "" only for
// an empty transcript.
func (s *Selector) SelectReply(ctx context.Context, transcript string) string {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return ""
	}
	if rng.Chance(s.src, s.casualP) {
		return s.Casual(transcript)
	}
	return s.generate(ctx, transcript)
}

// Casual returns a keyword-themed phrase when the transcript matches a theme,
// otherwise a random general phrase.
func (s *Selector) Casual(transcript string) string {
	if th, ok := s.cat.Theme(transcript); ok {
		return rng.Pick(s.src, th.Replies)
	}
	return rng.Pick(s.src, s.cat.Casual)
}

// Fallback returns a random canned human-like reply.
func (s *Selector) Fallback() string { return rng.Pick(s.src, s.cat.Fallback) }

func (s *Selector) generate(ctx context.Context, transcript string) (reply string) {
	if s.completer == nil {
		return s.Fallback()
	}
	defer func() {
		if r := recover(); r != nil {
			telemetry.Inc(telemetry.CompletionFailures)
			telemetry.LoggerWithCorr(ctx).Warn("completion panicked, using fallback", slog.Any("panic", r), slog.String("component", "responder"))
			reply = s.Fallback()
		}
	}()

	cctx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	ctx2, span := telemetry.StartSpan(cctx, "responder", "complete")
	defer span.End()

	var out string
	var err error
	telemetry.TimeFunc(telemetry.CompletionDuration, func() {
		out, err = s.completer.Complete(ctx2, SystemPrompt, transcript)
	})
	out = strings.TrimSpace(out)
	if err != nil || out == "" {
		telemetry.RecordError(span, err)
		telemetry.Inc(telemetry.CompletionFailures)
		telemetry.LoggerWithCorr(ctx).Warn("completion failed, using fallback", slog.Any("err", err), slog.String("component", "responder"))
		return s.Fallback()
	}
	return out
}
