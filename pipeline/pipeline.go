// Package pipeline turns uploaded audio into a transcript, a synthetic reply,
// and a scheduled chat burst.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/chatfeed/telemetry"
)

// Result statuses.
const (
	StatusSuccess  = "success"
	StatusNoSpeech = "no_speech"
	StatusError    = "error"
)

// ErrNoTranscriber is returned by Handle when no speech-to-text backend is configured.
var ErrNoTranscriber = errors.New("pipeline: no transcriber configured")

// Transcriber converts audio bytes to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Replier picks reply text for a transcript.
type Replier interface {
	SelectReply(ctx context.Context, transcript string) string
}

// Sequencer starts chat bursts.
type Sequencer interface {
	Schedule(initialMessage, initialUsername, transcript string) bool
	Active() bool
}

// Namer issues synthetic usernames.
type Namer interface {
	Username() string
}

// Result is the outcome of one audio chunk or text input.
type Result struct {
	Status     string
	Transcript string
	Reply      string
	Scheduled  bool
}

// Latest is the most recent reply shown by the single-line overlay.
type Latest struct {
	Text       string `json:"text"`
	Transcript string `json:"transcript,omitempty"`
	Timestamp  string `json:"timestamp"`
	User       string `json:"user"`
}

// Pipeline implements audio handling. It is safe for concurrent use.
type Pipeline struct {
	stt     Transcriber
	replier Replier
	seq     Sequencer
	names   Namer
	now     func() time.Time

	skipWhileActive bool

	mu     sync.RWMutex
	latest Latest
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSkipReplyWhileActive skips reply generation while a burst is running.
// By default the reply is still computed and returned, only scheduling is dropped.
func WithSkipReplyWhileActive(skip bool) Option {
	return func(p *Pipeline) { p.skipWhileActive = skip }
}

// WithNow overrides the clock used for Latest timestamps.
func WithNow(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// New returns a pipeline. stt may be nil, in which case Handle fails.
func New(stt Transcriber, r Replier, seq Sequencer, names Namer, opts ...Option) *Pipeline {
	p := &Pipeline{stt: stt, replier: r, seq: seq, names: names, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	p.latest = Latest{Text: "Waiting for audio...", Timestamp: p.stamp(), User: "System"}
	return p
}

// Handle transcribes audio and, for non-empty speech, selects a reply and
// starts a chat burst. Backend failures during transcription are reported as
// no_speech. Only unexpected failures return an error, with Status "error".
func (p *Pipeline) Handle(ctx context.Context, audio []byte) (res Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, "pipeline", "handle_audio", attribute.Int("audio.bytes", len(audio)))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: panic: %v", r)
			res = Result{Status: StatusError}
		}
		if err != nil {
			telemetry.RecordError(span, err)
		}
		telemetry.CountTranscription(res.Status)
	}()
	log := telemetry.LoggerWithCorr(ctx)

	if p.stt == nil {
		return Result{Status: StatusError}, ErrNoTranscriber
	}

	var transcript string
	var sttErr error
	telemetry.TimeFunc(telemetry.STTDuration, func() {
		transcript, sttErr = p.stt.Transcribe(ctx, audio)
	})
	if sttErr != nil {
		log.Warn("transcription failed", slog.Any("err", sttErr), slog.String("component", "pipeline"))
	}
	transcript = strings.TrimSpace(transcript)
	if sttErr != nil || transcript == "" {
		return Result{Status: StatusNoSpeech}, nil
	}
	log.Info("transcript received", slog.Int("chars", len(transcript)), slog.String("component", "pipeline"))

	reply := ""
	if !(p.skipWhileActive && p.seq != nil && p.seq.Active()) {
		reply = p.replier.SelectReply(ctx, transcript)
	}

	scheduled := false
	if reply != "" && p.seq != nil {
		scheduled = p.seq.Schedule(reply, p.names.Username(), transcript)
	}

	text := reply
	if text == "" {
		text = transcript
	}
	p.setLatest(Latest{Text: text, Transcript: transcript, Timestamp: p.stamp(), User: p.names.Username()})
	telemetry.SetSpanSuccess(span)
	return Result{Status: StatusSuccess, Transcript: transcript, Reply: reply, Scheduled: scheduled}, nil
}

// HandleText selects a reply for typed text. It updates Latest but never
// starts a chat burst.
func (p *Pipeline) HandleText(ctx context.Context, text string) Result {
	text = strings.TrimSpace(text)
	reply := p.replier.SelectReply(ctx, text)
	p.setLatest(Latest{Text: reply, Transcript: text, Timestamp: p.stamp(), User: p.names.Username()})
	return Result{Status: StatusSuccess, Transcript: text, Reply: reply}
}

// Latest returns the most recent reply.
func (p *Pipeline) Latest() Latest {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

func (p *Pipeline) setLatest(l Latest) {
	p.mu.Lock()
	p.latest = l
	p.mu.Unlock()
}

func (p *Pipeline) stamp() string { return p.now().UTC().Format(time.RFC3339) }
