package chat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/chatfeed/clock"
	"github.com/onnwee/chatfeed/feed"
	"github.com/onnwee/chatfeed/phrases"
	"github.com/onnwee/chatfeed/rng"
	"github.com/onnwee/chatfeed/telemetry"
)

const (
	DefaultCooldown     = 15 * time.Second
	DefaultBuffer       = 5 * time.Second
	DefaultMaxFollowUps = 3
)

// Feed is the subset of *feed.Store the chat components write to.
type Feed interface {
	Append(e feed.Entry) feed.Entry
	Len() int
}

// Identities issues synthetic viewer names and colors.
type Identities interface {
	Username() string
	Color() string
}

// SequencerConfig tunes burst pacing. Zero values take the defaults, except
// MaxFollowUps where a negative value disables follow-ups.
type SequencerConfig struct {
	Cooldown     time.Duration
	Buffer       time.Duration
	MaxFollowUps int
}

// Sequencer turns an accepted reply into a burst: the reply itself, appended
// immediately, plus one to MaxFollowUps short reactions from other synthetic
// viewers at randomized delays. While a burst is active, or within Cooldown of
// the last accepted trigger, new triggers are dropped.
type Sequencer struct {
	feed  Feed
	ids   Identities
	cat   *phrases.Catalog
	src   rng.Source
	clock clock.Clock
	sched *Scheduler
	cfg   SequencerConfig

	mu          sync.Mutex
	active      bool
	lastTrigger time.Time
	triggered   bool
	generation  uint64
}

// NewSequencer wires a sequencer to its collaborators.
func NewSequencer(f Feed, ids Identities, cat *phrases.Catalog, src rng.Source, c clock.Clock, sched *Scheduler, cfg SequencerConfig) *Sequencer {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.MaxFollowUps == 0 {
		cfg.MaxFollowUps = DefaultMaxFollowUps
	}
	return &Sequencer{feed: f, ids: ids, cat: cat, src: src, clock: c, sched: sched, cfg: cfg}
}

type followUp struct {
	text  string
	delay time.Duration
}

// Schedule starts a burst for initialMessage. It reports whether the trigger
// was accepted; rejected triggers leave the feed untouched.
func (s *Sequencer) Schedule(initialMessage, initialUsername, transcript string) bool {
	now := s.clock.Now()
	s.mu.Lock()
	if s.active || (s.triggered && now.Sub(s.lastTrigger) < s.cfg.Cooldown) {
		s.mu.Unlock()
		telemetry.Inc(telemetry.SequencesDropped)
		slog.Debug("chat sequence dropped", slog.Bool("active", s.active), slog.String("component", "sequencer"))
		return false
	}
	s.active = true
	s.triggered = true
	s.lastTrigger = now
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	telemetry.Inc(telemetry.SequencesStarted)
	s.feed.Append(feed.Entry{
		Username: initialUsername,
		Message:  initialMessage,
		Color:    s.ids.Color(),
		Source:   feed.SourceSynthetic,
	})

	chosen := s.pickFollowUps(transcript)
	var longest time.Duration
	for _, f := range chosen {
		if f.delay > longest {
			longest = f.delay
		}
		entry := feed.Entry{
			Username: s.ids.Username(),
			Message:  f.text,
			Color:    s.ids.Color(),
			Source:   feed.SourceSynthetic,
		}
		s.sched.After(f.delay, func() { s.feed.Append(entry) })
	}

	reset := func() { s.release(gen) }
	if !s.sched.After(longest+s.cfg.Buffer, reset) {
		reset()
	}
	slog.Debug("chat sequence started", slog.Int("followups", len(chosen)), slog.Duration("idle_after", longest+s.cfg.Buffer), slog.String("component", "sequencer"))
	return true
}

// Active reports whether a burst is still in progress.
func (s *Sequencer) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Sequencer) release(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation == gen {
		s.active = false
	}
}

// pickFollowUps builds the candidate pool with freshly drawn delays and
// samples 1..MaxFollowUps of them without replacement.
func (s *Sequencer) pickFollowUps(transcript string) []followUp {
	pool := make([]followUp, 0, len(s.cat.FollowUps)+1)
	for _, f := range s.cat.FollowUps {
		pool = append(pool, followUp{text: f.Text, delay: rng.Duration(s.src, f.Delay.Min, f.Delay.Max)})
	}
	if transcript != "" {
		if phrase := s.ContextPhrase(transcript); phrase != "" {
			pool = append(pool, followUp{text: phrase, delay: rng.Duration(s.src, s.cat.ContextDelay.Min, s.cat.ContextDelay.Max)})
		}
	}
	if s.cfg.MaxFollowUps < 0 || len(pool) == 0 {
		return nil
	}
	n := rng.Between(s.src, 1, s.cfg.MaxFollowUps)
	if n > len(pool) {
		n = len(pool)
	}
	for i := 0; i < n; i++ {
		j := i + s.src.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n]
}

// ContextPhrase classifies transcript into a topic bucket and returns one of
// its phrases.
func (s *Sequencer) ContextPhrase(transcript string) string {
	return rng.Pick(s.src, s.cat.ContextReplies(transcript))
}
