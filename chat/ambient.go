package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/chatfeed/clock"
	"github.com/onnwee/chatfeed/feed"
	"github.com/onnwee/chatfeed/phrases"
	"github.com/onnwee/chatfeed/rng"
	"github.com/onnwee/chatfeed/telemetry"
)

// AmbientConfig controls background chatter.
type AmbientConfig struct {
	MinInterval time.Duration
	MaxInterval time.Duration
	// QuietBelow is the feed size under which ambient chatter is injected.
	QuietBelow int
}

// Ambient keeps the overlay from looking dead: while no burst is active and
// the feed is short, it occasionally posts a one-word message from a random
// viewer.
type Ambient struct {
	feed  Feed
	ids   Identities
	seq   interface{ Active() bool }
	cat   *phrases.Catalog
	src   rng.Source
	clock clock.Clock
	cfg   AmbientConfig
}

// NewAmbient returns an injector. seq may be nil when no sequencer is running.
func NewAmbient(f Feed, ids Identities, seq interface{ Active() bool }, cat *phrases.Catalog, src rng.Source, c clock.Clock, cfg AmbientConfig) *Ambient {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 30 * time.Second
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	if cfg.QuietBelow <= 0 {
		cfg.QuietBelow = 10
	}
	return &Ambient{feed: f, ids: ids, seq: seq, cat: cat, src: src, clock: c, cfg: cfg}
}

// Run injects ambient chatter at random intervals until ctx is done.
func (a *Ambient) Run(ctx context.Context) error {
	slog.Info("ambient chatter started",
		slog.Duration("min", a.cfg.MinInterval),
		slog.Duration("max", a.cfg.MaxInterval),
		slog.String("component", "ambient"))
	for {
		wait := rng.Duration(a.src, a.cfg.MinInterval, a.cfg.MaxInterval)
		if err := clock.Sleep(ctx, a.clock, wait); err != nil {
			return nil
		}
		a.InjectOnce()
	}
}

// InjectOnce appends one ambient message if the chat is quiet. It reports
// whether a message was added.
func (a *Ambient) InjectOnce() bool {
	if a.seq != nil && a.seq.Active() {
		return false
	}
	if a.feed.Len() >= a.cfg.QuietBelow {
		return false
	}
	msg := rng.Pick(a.src, a.cat.Ambient)
	if msg == "" {
		return false
	}
	a.feed.Append(feed.Entry{
		Username: a.ids.Username(),
		Message:  msg,
		Color:    a.ids.Color(),
		Source:   feed.SourceAmbient,
	})
	telemetry.Inc(telemetry.AmbientInjected)
	return true
}
