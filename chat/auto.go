package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/chatfeed/twitchapi"
)

// StreamLister reports the live streams of a channel.
type StreamLister interface {
	GetStreams(ctx context.Context, login string) ([]twitchapi.Stream, error)
}

// AutoBridge polls Twitch live status and runs Start only while the channel is
// live. Start must block until its context is cancelled.
type AutoBridge struct {
	Streams   StreamLister
	Channel   string
	PollEvery time.Duration
	Start     func(ctx context.Context)
}

// Run polls until ctx is done.
func (a *AutoBridge) Run(ctx context.Context) {
	if a.Channel == "" || a.Streams == nil || a.Start == nil {
		slog.Info("auto bridge: not configured; abort", slog.String("component", "auto_bridge"))
		return
	}
	pollEvery := a.PollEvery
	if pollEvery <= 0 {
		pollEvery = 30 * time.Second
	}
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	var stop context.CancelFunc
	var exited chan struct{}
	defer func() {
		if stop != nil {
			stop()
			<-exited
		}
	}()

	slog.Info("auto bridge: started poller", slog.Duration("interval", pollEvery), slog.String("channel", a.Channel))
	for {
		live, err := a.poll(ctx)
		switch {
		case err != nil:
			slog.Debug("auto bridge: streams req", slog.Any("err", err))
		case live && stop == nil:
			slog.Info("auto bridge: stream live; starting bridge", slog.String("channel", a.Channel))
			bctx, cancel := context.WithCancel(ctx)
			stop = cancel
			exited = make(chan struct{})
			go func(done chan struct{}) {
				defer close(done)
				a.Start(bctx)
			}(exited)
		case !live && stop != nil:
			slog.Info("auto bridge: stream ended; stopping bridge", slog.String("channel", a.Channel))
			stop()
			<-exited
			stop, exited = nil, nil
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *AutoBridge) poll(ctx context.Context) (bool, error) {
	streams, err := a.Streams.GetStreams(ctx, a.Channel)
	if err != nil {
		return false, err
	}
	return len(streams) > 0, nil
}
