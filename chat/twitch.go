package chat

import (
	"context"
	"log/slog"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chatfeed/feed"
	"github.com/onnwee/chatfeed/telemetry"
)

// TwitchConfig selects the channel to mirror. Without a bot username and
// OAuth token the bridge joins anonymously, which is enough for reading.
type TwitchConfig struct {
	Channel    string
	Username   string
	OAuthToken string
}

// StartTwitchBridge mirrors a Twitch channel's chat into the feed until ctx is
// done. It blocks.
func StartTwitchBridge(ctx context.Context, f Feed, cfg TwitchConfig) {
	channel := strings.TrimPrefix(strings.ToLower(cfg.Channel), "#")
	if channel == "" {
		slog.Info("twitch bridge: channel not set; skipping", slog.String("component", "twitch"))
		return
	}
	var client *twitch.Client
	if cfg.Username != "" && cfg.OAuthToken != "" {
		token := cfg.OAuthToken
		if !strings.HasPrefix(token, "oauth:") {
			token = "oauth:" + token
		}
		client = twitch.NewClient(cfg.Username, token)
	} else {
		client = twitch.NewAnonymousClient()
	}

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		f.Append(entryFromTwitch(msg))
		telemetry.CountBridged("twitch")
	})
	client.OnConnect(func() {
		slog.Info("twitch bridge: connected", slog.String("channel", channel), slog.String("component", "twitch"))
	})

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		_ = client.Disconnect()
		close(done)
	}()

	client.Join(channel)
	if err := client.Connect(); err != nil && ctx.Err() == nil {
		slog.Error("twitch bridge: connect error", slog.Any("err", err), slog.String("component", "twitch"))
	}
	<-done
}

func entryFromTwitch(msg twitch.PrivateMessage) feed.Entry {
	name := msg.User.DisplayName
	if name == "" {
		name = msg.User.Name
	}
	return feed.Entry{
		Username: name,
		Message:  msg.Message,
		Color:    msg.User.Color,
		Source:   feed.SourceTwitch,
	}
}
