// Package youtubeapi bridges a YouTube live chat into the feed. It polls
// liveChatMessages with an OAuth2 refresh token and honours the polling
// interval the API asks for.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/chatfeed/feed"
	"github.com/onnwee/chatfeed/telemetry"
)

const (
	readonlyScope   = "https://www.googleapis.com/auth/youtube.readonly"
	minPollInterval = 2 * time.Second
	errorBackoff    = 10 * time.Second
)

// Role colors, matching YouTube's own chat badges.
const (
	ColorOwner     = "#FFD600"
	ColorModerator = "#5E84F1"
	ColorMember    = "#2BA640"
)

// Config identifies the OAuth client and the chat to follow.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	// LiveChatID is used as-is; otherwise VideoID's active chat is resolved.
	LiveChatID string
	VideoID    string

	// TokenURL and BaseURL override Google endpoints in tests.
	TokenURL string
	BaseURL  string
}

// Configured reports whether enough is set to start the bridge.
func (c Config) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != "" && (c.LiveChatID != "" || c.VideoID != "")
}

// Appender receives bridged entries.
type Appender interface {
	Append(feed.Entry) feed.Entry
}

// LiveChat polls one live chat.
type LiveChat struct {
	svc    *yt.Service
	chatID string
	cfg    Config
	sleep  func(ctx context.Context, d time.Duration) error
}

// New builds an authenticated YouTube client. The access token is refreshed
// from cfg.RefreshToken as needed.
func New(ctx context.Context, cfg Config) (*LiveChat, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, errors.New("youtube: client id, secret and refresh token required")
	}
	endpoint := google.Endpoint
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       []string{readonlyScope},
	}
	hc := oauth2.NewClient(ctx, oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}))
	return NewWithHTTPClient(ctx, cfg, hc)
}

// NewWithHTTPClient builds a client over an already-authenticated hc.
func NewWithHTTPClient(ctx context.Context, cfg Config, hc *http.Client) (*LiveChat, error) {
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return &LiveChat{svc: svc, chatID: cfg.LiveChatID, cfg: cfg, sleep: sleepCtx}, nil
}

// ResolveLiveChatID returns the active chat of a live broadcast.
func (l *LiveChat) ResolveLiveChatID(ctx context.Context, videoID string) (string, error) {
	res, err := l.svc.Videos.List([]string{"liveStreamingDetails"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("youtube videos.list: %w", err)
	}
	if len(res.Items) == 0 || res.Items[0].LiveStreamingDetails == nil || res.Items[0].LiveStreamingDetails.ActiveLiveChatId == "" {
		return "", fmt.Errorf("youtube: video %s has no active live chat", videoID)
	}
	return res.Items[0].LiveStreamingDetails.ActiveLiveChatId, nil
}

// Page is one poll result.
type Page struct {
	Entries       []feed.Entry
	NextPageToken string
	PollAfter     time.Duration
}

// Poll fetches the messages after pageToken.
func (l *LiveChat) Poll(ctx context.Context, pageToken string) (Page, error) {
	call := l.svc.LiveChatMessages.List(l.chatID, []string{"snippet", "authorDetails"}).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Do()
	if err != nil {
		return Page{}, fmt.Errorf("youtube liveChatMessages.list: %w", err)
	}
	p := Page{NextPageToken: res.NextPageToken, PollAfter: time.Duration(res.PollingIntervalMillis) * time.Millisecond}
	if p.PollAfter < minPollInterval {
		p.PollAfter = minPollInterval
	}
	for _, m := range res.Items {
		if e, ok := entryFromMessage(m); ok {
			p.Entries = append(p.Entries, e)
		}
	}
	return p, nil
}

// Run appends new chat messages to f until ctx is done. Messages already in
// the chat when Run starts are skipped.
func (l *LiveChat) Run(ctx context.Context, f Appender) error {
	if l.chatID == "" {
		id, err := l.ResolveLiveChatID(ctx, l.cfg.VideoID)
		if err != nil {
			return err
		}
		l.chatID = id
	}
	log := slog.With(slog.String("component", "youtube"), slog.String("live_chat_id", l.chatID))
	log.Info("youtube chat bridge started")

	token := ""
	primed := false
	for {
		p, err := l.Poll(ctx, token)
		wait := p.PollAfter
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("youtube poll failed", slog.Any("err", err))
			wait = errorBackoff
		} else {
			if primed {
				for _, e := range p.Entries {
					f.Append(e)
					telemetry.CountBridged("youtube")
				}
			}
			primed = true
			token = p.NextPageToken
		}
		if err := l.sleep(ctx, wait); err != nil {
			log.Info("youtube chat bridge stopped")
			return nil
		}
	}
}

func entryFromMessage(m *yt.LiveChatMessage) (feed.Entry, bool) {
	if m == nil || m.Snippet == nil || m.AuthorDetails == nil {
		return feed.Entry{}, false
	}
	text := m.Snippet.DisplayMessage
	if text == "" && m.Snippet.TextMessageDetails != nil {
		text = m.Snippet.TextMessageDetails.MessageText
	}
	if text == "" {
		return feed.Entry{}, false
	}
	return feed.Entry{
		Username: m.AuthorDetails.DisplayName,
		Message:  text,
		Color:    roleColor(m.AuthorDetails),
		Source:   feed.SourceYouTube,
	}, true
}

func roleColor(a *yt.LiveChatMessageAuthorDetails) string {
	switch {
	case a.IsChatOwner:
		return ColorOwner
	case a.IsChatModerator:
		return ColorModerator
	case a.IsChatSponsor:
		return ColorMember
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
