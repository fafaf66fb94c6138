package twitchapi

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultTokenURL is the Twitch OAuth token endpoint.
const DefaultTokenURL = "https://id.twitch.tv/oauth2/token"

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// NOTE: This token CANNOT be used for IRC chat; chat requires a user (bot) OAuth token.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	HTTPClient   *http.Client

	once sync.Once
	src  oauth2.TokenSource
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", errors.New("missing client id/secret for twitch app token")
	}
	ts.once.Do(func() {
		cfg := clientcredentials.Config{
			ClientID:     ts.ClientID,
			ClientSecret: ts.ClientSecret,
			TokenURL:     ts.TokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		if cfg.TokenURL == "" {
			cfg.TokenURL = DefaultTokenURL
		}
		// the token source outlives ctx, so it gets its own base context
		base := context.Background()
		if ts.HTTPClient != nil {
			base = context.WithValue(base, oauth2.HTTPClient, ts.HTTPClient)
		}
		ts.src = cfg.TokenSource(base)
	})
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok, err := ts.src.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}
