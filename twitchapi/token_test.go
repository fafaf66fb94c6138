package twitchapi

import (
	"context"
	"net/http"
	"testing"

	"github.com/onnwee/chatfeed/testutil"
)

func TestTokenSource_GetCached(t *testing.T) {
	srv := testutil.NewMockTwitchServer(t)
	srv.MockOAuthTokenResponse("test-token-123", 3600)
	ts := &TokenSource{ClientID: "test-client", ClientSecret: "test-secret", TokenURL: srv.URL + "/oauth2/token"}

	ctx := context.Background()
	token1, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token1 != "test-token-123" {
		t.Errorf("Get() = %s, want test-token-123", token1)
	}
	token2, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token2 != token1 {
		t.Errorf("cached token = %s, want %s", token2, token1)
	}
	if n := srv.Count("/oauth2/token"); n != 1 {
		t.Errorf("expected 1 token request (cached), got %d", n)
	}
}

func TestTokenSource_SendsCredentialsInForm(t *testing.T) {
	srv := testutil.NewMockTwitchServer(t)
	srv.Handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.PostForm.Get("client_id") != "test-client" || r.PostForm.Get("client_secret") != "test-secret" {
			t.Errorf("form = %v", r.PostForm)
		}
		if r.PostForm.Get("grant_type") != "client_credentials" {
			t.Errorf("grant_type = %q", r.PostForm.Get("grant_type"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600,"token_type":"bearer"}`))
	})
	ts := &TokenSource{ClientID: "test-client", ClientSecret: "test-secret", TokenURL: srv.URL + "/oauth2/token"}
	if _, err := ts.Get(context.Background()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
}

func TestTokenSource_Errors(t *testing.T) {
	if _, err := (&TokenSource{}).Get(context.Background()); err == nil {
		t.Error("expected error for missing credentials")
	}

	srv := testutil.NewMockTwitchServer(t)
	srv.Handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	})
	ts := &TokenSource{ClientID: "c", ClientSecret: "s", TokenURL: srv.URL + "/oauth2/token"}
	if _, err := ts.Get(context.Background()); err == nil {
		t.Error("expected error for 401 token response")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ts.Get(ctx); err == nil {
		t.Error("expected error for cancelled context")
	}
}
