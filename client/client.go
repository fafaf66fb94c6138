// Package client talks to the chat server and the restart service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// ErrUnhealthy is returned when a health probe answers with a non-200 status.
var ErrUnhealthy = errors.New("client: service unhealthy")

// Client is a thin JSON client for the HTTP API.
type Client struct {
	BaseURL    string
	RestartURL string
	HTTP       *http.Client
}

// New returns a client for the server at baseURL and the restart service at
// restartURL (may be empty).
func New(baseURL, restartURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		RestartURL: strings.TrimRight(restartURL, "/"),
		HTTP:       &http.Client{Timeout: 30 * time.Second},
	}
}

// AudioResult mirrors the /api/process_audio response.
type AudioResult struct {
	Status     string `json:"status"`
	Transcript string `json:"transcript"`
	Response   string `json:"response"`
	Error      string `json:"error,omitempty"`
}

// TextResult mirrors the /api/test_text response.
type TextResult struct {
	Status   string `json:"status"`
	Input    string `json:"input"`
	Response string `json:"response"`
}

// RestartResult mirrors the restart service response.
type RestartResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Health probes the main server.
func (c *Client) Health(ctx context.Context) error { return c.probe(ctx, c.BaseURL+"/health") }

// RestartHealth probes the restart service.
func (c *Client) RestartHealth(ctx context.Context) error {
	if c.RestartURL == "" {
		return errors.New("restart service URL not configured")
	}
	return c.probe(ctx, c.RestartURL+"/health")
}

func (c *Client) probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s", ErrUnhealthy, resp.Status)
	}
	return nil
}

// Restart asks the restart service to drop its flag.
func (c *Client) Restart(ctx context.Context) (RestartResult, error) {
	var out RestartResult
	if c.RestartURL == "" {
		return out, errors.New("restart service URL not configured")
	}
	err := c.doJSON(ctx, http.MethodPost, c.RestartURL+"/restart", nil, &out)
	return out, err
}

// WaitHealthy polls Health every interval until it succeeds or timeout
// elapses, returning the time waited.
func (c *Client) WaitHealthy(ctx context.Context, timeout, every time.Duration) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		pctx, pcancel := context.WithTimeout(ctx, 5*time.Second)
		err := c.Health(pctx)
		pcancel()
		if err == nil {
			return time.Since(start), nil
		}
		select {
		case <-ctx.Done():
			return time.Since(start), fmt.Errorf("server not healthy after %s: %w", timeout, err)
		case <-t.C:
		}
	}
}

// UploadAudio posts a WAV chunk as multipart field "audio".
func (c *Client) UploadAudio(ctx context.Context, wav []byte) (AudioResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="audio"; filename="audio.wav"`)
	h.Set("Content-Type", "audio/wav")
	part, err := mw.CreatePart(h)
	if err != nil {
		return AudioResult{}, err
	}
	if _, err := part.Write(wav); err != nil {
		return AudioResult{}, err
	}
	if err := mw.Close(); err != nil {
		return AudioResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/process_audio", &body)
	if err != nil {
		return AudioResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out AudioResult
	err = c.do(req, &out)
	return out, err
}

// SendText runs text through reply selection via /api/test_text.
func (c *Client) SendText(ctx context.Context, text string) (TextResult, error) {
	var out TextResult
	err := c.doJSON(ctx, http.MethodPost, c.BaseURL+"/api/test_text", map[string]string{"text": text}, &out)
	return out, err
}

// PostMessage appends a manual line via /api/message.
func (c *Client) PostMessage(ctx context.Context, user, text string) error {
	return c.doJSON(ctx, http.MethodPost, c.BaseURL+"/api/message", map[string]string{"text": text, "user": user}, nil)
}

// ClearChat empties the server feed.
func (c *Client) ClearChat(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, c.BaseURL+"/api/clear_chat", nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, resp.Status, e.Error)
		}
		return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
