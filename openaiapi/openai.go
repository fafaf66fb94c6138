// Package openaiapi adapts the OpenAI API to the transcription and chat
// completion interfaces used by the pipeline and the reply selector.
package openaiapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const (
	DefaultModel    = "gpt-4o-mini"
	DefaultSTTModel = "whisper-1"
	DefaultLanguage = "en"

	maxTokens   = 80
	temperature = 0.9
)

// ResolveModel maps disabled model families to the default model.
func ResolveModel(model string) string {
	m := strings.TrimSpace(model)
	if m == "" {
		return DefaultModel
	}
	if strings.HasPrefix(strings.ToLower(m), "gpt-5") {
		slog.Info("gpt-5 models are disabled; falling back", slog.String("requested", m), slog.String("model", DefaultModel))
		return DefaultModel
	}
	return m
}

// Client wraps an OpenAI client.
type Client struct {
	client   oai.Client
	model    string
	sttModel string
	language string
}

type config struct {
	baseURL    string
	timeout    time.Duration
	model      string
	sttModel   string
	language   string
	maxRetries int
}

// Option is a functional option for Client.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option { return func(c *config) { c.baseURL = url } }

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option { return func(c *config) { c.timeout = d } }

// WithModel sets the chat completion model.
func WithModel(m string) Option { return func(c *config) { c.model = m } }

// WithSTTModel sets the transcription model.
func WithSTTModel(m string) Option { return func(c *config) { c.sttModel = m } }

// WithLanguage sets the transcription language hint.
func WithLanguage(lang string) Option { return func(c *config) { c.language = lang } }

// WithMaxRetries sets how often the SDK retries failed requests. Default 0.
func WithMaxRetries(n int) Option { return func(c *config) { c.maxRetries = n } }

// New constructs a Client.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	cfg := &config{sttModel: DefaultSTTModel, language: DefaultLanguage}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	if cfg.sttModel == "" {
		cfg.sttModel = DefaultSTTModel
	}
	return &Client{
		client:   oai.NewClient(reqOpts...),
		model:    ResolveModel(cfg.model),
		sttModel: cfg.sttModel,
		language: cfg.language,
	}, nil
}

// Model returns the resolved chat model.
func (c *Client) Model() string { return c.model }

// Transcribe converts WAV audio to text.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("openai: empty audio")
	}
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(audio), "audio.wav", "audio/wav"),
		Model: oai.AudioModel(c.sttModel),
	}
	if c.language != "" {
		params.Language = oai.String(c.language)
	}
	resp, err := c.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Complete returns a short reply to user under the system prompt.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(system),
			oai.UserMessage(user),
		},
		MaxTokens:   oai.Int(maxTokens),
		Temperature: oai.Float(temperature),
	})
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
