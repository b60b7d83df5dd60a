// Package transcribe turns acquired lecture audio into a timestamped
// transcript using any OpenAI-compatible audio transcription endpoint.
//
// Model selectors map to base URL, model name and credentials in the
// [transcription.models] config table, so Groq, OpenAI and self-hosted
// whisper servers are interchangeable.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"lectern/internal/config"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/services"
	"lectern/internal/stage"
)

const stageName = string(stage.Transcription)

// Client implements workflow.Transcriber.
type Client struct {
	cfg        *config.Config
	httpClient *http.Client
	maxRetries int
	logger     *slog.Logger

	mu      sync.Mutex
	clients map[string]openai.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client handed to the SDK.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithMaxRetries overrides the SDK transport retry count.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "transcribe")
	}
}

// New constructs a transcription client.
func New(cfg *config.Config, opts ...Option) *Client {
	timeout := time.Duration(cfg.Transcription.TimeoutSeconds) * time.Second
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: cfg.Transcription.MaxRetries,
		logger:     logging.NewComponentLogger(nil, "transcribe"),
		clients:    make(map[string]openai.Client),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	return c
}

// Transcribe uploads lecture.MediaPath to the backend named by model.
func (c *Client) Transcribe(ctx context.Context, lecture queue.Lecture, model string) (queue.Transcript, error) {
	resolved, err := c.cfg.TranscriptionModel(model)
	if err != nil {
		return queue.Transcript{}, services.Wrap(services.ErrConfiguration, stageName, "resolve model", "", err)
	}
	if strings.TrimSpace(lecture.MediaPath) == "" {
		return queue.Transcript{}, services.Wrap(services.ErrValidation, stageName, "open media", "lecture has no acquired media", nil)
	}
	file, err := os.Open(lecture.MediaPath)
	if err != nil {
		return queue.Transcript{}, services.Wrap(services.ErrValidation, stageName, "open media", lecture.MediaPath, err)
	}
	defer file.Close()

	params := openai.AudioTranscriptionNewParams{
		File:                   file,
		Model:                  openai.AudioModel(resolved.Model),
		ResponseFormat:         openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"segment"},
	}
	if resolved.Language != "" {
		params.Language = openai.String(resolved.Language)
	}

	logger := logging.WithContext(ctx, c.logger)
	logger.Info("transcription started",
		logging.String(logging.FieldEventType, "transcription_start"),
		logging.String("model", resolved.Selector),
		logging.String("backend_model", resolved.Model),
	)
	started := time.Now()

	var body verboseTranscript
	client := c.clientFor(resolved)
	if _, err := client.Audio.Transcriptions.New(ctx, params, option.WithResponseBodyInto(&body)); err != nil {
		return queue.Transcript{}, mapError(ctx, "transcribe", err)
	}

	transcript := body.toTranscript(resolved.Selector)
	if strings.TrimSpace(transcript.Text) == "" && len(transcript.Segments) == 0 {
		return queue.Transcript{}, services.Wrap(services.ErrExternalTool, stageName, "transcribe", "backend returned an empty transcript", nil)
	}
	logger.Info("transcription finished",
		logging.String(logging.FieldEventType, "transcription_complete"),
		logging.String("model", resolved.Selector),
		logging.Int("segments", len(transcript.Segments)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return transcript, nil
}

func (c *Client) clientFor(resolved config.ResolvedTranscriptionModel) openai.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[resolved.Selector]; ok {
		return client
	}
	opts := []option.RequestOption{
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(c.maxRetries),
	}
	if resolved.APIKey != "" {
		opts = append(opts, option.WithAPIKey(resolved.APIKey))
	} else {
		// Local whisper servers ignore the key but the SDK requires one.
		opts = append(opts, option.WithAPIKey("unused"))
	}
	if resolved.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(resolved.BaseURL))
	}
	client := openai.NewClient(opts...)
	c.clients[resolved.Selector] = client
	return client
}

func mapError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, stageName, op, "request timed out", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := fmt.Sprintf("backend returned http %d", apiErr.StatusCode)
		if apiErr.Message != "" {
			msg = fmt.Sprintf("%s: %s", msg, apiErr.Message)
		}
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return services.Wrap(services.ErrTransient, stageName, op, "rate limited", errors.New(msg))
		case apiErr.StatusCode >= 500:
			return services.Wrap(services.ErrTransient, stageName, op, msg, nil)
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return services.Wrap(services.ErrConfiguration, stageName, op, msg+"; check the model api key", nil)
		default:
			return services.Wrap(services.ErrExternalTool, stageName, op, msg, nil)
		}
	}
	return services.Wrap(services.ErrTransient, stageName, op, "request failed", err)
}

// HealthCheck reports whether the default model resolves with usable
// credentials. Selectors without an api_key_env are assumed to be local.
func (c *Client) HealthCheck(context.Context) stage.Health {
	resolved, err := c.cfg.TranscriptionModel("")
	if err != nil {
		return stage.Unhealthy(stage.Transcription, err.Error())
	}
	entry := c.cfg.Transcription.Models[resolved.Selector]
	if resolved.APIKey == "" && entry.APIKeyEnv != "" {
		return stage.Unhealthy(stage.Transcription, fmt.Sprintf("model %q needs %s", resolved.Selector, entry.APIKeyEnv))
	}
	return stage.Healthy(stage.Transcription)
}
