package notes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"lectern/internal/config"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/services"
	"lectern/internal/stage"
)

const (
	stageName        = string(stage.Notes)
	providerPrefix   = "openrouter/"
	defaultMaxTokens = 4096
	temperature      = 0.3
)

// Client implements workflow.NoteWriter.
type Client struct {
	apiKey       string
	maxChars     int
	defaultModel string
	logger       *slog.Logger
	client       openai.Client
}

// Option customizes the client.
type Option func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	maxRetries int
	logger     *slog.Logger
}

// WithHTTPClient overrides the HTTP client handed to the SDK.
func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithMaxRetries overrides the SDK transport retry count.
func WithMaxRetries(n int) Option {
	return func(o *clientOptions) {
		o.maxRetries = n
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// New constructs a note generation client from cfg.Notes.
func New(cfg *config.Config, opts ...Option) *Client {
	o := clientOptions{
		httpClient: &http.Client{Timeout: time.Duration(cfg.Notes.TimeoutSeconds) * time.Second},
		maxRetries: cfg.Notes.MaxRetries,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxRetries < 0 {
		o.maxRetries = 0
	}

	apiKey := strings.TrimSpace(cfg.Notes.APIKey)
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(o.httpClient),
		option.WithMaxRetries(o.maxRetries),
	}
	if cfg.Notes.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.Notes.BaseURL))
	}
	if cfg.Notes.Referer != "" {
		reqOpts = append(reqOpts, option.WithHeader("HTTP-Referer", cfg.Notes.Referer))
	}
	if cfg.Notes.Title != "" {
		reqOpts = append(reqOpts, option.WithHeader("X-Title", cfg.Notes.Title))
	}

	return &Client{
		apiKey:       apiKey,
		maxChars:     cfg.Notes.MaxTranscriptChars,
		defaultModel: cfg.Notes.DefaultModel,
		logger:       logging.NewComponentLogger(o.logger, "notes"),
		client:       openai.NewClient(reqOpts...),
	}
}

// HealthCheck reports whether an API key is configured.
func (c *Client) HealthCheck(context.Context) stage.Health {
	if c.apiKey == "" {
		return stage.Unhealthy(stage.Notes, "notes api key not configured (set notes.api_key or OPENROUTER_API_KEY)")
	}
	return stage.Healthy(stage.Notes)
}

// WriteNotes asks the model named by selector for notes on transcript.
func (c *Client) WriteNotes(ctx context.Context, lecture queue.Lecture, transcript queue.Transcript, selector string) (queue.Notes, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		selector = c.defaultModel
	}
	if c.apiKey == "" {
		return queue.Notes{}, services.Wrap(services.ErrConfiguration, stageName, "prepare request", "notes api key not configured", nil)
	}
	body := formatTranscript(transcript, c.maxChars)
	if body == "" {
		return queue.Notes{}, services.Wrap(services.ErrValidation, stageName, "prepare request", "transcript is empty", nil)
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(strings.TrimPrefix(selector, providerPrefix)),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt(lecture, body)),
		},
		Temperature: openai.Float(temperature),
		MaxTokens:   openai.Int(defaultMaxTokens),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	}

	logger := logging.WithContext(ctx, c.logger)
	started := time.Now()
	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return queue.Notes{}, mapError(ctx, err)
	}
	if len(completion.Choices) == 0 {
		return queue.Notes{}, services.Wrap(services.ErrExternalTool, stageName, "parse response", "model returned no choices", nil)
	}
	content := completion.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		if refusal := strings.TrimSpace(completion.Choices[0].Message.Refusal); refusal != "" {
			return queue.Notes{}, services.Wrap(services.ErrExternalTool, stageName, "parse response", "model refused: "+refusal, nil)
		}
		return queue.Notes{}, services.Wrap(services.ErrExternalTool, stageName, "parse response", "empty response from model", nil)
	}

	var parsed notePayload
	if err := decodeJSON(content, &parsed); err != nil {
		return queue.Notes{}, services.Wrap(services.ErrExternalTool, stageName, "parse response", "", err)
	}
	notes, err := parsed.toNotes(selector)
	if err != nil {
		return queue.Notes{}, err
	}

	logger.Info("notes generated",
		logging.String(logging.FieldEventType, "notes_complete"),
		logging.String("model", selector),
		logging.String("response_model", completion.Model),
		logging.Int("key_moments", len(notes.KeyMoments)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return notes, nil
}

func mapError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, stageName, "complete", "request timed out", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := fmt.Sprintf("model endpoint returned http %d", apiErr.StatusCode)
		if apiErr.Message != "" {
			msg = fmt.Sprintf("%s: %s", msg, apiErr.Message)
		}
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return services.Wrap(services.ErrTransient, stageName, "complete", "rate limited", errors.New(msg))
		case apiErr.StatusCode >= 500:
			return services.Wrap(services.ErrTransient, stageName, "complete", msg, nil)
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return services.Wrap(services.ErrConfiguration, stageName, "complete", msg+"; check notes.api_key", nil)
		default:
			return services.Wrap(services.ErrExternalTool, stageName, "complete", msg, nil)
		}
	}
	return services.Wrap(services.ErrTransient, stageName, "complete", "request failed", err)
}
