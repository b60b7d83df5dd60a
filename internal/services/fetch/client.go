// Package fetch implements lecture acquisition: an HTTP download with retry
// followed by an ffmpeg conversion to mono opus.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"lectern/internal/config"
	"lectern/internal/deps"
	"lectern/internal/fileutil"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/services"
	"lectern/internal/services/ffmpeg"
	"lectern/internal/stage"
	"lectern/internal/workflow"
)

const (
	stageName         = string(stage.Acquisition)
	defaultRetryDelay = 2 * time.Second
)

// Client downloads and converts lecture media.
type Client struct {
	httpClient   *http.Client
	exec         ffmpeg.Executor
	ffmpegBinary string
	bitrate      string
	userAgent    string
	cookie       string
	mediaDir     string
	attempts     int
	retryDelay   time.Duration
	timeout      time.Duration
	logger       *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithExecutor injects a custom ffmpeg executor (primarily for tests).
func WithExecutor(exec ffmpeg.Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithRetryDelay overrides the base delay between download attempts.
func WithRetryDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = delay
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "fetch")
	}
}

// New constructs a client from the acquisition settings in cfg.
func New(cfg *config.Config, opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{},
		exec:         ffmpeg.CommandExecutor{},
		ffmpegBinary: cfg.Acquisition.FFmpegBinary,
		bitrate:      cfg.Acquisition.OpusBitrate,
		userAgent:    cfg.Acquisition.UserAgent,
		cookie:       cfg.Acquisition.Cookie,
		mediaDir:     cfg.Paths.MediaDir,
		attempts:     cfg.Acquisition.RetryAttempts,
		retryDelay:   defaultRetryDelay,
		timeout:      cfg.DownloadTimeout(),
		logger:       logging.NewComponentLogger(nil, "fetch"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.attempts < 1 {
		c.attempts = 1
	}
	if strings.TrimSpace(c.ffmpegBinary) == "" {
		c.ffmpegBinary = "ffmpeg"
	}
	return c
}

// Acquire fetches lecture.SourceURL and converts it to opus under the media
// directory. A missing or empty source is reported as services.ErrNoMedia.
func (c *Client) Acquire(ctx context.Context, lecture queue.Lecture, report workflow.ProgressFunc) (workflow.AcquireResult, error) {
	if report == nil {
		report = func(workflow.ProgressUpdate) {}
	}
	source := strings.TrimSpace(lecture.SourceURL)
	if source == "" {
		return workflow.AcquireResult{}, services.Wrap(services.ErrNoMedia, stageName, "resolve source", "lecture has no source URL", nil)
	}

	dir := filepath.Join(c.mediaDir, strconv.FormatInt(lecture.CourseID, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return workflow.AcquireResult{}, services.Wrap(services.ErrConfiguration, stageName, "prepare media dir", dir, err)
	}
	base := strconv.FormatInt(lecture.ID, 10)
	rawPath := filepath.Join(dir, base+".download")
	finalPath := filepath.Join(dir, base+".opus")
	defer os.Remove(rawPath)

	if local, ok := localPath(source); ok {
		if err := c.copyLocal(local, rawPath, report); err != nil {
			return workflow.AcquireResult{}, err
		}
	} else if err := c.download(ctx, source, rawPath, report); err != nil {
		return workflow.AcquireResult{}, err
	}

	duration, err := c.convert(ctx, rawPath, finalPath, report)
	if err != nil {
		return workflow.AcquireResult{}, err
	}
	return workflow.AcquireResult{MediaPath: finalPath, DurationSeconds: duration}, nil
}

func localPath(source string) (string, bool) {
	if strings.HasPrefix(source, "file://") {
		u, err := url.Parse(source)
		if err != nil {
			return "", false
		}
		return u.Path, true
	}
	if strings.Contains(source, "://") {
		return "", false
	}
	return source, true
}

func (c *Client) copyLocal(src, dst string, report workflow.ProgressFunc) error {
	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return services.Wrap(services.ErrNoMedia, stageName, "open source", fmt.Sprintf("%s does not exist", src), nil)
		}
		return services.Wrap(services.ErrExternalTool, stageName, "open source", src, err)
	}
	if info.Size() == 0 {
		return services.Wrap(services.ErrNoMedia, stageName, "open source", fmt.Sprintf("%s is empty", src), nil)
	}
	if err := fileutil.CopyFile(src, dst); err != nil {
		return services.Wrap(services.ErrExternalTool, stageName, "copy source", src, err)
	}
	report(workflow.ProgressUpdate{Phase: stage.PhaseTransfer, Done: info.Size(), Total: info.Size()})
	return nil
}

func (c *Client) download(ctx context.Context, source, dest string, report workflow.ProgressFunc) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	logger := logging.WithContext(ctx, c.logger)
	return retry.Do(
		func() error {
			return c.downloadOnce(ctx, source, dest, report)
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.attempts)), //nolint:gosec
		retry.Delay(c.retryDelay),
		retry.RetryIf(services.Retryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Info("retrying lecture download",
				logging.String(logging.FieldEventType, "download_retry"),
				logging.Int("attempt", int(n)+1), //nolint:gosec
				logging.Error(err),
			)
		}),
	)
}

func (c *Client) downloadOnce(ctx context.Context, source, dest string, report workflow.ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return services.Wrap(services.ErrValidation, stageName, "build request", source, err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, stageName, "download", "request timed out", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return services.Wrap(services.ErrTransient, stageName, "download", "request failed", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return err
	}

	f, err := os.Create(dest)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, stageName, "create download file", dest, err)
	}
	defer f.Close()

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	counter := &progressWriter{total: total, report: report, started: time.Now()}
	written, err := io.Copy(io.MultiWriter(f, counter), resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return services.Wrap(services.ErrTimeout, stageName, "download", "transfer interrupted", ctx.Err())
		}
		return services.Wrap(services.ErrTransient, stageName, "download", "transfer interrupted", err)
	}
	if written == 0 {
		return services.Wrap(services.ErrNoMedia, stageName, "download", "source returned an empty body", nil)
	}
	if total > 0 && written != total {
		return services.Wrap(services.ErrTransient, stageName, "download", fmt.Sprintf("short read: %d of %d bytes", written, total), nil)
	}
	if err := f.Close(); err != nil {
		return services.Wrap(services.ErrExternalTool, stageName, "download", "flush download file", err)
	}
	report(workflow.ProgressUpdate{Phase: stage.PhaseTransfer, Done: written, Total: max(total, written)})
	return nil
}

func classifyStatus(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return services.Wrap(services.ErrNoMedia, stageName, "download", fmt.Sprintf("source returned http %d", code), nil)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, stageName, "download",
			fmt.Sprintf("source returned http %d; check acquisition.cookie", code), nil)
	case code == http.StatusTooManyRequests || code >= 500:
		return services.Wrap(services.ErrTransient, stageName, "download", fmt.Sprintf("source returned http %d", code), nil)
	default:
		return services.Wrap(services.ErrExternalTool, stageName, "download", fmt.Sprintf("source returned http %d", code), nil)
	}
}

type progressWriter struct {
	done    int64
	total   int64
	started time.Time
	report  workflow.ProgressFunc
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.done += int64(len(p))
	update := workflow.ProgressUpdate{Phase: stage.PhaseTransfer, Done: w.done, Total: w.total}
	if elapsed := time.Since(w.started).Seconds(); elapsed > 0 {
		update.Rate = float64(w.done) / elapsed
		if w.total > w.done && update.Rate > 0 {
			update.ETASeconds = float64(w.total-w.done) / update.Rate
		}
	}
	// The completion tick is sent once the body is fully written.
	if w.total == 0 || w.done < w.total {
		w.report(update)
	}
	return len(p), nil
}

// HealthCheck reports whether the conversion ffmpeg binary resolves.
func (c *Client) HealthCheck(context.Context) stage.Health {
	status := deps.CheckFFmpeg(c.ffmpegBinary, "opus conversion")
	if !status.Available {
		return stage.Unhealthy(stage.Acquisition, status.Detail)
	}
	return stage.Healthy(stage.Acquisition)
}
