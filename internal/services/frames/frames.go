// Package frames extracts still images from lecture video at the key moment
// timestamps chosen during note generation.
package frames

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"lectern/internal/config"
	"lectern/internal/deps"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/services"
	"lectern/internal/services/ffmpeg"
	"lectern/internal/stage"
)

const stageName = string(stage.Frames)

// Extractor implements workflow.FrameExtractor.
type Extractor struct {
	exec      ffmpeg.Executor
	binary    string
	framesDir string
	maxFrames int
	width     int
	userAgent string
	cookie    string
	logger    *slog.Logger
}

// Option customizes the extractor.
type Option func(*Extractor)

// WithExecutor injects a custom ffmpeg executor (primarily for tests).
func WithExecutor(exec ffmpeg.Executor) Option {
	return func(e *Extractor) {
		if exec != nil {
			e.exec = exec
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		e.logger = logging.NewComponentLogger(logger, "frames")
	}
}

// New constructs an extractor from cfg.Frames.
func New(cfg *config.Config, opts ...Option) *Extractor {
	e := &Extractor{
		exec:      ffmpeg.CommandExecutor{},
		binary:    cfg.Frames.FFmpegBinary,
		framesDir: cfg.Paths.FramesDir,
		maxFrames: cfg.Frames.MaxFrames,
		width:     cfg.Frames.Width,
		userAgent: cfg.Acquisition.UserAgent,
		cookie:    cfg.Acquisition.Cookie,
		logger:    logging.NewComponentLogger(nil, "frames"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if strings.TrimSpace(e.binary) == "" {
		e.binary = "ffmpeg"
	}
	return e
}

// HealthCheck reports whether the frames ffmpeg binary resolves.
func (e *Extractor) HealthCheck(context.Context) stage.Health {
	status := deps.CheckFFmpeg(e.binary, "frame extraction")
	if !status.Available {
		return stage.Unhealthy(stage.Frames, status.Detail)
	}
	return stage.Healthy(stage.Frames)
}

// ExtractFrames grabs one still per timestamp. Remote sources are read
// directly so the video track is available; the acquired opus file has none.
// A frame that fails is skipped; the stage fails only when every frame fails.
func (e *Extractor) ExtractFrames(ctx context.Context, lecture queue.Lecture, timestamps []float64) (queue.Frames, error) {
	selected := sample(timestamps, e.maxFrames)
	if len(selected) == 0 {
		return queue.Frames{Images: []queue.Frame{}}, nil
	}
	input, remote := e.inputFor(lecture)
	if input == "" {
		return queue.Frames{}, services.Wrap(services.ErrValidation, stageName, "resolve input", "lecture has no source or media", nil)
	}

	dir := filepath.Join(e.framesDir, strconv.FormatInt(lecture.CourseID, 10), strconv.FormatInt(lecture.ID, 10))
	if err := os.RemoveAll(dir); err != nil {
		return queue.Frames{}, services.Wrap(services.ErrConfiguration, stageName, "prepare frames dir", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return queue.Frames{}, services.Wrap(services.ErrConfiguration, stageName, "prepare frames dir", dir, err)
	}

	logger := logging.WithContext(ctx, e.logger)
	out := queue.Frames{Images: make([]queue.Frame, 0, len(selected))}
	var lastErr error
	for i, ts := range selected {
		if err := ctx.Err(); err != nil {
			return queue.Frames{}, err
		}
		path := filepath.Join(dir, fmt.Sprintf("%06d.jpg", i+1))
		if err := e.exec.Run(ctx, e.binary, e.args(input, remote, ts, path), nil); err != nil {
			if ctx.Err() != nil {
				return queue.Frames{}, ctx.Err()
			}
			lastErr = err
			logging.WarnWithContext(logger, "frame extraction failed", "frame_extract_failed",
				logging.Float64("timestamp", ts),
				logging.Error(err),
				logging.String(logging.FieldImpact, "still omitted from lecture notes"),
			)
			continue
		}
		if info, err := os.Stat(path); err != nil || info.Size() == 0 {
			lastErr = fmt.Errorf("ffmpeg produced no image at %s", ffmpeg.FormatTimestamp(ts))
			continue
		}
		out.Images = append(out.Images, queue.Frame{Timestamp: ts, Path: path})
	}
	if len(out.Images) == 0 {
		return queue.Frames{}, services.Wrap(services.ErrExternalTool, stageName, "extract", "no frames could be extracted", lastErr)
	}
	logger.Info("frames extracted",
		logging.String(logging.FieldEventType, "frames_complete"),
		logging.Int("requested", len(selected)),
		logging.Int("extracted", len(out.Images)),
	)
	return out, nil
}

func (e *Extractor) inputFor(lecture queue.Lecture) (string, bool) {
	source := strings.TrimSpace(lecture.SourceURL)
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return source, true
	}
	if source != "" {
		if _, err := os.Stat(strings.TrimPrefix(source, "file://")); err == nil {
			return strings.TrimPrefix(source, "file://"), false
		}
	}
	return strings.TrimSpace(lecture.MediaPath), false
}

func (e *Extractor) args(input string, remote bool, ts float64, dest string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-ss", ffmpeg.FormatTimestamp(ts)}
	if remote {
		if e.userAgent != "" {
			args = append(args, "-user_agent", e.userAgent)
		}
		if e.cookie != "" {
			args = append(args, "-headers", "Cookie: "+e.cookie+"\r\n")
		}
	}
	args = append(args, "-i", input, "-frames:v", "1", "-q:v", "2")
	if e.width > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:-2", e.width))
	}
	return append(args, "-y", dest)
}

// sample keeps at most limit timestamps, spread evenly across the sorted
// input so the first and last moments survive.
func sample(timestamps []float64, limit int) []float64 {
	if limit <= 0 || len(timestamps) <= limit {
		return timestamps
	}
	if limit == 1 {
		return timestamps[:1]
	}
	out := make([]float64, 0, limit)
	step := float64(len(timestamps)-1) / float64(limit-1)
	for i := range limit {
		out = append(out, timestamps[int(math.Round(float64(i)*step))])
	}
	return out
}
