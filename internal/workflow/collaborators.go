package workflow

import (
	"context"

	"lectern/internal/queue"
	"lectern/internal/stage"
)

// ProgressUpdate is one acquisition progress report.
type ProgressUpdate struct {
	Phase      string
	Done       int64
	Total      int64
	Rate       float64
	ETASeconds float64
}

// ProgressFunc receives progress from an acquisition collaborator. It must be
// cheap; the runner coalesces and forwards updates without blocking.
type ProgressFunc func(ProgressUpdate)

// AcquireResult describes acquired media.
type AcquireResult struct {
	MediaPath       string
	DurationSeconds float64
}

// Acquirer fetches and converts lecture media. It returns an error wrapping
// services.ErrNoMedia when the lecture has nothing to fetch.
type Acquirer interface {
	Acquire(ctx context.Context, lecture queue.Lecture, report ProgressFunc) (AcquireResult, error)
}

// Transcriber turns acquired media into timed text.
type Transcriber interface {
	Transcribe(ctx context.Context, lecture queue.Lecture, model string) (queue.Transcript, error)
}

// NoteWriter produces notes and key moments from a transcript.
type NoteWriter interface {
	WriteNotes(ctx context.Context, lecture queue.Lecture, transcript queue.Transcript, model string) (queue.Notes, error)
}

// FrameExtractor grabs stills at the given timestamps.
type FrameExtractor interface {
	ExtractFrames(ctx context.Context, lecture queue.Lecture, timestamps []float64) (queue.Frames, error)
}

// HealthChecker is implemented by collaborators that can report readiness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) stage.Health
}

// Collaborators bundles the stage implementations. Nil members fail their
// stage with a configuration error.
type Collaborators struct {
	Acquirer       Acquirer
	Transcriber    Transcriber
	NoteWriter     NoteWriter
	FrameExtractor FrameExtractor
}

func (c Collaborators) forStage(name stage.Name) any {
	switch name {
	case stage.Acquisition:
		if c.Acquirer != nil {
			return c.Acquirer
		}
	case stage.Transcription:
		if c.Transcriber != nil {
			return c.Transcriber
		}
	case stage.Notes:
		if c.NoteWriter != nil {
			return c.NoteWriter
		}
	case stage.Frames:
		if c.FrameExtractor != nil {
			return c.FrameExtractor
		}
	}
	return nil
}
