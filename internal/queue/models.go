package queue

import (
	"sort"
	"time"

	"lectern/internal/stage"
)

// Course groups lectures for bulk operations and summaries.
type Course struct {
	ID        int64
	Title     string
	SourceURL string
	CreatedAt time.Time
}

// StageState is the persisted state of one pipeline stage for one lecture.
type StageState struct {
	Status stage.Status
	// Phase is the acquisition sub-phase while active (transfer, convert).
	Phase        string
	Model        string
	ErrorMessage string
	// Attempt increments every time the stage is queued. Jobs carry the
	// attempt they were queued under so a superseded job cannot claim or
	// finish a newer one.
	Attempt   int64
	UpdatedAt time.Time
}

// Label returns the display label for the state, e.g. "downloading".
func (s StageState) Label(name stage.Name) string {
	return stage.Label(name, s.Status, s.Phase)
}

// Lecture is a single work item tracked through every stage.
type Lecture struct {
	ID              int64
	CourseID        int64
	Title           string
	SourceURL       string
	Position        int
	RecordedAt      *time.Time
	DurationSeconds float64
	MediaPath       string
	Stages          map[stage.Name]StageState
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Stage returns the state for name, defaulting to pending.
func (l Lecture) Stage(name stage.Name) StageState {
	if state, ok := l.Stages[name]; ok {
		return state
	}
	return StageState{Status: stage.StatusPending}
}

// Snapshot returns the status of every stage for scheduling decisions.
func (l Lecture) Snapshot() stage.Snapshot {
	snap := make(stage.Snapshot, len(l.Stages))
	for name, state := range l.Stages {
		snap[name] = state.Status
	}
	return snap
}

// NoMedia reports whether acquisition found nothing to process.
func (l Lecture) NoMedia() bool {
	return l.Stage(stage.Acquisition).Status == stage.StatusNoMedia
}

// HasError reports whether any stage is in error.
func (l Lecture) HasError() bool {
	for _, state := range l.Stages {
		if state.Status == stage.StatusError {
			return true
		}
	}
	return false
}

// NewLecture describes a lecture to register.
type NewLecture struct {
	CourseID   int64
	Title      string
	SourceURL  string
	Position   int
	RecordedAt *time.Time
}

// LectureFilter narrows ListLectures. Zero values match everything.
type LectureFilter struct {
	CourseID int64
	IDs      []int64
	// Stage and Status together select lectures whose Stage is in Status.
	Stage  stage.Name
	Status stage.Status
}

// Segment is a timed span of transcript text.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the transcription stage output.
type Transcript struct {
	Language        string    `json:"language,omitempty"`
	Text            string    `json:"text"`
	Segments        []Segment `json:"segments,omitempty"`
	DurationSeconds float64   `json:"durationSeconds,omitempty"`
	Model           string    `json:"model,omitempty"`
}

// KeyMoment is a notable timestamp the note generator picked out.
type KeyMoment struct {
	Timestamp float64 `json:"timestamp"`
	Title     string  `json:"title"`
}

// Notes is the note generation stage output.
type Notes struct {
	Markdown   string      `json:"markdown"`
	KeyMoments []KeyMoment `json:"keyMoments,omitempty"`
	Model      string      `json:"model,omitempty"`
}

// Timestamps returns the key moment timestamps sorted and de-duplicated.
func (n Notes) Timestamps() []float64 {
	seen := make(map[float64]struct{}, len(n.KeyMoments))
	out := make([]float64, 0, len(n.KeyMoments))
	for _, moment := range n.KeyMoments {
		if moment.Timestamp < 0 {
			continue
		}
		if _, ok := seen[moment.Timestamp]; ok {
			continue
		}
		seen[moment.Timestamp] = struct{}{}
		out = append(out, moment.Timestamp)
	}
	sort.Float64s(out)
	return out
}

// Frame is one extracted still.
type Frame struct {
	Timestamp float64 `json:"timestamp"`
	Path      string  `json:"path"`
}

// Frames is the frame extraction stage output.
type Frames struct {
	Images []Frame `json:"images"`
}

type artifactKind string

const (
	artifactTranscript artifactKind = "transcript"
	artifactNotes      artifactKind = "notes"
	artifactFrames     artifactKind = "frames"
)
