package events

import (
	"time"

	"lectern/internal/stage"
)

// Kind classifies an event.
type Kind string

const (
	// KindStage reports a stage status transition.
	KindStage Kind = "stage"
	// KindProgress reports acquisition progress within an active stage.
	KindProgress Kind = "progress"
	// KindMeta reports lecture or course level changes such as registration
	// or deletion.
	KindMeta Kind = "meta"
)

// Meta event messages.
const (
	MetaLectureAdded   = "lecture_added"
	MetaLectureDeleted = "lecture_deleted"
	MetaCourseAdded    = "course_added"
	MetaCourseRenamed  = "course_renamed"
	MetaCourseDeleted  = "course_deleted"
)

// Progress is the payload of a progress event.
type Progress struct {
	Done       int64   `json:"done"`
	Total      int64   `json:"total"`
	Phase      string  `json:"phase,omitempty"`
	Rate       float64 `json:"rate,omitempty"`
	ETASeconds float64 `json:"etaSeconds,omitempty"`
}

// Percent returns completion in the range 0..100, or -1 when Total is unknown.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return -1
	}
	pct := float64(p.Done) / float64(p.Total) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// Event is an immutable notification. Seq is assigned by the hub in dispatch
// order and At is stamped on publish when unset.
type Event struct {
	Seq       uint64       `json:"seq"`
	Kind      Kind         `json:"kind"`
	LectureID int64        `json:"lectureId,omitempty"`
	CourseID  int64        `json:"courseId,omitempty"`
	Stage     stage.Name   `json:"stage,omitempty"`
	Status    stage.Status `json:"status,omitempty"`
	Previous  stage.Status `json:"previous,omitempty"`
	Label     string       `json:"label,omitempty"`
	Phase     string       `json:"phase,omitempty"`
	Error     string       `json:"error,omitempty"`
	Model     string       `json:"model,omitempty"`
	Progress  *Progress    `json:"progress,omitempty"`
	Message   string       `json:"message,omitempty"`
	// DurationSeconds accompanies a completed acquisition.
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	// Gap is set on the first event a subscriber receives after some of its
	// buffered events were dropped.
	Gap bool      `json:"gap,omitempty"`
	At  time.Time `json:"at"`
}

// StageEvent builds a transition event for one lecture stage.
func StageEvent(lectureID, courseID int64, name stage.Name, previous, status stage.Status) Event {
	return Event{
		Kind:      KindStage,
		LectureID: lectureID,
		CourseID:  courseID,
		Stage:     name,
		Status:    status,
		Previous:  previous,
		Label:     stage.Label(name, status, ""),
	}
}
