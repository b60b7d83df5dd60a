package workflow

import (
	"lectern/internal/stage"
)

// ChainPolicy controls what happens after a job succeeds.
type ChainPolicy struct {
	Enabled         bool
	RunFrames       bool
	TranscriptModel string
	NotesModel      string
	FramesModel     string
}

// modelFor returns the model selector the policy assigns to name.
func (p ChainPolicy) modelFor(name stage.Name) string {
	switch name {
	case stage.Transcription:
		return p.TranscriptModel
	case stage.Notes:
		return p.NotesModel
	case stage.Frames:
		return p.FramesModel
	default:
		return ""
	}
}

// Job is one scheduled execution of a stage for a lecture. Attempt is the
// stage attempt the scheduler queued; the runner only acts while the store
// still holds that attempt.
type Job struct {
	LectureID int64
	CourseID  int64
	Stage     stage.Name
	Model     string
	Force     bool
	Attempt   int64
	Chain     ChainPolicy
}

// Outcome is what the runner reports for a finished job.
type Outcome struct {
	Job    Job
	Status stage.Status
	Err    error
	// Skipped is set when the job never ran: another worker claimed the
	// stage first, the stage was re-queued, or the lecture is gone.
	Skipped bool
}

// Succeeded reports whether the stage concluded as done.
func (o Outcome) Succeeded() bool {
	return !o.Skipped && o.Status == stage.StatusDone
}

// task is the unit the worker pool carries.
type task struct {
	job     Job
	outcome Outcome
}
