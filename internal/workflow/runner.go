package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lectern/internal/events"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/services"
	"lectern/internal/stage"
)

const recordTimeout = 15 * time.Second

// Publisher accepts events without blocking.
type Publisher interface {
	Publish(events.Event)
}

// Runner executes stage jobs against the collaborators.
type Runner struct {
	store        *queue.Store
	publisher    Publisher
	collab       Collaborators
	progressRate float64
	logger       *slog.Logger
}

// NewRunner constructs a runner.
func NewRunner(store *queue.Store, publisher Publisher, collab Collaborators, progressRate float64, logger *slog.Logger) *Runner {
	return &Runner{
		store:        store,
		publisher:    publisher,
		collab:       collab,
		progressRate: progressRate,
		logger:       logging.NewComponentLogger(logger, "workflow-runner"),
	}
}

type stageResult struct {
	model    string
	duration float64
	// persist carries the stage output; it is written with the completion
	// so a superseded attempt leaves nothing behind.
	persist []queue.TransitionOption
}

// Run claims the job's stage, invokes the collaborator and records the
// outcome. A lost claim is a silent no-op reported as Skipped.
func (r *Runner) Run(ctx context.Context, job Job) Outcome {
	ctx = withJobContext(ctx, job)
	logger := logging.WithContext(ctx, r.logger)
	out := Outcome{Job: job}

	lecture, err := r.store.GetLecture(ctx, job.LectureID)
	if err != nil {
		out.Skipped = true
		if errors.Is(err, queue.ErrNotFound) {
			logger.Debug("lecture removed before job ran", logging.String(logging.FieldEventType, "job_lecture_missing"))
			return out
		}
		out.Err = err
		logging.ErrorWithContext(logger, "failed to load lecture for job", "job_load_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check database access; the stage stays queued until restart recovery"),
		)
		return out
	}

	phase := ""
	if job.Stage == stage.Acquisition {
		phase = stage.PhaseTransfer
	}
	claimed, err := r.store.CompareAndSetStatus(ctx, job.LectureID, job.Stage, stage.StatusQueued, stage.StatusActive,
		stage.CauseClaim, queue.WithAttempt(job.Attempt), queue.WithModel(job.Model), queue.WithPhase(phase))
	if err != nil {
		out.Skipped = true
		out.Err = err
		logging.ErrorWithContext(logger, "failed to claim stage", "stage_claim_failed", logging.Error(err))
		return out
	}
	if !claimed {
		out.Skipped = true
		logger.Debug("stage claimed elsewhere or re-queued", logging.String(logging.FieldEventType, "stage_claim_lost"))
		return out
	}

	claimedEvt := events.StageEvent(job.LectureID, job.CourseID, job.Stage, stage.StatusQueued, stage.StatusActive)
	claimedEvt.Phase = phase
	claimedEvt.Label = stage.Label(job.Stage, stage.StatusActive, phase)
	claimedEvt.Model = job.Model
	r.publish(claimedEvt)

	start := time.Now()
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("model", job.Model),
		logging.Bool("force", job.Force),
		logging.Int64("attempt", job.Attempt),
	)

	result, execErr := r.execute(ctx, job, *lecture)

	status := stage.StatusDone
	errText := ""
	switch {
	case execErr == nil:
	case job.Stage == stage.Acquisition && services.IsNoMedia(execErr):
		status = stage.StatusNoMedia
		errText = execErr.Error()
	default:
		status = stage.StatusError
		errText = execErr.Error()
	}
	model := result.model
	if model == "" {
		model = job.Model
	}

	// Record even when ctx was cancelled so interrupted jobs end as failures.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	opts := []queue.TransitionOption{queue.WithAttempt(job.Attempt)}
	if status == stage.StatusDone {
		opts = append(opts, result.persist...)
	}
	if err := r.store.SetResult(recordCtx, job.LectureID, job.Stage, status, errText, model, opts...); err != nil {
		out.Skipped = true
		if errors.Is(err, queue.ErrStaleTransition) || errors.Is(err, queue.ErrNotFound) {
			logger.Info("stage superseded before completion; result discarded",
				logging.String(logging.FieldEventType, "stage_superseded"),
				logging.String("discarded_status", string(status)),
			)
			return out
		}
		out.Err = err
		logging.ErrorWithContext(logger, "failed to record stage result", "stage_record_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the stage stays active until restart recovery"),
		)
		return out
	}

	doneEvt := events.StageEvent(job.LectureID, job.CourseID, job.Stage, stage.StatusActive, status)
	doneEvt.Model = model
	doneEvt.Error = errText
	doneEvt.DurationSeconds = result.duration
	r.publish(doneEvt)

	out.Status = status
	attrs := []logging.Attr{
		logging.String("status", string(status)),
		logging.String("model", model),
		logging.Duration("stage_duration", time.Since(start)),
	}
	switch status {
	case stage.StatusError:
		out.Err = execErr
		logging.WarnWithContext(logger, "stage failed", "stage_failed", append(attrs,
			logging.Error(execErr),
			logging.String(logging.FieldErrorHint, "inspect the error and retry the stage"),
			logging.String(logging.FieldImpact, "pipeline halted for this lecture"),
		)...)
	case stage.StatusNoMedia:
		logger.Info("lecture has no media", logging.Args(append(attrs, logging.String(logging.FieldEventType, "stage_no_media"))...)...)
	default:
		logger.Info("stage completed", logging.Args(append(attrs, logging.String(logging.FieldEventType, "stage_complete"))...)...)
	}
	return out
}

func (r *Runner) publish(evt events.Event) {
	if r.publisher != nil {
		r.publisher.Publish(evt)
	}
}

func (r *Runner) execute(ctx context.Context, job Job, lecture queue.Lecture) (result stageResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = services.Wrap(services.ErrExternalTool, string(job.Stage), "execute", fmt.Sprintf("collaborator panicked: %v", rec), nil)
		}
	}()
	if job.Stage != stage.Frames && r.collab.forStage(job.Stage) == nil {
		return result, missingCollaborator(job.Stage)
	}

	switch job.Stage {
	case stage.Acquisition:
		return r.acquire(ctx, job, lecture)
	case stage.Transcription:
		return r.transcribe(ctx, job, lecture)
	case stage.Notes:
		return r.writeNotes(ctx, job, lecture)
	case stage.Frames:
		return r.extractFrames(ctx, job, lecture)
	default:
		return result, fmt.Errorf("%w: unknown stage %q", services.ErrValidation, job.Stage)
	}
}

func (r *Runner) acquire(ctx context.Context, job Job, lecture queue.Lecture) (stageResult, error) {
	logger := logging.WithContext(ctx, r.logger)
	reporter := newProgressReporter(r.progressRate, logger,
		func(update ProgressUpdate) {
			r.publish(events.Event{
				Kind:      events.KindProgress,
				LectureID: job.LectureID,
				CourseID:  job.CourseID,
				Stage:     stage.Acquisition,
				Status:    stage.StatusActive,
				Phase:     update.Phase,
				Label:     stage.Label(stage.Acquisition, stage.StatusActive, update.Phase),
				Progress: &events.Progress{
					Done:       update.Done,
					Total:      update.Total,
					Phase:      update.Phase,
					Rate:       update.Rate,
					ETASeconds: update.ETASeconds,
				},
			})
		},
		func(phase string) {
			if _, err := r.store.SetPhase(ctx, job.LectureID, stage.Acquisition, phase, queue.WithAttempt(job.Attempt)); err != nil {
				logger.Debug("phase update failed", logging.Error(err))
			}
		},
	)

	res, err := r.collab.Acquirer.Acquire(ctx, lecture, reporter.report)
	if forwarded, coalesced := reporter.counts(); forwarded+coalesced > 0 {
		logger.Debug("acquisition progress summary",
			logging.Int("forwarded", forwarded),
			logging.Int("coalesced", coalesced),
		)
	}
	if err != nil {
		return stageResult{}, err
	}
	if res.MediaPath == "" {
		return stageResult{}, services.Wrap(services.ErrExternalTool, string(stage.Acquisition), "acquire", "collaborator returned no media path", nil)
	}
	// New media makes every derived artifact stale.
	invalidate := queue.WithInvalidate(func(name stage.Name, from stage.Status) {
		r.publish(events.StageEvent(job.LectureID, job.CourseID, name, from, stage.StatusPending))
	}, stage.Transcription, stage.Notes, stage.Frames)
	return stageResult{
		duration: res.DurationSeconds,
		persist:  []queue.TransitionOption{queue.WithMedia(res.MediaPath, res.DurationSeconds), invalidate},
	}, nil
}

func (r *Runner) transcribe(ctx context.Context, job Job, lecture queue.Lecture) (stageResult, error) {
	if lecture.MediaPath == "" {
		return stageResult{}, services.Wrap(services.ErrValidation, string(stage.Transcription), "transcribe", "lecture has no acquired media", nil)
	}
	transcript, err := r.collab.Transcriber.Transcribe(ctx, lecture, job.Model)
	if err != nil {
		return stageResult{}, err
	}
	if transcript.Model == "" {
		transcript.Model = job.Model
	}
	return stageResult{model: transcript.Model, persist: []queue.TransitionOption{queue.WithTranscript(transcript)}}, nil
}

func (r *Runner) writeNotes(ctx context.Context, job Job, lecture queue.Lecture) (stageResult, error) {
	transcript, err := r.store.Transcript(ctx, lecture.ID)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			return stageResult{}, services.Wrap(services.ErrValidation, string(stage.Notes), "load transcript", "no transcript recorded", nil)
		}
		return stageResult{}, fmt.Errorf("load transcript: %w", err)
	}
	notes, err := r.collab.NoteWriter.WriteNotes(ctx, lecture, *transcript, job.Model)
	if err != nil {
		return stageResult{}, err
	}
	if notes.Model == "" {
		notes.Model = job.Model
	}
	return stageResult{model: notes.Model, persist: []queue.TransitionOption{queue.WithNotes(notes)}}, nil
}

func (r *Runner) extractFrames(ctx context.Context, job Job, lecture queue.Lecture) (stageResult, error) {
	var timestamps []float64
	notes, err := r.store.Notes(ctx, lecture.ID)
	switch {
	case err == nil:
		timestamps = notes.Timestamps()
	case errors.Is(err, queue.ErrNotFound):
	default:
		return stageResult{}, fmt.Errorf("load notes: %w", err)
	}

	frames := queue.Frames{}
	if len(timestamps) > 0 {
		if r.collab.FrameExtractor == nil {
			return stageResult{}, missingCollaborator(stage.Frames)
		}
		if lecture.MediaPath == "" {
			return stageResult{}, services.Wrap(services.ErrValidation, string(stage.Frames), "extract", "lecture has no acquired media", nil)
		}
		frames, err = r.collab.FrameExtractor.ExtractFrames(ctx, lecture, timestamps)
		if err != nil {
			return stageResult{}, err
		}
	}
	return stageResult{model: job.Model, persist: []queue.TransitionOption{queue.WithFrames(frames)}}, nil
}

func missingCollaborator(name stage.Name) error {
	return services.Wrap(services.ErrConfiguration, string(name), "execute", "no collaborator configured", nil)
}
