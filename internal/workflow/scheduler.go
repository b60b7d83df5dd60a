package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"lectern/internal/events"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/services"
	"lectern/internal/stage"
)

// SubmitFunc hands a queued job to the worker pool.
type SubmitFunc func(Job) error

// Scheduler decides which stage each lecture needs and enqueues it. The
// store's compare-and-set is the only guard against duplicate work.
type Scheduler struct {
	store     *queue.Store
	publisher Publisher
	submit    SubmitFunc
	validate  *validator.Validate
	defaults  ChainPolicy
	logger    *slog.Logger
}

// NewScheduler constructs a scheduler. defaults supplies RunFrames and the
// model selectors used when a request leaves them empty.
func NewScheduler(store *queue.Store, publisher Publisher, submit SubmitFunc, defaults ChainPolicy, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		publisher: publisher,
		submit:    submit,
		validate:  NewValidator(),
		defaults:  defaults,
		logger:    logging.NewComponentLogger(logger, "workflow-scheduler"),
	}
}

type plan struct {
	lecture queue.Lecture
	stage   stage.Name
	ok      bool
}

// Run validates req, plans every covered lecture and enqueues the planned
// stages. A dependency violation on any lecture fails the whole request
// before anything is enqueued.
func (s *Scheduler) Run(ctx context.Context, req PipelineRequest) (Result, error) {
	req.Normalize()
	if err := req.Validate(s.validate); err != nil {
		return Result{}, err
	}
	lectures, err := s.resolve(ctx, req)
	if err != nil {
		return Result{}, err
	}
	policy := s.policyFor(req)

	plans := make([]plan, 0, len(lectures))
	for _, lecture := range lectures {
		if req.Scope == ScopeBulk {
			plans = append(plans, planBulk(lecture, req))
			continue
		}
		p, err := planPipeline(lecture, req, policy)
		if err != nil {
			return Result{}, err
		}
		plans = append(plans, p)
	}

	var result Result
	for _, p := range plans {
		if !p.ok {
			result.record(p.lecture.ID, false)
			continue
		}
		enqueued, err := s.enqueue(ctx, p.lecture, p.stage, req.Force, false, policy)
		if err != nil {
			return result, err
		}
		result.record(p.lecture.ID, enqueued)
	}

	s.logger.Info("pipeline request scheduled",
		logging.String(logging.FieldEventType, "pipeline_scheduled"),
		logging.String("scope", string(req.Scope)),
		logging.String("from_stage", string(req.FromStage)),
		logging.String("bulk_stage", string(req.Stage)),
		logging.Bool("force", req.Force),
		logging.Int("considered", len(lectures)),
		logging.Int("enqueued", result.Enqueued),
	)
	return result, nil
}

// Retry re-queues an errored stage without force and chains on success.
func (s *Scheduler) Retry(ctx context.Context, lectureID int64, name stage.Name) (Result, error) {
	if !name.Valid() {
		return Result{}, services.Wrap(services.ErrValidation, "workflow", "retry", fmt.Sprintf("unknown stage %q", name), nil)
	}
	lecture, err := s.store.GetLecture(ctx, lectureID)
	if err != nil {
		return Result{}, err
	}
	state := lecture.Stage(name)
	if state.Status != stage.StatusError {
		return Result{}, services.Wrap(services.ErrValidation, string(name), "retry",
			fmt.Sprintf("lecture %d stage is %s, only errored stages can be retried", lectureID, state.Status), nil)
	}
	if err := dependencyError(*lecture, name); err != nil {
		return Result{}, err
	}
	policy := s.defaults
	policy.Enabled = true

	var result Result
	enqueued, err := s.enqueue(ctx, *lecture, name, false, true, policy)
	if err != nil {
		return result, err
	}
	result.record(lectureID, enqueued)
	return result, nil
}

// Continue is invoked with every finished job. On success it re-reads the
// lecture and enqueues the next unmet stage according to the job's chain
// policy. Chained enqueues are never forced.
func (s *Scheduler) Continue(ctx context.Context, outcome Outcome) error {
	job := outcome.Job
	if !outcome.Succeeded() || !job.Chain.Enabled {
		return nil
	}
	lecture, err := s.store.GetLecture(ctx, job.LectureID)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			return nil
		}
		return err
	}
	snap := lecture.Snapshot()
	if snap.NoMedia() {
		return nil
	}
	next, ok := stage.FirstUnsatisfied(snap)
	logger := logging.WithContext(withJobContext(ctx, job), s.logger)
	if !ok {
		logger.Info("lecture fully processed", logging.String(logging.FieldEventType, "lecture_complete"))
		return nil
	}
	if next == stage.Frames && !job.Chain.RunFrames {
		logger.Debug("frames disabled; chain stops after notes", logging.String(logging.FieldEventType, "chain_stop"))
		return nil
	}
	enqueued, err := s.enqueue(ctx, *lecture, next, false, false, job.Chain)
	if err != nil {
		return err
	}
	if enqueued {
		logger.Debug("chained next stage",
			logging.String(logging.FieldEventType, "chain_next"),
			logging.String("next_stage", string(next)),
		)
	}
	return nil
}

func (s *Scheduler) resolve(ctx context.Context, req PipelineRequest) ([]queue.Lecture, error) {
	switch req.Scope {
	case ScopeLecture:
		lecture, err := s.store.GetLecture(ctx, req.LectureID)
		if err != nil {
			return nil, err
		}
		return []queue.Lecture{*lecture}, nil
	case ScopeCourse:
		if _, err := s.store.GetCourse(ctx, req.CourseID); err != nil {
			return nil, err
		}
		return s.store.ListLectures(ctx, queue.LectureFilter{CourseID: req.CourseID})
	case ScopeGlobal:
		return s.store.ListLectures(ctx, queue.LectureFilter{})
	case ScopeBulk:
		ids := uniqueIDs(req.LectureIDs)
		lectures, err := s.store.ListLectures(ctx, queue.LectureFilter{IDs: ids})
		if err != nil {
			return nil, err
		}
		if len(lectures) != len(ids) {
			found := make(map[int64]struct{}, len(lectures))
			for _, lecture := range lectures {
				found[lecture.ID] = struct{}{}
			}
			var missing []int64
			for _, id := range ids {
				if _, ok := found[id]; !ok {
					missing = append(missing, id)
				}
			}
			return nil, fmt.Errorf("%w: lectures %v", queue.ErrNotFound, missing)
		}
		return lectures, nil
	default:
		return nil, services.Wrap(services.ErrValidation, "workflow", "resolve", fmt.Sprintf("unknown scope %q", req.Scope), nil)
	}
}

func (s *Scheduler) policyFor(req PipelineRequest) ChainPolicy {
	policy := s.defaults
	policy.Enabled = req.Scope != ScopeBulk
	if req.RunFrames != nil {
		policy.RunFrames = *req.RunFrames
	}
	if req.TranscriptModel != "" {
		policy.TranscriptModel = req.TranscriptModel
	}
	if req.NotesModel != "" {
		policy.NotesModel = req.NotesModel
	}
	if req.FramesModel != "" {
		policy.FramesModel = req.FramesModel
	}
	return policy
}

// planPipeline picks the stage a pipeline run should enqueue for lecture.
// An unmet from-stage dependency rejects a lecture-scoped request and skips
// the lecture in course and global runs.
func planPipeline(lecture queue.Lecture, req PipelineRequest, policy ChainPolicy) (plan, error) {
	p := plan{lecture: lecture}
	snap := lecture.Snapshot()
	if req.FromStage != "" {
		if snap.NoMedia() && req.FromStage != stage.Acquisition {
			return p, nil
		}
		if req.Scope != ScopeLecture {
			if !stage.DependencyMet(snap, req.FromStage) {
				return p, nil
			}
		} else if !req.Force {
			if err := dependencyError(lecture, req.FromStage); err != nil {
				return p, err
			}
		}
		p.stage, p.ok = req.FromStage, true
		return p, nil
	}
	if snap.NoMedia() {
		return p, nil
	}
	name, ok := stage.FirstUnsatisfied(snap)
	if !ok {
		return p, nil
	}
	if name == stage.Frames && !policy.RunFrames {
		return p, nil
	}
	p.stage, p.ok = name, true
	return p, nil
}

// planBulk targets req.Stage without auto-detection. Lectures whose
// dependency is unmet are skipped.
func planBulk(lecture queue.Lecture, req PipelineRequest) plan {
	p := plan{lecture: lecture}
	if lecture.NoMedia() && req.Stage != stage.Acquisition {
		return p
	}
	if !stage.DependencyMet(lecture.Snapshot(), req.Stage) {
		return p
	}
	p.stage, p.ok = req.Stage, true
	return p
}

func dependencyError(lecture queue.Lecture, name stage.Name) error {
	if stage.DependencyMet(lecture.Snapshot(), name) {
		return nil
	}
	dep, _ := stage.Dependency(name)
	return services.Wrap(services.ErrValidation, string(name), "schedule",
		fmt.Sprintf("lecture %d: %s requires %s to be done (currently %s)", lecture.ID, name, dep, lecture.Stage(dep).Status), nil)
}

// enqueue moves name to queued and submits a job. It reports false when the
// stage is not eligible or another caller won the compare-and-set.
func (s *Scheduler) enqueue(ctx context.Context, lecture queue.Lecture, name stage.Name, force, retry bool, policy ChainPolicy) (bool, error) {
	state := lecture.Stage(name)
	cause, ok := stage.EnqueueCause(state.Status, force, retry)
	if !ok {
		return false, nil
	}
	model := policy.modelFor(name)
	swapped, err := s.store.CompareAndSetStatus(ctx, lecture.ID, name, state.Status, stage.StatusQueued, cause,
		queue.WithAttempt(state.Attempt), queue.WithModel(model))
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !swapped {
		s.logger.Debug("enqueue lost compare-and-set",
			logging.Int64(logging.FieldLectureID, lecture.ID),
			logging.String(logging.FieldStage, string(name)),
			logging.String(logging.FieldEventType, "enqueue_race_lost"),
		)
		return false, nil
	}

	evt := events.StageEvent(lecture.ID, lecture.CourseID, name, state.Status, stage.StatusQueued)
	evt.Model = model
	if s.publisher != nil {
		s.publisher.Publish(evt)
	}

	job := Job{
		LectureID: lecture.ID,
		CourseID:  lecture.CourseID,
		Stage:     name,
		Model:     model,
		Force:     force,
		Attempt:   state.Attempt + 1,
		Chain:     policy,
	}
	if err := s.submit(job); err != nil {
		logging.WarnWithContext(s.logger, "job submit failed after enqueue", "job_submit_failed",
			logging.Int64(logging.FieldLectureID, lecture.ID),
			logging.String(logging.FieldStage, string(name)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the stage stays queued until restart recovery"),
			logging.String(logging.FieldImpact, "stage will not run in this process"),
		)
		return false, fmt.Errorf("submit %s job for lecture %d: %w", name, lecture.ID, err)
	}
	return true, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
