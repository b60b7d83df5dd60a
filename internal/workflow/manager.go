package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"lectern/internal/config"
	"lectern/internal/events"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/stage"
	"lectern/internal/summary"
	"lectern/internal/workerpool"
)

// Manager coordinates the worker pool, scheduler, event hub and summary
// tracker.
type Manager struct {
	cfg    *config.Config
	store  *queue.Store
	logger *slog.Logger
	collab Collaborators

	hub       *events.Hub
	pool      *workerpool.Pool[*task]
	runner    *Runner
	scheduler *Scheduler
	tracker   *summary.Tracker

	mu          sync.RWMutex
	running     bool
	runCtx      context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	startedAt   time.Time
	lastErr     error
	lastOutcome *Outcome
	recovered   int64
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, store *queue.Store, collab Collaborators, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:     cfg,
		store:   store,
		logger:  logging.NewComponentLogger(logger, "workflow"),
		collab:  collab,
		tracker: summary.NewTracker(nil),
	}
	m.hub = events.NewHub(events.Options{
		InboxSize:        cfg.Workflow.EventBuffer,
		SubscriberBuffer: cfg.Workflow.SubscriberBuffer,
		Logger:           logger,
	})
	m.runner = NewRunner(store, m.hub, collab, cfg.Workflow.ProgressRate, logger)
	m.pool = workerpool.New(cfg.Workflow.Workers, m.handle, m.complete, logger)
	m.scheduler = NewScheduler(store, m.hub, m.submit, ChainPolicy{
		RunFrames:       cfg.Workflow.RunFrames,
		TranscriptModel: cfg.Transcription.DefaultModel,
		NotesModel:      cfg.Notes.DefaultModel,
	}, logger)
	return m
}

// Start recovers orphaned work when configured, then starts the hub, the
// summary feed and the workers.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}

	if m.cfg.Workflow.RecoverOnStart {
		recovered, err := m.store.RecoverInFlight(ctx)
		if err != nil {
			return err
		}
		m.recovered = recovered
		if recovered > 0 {
			m.logger.Info("reset in-flight stages from previous run",
				logging.String(logging.FieldEventType, "restart_recovery"),
				logging.Int64("stages", recovered),
			)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.hub.Run(runCtx); err != nil {
			m.logger.Error("event hub stopped", logging.Error(err))
		}
	}()

	sub, err := m.hub.Subscribe(runCtx,
		events.WithKinds(events.KindStage, events.KindMeta),
		events.WithBuffer(max(4*m.cfg.Workflow.SubscriberBuffer, 1024)),
	)
	if err != nil {
		cancel()
		m.wg.Wait()
		return err
	}
	if err := m.reseed(runCtx); err != nil {
		cancel()
		m.wg.Wait()
		return err
	}
	m.wg.Add(1)
	go m.follow(runCtx, sub)

	if err := m.pool.Start(runCtx); err != nil {
		cancel()
		m.wg.Wait()
		return err
	}

	m.runCtx = runCtx
	m.cancel = cancel
	m.running = true
	m.startedAt = time.Now().UTC()
	m.logger.Info("workflow started",
		logging.String(logging.FieldEventType, "workflow_started"),
		logging.Int("workers", m.cfg.Workflow.Workers),
	)
	return nil
}

// Stop halts the workers and waits for in-flight jobs to record their
// outcome. Jobs still queued stay queued in the store.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	abandoned := m.pool.Stop()
	cancel()
	m.wg.Wait()
	m.logger.Info("workflow stopped",
		logging.String(logging.FieldEventType, "workflow_stopped"),
		logging.Int("abandoned_jobs", abandoned),
	)
}

// Run schedules a pipeline request.
func (m *Manager) Run(ctx context.Context, req PipelineRequest) (Result, error) {
	return m.scheduler.Run(ctx, req)
}

// Retry re-runs an errored stage.
func (m *Manager) Retry(ctx context.Context, lectureID int64, name stage.Name) (Result, error) {
	return m.scheduler.Retry(ctx, lectureID, name)
}

// CreateCourse registers a course.
func (m *Manager) CreateCourse(ctx context.Context, title, sourceURL string) (*queue.Course, error) {
	course, err := m.store.CreateCourse(ctx, title, sourceURL)
	if err != nil {
		return nil, err
	}
	m.hub.Publish(events.Event{Kind: events.KindMeta, Message: events.MetaCourseAdded, CourseID: course.ID})
	return course, nil
}

// RenameCourse changes a course title.
func (m *Manager) RenameCourse(ctx context.Context, id int64, title string) (*queue.Course, error) {
	course, err := m.store.RenameCourse(ctx, id, title)
	if err != nil {
		return nil, err
	}
	m.hub.Publish(events.Event{Kind: events.KindMeta, Message: events.MetaCourseRenamed, CourseID: course.ID})
	return course, nil
}

// DeleteCourse removes a course with all of its lectures. Jobs still running
// for those lectures find them gone and discard their results.
func (m *Manager) DeleteCourse(ctx context.Context, id int64) error {
	if _, err := m.store.GetCourse(ctx, id); err != nil {
		return err
	}
	lectures, err := m.store.ListLectures(ctx, queue.LectureFilter{CourseID: id})
	if err != nil {
		return err
	}
	if err := m.store.DeleteCourse(ctx, id); err != nil {
		return err
	}
	for _, lecture := range lectures {
		m.hub.Publish(events.Event{Kind: events.KindMeta, Message: events.MetaLectureDeleted, LectureID: lecture.ID, CourseID: id})
	}
	m.hub.Publish(events.Event{Kind: events.KindMeta, Message: events.MetaCourseDeleted, CourseID: id})
	return nil
}

// AddLecture registers a lecture with every stage pending.
func (m *Manager) AddLecture(ctx context.Context, in queue.NewLecture) (*queue.Lecture, error) {
	lecture, err := m.store.AddLecture(ctx, in)
	if err != nil {
		return nil, err
	}
	m.hub.Publish(events.Event{Kind: events.KindMeta, Message: events.MetaLectureAdded, LectureID: lecture.ID, CourseID: lecture.CourseID})
	return lecture, nil
}

// DeleteLecture removes a lecture and its artifacts.
func (m *Manager) DeleteLecture(ctx context.Context, id int64) error {
	lecture, err := m.store.GetLecture(ctx, id)
	if err != nil {
		return err
	}
	if err := m.store.DeleteLecture(ctx, id); err != nil {
		return err
	}
	m.hub.Publish(events.Event{Kind: events.KindMeta, Message: events.MetaLectureDeleted, LectureID: id, CourseID: lecture.CourseID})
	return nil
}

// Summary returns the tracked report, or a full recompute when asked.
func (m *Manager) Summary(ctx context.Context, recompute bool) (summary.Report, error) {
	if !recompute {
		return m.tracker.Report(), nil
	}
	lectures, err := m.store.ListLectures(ctx, queue.LectureFilter{})
	if err != nil {
		return summary.Report{}, err
	}
	return summary.Compute(lectures), nil
}

// Subscribe opens an event subscription.
func (m *Manager) Subscribe(ctx context.Context, opts ...events.SubscribeOption) (*events.Subscription, error) {
	return m.hub.Subscribe(ctx, opts...)
}

// Publish forwards an event to subscribers.
func (m *Manager) Publish(evt events.Event) {
	m.hub.Publish(evt)
}

func (m *Manager) submit(job Job) error {
	return m.pool.Submit(&task{job: job})
}

func (m *Manager) handle(ctx context.Context, t *task) error {
	t.outcome = m.runner.Run(ctx, t.job)
	return t.outcome.Err
}

func (m *Manager) complete(t *task, err error) {
	if t.outcome.Job.LectureID == 0 {
		// The handler panicked before the runner returned.
		t.outcome = Outcome{Job: t.job, Status: stage.StatusError, Err: err}
	}
	m.setLastOutcome(t.outcome)
	if t.outcome.Err != nil {
		m.setLastError(t.outcome.Err)
	}

	ctx, running := m.context()
	if !running || ctx.Err() != nil {
		return
	}
	if err := m.scheduler.Continue(ctx, t.outcome); err != nil {
		m.setLastError(err)
		logging.WarnWithContext(logging.WithContext(withJobContext(ctx, t.job), m.logger), "failed to chain next stage", "chain_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "re-run the pipeline for this lecture"),
			logging.String(logging.FieldImpact, "later stages were not queued"),
		)
	}
}

// follow feeds the tracker from the hub. A gap means events were lost, so
// the tracker is rebuilt from the store.
func (m *Manager) follow(ctx context.Context, sub *events.Subscription) {
	defer m.wg.Done()
	defer sub.Close()
	for evt := range sub.C() {
		if evt.Gap {
			if err := m.reseed(ctx); err != nil && ctx.Err() == nil {
				logging.WarnWithContext(m.logger, "summary reseed failed", "summary_reseed_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "live summary may lag until the next reseed"),
				)
			}
			continue
		}
		m.tracker.Apply(evt)
	}
}

func (m *Manager) reseed(ctx context.Context) error {
	lectures, err := m.store.ListLectures(ctx, queue.LectureFilter{})
	if err != nil {
		return err
	}
	m.tracker.Reset(lectures)
	return nil
}

func (m *Manager) context() (context.Context, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.runCtx == nil {
		return context.Background(), m.running
	}
	return m.runCtx, m.running
}
