package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lectern/internal/config"
	"lectern/internal/events"
	"lectern/internal/queue"
	"lectern/internal/services"
	"lectern/internal/stage"
	"lectern/internal/testsupport"
	"lectern/internal/workflow"
)

type stubAcquirer struct {
	mu       sync.Mutex
	calls    map[int64]int
	noMedia  map[int64]bool
	progress []workflow.ProgressUpdate
	gate     chan struct{}
	panicOn  map[int64]bool
	mediaDir string
}

func newStubAcquirer(mediaDir string) *stubAcquirer {
	return &stubAcquirer{
		calls:    map[int64]int{},
		noMedia:  map[int64]bool{},
		panicOn:  map[int64]bool{},
		mediaDir: mediaDir,
	}
}

func (s *stubAcquirer) Acquire(ctx context.Context, lecture queue.Lecture, report workflow.ProgressFunc) (workflow.AcquireResult, error) {
	s.mu.Lock()
	s.calls[lecture.ID]++
	noMedia := s.noMedia[lecture.ID]
	explode := s.panicOn[lecture.ID]
	progress := append([]workflow.ProgressUpdate(nil), s.progress...)
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return workflow.AcquireResult{}, ctx.Err()
		}
	}
	if explode {
		panic("decoder crashed")
	}
	if noMedia {
		return workflow.AcquireResult{}, services.Wrap(services.ErrNoMedia, "acquisition", "probe source", "lecture page has no recording", nil)
	}
	for _, update := range progress {
		report(update)
	}
	return workflow.AcquireResult{
		MediaPath:       filepath.Join(s.mediaDir, fmt.Sprintf("%d.opus", lecture.ID)),
		DurationSeconds: 1800,
	}, nil
}

func (s *stubAcquirer) callCount(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

type stubTranscriber struct {
	mu       sync.Mutex
	calls    map[int64]int
	failures map[int64][]error
	models   []string
}

func newStubTranscriber() *stubTranscriber {
	return &stubTranscriber{calls: map[int64]int{}, failures: map[int64][]error{}}
}

func (s *stubTranscriber) failNext(id int64, err error) {
	s.mu.Lock()
	s.failures[id] = append(s.failures[id], err)
	s.mu.Unlock()
}

func (s *stubTranscriber) Transcribe(ctx context.Context, lecture queue.Lecture, model string) (queue.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[lecture.ID]++
	s.models = append(s.models, model)
	if queued := s.failures[lecture.ID]; len(queued) > 0 {
		s.failures[lecture.ID] = queued[1:]
		return queue.Transcript{}, queued[0]
	}
	return queue.Transcript{
		Language: "en",
		Text:     "today we cover eigenvalues",
		Segments: []queue.Segment{{Start: 0, End: 12, Text: "today we cover eigenvalues"}},
	}, nil
}

type stubNoteWriter struct {
	mu    sync.Mutex
	calls int
	// holdFirst blocks the first call until closed.
	holdFirst chan struct{}
}

func (s *stubNoteWriter) WriteNotes(ctx context.Context, lecture queue.Lecture, transcript queue.Transcript, model string) (queue.Notes, error) {
	s.mu.Lock()
	s.calls++
	hold := s.calls == 1 && s.holdFirst != nil
	gate := s.holdFirst
	s.mu.Unlock()
	if hold {
		select {
		case <-gate:
		case <-ctx.Done():
			return queue.Notes{}, ctx.Err()
		}
	}
	return queue.Notes{
		Markdown: "# " + lecture.Title + "\n\n" + transcript.Text,
		KeyMoments: []queue.KeyMoment{
			{Timestamp: 90, Title: "definition"},
			{Timestamp: 30, Title: "motivation"},
		},
		Model: model,
	}, nil
}

type stubFrameExtractor struct {
	mu         sync.Mutex
	timestamps [][]float64
}

func (s *stubNoteWriter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubFrameExtractor) ExtractFrames(ctx context.Context, lecture queue.Lecture, timestamps []float64) (queue.Frames, error) {
	s.mu.Lock()
	s.timestamps = append(s.timestamps, append([]float64(nil), timestamps...))
	s.mu.Unlock()
	frames := queue.Frames{}
	for _, ts := range timestamps {
		frames.Images = append(frames.Images, queue.Frame{Timestamp: ts, Path: fmt.Sprintf("/frames/%d/%06.0f.jpg", lecture.ID, ts)})
	}
	return frames, nil
}

type harness struct {
	cfg         *config.Config
	store       *queue.Store
	manager     *workflow.Manager
	acquirer    *stubAcquirer
	transcriber *stubTranscriber
	notes       *stubNoteWriter
	frames      *stubFrameExtractor
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	h := &harness{
		cfg:         cfg,
		store:       store,
		acquirer:    newStubAcquirer(cfg.Paths.MediaDir),
		transcriber: newStubTranscriber(),
		notes:       &stubNoteWriter{},
		frames:      &stubFrameExtractor{},
	}
	h.manager = workflow.NewManager(cfg, store, workflow.Collaborators{
		Acquirer:       h.acquirer,
		Transcriber:    h.transcriber,
		NoteWriter:     h.notes,
		FrameExtractor: h.frames,
	}, nil)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("manager.Start: %v", err)
	}
	t.Cleanup(h.manager.Stop)
}

func waitForStage(t *testing.T, store *queue.Store, lectureID int64, name stage.Name, want stage.Status) queue.StageState {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var state queue.StageState
	for time.Now().Before(deadline) {
		var err error
		state, err = store.GetStageState(context.Background(), lectureID, name)
		if err != nil {
			t.Fatalf("GetStageState: %v", err)
		}
		if state.Status == want {
			return state
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("lecture %d stage %s = %s, want %s", lectureID, name, state.Status, want)
	return state
}

func waitIdle(t *testing.T, m *workflow.Manager) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		stats := m.PoolStats()
		if stats.Busy == 0 && stats.Queued == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("worker pool did not go idle: %+v", m.PoolStats())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// collect drains sub until stop returns true for an event.
func collect(t *testing.T, sub *events.Subscription, stop func(events.Event) bool) []events.Event {
	t.Helper()
	var got []events.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				t.Fatal("subscription closed")
			}
			got = append(got, evt)
			if stop(evt) {
				return got
			}
		case <-timeout:
			t.Fatalf("timed out collecting events; got %d", len(got))
		}
	}
}

type recordingSubmitter struct {
	mu   sync.Mutex
	jobs []workflow.Job
	err  error
}

func (r *recordingSubmitter) submit(job workflow.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func newTestScheduler(store *queue.Store, sub *recordingSubmitter) *workflow.Scheduler {
	return workflow.NewScheduler(store, nil, sub.submit, workflow.ChainPolicy{
		RunFrames:       true,
		TranscriptModel: "groq",
		NotesModel:      "openrouter/test-model",
	}, nil)
}

var errRateLimited = errors.New("rate limited")
