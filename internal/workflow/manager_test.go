package workflow_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"lectern/internal/events"
	"lectern/internal/queue"
	"lectern/internal/stage"
	"lectern/internal/testsupport"
	"lectern/internal/workflow"
)

func TestGlobalRunChainsAndHaltsOnFailure(t *testing.T) {
	h := newHarness(t)
	h.acquirer.progress = []workflow.ProgressUpdate{
		{Phase: stage.PhaseTransfer, Done: 2, Total: 10},
		{Phase: stage.PhaseTransfer, Done: 10, Total: 10},
	}
	h.start(t)
	ctx := context.Background()

	_, lectures := testsupport.SeedCourse(t, h.store, "linear-algebra", 1)
	x := lectures[0]
	h.transcriber.failNext(x.ID, errRateLimited)

	sub, err := h.manager.Subscribe(ctx, events.WithKinds(events.KindStage, events.KindProgress))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	result, err := h.manager.Run(ctx, workflow.PipelineRequest{Scope: workflow.ScopeGlobal})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Enqueued != 1 {
		t.Fatalf("expected 1 enqueued job, got %+v", result)
	}

	got := collect(t, sub, func(evt events.Event) bool {
		return evt.Kind == events.KindStage && evt.Stage == stage.Transcription && evt.Status == stage.StatusError
	})

	var acquisition []stage.Status
	var progress []events.Progress
	for _, evt := range got {
		if evt.Stage != stage.Acquisition {
			continue
		}
		switch evt.Kind {
		case events.KindStage:
			if len(acquisition) == 0 {
				acquisition = append(acquisition, evt.Previous)
			}
			acquisition = append(acquisition, evt.Status)
		case events.KindProgress:
			progress = append(progress, *evt.Progress)
		}
	}
	want := []stage.Status{stage.StatusPending, stage.StatusQueued, stage.StatusActive, stage.StatusDone}
	if len(acquisition) != len(want) {
		t.Fatalf("acquisition statuses = %v, want %v", acquisition, want)
	}
	for i := range want {
		if acquisition[i] != want[i] {
			t.Fatalf("acquisition statuses = %v, want %v", acquisition, want)
		}
	}
	if len(progress) != 2 || progress[0].Done != 2 || progress[1].Done != 10 || progress[1].Total != 10 {
		t.Fatalf("unexpected progress events %+v", progress)
	}

	state := waitForStage(t, h.store, x.ID, stage.Transcription, stage.StatusError)
	if !strings.Contains(state.ErrorMessage, "rate limited") {
		t.Fatalf("expected rate limited error, got %q", state.ErrorMessage)
	}
	waitIdle(t, h.manager)
	notes, err := h.store.GetStageState(ctx, x.ID, stage.Notes)
	if err != nil {
		t.Fatalf("GetStageState: %v", err)
	}
	if notes.Status != stage.StatusPending {
		t.Fatalf("notes = %s after transcription failure, want pending", notes.Status)
	}

	// A plain global run does not touch the errored stage.
	result, err = h.manager.Run(ctx, workflow.PipelineRequest{Scope: workflow.ScopeGlobal})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Enqueued != 0 {
		t.Fatalf("expected errored stage to block a plain run, got %+v", result)
	}

	result, err = h.manager.Run(ctx, workflow.PipelineRequest{
		Scope:     workflow.ScopeLecture,
		LectureID: x.ID,
		FromStage: stage.Transcription,
		Force:     true,
	})
	if err != nil {
		t.Fatalf("forced Run: %v", err)
	}
	if result.Enqueued != 1 {
		t.Fatalf("expected forced rerun to enqueue, got %+v", result)
	}
	transcript := waitForStage(t, h.store, x.ID, stage.Transcription, stage.StatusDone)
	if transcript.ErrorMessage != "" {
		t.Fatalf("expected error cleared after success, got %q", transcript.ErrorMessage)
	}
	waitForStage(t, h.store, x.ID, stage.Notes, stage.StatusDone)
	waitForStage(t, h.store, x.ID, stage.Frames, stage.StatusDone)
	if calls := h.acquirer.callCount(x.ID); calls != 1 {
		t.Fatalf("forced transcription rerun must not repeat acquisition, got %d calls", calls)
	}
}

func TestNoMediaLectureIsSkippedAndExcluded(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	_, lectures := testsupport.SeedCourse(t, h.store, "physics", 2)
	y, other := lectures[0], lectures[1]
	h.acquirer.noMedia[y.ID] = true

	if _, err := h.manager.Run(ctx, workflow.PipelineRequest{Scope: workflow.ScopeGlobal}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	waitForStage(t, h.store, y.ID, stage.Acquisition, stage.StatusNoMedia)
	waitForStage(t, h.store, other.ID, stage.Frames, stage.StatusDone)
	waitIdle(t, h.manager)

	for _, name := range []stage.Name{stage.Transcription, stage.Notes, stage.Frames} {
		state, err := h.store.GetStageState(ctx, y.ID, name)
		if err != nil {
			t.Fatalf("GetStageState: %v", err)
		}
		if state.Status != stage.StatusPending {
			t.Fatalf("%s for no_media lecture = %s, want pending", name, state.Status)
		}
	}

	for i := 0; i < 2; i++ {
		result, err := h.manager.Run(ctx, workflow.PipelineRequest{Scope: workflow.ScopeGlobal})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if result.Enqueued != 0 {
			t.Fatalf("run %d enqueued %d jobs, want 0", i, result.Enqueued)
		}
	}

	waitFor(t, "summary to converge", func() bool {
		report, err := h.manager.Summary(ctx, false)
		if err != nil {
			t.Fatalf("Summary: %v", err)
		}
		return report.Global.Done[stage.Frames] == 1
	})
	report, err := h.manager.Summary(ctx, false)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if report.Global.Total != 2 || report.Global.NoMedia != 1 || report.Global.Eligible != 1 {
		t.Fatalf("unexpected global summary %+v", report.Global)
	}
	for _, name := range stage.All() {
		if got := report.Global.Ratio(name); got != 1 {
			t.Fatalf("%s ratio = %v, want 1", name, got)
		}
	}
	full, err := h.manager.Summary(ctx, true)
	if err != nil {
		t.Fatalf("Summary recompute: %v", err)
	}
	if full.Global.Eligible != report.Global.Eligible || full.Global.NoMedia != report.Global.NoMedia {
		t.Fatalf("tracked %+v disagrees with recompute %+v", report.Global, full.Global)
	}
}

func TestConcurrentRunsExecuteOnce(t *testing.T) {
	h := newHarness(t, testsupport.WithWorkers(4))
	h.acquirer.gate = make(chan struct{})
	h.start(t)
	ctx := context.Background()

	_, lectures := testsupport.SeedCourse(t, h.store, "chemistry", 1)
	id := lectures[0].ID

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := h.manager.Run(ctx, workflow.PipelineRequest{Scope: workflow.ScopeLecture, LectureID: id})
			if err != nil {
				t.Errorf("Run: %v", err)
				return
			}
			mu.Lock()
			total += result.Enqueued
			mu.Unlock()
		}()
	}
	wg.Wait()
	if total != 1 {
		t.Fatalf("expected exactly one enqueue across concurrent runs, got %d", total)
	}

	close(h.acquirer.gate)
	waitForStage(t, h.store, id, stage.Frames, stage.StatusDone)
	waitIdle(t, h.manager)
	if calls := h.acquirer.callCount(id); calls != 1 {
		t.Fatalf("acquirer ran %d times, want 1", calls)
	}
}

func TestForcedRerunSupersedesActiveJob(t *testing.T) {
	h := newHarness(t, testsupport.WithWorkers(2))
	h.acquirer.gate = make(chan struct{})
	h.start(t)
	ctx := context.Background()

	_, lectures := testsupport.SeedCourse(t, h.store, "history", 1)
	id := lectures[0].ID

	if _, err := h.manager.Run(ctx, workflow.PipelineRequest{Scope: workflow.ScopeLecture, LectureID: id}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	waitForStage(t, h.store, id, stage.Acquisition, stage.StatusActive)

	result, err := h.manager.Run(ctx, workflow.PipelineRequest{
		Scope:     workflow.ScopeLecture,
		LectureID: id,
		FromStage: stage.Acquisition,
		Force:     true,
	})
	if err != nil {
		t.Fatalf("forced Run: %v", err)
	}
	if result.Enqueued != 1 {
		t.Fatalf("expected forced rerun of active stage to enqueue, got %+v", result)
	}
	waitFor(t, "second acquisition to start", func() bool { return h.acquirer.callCount(id) == 2 })

	close(h.acquirer.gate)
	waitForStage(t, h.store, id, stage.Frames, stage.StatusDone)
	waitIdle(t, h.manager)

	h.transcriber.mu.Lock()
	calls := h.transcriber.calls[id]
	h.transcriber.mu.Unlock()
	if calls != 1 {
		t.Fatalf("superseded job must not chain; transcription ran %d times", calls)
	}
}

func TestSupersededNotesDoNotOverwriteNewer(t *testing.T) {
	h := newHarness(t, testsupport.WithWorkers(2), testsupport.WithRunFrames(false))
	h.notes.holdFirst = make(chan struct{})
	h.start(t)
	ctx := context.Background()

	_, lectures := testsupport.SeedCourse(t, h.store, "philosophy", 1)
	id := lectures[0].ID

	if _, err := h.manager.Run(ctx, workflow.PipelineRequest{Scope: workflow.ScopeLecture, LectureID: id, NotesModel: "openrouter/first"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	waitFor(t, "first notes call", func() bool { return h.notes.callCount() == 1 })

	result, err := h.manager.Run(ctx, workflow.PipelineRequest{
		Scope:      workflow.ScopeLecture,
		LectureID:  id,
		FromStage:  stage.Notes,
		Force:      true,
		NotesModel: "openrouter/second",
	})
	if err != nil {
		t.Fatalf("forced Run: %v", err)
	}
	if result.Enqueued != 1 {
		t.Fatalf("expected forced notes rerun to enqueue, got %+v", result)
	}
	waitForStage(t, h.store, id, stage.Notes, stage.StatusDone)

	close(h.notes.holdFirst)
	waitIdle(t, h.manager)

	notes, err := h.store.Notes(ctx, id)
	if err != nil {
		t.Fatalf("Notes: %v", err)
	}
	if notes.Model != "openrouter/second" {
		t.Fatalf("stored notes from %q, want the forced attempt", notes.Model)
	}
	state, err := h.store.GetStageState(ctx, id, stage.Notes)
	if err != nil {
		t.Fatalf("GetStageState: %v", err)
	}
	if state.Status != stage.StatusDone || state.Model != "openrouter/second" {
		t.Fatalf("unexpected notes stage %+v", state)
	}
}

func TestReacquisitionResetsDerivedStages(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	_, lectures := testsupport.SeedCourse(t, h.store, "astronomy", 1)
	id := lectures[0].ID

	if _, err := h.manager.Run(ctx, workflow.PipelineRequest{Scope: workflow.ScopeLecture, LectureID: id}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	waitForStage(t, h.store, id, stage.Frames, stage.StatusDone)
	waitIdle(t, h.manager)

	sub, err := h.manager.Subscribe(ctx, events.WithKinds(events.KindStage))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()
	// Bulk requests do not chain, so the reset stages stay pending.
	if _, err := h.manager.Run(ctx, workflow.PipelineRequest{
		Scope:      workflow.ScopeBulk,
		LectureIDs: []int64{id},
		Stage:      stage.Acquisition,
		Force:      true,
	}); err != nil {
		t.Fatalf("forced Run: %v", err)
	}
	got := collect(t, sub, func(evt events.Event) bool {
		return evt.Stage == stage.Frames && evt.Status == stage.StatusPending
	})
	waitIdle(t, h.manager)

	reset := map[stage.Name]bool{}
	for _, evt := range got {
		if evt.Status == stage.StatusPending && evt.Previous == stage.StatusDone {
			reset[evt.Stage] = true
		}
	}
	for _, name := range []stage.Name{stage.Transcription, stage.Notes, stage.Frames} {
		if !reset[name] {
			t.Fatalf("expected a reset event for %s, got %+v", name, got)
		}
		state, err := h.store.GetStageState(ctx, id, name)
		if err != nil {
			t.Fatalf("GetStageState: %v", err)
		}
		if state.Status != stage.StatusPending {
			t.Fatalf("%s = %s, want pending after re-acquisition", name, state.Status)
		}
	}
	if _, err := h.store.Transcript(ctx, id); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected transcript to be dropped, got %v", err)
	}
}

func TestRunFramesDisabledStopsAfterNotes(t *testing.T) {
	h := newHarness(t, testsupport.WithRunFrames(false))
	h.start(t)
	ctx := context.Background()

	_, lectures := testsupport.SeedCourse(t, h.store, "biology", 1)
	id := lectures[0].ID

	if _, err := h.manager.Run(ctx, workflow.PipelineRequest{Scope: workflow.ScopeLecture, LectureID: id}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	waitForStage(t, h.store, id, stage.Notes, stage.StatusDone)
	waitIdle(t, h.manager)

	frames, err := h.store.GetStageState(ctx, id, stage.Frames)
	if err != nil {
		t.Fatalf("GetStageState: %v", err)
	}
	if frames.Status != stage.StatusPending {
		t.Fatalf("frames = %s, want pending", frames.Status)
	}

	// A request can opt back in.
	enabled := true
	result, err := h.manager.Run(ctx, workflow.PipelineRequest{Scope: workflow.ScopeLecture, LectureID: id, RunFrames: &enabled})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Enqueued != 1 {
		t.Fatalf("expected frames to be enqueued, got %+v", result)
	}
	waitForStage(t, h.store, id, stage.Frames, stage.StatusDone)
}

func TestFullChainStoresArtifacts(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	_, lectures := testsupport.SeedCourse(t, h.store, "economics", 1)
	id := lectures[0].ID

	if _, err := h.manager.Run(ctx, workflow.PipelineRequest{
		Scope:           workflow.ScopeLecture,
		LectureID:       id,
		TranscriptModel: "Local",
		NotesModel:      "openrouter/custom",
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	waitForStage(t, h.store, id, stage.Frames, stage.StatusDone)
	waitIdle(t, h.manager)

	lecture, err := h.store.GetLecture(ctx, id)
	if err != nil {
		t.Fatalf("GetLecture: %v", err)
	}
	if lecture.MediaPath == "" || lecture.DurationSeconds != 1800 {
		t.Fatalf("media not recorded: %+v", lecture)
	}
	transcript, err := h.store.Transcript(ctx, id)
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if transcript.Model != "local" {
		t.Fatalf("expected normalized transcript model, got %q", transcript.Model)
	}
	notes, err := h.store.Notes(ctx, id)
	if err != nil {
		t.Fatalf("Notes: %v", err)
	}
	if notes.Model != "openrouter/custom" || len(notes.KeyMoments) != 2 {
		t.Fatalf("unexpected notes %+v", notes)
	}
	frames, err := h.store.Frames(ctx, id)
	if err != nil {
		t.Fatalf("Frames: %v", err)
	}
	if len(frames.Images) != 2 || frames.Images[0].Timestamp != 30 || frames.Images[1].Timestamp != 90 {
		t.Fatalf("unexpected frames %+v", frames.Images)
	}
	if lecture.Stage(stage.Transcription).Model != "local" {
		t.Fatalf("stage model not recorded: %+v", lecture.Stage(stage.Transcription))
	}
}

func TestCollaboratorPanicRecordsError(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	_, lectures := testsupport.SeedCourse(t, h.store, "art", 2)
	bad, good := lectures[0], lectures[1]
	h.acquirer.panicOn[bad.ID] = true

	if _, err := h.manager.Run(ctx, workflow.PipelineRequest{Scope: workflow.ScopeGlobal}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	state := waitForStage(t, h.store, bad.ID, stage.Acquisition, stage.StatusError)
	if !strings.Contains(state.ErrorMessage, "panicked") {
		t.Fatalf("expected panic in error text, got %q", state.ErrorMessage)
	}
	waitForStage(t, h.store, good.ID, stage.Frames, stage.StatusDone)

	status := h.manager.Status(ctx)
	if !status.Running {
		t.Fatal("manager should keep running after a collaborator panic")
	}
	if status.LastError == "" {
		t.Fatal("expected last error to be recorded")
	}
}

func TestRetryRequiresErroredStage(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	_, lectures := testsupport.SeedCourse(t, h.store, "music", 1)
	id := lectures[0].ID
	h.transcriber.failNext(id, errRateLimited)

	if _, err := h.manager.Retry(ctx, id, stage.Acquisition); err == nil {
		t.Fatal("expected retry of pending stage to fail")
	}

	if _, err := h.manager.Run(ctx, workflow.PipelineRequest{Scope: workflow.ScopeLecture, LectureID: id}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	waitForStage(t, h.store, id, stage.Transcription, stage.StatusError)
	waitIdle(t, h.manager)

	result, err := h.manager.Retry(ctx, id, stage.Transcription)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if result.Enqueued != 1 {
		t.Fatalf("expected retry to enqueue, got %+v", result)
	}
	waitForStage(t, h.store, id, stage.Frames, stage.StatusDone)
}

func TestManagerMetaEventsUpdateSummary(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	course, err := h.manager.CreateCourse(ctx, "Topology", "https://lectures.example/topology")
	if err != nil {
		t.Fatalf("CreateCourse: %v", err)
	}
	lecture, err := h.manager.AddLecture(ctx, queue.NewLecture{CourseID: course.ID, Title: "Open sets", Position: 1})
	if err != nil {
		t.Fatalf("AddLecture: %v", err)
	}
	waitFor(t, "lecture to be counted", func() bool {
		report, _ := h.manager.Summary(ctx, false)
		return report.Course(course.ID).Total == 1
	})

	if err := h.manager.DeleteLecture(ctx, lecture.ID); err != nil {
		t.Fatalf("DeleteLecture: %v", err)
	}
	waitFor(t, "lecture to be removed", func() bool {
		report, _ := h.manager.Summary(ctx, false)
		return report.Global.Total == 0
	})
}
