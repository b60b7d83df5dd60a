package queue_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"lectern/internal/queue"
	"lectern/internal/services"
	"lectern/internal/stage"
	"lectern/internal/testsupport"
)

func TestAddLectureCreatesPendingStages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	_, lectures := testsupport.SeedCourse(t, store, "algebra", 1)

	lecture, err := store.GetLecture(context.Background(), lectures[0].ID)
	if err != nil {
		t.Fatalf("GetLecture: %v", err)
	}
	if len(lecture.Stages) != 4 {
		t.Fatalf("expected 4 stage rows, got %d", len(lecture.Stages))
	}
	for _, name := range stage.All() {
		if got := lecture.Stage(name).Status; got != stage.StatusPending {
			t.Fatalf("stage %s = %s, want pending", name, got)
		}
	}
	if lecture.Position != 1 || lecture.Title != "algebra lecture 1" {
		t.Fatalf("unexpected lecture: %+v", lecture)
	}
}

func TestAddLectureUnknownCourse(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	_, err := store.AddLecture(context.Background(), queue.NewLecture{CourseID: 99, Title: "orphan"})
	if !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected services.ErrNotFound to match, got %v", err)
	}
}

func TestCompareAndSetStatusSemantics(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	_, lectures := testsupport.SeedCourse(t, store, "physics", 1)
	id := lectures[0].ID
	ctx := context.Background()

	ok, err := store.CompareAndSetStatus(ctx, id, stage.Transcription, stage.StatusPending, stage.StatusQueued, stage.CauseEnqueue, queue.WithModel("groq"))
	if err != nil || !ok {
		t.Fatalf("enqueue: ok=%v err=%v", ok, err)
	}

	ok, err = store.CompareAndSetStatus(ctx, id, stage.Transcription, stage.StatusPending, stage.StatusQueued, stage.CauseEnqueue)
	if err != nil {
		t.Fatalf("stale CAS returned error: %v", err)
	}
	if ok {
		t.Fatal("expected stale CAS to report false")
	}

	state, err := store.GetStageState(ctx, id, stage.Transcription)
	if err != nil {
		t.Fatalf("GetStageState: %v", err)
	}
	if state.Status != stage.StatusQueued || state.Model != "groq" {
		t.Fatalf("unexpected state: %+v", state)
	}

	_, err = store.CompareAndSetStatus(ctx, id, stage.Transcription, stage.StatusQueued, stage.StatusDone, stage.CauseComplete)
	if !errors.Is(err, stage.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}

	_, err = store.CompareAndSetStatus(ctx, 4242, stage.Transcription, stage.StatusPending, stage.StatusQueued, stage.CauseEnqueue)
	if !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing lecture, got %v", err)
	}
}

func TestCompareAndSetStatusClearsErrorOnRequeue(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	_, lectures := testsupport.SeedCourse(t, store, "history", 1)
	id := lectures[0].ID
	ctx := context.Background()

	testsupport.DriveStage(t, store, id, stage.Acquisition, stage.StatusError)
	state, _ := store.GetStageState(ctx, id, stage.Acquisition)
	if state.ErrorMessage != "seeded failure" {
		t.Fatalf("expected error text, got %q", state.ErrorMessage)
	}

	ok, err := store.CompareAndSetStatus(ctx, id, stage.Acquisition, stage.StatusError, stage.StatusQueued, stage.CauseRetry)
	if err != nil || !ok {
		t.Fatalf("retry: ok=%v err=%v", ok, err)
	}
	state, _ = store.GetStageState(ctx, id, stage.Acquisition)
	if state.ErrorMessage != "" {
		t.Fatalf("expected error cleared on re-queue, got %q", state.ErrorMessage)
	}
}

func TestConcurrentClaimHasSingleWinner(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	_, lectures := testsupport.SeedCourse(t, store, "chemistry", 1)
	id := lectures[0].ID
	testsupport.DriveStage(t, store, id, stage.Notes, stage.StatusQueued)

	const contenders = 16
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := store.CompareAndSetStatus(context.Background(), id, stage.Notes, stage.StatusQueued, stage.StatusActive, stage.CauseClaim)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if ok {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := winners.Load(); got != 1 {
		t.Fatalf("expected exactly one winner, got %d", got)
	}
}

func TestSetResultRequiresActive(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	_, lectures := testsupport.SeedCourse(t, store, "biology", 1)
	id := lectures[0].ID
	ctx := context.Background()

	testsupport.DriveStage(t, store, id, stage.Acquisition, stage.StatusActive)
	if err := store.SetResult(ctx, id, stage.Acquisition, stage.StatusDone, "", "ffmpeg"); err != nil {
		t.Fatalf("SetResult: %v", err)
	}
	err := store.SetResult(ctx, id, stage.Acquisition, stage.StatusDone, "", "ffmpeg")
	if !errors.Is(err, queue.ErrStaleTransition) {
		t.Fatalf("expected ErrStaleTransition, got %v", err)
	}
	state, _ := store.GetStageState(ctx, id, stage.Acquisition)
	if state.Status != stage.StatusDone || state.Model != "ffmpeg" {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestNoMediaRejectedOutsideAcquisition(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	_, lectures := testsupport.SeedCourse(t, store, "music", 1)
	id := lectures[0].ID
	testsupport.DriveStage(t, store, id, stage.Transcription, stage.StatusActive)

	err := store.SetResult(context.Background(), id, stage.Transcription, stage.StatusNoMedia, "", "")
	if !errors.Is(err, stage.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestSetPhaseOnlyWhileActive(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	_, lectures := testsupport.SeedCourse(t, store, "art", 1)
	id := lectures[0].ID
	ctx := context.Background()

	ok, err := store.SetPhase(ctx, id, stage.Acquisition, stage.PhaseConvert)
	if err != nil || ok {
		t.Fatalf("expected no-op on pending stage, ok=%v err=%v", ok, err)
	}
	testsupport.DriveStage(t, store, id, stage.Acquisition, stage.StatusActive)
	ok, err = store.SetPhase(ctx, id, stage.Acquisition, stage.PhaseConvert)
	if err != nil || !ok {
		t.Fatalf("SetPhase: ok=%v err=%v", ok, err)
	}
	lecture, _ := store.GetLecture(ctx, id)
	if got := lecture.Stage(stage.Acquisition).Label(stage.Acquisition); got != "converting" {
		t.Fatalf("label = %q, want converting", got)
	}
}

func TestRecoverInFlight(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	_, lectures := testsupport.SeedCourse(t, store, "geology", 3)
	ctx := context.Background()

	testsupport.DriveStage(t, store, lectures[0].ID, stage.Acquisition, stage.StatusQueued)
	testsupport.DriveStage(t, store, lectures[1].ID, stage.Acquisition, stage.StatusActive)
	testsupport.DriveStage(t, store, lectures[2].ID, stage.Acquisition, stage.StatusDone)

	active, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 in-flight lectures, got %d", len(active))
	}

	recovered, err := store.RecoverInFlight(ctx)
	if err != nil {
		t.Fatalf("RecoverInFlight: %v", err)
	}
	if recovered != 2 {
		t.Fatalf("expected 2 recovered rows, got %d", recovered)
	}
	for i, want := range []stage.Status{stage.StatusPending, stage.StatusPending, stage.StatusDone} {
		state, _ := store.GetStageState(ctx, lectures[i].ID, stage.Acquisition)
		if state.Status != want {
			t.Fatalf("lecture %d acquisition = %s, want %s", i, state.Status, want)
		}
	}
	if active, _ := store.ListActive(ctx); len(active) != 0 {
		t.Fatalf("expected no in-flight lectures after recovery, got %d", len(active))
	}
}

func TestListLecturesFilters(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	first, a := testsupport.SeedCourse(t, store, "first", 3)
	_, b := testsupport.SeedCourse(t, store, "second", 2)
	ctx := context.Background()

	testsupport.DriveStage(t, store, a[1].ID, stage.Acquisition, stage.StatusDone)
	testsupport.DriveStage(t, store, b[0].ID, stage.Acquisition, stage.StatusDone)

	all, err := store.ListLectures(ctx, queue.LectureFilter{})
	if err != nil || len(all) != 5 {
		t.Fatalf("list all: len=%d err=%v", len(all), err)
	}
	byCourse, _ := store.ListLectures(ctx, queue.LectureFilter{CourseID: first.ID})
	if len(byCourse) != 3 {
		t.Fatalf("expected 3 lectures in first course, got %d", len(byCourse))
	}
	for i, lecture := range byCourse {
		if lecture.Position != i+1 {
			t.Fatalf("expected position order, got %d at %d", lecture.Position, i)
		}
	}
	done, _ := store.ListLectures(ctx, queue.LectureFilter{Stage: stage.Acquisition, Status: stage.StatusDone})
	if len(done) != 2 {
		t.Fatalf("expected 2 lectures with acquisition done, got %d", len(done))
	}
	picked, _ := store.ListLectures(ctx, queue.LectureFilter{IDs: []int64{a[0].ID, b[1].ID}})
	if len(picked) != 2 {
		t.Fatalf("expected 2 picked lectures, got %d", len(picked))
	}
}

func TestArtifactsRoundTripAndCascade(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	_, lectures := testsupport.SeedCourse(t, store, "poetry", 1)
	id := lectures[0].ID
	ctx := context.Background()

	if _, err := store.Notes(ctx, id); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before save, got %v", err)
	}
	notes := queue.Notes{
		Markdown:   "# Week one",
		KeyMoments: []queue.KeyMoment{{Timestamp: 90, Title: "proof"}, {Timestamp: 30, Title: "intro"}, {Timestamp: 90, Title: "dup"}},
		Model:      "llama",
	}
	if err := store.SaveNotes(ctx, id, notes); err != nil {
		t.Fatalf("SaveNotes: %v", err)
	}
	notes.Markdown = "# Week one (revised)"
	if err := store.SaveNotes(ctx, id, notes); err != nil {
		t.Fatalf("SaveNotes overwrite: %v", err)
	}
	loaded, err := store.Notes(ctx, id)
	if err != nil {
		t.Fatalf("Notes: %v", err)
	}
	if loaded.Markdown != "# Week one (revised)" {
		t.Fatalf("expected overwrite, got %q", loaded.Markdown)
	}
	if got := loaded.Timestamps(); len(got) != 2 || got[0] != 30 || got[1] != 90 {
		t.Fatalf("unexpected timestamps %v", got)
	}

	if err := store.DeleteLecture(ctx, id); err != nil {
		t.Fatalf("DeleteLecture: %v", err)
	}
	if _, err := store.Notes(ctx, id); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected artifacts removed with lecture, got %v", err)
	}
	if _, err := store.GetStageState(ctx, id, stage.Acquisition); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected stage rows removed with lecture, got %v", err)
	}
	if err := store.DeleteLecture(ctx, id); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
	}
	if err := store.SaveTranscript(ctx, id, queue.Transcript{Text: "x"}); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound saving for deleted lecture, got %v", err)
	}
}

func TestRenameAndDeleteCourse(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	course, lectures := testsupport.SeedCourse(t, store, "botany", 2)
	other, _ := testsupport.SeedCourse(t, store, "zoology", 1)
	ctx := context.Background()

	renamed, err := store.RenameCourse(ctx, course.ID, "  Plant Biology ")
	if err != nil {
		t.Fatalf("RenameCourse: %v", err)
	}
	if renamed.Title != "Plant Biology" {
		t.Fatalf("unexpected title %q", renamed.Title)
	}
	if _, err := store.RenameCourse(ctx, course.ID, " "); err == nil {
		t.Fatal("expected empty title to be rejected")
	}
	if _, err := store.RenameCourse(ctx, 999, "x"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound renaming missing course, got %v", err)
	}

	if err := store.SaveNotes(ctx, lectures[0].ID, queue.Notes{Markdown: "x"}); err != nil {
		t.Fatalf("SaveNotes: %v", err)
	}
	if err := store.DeleteCourse(ctx, course.ID); err != nil {
		t.Fatalf("DeleteCourse: %v", err)
	}
	for _, lecture := range lectures {
		if _, err := store.GetLecture(ctx, lecture.ID); !errors.Is(err, queue.ErrNotFound) {
			t.Fatalf("expected lecture %d removed with its course, got %v", lecture.ID, err)
		}
	}
	if _, err := store.Notes(ctx, lectures[0].ID); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected artifacts removed with the course, got %v", err)
	}
	remaining, err := store.ListLectures(ctx, queue.LectureFilter{})
	if err != nil {
		t.Fatalf("ListLectures: %v", err)
	}
	if len(remaining) != 1 || remaining[0].CourseID != other.ID {
		t.Fatalf("other course lectures must survive, got %+v", remaining)
	}
	if err := store.DeleteCourse(ctx, course.ID); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestStageCountsAndDatabaseSize(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	_, lectures := testsupport.SeedCourse(t, store, "logic", 2)
	testsupport.DriveStage(t, store, lectures[0].ID, stage.Acquisition, stage.StatusNoMedia)

	counts, err := store.StageCounts(context.Background())
	if err != nil {
		t.Fatalf("StageCounts: %v", err)
	}
	if counts[stage.Acquisition][stage.StatusNoMedia] != 1 || counts[stage.Acquisition][stage.StatusPending] != 1 {
		t.Fatalf("unexpected acquisition counts: %v", counts[stage.Acquisition])
	}
	if counts[stage.Frames][stage.StatusPending] != 2 {
		t.Fatalf("unexpected frames counts: %v", counts[stage.Frames])
	}
	if store.DatabaseSize() <= 0 {
		t.Fatal("expected non-zero database size")
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", cfg.DatabasePath())
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	db.Close()

	if _, err := queue.OpenPath(cfg.DatabasePath()); !errors.Is(err, queue.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestAttemptGuardRejectsSupersededJob(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	_, lectures := testsupport.SeedCourse(t, store, "chemistry", 1)
	id := lectures[0].ID
	ctx := context.Background()

	if ok, err := store.CompareAndSetStatus(ctx, id, stage.Notes, stage.StatusPending, stage.StatusQueued, stage.CauseEnqueue, queue.WithAttempt(0)); err != nil || !ok {
		t.Fatalf("enqueue: ok=%v err=%v", ok, err)
	}
	if ok, err := store.CompareAndSetStatus(ctx, id, stage.Notes, stage.StatusQueued, stage.StatusActive, stage.CauseClaim, queue.WithAttempt(1)); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	// Forced re-run of the active stage supersedes attempt 1.
	if ok, err := store.CompareAndSetStatus(ctx, id, stage.Notes, stage.StatusActive, stage.StatusQueued, stage.CauseForce, queue.WithAttempt(1)); err != nil || !ok {
		t.Fatalf("force: ok=%v err=%v", ok, err)
	}
	if ok, err := store.CompareAndSetStatus(ctx, id, stage.Notes, stage.StatusQueued, stage.StatusActive, stage.CauseClaim, queue.WithAttempt(1)); err != nil || ok {
		t.Fatalf("stale claim: ok=%v err=%v", ok, err)
	}
	if ok, err := store.CompareAndSetStatus(ctx, id, stage.Notes, stage.StatusQueued, stage.StatusActive, stage.CauseClaim, queue.WithAttempt(2)); err != nil || !ok {
		t.Fatalf("fresh claim: ok=%v err=%v", ok, err)
	}

	err := store.SetResult(ctx, id, stage.Notes, stage.StatusDone, "", "m1", queue.WithAttempt(1), queue.WithNotes(queue.Notes{Markdown: "stale", Model: "m1"}))
	if !errors.Is(err, queue.ErrStaleTransition) {
		t.Fatalf("superseded SetResult = %v, want ErrStaleTransition", err)
	}
	if _, err := store.Notes(ctx, id); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("superseded notes were written: %v", err)
	}
	if ok, _ := store.SetPhase(ctx, id, stage.Notes, "late", queue.WithAttempt(1)); ok {
		t.Fatal("superseded SetPhase should not apply")
	}
	if err := store.SetResult(ctx, id, stage.Notes, stage.StatusDone, "", "m2", queue.WithAttempt(2), queue.WithNotes(queue.Notes{Markdown: "fresh", Model: "m2"})); err != nil {
		t.Fatalf("SetResult: %v", err)
	}
	notes, err := store.Notes(ctx, id)
	if err != nil || notes.Markdown != "fresh" {
		t.Fatalf("Notes = %+v, %v", notes, err)
	}
	state, err := store.GetStageState(ctx, id, stage.Notes)
	if err != nil {
		t.Fatalf("GetStageState: %v", err)
	}
	if state.Status != stage.StatusDone || state.Model != "m2" || state.Attempt != 2 {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestInvalidateResetsFinishedStages(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	_, lectures := testsupport.SeedCourse(t, store, "geology", 1)
	id := lectures[0].ID
	ctx := context.Background()

	finish := func(name stage.Name, status stage.Status, opts ...queue.TransitionOption) {
		t.Helper()
		if ok, err := store.CompareAndSetStatus(ctx, id, name, stage.StatusPending, stage.StatusQueued, stage.CauseEnqueue); err != nil || !ok {
			t.Fatalf("enqueue %s: ok=%v err=%v", name, ok, err)
		}
		if ok, err := store.CompareAndSetStatus(ctx, id, name, stage.StatusQueued, stage.StatusActive, stage.CauseClaim); err != nil || !ok {
			t.Fatalf("claim %s: ok=%v err=%v", name, ok, err)
		}
		if err := store.SetResult(ctx, id, name, status, "", "", opts...); err != nil {
			t.Fatalf("SetResult %s: %v", name, err)
		}
	}
	finish(stage.Acquisition, stage.StatusDone, queue.WithMedia("/media/old.opus", 60))
	finish(stage.Transcription, stage.StatusDone, queue.WithTranscript(queue.Transcript{Text: "old"}))
	finish(stage.Notes, stage.StatusError)
	if ok, err := store.CompareAndSetStatus(ctx, id, stage.Frames, stage.StatusPending, stage.StatusQueued, stage.CauseEnqueue); err != nil || !ok {
		t.Fatalf("enqueue frames: ok=%v err=%v", ok, err)
	}

	// Re-acquire and invalidate everything downstream.
	if ok, err := store.CompareAndSetStatus(ctx, id, stage.Acquisition, stage.StatusDone, stage.StatusQueued, stage.CauseForce); err != nil || !ok {
		t.Fatalf("force acquisition: ok=%v err=%v", ok, err)
	}
	if ok, err := store.CompareAndSetStatus(ctx, id, stage.Acquisition, stage.StatusQueued, stage.StatusActive, stage.CauseClaim); err != nil || !ok {
		t.Fatalf("claim acquisition: ok=%v err=%v", ok, err)
	}
	reset := map[stage.Name]stage.Status{}
	err := store.SetResult(ctx, id, stage.Acquisition, stage.StatusDone, "", "",
		queue.WithMedia("/media/new.opus", 90),
		queue.WithInvalidate(func(name stage.Name, from stage.Status) { reset[name] = from }, stage.Transcription, stage.Notes, stage.Frames),
	)
	if err != nil {
		t.Fatalf("SetResult: %v", err)
	}
	if len(reset) != 2 || reset[stage.Transcription] != stage.StatusDone || reset[stage.Notes] != stage.StatusError {
		t.Fatalf("unexpected reset set %v", reset)
	}

	lecture, err := store.GetLecture(ctx, id)
	if err != nil {
		t.Fatalf("GetLecture: %v", err)
	}
	if lecture.MediaPath != "/media/new.opus" || lecture.DurationSeconds != 90 {
		t.Fatalf("media not replaced: %+v", lecture)
	}
	want := map[stage.Name]stage.Status{
		stage.Transcription: stage.StatusPending,
		stage.Notes:         stage.StatusPending,
		stage.Frames:        stage.StatusQueued,
	}
	for name, status := range want {
		if got := lecture.Stage(name).Status; got != status {
			t.Fatalf("%s = %s, want %s", name, got, status)
		}
	}
	if _, err := store.Transcript(ctx, id); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected transcript to be dropped, got %v", err)
	}
}
