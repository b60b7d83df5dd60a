package testsupport

import (
	"context"
	"fmt"
	"testing"

	"lectern/internal/config"
	"lectern/internal/queue"
	"lectern/internal/stage"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SeedCourse creates a course with n lectures, all stages pending.
func SeedCourse(t testing.TB, store *queue.Store, title string, n int) (*queue.Course, []queue.Lecture) {
	t.Helper()

	ctx := context.Background()
	course, err := store.CreateCourse(ctx, title, "https://lectures.example/"+title)
	if err != nil {
		t.Fatalf("store.CreateCourse: %v", err)
	}
	lectures := make([]queue.Lecture, 0, n)
	for i := 0; i < n; i++ {
		lecture, err := store.AddLecture(ctx, queue.NewLecture{
			CourseID:  course.ID,
			Title:     fmt.Sprintf("%s lecture %d", title, i+1),
			SourceURL: fmt.Sprintf("https://lectures.example/%s/%d.mp4", title, i+1),
			Position:  i + 1,
		})
		if err != nil {
			t.Fatalf("store.AddLecture: %v", err)
		}
		lectures = append(lectures, *lecture)
	}
	return course, lectures
}

// DriveStage walks a pending stage along legal edges until it reaches target.
// Supported targets are queued, active, done, error and no_media.
func DriveStage(t testing.TB, store *queue.Store, lectureID int64, name stage.Name, target stage.Status) {
	t.Helper()

	ctx := context.Background()
	step := func(from, to stage.Status, cause stage.Cause, opts ...queue.TransitionOption) {
		t.Helper()
		ok, err := store.CompareAndSetStatus(ctx, lectureID, name, from, to, cause, opts...)
		if err != nil {
			t.Fatalf("drive %s %s->%s: %v", name, from, to, err)
		}
		if !ok {
			t.Fatalf("drive %s %s->%s: stage was not in %s", name, from, to, from)
		}
	}

	step(stage.StatusPending, stage.StatusQueued, stage.CauseEnqueue)
	if target == stage.StatusQueued {
		return
	}
	step(stage.StatusQueued, stage.StatusActive, stage.CauseClaim)
	switch target {
	case stage.StatusActive:
	case stage.StatusDone:
		step(stage.StatusActive, stage.StatusDone, stage.CauseComplete, queue.WithModel("seed-model"))
	case stage.StatusError:
		step(stage.StatusActive, stage.StatusError, stage.CauseComplete, queue.WithError("seeded failure"))
	case stage.StatusNoMedia:
		step(stage.StatusActive, stage.StatusNoMedia, stage.CauseComplete)
	default:
		t.Fatalf("DriveStage: unsupported target %q", target)
	}
}
