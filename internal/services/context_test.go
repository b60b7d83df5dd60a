package services_test

import (
	"context"
	"testing"

	"lectern/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithLectureID(ctx, 42)
	ctx = services.WithCourseID(ctx, 7)
	ctx = services.WithStage(ctx, "transcription")
	ctx = services.WithWorker(ctx, "worker-2")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.LectureIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("unexpected lecture id: %v %v", id, ok)
	}
	if id, ok := services.CourseIDFromContext(ctx); !ok || id != 7 {
		t.Fatalf("unexpected course id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "transcription" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if worker, ok := services.WorkerFromContext(ctx); !ok || worker != "worker-2" {
		t.Fatalf("unexpected worker: %v %v", worker, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := services.LectureIDFromContext(ctx); ok {
		t.Fatal("expected no lecture id")
	}
}
