package workflow

import (
	"context"

	"github.com/google/uuid"

	"lectern/internal/services"
)

// withJobContext annotates ctx with the job's identity and a fresh request
// id so collaborator logs correlate with the stage run.
func withJobContext(ctx context.Context, job Job) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if job.LectureID != 0 {
		ctx = services.WithLectureID(ctx, job.LectureID)
	}
	if job.CourseID != 0 {
		ctx = services.WithCourseID(ctx, job.CourseID)
	}
	if job.Stage != "" {
		ctx = services.WithStage(ctx, string(job.Stage))
	}
	if _, ok := services.RequestIDFromContext(ctx); !ok {
		ctx = services.WithRequestID(ctx, uuid.NewString())
	}
	return ctx
}
