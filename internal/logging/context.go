package logging

import (
	"context"
	"log/slog"

	"lectern/internal/services"
)

const (
	// FieldComponent names the subsystem emitting the record.
	FieldComponent = "component"
	// FieldLectureID identifies the lecture a record concerns.
	FieldLectureID = "lecture_id"
	// FieldCourseID identifies the owning course.
	FieldCourseID = "course_id"
	// FieldStage names the pipeline stage.
	FieldStage = "stage"
	// FieldWorker names the pool worker executing a job.
	FieldWorker = "worker"
	// FieldCorrelationID carries the API request identifier.
	FieldCorrelationID = "correlation_id"
	// FieldEventType is a stable machine readable tag for the log line.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step to an operator.
	FieldErrorHint = "error_hint"
	// FieldImpact describes the user facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 5)
	if id, ok := services.LectureIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldLectureID, id))
	}
	if id, ok := services.CourseIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldCourseID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if worker, ok := services.WorkerFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldWorker, worker))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
