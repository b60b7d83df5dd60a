package services

import "context"

type contextKey string

const (
	lectureIDKey contextKey = "lecture_id"
	courseIDKey  contextKey = "course_id"
	stageKey     contextKey = "stage"
	workerKey    contextKey = "worker"
	requestIDKey contextKey = "request_id"
)

// WithLectureID annotates context with the lecture identifier.
func WithLectureID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, lectureIDKey, id)
}

// LectureIDFromContext extracts the lecture identifier if present.
func LectureIDFromContext(ctx context.Context) (int64, bool) {
	return int64Value(ctx, lectureIDKey)
}

// WithCourseID annotates context with the owning course identifier.
func WithCourseID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, courseIDKey, id)
}

// CourseIDFromContext extracts the course identifier if present.
func CourseIDFromContext(ctx context.Context) (int64, bool) {
	return int64Value(ctx, courseIDKey)
}

func int64Value(ctx context.Context, key contextKey) (int64, bool) {
	v := ctx.Value(key)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(stageKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithWorker annotates context with the pool worker label.
func WithWorker(ctx context.Context, worker string) context.Context {
	if worker == "" {
		return ctx
	}
	return context.WithValue(ctx, workerKey, worker)
}

// WorkerFromContext returns the worker label if present.
func WorkerFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(workerKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
