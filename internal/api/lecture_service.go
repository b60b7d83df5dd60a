package api

import (
	"context"
	"fmt"
	"math"

	"lectern/internal/queue"
	"lectern/internal/summary"
)

// LectureReader abstracts the store queries the API needs.
type LectureReader interface {
	GetCourse(ctx context.Context, id int64) (*queue.Course, error)
	ListCourses(ctx context.Context) ([]queue.Course, error)
	GetLecture(ctx context.Context, id int64) (*queue.Lecture, error)
	ListLectures(ctx context.Context, filter queue.LectureFilter) ([]queue.Lecture, error)
	ListActive(ctx context.Context) ([]queue.Lecture, error)
	Transcript(ctx context.Context, lectureID int64) (*queue.Transcript, error)
	Notes(ctx context.Context, lectureID int64) (*queue.Notes, error)
	Frames(ctx context.Context, lectureID int64) (*queue.Frames, error)
}

// SummarySource provides aggregated counts, incrementally maintained unless
// recompute is requested.
type SummarySource interface {
	Summary(ctx context.Context, recompute bool) (summary.Report, error)
}

// LectureService exposes read-only lecture queries returning API DTOs.
type LectureService struct {
	store     LectureReader
	summaries SummarySource
}

// NewLectureService constructs a LectureService.
func NewLectureService(store LectureReader, summaries SummarySource) *LectureService {
	if store == nil {
		return nil
	}
	return &LectureService{store: store, summaries: summaries}
}

// Courses lists every course with its summary.
func (s *LectureService) Courses(ctx context.Context) ([]Course, error) {
	courses, err := s.store.ListCourses(ctx)
	if err != nil {
		return nil, err
	}
	report, err := s.report(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make([]Course, 0, len(courses))
	for i := range courses {
		out = append(out, FromCourse(&courses[i], report.Course(courses[i].ID)))
	}
	return out, nil
}

// Course returns a course with its summary and lectures.
func (s *LectureService) Course(ctx context.Context, id int64) (*Course, error) {
	course, err := s.store.GetCourse(ctx, id)
	if err != nil {
		return nil, err
	}
	lectures, err := s.store.ListLectures(ctx, queue.LectureFilter{CourseID: id})
	if err != nil {
		return nil, err
	}
	report, err := s.report(ctx, false)
	if err != nil {
		return nil, err
	}
	dto := FromCourse(course, report.Course(id))
	dto.Lectures = SortLecturesByCourse(FromLectures(lectures))
	return &dto, nil
}

// Lecture returns a single lecture snapshot.
func (s *LectureService) Lecture(ctx context.Context, id int64) (*Lecture, error) {
	lecture, err := s.store.GetLecture(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := FromLecture(lecture)
	return &dto, nil
}

// Queue returns lectures with a queued or active stage.
func (s *LectureService) Queue(ctx context.Context) ([]Lecture, error) {
	lectures, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return SortLecturesByCourse(FromLectures(lectures)), nil
}

// Summary returns the global and per-course summaries.
func (s *LectureService) Summary(ctx context.Context, recompute bool) (SummaryReport, error) {
	report, err := s.report(ctx, recompute)
	if err != nil {
		return SummaryReport{}, err
	}
	return FromReport(report), nil
}

// Transcript returns the stored transcript for a lecture.
func (s *LectureService) Transcript(ctx context.Context, id int64) (*queue.Transcript, error) {
	if _, err := s.store.GetLecture(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Transcript(ctx, id)
}

// Notes returns the stored notes for a lecture.
func (s *LectureService) Notes(ctx context.Context, id int64) (*queue.Notes, error) {
	if _, err := s.store.GetLecture(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Notes(ctx, id)
}

// Frames returns the stored frames for a lecture.
func (s *LectureService) Frames(ctx context.Context, id int64) (*queue.Frames, error) {
	if _, err := s.store.GetLecture(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Frames(ctx, id)
}

// frameTolerance is how far a requested timestamp may sit from a frame.
const frameTolerance = 0.5

// AudioPath returns the acquired media file of a lecture.
func (s *LectureService) AudioPath(ctx context.Context, id int64) (string, error) {
	lecture, err := s.store.GetLecture(ctx, id)
	if err != nil {
		return "", err
	}
	if lecture.MediaPath == "" {
		return "", fmt.Errorf("%w: no media acquired for lecture %d", queue.ErrNotFound, id)
	}
	return lecture.MediaPath, nil
}

// FramePath returns the image extracted closest to timestamp.
func (s *LectureService) FramePath(ctx context.Context, id int64, timestamp float64) (string, error) {
	frames, err := s.Frames(ctx, id)
	if err != nil {
		return "", err
	}
	best, bestDelta := "", math.Inf(1)
	for _, frame := range frames.Images {
		if delta := math.Abs(frame.Timestamp - timestamp); delta <= frameTolerance && delta < bestDelta {
			best, bestDelta = frame.Path, delta
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: no frame at %.1fs for lecture %d", queue.ErrNotFound, timestamp, id)
	}
	return best, nil
}

func (s *LectureService) report(ctx context.Context, recompute bool) (summary.Report, error) {
	if s.summaries != nil {
		return s.summaries.Summary(ctx, recompute)
	}
	lectures, err := s.store.ListLectures(ctx, queue.LectureFilter{})
	if err != nil {
		return summary.Report{}, err
	}
	return summary.Compute(lectures), nil
}
