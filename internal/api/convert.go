package api

import (
	"sort"
	"time"

	"lectern/internal/deps"
	"lectern/internal/queue"
	"lectern/internal/stage"
	"lectern/internal/summary"
	"lectern/internal/workflow"
)

// FromLecture converts a store lecture to its API representation.
func FromLecture(lecture *queue.Lecture) Lecture {
	if lecture == nil {
		return Lecture{}
	}

	dto := Lecture{
		ID:              lecture.ID,
		CourseID:        lecture.CourseID,
		Title:           lecture.Title,
		SourceURL:       lecture.SourceURL,
		Position:        lecture.Position,
		DurationSeconds: lecture.DurationSeconds,
		MediaPath:       lecture.MediaPath,
		NoMedia:         lecture.NoMedia(),
		HasError:        lecture.HasError(),
		CreatedAt:       FormatTime(lecture.CreatedAt),
		UpdatedAt:       FormatTime(lecture.UpdatedAt),
	}
	if lecture.RecordedAt != nil {
		dto.RecordedAt = FormatTime(*lecture.RecordedAt)
	}
	dto.Stages = make([]StageView, 0, len(stage.All()))
	for _, name := range stage.All() {
		state := lecture.Stage(name)
		dto.Stages = append(dto.Stages, StageView{
			Name:         string(name),
			Status:       string(state.Status),
			Label:        state.Label(name),
			Phase:        state.Phase,
			Model:        state.Model,
			ErrorMessage: state.ErrorMessage,
			Attempt:      state.Attempt,
			UpdatedAt:    FormatTime(state.UpdatedAt),
		})
	}
	return dto
}

// FromLectures converts a slice of store lectures into API DTOs.
func FromLectures(lectures []queue.Lecture) []Lecture {
	if len(lectures) == 0 {
		return nil
	}
	out := make([]Lecture, 0, len(lectures))
	for i := range lectures {
		out = append(out, FromLecture(&lectures[i]))
	}
	return out
}

// FromSummary converts an aggregator summary, listing stages in pipeline order.
func FromSummary(s summary.Summary) Summary {
	dto := Summary{
		Total:           s.Total,
		NoMedia:         s.NoMedia,
		Eligible:        s.Eligible,
		Errors:          s.Errors,
		InProgress:      s.InProgress,
		DurationSeconds: s.DurationSeconds,
		Stages:          make([]StageProgress, 0, len(stage.All())),
	}
	for _, name := range stage.All() {
		dto.Stages = append(dto.Stages, StageProgress{
			Name:    string(name),
			Done:    s.Done[name],
			Ratio:   s.Ratio(name),
			Percent: s.Percent(name),
		})
	}
	return dto
}

// FromReport converts a full report, ordering courses by id.
func FromReport(r summary.Report) SummaryReport {
	ids := make([]int64, 0, len(r.Courses))
	for id := range r.Courses {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := SummaryReport{Global: FromSummary(r.Global), Courses: make([]CourseSummary, 0, len(ids))}
	for _, id := range ids {
		out.Courses = append(out.Courses, CourseSummary{CourseID: id, Summary: FromSummary(r.Courses[id])})
	}
	return out
}

// FromCourse converts a course and its summary.
func FromCourse(course *queue.Course, s summary.Summary) Course {
	if course == nil {
		return Course{}
	}
	return Course{
		ID:        course.ID,
		Title:     course.Title,
		SourceURL: course.SourceURL,
		CreatedAt: FormatTime(course.CreatedAt),
		Summary:   FromSummary(s),
	}
}

// FromStatusSummary converts a workflow status summary to API payload.
func FromStatusSummary(s workflow.StatusSummary) WorkflowStatus {
	wf := WorkflowStatus{
		Running:   s.Running,
		StartedAt: FormatTime(s.StartedAt),
		Recovered: s.Recovered,
		LastError: s.LastError,
		Pool: PoolStats{
			Workers:   s.Pool.Workers,
			Busy:      s.Pool.Busy,
			Queued:    s.Pool.Queued,
			Completed: s.Pool.Completed,
			Failed:    s.Pool.Failed,
		},
		Events: HubStats{
			Subscribers:  s.Events.Subscribers,
			Published:    s.Events.Published,
			InboxDropped: s.Events.InboxDropped,
		},
		StageCounts: make(map[string]map[string]int, len(s.StageCounts)),
		StageHealth: StageHealthSlice(s.StageHealth),
	}
	for name, counts := range s.StageCounts {
		inner := make(map[string]int, len(counts))
		for status, count := range counts {
			inner[string(status)] = count
		}
		wf.StageCounts[string(name)] = inner
	}
	if o := s.LastOutcome; o != nil {
		last := &JobOutcome{
			LectureID: o.Job.LectureID,
			Stage:     string(o.Job.Stage),
			Status:    string(o.Status),
			Skipped:   o.Skipped,
		}
		if o.Err != nil {
			last.Error = o.Err.Error()
		}
		wf.LastOutcome = last
	}
	return wf
}

// StageHealthSlice converts a stage health map into a slice in pipeline order.
func StageHealthSlice(health map[stage.Name]stage.Health) []StageHealth {
	if len(health) == 0 {
		return nil
	}
	out := make([]StageHealth, 0, len(health))
	for _, name := range stage.All() {
		h, ok := health[name]
		if !ok {
			continue
		}
		out = append(out, StageHealth{Name: string(name), Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FromDependencies converts binary checks into API payloads.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, len(statuses))
	for i, dep := range statuses {
		out[i] = DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		}
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
