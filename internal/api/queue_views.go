package api

import (
	"sort"
	"time"
)

// SortLecturesByCourse orders lectures by course, then position, then id.
func SortLecturesByCourse(lectures []Lecture) []Lecture {
	if len(lectures) == 0 {
		return nil
	}
	sorted := make([]Lecture, len(lectures))
	copy(sorted, lectures)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.CourseID != b.CourseID {
			return a.CourseID < b.CourseID
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.ID < b.ID
	})
	return sorted
}

// ActiveStage returns the first queued or active stage of a lecture.
func ActiveStage(lecture Lecture) (StageView, bool) {
	for _, view := range lecture.Stages {
		if view.Status == "queued" || view.Status == "active" {
			return view, true
		}
	}
	return StageView{}, false
}

// ParseTime parses an API timestamp; the zero time is returned on failure.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}
