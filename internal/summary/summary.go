// Package summary rolls lecture stage state up into per-course and global
// counts.
//
// Compute scans a full lecture listing. Tracker keeps the same counts current
// by folding stage events, adjusting totals by the difference between a
// lecture's previous and new contribution. Both paths share one contribution
// function so they agree for the same underlying state.
package summary

import (
	"lectern/internal/queue"
	"lectern/internal/stage"
)

// Summary holds the counts for one course or the whole collection.
type Summary struct {
	Total    int `json:"total"`
	NoMedia  int `json:"noMedia"`
	Eligible int `json:"eligible"`
	// Done counts lectures whose stage is done, keyed by stage.
	Done            map[stage.Name]int `json:"done"`
	Errors          int                `json:"errors"`
	InProgress      int                `json:"inProgress"`
	DurationSeconds float64            `json:"durationSeconds"`
}

// Report is a global summary plus one summary per course that has lectures.
type Report struct {
	Global  Summary           `json:"global"`
	Courses map[int64]Summary `json:"courses"`
}

// Empty returns a zeroed summary with every stage present in Done.
func Empty() Summary {
	done := make(map[stage.Name]int, len(stage.All()))
	for _, name := range stage.All() {
		done[name] = 0
	}
	return Summary{Done: done}
}

// Ratio returns the done fraction of eligible lectures for name. It is zero
// when nothing is eligible.
func (s Summary) Ratio(name stage.Name) float64 {
	if s.Eligible <= 0 {
		return 0
	}
	return float64(s.Done[name]) / float64(s.Eligible)
}

// Percent is Ratio scaled to 0..100.
func (s Summary) Percent(name stage.Name) float64 {
	return s.Ratio(name) * 100
}

// Course returns the summary for courseID, or an empty one.
func (r Report) Course(courseID int64) Summary {
	if s, ok := r.Courses[courseID]; ok {
		return s.clone()
	}
	return Empty()
}

func (s Summary) clone() Summary {
	out := s
	out.Done = make(map[stage.Name]int, len(s.Done))
	for name, count := range s.Done {
		out.Done[name] = count
	}
	return out
}

func (r Report) clone() Report {
	out := Report{Global: r.Global.clone(), Courses: make(map[int64]Summary, len(r.Courses))}
	for id, s := range r.Courses {
		out.Courses[id] = s.clone()
	}
	return out
}

// contribution is one lecture's share of a Summary.
type contribution struct {
	noMedia    bool
	done       []stage.Name
	errored    bool
	inProgress bool
	duration   float64
}

func contributionOf(snap stage.Snapshot, duration float64) contribution {
	c := contribution{noMedia: snap.NoMedia(), duration: duration}
	for _, name := range stage.All() {
		switch status := snap.Of(name); {
		case status == stage.StatusDone:
			c.done = append(c.done, name)
		case status == stage.StatusError:
			c.errored = true
		case status.InFlight():
			c.inProgress = true
		}
	}
	return c
}

// add folds c into s with sign +1 or -1.
func (s *Summary) add(c contribution, sign int) {
	s.Total += sign
	if c.noMedia {
		s.NoMedia += sign
	} else {
		s.Eligible += sign
	}
	for _, name := range c.done {
		s.Done[name] += sign
	}
	if c.errored {
		s.Errors += sign
	}
	if c.inProgress {
		s.InProgress += sign
	}
	s.DurationSeconds += float64(sign) * c.duration
}

func (r *Report) add(courseID int64, c contribution, sign int) {
	r.Global.add(c, sign)
	course, ok := r.Courses[courseID]
	if !ok {
		course = Empty()
	}
	course.add(c, sign)
	if course.Total == 0 {
		delete(r.Courses, courseID)
		return
	}
	r.Courses[courseID] = course
}

func newReport() Report {
	return Report{Global: Empty(), Courses: make(map[int64]Summary)}
}

// Compute builds a report from a full lecture listing.
func Compute(lectures []queue.Lecture) Report {
	report := newReport()
	for _, lecture := range lectures {
		report.add(lecture.CourseID, contributionOf(lecture.Snapshot(), lecture.DurationSeconds), 1)
	}
	return report
}
