package summary

import (
	"sync"

	"lectern/internal/events"
	"lectern/internal/queue"
	"lectern/internal/stage"
)

type entry struct {
	courseID int64
	statuses stage.Snapshot
	duration float64
}

func (e *entry) contribution() contribution {
	return contributionOf(e.statuses, e.duration)
}

// Tracker maintains a Report incrementally from events.
type Tracker struct {
	mu       sync.Mutex
	lectures map[int64]*entry
	report   Report
	applied  uint64
}

// NewTracker returns a tracker seeded from lectures.
func NewTracker(lectures []queue.Lecture) *Tracker {
	t := &Tracker{}
	t.Reset(lectures)
	return t
}

// Reset discards incremental state and reseeds from lectures.
func (t *Tracker) Reset(lectures []queue.Lecture) {
	memory := make(map[int64]*entry, len(lectures))
	for _, lecture := range lectures {
		memory[lecture.ID] = &entry{
			courseID: lecture.CourseID,
			statuses: lecture.Snapshot(),
			duration: lecture.DurationSeconds,
		}
	}
	report := newReport()
	for _, e := range memory {
		report.add(e.courseID, e.contribution(), 1)
	}

	t.mu.Lock()
	t.lectures = memory
	t.report = report
	t.mu.Unlock()
}

// Apply folds one event. Progress events are ignored.
func (t *Tracker) Apply(evt events.Event) {
	switch evt.Kind {
	case events.KindStage:
		t.applyStage(evt)
	case events.KindMeta:
		t.applyMeta(evt)
	}
}

func (t *Tracker) applyStage(evt events.Event) {
	if evt.LectureID == 0 || !evt.Stage.Valid() || !evt.Status.Valid() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applied++

	e, ok := t.lectures[evt.LectureID]
	if !ok {
		e = &entry{courseID: evt.CourseID, statuses: pendingSnapshot()}
		t.lectures[evt.LectureID] = e
		t.report.add(e.courseID, e.contribution(), 1)
	}
	before := e.contribution()
	e.statuses[evt.Stage] = evt.Status
	if evt.Stage == stage.Acquisition && evt.Status == stage.StatusDone && evt.DurationSeconds > 0 {
		e.duration = evt.DurationSeconds
	}
	t.report.add(e.courseID, before, -1)
	t.report.add(e.courseID, e.contribution(), 1)
}

func (t *Tracker) applyMeta(evt events.Event) {
	if evt.LectureID == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch evt.Message {
	case events.MetaLectureAdded:
		if _, ok := t.lectures[evt.LectureID]; ok {
			return
		}
		e := &entry{courseID: evt.CourseID, statuses: pendingSnapshot()}
		t.lectures[evt.LectureID] = e
		t.report.add(e.courseID, e.contribution(), 1)
		t.applied++
	case events.MetaLectureDeleted:
		e, ok := t.lectures[evt.LectureID]
		if !ok {
			return
		}
		t.report.add(e.courseID, e.contribution(), -1)
		delete(t.lectures, evt.LectureID)
		t.applied++
	}
}

// Report returns a copy of the current report.
func (t *Tracker) Report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.report.clone()
}

// Applied returns how many events changed tracker state.
func (t *Tracker) Applied() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.applied
}

func pendingSnapshot() stage.Snapshot {
	snap := make(stage.Snapshot, len(stage.All()))
	for _, name := range stage.All() {
		snap[name] = stage.StatusPending
	}
	return snap
}
