// Package queue persists courses, lectures and per-stage pipeline state in
// SQLite.
//
// Every lecture owns four stage rows created together with the lecture and
// removed only when the lecture is deleted. Stage status changes go through
// CompareAndSetStatus, a single conditional UPDATE that is the only
// synchronization on lecture state: a caller whose expected status no longer
// matches simply loses the race. Every edge is checked by
// stage.ValidateTransition before it reaches the database.
//
// Stage outputs (transcripts, notes, frame lists) are stored as JSON artifacts
// keyed by lecture and kind. The schema version lives in schema.go; a mismatch
// refuses to open rather than migrating.
package queue
