// Package api defines wire-format types and converters for the HTTP API. It
// translates store models, summaries and workflow diagnostics into
// transport-friendly DTOs that the CLI and other consumers can render without
// coupling to internal types.
//
// # Key Types
//
// Lecture: point-in-time snapshot of a lecture with one StageView per stage
// in pipeline order.
//
// Course: course metadata with its Summary and, for detail requests, its
// lectures.
//
// DaemonStatus: daemon running state, pool and hub counters, stage health and
// external dependencies.
//
// StorageStats: bytes used by media, frames and the database plus disk free.
//
// # Converters
//
// FromLecture, FromCourse, FromSummary, FromReport and FromStatusSummary map
// internal values to DTOs. StageHealthSlice orders the stage health map by
// pipeline position.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Stage names and statuses are exposed as the
// same lowercase strings used in event payloads. Timestamps use RFC3339 with
// milliseconds.
package api
