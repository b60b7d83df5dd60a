// Package logs reads daemon log files with bounded memory.
//
// Tail returns either the last N lines or everything after a byte offset,
// optionally waiting for new lines to arrive. The daemon serves it over
// GET /api/logs and "lectern logs --follow" polls that endpoint with the
// returned offset.
package logs
