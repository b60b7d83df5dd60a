// Package logging assembles the structured slog loggers used across Lectern.
//
// It owns the console and JSON handlers, level and output plumbing, and the
// context helpers that tag log lines with lecture IDs, course IDs, stages and
// correlation IDs. The daemon tees a console stream to stdout and a JSON
// stream to its log file; the CLI only writes to the console.
package logging
