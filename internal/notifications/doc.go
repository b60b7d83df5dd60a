// Package notifications delivers pipeline milestones to ntfy.
//
// A Watcher consumes the workflow event stream and publishes a message when a
// lecture's notes are ready or when any stage fails. Service degrades to a
// no-op when no topic is configured, so callers never need to check.
package notifications
