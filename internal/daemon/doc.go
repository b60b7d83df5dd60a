// Package daemon coordinates the long-running Lectern process.
//
// It wires configuration, the lecture store and the workflow manager into a
// single lifecycle with flock-based locking to prevent multiple instances, and
// serves the HTTP API and the websocket event stream on top of them.
//
// Keep orchestration logic here: stage execution lives in workflow and the
// collaborators in services, while the daemon focuses on startup, shutdown and
// the transport surface.
package daemon
