// Command lectern is the command-line client for the Lectern daemon.
//
// Every command except config and daemon talks to a running daemon over its
// HTTP API, covering registration, pipeline and bulk requests, artifacts, logs
// and the live event feed. start and stop manage a background daemon.
package main
