package stage

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition is returned for any edge outside the state machine.
var ErrIllegalTransition = errors.New("illegal stage transition")

// Cause names the actor requesting a transition. The same edge can be legal
// for one cause and illegal for another.
type Cause string

const (
	// CauseEnqueue is a scheduler enqueue of a pending stage.
	CauseEnqueue Cause = "enqueue"
	// CauseClaim is a worker picking up a queued job.
	CauseClaim Cause = "claim"
	// CauseComplete is a worker recording the collaborator outcome.
	CauseComplete Cause = "complete"
	// CauseRetry is an explicit re-run of an errored stage.
	CauseRetry Cause = "retry"
	// CauseForce is a forced re-run that may overwrite done or in-flight work.
	CauseForce Cause = "force"
	// CauseRecover is restart recovery returning orphaned work to pending.
	CauseRecover Cause = "recover"
	// CauseInvalidate resets finished downstream work after new media arrives.
	CauseInvalidate Cause = "invalidate"
)

type edge struct {
	from  Status
	to    Status
	cause Cause
}

var edges = map[edge]struct{}{
	{StatusPending, StatusQueued, CauseEnqueue}:   {},
	{StatusQueued, StatusActive, CauseClaim}:      {},
	{StatusActive, StatusDone, CauseComplete}:     {},
	{StatusActive, StatusError, CauseComplete}:    {},
	{StatusError, StatusQueued, CauseRetry}:       {},
	{StatusError, StatusQueued, CauseForce}:       {},
	{StatusPending, StatusQueued, CauseForce}:     {},
	{StatusDone, StatusQueued, CauseForce}:        {},
	{StatusQueued, StatusQueued, CauseForce}:      {},
	{StatusActive, StatusQueued, CauseForce}:      {},
	{StatusQueued, StatusPending, CauseRecover}:   {},
	{StatusActive, StatusPending, CauseRecover}:   {},
	{StatusDone, StatusPending, CauseInvalidate}:  {},
	{StatusError, StatusPending, CauseInvalidate}: {},
}

// Acquisition-only edges.
var noMediaEdges = map[edge]struct{}{
	{StatusPending, StatusNoMedia, CauseComplete}: {},
	{StatusQueued, StatusNoMedia, CauseComplete}:  {},
	{StatusActive, StatusNoMedia, CauseComplete}:  {},
	{StatusNoMedia, StatusQueued, CauseForce}:     {},
}

// ValidateTransition reports whether name may move from one status to another
// for the given cause. It is the only place the edge set is defined.
func ValidateTransition(name Name, from, to Status, cause Cause) error {
	if !name.Valid() {
		return fmt.Errorf("%w: unknown stage %q", ErrIllegalTransition, name)
	}
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("%w: %s: unknown status %q -> %q", ErrIllegalTransition, name, from, to)
	}
	e := edge{from: from, to: to, cause: cause}
	if from == StatusNoMedia || to == StatusNoMedia {
		if name != Acquisition {
			return fmt.Errorf("%w: %s: no_media is reserved for acquisition", ErrIllegalTransition, name)
		}
		if _, ok := noMediaEdges[e]; ok {
			return nil
		}
		return fmt.Errorf("%w: %s: %s -> %s (%s)", ErrIllegalTransition, name, from, to, cause)
	}
	if _, ok := edges[e]; ok {
		return nil
	}
	return fmt.Errorf("%w: %s: %s -> %s (%s)", ErrIllegalTransition, name, from, to, cause)
}

// EnqueueCause picks the cause a scheduler should use to queue a stage that
// currently sits in from. Errored stages are only re-queued by an explicit
// retry or a forced run. ok is false when the stage cannot be queued.
func EnqueueCause(from Status, force, retry bool) (Cause, bool) {
	switch {
	case force:
		return CauseForce, true
	case from == StatusPending:
		return CauseEnqueue, true
	case from == StatusError && retry:
		return CauseRetry, true
	default:
		return "", false
	}
}
