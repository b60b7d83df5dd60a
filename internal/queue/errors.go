package queue

import (
	"errors"
	"fmt"

	"lectern/internal/services"
)

var (
	// ErrNotFound is returned when a course, lecture, stage row or artifact does not exist.
	ErrNotFound = fmt.Errorf("queue: %w", services.ErrNotFound)
	// ErrStaleTransition is returned by SetResult when the stage is no longer active,
	// typically because a forced re-run re-queued it while the job was still running.
	ErrStaleTransition = errors.New("queue: stage is no longer active")
)

func notFound(kind string, id int64) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, kind, id)
}
