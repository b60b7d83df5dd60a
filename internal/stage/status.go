package stage

import (
	"fmt"
	"strings"
)

// Status is the lifecycle position of a single stage for a single lecture.
type Status string

const (
	StatusPending Status = "pending"
	StatusQueued  Status = "queued"
	StatusActive  Status = "active"
	StatusDone    Status = "done"
	StatusError   Status = "error"
	// StatusNoMedia is reachable only for acquisition.
	StatusNoMedia Status = "no_media"
)

// Acquisition sub-phases. Both are reported while the stage is active.
const (
	PhaseTransfer = "transfer"
	PhaseConvert  = "convert"
)

var allStatuses = []Status{
	StatusPending,
	StatusQueued,
	StatusActive,
	StatusDone,
	StatusError,
	StatusNoMedia,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// activeLabels maps human-facing labels back to the active classification.
var activeLabels = map[string]Status{
	"downloading":  StatusActive,
	"converting":   StatusActive,
	"transcribing": StatusActive,
	"generating":   StatusActive,
	"extracting":   StatusActive,
}

// Valid reports whether s is part of the closed vocabulary.
func (s Status) Valid() bool {
	_, ok := statusSet[s]
	return ok
}

// InFlight reports whether a job currently owns the stage.
func (s Status) InFlight() bool {
	return s == StatusQueued || s == StatusActive
}

func (s Status) String() string { return string(s) }

// ParseStatus accepts canonical statuses and the active labels shown in UIs.
func ParseStatus(value string) (Status, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if status := Status(normalized); status.Valid() {
		return status, nil
	}
	if status, ok := activeLabels[normalized]; ok {
		return status, nil
	}
	return "", fmt.Errorf("unknown stage status %q", value)
}

// Label returns the display label for status within name. Active stages get
// a stage-specific verb; acquisition distinguishes its two sub-phases.
func Label(name Name, status Status, phase string) string {
	if status != StatusActive {
		return string(status)
	}
	switch name {
	case Acquisition:
		if phase == PhaseConvert {
			return "converting"
		}
		return "downloading"
	case Transcription:
		return "transcribing"
	case Notes:
		return "generating"
	case Frames:
		return "extracting"
	default:
		return string(status)
	}
}
