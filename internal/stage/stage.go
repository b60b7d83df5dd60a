package stage

import (
	"fmt"
	"strings"
)

// Name identifies one of the ordered pipeline stages.
type Name string

const (
	Acquisition   Name = "acquisition"
	Transcription Name = "transcription"
	Notes         Name = "notes"
	Frames        Name = "frames"
)

var order = []Name{Acquisition, Transcription, Notes, Frames}

var positions = func() map[Name]int {
	m := make(map[Name]int, len(order))
	for i, name := range order {
		m[name] = i
	}
	return m
}()

// All returns the stages in pipeline order.
func All() []Name {
	out := make([]Name, len(order))
	copy(out, order)
	return out
}

// Valid reports whether name is a known stage.
func (n Name) Valid() bool {
	_, ok := positions[n]
	return ok
}

func (n Name) String() string { return string(n) }

// ParseName converts user input into a stage name.
func ParseName(value string) (Name, error) {
	name := Name(strings.ToLower(strings.TrimSpace(value)))
	switch name {
	case "download", "media":
		name = Acquisition
	case "transcript", "transcribe":
		name = Transcription
	case "note":
		name = Notes
	case "frame":
		name = Frames
	}
	if !name.Valid() {
		return "", fmt.Errorf("unknown stage %q", value)
	}
	return name, nil
}

// Position returns the zero-based index of name in the pipeline order, or -1.
func Position(name Name) int {
	if pos, ok := positions[name]; ok {
		return pos
	}
	return -1
}

// Dependency returns the stage whose completion name depends on. Acquisition
// has no dependency.
func Dependency(name Name) (Name, bool) {
	pos := Position(name)
	if pos <= 0 {
		return "", false
	}
	return order[pos-1], true
}

// Next returns the stage after name in pipeline order.
func Next(name Name) (Name, bool) {
	pos := Position(name)
	if pos < 0 || pos+1 >= len(order) {
		return "", false
	}
	return order[pos+1], true
}

// Snapshot is a point-in-time view of every stage status for one lecture.
type Snapshot map[Name]Status

// Of returns the status recorded for name, defaulting to pending.
func (s Snapshot) Of(name Name) Status {
	if s == nil {
		return StatusPending
	}
	if status, ok := s[name]; ok && status != "" {
		return status
	}
	return StatusPending
}

// NoMedia reports whether acquisition concluded there is nothing to process.
func (s Snapshot) NoMedia() bool {
	return s.Of(Acquisition) == StatusNoMedia
}

// IsSatisfied reports whether name needs no further work for this lecture.
// Downstream stages are vacuously satisfied once acquisition is no_media.
func IsSatisfied(s Snapshot, name Name) bool {
	status := s.Of(name)
	if status == StatusDone {
		return true
	}
	if name == Acquisition {
		return status == StatusNoMedia
	}
	return s.NoMedia()
}

// DependencyMet reports whether the stage name depends on is satisfied.
func DependencyMet(s Snapshot, name Name) bool {
	dep, ok := Dependency(name)
	if !ok {
		return true
	}
	return IsSatisfied(s, dep)
}

// FirstUnsatisfied walks the pipeline order and returns the first stage that
// still needs work. ok is false when the lecture is fully processed.
func FirstUnsatisfied(s Snapshot) (Name, bool) {
	for _, name := range order {
		if !IsSatisfied(s, name) {
			return name, true
		}
	}
	return "", false
}
