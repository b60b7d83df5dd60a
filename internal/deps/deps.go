package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"lectern/internal/config"
)

const defaultFFmpeg = "ffmpeg"

// Requirement names an external binary the daemon shells out to.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status is a Requirement after PATH resolution. Command holds the resolved
// path when Available.
type Status struct {
	Requirement
	Available bool
	Detail    string
}

// Requirements lists the binaries the daemon needs for cfg. The frames binary
// is listed separately only when it differs, and is optional when frames are
// disabled.
func Requirements(cfg *config.Config) []Requirement {
	acquisition := strings.TrimSpace(cfg.Acquisition.FFmpegBinary)
	reqs := []Requirement{{
		Name:        "FFmpeg",
		Command:     acquisition,
		Description: "Converts downloaded lectures to opus",
	}}
	if frames := strings.TrimSpace(cfg.Frames.FFmpegBinary); frames != "" && frames != acquisition {
		reqs = append(reqs, Requirement{
			Name:        "FFmpeg (frames)",
			Command:     frames,
			Description: "Extracts stills at note key moments",
			Optional:    !cfg.Workflow.RunFrames,
		})
	}
	return reqs
}

// Check resolves a single requirement.
func Check(req Requirement) Status {
	status := Status{Requirement: req}
	status.Command = strings.TrimSpace(req.Command)
	status.Description = strings.TrimSpace(req.Description)
	if status.Command == "" {
		status.Detail = "command not configured"
		return status
	}
	resolved, err := exec.LookPath(status.Command)
	if err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", status.Command)
		return status
	}
	status.Command = resolved
	status.Available = true
	return status
}

// CheckBinaries resolves every requirement in order.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		results = append(results, Check(req))
	}
	return results
}

// CheckFFmpeg resolves the configured ffmpeg binary, falling back to
// "ffmpeg" on PATH when binary is empty.
func CheckFFmpeg(binary, description string) Status {
	command := strings.TrimSpace(binary)
	if command == "" {
		command = defaultFFmpeg
	}
	return Check(Requirement{Name: "FFmpeg", Command: command, Description: description})
}
