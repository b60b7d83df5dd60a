// Package ffmpeg runs the ffmpeg binary and parses the progress it reports.
package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Executor abstracts command execution for testability. onLine receives every
// stdout and stderr line.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onLine func(string)) error
}

// CommandExecutor runs real processes.
type CommandExecutor struct{}

// Run starts binary and blocks until it exits. The last lines of output are
// attached to the error when the process fails.
func (CommandExecutor) Run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		scanErr error
		once    sync.Once
		recent  = newTail(8)
	)
	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			recent.add(line)
			if onLine != nil {
				onLine(line)
			}
			mu.Unlock()
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	if scanErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("scan output: %w", scanErr)
	}
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if detail := recent.String(); detail != "" {
			return fmt.Errorf("%s: %w: %s", binary, err, detail)
		}
		return fmt.Errorf("%s: %w", binary, err)
	}
	return nil
}

type tail struct {
	lines []string
	max   int
}

func newTail(size int) *tail { return &tail{max: size} }

func (t *tail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.Contains(line, "=") && !strings.Contains(line, " ") {
		// -progress key=value lines carry no diagnostic value.
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *tail) String() string {
	return strings.Join(t.lines, " | ")
}

var durationPattern = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// ParseDuration extracts the input duration from an ffmpeg banner line such
// as "Duration: 01:02:03.50, start: 0.000000".
func ParseDuration(line string) (float64, bool) {
	m := durationPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	return clock(m[1], m[2], m[3])
}

// ParseProgress reads the encoded position, in seconds, from a -progress
// line. ffmpeg reports out_time_us and, for historical reasons, out_time_ms
// also in microseconds.
func ParseProgress(line string) (float64, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return 0, false
	}
	switch key {
	case "out_time_us", "out_time_ms":
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return 0, false
		}
		return float64(us) / 1e6, true
	case "out_time":
		parts := strings.Split(value, ":")
		if len(parts) != 3 {
			return 0, false
		}
		return clock(parts[0], parts[1], parts[2])
	default:
		return 0, false
	}
}

// IsProgressEnd reports whether line terminates a -progress report.
func IsProgressEnd(line string) bool {
	return strings.TrimSpace(line) == "progress=end"
}

func clock(h, m, s string) (float64, bool) {
	hours, err1 := strconv.Atoi(h)
	minutes, err2 := strconv.Atoi(m)
	seconds, err3 := strconv.ParseFloat(s, 64)
	if err := errors.Join(err1, err2, err3); err != nil {
		return 0, false
	}
	return float64(hours*3600+minutes*60) + seconds, true
}

// FormatTimestamp renders seconds the way ffmpeg's -ss expects.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	return strconv.FormatFloat(seconds, 'f', 3, 64)
}
