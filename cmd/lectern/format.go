package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"lectern/internal/api"
	"lectern/internal/stage"
)

var titleCaser = cases.Title(language.English)

// displayName turns identifiers such as "no_media" into "No Media".
func displayName(value string) string {
	return titleCaser.String(strings.ReplaceAll(value, "_", " "))
}

func stageHeaders() []string {
	names := stage.All()
	headers := make([]string, len(names))
	for i, name := range names {
		headers[i] = displayName(string(name))
	}
	return headers
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatSeconds(seconds float64) string {
	if seconds <= 0 || math.IsNaN(seconds) {
		return "-"
	}
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func formatClock(seconds float64) string {
	total := int(math.Max(seconds, 0))
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func stageCell(view api.StageView) string {
	label := view.Label
	if label == "" {
		label = view.Status
	}
	if view.Status == string(stage.StatusError) && view.ErrorMessage != "" {
		return label + " (" + truncate(view.ErrorMessage, 40) + ")"
	}
	return label
}

func progressCell(progress api.StageProgress, eligible int) string {
	return fmt.Sprintf("%d/%d (%.0f%%)", progress.Done, eligible, progress.Percent)
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}

func parseID(raw, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, raw)
	}
	return id, nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
