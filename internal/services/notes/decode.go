package notes

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"lectern/internal/queue"
	"lectern/internal/services"
)

type notePayload struct {
	Title           string          `json:"title"`
	Notes           string          `json:"notes"`
	FrameTimestamps []momentPayload `json:"frame_timestamps"`
	// Some models answer with the key_moments name from earlier prompts.
	KeyMoments []momentPayload `json:"key_moments"`
}

type momentPayload struct {
	Time   flexibleSeconds `json:"time"`
	Reason string          `json:"reason"`
	Title  string          `json:"title"`
}

// flexibleSeconds accepts 93, 93.5, "93", "01:33" and "1:01:33".
type flexibleSeconds struct {
	value float64
	ok    bool
}

func (f *flexibleSeconds) UnmarshalJSON(data []byte) error {
	var number float64
	if err := json.Unmarshal(data, &number); err == nil {
		f.value, f.ok = number, true
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return nil
	}
	f.value, f.ok = parseClock(text)
	return nil
}

func parseClock(value string) (float64, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return seconds, true
	}
	parts := strings.Split(value, ":")
	if len(parts) > 3 {
		return 0, false
	}
	var total float64
	for _, part := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || n < 0 {
			return 0, false
		}
		total = total*60 + n
	}
	return total, true
}

func (p notePayload) toNotes(selector string) (queue.Notes, error) {
	body := strings.TrimSpace(p.Notes)
	if body == "" {
		return queue.Notes{}, services.Wrap(services.ErrExternalTool, stageName, "parse response", "parsed notes are empty", nil)
	}
	if title := strings.TrimSpace(p.Title); title != "" && !strings.HasPrefix(body, "# ") {
		body = "# " + title + "\n\n" + body
	}

	moments := p.FrameTimestamps
	if len(moments) == 0 {
		moments = p.KeyMoments
	}
	out := queue.Notes{Markdown: body, Model: selector}
	for _, m := range moments {
		if !m.Time.ok || m.Time.value < 0 {
			continue
		}
		label := strings.TrimSpace(m.Title)
		if label == "" {
			label = strings.TrimSpace(m.Reason)
		}
		out.KeyMoments = append(out.KeyMoments, queue.KeyMoment{Timestamp: m.Time.value, Title: label})
	}
	sort.SliceStable(out.KeyMoments, func(i, j int) bool {
		return out.KeyMoments[i].Timestamp < out.KeyMoments[j].Timestamp
	})
	return out, nil
}

// decodeJSON decodes a model response, tolerating code fences and prose
// around the JSON object.
func decodeJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}

	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}

	sanitized := sanitizeJSONPayload(trimmed)
	if sanitized == "" || sanitized == trimmed {
		return fmt.Errorf("%w (payload snippet: %s)", directErr, summarizePayloadSnippet(trimmed))
	}
	if err := json.Unmarshal([]byte(sanitized), target); err != nil {
		return fmt.Errorf("%w (sanitized payload snippet: %s)", err, summarizePayloadSnippet(sanitized))
	}
	return nil
}

func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFence(content))
	if trimmed == "" || trimmed[0] == '{' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimLeft(trimmed[3:], " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

func summarizePayloadSnippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	const limit = 160
	if runes := []rune(clean); len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
