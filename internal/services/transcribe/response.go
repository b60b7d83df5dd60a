package transcribe

import (
	"strings"

	"lectern/internal/language"
	"lectern/internal/queue"
)

// verboseTranscript is the verbose_json body shared by OpenAI, Groq and
// faster-whisper servers.
type verboseTranscript struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (v verboseTranscript) toTranscript(selector string) queue.Transcript {
	out := queue.Transcript{
		Language:        language.Normalize(v.Language),
		Text:            strings.TrimSpace(v.Text),
		DurationSeconds: v.Duration,
		Model:           selector,
	}
	for _, seg := range v.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		end := seg.End
		if end < seg.Start {
			end = seg.Start
		}
		out.Segments = append(out.Segments, queue.Segment{Start: seg.Start, End: end, Text: text})
	}
	if out.Text == "" && len(out.Segments) > 0 {
		parts := make([]string, 0, len(out.Segments))
		for _, seg := range out.Segments {
			parts = append(parts, seg.Text)
		}
		out.Text = strings.Join(parts, " ")
	}
	if out.DurationSeconds == 0 && len(out.Segments) > 0 {
		out.DurationSeconds = out.Segments[len(out.Segments)-1].End
	}
	return out
}
