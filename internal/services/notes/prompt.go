package notes

import (
	"fmt"
	"strings"

	"lectern/internal/queue"
)

const systemPrompt = `You are an expert lecture note-taker. You will be given a timestamped transcript of a lecture.

Respond with a single JSON object matching this schema:

{
  "title": "<short descriptive title for this lecture>",
  "notes": "<structured markdown notes>",
  "frame_timestamps": [
    {"time": <seconds from start as a number>, "reason": "<what visual is likely shown>"}
  ]
}

Rules for "notes":
- Use ## for major topic sections and ### for subtopics. Never use a single #.
- Use bullet points for content, **bold** for key terms and > blockquotes for notable quotes.
- Cover all key topics, definitions, examples and formulas. Organise by topic, not chronologically.
- End with a "## Key Terms" table (Term | Definition) and a "## Action Items" list. Write "None mentioned" when empty.

Rules for "title":
- 3 to 8 words summarising the main topic. No course code, lecture number or date.

Rules for "frame_timestamps":
- Include moments where visual content is likely shown or changed: explicit visual references,
  topic transitions, formulas or code explained in detail, worked examples with data, and
  descriptions of diagrams or graphs.
- Aim for 5 to 15 entries for a typical lecture. Return an empty array only for purely
  conversational lectures.

Your entire response must be valid JSON with no text before or after the object.`

func userPrompt(lecture queue.Lecture, transcript string) string {
	title := strings.TrimSpace(lecture.Title)
	if title == "" {
		title = fmt.Sprintf("Lecture %d", lecture.ID)
	}
	return fmt.Sprintf("# Lecture: %s\n\n%s", title, transcript)
}

// formatTranscript renders segments as "[mm:ss] text" lines, falling back to
// the plain text when no segments exist. Output is cut at maxChars on a line
// boundary when maxChars > 0.
func formatTranscript(transcript queue.Transcript, maxChars int) string {
	var b strings.Builder
	if len(transcript.Segments) == 0 {
		b.WriteString(strings.TrimSpace(transcript.Text))
	} else {
		for _, seg := range transcript.Segments {
			text := strings.TrimSpace(seg.Text)
			if text == "" {
				continue
			}
			line := fmt.Sprintf("[%s] %s\n", clock(seg.Start), text)
			if maxChars > 0 && b.Len()+len(line) > maxChars {
				break
			}
			b.WriteString(line)
		}
	}
	out := strings.TrimSpace(b.String())
	if maxChars > 0 && len(out) > maxChars {
		out = out[:maxChars]
	}
	return out
}

func clock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
