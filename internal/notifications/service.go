package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lectern/internal/config"
)

const userAgent = "Lectern-Go/0.1.0"

// Event enumerates the notifications lectern emits.
type Event string

const (
	EventNotesReady  Event = "notes_ready"
	EventFramesReady Event = "frames_ready"
	EventStageFailed Event = "stage_failed"
	EventTest        Event = "test"
)

// Payload carries the values a notification message is rendered from.
type Payload map[string]any

// Service publishes notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := render(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func render(event Event, payload Payload) (message, bool) {
	title := payloadString(payload, "lectureTitle")
	if title == "" {
		title = fmt.Sprintf("lecture %s", payloadString(payload, "lectureId"))
	}
	switch event {
	case EventNotesReady:
		body := fmt.Sprintf("📝 Notes ready: %s", title)
		if course := payloadString(payload, "courseTitle"); course != "" {
			body += "\nCourse: " + course
		}
		return message{
			title: "Lectern - Notes Ready",
			body:  body,
			tags:  []string{"lectern", "notes", "completed"},
		}, true
	case EventFramesReady:
		return message{
			title: "Lectern - Frames Ready",
			body:  fmt.Sprintf("🖼️ %s frames extracted: %s", payloadString(payload, "frames"), title),
			tags:  []string{"lectern", "frames", "completed"},
		}, true
	case EventStageFailed:
		var b strings.Builder
		b.WriteString("❌ ")
		b.WriteString(payloadString(payload, "stage"))
		b.WriteString(" failed for ")
		b.WriteString(title)
		if errText := payloadString(payload, "error"); errText != "" {
			b.WriteString(": ")
			b.WriteString(errText)
		}
		return message{
			title:    "Lectern - Error",
			body:     b.String(),
			tags:     []string{"lectern", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Lectern - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"lectern", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func payloadString(payload Payload, key string) string {
	if payload == nil {
		return ""
	}
	switch v := payload[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
