package notifications

import (
	"context"
	"log/slog"
	"strconv"

	"lectern/internal/config"
	"lectern/internal/events"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/stage"
)

// Catalog resolves the lecture details messages are rendered from.
// *queue.Store satisfies it.
type Catalog interface {
	GetLecture(ctx context.Context, id int64) (*queue.Lecture, error)
	GetCourse(ctx context.Context, id int64) (*queue.Course, error)
	Frames(ctx context.Context, lectureID int64) (*queue.Frames, error)
}

// Watcher turns workflow events into notifications.
type Watcher struct {
	service    Service
	catalog    Catalog
	logger     *slog.Logger
	onComplete bool
	onError    bool
}

// NewWatcher builds a watcher honoring the notifications toggles in cfg.
func NewWatcher(cfg *config.Config, service Service, catalog Catalog, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	w := &Watcher{
		service: service,
		catalog: catalog,
		logger:  logging.NewComponentLogger(logger, "notifications"),
	}
	if cfg != nil {
		w.onComplete = cfg.Notifications.OnComplete
		w.onError = cfg.Notifications.OnError
	}
	return w
}

// Run publishes notifications for events from sub until the subscription
// closes or ctx ends.
func (w *Watcher) Run(ctx context.Context, sub *events.Subscription) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			w.handle(ctx, evt)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, evt events.Event) {
	event, ok := w.classify(evt)
	if !ok {
		return
	}
	payload := w.payload(ctx, evt)
	if err := w.service.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(w.logger, "notification delivery failed", "notification_failed",
			logging.Error(err),
			logging.String("notification", string(event)),
			logging.Int64(logging.FieldLectureID, evt.LectureID),
			logging.String(logging.FieldImpact, "notification was not delivered"),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
		)
		return
	}
	w.logger.Debug("notification sent",
		logging.String(logging.FieldEventType, "notification_sent"),
		logging.String("notification", string(event)),
		logging.Int64(logging.FieldLectureID, evt.LectureID),
	)
}

func (w *Watcher) classify(evt events.Event) (Event, bool) {
	if evt.Kind != events.KindStage {
		return "", false
	}
	switch {
	case evt.Status == stage.StatusError && w.onError:
		return EventStageFailed, true
	case evt.Status == stage.StatusDone && evt.Stage == stage.Notes && w.onComplete:
		return EventNotesReady, true
	case evt.Status == stage.StatusDone && evt.Stage == stage.Frames && w.onComplete:
		return EventFramesReady, true
	default:
		return "", false
	}
}

func (w *Watcher) payload(ctx context.Context, evt events.Event) Payload {
	payload := Payload{
		"lectureId": strconv.FormatInt(evt.LectureID, 10),
		"stage":     string(evt.Stage),
		"error":     evt.Error,
	}
	if w.catalog == nil {
		return payload
	}
	lecture, err := w.catalog.GetLecture(ctx, evt.LectureID)
	if err != nil {
		return payload
	}
	payload["lectureTitle"] = lecture.Title
	if evt.Stage == stage.Frames {
		if set, err := w.catalog.Frames(ctx, evt.LectureID); err == nil {
			payload["frames"] = strconv.Itoa(len(set.Images))
		}
	}
	if course, err := w.catalog.GetCourse(ctx, lecture.CourseID); err == nil {
		payload["courseTitle"] = course.Title
	}
	return payload
}
