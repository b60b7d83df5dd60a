package events

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"lectern/internal/logging"
)

const (
	defaultInboxSize        = 1024
	defaultSubscriberBuffer = 256
)

var (
	// ErrHubClosed is returned by Subscribe once the dispatch loop has exited.
	ErrHubClosed = errors.New("event hub closed")
	// ErrHubRunning is returned when Run is called on a hub that already ran.
	ErrHubRunning = errors.New("event hub already running")
)

// Options tunes hub buffering.
type Options struct {
	InboxSize        int
	SubscriberBuffer int
	Logger           *slog.Logger
}

// Stats is a snapshot of hub counters.
type Stats struct {
	Subscribers  int    `json:"subscribers"`
	Published    uint64 `json:"published"`
	InboxDropped uint64 `json:"inboxDropped"`
}

// Hub is the single publish point for pipeline events.
type Hub struct {
	inbox      chan Event
	register   chan *Subscription
	deregister chan *Subscription
	done       chan struct{}
	subBuffer  int
	logger     *slog.Logger

	// loop-owned
	subscribers map[*Subscription]struct{}
	seq         uint64

	started      atomic.Bool
	lost         atomic.Bool
	published    atomic.Uint64
	inboxDropped atomic.Uint64
	subCount     atomic.Int64
}

// NewHub constructs a hub. Call Run to start dispatching.
func NewHub(opts Options) *Hub {
	inbox := opts.InboxSize
	if inbox <= 0 {
		inbox = defaultInboxSize
	}
	buffer := opts.SubscriberBuffer
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		inbox:       make(chan Event, inbox),
		register:    make(chan *Subscription),
		deregister:  make(chan *Subscription),
		done:        make(chan struct{}),
		subBuffer:   buffer,
		logger:      logging.NewComponentLogger(opts.Logger, "events"),
		subscribers: make(map[*Subscription]struct{}),
	}
}

// Publish hands evt to the dispatch loop without blocking. When the inbox is
// full the oldest pending event is discarded to make room, and the next
// dispatched event carries a gap marker.
func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	h.published.Add(1)
	for attempt := 0; attempt < 4; attempt++ {
		select {
		case h.inbox <- evt:
			return
		default:
		}
		select {
		case <-h.inbox:
			h.inboxDropped.Add(1)
			h.lost.Store(true)
		default:
		}
	}
	h.inboxDropped.Add(1)
	h.lost.Store(true)
}

// Subscribe registers a new observer. The subscription closes automatically
// when ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context, opts ...SubscribeOption) (*Subscription, error) {
	f := filter{buffer: h.subBuffer}
	for _, opt := range opts {
		opt(&f)
	}
	sub := newSubscription(h, f)

	select {
	case h.register <- sub:
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	go sub.deliver()
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.closed:
		}
	}()
	return sub, nil
}

// Run dispatches events until ctx is cancelled, then closes every
// subscription.
func (h *Hub) Run(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return ErrHubRunning
	}
	h.logger.Debug("event hub started", logging.String(logging.FieldEventType, "hub_started"))
	defer h.shutdown()

	for {
		select {
		case sub := <-h.register:
			h.subscribers[sub] = struct{}{}
			h.subCount.Store(int64(len(h.subscribers)))
		case sub := <-h.deregister:
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				h.subCount.Store(int64(len(h.subscribers)))
			}
		case evt := <-h.inbox:
			h.dispatch(evt)
		case <-ctx.Done():
			return nil
		}
	}
}

func (h *Hub) dispatch(evt Event) {
	h.seq++
	evt.Seq = h.seq
	if h.lost.Swap(false) {
		evt.Gap = true
	}
	for sub := range h.subscribers {
		sub.push(evt)
	}
}

func (h *Hub) shutdown() {
	for sub := range h.subscribers {
		sub.stop()
		delete(h.subscribers, sub)
	}
	h.subCount.Store(0)
	close(h.done)
	h.logger.Debug("event hub stopped", logging.String(logging.FieldEventType, "hub_stopped"))
}

// Done is closed once the dispatch loop has exited.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Stats returns current counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Subscribers:  int(h.subCount.Load()),
		Published:    h.published.Load(),
		InboxDropped: h.inboxDropped.Load(),
	}
}
