package events

import (
	"sync"
	"sync/atomic"
)

// SubscribeOption narrows what a subscription receives.
type SubscribeOption func(*filter)

type filter struct {
	courseID int64
	kinds    map[Kind]struct{}
	buffer   int
}

// WithCourse limits delivery to events for one course.
func WithCourse(courseID int64) SubscribeOption {
	return func(f *filter) { f.courseID = courseID }
}

// WithKinds limits delivery to the listed kinds.
func WithKinds(kinds ...Kind) SubscribeOption {
	return func(f *filter) {
		f.kinds = make(map[Kind]struct{}, len(kinds))
		for _, kind := range kinds {
			f.kinds[kind] = struct{}{}
		}
	}
}

// WithBuffer overrides the hub's default ring size for this subscription.
func WithBuffer(size int) SubscribeOption {
	return func(f *filter) { f.buffer = size }
}

func (f filter) matches(evt Event) bool {
	if f.courseID != 0 && evt.CourseID != f.courseID {
		return false
	}
	if len(f.kinds) > 0 {
		if _, ok := f.kinds[evt.Kind]; !ok {
			return false
		}
	}
	return true
}

// Subscription is one observer's view of the event stream. Events are read
// from C until the subscription or hub closes, at which point C is closed.
type Subscription struct {
	hub    *Hub
	filter filter
	out    chan Event
	notify chan struct{}
	closed chan struct{}

	mu   sync.Mutex
	ring []Event
	head int
	size int
	gap  bool

	dropped   atomic.Uint64
	stopOnce  sync.Once
	closeOnce sync.Once
}

func newSubscription(h *Hub, f filter) *Subscription {
	if f.buffer <= 0 {
		f.buffer = defaultSubscriberBuffer
	}
	return &Subscription{
		hub:    h,
		filter: f,
		out:    make(chan Event),
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
		ring:   make([]Event, f.buffer),
	}
}

// C returns the delivery channel.
func (s *Subscription) C() <-chan Event { return s.out }

// Dropped returns how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the subscription. It is safe to call more than once and
// from any goroutine.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.stop()
		select {
		case s.hub.deregister <- s:
		case <-s.hub.done:
		}
	})
}

// push appends evt, evicting the oldest buffered event when full. Only the hub
// loop calls push.
func (s *Subscription) push(evt Event) {
	if !s.filter.matches(evt) {
		// The loss may have included events this subscriber wanted.
		if evt.Gap {
			s.mu.Lock()
			s.gap = true
			s.mu.Unlock()
		}
		return
	}
	s.mu.Lock()
	if s.size == len(s.ring) {
		s.head = (s.head + 1) % len(s.ring)
		s.size--
		s.gap = true
		s.dropped.Add(1)
	}
	s.ring[(s.head+s.size)%len(s.ring)] = evt
	s.size++
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.size == 0 {
		return Event{}, false
	}
	evt := s.ring[s.head]
	s.ring[s.head] = Event{}
	s.head = (s.head + 1) % len(s.ring)
	s.size--
	if s.gap {
		evt.Gap = true
		s.gap = false
	}
	return evt, true
}

// deliver moves buffered events to the consumer in FIFO order.
func (s *Subscription) deliver() {
	defer close(s.out)
	for {
		evt, ok := s.pop()
		if !ok {
			select {
			case <-s.notify:
				continue
			case <-s.closed:
				return
			}
		}
		select {
		case s.out <- evt:
		case <-s.closed:
			return
		}
	}
}

func (s *Subscription) stop() {
	s.stopOnce.Do(func() { close(s.closed) })
}
