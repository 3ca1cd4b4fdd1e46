package facade

import (
	"sync"

	constants "hwpulse/config"
	"hwpulse/internal/alerts"
	"hwpulse/internal/telemetry"
	"hwpulse/internal/tsdb"
)

// UpdateKind tags what a stream update carries.
type UpdateKind string

const (
	UpdateSample UpdateKind = "sample"
	UpdateEvent  UpdateKind = "event"
)

// Update is one element of a live subscription feed.
type Update struct {
	Kind     UpdateKind    `json:"kind" cbor:"1,keyasint"`
	SeriesID string        `json:"series_id,omitempty" cbor:"2,keyasint,omitempty"`
	Sample   *tsdb.Sample  `json:"sample,omitempty" cbor:"3,keyasint,omitempty"`
	Event    *alerts.Event `json:"event,omitempty" cbor:"4,keyasint,omitempty"`
}

// StreamFilter selects which updates a subscriber receives. Zero values
// match everything of that dimension.
type StreamFilter struct {
	SeriesID  string
	Kind      UpdateKind
	EventKind alerts.EventKind
}

func (f StreamFilter) matches(u Update) bool {
	if f.Kind != "" && u.Kind != f.Kind {
		return false
	}
	if f.SeriesID != "" && u.SeriesID != f.SeriesID {
		return false
	}
	if f.EventKind != "" && (u.Event == nil || u.Event.Kind != f.EventKind) {
		return false
	}
	return true
}

// Subscription is a live feed. Updates delivers until Cancel is called or
// the hub shuts down; a subscriber that falls behind loses its oldest
// undelivered updates, never blocks the publisher.
type Subscription struct {
	hub    *hub
	id     int
	filter StreamFilter
	ch     chan Update

	mu      sync.Mutex
	queue   []Update
	wake    chan struct{}
	done    chan struct{}
	closed  bool
	dropped int
}

// Updates is the subscriber's receive channel.
func (s *Subscription) Updates() <-chan Update { return s.ch }

// Dropped reports how many updates were discarded because the subscriber
// fell behind.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Cancel detaches the subscription and closes Updates.
func (s *Subscription) Cancel() {
	s.hub.unsubscribe(s.id)
}

// push enqueues one update, evicting the oldest when the queue is full.
func (s *Subscription) push(u Update) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= cap(s.queue) {
		copy(s.queue, s.queue[1:])
		s.queue = s.queue[:len(s.queue)-1]
		s.dropped++
		telemetry.SubscriberDropped.Inc()
	}
	s.queue = append(s.queue, u)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump drains the queue into the subscriber channel. Runs as one
// goroutine per subscription; a blocked receiver only stalls this pump
// while the bounded queue keeps absorbing (and eventually dropping)
// updates behind it.
func (s *Subscription) pump() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-s.wake:
			case <-s.done:
			}
			continue
		}
		u := s.queue[0]
		s.queue = s.queue[:copy(s.queue, s.queue[1:])]
		s.mu.Unlock()
		select {
		case s.ch <- u:
		case <-s.done:
			return
		}
	}
}

// closeSub marks the subscription finished and wakes the pump.
func (s *Subscription) closeSub() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
}

// hub fans updates out to all matching subscriptions.
type hub struct {
	queueSize int

	mu     sync.Mutex
	nextID int
	subs   map[int]*Subscription
}

func newHub(queueSize int) *hub {
	if queueSize <= 0 {
		queueSize = constants.DEFAULT_SUBSCRIBER_QUEUE
	}
	return &hub{queueSize: queueSize, subs: make(map[int]*Subscription)}
}

func (h *hub) subscribe(f StreamFilter) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &Subscription{
		hub:    h,
		id:     h.nextID,
		filter: f,
		ch:     make(chan Update),
		queue:  make([]Update, 0, h.queueSize),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	h.nextID++
	h.subs[s.id] = s
	telemetry.ActiveSubscribers.Inc()
	go s.pump()
	return s
}

func (h *hub) unsubscribe(id int) {
	h.mu.Lock()
	s, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()
	if ok {
		telemetry.ActiveSubscribers.Dec()
		s.closeSub()
	}
}

// publish delivers one update to every matching subscription. Never
// blocks.
func (h *hub) publish(u Update) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		if s.filter.matches(u) {
			subs = append(subs, s)
		}
	}
	h.mu.Unlock()
	for _, s := range subs {
		s.push(u)
	}
}

func (h *hub) close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[int]*Subscription)
	h.mu.Unlock()
	for _, s := range subs {
		telemetry.ActiveSubscribers.Dec()
		s.closeSub()
	}
}
