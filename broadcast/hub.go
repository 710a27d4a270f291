package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultSubscriberBuffer = 16

// Hub holds process-local topics. The zero value is not usable; call NewHub.
type Hub struct {
	mu      sync.Mutex
	topics  map[string]*hubTopic
	buffer  int
	closed  bool
	dropped atomic.Uint64
}

// NewHub returns a Hub whose subscribers buffer up to buffer messages. A
// subscriber whose buffer is full misses the message and the drop is counted.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		topics: make(map[string]*hubTopic),
		buffer: buffer,
	}
}

// Topic returns the named topic, creating it on first use.
func (h *Hub) Topic(name string) Topic {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[name]
	if !ok {
		t = &hubTopic{hub: h, name: name, subs: make(map[*hubSubscription]struct{})}
		h.topics[name] = t
	}
	return t
}

// Dropped returns the number of deliveries skipped because a subscriber
// buffer was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close ends every subscription. Later publishes and subscribes fail with
// ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	topics := h.topics
	h.topics = map[string]*hubTopic{}
	h.mu.Unlock()

	for _, t := range topics {
		t.closeAll()
	}
}

func (h *Hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

type hubTopic struct {
	hub  *Hub
	name string

	mu   sync.RWMutex
	subs map[*hubSubscription]struct{}
}

func (t *hubTopic) Publish(ctx context.Context, msg Message) error {
	if !msg.Type.Valid() {
		return ErrInvalidMessage
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.hub.isClosed() {
		return ErrClosed
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for s := range t.subs {
		if !s.deliver(msg) {
			t.hub.dropped.Add(1)
		}
	}
	return nil
}

func (t *hubTopic) Subscribe(ctx context.Context) (Subscription, error) {
	if t.hub.isClosed() {
		return nil, ErrClosed
	}
	s := &hubSubscription{
		topic: t,
		ch:    make(chan Message, t.hub.buffer),
		done:  make(chan struct{}),
	}
	t.mu.Lock()
	t.subs[s] = struct{}{}
	t.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

func (t *hubTopic) remove(s *hubSubscription) {
	t.mu.Lock()
	delete(t.subs, s)
	t.mu.Unlock()
}

func (t *hubTopic) closeAll() {
	t.mu.RLock()
	subs := make([]*hubSubscription, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.RUnlock()
	for _, s := range subs {
		_ = s.Close()
	}
}

type hubSubscription struct {
	topic *hubTopic
	ch    chan Message
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

func (s *hubSubscription) C() <-chan Message { return s.ch }

// deliver never blocks. It reports false when the message was dropped.
func (s *hubSubscription) deliver(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

func (s *hubSubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	close(s.ch)
	s.mu.Unlock()

	s.topic.remove(s)
	return nil
}
