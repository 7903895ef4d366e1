package pipeline

import (
	"sync"

	"peoplecounter/internal/occupancy"
)

// ResultFilter selects which results a subscriber receives
type ResultFilter func(*Result) bool

// TransitionsOnly passes results that started or ended an episode
func TransitionsOnly(r *Result) bool {
	return !r.Failed && r.Transition.Kind != occupancy.TransitionNone
}

// EventBus fans per-frame results out to subscribers in registration order
type EventBus struct {
	mu     sync.RWMutex
	subs   []*subscription
	closed bool
}

type subscription struct {
	filter  ResultFilter
	handler ResultHandler
	ch      chan *Result
	dropped uint64
}

func (s *subscription) accepts(r *Result) bool {
	return s.filter == nil || s.filter(r)
}

// NewEventBus creates an empty bus
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers a handler for every result and returns its
// unsubscribe function
func (b *EventBus) Subscribe(handler ResultHandler) func() {
	return b.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler for the results filter accepts
func (b *EventBus) SubscribeFiltered(filter ResultFilter, handler ResultHandler) func() {
	return b.add(&subscription{filter: filter, handler: handler})
}

// SubscribeChannel returns a buffered channel of results. When the reader
// falls behind, results are dropped rather than stalling the processing loop.
func (b *EventBus) SubscribeChannel(bufferSize int, filter ResultFilter) (<-chan *Result, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}
	sub := &subscription{filter: filter, ch: make(chan *Result, bufferSize)}
	return sub.ch, b.add(sub)
}

func (b *EventBus) add(sub *subscription) func() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		if sub.ch != nil {
			close(sub.ch)
		}
		return func() {}
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return func() { b.remove(sub) }
}

func (b *EventBus) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			if s.ch != nil {
				close(s.ch)
			}
			return
		}
	}
}

// Publish delivers a result. Handlers run synchronously on the caller's
// goroutine, so each sees results in frame order.
func (b *EventBus) Publish(result *Result) {
	if result == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.accepts(result) {
			continue
		}
		if sub.handler != nil {
			sub.handler.OnResult(result)
			continue
		}
		select {
		case sub.ch <- result:
		default:
			sub.dropped++
		}
	}
}

// Dropped returns how many results channel subscribers missed
func (b *EventBus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var n uint64
	for _, sub := range b.subs {
		n += sub.dropped
	}
	return n
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close removes every subscriber and closes their channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if sub.ch != nil {
			close(sub.ch)
		}
	}
	b.subs = nil
	b.closed = true
}
