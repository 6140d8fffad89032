// Package events implements the typed publication point ("observer site")
// used by the orchestrator to notify presentation collaborators of
// progress, deletions, downloads, and errors: one generic type
// parameterized over the event's payload, rather than a handwritten site
// per event type.
package events

import (
	"sync"

	"github.com/patchkit-io/patchkit/pkg/logging"
)

// Handler is a callback registered with a Site.
type Handler[T any] func(T)

// Subscription identifies a registered Handler so it can later be removed
// with Unsubscribe.
type Subscription uint64

// Site is a typed publication point. Subscribe registers a handler,
// Unsubscribe/Clear remove handlers, and Notify invokes every currently
// registered handler synchronously, in subscription order.
//
// The site itself makes no thread-safety guarantee beyond what's needed to keep its internal bookkeeping consistent: the
// orchestrator is expected to call Notify only from its own driving
// goroutine. Subscribe/Unsubscribe are guarded by a mutex so that setup
// (which may happen concurrently with an in-flight run in a long-lived
// process) doesn't race with the subscriber slice itself, but Notify does
// not serialize against concurrent Notify calls from multiple goroutines --
// callers must not do that.
type Site[T any] struct {
	logger *logging.Logger

	mu       sync.Mutex
	next     Subscription
	handlers map[Subscription]Handler[T]
}

// NewSite creates an empty Site. logger may be nil, in which case handler
// panics are recovered silently.
func NewSite[T any](logger *logging.Logger) *Site[T] {
	return &Site[T]{
		logger:   logger,
		handlers: make(map[Subscription]Handler[T]),
	}
}

// Subscribe registers handler and returns a Subscription that can later be
// passed to Unsubscribe.
func (s *Site[T]) Subscribe(handler Handler[T]) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := s.next
	s.handlers[id] = handler
	return id
}

// Unsubscribe removes a single handler previously returned by Subscribe. It
// is a no-op if the subscription is unknown (e.g. already removed).
func (s *Site[T]) Unsubscribe(id Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, id)
}

// Clear removes every registered handler.
func (s *Site[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = make(map[Subscription]Handler[T])
}

// Notify invokes every currently registered handler with value, in
// subscription order. A handler that panics is recovered and logged rather
// than allowed to propagate and abort the run: a misbehaving presentation
// callback must never take down a synchronization cycle.
func (s *Site[T]) Notify(value T) {
	s.mu.Lock()
	ordered := make([]Subscription, 0, len(s.handlers))
	for id := range s.handlers {
		ordered = append(ordered, id)
	}
	// Subscription IDs are monotonically increasing, so sorting them
	// recovers registration order without storing a parallel slice.
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j-1] > ordered[j]; j-- {
			ordered[j-1], ordered[j] = ordered[j], ordered[j-1]
		}
	}
	handlers := make([]Handler[T], 0, len(ordered))
	for _, id := range ordered {
		handlers = append(handlers, s.handlers[id])
	}
	s.mu.Unlock()

	for _, handler := range handlers {
		s.invoke(handler, value)
	}
}

// invoke calls handler with value, recovering and logging any panic.
func (s *Site[T]) invoke(handler Handler[T], value T) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warnf("event handler panicked: %v", r)
		}
	}()
	handler(value)
}
