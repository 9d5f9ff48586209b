package services

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/lorrc/dashboard-sync/internal/core/domain"
	"github.com/lorrc/dashboard-sync/internal/core/ports"
	"github.com/lorrc/dashboard-sync/internal/infrastructure/logging"
)

// EventBus is the in-process publish/subscribe registry keyed by message
// kind. Dispatch is synchronous and follows subscription order.
type EventBus struct {
	// subscribers maps a kind to its handlers in subscription order.
	// A kind with no handlers has no entry.
	subscribers map[domain.MessageKind][]*subscription

	// mu protects subscribers
	mu sync.RWMutex

	logger *slog.Logger
}

type subscription struct {
	id      uuid.UUID
	handler ports.MessageHandler
	removed atomic.Bool
}

// Ensure EventBus implements the MessageSubscriber interface.
var _ ports.MessageSubscriber = (*EventBus)(nil)

// NewEventBus creates an empty bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[domain.MessageKind][]*subscription),
		logger:      logger.With("component", "event_bus"),
	}
}

// Subscribe registers handler for kind. The returned function removes the
// subscription; calling it more than once is a no-op.
func (b *EventBus) Subscribe(kind domain.MessageKind, handler ports.MessageHandler) func() {
	sub := &subscription{id: uuid.New(), handler: handler}

	b.mu.Lock()
	b.subscribers[kind] = append(b.subscribers[kind], sub)
	count := len(b.subscribers[kind])
	b.mu.Unlock()

	b.logger.Debug("subscriber added",
		"kind", kind,
		"subscription_id", sub.id,
		"subscribers", count,
	)

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(kind, sub) })
	}
}

func (b *EventBus) unsubscribe(kind domain.MessageKind, sub *subscription) {
	sub.removed.Store(true)

	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[kind]
	if !ok {
		return
	}
	subs = slices.DeleteFunc(slices.Clone(subs), func(s *subscription) bool {
		return s.id == sub.id
	})
	if len(subs) == 0 {
		delete(b.subscribers, kind)
	} else {
		b.subscribers[kind] = subs
	}

	b.logger.Debug("subscriber removed",
		"kind", kind,
		"subscription_id", sub.id,
		"subscribers", len(subs),
	)
}

// Dispatch delivers msg to every current subscriber of its kind. A handler
// that panics is logged and skipped; the remaining handlers still run.
func (b *EventBus) Dispatch(msg domain.Message) {
	kind := msg.Kind()

	b.mu.RLock()
	subs := slices.Clone(b.subscribers[kind])
	b.mu.RUnlock()

	if len(subs) == 0 {
		b.logger.Debug("no subscribers for kind", "kind", kind)
		return
	}

	for _, sub := range subs {
		// Removed by an earlier handler of this same dispatch.
		if sub.removed.Load() {
			continue
		}
		b.deliver(kind, sub, msg)
	}
}

func (b *EventBus) deliver(kind domain.MessageKind, sub *subscription, msg domain.Message) {
	defer func() {
		if r := recover(); r != nil {
			logging.LogPanic(b.logger.With(
				"kind", kind,
				"subscription_id", sub.id,
			), r)
		}
	}()
	sub.handler(msg)
}

// SubscriberCount returns the number of handlers registered for kind.
func (b *EventBus) SubscriberCount(kind domain.MessageKind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[kind])
}

// Kinds returns the kinds that currently have subscribers.
func (b *EventBus) Kinds() []domain.MessageKind {
	b.mu.RLock()
	defer b.mu.RUnlock()

	kinds := make([]domain.MessageKind, 0, len(b.subscribers))
	for kind := range b.subscribers {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	return kinds
}
