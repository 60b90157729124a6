package events

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voltwise/enpi-engine/pkg/models"
)

const subscriberBuffer = 64

// Subscriber is one live connection joined to one or more channel groups.
// Events arrive on C in publish order for this subscriber; there is no
// ordering guarantee across subscribers.
type Subscriber struct {
	ID     uuid.UUID
	Groups map[string]bool
	C      chan models.Event
	Done   chan struct{}

	closeOnce sync.Once
}

// close signals the drain goroutine and stops future sends.
func (s *Subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.Done)
	})
}

// Bus decouples producers (jobs, detection, training) from live subscribers
// grouped by topic. Publish is fire-and-forget: a producer that cannot
// deliver still completes its own work.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]*Subscriber
	logger      *zap.Logger
}

// NewBus creates an event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subscribers: make(map[uuid.UUID]*Subscriber),
		logger:      logger.Named("eventbus"),
	}
}

// Subscribe registers a new subscriber joined to the given channel groups.
// Unknown group names are ignored; at least one valid group is required by
// the handler before calling.
func (b *Bus) Subscribe(groups []string) *Subscriber {
	sub := &Subscriber{
		ID:     uuid.New(),
		Groups: make(map[string]bool, len(groups)),
		C:      make(chan models.Event, subscriberBuffer),
		Done:   make(chan struct{}),
	}
	for _, g := range groups {
		if models.ValidGroup(g) {
			sub.Groups[g] = true
		}
	}

	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	b.mu.Unlock()

	b.logger.Info("subscriber joined",
		zap.String("subscriber_id", sub.ID.String()),
		zap.Strings("groups", groups))
	return sub
}

// Unsubscribe removes a subscriber from the fan-out set. In-flight jobs are
// never cancelled by a client disconnect.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	_, ok := b.subscribers[sub.ID]
	delete(b.subscribers, sub.ID)
	b.mu.Unlock()

	if ok {
		sub.close()
		b.logger.Info("subscriber left", zap.String("subscriber_id", sub.ID.String()))
	}
}

// Publish fans an event out to every live subscriber in the topic's group.
// Sends are non-blocking: a full buffer drops the event for that subscriber
// with a logged warning, and subscribers that already disconnected are
// pruned. Publish never fails the caller.
func (b *Bus) Publish(topic string, data any) {
	event := models.NewEvent(topic, data)
	group := models.TopicGroup(topic)

	b.mu.RLock()
	targets := make([]*Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.Groups[group] {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	var dead []*Subscriber
	for _, sub := range targets {
		select {
		case <-sub.Done:
			dead = append(dead, sub)
		case sub.C <- event:
		default:
			b.logger.Warn("subscriber buffer full, dropping event",
				zap.String("subscriber_id", sub.ID.String()),
				zap.String("topic", topic))
		}
	}

	for _, sub := range dead {
		b.Unsubscribe(sub)
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close disconnects all subscribers.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.subscribers = make(map[uuid.UUID]*Subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}
