package bus

import (
	"strings"
	"sync"
)

const defaultBufferSize = 100

// Event is a message published on the bus.
type Event struct {
	Topic   string
	Payload interface{}
}

// Runtime event topics.
const (
	TopicCycleCompleted = "cycle.completed"
	TopicCycleFailed    = "cycle.failed"
	TopicGuardBlocked   = "guard.blocked"
	TopicGuardEmergency = "guard.emergency"
	TopicBudgetWarn     = "budget.warn"
	TopicDailySummary   = "summary.daily"
)

// CycleEvent is published when a scheduler cycle completes or fails.
type CycleEvent struct {
	Cycle    int64  // cycle counter since process start
	TaskType string // comment, publish, hotspot; "" when idle
	TaskName string
	Status   string // success, skipped, failed, timeout
	Tokens   int
	Errors   int // consecutive error count after this cycle
}

// GuardEvent is published when the safety guard rejects content or
// trips the emergency stop.
type GuardEvent struct {
	ActionType string
	Level      string // block, rewrite, wait, emergency
	Reason     string
}

// BudgetEvent is published when daily usage crosses a warning line.
type BudgetEvent struct {
	Reason     string
	TokensUsed int
	Cost       float64
}

// SummaryEvent carries the daily activity digest for the alert channel.
type SummaryEvent struct {
	Date       string
	Actions    int
	TokensUsed int
	Cost       float64
	TopStyles  []string
}

// Subscription represents an active subscription.
type Subscription struct {
	id     int
	prefix string
	ch     chan Event
}

// Ch returns the channel to receive events on.
func (s *Subscription) Ch() <-chan Event {
	return s.ch
}

// Bus is a simple in-process pub/sub message bus with topic prefix matching.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

// New creates a new Bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*Subscription),
	}
}

// Subscribe creates a subscription for events matching the given topic prefix.
// An empty prefix matches all topics.
// The returned channel has a buffer of 100 events; slow consumers will miss
// events (non-blocking send).
func (b *Bus) Subscribe(topicPrefix string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		prefix: topicPrefix,
		ch:     make(chan Event, defaultBufferSize),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish sends an event to all matching subscribers.
// Delivery is non-blocking: if a subscriber's buffer is full, the event is dropped.
func (b *Bus) Publish(topic string, payload interface{}) {
	event := Event{
		Topic:   topic,
		Payload: payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.prefix == "" || strings.HasPrefix(topic, sub.prefix) {
			// Non-blocking send.
			select {
			case sub.ch <- event:
			default:
				// Buffer full, drop event for this subscriber.
			}
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
