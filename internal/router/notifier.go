// Package router provides an in-process notification bus that fans accepted
// telemetry records out to live subscribers.
package router

import (
	"sync"

	"github.com/google/uuid"

	"github.com/frostwatch/frostwatch/pkg/types"
)

// NotificationType represents the type of notification.
type NotificationType int

const (
	RecordAppended NotificationType = iota
	PartitionPruned
	PartitionArchived
)

func (t NotificationType) String() string {
	switch t {
	case RecordAppended:
		return "record_appended"
	case PartitionPruned:
		return "partition_pruned"
	case PartitionArchived:
		return "partition_archived"
	default:
		return "unknown"
	}
}

// Notification describes one store event.
type Notification struct {
	Type      NotificationType
	Partition string
	SensorID  string
	Record    types.Record
	LSN       uint64
	Timestamp int64
}

// Notifier provides an in-process pub/sub notification bus.
type Notifier struct {
	subscribers sync.Map
	bufferSize  int
}

// NewNotifier creates a new notifier instance.
func NewNotifier(bufferSize int) *Notifier {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Notifier{
		bufferSize: bufferSize,
	}
}

// Publish sends a notification to all matching subscribers.
// Non-blocking: if a subscriber's channel is full, the notification is dropped.
func (n *Notifier) Publish(notif Notification) {
	n.subscribers.Range(func(key, value interface{}) bool {
		sub := value.(*Subscriber)
		if sub.matches(notif) {
			sub.send(notif)
		}
		return true
	})
}

// Subscribe adds a subscriber. Filters restrict delivery to record
// notifications whose sensor ID equals one of them; an empty filter list
// receives everything.
func (n *Notifier) Subscribe(filters ...string) *Subscriber {
	sub := &Subscriber{
		ID:      uuid.New().String(),
		Filters: filters,
		Ch:      make(chan Notification, n.bufferSize),
	}
	n.subscribers.Store(sub.ID, sub)
	return sub
}

// Unsubscribe removes a subscriber from the notifier and closes their channel.
func (n *Notifier) Unsubscribe(subID string) {
	if value, ok := n.subscribers.LoadAndDelete(subID); ok {
		value.(*Subscriber).close()
	}
}

// Count returns the number of active subscribers.
func (n *Notifier) Count() int {
	count := 0
	n.subscribers.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// Close unsubscribes everyone.
func (n *Notifier) Close() error {
	n.subscribers.Range(func(key, _ interface{}) bool {
		n.Unsubscribe(key.(string))
		return true
	})
	return nil
}

// Subscriber represents a notification subscriber.
type Subscriber struct {
	ID      string
	Filters []string
	Ch      chan Notification

	mu     sync.Mutex
	closed bool
}

func (s *Subscriber) matches(notif Notification) bool {
	if len(s.Filters) == 0 {
		return true
	}
	if notif.Type != RecordAppended {
		return false
	}
	for _, f := range s.Filters {
		if f == "" || f == notif.SensorID {
			return true
		}
	}
	return false
}

func (s *Subscriber) send(notif Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.Ch <- notif:
	default:
		// Channel full - drop notification, do NOT block
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.Ch)
	}
}
