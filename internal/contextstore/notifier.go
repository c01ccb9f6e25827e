package contextstore

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

// subscriptionBuffer is the per-subscriber channel capacity.
const subscriptionBuffer = 64

// Subscription is one consumer's view of a context's accepted events.
// Cancel releases the subscription; a canceled subscription's channel is
// closed and receives no further events.
type Subscription struct {
	contextID string
	ch        chan *models.ContextEvent
	cancelFn  func()
	once      sync.Once
}

// Events returns the read-only event channel.
func (s *Subscription) Events() <-chan *models.ContextEvent {
	return s.ch
}

// Cancel unsubscribes. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancelFn)
}

// Notifier maintains an explicit per-context subscriber list and fans out
// one notification per accepted event. There is no global event bus:
// subscribers attach to a single context and detach by cancelling.
type Notifier struct {
	// subs maps context ID to its live subscriptions.
	subs map[string]map[*Subscription]struct{}
	// mu protects subs.
	mu sync.RWMutex
	// droppedCount tracks notifications dropped on full subscriber buffers.
	droppedCount atomic.Uint64
}

// NewNotifier creates an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		subs: make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe attaches a consumer to a context's event feed. Events accepted
// after the subscription exists are delivered in order. Consumers that need
// earlier history should read the log with ReadEvents first and dedupe by
// sequence number.
func (n *Notifier) Subscribe(contextID string) *Subscription {
	sub := &Subscription{
		contextID: contextID,
		ch:        make(chan *models.ContextEvent, subscriptionBuffer),
	}
	sub.cancelFn = func() {
		n.mu.Lock()
		if set, ok := n.subs[contextID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(n.subs, contextID)
			}
		}
		n.mu.Unlock()
		close(sub.ch)
	}

	n.mu.Lock()
	set, ok := n.subs[contextID]
	if !ok {
		set = make(map[*Subscription]struct{})
		n.subs[contextID] = set
	}
	set[sub] = struct{}{}
	n.mu.Unlock()

	return sub
}

// Publish delivers an accepted event to every subscriber of its context.
// A slow subscriber's notification is dropped rather than blocking the
// append path; the subscriber recovers via a since-sequence re-read.
func (n *Notifier) Publish(ev *models.ContextEvent) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for sub := range n.subs[ev.ContextID] {
		select {
		case sub.ch <- ev:
		default:
			count := n.droppedCount.Add(1)
			if count%10 == 1 { // Log every 10th drop to avoid spam
				log.Printf("[contextstore] WARNING: subscriber buffer full, dropped notification (total dropped: %d): context=%s seq=%d",
					count, ev.ContextID, ev.SequenceNumber)
			}
		}
	}
}

// DroppedCount returns the total number of dropped notifications.
func (n *Notifier) DroppedCount() uint64 {
	return n.droppedCount.Load()
}

// SubscriberCount returns the number of live subscriptions for a context.
func (n *Notifier) SubscriberCount(contextID string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs[contextID])
}
