package identity

import (
	"sync"
	"time"
)

// EventKind is a session-change notification type.
type EventKind string

const (
	EventSignedIn      EventKind = "signed_in"
	EventSignedOut     EventKind = "signed_out"
	EventClaimsUpdated EventKind = "claims_updated"
)

// Event is delivered to subscribers on every session change.
type Event struct {
	Kind EventKind
	At   time.Time
}

// Subscriber hands out event channels with an explicit cancel.
type Subscriber interface {
	Subscribe() (<-chan Event, func())
}

const subscriberBuffer = 8

// Notifier fans session events out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
type Notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	closed bool
}

var _ Subscriber = (*Notifier)(nil)

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan Event)}
}

// Subscribe registers a new listener. The returned cancel closes the channel
// and is safe to call more than once.
func (n *Notifier) Subscribe() (<-chan Event, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if n.closed {
		close(ch)
		return ch, func() {}
	}
	id := n.nextID
	n.nextID++
	n.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if c, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Publish delivers kind to every current subscriber.
func (n *Notifier) Publish(kind EventKind) {
	ev := Event{Kind: kind, At: time.Now()}

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (n *Notifier) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// Close ends every subscription; later subscribers get a closed channel.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
