// Package presence tracks a debounced agent-connected/disconnected state
// per review (spec.md §4.6). A Register that follows a Deregister inside
// the grace period never flips the review to disconnected.
package presence

import (
	"sync"
	"time"

	"github.com/preflight/preflight/internal/domain"
)

// GracePeriod is the fixed delay before a deregister is treated as a real
// disconnect.
const GracePeriod = 5 * time.Second

// Publisher is the narrow capability the tracker needs from the event bus.
type Publisher interface {
	Publish(event domain.WsEvent)
}

type entry struct {
	connected        bool
	pendingDisconnect *time.Timer
}

// Tracker holds per-review presence state guarded by one mutex.
type Tracker struct {
	mu          sync.Mutex
	entries     map[domain.ID]*entry
	pub         Publisher
	after       func(d time.Duration, f func()) *time.Timer
	gracePeriod time.Duration
}

// New constructs a Tracker that publishes presence-change events via pub,
// using the default GracePeriod.
func New(pub Publisher) *Tracker {
	return NewWithGracePeriod(pub, GracePeriod)
}

// NewWithGracePeriod constructs a Tracker with the given grace period in
// place of GracePeriod. The presence.grace_seconds config value is not
// passed here; the server always uses New.
func NewWithGracePeriod(pub Publisher, gracePeriod time.Duration) *Tracker {
	return &Tracker{
		entries:     make(map[domain.ID]*entry),
		pub:         pub,
		after:       time.AfterFunc,
		gracePeriod: gracePeriod,
	}
}

// Register cancels any pending disconnect task; if the review was
// previously disconnected, it flips to connected and publishes once.
func (t *Tracker) Register(reviewID domain.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[reviewID]
	if !ok {
		e = &entry{}
		t.entries[reviewID] = e
	}

	if e.pendingDisconnect != nil {
		e.pendingDisconnect.Stop()
		e.pendingDisconnect = nil
	}

	if !e.connected {
		e.connected = true
		t.publish(reviewID, true)
	}
}

// Deregister cancels any existing pending disconnect and schedules a new
// one. If the entry is still connected after GracePeriod, it flips to
// disconnected and publishes once.
func (t *Tracker) Deregister(reviewID domain.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[reviewID]
	if !ok {
		e = &entry{connected: true}
		t.entries[reviewID] = e
	}

	if e.pendingDisconnect != nil {
		e.pendingDisconnect.Stop()
	}

	e.pendingDisconnect = t.after(t.gracePeriod, func() {
		t.fireDisconnect(reviewID)
	})
}

func (t *Tracker) fireDisconnect(reviewID domain.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[reviewID]
	if !ok || !e.connected {
		return
	}
	e.connected = false
	e.pendingDisconnect = nil
	t.publish(reviewID, false)
}

// publish must be called while holding mu.
func (t *Tracker) publish(reviewID domain.ID, connected bool) {
	if t.pub == nil {
		return
	}
	t.pub.Publish(domain.WsEvent{
		EventType: domain.EventAgentPresenceChanged,
		ReviewID:  reviewID,
		Payload:   map[string]bool{"connected": connected},
		Timestamp: time.Now().UTC(),
	})
}

// IsConnected reports the current connected state for a review.
func (t *Tracker) IsConnected(reviewID domain.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[reviewID]
	return ok && e.connected
}
