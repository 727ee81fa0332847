// Package notify keeps the client-side notification feed: the most recent
// notification-bearing envelopes, capped at a fixed length.
package notify

import (
	"sync"
	"time"

	"github.com/statforge/statstream/internal/events"
)

// DefaultCap bounds the feed when no cap is configured.
const DefaultCap = 50

// Item is a single feed entry derived from an envelope.
type Item struct {
	Event      string
	Title      string
	Body       string
	Severity   string
	ReceivedAt time.Time
}

// Feed is a bounded, newest-first notification list.
type Feed struct {
	mu    sync.RWMutex
	limit int
	items []Item
}

// NewFeed returns a feed bounded to the given limit (DefaultCap when <= 0).
func NewFeed(limit int) *Feed {
	if limit <= 0 {
		limit = DefaultCap
	}
	return &Feed{limit: limit}
}

// Add converts a notification payload into an item and prepends it,
// truncating the oldest entries beyond the cap.
func (f *Feed) Add(tag string, payload events.NotificationPayload) Item {
	item := Item{
		Event:      tag,
		Title:      payload.Title,
		Body:       payload.Body,
		Severity:   payload.Severity,
		ReceivedAt: time.Now().UTC(),
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append([]Item{item}, f.items...)
	if len(f.items) > f.limit {
		f.items = f.items[:f.limit]
	}
	return item
}

// Items returns a copy of the feed, newest first.
func (f *Feed) Items() []Item {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Item, len(f.items))
	copy(out, f.items)
	return out
}

// Len reports the current feed length.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.items)
}

// Clear empties the feed.
func (f *Feed) Clear() {
	f.mu.Lock()
	f.items = nil
	f.mu.Unlock()
}
