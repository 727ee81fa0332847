package notify

import (
	"fmt"
	"testing"

	"github.com/statforge/statstream/internal/events"
)

func TestFeedNeverExceedsCap(t *testing.T) {
	t.Parallel()

	f := NewFeed(5)
	for i := 0; i < 40; i++ {
		f.Add(events.Notification, events.NotificationPayload{Title: fmt.Sprintf("n-%d", i)})
		if f.Len() > 5 {
			t.Fatalf("feed exceeded cap at iteration %d: %d", i, f.Len())
		}
	}
	items := f.Items()
	if len(items) != 5 {
		t.Fatalf("expected 5 items, got %d", len(items))
	}
	// Newest first, oldest truncated.
	if items[0].Title != "n-39" || items[4].Title != "n-35" {
		t.Fatalf("unexpected ordering: %+v", items)
	}
}

func TestFeedDefaultCap(t *testing.T) {
	t.Parallel()

	f := NewFeed(0)
	for i := 0; i < DefaultCap+10; i++ {
		f.Add(events.SystemAlert, events.NotificationPayload{Title: "alert", Severity: "warning"})
	}
	if f.Len() != DefaultCap {
		t.Fatalf("expected default cap %d, got %d", DefaultCap, f.Len())
	}
}

func TestFeedClear(t *testing.T) {
	t.Parallel()

	f := NewFeed(3)
	f.Add(events.Notification, events.NotificationPayload{Title: "one"})
	f.Clear()
	if f.Len() != 0 {
		t.Fatalf("expected empty feed, got %d", f.Len())
	}
}
