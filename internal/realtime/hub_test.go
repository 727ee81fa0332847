package realtime

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/statforge/statstream/internal/events"
)

func startHub(t *testing.T) (*Hub, *events.Bus, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bus := events.NewBus(events.Options{})
	hub := NewHub(HubOptions{Bus: bus})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	router := gin.New()
	router.GET("/ws", hub.Handler)
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, bus, srv
}

// hubTestConn wraps a dialed connection with a background read pump so that
// a timed-out readEnvelope does not poison later reads (gorilla makes read
// errors on the underlying conn permanent).
type hubTestConn struct {
	*websocket.Conn
	recv chan events.Envelope
}

func dialHub(t *testing.T, srv *httptest.Server, query string) *hubTestConn {
	t.Helper()
	u := wsURL(srv)
	if query != "" {
		u += "?" + query
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial hub: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	tc := &hubTestConn{Conn: conn, recv: make(chan events.Envelope, 16)}
	go func() {
		for {
			var env events.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				close(tc.recv)
				return
			}
			tc.recv <- env
		}
	}()
	return tc
}

func readEnvelope(t *testing.T, conn *hubTestConn, timeout time.Duration) (events.Envelope, bool) {
	t.Helper()
	select {
	case env, ok := <-conn.recv:
		return env, ok
	case <-time.After(timeout):
		return events.Envelope{}, false
	}
}

func publish(t *testing.T, bus *events.Bus, env events.Envelope) {
	t.Helper()
	if err := bus.Publish(context.Background(), env); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestHubBroadcastsUnscopedEnvelopes(t *testing.T) {
	hub, bus, srv := startHub(t)

	a := dialHub(t, srv, "user_id=a")
	b := dialHub(t, srv, "user_id=b")
	waitFor(t, time.Second, func() bool { return hub.ConnCount() == 2 })

	env, _ := events.New(events.SystemAlert, events.NotificationPayload{Title: "maintenance window"})
	publish(t, bus, env)

	for _, conn := range []*hubTestConn{a, b} {
		got, ok := readEnvelope(t, conn, time.Second)
		if !ok || got.Event != events.SystemAlert {
			t.Fatalf("broadcast not delivered: %+v ok=%v", got, ok)
		}
	}
}

func TestHubScopesByUser(t *testing.T) {
	hub, bus, srv := startHub(t)

	a := dialHub(t, srv, "user_id=a")
	b := dialHub(t, srv, "user_id=b")
	waitFor(t, time.Second, func() bool { return hub.ConnCount() == 2 })

	env, _ := events.New(events.JobProgress, events.JobUpdate{JobID: "j1", Progress: 10})
	env.UserID = "a"
	publish(t, bus, env)

	if got, ok := readEnvelope(t, a, time.Second); !ok || got.Event != events.JobProgress {
		t.Fatalf("scoped envelope not delivered to owner: %+v ok=%v", got, ok)
	}
	if got, ok := readEnvelope(t, b, 100*time.Millisecond); ok {
		t.Fatalf("envelope leaked to wrong user: %+v", got)
	}
}

func TestHubScopesByRoomAndJoinLeave(t *testing.T) {
	hub, bus, srv := startHub(t)

	member := dialHub(t, srv, "user_id=a&rooms=census")
	outsider := dialHub(t, srv, "user_id=b")
	waitFor(t, time.Second, func() bool { return hub.ConnCount() == 2 })

	env, _ := events.New(events.Notification, events.NotificationPayload{Title: "census refresh"})
	env.Room = "census"
	publish(t, bus, env)

	if _, ok := readEnvelope(t, member, time.Second); !ok {
		t.Fatal("room member missed envelope")
	}
	if _, ok := readEnvelope(t, outsider, 100*time.Millisecond); ok {
		t.Fatal("non-member received room envelope")
	}

	// Outsider joins, member leaves; routing must follow.
	if err := outsider.WriteJSON(controlMessage{Action: "join_room", Room: "census"}); err != nil {
		t.Fatalf("join_room: %v", err)
	}
	if err := member.WriteJSON(controlMessage{Action: "leave_room", Room: "census"}); err != nil {
		t.Fatalf("leave_room: %v", err)
	}
	// Control frames are handled asynchronously by the read pump.
	time.Sleep(100 * time.Millisecond)

	publish(t, bus, env)
	if _, ok := readEnvelope(t, outsider, time.Second); !ok {
		t.Fatal("joined connection missed envelope")
	}
	if _, ok := readEnvelope(t, member, 100*time.Millisecond); ok {
		t.Fatal("left connection still receives envelopes")
	}
}

func TestHubSurvivesMalformedControlFrames(t *testing.T) {
	hub, bus, srv := startHub(t)

	conn := dialHub(t, srv, "user_id=a")
	waitFor(t, time.Second, func() bool { return hub.ConnCount() == 1 })

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{broken`)); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	env, _ := events.New(events.Notification, events.NotificationPayload{Title: "still routing"})
	publish(t, bus, env)
	if _, ok := readEnvelope(t, conn, time.Second); !ok {
		t.Fatal("hub stopped routing after malformed frame")
	}
}

