// Package realtime implements both ends of the platform's realtime channel:
// the gateway-side hub that fans envelopes out to connected dashboards, and
// the reconnecting client used by the SDK and CLI.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/statforge/statstream/internal/events"
	"github.com/statforge/statstream/internal/notify"
	"github.com/statforge/statstream/internal/progress"
)

// State describes the client connection lifecycle. There are no further
// states: a caller-initiated Disconnect is the only terminal transition.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// controlMessage is the outbound room control frame.
type controlMessage struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

// ClientOptions configure the realtime client.
type ClientOptions struct {
	// URL is the gateway websocket endpoint, e.g. wss://host/ws.
	URL    string
	UserID string
	Rooms  []string
	Token  string

	// ReconnectBase is multiplied by the attempt number to produce the
	// linearly increasing retry delay. Defaults to 2s.
	ReconnectBase time.Duration
	// MaxReconnects bounds reconnection after an unsolicited close.
	// Defaults to 5.
	MaxReconnects int

	// OnEnvelope receives every decoded envelope after the trackers have
	// been updated. Optional.
	OnEnvelope func(events.Envelope)
	// OnStateChange observes lifecycle transitions. Optional.
	OnStateChange func(State)

	// Progress and Notifications default to fresh instances when nil.
	Progress         *progress.Tracker
	Notifications    *notify.Feed
	NotificationTags []string

	Logger *log.Logger
	Dialer *websocket.Dialer
}

// Client is a reconnecting websocket consumer of the realtime channel.
// Delivery is best-effort, at-most-once-per-arrival, in transport order.
type Client struct {
	opts      ClientOptions
	notifTags map[string]struct{}

	mu       sync.Mutex
	conn     *websocket.Conn
	state    State
	closed   bool
	done     chan struct{}
	doneOnce sync.Once

	// Progress and Notifications are the trackers fed by inbound envelopes.
	Progress      *progress.Tracker
	Notifications *notify.Feed
}

// NewClient builds a client; Connect must be called before envelopes flow.
func NewClient(opts ClientOptions) *Client {
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = 2 * time.Second
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = 5
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Progress == nil {
		opts.Progress = progress.NewTracker()
	}
	if opts.Notifications == nil {
		opts.Notifications = notify.NewFeed(notify.DefaultCap)
	}
	tags := opts.NotificationTags
	if len(tags) == 0 {
		tags = []string{events.Notification, events.SystemAlert}
	}
	set := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		set[tag] = struct{}{}
	}
	return &Client{
		opts:          opts,
		notifTags:     set,
		state:         StateDisconnected,
		done:          make(chan struct{}),
		Progress:      opts.Progress,
		Notifications: opts.Notifications,
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the client has stopped, either by Disconnect or after
// exhausting reconnection attempts. A new Connect after exhaustion replaces
// the channel; re-read Done after reconnecting.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	cb := c.opts.OnStateChange
	c.mu.Unlock()
	if changed && cb != nil {
		cb(s)
	}
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse websocket url: %w", err)
	}
	q := u.Query()
	if c.opts.UserID != "" {
		q.Set("user_id", c.opts.UserID)
	}
	if len(c.opts.Rooms) > 0 {
		q.Set("rooms", strings.Join(c.opts.Rooms, ","))
	}
	if c.opts.Token != "" {
		q.Set("token", c.opts.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the gateway and starts consuming envelopes. It returns once
// the initial connection is established; reconnection after unsolicited
// closes happens in the background.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("realtime: client is disconnected")
	}
	if c.conn != nil {
		c.mu.Unlock()
		return errors.New("realtime: already connected")
	}
	select {
	case <-c.done:
		// A previous session exhausted its reconnect attempts.
		c.done = make(chan struct{})
		c.doneOnce = sync.Once{}
	default:
	}
	c.mu.Unlock()

	c.setState(StateConnecting)
	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected)

	go c.readLoop(ctx, conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, err
	}
	conn, _, err := c.opts.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return conn, nil
}

// Disconnect closes the socket and suppresses any further reconnection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}
	c.setState(StateDisconnected)
	c.doneOnce.Do(func() { close(c.done) })
}

// JoinRoom subscribes the connection to an additional room.
func (c *Client) JoinRoom(room string) error {
	return c.writeControl(controlMessage{Action: "join_room", Room: room})
}

// LeaveRoom unsubscribes the connection from a room.
func (c *Client) LeaveRoom(room string) error {
	return c.writeControl(controlMessage{Action: "leave_room", Room: room})
}

func (c *Client) writeControl(msg controlMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("realtime: not connected")
	}
	return c.conn.WriteJSON(msg)
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			_ = conn.Close()
			if closed || ctx.Err() != nil {
				return
			}
			c.reconnect(ctx)
			return
		}
		c.dispatch(raw)
	}
}

// dispatch decodes one frame. Malformed payloads are logged and dropped.
func (c *Client) dispatch(raw []byte) {
	var env events.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.opts.Logger.Printf("realtime: dropping malformed envelope: %v", err)
		return
	}
	if env.Event == "" {
		c.opts.Logger.Printf("realtime: dropping envelope without event tag")
		return
	}

	switch {
	case events.IsJobEvent(env.Event):
		var upd events.JobUpdate
		if err := json.Unmarshal(env.Data, &upd); err != nil {
			c.opts.Logger.Printf("realtime: dropping %s with bad data: %v", env.Event, err)
			return
		}
		c.Progress.Apply(env.Event, upd)
	default:
		if _, ok := c.notifTags[env.Event]; ok {
			var payload events.NotificationPayload
			if err := json.Unmarshal(env.Data, &payload); err != nil {
				c.opts.Logger.Printf("realtime: dropping %s with bad data: %v", env.Event, err)
				return
			}
			c.Notifications.Add(env.Event, payload)
		}
	}

	if c.opts.OnEnvelope != nil {
		c.opts.OnEnvelope(env)
	}
}

// reconnect retries the dial with a linearly increasing delay, up to
// MaxReconnects attempts, then gives up permanently.
func (c *Client) reconnect(ctx context.Context) {
	c.setState(StateConnecting)
	for attempt := 1; attempt <= c.opts.MaxReconnects; attempt++ {
		delay := time.Duration(attempt) * c.opts.ReconnectBase
		select {
		case <-ctx.Done():
			c.giveUp()
			return
		case <-c.done:
			return
		case <-time.After(delay):
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		conn, err := c.dial(ctx)
		if err != nil {
			c.opts.Logger.Printf("realtime: reconnect attempt %d/%d failed: %v",
				attempt, c.opts.MaxReconnects, err)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()
		c.setState(StateConnected)
		go c.readLoop(ctx, conn)
		return
	}
	c.opts.Logger.Printf("realtime: giving up after %d reconnect attempts", c.opts.MaxReconnects)
	c.giveUp()
}

// giveUp stops the reconnect loop without marking the client closed, so a
// later Connect can start a fresh session.
func (c *Client) giveUp() {
	c.setState(StateDisconnected)
	c.mu.Lock()
	once := &c.doneOnce
	done := c.done
	c.mu.Unlock()
	once.Do(func() { close(done) })
}
