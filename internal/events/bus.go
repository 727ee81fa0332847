// Package events carries the platform's realtime envelopes between the job
// manager, gateway replicas, and connected dashboard clients.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Bus multiplexes envelopes to connected subscribers (local + Redis backed).
type Bus struct {
	client redis.UniversalClient
	logger *log.Logger
	ch     string

	mu          sync.RWMutex
	subscribers map[chan Envelope]struct{}
}

// Options configure the bus.
type Options struct {
	Client  redis.UniversalClient
	Logger  *log.Logger
	Channel string
}

// NewBus creates a new event bus. When a Redis client is provided, envelopes
// published on any replica reach local subscribers through pub/sub.
func NewBus(opts Options) *Bus {
	channel := opts.Channel
	if channel == "" {
		channel = "statstream-events"
	}
	bus := &Bus{
		client:      opts.Client,
		logger:      opts.Logger,
		ch:          channel,
		subscribers: make(map[chan Envelope]struct{}),
	}
	if bus.client != nil {
		go bus.observeRedis()
	}
	return bus
}

// Publish broadcasts an envelope to all subscribers and Redis.
func (b *Bus) Publish(ctx context.Context, env Envelope) error {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}

	if b.client != nil {
		payload, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("marshal envelope: %w", err)
		}
		if err := b.client.Publish(ctx, b.ch, payload).Err(); err != nil {
			return fmt.Errorf("redis publish: %w", err)
		}
	}

	b.broadcast(env)
	return nil
}

// Subscribe registers a subscriber and returns a channel plus a cancel func.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Envelope, func(), error) {
	ch := make(chan Envelope, 16)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
		b.mu.Unlock()
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return ch, cancel, nil
}

func (b *Bus) broadcast(env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- env:
		default:
			if b.logger != nil {
				b.logger.Printf("events: dropping envelope %s (subscriber backlog)", env.ID)
			}
		}
	}
}

func (b *Bus) observeRedis() {
	ctx := context.Background()
	pubsub := b.client.Subscribe(ctx, b.ch)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if b.logger != nil {
				b.logger.Printf("events: redis subscriber error: %v", err)
			}
			time.Sleep(2 * time.Second)
			continue
		}

		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			if b.logger != nil {
				b.logger.Printf("events: invalid payload: %v", err)
			}
			continue
		}
		b.broadcast(env)
	}
}
