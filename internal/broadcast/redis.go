package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const channel = "scoutchat:events"

// RedisBroadcaster carries events across the fleet over one Redis pub/sub
// channel. Publishing never takes a local shortcut: the publishing
// process hears its own events back through the subscription like every
// other replica, so delivery behaves identically at any fleet size.
type RedisBroadcaster struct {
	client   *redis.Client
	registry Registry
	pubsub   *redis.PubSub
}

// NewRedisBroadcaster connects and pings before returning, so the caller
// can sequence transport readiness ahead of accepting client
// connections.
func NewRedisBroadcaster(url string, registry Registry) (*RedisBroadcaster, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &RedisBroadcaster{client: client, registry: registry}, nil
}

func (b *RedisBroadcaster) Publish(ctx context.Context, event Event) error {
	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, channel, encoded).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event.Name, err)
	}
	return nil
}

// Start subscribes and pumps incoming events into the local registry
// until ctx is canceled.
func (b *RedisBroadcaster) Start(ctx context.Context) {
	b.pubsub = b.client.Subscribe(ctx, channel)
	go b.receive(ctx)
}

func (b *RedisBroadcaster) receive(ctx context.Context) {
	messages := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-messages:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(message.Payload), &event); err != nil {
				log.Printf("broadcast: drop malformed event: %v", err)
				continue
			}
			frame, err := event.Frame()
			if err != nil {
				log.Printf("broadcast: frame %s: %v", event.Name, err)
				continue
			}
			b.registry.DeliverIfPresent(event.UserID, frame)
		}
	}
}

func (b *RedisBroadcaster) Close() error {
	if b.pubsub != nil {
		_ = b.pubsub.Close()
	}
	return b.client.Close()
}
