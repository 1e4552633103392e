package broadcast

import (
	"context"
	"log"
	"sync"
)

// MemoryBus is an in-process Broadcaster for tests and single-node
// development. It fans every published event out to all subscribed
// registries, mirroring the Redis channel's behavior: subscribers decide
// locally whether they hold the addressed user.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers []Registry
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Subscribe(registry Registry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, registry)
}

func (b *MemoryBus) Publish(_ context.Context, event Event) error {
	frame, err := event.Frame()
	if err != nil {
		log.Printf("broadcast: frame %s: %v", event.Name, err)
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, subscriber := range b.subscribers {
		subscriber.DeliverIfPresent(event.UserID, frame)
	}
	return nil
}
