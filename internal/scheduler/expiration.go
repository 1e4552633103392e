package scheduler

import (
	"context"
	"log"
	"time"
)

const sweepBatchSize = 100

type expirer interface {
	ExpireChat(ctx context.Context, chatID int64) error
}

type dueLister interface {
	ListDueForExpiration(ctx context.Context, limit int) ([]int64, error)
}

// ExpirationSweeper periodically expires accepted chats whose window has
// lapsed. Every transition goes through the service so the conditional
// update and the broadcasts happen exactly as they would for any other
// actor; a sweep racing a participant (or another replica running the
// same sweep) simply loses the update and moves on.
type ExpirationSweeper struct {
	chats    dueLister
	service  expirer
	interval time.Duration
}

func NewExpirationSweeper(chats dueLister, service expirer, interval time.Duration) *ExpirationSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpirationSweeper{chats: chats, service: service, interval: interval}
}

// Run sweeps until ctx is cancelled. It runs one sweep immediately so a
// restart does not leave overdue chats waiting a full interval.
func (s *ExpirationSweeper) Run(ctx context.Context) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ExpirationSweeper) sweep(ctx context.Context) {
	chatIDs, err := s.chats.ListDueForExpiration(ctx, sweepBatchSize)
	if err != nil {
		log.Printf("expiration sweep: list due chats: %v", err)
		return
	}

	for _, chatID := range chatIDs {
		// One bad row must not stall the rest of the batch.
		if err := s.service.ExpireChat(ctx, chatID); err != nil {
			log.Printf("expiration sweep: expire chat %d: %v", chatID, err)
		}
	}
}
