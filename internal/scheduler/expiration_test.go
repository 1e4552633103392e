package scheduler

import (
	"context"
	"errors"
	"testing"
)

type stubDueLister struct {
	due     []int64
	listErr error
	calls   int
}

func (s *stubDueLister) ListDueForExpiration(_ context.Context, _ int) ([]int64, error) {
	s.calls++
	return s.due, s.listErr
}

type stubExpirer struct {
	expired []int64
	failOn  int64
}

func (s *stubExpirer) ExpireChat(_ context.Context, chatID int64) error {
	if chatID == s.failOn {
		return errors.New("boom")
	}
	s.expired = append(s.expired, chatID)
	return nil
}

func TestSweepExpiresEveryDueChat(t *testing.T) {
	lister := &stubDueLister{due: []int64{4, 8, 15}}
	expirer := &stubExpirer{}
	sweeper := NewExpirationSweeper(lister, expirer, 0)

	sweeper.sweep(context.Background())

	if len(expirer.expired) != 3 {
		t.Fatalf("expected 3 expirations, got %v", expirer.expired)
	}
}

func TestSweepContinuesPastFailingChat(t *testing.T) {
	lister := &stubDueLister{due: []int64{1, 2, 3}}
	expirer := &stubExpirer{failOn: 2}
	sweeper := NewExpirationSweeper(lister, expirer, 0)

	sweeper.sweep(context.Background())

	if len(expirer.expired) != 2 || expirer.expired[0] != 1 || expirer.expired[1] != 3 {
		t.Fatalf("expected chats 1 and 3 expired despite the failure, got %v", expirer.expired)
	}
}

func TestSweepStopsWhenListingFails(t *testing.T) {
	lister := &stubDueLister{listErr: errors.New("db down")}
	expirer := &stubExpirer{}
	sweeper := NewExpirationSweeper(lister, expirer, 0)

	sweeper.sweep(context.Background())

	if len(expirer.expired) != 0 {
		t.Fatalf("expected no expirations on a failed listing, got %v", expirer.expired)
	}
}

func TestRunReturnsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lister := &stubDueLister{}
	sweeper := NewExpirationSweeper(lister, &stubExpirer{}, 0)
	sweeper.Run(ctx)

	// Run sweeps once up front before noticing cancellation.
	if lister.calls != 1 {
		t.Fatalf("expected exactly the initial sweep, got %d", lister.calls)
	}
}
