package testutil

import (
	"context"
	"sync"
	"time"
)

// FakeSleeper records requested pauses without waiting.
//
// It satisfies transport.Sleeper, so retry tests run instantly and can assert
// on how many times and for how long the policy paused.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

// NewFakeSleeper creates a sleeper with no recorded pauses.
func NewFakeSleeper() *FakeSleeper {
	return &FakeSleeper{}
}

// Sleep records d and returns immediately. A cancelled context is reported
// the same way a real timer would.
func (s *FakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
	return nil
}

// Count returns the number of recorded pauses.
func (s *FakeSleeper) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sleeps)
}

// Sleeps returns a copy of the recorded pauses in order.
func (s *FakeSleeper) Sleeps() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.sleeps))
	copy(out, s.sleeps)
	return out
}

// Reset clears the recorded pauses.
func (s *FakeSleeper) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = nil
}
