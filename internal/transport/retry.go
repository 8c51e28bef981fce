package transport

import (
	"context"
	"log/slog"
	"slices"
	"time"
)

const (
	// MaxRequestRetries is the default number of attempts for a request that
	// keeps failing to connect.
	MaxRequestRetries = 10

	// RetryWait is the fixed pause between connection attempts.
	RetryWait = 5 * time.Second
)

// Policy decides how often and on which faults a request is retried.
type Policy struct {
	// MaxAttempts bounds the total number of attempts, the first included.
	MaxAttempts int

	// Wait is the fixed pause between attempts.
	Wait time.Duration

	// RetryOn lists the fault kinds that are retried.
	RetryOn []Kind
}

// DefaultPolicy retries connection faults 10 times, 5 seconds apart.
// Timeouts and status failures are fatal on first occurrence.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: MaxRequestRetries,
		Wait:        RetryWait,
		RetryOn:     []Kind{KindUnreachable},
	}
}

// NoRetry makes a single attempt.
func NoRetry() Policy {
	return Policy{MaxAttempts: 1}
}

// Retryable reports whether faults of kind k are retried under p.
func (p Policy) Retryable(k Kind) bool {
	return slices.Contains(p.RetryOn, k)
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Sleeper pauses between attempts. Tests substitute a fake that records
// requested pauses without waiting.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// RealSleeper waits on a timer and returns early with the context error on
// cancellation.
var RealSleeper Sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
})

// Outcome is the typed result of Do.
type Outcome[T any] struct {
	Value    T
	Kind     Kind // fault kind of Err, KindOther on success
	Attempts int
	Err      error
}

// Do runs op until it succeeds, fails with a fault kind p does not retry, or
// exhausts p.MaxAttempts. Each retry and each terminal failure is logged with
// an attempt counter.
func Do[T any](ctx context.Context, p Policy, sleeper Sleeper, logger *slog.Logger, target string, op func(ctx context.Context) (T, error)) Outcome[T] {
	if sleeper == nil {
		sleeper = RealSleeper
	}
	if logger == nil {
		logger = slog.Default()
	}
	maxAttempts := p.maxAttempts()

	for attempt := 1; ; attempt++ {
		val, err := op(ctx)
		if err == nil {
			return Outcome[T]{Value: val, Attempts: attempt}
		}

		kind := Classify(err)
		out := Outcome[T]{Kind: kind, Attempts: attempt, Err: err}

		if !p.Retryable(kind) {
			if kind == KindTimeout {
				logger.Error("request timed out", "target", target, "attempt", attempt, "error", err)
			} else {
				logger.Error("request failed", "target", target, "attempt", attempt, "kind", kind, "error", err)
			}
			return out
		}
		if attempt >= maxAttempts {
			logger.Error("max retries reached", "target", target, "attempt", attempt, "max_attempts", maxAttempts, "error", err)
			return out
		}

		logger.Warn("cannot connect, retrying",
			"target", target,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"wait", p.Wait,
			"error", err,
		)
		if sleepErr := sleeper.Sleep(ctx, p.Wait); sleepErr != nil {
			return Outcome[T]{Kind: Classify(sleepErr), Attempts: attempt, Err: sleepErr}
		}
	}
}
