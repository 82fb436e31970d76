// Package ratelimit implements fixed-window request counting on top of the
// key-value store.
//
// The algorithm is intentionally a fixed window, not a sliding one: counters
// are keyed by floor(now/window), so up to 2x the limit can pass across a
// window boundary. The mobile clients rely on the predictable reset instant
// this gives, and the tests pin the boundary behavior down.
//
// The counter update is a read-increment-write without compare-and-swap; two
// concurrent checks can both observe the same count. That lost-update race is
// accepted, consistent with every other index in the system.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shelfmate/sharing-backend/interfaces"
)

// counterTTLBuffer keeps a window's counter readable slightly past the window
// end, so checks racing the boundary still see it.
const counterTTLBuffer = 60 * time.Second

// Policy decides what a check does when the underlying store is unreachable.
type Policy int

const (
	// FailOpen allows the request and logs the limiter as degraded. This is
	// the default: losing rate limiting is preferable to losing the service.
	FailOpen Policy = iota

	// FailClosed surfaces the store failure to the caller.
	FailClosed
)

// Result is the outcome of a rate-limit check.
type Result struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Remaining is the number of requests left in the current window.
	Remaining int

	// ResetAt is the start of the next window.
	ResetAt time.Time
}

// Limiter counts requests per (identifier, endpoint) pair in fixed windows.
type Limiter struct {
	kv     interfaces.KVStore
	log    *slog.Logger
	policy Policy
	now    func() time.Time
}

// NewLimiter creates a limiter on the given store with the given failure
// policy.
func NewLimiter(kv interfaces.KVStore, policy Policy, log *slog.Logger) *Limiter {
	return &Limiter{
		kv:     kv,
		log:    log,
		policy: policy,
		now:    time.Now,
	}
}

// Check records one request for (identifier, endpoint) and reports whether it
// is within limit requests per window.
func (l *Limiter) Check(ctx context.Context, identifier, endpoint string, limit int, window time.Duration) (Result, error) {
	nowMillis := l.now().UnixMilli()
	windowMillis := window.Milliseconds()
	windowIndex := nowMillis / windowMillis
	resetAt := time.UnixMilli((windowIndex + 1) * windowMillis)

	key := counterKey(identifier, endpoint, windowIndex)

	count := 0
	value, err := l.kv.Get(ctx, key)
	switch {
	case err == nil:
		parsed, parseErr := strconv.Atoi(string(value))
		if parseErr != nil {
			// A corrupt counter resets the window rather than locking the
			// client out for its duration.
			l.log.Warn("Resetting corrupt rate-limit counter", slog.String("key", key), "err", parseErr)
		} else {
			count = parsed
		}
	case errors.Is(err, interfaces.ErrKeyNotFound):
		// First request in this window.
	default:
		return l.storeFailure(endpoint, resetAt, limit, err)
	}

	if count >= limit {
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}

	ttl := window + counterTTLBuffer
	if err := l.kv.Put(ctx, key, []byte(strconv.Itoa(count+1)), ttl); err != nil {
		return l.storeFailure(endpoint, resetAt, limit, err)
	}

	return Result{Allowed: true, Remaining: limit - count - 1, ResetAt: resetAt}, nil
}

// storeFailure applies the configured policy when the store is unreachable.
func (l *Limiter) storeFailure(endpoint string, resetAt time.Time, limit int, err error) (Result, error) {
	if l.policy == FailOpen {
		l.log.Warn("Rate limiter degraded, allowing request",
			slog.String("endpoint", endpoint),
			"err", err)
		return Result{Allowed: true, Remaining: limit - 1, ResetAt: resetAt}, nil
	}
	return Result{}, fmt.Errorf("%w: rate limit check failed: %v", interfaces.ErrInternal, err)
}

func counterKey(identifier, endpoint string, windowIndex int64) string {
	return fmt.Sprintf("rl:%s:%s:%d", identifier, endpoint, windowIndex)
}
