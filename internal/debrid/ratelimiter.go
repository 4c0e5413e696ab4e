// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package debrid

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// fallbackAdvisoryWait is used when a rate-limit response carries no
	// parseable integer advisory.
	fallbackAdvisoryWait = 5 * time.Second

	// maxAdvisoryWait caps how long a single advisory can stall a worker.
	maxAdvisoryWait = 30 * time.Second

	// maxConsecutiveRateLimits bounds how many rate-limit signals one
	// operation absorbs before surfacing a transient error.
	maxConsecutiveRateLimits = 3
)

// Limiter enforces a minimum interval between calls and absorbs advisory
// backoff pushes from rate-limit responses. Each pipeline worker clones the
// client to get its own Limiter, so workers are throttled per connection, not
// globally. The lock is held only for state reads and writes, never across a
// sleep.
type Limiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	nextAllowed time.Time
}

func NewLimiter(minInterval time.Duration) *Limiter {
	return &Limiter{minInterval: minInterval}
}

// Throttle blocks until the next call is allowed, then claims the slot.
func (l *Limiter) Throttle(ctx context.Context) error {
	for {
		l.mu.Lock()
		wait := time.Until(l.nextAllowed)
		if wait <= 0 {
			l.nextAllowed = time.Now().Add(l.minInterval)
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Penalize pushes the next allowed call out by wait, used after a rate-limit
// response.
func (l *Limiter) Penalize(wait time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	until := time.Now().Add(wait)
	if until.After(l.nextAllowed) {
		l.nextAllowed = until
	}
}

// ParseAdvisoryWait interprets a Retry-After style advisory as a plain integer
// second count. Anything else (HTTP dates included) falls back to a fixed
// wait instead of failing the call.
func ParseAdvisoryWait(advisory string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(advisory))
	if err != nil || seconds < 0 {
		return fallbackAdvisoryWait
	}
	wait := time.Duration(seconds) * time.Second
	if wait > maxAdvisoryWait {
		wait = maxAdvisoryWait
	}
	return wait
}
