// Package txretry replays optimistic transactions that lost a write race.
//
// A conflict means another writer committed, so the system as a whole made
// progress. Loops built on Do therefore retry for as long as the caller's
// context allows instead of giving up after a fixed count.
package txretry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Default backoff bounds.
const (
	DefaultBaseDelay = 50 * time.Microsecond
	DefaultMaxDelay  = 10 * time.Millisecond
)

// Policy bounds the jittered exponential delay between attempts.
type Policy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultPolicy returns the default backoff bounds.
func DefaultPolicy() Policy {
	return Policy{BaseDelay: DefaultBaseDelay, MaxDelay: DefaultMaxDelay}
}

func (p Policy) normalized() Policy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Delay returns the wait before retry number attempt (0-based): a uniform
// draw from [0, min(base<<attempt, max)].
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	ceiling := p.MaxDelay
	if attempt < 30 {
		if d := p.BaseDelay << attempt; d > 0 && d < ceiling {
			ceiling = d
		}
	}
	return rand.N(ceiling + 1)
}

// Do calls fn until it returns an error for which conflict reports false,
// waiting Delay between attempts. When ctx ends first, Do returns the context
// error and the number of conflicts seen.
func (p Policy) Do(ctx context.Context, conflict func(error) bool, fn func() error) (int, error) {
	for attempt := 0; ; attempt++ {
		err := fn()
		if !conflict(err) {
			return attempt, err
		}
		if err := wait(ctx, p.Delay(attempt)); err != nil {
			return attempt + 1, err
		}
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
