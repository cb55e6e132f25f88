package engine

import (
	"context"
	"math/rand"
	"time"
)

// sleepJitter blocks for a uniformly random duration in [min, max] or until
// ctx is cancelled, whichever comes first. Staggering task starts this way
// keeps a large batch from hammering the API in lockstep.
func sleepJitter(ctx context.Context, min, max time.Duration) error {
	if max < min {
		max = min
	}
	d := min
	if span := max - min; span > 0 {
		d += time.Duration(rand.Int63n(int64(span) + 1))
	}
	if d <= 0 {
		return ctx.Err()
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
