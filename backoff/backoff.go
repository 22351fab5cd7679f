// Package backoff computes retry delays for reconnect and consume loops.
package backoff

import (
	"context"
	"time"
)

const (
	MinInterval = 1 * time.Second
	MaxInterval = 60 * time.Second
	Multiplier  = 1.5
)

// Next grows *d: MinInterval first, then by Multiplier, capped at MaxInterval.
func Next(d *time.Duration) {
	if *d <= 0 {
		*d = MinInterval
		return
	}
	*d = time.Duration(float64(*d) * Multiplier)
	if *d > MaxInterval {
		*d = MaxInterval
	}
	*d = d.Truncate(time.Millisecond)
}

// Sleep grows *d and waits for it. It returns false if ctx is done first.
func Sleep(ctx context.Context, d *time.Duration) bool {
	Next(d)
	t := time.NewTimer(*d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
