package scheduler

import (
	"math"
	"time"
)

// Backoff computes retry delays as Base × 2^retry, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before retry number retry (0 for the first retry).
func (b Backoff) Delay(retry int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if retry < 0 {
		retry = 0
	}
	delay := float64(b.Base) * math.Pow(2, float64(retry))
	if b.Max > 0 && delay > float64(b.Max) {
		return b.Max
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}
