package ports

import (
	"context"
	"time"
)

// RateLimiter counts hits per key in a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (bool, error)
}

// AdmissionControl is the operator switch that pauses new activations.
type AdmissionControl interface {
	Paused(ctx context.Context) (bool, error)
	SetPaused(ctx context.Context, paused bool) error
}
