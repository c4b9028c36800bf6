package memory

import (
	"context"
	"sync"
	"time"
)

// SlidingWindowLimiter is the in-process rate limiter used when Redis is not configured.
type SlidingWindowLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

func NewSlidingWindowLimiter() *SlidingWindowLimiter {
	return &SlidingWindowLimiter{hits: map[string][]time.Time{}}
}

func (l *SlidingWindowLimiter) Allow(_ context.Context, key string, limit int, window time.Duration, now time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := now.Add(-window)
	kept := l.hits[key][:0]
	for _, at := range l.hits[key] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) >= limit {
		l.hits[key] = kept
		return false, nil
	}
	l.hits[key] = append(kept, now)
	return true, nil
}

// AdmissionSwitch is an in-process admission pause flag.
type AdmissionSwitch struct {
	mu     sync.RWMutex
	paused bool
}

func NewAdmissionSwitch(paused bool) *AdmissionSwitch {
	return &AdmissionSwitch{paused: paused}
}

func (s *AdmissionSwitch) Paused(context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused, nil
}

func (s *AdmissionSwitch) SetPaused(_ context.Context, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
	return nil
}
