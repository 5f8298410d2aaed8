package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryAttemptStore implements AttemptStore with a process-local map.
// Counters are per instance: a multi-node deployment under-enforces the
// limit with this store and should use the Redis store instead.
type MemoryAttemptStore struct {
	mu      sync.Mutex
	windows map[string]*attemptWindow
}

type attemptWindow struct {
	count     int
	windowEnd time.Time
}

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{windows: make(map[string]*attemptWindow)}
}

func (s *MemoryAttemptStore) Hit(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windows[key]
	if w == nil || !now.Before(w.windowEnd) {
		w = &attemptWindow{count: 1, windowEnd: now.Add(window)}
		s.windows[key] = w
		return Result{Allowed: true, Remaining: limit - 1, ResetAt: w.windowEnd}, nil
	}

	if w.count >= limit {
		return Result{Allowed: false, Remaining: 0, ResetAt: w.windowEnd}, nil
	}

	w.count++
	return Result{Allowed: true, Remaining: limit - w.count, ResetAt: w.windowEnd}, nil
}

func (s *MemoryAttemptStore) Sweep(_ context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, w := range s.windows {
		if !now.Before(w.windowEnd) {
			delete(s.windows, key)
		}
	}
	return nil
}

// Len reports the number of tracked keys. Test helper.
func (s *MemoryAttemptStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
