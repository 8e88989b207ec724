package counter

import (
	"context"
	"sync"
	"time"

	"idproof/internal/ratelimit/models"
)

// InMemoryCounterStore implements CounterStore for development and tests.
// It is not shared across processes; use RedisCounterStore in production.
type InMemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]models.Counter
}

func NewInMemoryCounterStore() *InMemoryCounterStore {
	return &InMemoryCounterStore{counters: make(map[string]models.Counter)}
}

func (s *InMemoryCounterStore) Increment(_ context.Context, key string, max int, window time.Duration, now time.Time) (models.Counter, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.live(key, window, now)
	if c.Count >= max {
		return c, false, nil
	}
	if c.Count == 0 {
		c.WindowStart = now
	}
	c.Count++
	s.counters[key] = c
	return c, true, nil
}

func (s *InMemoryCounterStore) Get(_ context.Context, key string, window time.Duration, now time.Time) (models.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live(key, window, now), nil
}

func (s *InMemoryCounterStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, key)
	return nil
}

// live returns the counter for key, dropping it if its window elapsed.
// Must be called while holding s.mu.
func (s *InMemoryCounterStore) live(key string, window time.Duration, now time.Time) models.Counter {
	c, ok := s.counters[key]
	if !ok {
		return models.Counter{}
	}
	if c.Expired(now, window) {
		delete(s.counters, key)
		return models.Counter{}
	}
	return c
}
