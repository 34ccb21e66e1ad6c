package idempotency

import (
	"context"
	"sync"
	"time"
)

// LocalStore is the in-process Checker used when Redis is not configured.
// Keys are only deduplicated within one process.
type LocalStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	keys map[string]time.Time
	now  func() time.Time
}

func NewLocalStore(ttl time.Duration) *LocalStore {
	return &LocalStore{ttl: ttl, keys: make(map[string]time.Time), now: time.Now}
}

func (s *LocalStore) Seen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, ok := s.keys[key]; ok && now.Before(exp) {
		return true, nil
	}
	s.keys[key] = now.Add(s.ttl)
	if len(s.keys)%256 == 0 {
		s.sweep(now)
	}
	return false, nil
}

func (s *LocalStore) Forget(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}

func (s *LocalStore) sweep(now time.Time) {
	for k, exp := range s.keys {
		if !now.Before(exp) {
			delete(s.keys, k)
		}
	}
}
