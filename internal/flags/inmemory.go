package flags

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps flags for the life of the process.
type InMemoryStore struct {
	mu    sync.RWMutex
	flags map[string]map[string]Flag
	now   func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		flags: make(map[string]map[string]Flag),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) Get(_ context.Context, owner, key string) (Flag, bool, error) {
	owner, key, err := normalize(owner, key)
	if err != nil {
		return Flag{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flags[owner][key]
	return f, ok, nil
}

func (s *InMemoryStore) Set(_ context.Context, owner, key, value string) error {
	owner, key, err := normalize(owner, key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey, ok := s.flags[owner]
	if !ok {
		byKey = make(map[string]Flag)
		s.flags[owner] = byKey
	}
	byKey[key] = Flag{Owner: owner, Key: key, Value: value, UpdatedAt: s.now()}
	return nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Backend() string { return "memory" }

func (s *InMemoryStore) Close() error { return nil }
