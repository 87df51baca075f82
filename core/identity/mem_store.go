package identity

import (
	"context"
	"sync"
)

// MemStore is the in-process Store used when no Redis URL is configured.
type MemStore struct {
	mu    sync.Mutex
	byKey map[string]*Identity
}

// NewMemStore constructs an empty in-memory identity store.
func NewMemStore() *MemStore {
	return &MemStore{byKey: make(map[string]*Identity)}
}

func (s *MemStore) Resolve(_ context.Context, apiKey string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.byKey[apiKey]
	if !ok {
		return Identity{}, ErrUnknownKey
	}
	return *ident, nil
}

func (s *MemStore) Put(_ context.Context, ident Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := ident
	s.byKey[ident.APIKey] = &stored
	return nil
}

// Reserve increments monthly usage unless the ceiling is reached. The compare
// and increment happen under one lock so concurrent submissions at the
// boundary admit exactly as many as the ceiling allows.
func (s *MemStore) Reserve(_ context.Context, apiKey string, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.byKey[apiKey]
	if !ok {
		return 0, ErrUnknownKey
	}
	if limit != Unlimited && ident.TasksUsedThisMonth >= limit {
		return ident.TasksUsedThisMonth, ErrLimitReached
	}
	ident.TasksUsedThisMonth++
	return ident.TasksUsedThisMonth, nil
}

func (s *MemStore) Release(_ context.Context, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.byKey[apiKey]
	if !ok {
		return ErrUnknownKey
	}
	if ident.TasksUsedThisMonth > 0 {
		ident.TasksUsedThisMonth--
	}
	return nil
}

func (s *MemStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey), nil
}

func (s *MemStore) Close() error {
	return nil
}
