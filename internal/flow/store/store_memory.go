package store

import (
	"context"
	"sync"

	"idproof/internal/flow/models"
	id "idproof/pkg/domain"
	"idproof/pkg/platform/sentinel"
)

// InMemoryStore keeps encoded states so callers never share pointers.
type InMemoryStore struct {
	mu     sync.Mutex
	states map[id.UserID][]byte
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{states: make(map[id.UserID][]byte)}
}

func (s *InMemoryStore) Get(_ context.Context, userID id.UserID) (*models.State, error) {
	s.mu.Lock()
	raw, ok := s.states[userID]
	s.mu.Unlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return decode(raw)
}

func (s *InMemoryStore) Save(_ context.Context, state *models.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if raw, ok := s.states[state.UserID]; ok {
		stored, err := decode(raw)
		if err != nil {
			return err
		}
		current = stored.Version
	}
	if current != state.Version {
		return sentinel.ErrStale
	}
	next := *state
	next.Version++
	raw, err := encode(&next)
	if err != nil {
		return err
	}
	s.states[state.UserID] = raw
	state.Version = next.Version
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, userID id.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, userID)
	return nil
}
