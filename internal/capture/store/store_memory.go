package store

import (
	"context"
	"sync"

	"idproof/internal/capture/models"
	id "idproof/pkg/domain"
	"idproof/pkg/platform/sentinel"
)

// InMemoryStore keeps sessions in a map. Used in development and tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[id.CaptureSessionID]*models.CaptureSession
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[id.CaptureSessionID]*models.CaptureSession)}
}

func (s *InMemoryStore) Create(_ context.Context, session *models.CaptureSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return sentinel.ErrConflict
	}
	if session.Token != "" {
		for _, other := range s.sessions {
			if other.Vendor == session.Vendor && other.Token == session.Token {
				return sentinel.ErrConflict
			}
		}
	}
	for _, other := range s.sessions {
		if other.UserID == session.UserID && other.FlowID == session.FlowID && !other.Superseded {
			other.Superseded = true
			other.Version++
		}
	}
	session.Version = 1
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, sessionID id.CaptureSessionID) (*models.CaptureSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return session.Clone(), nil
}

func (s *InMemoryStore) FindByToken(_ context.Context, vendor, token string) (*models.CaptureSession, error) {
	if token == "" {
		return nil, sentinel.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.Vendor == vendor && session.Token == token {
			return session.Clone(), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) ActiveForFlow(_ context.Context, userID id.UserID, flowID id.FlowID) (*models.CaptureSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.UserID == userID && session.FlowID == flowID && !session.Superseded {
			return session.Clone(), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) Save(_ context.Context, session *models.CaptureSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[session.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != session.Version {
		return sentinel.ErrStale
	}
	if session.Token != "" && session.Token != current.Token {
		for otherID, other := range s.sessions {
			if otherID != session.ID && other.Vendor == session.Vendor && other.Token == session.Token {
				return sentinel.ErrConflict
			}
		}
	}
	session.Version++
	s.sessions[session.ID] = session.Clone()
	return nil
}
