// Package store persists StepState per user. Saves are compare-and-swap on
// Version so a polling tab and a phone never clobber each other.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"idproof/internal/flow/models"
	id "idproof/pkg/domain"
)

// Store returns sentinel.ErrNotFound for a user without a flow and
// sentinel.ErrStale when Save loses a race.
type Store interface {
	Get(ctx context.Context, userID id.UserID) (*models.State, error)
	// Save writes s if the stored version equals s.Version and bumps it.
	// Version zero means create.
	Save(ctx context.Context, s *models.State) error
	Delete(ctx context.Context, userID id.UserID) error
}

func encode(s *models.State) ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode step state: %w", err)
	}
	return raw, nil
}

func decode(raw []byte) (*models.State, error) {
	var s models.State
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode step state: %w", err)
	}
	return &s, nil
}
