// Package store persists capture sessions. Implementations return sentinel
// errors: ErrNotFound for missing rows and ErrStale when a Save loses a
// version race.
package store

import (
	"context"

	"idproof/internal/capture/models"
	id "idproof/pkg/domain"
)

// Store is the durable capture-session repository.
type Store interface {
	// Create inserts s and supersedes every other active session of the same
	// user and flow in one atomic step.
	Create(ctx context.Context, s *models.CaptureSession) error

	Get(ctx context.Context, sessionID id.CaptureSessionID) (*models.CaptureSession, error)

	// FindByToken looks a session up by vendor correlation token.
	FindByToken(ctx context.Context, vendor, token string) (*models.CaptureSession, error)

	// ActiveForFlow returns the non-superseded session for (user, flow).
	ActiveForFlow(ctx context.Context, userID id.UserID, flowID id.FlowID) (*models.CaptureSession, error)

	// Save writes s if the stored version still equals s.Version, then
	// increments s.Version.
	Save(ctx context.Context, s *models.CaptureSession) error
}
