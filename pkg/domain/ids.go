package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "idproof/pkg/domain-errors"
)

// Typed identifiers. Each wraps a UUID so that a capture session ID can never
// be passed where a user ID is expected.
type (
	UserID           uuid.UUID
	FlowID           uuid.UUID
	CaptureSessionID uuid.UUID
)

const maxIDLength = 36

func parseUUID(kind, s string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be empty")
	}
	if len(s) > maxIDLength {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be nil")
	}
	return u, nil
}

// ParseUserID parses an authenticated user's ID from external input.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID("user_id", s)
	return UserID(u), err
}

// ParseFlowID parses a flow instance ID.
func ParseFlowID(s string) (FlowID, error) {
	u, err := parseUUID("flow_id", s)
	return FlowID(u), err
}

// ParseCaptureSessionID parses a capture session ID.
func ParseCaptureSessionID(s string) (CaptureSessionID, error) {
	u, err := parseUUID("capture_session_id", s)
	return CaptureSessionID(u), err
}

func NewUserID() UserID                     { return UserID(uuid.New()) }
func NewFlowID() FlowID                     { return FlowID(uuid.New()) }
func NewCaptureSessionID() CaptureSessionID { return CaptureSessionID(uuid.New()) }

func (id UserID) String() string           { return uuid.UUID(id).String() }
func (id FlowID) String() string           { return uuid.UUID(id).String() }
func (id CaptureSessionID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool           { return uuid.UUID(id) == uuid.Nil }
func (id FlowID) IsNil() bool           { return uuid.UUID(id) == uuid.Nil }
func (id CaptureSessionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id UserID) MarshalText() ([]byte, error)           { return []byte(id.String()), nil }
func (id FlowID) MarshalText() ([]byte, error)           { return []byte(id.String()), nil }
func (id CaptureSessionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *UserID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = UserID(u)
	return nil
}

func (id *FlowID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = FlowID(u)
	return nil
}

func (id *CaptureSessionID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = CaptureSessionID(u)
	return nil
}
