package models

import (
	"slices"
	"time"

	"idproof/internal/docauth"
	routingModels "idproof/internal/routing/models"
	id "idproof/pkg/domain"
)

// Method is the user's answer on how_to_verify.
type Method string

const (
	MethodRemote   Method = "remote"
	MethodInPerson Method = "in_person"
)

// Handoff is the user's answer on the handoff step.
type Handoff string

const (
	HandoffDesktop Handoff = "desktop"
	HandoffHybrid  Handoff = "hybrid"
)

// Answers holds what the user has told the flow so far. Clearing a field
// un-completes its step.
type Answers struct {
	WelcomeAcknowledged bool    `json:"welcome_acknowledged,omitempty"`
	ConsentGiven        bool    `json:"consent_given,omitempty"`
	Method              Method  `json:"method,omitempty"`
	Handoff             Handoff `json:"handoff,omitempty"`
	HandoffPhone        string  `json:"handoff_phone,omitempty"`
	// LinkExpiresAt bounds an unopened hybrid link.
	LinkExpiresAt   *time.Time     `json:"link_expires_at,omitempty"`
	HandoffOpenedAt *time.Time     `json:"handoff_opened_at,omitempty"`
	IDType          docauth.IDType `json:"id_type,omitempty"`
	SelfieAnswered  bool           `json:"selfie_answered,omitempty"`
	SelfieOptIn     bool           `json:"selfie_opt_in,omitempty"`

	CaptureSessionID id.CaptureSessionID `json:"capture_session_id"`
	CapturePassed    bool                `json:"capture_passed,omitempty"`
	// LastReasons explains the previous failed attempt on the capture page.
	LastReasons []docauth.Reason `json:"last_reasons,omitempty"`
	Fields      *docauth.Fields  `json:"fields,omitempty"`

	PersonalInfoConfirmed bool   `json:"personal_info_confirmed,omitempty"`
	ContactPhone          string `json:"contact_phone,omitempty"`
	ContactVerified       bool   `json:"contact_verified,omitempty"`
	EnrollmentCode        string `json:"enrollment_code,omitempty"`
	CredentialID          string `json:"credential_id,omitempty"`
}

// State is the per-user StepState record.
type State struct {
	FlowID      id.FlowID              `json:"flow_id"`
	UserID      id.UserID              `json:"user_id"`
	FlowType    id.FlowType            `json:"flow_type"`
	Flags       Flags                  `json:"flags"`
	Fingerprint string                 `json:"fingerprint"`
	Routing     routingModels.Decision `json:"routing"`
	Answers     Answers                `json:"answers"`
	// Terminal pins the flow to a dead end until restart. A rate_limited
	// terminal lifts once RateLimitedAction has budget again.
	Terminal          Step   `json:"terminal,omitempty"`
	RateLimitedAction string `json:"rate_limited_action,omitempty"`
	// AttemptsRemaining is the capture budget left after the last submission.
	AttemptsRemaining int       `json:"attempts_remaining"`
	StartedAt         time.Time `json:"started_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	Version           int64     `json:"version"`
}

// NewState opens a flow with the given snapshot and routing decision.
func NewState(userID id.UserID, flowType id.FlowType, flags Flags, routing routingModels.Decision, attempts int, now time.Time) *State {
	return &State{
		FlowID:            id.NewFlowID(),
		UserID:            userID,
		FlowType:          flowType,
		Flags:             flags,
		Fingerprint:       flags.Fingerprint(),
		Routing:           routing,
		AttemptsRemaining: attempts,
		StartedAt:         now,
		UpdatedAt:         now,
	}
}

// ApplyFlags swaps in a fresh system snapshot. Returns false when nothing
// changed.
func (s *State) ApplyFlags(system SystemFlags) bool {
	next := Flags{System: system, RelyingParty: s.Flags.RelyingParty}
	fp := next.Fingerprint()
	if fp == s.Fingerprint {
		return false
	}
	s.Flags = next
	s.Fingerprint = fp
	return true
}

// OfferedIDTypes is the routing result narrowed by the current flags.
func (s *State) OfferedIDTypes() []docauth.IDType {
	out := make([]docauth.IDType, 0, len(s.Routing.IDTypes))
	for _, t := range s.Routing.IDTypes {
		if t == docauth.IDTypePassport && !s.Flags.System.PassportEnabled {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Offers reports whether t can be chosen right now.
func (s *State) Offers(t docauth.IDType) bool {
	return slices.Contains(s.OfferedIDTypes(), t)
}

// SelfieRequired reports whether capture must include a selfie.
func (s *State) SelfieRequired() bool {
	if !s.Flags.OffersSelfie() {
		return false
	}
	return s.Flags.SelfieMandatory() || s.Answers.SelfieOptIn
}

// HasCapture reports whether a capture attempt is in flight or decided.
func (s *State) HasCapture() bool {
	return !s.Answers.CaptureSessionID.IsNil()
}

// LinkExpired reports whether an unopened hybrid link has lapsed at now.
func (s *State) LinkExpired(now time.Time) bool {
	a := s.Answers
	return a.Handoff == HandoffHybrid && a.HandoffOpenedAt == nil &&
		a.LinkExpiresAt != nil && !now.Before(*a.LinkExpiresAt)
}
