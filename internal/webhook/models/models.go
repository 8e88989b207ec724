package models

import (
	"time"

	"idproof/internal/docauth"
)

// Outcome is what ingesting one event did.
type Outcome string

const (
	OutcomeApplied      Outcome = "applied"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeUnknownToken Outcome = "unknown_token"
	OutcomeSuperseded   Outcome = "superseded"
	OutcomeUnresolved   Outcome = "unresolved"
)

// Envelope is the re-broadcast form of an accepted event.
type Envelope struct {
	Vendor           string            `json:"vendor"`
	Token            string            `json:"token"`
	Kind             docauth.EventKind `json:"kind"`
	VendorType       string            `json:"vendor_type,omitempty"`
	OccurredAt       time.Time         `json:"occurred_at"`
	ReceivedAt       time.Time         `json:"received_at"`
	CaptureSessionID string            `json:"capture_session_id,omitempty"`
	Result           string            `json:"result,omitempty"`
	RequestID        string            `json:"request_id,omitempty"`
}

// Key partitions envelopes so one token's events stay ordered downstream.
func (e Envelope) Key() string {
	return e.Vendor + ":" + e.Token
}
