// Package docauth defines the normalized document-verification vocabulary
// (verdicts, reason taxonomy, webhook events) and the Adapter boundary every
// vendor integration implements. Vendor-specific strings never leave an
// adapter; callers only see the types in this file.
package docauth

import (
	"time"

	id "idproof/pkg/domain"
	dErrors "idproof/pkg/domain-errors"
	pstrings "idproof/pkg/platform/strings"
)

// IDType is the kind of identity document being captured.
type IDType string

const (
	IDTypeStateID  IDType = "state_id"
	IDTypePassport IDType = "passport"
)

// ParseIDType validates an id type string.
func ParseIDType(s string) (IDType, error) {
	t := IDType(s)
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "id_type must be 'state_id' or 'passport'")
	}
	return t, nil
}

func (t IDType) IsValid() bool {
	return t == IDTypeStateID || t == IDTypePassport
}

func (t IDType) String() string {
	return string(t)
}

// Mode is how an adapter returns its verdict.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// Result is the normalized outcome of one verification attempt.
type Result string

const (
	ResultPending Result = "pending"
	ResultPass    Result = "pass"
	ResultFail    Result = "fail"
	ResultError   Result = "error"
)

// Terminal reports whether no further vendor updates are expected.
func (r Result) Terminal() bool {
	return r == ResultPass || r == ResultFail || r == ResultError
}

// Reason is the fixed taxonomy vendor codes are mapped into.
type Reason string

const (
	ReasonUnreadable        Reason = "unreadable"
	ReasonUnsupportedIDType Reason = "unsupported_id_type"
	ReasonExpired           Reason = "expired"
	ReasonLowResolution     Reason = "low_resolution"
	ReasonUnderage          Reason = "underage"
	ReasonNotFound          Reason = "not_found"
	ReasonSelfieMismatch    Reason = "selfie_mismatch"

	// Error reasons: the vendor could not evaluate the attempt.
	ReasonVendorUnavailable Reason = "vendor_unavailable"
	ReasonTimeout           Reason = "timeout"
)

var knownReasons = map[Reason]struct{}{
	ReasonUnreadable: {}, ReasonUnsupportedIDType: {}, ReasonExpired: {}, ReasonLowResolution: {},
	ReasonUnderage: {}, ReasonNotFound: {}, ReasonSelfieMismatch: {}, ReasonVendorUnavailable: {}, ReasonTimeout: {},
}

// ParseReasons normalizes stored or transmitted reason strings, dropping
// blanks, duplicates and anything outside the taxonomy.
func ParseReasons(raw []string) []Reason {
	cleaned := pstrings.FoldedCodes(raw)
	out := make([]Reason, 0, len(cleaned))
	for _, r := range cleaned {
		if _, ok := knownReasons[Reason(r)]; ok {
			out = append(out, Reason(r))
		}
	}
	return out
}

// ReasonStrings is the inverse of ParseReasons.
func ReasonStrings(reasons []Reason) []string {
	out := make([]string, len(reasons))
	for i, r := range reasons {
		out[i] = string(r)
	}
	return out
}

// Fields are the personal data extracted from the document.
type Fields struct {
	FirstName      string `json:"first_name,omitempty"`
	MiddleName     string `json:"middle_name,omitempty"`
	LastName       string `json:"last_name,omitempty"`
	DOB            string `json:"dob,omitempty"`
	Address1       string `json:"address1,omitempty"`
	Address2       string `json:"address2,omitempty"`
	City           string `json:"city,omitempty"`
	State          string `json:"state,omitempty"`
	ZIPCode        string `json:"zipcode,omitempty"`
	DocumentNumber string `json:"document_number,omitempty"`
	IssuingState   string `json:"issuing_state,omitempty"`
	ExpirationDate string `json:"expiration_date,omitempty"`
}

// Verdict is the normalized vendor result.
type Verdict struct {
	Result      Result
	Reasons     []Reason
	Fields      *Fields
	VendorCodes []string
	// Transport marks an error verdict produced because the vendor could not
	// be reached, as opposed to the vendor rejecting the document.
	Transport bool
}

// PassVerdict builds a passing verdict.
func PassVerdict(fields *Fields, codes ...string) Verdict {
	return Verdict{Result: ResultPass, Fields: fields, VendorCodes: codes}
}

// FailVerdict builds a vendor rejection. An empty reason list becomes
// unreadable so callers always have something to show.
func FailVerdict(reasons []Reason, codes ...string) Verdict {
	if len(reasons) == 0 {
		reasons = []Reason{ReasonUnreadable}
	}
	return Verdict{Result: ResultFail, Reasons: reasons, VendorCodes: codes}
}

// TransportErrorVerdict builds the verdict for an unreachable vendor.
func TransportErrorVerdict(reason Reason, codes ...string) Verdict {
	return Verdict{Result: ResultError, Reasons: []Reason{reason}, VendorCodes: codes, Transport: true}
}

// PendingToken correlates an in-flight asynchronous verification.
type PendingToken struct {
	Token         string
	CaptureAppURL string
}

// Submission is either an immediate Verdict or a PendingToken.
type Submission struct {
	Verdict *Verdict
	Pending *PendingToken
}

// Images carries raw capture blobs. Passport captures use Passport; state
// IDs use Front and Back.
type Images struct {
	Front    []byte
	Back     []byte
	Passport []byte
	Selfie   []byte
}

// Metadata accompanies a submission.
type Metadata struct {
	UserID           id.UserID
	CaptureSessionID id.CaptureSessionID
	IDType           IDType
	SelfieRequired   bool
	Locale           string
	CallbackURL      string
}

// EventKind is the normalized webhook event type.
type EventKind string

const (
	EventFrontUploaded   EventKind = "front_uploaded"
	EventBackUploaded    EventKind = "back_uploaded"
	EventSessionOpened   EventKind = "session_opened"
	EventSessionExpired  EventKind = "session_expired"
	EventCaptureComplete EventKind = "capture_complete"
	EventError           EventKind = "error"
)

// Terminal reports whether the event ends the capture-app session.
func (k EventKind) Terminal() bool {
	return k == EventSessionExpired || k == EventCaptureComplete || k == EventError
}

// WebhookEvent is one normalized vendor callback.
type WebhookEvent struct {
	Token      string
	Kind       EventKind
	VendorType string
	OccurredAt time.Time
	// CaptureAppURL is set on session_opened when the vendor issues a fresh link.
	CaptureAppURL string
	// Verdict is set on capture_complete when the vendor pushes the decision
	// inline, and on error.
	Verdict *Verdict
}
