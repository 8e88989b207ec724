package models

import (
	"slices"
	"time"

	"idproof/internal/docauth"
	id "idproof/pkg/domain"
)

// CaptureSession is one attempt at vendor document verification. At most one
// non-superseded session exists per (user, flow).
type CaptureSession struct {
	ID             id.CaptureSessionID
	UserID         id.UserID
	FlowID         id.FlowID
	IDType         docauth.IDType
	SelfieRequired bool
	Vendor         string

	// Token correlates an asynchronous verification. Empty for sync vendors.
	Token string

	// CaptureAppURL is the vendor capture link, cleared when the vendor
	// session ends. CaptureAppURLAt is the event time that last set it.
	CaptureAppURL   string
	CaptureAppURLAt *time.Time

	RequestedAt time.Time
	ReceivedAt  *time.Time
	CompletedAt *time.Time

	Result      docauth.Result
	Reasons     []docauth.Reason
	VendorCodes []string
	Fields      *docauth.Fields
	// TransportError marks an error result caused by an unreachable vendor.
	TransportError bool

	// ProcessedEvents holds the webhook event kinds already applied.
	ProcessedEvents []string
	Superseded      bool

	Version int64
}

// NewPending starts a session waiting on the vendor.
func NewPending(userID id.UserID, flowID id.FlowID, idType docauth.IDType, selfie bool, vendor string, now time.Time) *CaptureSession {
	return &CaptureSession{
		ID:             id.NewCaptureSessionID(),
		UserID:         userID,
		FlowID:         flowID,
		IDType:         idType,
		SelfieRequired: selfie,
		Vendor:         vendor,
		RequestedAt:    now,
		Result:         docauth.ResultPending,
	}
}

func (s *CaptureSession) IsPending() bool {
	return s.Result == docauth.ResultPending
}

// Active reports whether the session may still change state.
func (s *CaptureSession) Active() bool {
	return !s.Superseded
}

// AttachPending records the vendor token and capture-app link.
func (s *CaptureSession) AttachPending(p docauth.PendingToken, now time.Time) {
	s.Token = p.Token
	if p.CaptureAppURL != "" {
		s.CaptureAppURL = p.CaptureAppURL
		s.CaptureAppURLAt = &now
	}
}

// ApplyVerdict records a vendor result. Pending verdicts only mark receipt;
// a terminal verdict is never overwritten.
func (s *CaptureSession) ApplyVerdict(v docauth.Verdict, now time.Time) bool {
	if !s.IsPending() {
		return false
	}
	if s.ReceivedAt == nil {
		s.ReceivedAt = &now
	}
	if !v.Result.Terminal() {
		return false
	}
	s.Result = v.Result
	s.Reasons = slices.Clone(v.Reasons)
	s.VendorCodes = slices.Clone(v.VendorCodes)
	s.Fields = v.Fields
	s.TransportError = v.Transport
	s.CompletedAt = &now
	s.clearCaptureApp()
	return true
}

// Expire turns an overdue pending session into a timeout error.
func (s *CaptureSession) Expire(now time.Time, timeout time.Duration) bool {
	if !s.IsPending() || timeout <= 0 || now.Sub(s.RequestedAt) < timeout {
		return false
	}
	return s.ApplyVerdict(docauth.TransportErrorVerdict(docauth.ReasonTimeout, "capture_timeout"), now)
}

// HasProcessed reports whether the event kind was already applied.
func (s *CaptureSession) HasProcessed(kind docauth.EventKind) bool {
	return slices.Contains(s.ProcessedEvents, string(kind))
}

// MarkProcessed records kind so replays become no-ops.
func (s *CaptureSession) MarkProcessed(kind docauth.EventKind) {
	if !s.HasProcessed(kind) {
		s.ProcessedEvents = append(s.ProcessedEvents, string(kind))
	}
}

// RefreshCaptureApp sets the link if the session is still pending and at is
// not older than the last link change.
func (s *CaptureSession) RefreshCaptureApp(url string, at time.Time) bool {
	if url == "" || !s.IsPending() {
		return false
	}
	if s.CaptureAppURLAt != nil && at.Before(*s.CaptureAppURLAt) {
		return false
	}
	s.CaptureAppURL = url
	s.CaptureAppURLAt = &at
	return true
}

// ClearCaptureApp drops the link when the vendor session ends at at. The
// clear time is kept so a late, older open cannot restore the link.
func (s *CaptureSession) ClearCaptureApp(at time.Time) bool {
	if s.CaptureAppURLAt != nil && !at.After(*s.CaptureAppURLAt) {
		return false
	}
	s.CaptureAppURL = ""
	s.CaptureAppURLAt = &at
	return true
}

func (s *CaptureSession) clearCaptureApp() {
	s.CaptureAppURL = ""
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (s *CaptureSession) Clone() *CaptureSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Reasons = slices.Clone(s.Reasons)
	c.VendorCodes = slices.Clone(s.VendorCodes)
	c.ProcessedEvents = slices.Clone(s.ProcessedEvents)
	if s.Fields != nil {
		f := *s.Fields
		c.Fields = &f
	}
	c.CaptureAppURLAt = cloneTime(s.CaptureAppURLAt)
	c.ReceivedAt = cloneTime(s.ReceivedAt)
	c.CompletedAt = cloneTime(s.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Status is the poll-facing view of a session.
type Status struct {
	ID            string   `json:"id"`
	Result        string   `json:"result"`
	Reasons       []string `json:"reasons,omitempty"`
	CaptureAppURL string   `json:"capture_app_url,omitempty"`
	Vendor        string   `json:"vendor"`
	IDType        string   `json:"id_type"`
	RequestedAt   string   `json:"requested_at"`
	CompletedAt   string   `json:"completed_at,omitempty"`
}

func (s *CaptureSession) Status() Status {
	st := Status{
		ID:            s.ID.String(),
		Result:        string(s.Result),
		Reasons:       docauth.ReasonStrings(s.Reasons),
		CaptureAppURL: s.CaptureAppURL,
		Vendor:        s.Vendor,
		IDType:        s.IDType.String(),
		RequestedAt:   s.RequestedAt.UTC().Format(time.RFC3339),
	}
	if s.CompletedAt != nil {
		st.CompletedAt = s.CompletedAt.UTC().Format(time.RFC3339)
	}
	return st
}
