package audit

import (
	"context"
	"time"

	id "idproof/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// apply different retention.
type EventCategory string

const (
	// CategoryCompliance covers verification outcomes that must be retained.
	CategoryCompliance EventCategory = "compliance"
	// CategorySecurity covers limiter denials, signature failures and admin resets.
	CategorySecurity EventCategory = "security"
	// CategoryOperations covers routine flow activity and vendor routing.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	UserID    id.UserID
	FlowID    id.FlowID
	Subject   string
	Action    string
	Vendor    string
	Decision  string
	Reason    string
	RequestID string
	// ActorID tracks who performed the action when different from UserID,
	// e.g. an operator resetting a rate limit.
	ActorID string
}

type AuditEvent string

const (
	// Flow events
	EventFlowStarted    AuditEvent = "idv_flow_started"
	EventFlowRestarted  AuditEvent = "idv_flow_restarted"
	EventStepCompleted  AuditEvent = "idv_step_completed"
	EventFlowCompleted  AuditEvent = "idv_flow_completed"
	EventFlowFailed     AuditEvent = "idv_flow_failed"
	EventFlagsChanged   AuditEvent = "idv_flags_changed"
	EventLinkSent       AuditEvent = "idv_link_sent"
	EventInPersonChosen AuditEvent = "idv_in_person_chosen"

	// Capture events
	EventCaptureSubmitted AuditEvent = "idv_capture_submitted"
	EventCaptureResult    AuditEvent = "idv_capture_result"
	EventCaptureRejected  AuditEvent = "idv_capture_rejected"
	EventCaptureTimedOut  AuditEvent = "idv_capture_timed_out"

	// Routing events
	EventVendorSelected AuditEvent = "idv_vendor_selected"
	EventVendorDemoted  AuditEvent = "idv_vendor_demoted"
	EventIDTypeRemoved  AuditEvent = "idv_id_type_removed"

	// Webhook events
	EventWebhookRejected AuditEvent = "idv_webhook_rejected"

	// Rate limit events
	EventRateLimitExceeded AuditEvent = "rate_limit_exceeded"
	EventRateLimitReset    AuditEvent = "rate_limit_reset"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventCaptureResult:    CategoryCompliance,
	EventFlowCompleted:    CategoryCompliance,
	EventFlowFailed:       CategoryCompliance,
	EventCaptureSubmitted: CategoryCompliance,

	EventWebhookRejected:   CategorySecurity,
	EventRateLimitExceeded: CategorySecurity,
	EventRateLimitReset:    CategorySecurity,
	EventFlagsChanged:      CategorySecurity,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByUser(ctx context.Context, userID id.UserID) ([]Event, error)
}
