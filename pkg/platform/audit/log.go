package audit

import (
	"context"
	"log/slog"

	"idproof/pkg/attrs"
	id "idproof/pkg/domain"
	"idproof/pkg/requestcontext"
)

// Emitter is the narrow publisher surface services depend on.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// LogAudit writes an audit line to the structured logger and emits the same
// event to the publisher. Attributes named user_id, flow_id, vendor, decision
// and reason are lifted onto the event.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher Emitter, event AuditEvent, attrList ...any) {
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		attrList = append(attrList, "request_id", requestID)
	}

	args := append(attrList, "event", string(event), "log_type", "audit")
	if logger != nil {
		logger.InfoContext(ctx, string(event), args...)
	}

	if publisher == nil {
		return
	}

	ev := Event{
		Category:  event.Category(),
		Timestamp: requestcontext.Now(ctx),
		Action:    string(event),
		Subject:   attrs.ExtractString(attrList, "subject"),
		Vendor:    attrs.ExtractString(attrList, "vendor"),
		Decision:  attrs.ExtractString(attrList, "decision"),
		Reason:    attrs.ExtractString(attrList, "reason"),
		ActorID:   attrs.ExtractString(attrList, "actor_id"),
		RequestID: requestID,
	}
	if userID, err := id.ParseUserID(attrs.ExtractString(attrList, "user_id")); err == nil {
		ev.UserID = userID
	}
	if flowID, err := id.ParseFlowID(attrs.ExtractString(attrList, "flow_id")); err == nil {
		ev.FlowID = flowID
	}
	if ev.Subject == "" {
		ev.Subject = ev.UserID.String()
	}
	if err := publisher.Emit(ctx, ev); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", string(event), "error", err)
	}
}
