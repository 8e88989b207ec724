package models

import (
	"strings"

	id "idproof/pkg/domain"
	dErrors "idproof/pkg/domain-errors"
)

// ResetRequest is the admin remediation body for POST /admin/ratelimit/reset.
type ResetRequest struct {
	UserID string `json:"user_id"`
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// Follows validation order: Size -> Required -> Syntax.
func (r *ResetRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	r.UserID = strings.TrimSpace(r.UserID)
	r.Action = strings.TrimSpace(r.Action)
	r.Reason = strings.TrimSpace(r.Reason)

	if len(r.Reason) > 500 {
		return dErrors.New(dErrors.CodeValidation, "reason must be 500 characters or less")
	}
	if r.UserID == "" {
		return dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	if r.Action == "" {
		return dErrors.New(dErrors.CodeValidation, "action is required")
	}
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	if _, err := id.ParseUserID(r.UserID); err != nil {
		return dErrors.New(dErrors.CodeValidation, "user_id must be a UUID")
	}
	if !Action(r.Action).IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown action")
	}
	return nil
}
