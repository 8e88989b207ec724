package models

import (
	"strings"
	"time"

	id "idproof/pkg/domain"
	dErrors "idproof/pkg/domain-errors"
)

// Action names a rate-limited operation. Each action has its own budget.
type Action string

const (
	// ActionDocAuth covers document capture submissions to a vendor.
	ActionDocAuth Action = "idv_doc_auth"
	// ActionSendLink covers hybrid hand-off links sent by SMS.
	ActionSendLink Action = "idv_send_link"
	// ActionResolution covers personal-info verification attempts.
	ActionResolution Action = "idv_resolution"
	// ActionPhoneConfirmation covers contact OTP deliveries.
	ActionPhoneConfirmation Action = "phone_confirmation"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	a := Action(strings.TrimSpace(s))
	if a == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "action cannot be empty")
	}
	if !a.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown rate limit action")
	}
	return a, nil
}

func (a Action) IsValid() bool {
	switch a {
	case ActionDocAuth, ActionSendLink, ActionResolution, ActionPhoneConfirmation:
		return true
	}
	return false
}

func (a Action) String() string {
	return string(a)
}

// Limit is the budget for one action: at most MaxAttempts per Window, the
// window opening at the first attempt.
type Limit struct {
	MaxAttempts int
	Window      time.Duration
}

// Policy maps every action to its limit.
type Policy map[Action]Limit

// Counter is the stored state of one (user, action) pair.
type Counter struct {
	Count       int
	WindowStart time.Time
}

// ResetAt is when the counter logically expires.
func (c Counter) ResetAt(window time.Duration) time.Time {
	return c.WindowStart.Add(window)
}

// Expired reports whether the window has fully elapsed at now.
func (c Counter) Expired(now time.Time, window time.Duration) bool {
	return c.Count == 0 || !now.Before(c.ResetAt(window))
}

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// Key builds the store key for a (user, action) pair.
func Key(action Action, userID id.UserID) string {
	return "ratelimit:" + SanitizeKeySegment(string(action)) + ":" + SanitizeKeySegment(userID.String())
}

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// so a crafted identifier cannot address an adjacent bucket.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}
