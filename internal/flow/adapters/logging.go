// Package adapters holds development implementations of the flow's
// black-box ports. They log instead of calling the SMS gateway, the OTP
// service, the profile store or the enrollment system.
package adapters

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"idproof/internal/docauth"
	id "idproof/pkg/domain"
	"idproof/pkg/requestcontext"
)

// maskPhone keeps the last four digits.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

type LinkSender struct {
	logger *slog.Logger
}

func NewLinkSender(logger *slog.Logger) *LinkSender {
	return &LinkSender{logger: logger}
}

// SendLink logs the link so a developer can open it by hand.
func (s *LinkSender) SendLink(ctx context.Context, userID id.UserID, phone, link string) error {
	s.logger.InfoContext(ctx, "hand-off link sent",
		"request_id", requestcontext.RequestID(ctx),
		"user_id", userID.String(),
		"phone", maskPhone(phone),
		"link", link,
	)
	return nil
}

// ContactVerifier accepts one fixed code.
type ContactVerifier struct {
	code   string
	logger *slog.Logger
}

func NewContactVerifier(code string, logger *slog.Logger) *ContactVerifier {
	return &ContactVerifier{code: code, logger: logger}
}

func (v *ContactVerifier) Confirm(ctx context.Context, userID id.UserID, phone, code string) (bool, error) {
	ok := v.code != "" && subtle.ConstantTimeCompare([]byte(code), []byte(v.code)) == 1
	v.logger.InfoContext(ctx, "phone confirmation checked",
		"request_id", requestcontext.RequestID(ctx),
		"user_id", userID.String(),
		"phone", maskPhone(phone),
		"confirmed", ok,
	)
	return ok, nil
}

type CredentialIssuer struct {
	logger *slog.Logger
}

func NewCredentialIssuer(logger *slog.Logger) *CredentialIssuer {
	return &CredentialIssuer{logger: logger}
}

// Issue mints a profile id. Personal data is never logged.
func (i *CredentialIssuer) Issue(ctx context.Context, userID id.UserID, fields docauth.Fields) (string, error) {
	credentialID := uuid.NewString()
	i.logger.InfoContext(ctx, "verified profile created",
		"request_id", requestcontext.RequestID(ctx),
		"user_id", userID.String(),
		"credential_id", credentialID,
		"issuing_state", fields.IssuingState,
	)
	return credentialID, nil
}

type InPersonEnroller struct {
	logger *slog.Logger
}

func NewInPersonEnroller(logger *slog.Logger) *InPersonEnroller {
	return &InPersonEnroller{logger: logger}
}

// Enroll returns a barcode-style enrollment code.
func (e *InPersonEnroller) Enroll(ctx context.Context, userID id.UserID, flowID id.FlowID) (string, error) {
	code := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
	e.logger.InfoContext(ctx, "in-person enrollment scheduled",
		"request_id", requestcontext.RequestID(ctx),
		"user_id", userID.String(),
		"flow_id", flowID.String(),
	)
	return code, nil
}
