// Package ports declares the black-box collaborators the flow calls out to.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks LinkSender,ContactVerifier,CredentialIssuer,InPersonEnroller

import (
	"context"

	"idproof/internal/docauth"
	id "idproof/pkg/domain"
)

// LinkSender delivers the hybrid hand-off link by SMS.
type LinkSender interface {
	SendLink(ctx context.Context, userID id.UserID, phone, link string) error
}

// ContactVerifier checks a one-time code sent to the user's phone.
type ContactVerifier interface {
	Confirm(ctx context.Context, userID id.UserID, phone, code string) (bool, error)
}

// CredentialIssuer creates the verified profile. Returns its identifier.
type CredentialIssuer interface {
	Issue(ctx context.Context, userID id.UserID, fields docauth.Fields) (string, error)
}

// InPersonEnroller schedules a post office visit. Returns the enrollment code.
type InPersonEnroller interface {
	Enroll(ctx context.Context, userID id.UserID, flowID id.FlowID) (string, error)
}
