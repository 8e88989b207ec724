package models

import (
	captureModels "idproof/internal/capture/models"
	"idproof/internal/docauth"
	routingModels "idproof/internal/routing/models"
)

// View is what every flow operation returns: the step to render plus the
// data that step needs.
type View struct {
	FlowID     string `json:"flow_id"`
	Step       Step   `json:"step"`
	Redirected bool   `json:"redirected,omitempty"`
	// FlagsChanged tells the client the configuration moved under it.
	FlagsChanged      bool                     `json:"flags_changed,omitempty"`
	Vendor            string                   `json:"vendor,omitempty"`
	IDTypes           []docauth.IDType         `json:"id_types,omitempty"`
	Demotions         []routingModels.Demotion `json:"demotions,omitempty"`
	SelfieRequired    bool                     `json:"selfie_required,omitempty"`
	AttemptsRemaining int                      `json:"attempts_remaining"`
	Reasons           []string                 `json:"reasons,omitempty"`
	Capture           *captureModels.Status    `json:"capture,omitempty"`
	Fields            *docauth.Fields          `json:"fields,omitempty"`
	EnrollmentCode    string                   `json:"enrollment_code,omitempty"`
	CredentialID      string                   `json:"credential_id,omitempty"`
	// AccessToken is only set when a phone opens a hand-off link.
	AccessToken string `json:"access_token,omitempty"`
}
