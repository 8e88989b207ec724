package models

import (
	"strings"

	"idproof/internal/docauth"
	id "idproof/pkg/domain"
	dErrors "idproof/pkg/domain-errors"
)

// StartRequest is the body of POST /idv/flows and /idv/flows/restart.
type StartRequest struct {
	FlowType     string       `json:"flow_type"`
	RelyingParty RelyingParty `json:"relying_party"`
}

func (r *StartRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	r.FlowType = strings.TrimSpace(r.FlowType)
	if r.FlowType == "" {
		return nil
	}
	if _, err := id.ParseFlowType(r.FlowType); err != nil {
		return err
	}
	return nil
}

// StepAnswer is the body of POST /idv/steps/{step}. Each step reads only
// the fields it needs.
type StepAnswer struct {
	Agreed bool           `json:"agreed"`
	Method string         `json:"method"`
	Phone  string         `json:"phone"`
	Code   string         `json:"code"`
	IDType string         `json:"id_type"`
	OptIn  bool           `json:"opt_in"`
	Fields docauth.Fields `json:"fields"`
}

func (r *StepAnswer) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	r.Method = strings.TrimSpace(r.Method)
	r.Phone = strings.TrimSpace(r.Phone)
	r.Code = strings.TrimSpace(r.Code)
	r.IDType = strings.TrimSpace(r.IDType)
	if len(r.Phone) > 32 {
		return dErrors.New(dErrors.CodeValidation, "phone must be 32 characters or less")
	}
	if len(r.Code) > 16 {
		return dErrors.New(dErrors.CodeValidation, "code must be 16 characters or less")
	}
	return nil
}

// CaptureRequest is the body of POST /idv/capture. Images are base64 in
// JSON. All images are optional here; whether a submission needs them is up
// to the routed vendor's pre-check.
type CaptureRequest struct {
	Front    []byte `json:"front,omitempty"`
	Back     []byte `json:"back,omitempty"`
	Passport []byte `json:"passport,omitempty"`
	Selfie   []byte `json:"selfie,omitempty"`
	Locale   string `json:"locale,omitempty"`
}

func (r *CaptureRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	r.Locale = strings.TrimSpace(r.Locale)
	return nil
}

// Images converts the body for the adapter.
func (r *CaptureRequest) Images() docauth.Images {
	return docauth.Images{Front: r.Front, Back: r.Back, Passport: r.Passport, Selfie: r.Selfie}
}
