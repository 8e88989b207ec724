package models

import (
	"strings"

	dErrors "idproof/pkg/domain-errors"
)

// Step names a page in the proofing flow.
type Step string

const (
	StepWelcome      Step = "welcome"
	StepConsent      Step = "consent"
	StepHowToVerify  Step = "how_to_verify"
	StepInPerson     Step = "in_person"
	StepHandoff      Step = "handoff"
	StepLinkSent     Step = "link_sent"
	StepIDType       Step = "id_type"
	StepSelfie       Step = "selfie"
	StepCapture      Step = "capture"
	StepCaptureWait  Step = "capture_wait"
	StepPersonalInfo Step = "personal_info"
	StepContact      Step = "contact"
	StepCredential   Step = "credential"
	StepComplete     Step = "complete"

	// Terminals. Failure is a vendor rejection budget, try_again_later an
	// outage budget and rate_limited the limiter.
	StepFailure       Step = "failure"
	StepTryAgainLater Step = "try_again_later"
	StepRateLimited   Step = "rate_limited"
)

var allSteps = map[Step]bool{
	StepWelcome: true, StepConsent: true, StepHowToVerify: true, StepInPerson: true,
	StepHandoff: true, StepLinkSent: true, StepIDType: true, StepSelfie: true,
	StepCapture: true, StepCaptureWait: true, StepPersonalInfo: true, StepContact: true,
	StepCredential: true, StepComplete: true,
	StepFailure: true, StepTryAgainLater: true, StepRateLimited: true,
}

// ParseStep validates a step name from a URL.
func ParseStep(s string) (Step, error) {
	step := Step(strings.TrimSpace(s))
	if !allSteps[step] {
		return "", dErrors.New(dErrors.CodeNotFound, "unknown step")
	}
	return step, nil
}

// Terminal reports whether the step ends the flow without completion.
func (s Step) Terminal() bool {
	return s == StepFailure || s == StepTryAgainLater || s == StepRateLimited
}

func (s Step) String() string {
	return string(s)
}
