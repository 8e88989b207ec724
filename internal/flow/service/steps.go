package service

import (
	"context"
	"strings"
	"time"

	"idproof/internal/docauth"
	"idproof/internal/flow/models"
	rlModels "idproof/internal/ratelimit/models"
	id "idproof/pkg/domain"
	dErrors "idproof/pkg/domain-errors"
	"idproof/pkg/platform/audit"
	"idproof/pkg/requestcontext"
)

// SubmitWelcome acknowledges the welcome page.
func (s *Service) SubmitWelcome(ctx context.Context, userID id.UserID) (*models.View, error) {
	cp, redirect, err := s.enter(ctx, userID, models.StepWelcome)
	if err != nil || redirect != nil {
		return redirect, err
	}
	return s.complete(ctx, cp, models.StepWelcome, func(st *models.State) bool {
		changed := !st.Answers.WelcomeAcknowledged
		st.Answers.WelcomeAcknowledged = true
		return changed
	})
}

// SubmitConsent records the user's agreement to share their documents.
func (s *Service) SubmitConsent(ctx context.Context, userID id.UserID, agreed bool) (*models.View, error) {
	if !agreed {
		return nil, dErrors.New(dErrors.CodeValidation, "consent is required to continue")
	}
	cp, redirect, err := s.enter(ctx, userID, models.StepConsent)
	if err != nil || redirect != nil {
		return redirect, err
	}
	return s.complete(ctx, cp, models.StepConsent, func(st *models.State) bool {
		changed := !st.Answers.ConsentGiven
		st.Answers.ConsentGiven = true
		return changed
	})
}

// ChooseHowToVerify picks between remote document capture and an in-person
// visit.
func (s *Service) ChooseHowToVerify(ctx context.Context, userID id.UserID, method models.Method) (*models.View, error) {
	if method != models.MethodRemote && method != models.MethodInPerson {
		return nil, dErrors.New(dErrors.CodeValidation, "method must be 'remote' or 'in_person'")
	}
	cp, redirect, err := s.enter(ctx, userID, models.StepHowToVerify)
	if err != nil || redirect != nil {
		return redirect, err
	}
	v, err := s.complete(ctx, cp, models.StepHowToVerify, func(st *models.State) bool {
		changed := st.Answers.Method != method
		st.Answers.Method = method
		return changed
	})
	if err != nil {
		return nil, err
	}
	if method == models.MethodInPerson {
		audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventInPersonChosen,
			"user_id", userID.String(),
			"flow_id", cp.state.FlowID.String(),
		)
	}
	return v, nil
}

// EnrollInPerson schedules the in-person visit and ends the remote flow.
func (s *Service) EnrollInPerson(ctx context.Context, userID id.UserID) (*models.View, error) {
	cp, redirect, err := s.enter(ctx, userID, models.StepInPerson)
	if err != nil || redirect != nil {
		return redirect, err
	}
	code := cp.state.Answers.EnrollmentCode
	if code == "" {
		code, err = s.Enroller.Enroll(ctx, userID, cp.state.FlowID)
		if err != nil {
			return nil, unavailable(err, "in-person enrollment failed")
		}
	}
	v, err := s.complete(ctx, cp, models.StepInPerson, func(st *models.State) bool {
		changed := st.Answers.EnrollmentCode != code
		st.Answers.EnrollmentCode = code
		return changed
	})
	if err != nil {
		return nil, err
	}
	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventFlowCompleted,
		"user_id", userID.String(),
		"flow_id", cp.state.FlowID.String(),
		"decision", string(models.MethodInPerson),
	)
	return v, nil
}

// HandoffRequest is the answer on the hand-off step.
type HandoffRequest struct {
	Method models.Handoff
	Phone  string
}

// ChooseHandoff keeps capture on this device or texts a signed link to the
// user's phone. Each link sent is charged against idv_send_link.
func (s *Service) ChooseHandoff(ctx context.Context, userID id.UserID, req HandoffRequest) (*models.View, error) {
	switch req.Method {
	case models.HandoffDesktop:
	case models.HandoffHybrid:
		req.Phone = strings.TrimSpace(req.Phone)
		if req.Phone == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "phone is required to send a link")
		}
	default:
		return nil, dErrors.New(dErrors.CodeValidation, "method must be 'desktop' or 'hybrid'")
	}
	cp, redirect, err := s.enter(ctx, userID, models.StepHandoff)
	if err != nil || redirect != nil {
		return redirect, err
	}

	if req.Method == models.HandoffDesktop {
		return s.complete(ctx, cp, models.StepHandoff, func(st *models.State) bool {
			changed := st.Answers.Handoff != models.HandoffDesktop
			st.Answers.Handoff = models.HandoffDesktop
			st.Answers.HandoffPhone = ""
			st.Answers.LinkExpiresAt = nil
			st.Answers.HandoffOpenedAt = nil
			return changed
		})
	}

	_, limited, err := s.consume(ctx, cp, rlModels.ActionSendLink)
	if err != nil || limited != nil {
		return limited, err
	}
	token, err := s.Tokens.GenerateHandoffToken(userID, cp.state.FlowID, cp.now, s.cfg.HandoffLinkTTL)
	if err != nil {
		return nil, err
	}
	link := strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/idv/hybrid/" + token
	if err := s.Links.SendLink(ctx, userID, req.Phone, link); err != nil {
		return nil, unavailable(err, "failed to send hand-off link")
	}

	expires := cp.now.Add(s.cfg.HandoffLinkTTL)
	v, err := s.complete(ctx, cp, models.StepHandoff, func(st *models.State) bool {
		st.Answers.Handoff = models.HandoffHybrid
		st.Answers.HandoffPhone = req.Phone
		st.Answers.LinkExpiresAt = &expires
		st.Answers.HandoffOpenedAt = nil
		return true
	})
	if err != nil {
		return nil, err
	}
	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventLinkSent,
		"user_id", userID.String(),
		"flow_id", cp.state.FlowID.String(),
	)
	return v, nil
}

// ChooseIDType picks one of the document types offered to this flow.
func (s *Service) ChooseIDType(ctx context.Context, userID id.UserID, raw string) (*models.View, error) {
	idType, err := docauth.ParseIDType(raw)
	if err != nil {
		return nil, err
	}
	cp, redirect, err := s.enter(ctx, userID, models.StepIDType)
	if err != nil || redirect != nil {
		return redirect, err
	}
	if !cp.state.Offers(idType) {
		return nil, dErrors.New(dErrors.CodeValidation, "id type "+idType.String()+" is not offered")
	}
	return s.complete(ctx, cp, models.StepIDType, func(st *models.State) bool {
		changed := st.Answers.IDType != idType
		st.Answers.IDType = idType
		return changed
	})
}

// SubmitSelfieConsent records whether the user will take a selfie. When the
// relying party requires one, declining is not an option.
func (s *Service) SubmitSelfieConsent(ctx context.Context, userID id.UserID, optIn bool) (*models.View, error) {
	cp, redirect, err := s.enter(ctx, userID, models.StepSelfie)
	if err != nil || redirect != nil {
		return redirect, err
	}
	if !optIn && cp.state.Flags.SelfieMandatory() {
		return nil, dErrors.New(dErrors.CodeValidation, "a selfie is required for this verification")
	}
	return s.complete(ctx, cp, models.StepSelfie, func(st *models.State) bool {
		changed := !st.Answers.SelfieAnswered || st.Answers.SelfieOptIn != optIn
		st.Answers.SelfieAnswered = true
		st.Answers.SelfieOptIn = optIn
		return changed
	})
}

// ConfirmPersonalInfo accepts the extracted fields, with optional
// corrections, and charges one resolution attempt.
func (s *Service) ConfirmPersonalInfo(ctx context.Context, userID id.UserID, edits docauth.Fields) (*models.View, error) {
	cp, redirect, err := s.enter(ctx, userID, models.StepPersonalInfo)
	if err != nil || redirect != nil {
		return redirect, err
	}
	var fields docauth.Fields
	if cp.state.Answers.Fields != nil {
		fields = *cp.state.Answers.Fields
	}
	fields = mergeFields(fields, edits)
	if err := validateFields(fields); err != nil {
		return nil, err
	}

	_, limited, err := s.consume(ctx, cp, rlModels.ActionResolution)
	if err != nil || limited != nil {
		return limited, err
	}
	return s.complete(ctx, cp, models.StepPersonalInfo, func(st *models.State) bool {
		st.Answers.Fields = &fields
		st.Answers.PersonalInfoConfirmed = true
		return true
	})
}

// ContactRequest is the phone confirmation answer.
type ContactRequest struct {
	Phone string
	Code  string
}

// VerifyContact checks the one-time code sent to the user's phone.
func (s *Service) VerifyContact(ctx context.Context, userID id.UserID, req ContactRequest) (*models.View, error) {
	req.Phone = strings.TrimSpace(req.Phone)
	req.Code = strings.TrimSpace(req.Code)
	if req.Phone == "" || req.Code == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "phone and code are required")
	}
	cp, redirect, err := s.enter(ctx, userID, models.StepContact)
	if err != nil || redirect != nil {
		return redirect, err
	}
	_, limited, err := s.consume(ctx, cp, rlModels.ActionPhoneConfirmation)
	if err != nil || limited != nil {
		return limited, err
	}
	ok, err := s.Contacts.Confirm(ctx, userID, req.Phone, req.Code)
	if err != nil {
		return nil, unavailable(err, "phone confirmation failed")
	}
	if !ok {
		return nil, dErrors.New(dErrors.CodeValidation, "confirmation code is incorrect")
	}
	return s.complete(ctx, cp, models.StepContact, func(st *models.State) bool {
		changed := !st.Answers.ContactVerified || st.Answers.ContactPhone != req.Phone
		st.Answers.ContactPhone = req.Phone
		st.Answers.ContactVerified = true
		return changed
	})
}

// IssueCredential creates the verified profile from the confirmed fields.
func (s *Service) IssueCredential(ctx context.Context, userID id.UserID) (*models.View, error) {
	cp, redirect, err := s.enter(ctx, userID, models.StepCredential)
	if err != nil || redirect != nil {
		return redirect, err
	}
	credentialID := cp.state.Answers.CredentialID
	if credentialID == "" {
		var fields docauth.Fields
		if cp.state.Answers.Fields != nil {
			fields = *cp.state.Answers.Fields
		}
		credentialID, err = s.Issuer.Issue(ctx, userID, fields)
		if err != nil {
			return nil, unavailable(err, "failed to issue credential")
		}
	}
	v, err := s.complete(ctx, cp, models.StepCredential, func(st *models.State) bool {
		changed := st.Answers.CredentialID != credentialID
		st.Answers.CredentialID = credentialID
		return changed
	})
	if err != nil {
		return nil, err
	}
	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventFlowCompleted,
		"user_id", userID.String(),
		"flow_id", cp.state.FlowID.String(),
		"vendor", cp.state.Routing.Vendor,
		"decision", string(models.MethodRemote),
	)
	s.logger.InfoContext(ctx, "verification complete",
		"request_id", requestcontext.RequestID(ctx),
		"flow_id", cp.state.FlowID.String(),
		"elapsed", cp.now.Sub(cp.state.StartedAt).String(),
	)
	return v, nil
}

// mergeFields overlays non-empty edits.
func mergeFields(base, edits docauth.Fields) docauth.Fields {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&base.FirstName, edits.FirstName)
	set(&base.MiddleName, edits.MiddleName)
	set(&base.LastName, edits.LastName)
	set(&base.DOB, edits.DOB)
	set(&base.Address1, edits.Address1)
	set(&base.Address2, edits.Address2)
	set(&base.City, edits.City)
	set(&base.State, edits.State)
	set(&base.ZIPCode, edits.ZIPCode)
	return base
}

func validateFields(f docauth.Fields) error {
	if f.FirstName == "" || f.LastName == "" {
		return dErrors.New(dErrors.CodeValidation, "first and last name are required")
	}
	if f.DOB == "" {
		return dErrors.New(dErrors.CodeValidation, "date of birth is required")
	}
	if _, err := time.Parse(time.DateOnly, f.DOB); err != nil {
		return dErrors.New(dErrors.CodeValidation, "date of birth must be YYYY-MM-DD")
	}
	return nil
}
