// Package graph is the step graph of the proofing flow. Everything here is a
// pure function of the StepState, the flag snapshot and the clock.
package graph

import (
	"time"

	"idproof/internal/flow/models"
	id "idproof/pkg/domain"
)

// node describes one step: when it is on the path, when it is satisfied and
// how to forget its answer.
type node struct {
	step    models.Step
	applies func(s *models.State, f models.Flags) bool
	done    func(s *models.State, f models.Flags, now time.Time) bool
	undo    func(s *models.State)
}

var order = []node{
	{
		step:    models.StepWelcome,
		applies: always,
		done: func(s *models.State, _ models.Flags, _ time.Time) bool {
			return s.Answers.WelcomeAcknowledged
		},
		undo: func(s *models.State) { s.Answers.WelcomeAcknowledged = false },
	},
	{
		step:    models.StepConsent,
		applies: always,
		done: func(s *models.State, _ models.Flags, _ time.Time) bool {
			return s.Answers.ConsentGiven
		},
		undo: func(s *models.State) { s.Answers.ConsentGiven = false },
	},
	{
		step: models.StepHowToVerify,
		applies: func(_ *models.State, f models.Flags) bool {
			return f.OffersInPerson()
		},
		done: func(s *models.State, _ models.Flags, _ time.Time) bool {
			return s.Answers.Method != ""
		},
		undo: func(s *models.State) { s.Answers.Method = "" },
	},
	{
		step:    models.StepInPerson,
		applies: inPerson,
		done: func(s *models.State, _ models.Flags, _ time.Time) bool {
			return s.Answers.EnrollmentCode != ""
		},
		undo: func(s *models.State) { s.Answers.EnrollmentCode = "" },
	},
	{
		step: models.StepHandoff,
		applies: func(s *models.State, f models.Flags) bool {
			return remote(s, f) && f.System.HybridEnabled
		},
		done: func(s *models.State, _ models.Flags, now time.Time) bool {
			return s.Answers.Handoff != "" && !s.LinkExpired(now)
		},
		undo: func(s *models.State) {
			s.Answers.Handoff = ""
			s.Answers.HandoffPhone = ""
			s.Answers.LinkExpiresAt = nil
			s.Answers.HandoffOpenedAt = nil
		},
	},
	{
		step: models.StepLinkSent,
		applies: func(s *models.State, f models.Flags) bool {
			return remote(s, f) && f.System.HybridEnabled && s.Answers.Handoff == models.HandoffHybrid
		},
		done: func(s *models.State, _ models.Flags, _ time.Time) bool {
			return s.Answers.HandoffOpenedAt != nil
		},
		undo: func(s *models.State) { s.Answers.HandoffOpenedAt = nil },
	},
	{
		step:    models.StepIDType,
		applies: remote,
		done: func(s *models.State, _ models.Flags, _ time.Time) bool {
			return s.Answers.IDType != "" && s.Offers(s.Answers.IDType)
		},
		undo: func(s *models.State) { s.Answers.IDType = "" },
	},
	{
		step: models.StepSelfie,
		applies: func(s *models.State, f models.Flags) bool {
			return remote(s, f) && f.OffersSelfie()
		},
		done: func(s *models.State, f models.Flags, _ time.Time) bool {
			return s.Answers.SelfieAnswered && (s.Answers.SelfieOptIn || !f.SelfieMandatory())
		},
		undo: func(s *models.State) {
			s.Answers.SelfieAnswered = false
			s.Answers.SelfieOptIn = false
		},
	},
	{
		step:    models.StepCapture,
		applies: remote,
		done: func(s *models.State, _ models.Flags, _ time.Time) bool {
			return s.HasCapture()
		},
		undo: func(s *models.State) {
			s.Answers.CaptureSessionID = id.CaptureSessionID{}
			s.Answers.LastReasons = nil
		},
	},
	{
		step:    models.StepCaptureWait,
		applies: remote,
		done: func(s *models.State, _ models.Flags, _ time.Time) bool {
			return s.Answers.CapturePassed
		},
		undo: func(s *models.State) {
			s.Answers.CapturePassed = false
			s.Answers.Fields = nil
		},
	},
	{
		step:    models.StepPersonalInfo,
		applies: remote,
		done: func(s *models.State, _ models.Flags, _ time.Time) bool {
			return s.Answers.PersonalInfoConfirmed
		},
		undo: func(s *models.State) { s.Answers.PersonalInfoConfirmed = false },
	},
	{
		step:    models.StepContact,
		applies: remote,
		done: func(s *models.State, _ models.Flags, _ time.Time) bool {
			return s.Answers.ContactVerified
		},
		undo: func(s *models.State) {
			s.Answers.ContactVerified = false
			s.Answers.ContactPhone = ""
		},
	},
	{
		step:    models.StepCredential,
		applies: remote,
		done: func(s *models.State, _ models.Flags, _ time.Time) bool {
			return s.Answers.CredentialID != ""
		},
		undo: func(s *models.State) { s.Answers.CredentialID = "" },
	},
	{
		step:    models.StepComplete,
		applies: always,
		done:    func(*models.State, models.Flags, time.Time) bool { return false },
		undo:    func(*models.State) {},
	},
}

var index = func() map[models.Step]int {
	m := make(map[models.Step]int, len(order))
	for i, n := range order {
		m[n.step] = i
	}
	return m
}()

func always(*models.State, models.Flags) bool { return true }

func inPerson(s *models.State, f models.Flags) bool {
	return f.OffersInPerson() && s.Answers.Method == models.MethodInPerson
}

func remote(s *models.State, f models.Flags) bool {
	return !inPerson(s, f)
}

// NextStep is the first applicable step that is not yet satisfied, or the
// pinned terminal.
func NextStep(s *models.State, f models.Flags, now time.Time) models.Step {
	if s.Terminal != "" {
		return s.Terminal
	}
	for _, n := range order {
		if n.applies(s, f) && !n.done(s, f, now) {
			return n.step
		}
	}
	return models.StepComplete
}

// Resolve decides what to render for a requested step. Steps at or before
// NextStep are reachable (back-navigation); anything past it, off the
// current path or terminal redirects to NextStep.
func Resolve(requested models.Step, s *models.State, f models.Flags, now time.Time) (models.Step, bool) {
	next := NextStep(s, f, now)
	if s.Terminal != "" || requested.Terminal() {
		return next, requested != next
	}
	i, ok := index[requested]
	if !ok || !order[i].applies(s, f) {
		return next, true
	}
	if i > index[next] {
		return next, true
	}
	return requested, false
}

// Applies reports whether step is on the current path.
func Applies(step models.Step, s *models.State, f models.Flags) bool {
	i, ok := index[step]
	return ok && order[i].applies(s, f)
}

// ClearAfter forgets the answers of every step after step, so editing an
// earlier answer re-walks the rest of the flow.
func ClearAfter(step models.Step, s *models.State) {
	i, ok := index[step]
	if !ok {
		return
	}
	for _, n := range order[i+1:] {
		n.undo(s)
	}
}

// Path lists the applicable non-terminal steps in order.
func Path(s *models.State, f models.Flags) []models.Step {
	out := make([]models.Step, 0, len(order))
	for _, n := range order {
		if n.applies(s, f) {
			out = append(out, n.step)
		}
	}
	return out
}
