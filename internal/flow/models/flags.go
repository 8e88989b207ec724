package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SystemFlags are operator-controlled switches. They may change between
// page loads of one flow.
type SystemFlags struct {
	SelfieEnabled   bool `json:"selfie_enabled" yaml:"selfie_enabled"`
	InPersonEnabled bool `json:"in_person_enabled" yaml:"in_person_enabled"`
	HybridEnabled   bool `json:"hybrid_enabled" yaml:"hybrid_enabled"`
	PassportEnabled bool `json:"passport_enabled" yaml:"passport_enabled"`
}

// RelyingParty is the requesting service's configuration, fixed at start.
type RelyingParty struct {
	SelfieRequired  bool `json:"selfie_required"`
	InPersonAllowed bool `json:"in_person_allowed"`
}

// Flags is the configuration snapshot a flow runs against.
type Flags struct {
	System       SystemFlags  `json:"system"`
	RelyingParty RelyingParty `json:"relying_party"`
}

// Fingerprint identifies a snapshot so checkpoints can detect changes.
func (f Flags) Fingerprint() string {
	canonical := fmt.Sprintf("selfie=%t;in_person=%t;hybrid=%t;passport=%t;rp_selfie=%t;rp_in_person=%t",
		f.System.SelfieEnabled,
		f.System.InPersonEnabled,
		f.System.HybridEnabled,
		f.System.PassportEnabled,
		f.RelyingParty.SelfieRequired,
		f.RelyingParty.InPersonAllowed,
	)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:8])
}

// OffersInPerson reports whether the in-person branch is available.
func (f Flags) OffersInPerson() bool {
	return f.System.InPersonEnabled && f.RelyingParty.InPersonAllowed
}

// OffersSelfie reports whether the liveness step is shown at all.
func (f Flags) OffersSelfie() bool {
	return f.System.SelfieEnabled
}

// SelfieMandatory reports whether the user may not decline the selfie.
func (f Flags) SelfieMandatory() bool {
	return f.System.SelfieEnabled && f.RelyingParty.SelfieRequired
}
