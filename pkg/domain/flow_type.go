package domain

import dErrors "idproof/pkg/domain-errors"

// FlowType identifies which proofing flow a relying party asked for.
// Invariant: the value must be one of the supported flow types.
//
// Usage: construct via ParseFlowType at trust boundaries; direct casting
// bypasses validation. The flow type participates in vendor bucketing, so two
// flows for the same user may land on different vendors.
type FlowType string

const (
	FlowTypeIDV          FlowType = "idv"
	FlowTypeIDVBiometric FlowType = "idv_biometric"
)

var validFlowTypes = map[FlowType]bool{
	FlowTypeIDV:          true,
	FlowTypeIDVBiometric: true,
}

// ParseFlowType constructs a FlowType from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseFlowType(s string) (FlowType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "flow_type cannot be empty")
	}
	f := FlowType(s)
	if !f.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid flow_type")
	}
	return f, nil
}

// IsValid checks if the flow type is one of the supported enum values.
func (f FlowType) IsValid() bool {
	return validFlowTypes[f]
}

// String returns the string representation of the flow type.
func (f FlowType) String() string {
	return string(f)
}
