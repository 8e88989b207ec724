package docauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorCategory classifies vendor transport failures.
type ErrorCategory string

const (
	// ErrorTimeout indicates the vendor took too long to respond
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorOutage indicates the vendor could not be reached or returned 5xx
	ErrorOutage ErrorCategory = "outage"

	// ErrorBadData indicates the vendor returned a body we could not decode
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorAuthentication indicates rejected credentials
	ErrorAuthentication ErrorCategory = "authentication"

	// ErrorRateLimited indicates the vendor throttled us
	ErrorRateLimited ErrorCategory = "rate_limited"
)

// TransportError wraps a vendor call failure with a normalized category.
type TransportError struct {
	Category   ErrorCategory
	Vendor     string
	StatusCode int
	Underlying error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("vendor %s [%s]: http %d", e.Vendor, e.Category, e.StatusCode)
	}
	if e.Underlying != nil {
		return fmt.Sprintf("vendor %s [%s]: %v", e.Vendor, e.Category, e.Underlying)
	}
	return fmt.Sprintf("vendor %s [%s]", e.Vendor, e.Category)
}

func (e *TransportError) Unwrap() error {
	return e.Underlying
}

// Reason maps the category onto the verdict reason taxonomy.
func (e *TransportError) Reason() Reason {
	if e.Category == ErrorTimeout {
		return ReasonTimeout
	}
	return ReasonVendorUnavailable
}

// NewTransportError classifies err (from an http.Client call) for vendor.
func NewTransportError(vendor string, err error) *TransportError {
	return &TransportError{Category: categorize(err), Vendor: vendor, Underlying: err}
}

// NewStatusError classifies a non-2xx vendor response.
func NewStatusError(vendor string, status int) *TransportError {
	category := ErrorOutage
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		category = ErrorAuthentication
	case status == http.StatusTooManyRequests:
		category = ErrorRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		category = ErrorTimeout
	}
	return &TransportError{Category: category, Vendor: vendor, StatusCode: status}
}

// NewDecodeError marks an undecodable vendor body.
func NewDecodeError(vendor string, err error) *TransportError {
	return &TransportError{Category: ErrorBadData, Vendor: vendor, Underlying: err}
}

func categorize(err error) ErrorCategory {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTimeout
	}
	return ErrorOutage
}

// VerdictFromError converts a transport failure into an error verdict.
// Errors that are not TransportErrors are treated as vendor_unavailable.
func VerdictFromError(vendor string, err error) Verdict {
	var te *TransportError
	if !errors.As(err, &te) {
		te = NewTransportError(vendor, err)
	}
	code := string(te.Category)
	if te.StatusCode != 0 {
		code = fmt.Sprintf("http_%d", te.StatusCode)
	}
	return TransportErrorVerdict(te.Reason(), code)
}

// CategoryOf extracts the category, or empty for foreign errors.
func CategoryOf(err error) ErrorCategory {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Category
	}
	return ""
}
