package proof

import (
	"fmt"
)

// Reason names one proof check.
type Reason string

const (
	ReasonInvalidType          Reason = "invalid_type"
	ReasonMissingHolderKey     Reason = "missing_holder_key"
	ReasonUnsupportedHolderKey Reason = "unsupported_holder_key"
	ReasonUnsupportedAlgorithm Reason = "unsupported_algorithm"
	ReasonSignatureInvalid     Reason = "signature_invalid"
	ReasonAudienceMismatch     Reason = "audience_mismatch"
	ReasonNotCurrent           Reason = "not_current"
	ReasonNonceMissing         Reason = "nonce_missing"
	ReasonNonceInvalid         Reason = "nonce_invalid"
	ReasonMalformed            Reason = "malformed"
)

// ValidationError is returned for every rejected proof. errors.Is matches on Reason alone, so the
// sentinels below match errors that carry extra detail.
type ValidationError struct {
	Reason Reason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("proof rejected: %s", e.Reason)
	}
	return fmt.Sprintf("proof rejected: %s: %s", e.Reason, e.Detail)
}

func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Reason == e.Reason
}

func newValidationError(reason Reason, format string, args ...any) error {
	return &ValidationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

var (
	ErrInvalidType          = &ValidationError{Reason: ReasonInvalidType}
	ErrMissingHolderKey     = &ValidationError{Reason: ReasonMissingHolderKey}
	ErrUnsupportedHolderKey = &ValidationError{Reason: ReasonUnsupportedHolderKey}
	ErrUnsupportedAlgorithm = &ValidationError{Reason: ReasonUnsupportedAlgorithm}
	ErrSignatureInvalid     = &ValidationError{Reason: ReasonSignatureInvalid}
	ErrAudienceMismatch     = &ValidationError{Reason: ReasonAudienceMismatch}
	ErrNotCurrent           = &ValidationError{Reason: ReasonNotCurrent}
	ErrNonceMissing         = &ValidationError{Reason: ReasonNonceMissing}
	ErrNonceInvalid         = &ValidationError{Reason: ReasonNonceInvalid}
	ErrMalformed            = &ValidationError{Reason: ReasonMalformed}
)
