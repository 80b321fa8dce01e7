package oidc

import (
	"fmt"
	"net/http"

	"github.com/openmdoc/mdoc-service/pkg/service/oidc/model"
)

// Error is an OAuth style protocol error. It is safe to return to the client as is.
type Error struct {
	Code        string
	Description string
	StatusCode  int

	// CNonce is set on proof failures so the wallet can retry with a fresh nonce.
	CNonce          string
	CNonceExpiresIn int

	Err error
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Code, so the sentinels below match errors carrying a description or a nonce.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Response renders the error body.
func (e *Error) Response() model.ErrorResponse {
	return model.ErrorResponse{
		Error:            e.Code,
		ErrorDescription: e.Description,
		CNonce:           e.CNonce,
		CNonceExpiresIn:  e.CNonceExpiresIn,
	}
}

var (
	ErrInvalidRequest                       = &Error{Code: model.ErrorCodeInvalidRequest, StatusCode: http.StatusBadRequest}
	ErrInvalidGrant                         = &Error{Code: model.ErrorCodeInvalidGrant, StatusCode: http.StatusBadRequest}
	ErrUnsupportedGrantType                 = &Error{Code: model.ErrorCodeUnsupportedGrantType, StatusCode: http.StatusBadRequest}
	ErrInvalidToken                         = &Error{Code: model.ErrorCodeInvalidToken, StatusCode: http.StatusUnauthorized}
	ErrUnsupportedCredentialConfigurationID = &Error{Code: model.ErrorCodeUnsupportedCredentialConfigurationID, StatusCode: http.StatusBadRequest}
	ErrProofInvalid                         = &Error{Code: model.ErrorCodeProofInvalid, StatusCode: http.StatusBadRequest}
)

func newError(sentinel *Error, description string, cause error) *Error {
	return &Error{
		Code:        sentinel.Code,
		Description: description,
		StatusCode:  sentinel.StatusCode,
		Err:         cause,
	}
}
