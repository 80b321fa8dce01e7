package model

// OAuth error codes returned by the token and credential endpoints.
const (
	ErrorCodeInvalidRequest                       = "invalid_request"
	ErrorCodeInvalidGrant                         = "invalid_grant"
	ErrorCodeUnsupportedGrantType                 = "unsupported_grant_type"
	ErrorCodeInvalidToken                         = "invalid_token"
	ErrorCodeUnsupportedCredentialConfigurationID = "unsupported_credential_configuration_id"
	ErrorCodeProofInvalid                         = "proof_invalid"
	ErrorCodeServerError                          = "server_error"
)

// ErrorResponse is the body of every OAuth style error.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	CNonce           string `json:"c_nonce,omitempty"`
	CNonceExpiresIn  int    `json:"c_nonce_expires_in,omitempty"`
}
