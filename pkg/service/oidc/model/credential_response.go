package model

// CredentialResponse represents a response from a Credential Issuer to a Credential Request.
type CredentialResponse struct {
	// format: REQUIRED. JSON string denoting the format of the issued Credential.
	Format string `json:"format"`

	// credential: base64url encoded CBOR IssuerSigned.
	Credential string `json:"credential,omitempty"`

	// credentials: the same credential in the batch response shape.
	Credentials []IssuedCredential `json:"credentials,omitempty"`

	// c_nonce: OPTIONAL. JSON string containing a nonce to be used to create a proof of possession of key material when requesting a Credential (see Section 7.2).
	// When received, the Wallet MUST use this nonce value for its subsequent credential requests until the Credential Issuer provides a fresh nonce.
	CNonce string `json:"c_nonce,omitempty"`

	// c_nonce_expires_in: OPTIONAL. JSON integer denoting the lifetime in seconds of the c_nonce.
	// Note that this is an integer, not a string, as specified in the text.
	CNonceExpiresIn int `json:"c_nonce_expires_in,omitempty"`
}

type IssuedCredential struct {
	Format     string `json:"format"`
	Credential string `json:"credential"`
}
