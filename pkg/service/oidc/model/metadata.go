package model

// IssuerMetadata is served at /.well-known/openid-credential-issuer.
type IssuerMetadata struct {
	CredentialIssuer                  string                             `json:"credential_issuer"`
	CredentialEndpoint                string                             `json:"credential_endpoint"`
	NonceEndpoint                     string                             `json:"nonce_endpoint"`
	CredentialConfigurationsSupported map[string]CredentialConfiguration `json:"credential_configurations_supported"`
}

// CredentialConfiguration describes one issuable mdoc.
type CredentialConfiguration struct {
	Format  string `json:"format"`
	DocType string `json:"doctype"`

	CryptographicBindingMethodsSupported []string `json:"cryptographic_binding_methods_supported"`

	// CredentialSigningAlgValuesSupported holds COSE algorithm identifiers.
	CredentialSigningAlgValuesSupported []int `json:"credential_signing_alg_values_supported"`

	ProofTypesSupported map[string]ProofTypeMetadata `json:"proof_types_supported"`
	CredentialMetadata  CredentialMetadata           `json:"credential_metadata"`
}

type ProofTypeMetadata struct {
	ProofSigningAlgValuesSupported []string `json:"proof_signing_alg_values_supported"`
}

type CredentialMetadata struct {
	Display []Display       `json:"display,omitempty"`
	Claims  []ClaimMetadata `json:"claims,omitempty"`
}

type Display struct {
	Name   string `json:"name"`
	Locale string `json:"locale,omitempty"`
}

// ClaimMetadata points at one element by [namespace, identifier].
type ClaimMetadata struct {
	Path      []string  `json:"path"`
	Mandatory bool      `json:"mandatory,omitempty"`
	Display   []Display `json:"display,omitempty"`
}

// AuthorizationServerMetadata is served at /.well-known/oauth-authorization-server.
type AuthorizationServerMetadata struct {
	Issuer              string   `json:"issuer"`
	TokenEndpoint       string   `json:"token_endpoint"`
	GrantTypesSupported []string `json:"grant_types_supported"`
}
