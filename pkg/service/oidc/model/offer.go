package model

const (
	// PreAuthorizedCodeGrant is the only grant type the token endpoint accepts.
	PreAuthorizedCodeGrant = "urn:ietf:params:oauth:grant-type:pre-authorized_code"

	TokenTypeBearer = "Bearer"
	ProofTypeJWT    = "jwt"
	FormatMSOMDoc   = "mso_mdoc"
)

// CredentialOffer is the object a wallet receives, usually through a QR code, to start issuance.
type CredentialOffer struct {
	// credential_issuer: REQUIRED. The URL of the Credential Issuer from which the Wallet is requested to obtain
	// one or more Credentials.
	CredentialIssuer string `json:"credential_issuer"`

	// credential_configuration_ids: REQUIRED. Identifiers of entries in credential_configurations_supported.
	CredentialConfigurationIDs []string `json:"credential_configuration_ids"`

	Grants map[string]PreAuthorizedCodeGrantParams `json:"grants"`
}

type PreAuthorizedCodeGrantParams struct {
	PreAuthorizedCode string `json:"pre-authorized_code"`
}

// CredentialOfferEnvelope is the body of the offer endpoint.
type CredentialOfferEnvelope struct {
	CredentialOffer CredentialOffer `json:"credential_offer"`
}

// TokenRequest carries the form fields of a token request.
type TokenRequest struct {
	GrantType         string `form:"grant_type" json:"grant_type"`
	PreAuthorizedCode string `form:"pre-authorized_code" json:"pre-authorized_code"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type NonceResponse struct {
	CNonce          string `json:"c_nonce"`
	CNonceExpiresIn int    `json:"c_nonce_expires_in"`
}
