package model

// CredentialRequest represents a request for a credential.
type CredentialRequest struct {
	// CredentialConfigurationID names an entry of credential_configurations_supported in the issuer metadata.
	CredentialConfigurationID string `json:"credential_configuration_id,omitempty"`

	// Format and DocType are the pre-configuration-id way of selecting an mdoc. They are echoed but
	// not used for selection.
	Format  string `json:"format,omitempty"`
	DocType string `json:"doctype,omitempty"`

	// Proof is a single proof of possession of the key material.
	Proof *ProofParameter `json:"proof,omitempty"`

	// Proofs carries one or more proofs per proof type. Only the first jwt proof is used.
	Proofs *Proofs `json:"proofs,omitempty"`
}

// JWTProof objects contain a single jwt element with a JWS [RFC7515] as proof of possession. The JWT MUST contain the following elements:
//
// in the JOSE Header,
//
// - typ: REQUIRED. MUST be openid4vci-proof+jwt, which explicitly types the proof JWT as recommended in Section 3.11 of [RFC8725].
// - alg: REQUIRED. ES256 is the only algorithm accepted.
// - jwk: REQUIRED. JOSE Header containing the key material the new Credential shall be bound to.
//
// in the JWT body,
//
// - aud: REQUIRED (string). The value of this claim MUST be the Credential Issuer URL of the Credential Issuer.
// - iat: OPTIONAL (number). When present it must not lie in the future.
// - nonce: REQUIRED (string). The value type of this claim MUST be a string, where the value is a c_nonce provided by the Credential Issuer.
type JWTProof struct {
	JWT string `json:"jwt"`
}

// ProofParameter represents a proof object.
type ProofParameter struct {
	// ProofType is the required concrete proof type. Currently, the only possible value is "jwt".
	ProofType string `json:"proof_type"`

	// Present when proof_type == "jwt".
	*JWTProof
}

type Proofs struct {
	JWT []string `json:"jwt,omitempty"`
}

// ProofJWT returns the proof to validate: proof.jwt first, then proofs.jwt[0].
func (r CredentialRequest) ProofJWT() (string, bool) {
	if r.Proof != nil && r.Proof.JWTProof != nil && r.Proof.JWT != "" {
		if r.Proof.ProofType == "" || r.Proof.ProofType == ProofTypeJWT {
			return r.Proof.JWT, true
		}
	}
	if r.Proofs != nil && len(r.Proofs.JWT) > 0 && r.Proofs.JWT[0] != "" {
		return r.Proofs.JWT[0], true
	}
	return "", false
}
