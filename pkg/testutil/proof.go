package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

const proofJWTType = "openid4vci-proof+jwt"

// NewHolderKey generates a P-256 wallet key.
func NewHolderKey(t *testing.T) *ecdsa.PrivateKey {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

// ProofOptions shape a proof JWT. Zero values give a well formed ES256 proof.
type ProofOptions struct {
	Audience string
	Nonce    string
	// Type overrides the typ header.
	Type string
	// IssuedAt defaults to now.
	IssuedAt   time.Time
	Expiration time.Time
	// HeaderKey is placed in the jwk header instead of the signer's public key.
	HeaderKey any
	OmitJWK   bool
	// Algorithm and SigningKey override how the token is signed.
	Algorithm  jwa.SignatureAlgorithm
	SigningKey any
}

// ProofJWT builds a compact proof JWT signed by holder.
func ProofJWT(t *testing.T, holder *ecdsa.PrivateKey, opts ProofOptions) string {
	tok := jwt.New()
	if opts.Audience != "" {
		require.NoError(t, tok.Set(jwt.AudienceKey, opts.Audience))
	}
	if opts.Nonce != "" {
		require.NoError(t, tok.Set("nonce", opts.Nonce))
	}
	issuedAt := opts.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}
	require.NoError(t, tok.Set(jwt.IssuedAtKey, issuedAt))
	if !opts.Expiration.IsZero() {
		require.NoError(t, tok.Set(jwt.ExpirationKey, opts.Expiration))
	}
	payload, err := json.Marshal(tok)
	require.NoError(t, err)

	typ := opts.Type
	if typ == "" {
		typ = proofJWTType
	}
	headers := jws.NewHeaders()
	require.NoError(t, headers.Set(jws.TypeKey, typ))
	if !opts.OmitJWK {
		var headerKey any = &holder.PublicKey
		if opts.HeaderKey != nil {
			headerKey = opts.HeaderKey
		}
		key, err := jwk.FromRaw(headerKey)
		require.NoError(t, err)
		require.NoError(t, headers.Set(jws.JWKKey, key))
	}

	alg := opts.Algorithm
	if alg == "" {
		alg = jwa.ES256
	}
	var signingKey any = holder
	if opts.SigningKey != nil {
		signingKey = opts.SigningKey
	}
	signed, err := jws.Sign(payload, jws.WithKey(alg, signingKey, jws.WithProtectedHeaders(headers)))
	require.NoError(t, err)
	return string(signed)
}

// HolderJWK is the public JWK of holder, as placed in proof headers.
func HolderJWK(t *testing.T, holder *ecdsa.PrivateKey) jwk.Key {
	key, err := jwk.FromRaw(&holder.PublicKey)
	require.NoError(t, err)
	return key
}
