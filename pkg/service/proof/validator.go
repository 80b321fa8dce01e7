// Package proof validates OpenID4VCI proof-of-possession JWTs.
package proof

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/pkg/errors"

	"github.com/openmdoc/mdoc-service/pkg/service/transaction"
)

const (
	// JWTType is the required typ header of a proof JWT.
	JWTType = "openid4vci-proof+jwt"

	NonceClaim = "nonce"

	DefaultAcceptableSkew = 60 * time.Second
)

// NonceConsumer deletes a nonce if it is live, failing with transaction.ErrNonceInvalid otherwise.
type NonceConsumer interface {
	ConsumeNonce(ctx context.Context, nonce string) error
}

// Result is the authenticated holder key and the proof's claims.
type Result struct {
	Key       jwk.Key
	PublicKey *ecdsa.PublicKey
	Claims    map[string]any
}

type Validator struct {
	audience string
	nonces   NonceConsumer
	clock    clock.Clock
	skew     time.Duration
}

type Option func(*Validator)

func WithClock(c clock.Clock) Option {
	return func(v *Validator) {
		v.clock = c
	}
}

func WithAcceptableSkew(skew time.Duration) Option {
	return func(v *Validator) {
		v.skew = skew
	}
}

// NewValidator builds a validator for proofs addressed to audience, the credential issuer identifier.
func NewValidator(audience string, nonces NonceConsumer, opts ...Option) (*Validator, error) {
	if audience == "" {
		return nil, errors.New("audience cannot be empty")
	}
	if nonces == nil {
		return nil, errors.New("nonce consumer cannot be nil")
	}
	v := &Validator{
		audience: audience,
		nonces:   nonces,
		clock:    clock.New(),
		skew:     DefaultAcceptableSkew,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Validate runs every check in order and stops at the first failure. The nonce is consumed only
// once all other checks have passed.
func (v *Validator) Validate(ctx context.Context, token string) (*Result, error) {
	message, err := jws.Parse([]byte(token))
	if err != nil {
		return nil, newValidationError(ReasonMalformed, "parsing jws: %s", err)
	}
	signatures := message.Signatures()
	if len(signatures) != 1 {
		return nil, newValidationError(ReasonMalformed, "expected exactly one signature, got %d", len(signatures))
	}
	headers := signatures[0].ProtectedHeaders()

	if headers.Type() != JWTType {
		return nil, newValidationError(ReasonInvalidType, "typ is %q", headers.Type())
	}

	holderKey := headers.JWK()
	if holderKey == nil {
		return nil, ErrMissingHolderKey
	}
	publicKey, err := holderPublicKey(holderKey)
	if err != nil {
		return nil, err
	}

	if headers.Algorithm() != jwa.ES256 {
		return nil, newValidationError(ReasonUnsupportedAlgorithm, "alg is %q", headers.Algorithm())
	}

	if _, err = jws.Verify([]byte(token), jws.WithKey(jwa.ES256, publicKey)); err != nil {
		return nil, newValidationError(ReasonSignatureInvalid, "%s", err)
	}

	parsed, err := jwt.Parse([]byte(token), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return nil, newValidationError(ReasonMalformed, "parsing claims: %s", err)
	}

	if !containsAudience(parsed.Audience(), v.audience) {
		return nil, newValidationError(ReasonAudienceMismatch, "aud is %v", parsed.Audience())
	}

	if err = jwt.Validate(parsed,
		jwt.WithClock(jwt.ClockFunc(v.clock.Now)),
		jwt.WithAcceptableSkew(v.skew),
	); err != nil {
		return nil, newValidationError(ReasonNotCurrent, "%s", err)
	}

	nonceValue, ok := parsed.Get(NonceClaim)
	if !ok {
		return nil, ErrNonceMissing
	}
	nonce, ok := nonceValue.(string)
	if !ok || nonce == "" {
		return nil, ErrNonceMissing
	}
	if err = v.nonces.ConsumeNonce(ctx, nonce); err != nil {
		if errors.Is(err, transaction.ErrNonceInvalid) {
			return nil, ErrNonceInvalid
		}
		return nil, errors.Wrap(err, "consuming nonce")
	}

	claims, err := parsed.AsMap(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "collecting claims")
	}
	publicJWK, err := holderKey.PublicKey()
	if err != nil {
		return nil, errors.Wrap(err, "deriving public holder jwk")
	}
	return &Result{Key: publicJWK, PublicKey: publicKey, Claims: claims}, nil
}

// holderPublicKey accepts only public EC P-256 keys.
func holderPublicKey(key jwk.Key) (*ecdsa.PublicKey, error) {
	if key.KeyType() != jwa.EC {
		return nil, newValidationError(ReasonUnsupportedHolderKey, "kty is %q", key.KeyType())
	}
	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, newValidationError(ReasonUnsupportedHolderKey, "%s", err)
	}
	publicKey, ok := raw.(*ecdsa.PublicKey)
	if !ok {
		return nil, newValidationError(ReasonUnsupportedHolderKey, "holder key is %T, not a public key", raw)
	}
	if publicKey.Curve != elliptic.P256() {
		return nil, newValidationError(ReasonUnsupportedHolderKey, "curve is %s", publicKey.Curve.Params().Name)
	}
	return publicKey, nil
}

func containsAudience(audience []string, want string) bool {
	for _, aud := range audience {
		if aud == want {
			return true
		}
	}
	return false
}
