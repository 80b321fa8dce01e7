// Package keyaccess loads the document signer key held by the issuer.
package keyaccess

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"os"

	"github.com/goccy/go-json"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SigningKey is a P-256 private key with its public JWK and a thumbprint key id.
type SigningKey struct {
	Private *ecdsa.PrivateKey
	KeyID   string
	// PublicJWK carries KeyID as kid.
	PublicJWK jwk.Key
	// Ephemeral is set when the key was generated at startup rather than loaded.
	Ephemeral bool
}

func (k SigningKey) Public() *ecdsa.PublicKey {
	return &k.Private.PublicKey
}

// LoadSigningKey reads a private P-256 JWK from jwkJSON, or from path when jwkJSON is empty. With
// neither set it generates a key that lives as long as the process.
func LoadSigningKey(jwkJSON, path string) (*SigningKey, error) {
	switch {
	case jwkJSON != "":
		return ParseSigningKey([]byte(jwkJSON))
	case path != "":
		keyBytes, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading signing key file<%s>", path)
		}
		return ParseSigningKey(keyBytes)
	default:
		logrus.Warn("no signing key configured, generating an ephemeral document signer key")
		return GenerateSigningKey()
	}
}

// ParseSigningKey parses a private JWK, rejecting anything but EC P-256.
func ParseSigningKey(jwkBytes []byte) (*SigningKey, error) {
	key, err := jwk.ParseKey(jwkBytes)
	if err != nil {
		return nil, errors.Wrap(err, "parsing signing jwk")
	}
	var raw any
	if err = key.Raw(&raw); err != nil {
		return nil, errors.Wrap(err, "extracting raw signing key")
	}
	private, ok := raw.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.Errorf("signing jwk must be an EC private key; got %T", raw)
	}
	return newSigningKey(private, false)
}

// GenerateSigningKey makes a fresh P-256 key.
func GenerateSigningKey() (*SigningKey, error) {
	private, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generating signing key")
	}
	return newSigningKey(private, true)
}

func newSigningKey(private *ecdsa.PrivateKey, ephemeral bool) (*SigningKey, error) {
	if private.Curve != elliptic.P256() {
		return nil, errors.Errorf("signing key must be on P-256; got %s", private.Curve.Params().Name)
	}
	public, err := jwk.FromRaw(&private.PublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "building public jwk")
	}
	thumbprint, err := public.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, errors.Wrap(err, "computing jwk thumbprint")
	}
	kid := base64.RawURLEncoding.EncodeToString(thumbprint)
	if err = public.Set(jwk.KeyIDKey, kid); err != nil {
		return nil, errors.Wrap(err, "setting kid")
	}
	return &SigningKey{Private: private, KeyID: kid, PublicJWK: public, Ephemeral: ephemeral}, nil
}

// MarshalPrivateJWK renders a private key as JWK JSON, the format LoadSigningKey reads.
func MarshalPrivateJWK(private *ecdsa.PrivateKey) ([]byte, error) {
	key, err := jwk.FromRaw(private)
	if err != nil {
		return nil, errors.Wrap(err, "building private jwk")
	}
	return json.Marshal(key)
}
