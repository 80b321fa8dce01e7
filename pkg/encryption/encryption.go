package encryption

import (
	"context"

	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/google/tink/go/aead"
	"github.com/google/tink/go/keyset"
	"github.com/google/tink/go/tink"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/openmdoc/mdoc-service/internal/util"
)

// Encrypter the interface for any encrypter implementation.
type Encrypter interface {
	Encrypt(ctx context.Context, plaintext, contextData []byte) ([]byte, error)
}

// Decrypter is the interface for any decrypter. The second parameter is treated as associated data.
type Decrypter interface {
	Decrypt(ctx context.Context, ciphertext, contextData []byte) ([]byte, error)
}

type KeyResolver func(ctx context.Context) ([]byte, error)

type XChaCha20Poly1305Encrypter struct {
	keyResolver KeyResolver
}

func NewXChaCha20Poly1305EncrypterWithKey(key []byte) *XChaCha20Poly1305Encrypter {
	return &XChaCha20Poly1305Encrypter{func(ctx context.Context) ([]byte, error) {
		return key, nil
	}}
}

func NewXChaCha20Poly1305EncrypterWithKeyResolver(resolver KeyResolver) *XChaCha20Poly1305Encrypter {
	return &XChaCha20Poly1305Encrypter{resolver}
}

func (k XChaCha20Poly1305Encrypter) Encrypt(ctx context.Context, plaintext, _ []byte) ([]byte, error) {
	key, err := k.keyResolver(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "resolving key")
	}
	encrypted, err := util.XChaCha20Poly1305Encrypt(key, plaintext)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not encrypt value")
	}
	return encrypted, nil
}

func (k XChaCha20Poly1305Encrypter) Decrypt(ctx context.Context, ciphertext, _ []byte) ([]byte, error) {
	if ciphertext == nil {
		return nil, nil
	}
	key, err := k.keyResolver(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "resolving key")
	}
	decrypted, err := util.XChaCha20Poly1305Decrypt(key, ciphertext)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not decrypt value")
	}
	return decrypted, nil
}

var _ Decrypter = (*XChaCha20Poly1305Encrypter)(nil)
var _ Encrypter = (*XChaCha20Poly1305Encrypter)(nil)

type noopEncrypter struct{}

func (noopEncrypter) Encrypt(_ context.Context, plaintext, _ []byte) ([]byte, error) {
	return plaintext, nil
}

func (noopEncrypter) Decrypt(_ context.Context, ciphertext, _ []byte) ([]byte, error) {
	return ciphertext, nil
}

var (
	NoopEncrypter Encrypter = noopEncrypter{}
	NoopDecrypter Decrypter = noopEncrypter{}
)

// wrappedAEAD adapts a tink primitive to the Encrypter and Decrypter interfaces.
type wrappedAEAD struct {
	tink.AEAD
}

func (w wrappedAEAD) Encrypt(_ context.Context, plaintext, contextData []byte) ([]byte, error) {
	return w.AEAD.Encrypt(plaintext, contextData)
}

func (w wrappedAEAD) Decrypt(_ context.Context, ciphertext, contextData []byte) ([]byte, error) {
	if ciphertext == nil {
		return nil, nil
	}
	return w.AEAD.Decrypt(ciphertext, contextData)
}

// NewEphemeralEncrypter returns an AEAD whose keyset lives only in process memory. Anything it encrypts
// becomes unreadable after a restart, which suits short-lived transaction state.
func NewEphemeralEncrypter() (Encrypter, Decrypter, error) {
	handle, err := keyset.NewHandle(aead.XChaCha20Poly1305KeyTemplate())
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating keyset handle")
	}
	primitive, err := aead.New(handle)
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating aead from key handle")
	}
	w := wrappedAEAD{primitive}
	return w, w, nil
}

// Config selects how stored values are encrypted.
type Config interface {
	EncryptionEnabled() bool
	// GetEncryptionKey returns a base58 encoded 32 byte key, or empty for an ephemeral keyset.
	GetEncryptionKey() string
}

func NewEncrypter(cfg Config) (Encrypter, Decrypter, error) {
	if !cfg.EncryptionEnabled() {
		return NoopEncrypter, NoopDecrypter, nil
	}
	if cfg.GetEncryptionKey() == "" {
		return NewEphemeralEncrypter()
	}
	key, err := base58.Decode(cfg.GetEncryptionKey())
	if err != nil {
		return nil, nil, errors.Wrap(err, "decoding base58 encryption key")
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, nil, errors.Errorf("encryption key must be %d bytes; got %d", chacha20poly1305.KeySize, len(key))
	}
	e := NewXChaCha20Poly1305EncrypterWithKey(key)
	return e, e, nil
}

// NewEncodedKey generates a random key in the format accepted by NewEncrypter.
func NewEncodedKey() (string, error) {
	key, err := util.GenerateSalt(chacha20poly1305.KeySize)
	if err != nil {
		return "", errors.Wrap(err, "generating bytes for key")
	}
	return base58.Encode(key), nil
}
