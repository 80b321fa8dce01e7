package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/openmdoc/mdoc-service/pkg/encryption"
)

// ErrDecrypt is returned when a stored value does not open under the configured key, for example
// after an ephemeral key was replaced on restart.
var ErrDecrypt = errors.New("stored value cannot be decrypted")

// EncryptedWrapper encrypts values before handing them to the wrapped storage. Keys are stored as given.
type EncryptedWrapper struct {
	s         ServiceStorage
	encrypter encryption.Encrypter
	decrypter encryption.Decrypter
}

func NewEncryptedWrapper(s ServiceStorage, encrypter encryption.Encrypter, decrypter encryption.Decrypter) *EncryptedWrapper {
	return &EncryptedWrapper{
		s:         s,
		encrypter: encrypter,
		decrypter: decrypter,
	}
}

func (e EncryptedWrapper) Init(opts ...Option) error {
	return e.s.Init(opts...)
}

func (e EncryptedWrapper) Type() Type {
	return e.s.Type()
}

func (e EncryptedWrapper) URI() string {
	return e.s.URI()
}

func (e EncryptedWrapper) IsOpen() bool {
	return e.s.IsOpen()
}

func (e EncryptedWrapper) Close() error {
	return e.s.Close()
}

// associated data binds a ciphertext to its location so values cannot be swapped between keys
func associatedData(namespace, key string) []byte {
	return []byte(namespace + "/" + key)
}

func (e EncryptedWrapper) Write(ctx context.Context, namespace, key string, value []byte) error {
	encryptedData, err := e.encrypter.Encrypt(ctx, value, associatedData(namespace, key))
	if err != nil {
		return errors.Wrap(err, "encrypting data")
	}
	return e.s.Write(ctx, namespace, key, encryptedData)
}

func (e EncryptedWrapper) WriteWithTTL(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	encryptedData, err := e.encrypter.Encrypt(ctx, value, associatedData(namespace, key))
	if err != nil {
		return errors.Wrap(err, "encrypting data")
	}
	return e.s.WriteWithTTL(ctx, namespace, key, encryptedData, ttl)
}

func (e EncryptedWrapper) Read(ctx context.Context, namespace, key string) ([]byte, error) {
	storedBytes, err := e.s.Read(ctx, namespace, key)
	if err != nil || storedBytes == nil {
		return nil, err
	}
	return e.decrypt(ctx, namespace, key, storedBytes)
}

func (e EncryptedWrapper) ReadAndDelete(ctx context.Context, namespace, key string) ([]byte, error) {
	storedBytes, err := e.s.ReadAndDelete(ctx, namespace, key)
	if err != nil {
		return nil, err
	}
	return e.decrypt(ctx, namespace, key, storedBytes)
}

func (e EncryptedWrapper) ReadAll(ctx context.Context, namespace string) (map[string][]byte, error) {
	encryptedKeyedBytes, err := e.s.ReadAll(ctx, namespace)
	if err != nil {
		return nil, err
	}
	decryptedValues := make(map[string][]byte, len(encryptedKeyedBytes))
	for key, encryptedBytes := range encryptedKeyedBytes {
		decryptedData, err := e.decrypt(ctx, namespace, key, encryptedBytes)
		if err != nil {
			return nil, err
		}
		decryptedValues[key] = decryptedData
	}
	return decryptedValues, nil
}

func (e EncryptedWrapper) decrypt(ctx context.Context, namespace, key string, ciphertext []byte) ([]byte, error) {
	decryptedData, err := e.decrypter.Decrypt(ctx, ciphertext, associatedData(namespace, key))
	if err != nil {
		return nil, errors.Wrapf(ErrDecrypt, "decrypting data: %s", err)
	}
	return decryptedData, nil
}

func (e EncryptedWrapper) Delete(ctx context.Context, namespace, key string) error {
	return e.s.Delete(ctx, namespace, key)
}

func (e EncryptedWrapper) DeleteNamespace(ctx context.Context, namespace string) error {
	return e.s.DeleteNamespace(ctx, namespace)
}

func (e EncryptedWrapper) PurgeExpired(ctx context.Context) (int, error) {
	return e.s.PurgeExpired(ctx)
}

var _ ServiceStorage = (*EncryptedWrapper)(nil)
