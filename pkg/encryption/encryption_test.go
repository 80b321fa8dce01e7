package encryption

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	enabled bool
	key     string
}

func (c testConfig) EncryptionEnabled() bool {
	return c.enabled
}

func (c testConfig) GetEncryptionKey() string {
	return c.key
}

func TestNewEncrypter(t *testing.T) {
	key, err := NewEncodedKey()
	require.NoError(t, err)

	tests := []struct {
		name   string
		cfg    testConfig
		opaque bool
	}{
		{name: "disabled", cfg: testConfig{}},
		{name: "configured key", cfg: testConfig{enabled: true, key: key}, opaque: true},
		{name: "ephemeral keyset", cfg: testConfig{enabled: true}, opaque: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypter, decrypter, err := NewEncrypter(tt.cfg)
			require.NoError(t, err)

			plaintext := []byte(`{"configuration_id":"org.iso.18013.5.1.mDL"}`)
			ciphertext, err := encrypter.Encrypt(context.Background(), plaintext, nil)
			require.NoError(t, err)
			if tt.opaque {
				assert.NotEqual(t, plaintext, ciphertext)
			} else {
				assert.Equal(t, plaintext, ciphertext)
			}

			decrypted, err := decrypter.Decrypt(context.Background(), ciphertext, nil)
			require.NoError(t, err)
			assert.Equal(t, plaintext, decrypted)
		})
	}
}

func TestNewEncrypterBadKey(t *testing.T) {
	_, _, err := NewEncrypter(testConfig{enabled: true, key: "0OIl"})
	assert.Error(t, err)

	_, _, err = NewEncrypter(testConfig{enabled: true, key: "3mJr7AoUXx2Wqd"})
	assert.ErrorContains(t, err, "32 bytes")
}
