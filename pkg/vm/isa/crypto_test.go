package isa

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCryptoUnit(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{name: "valid 32-byte key", key: make([]byte, 32), wantErr: false},
		{name: "invalid short key", key: make([]byte, 16), wantErr: true},
		{name: "invalid long key", key: make([]byte, 64), wantErr: true},
		{name: "empty key", key: []byte{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCryptoUnit(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCryptoUnitEncryptDecryptRoundTrip(t *testing.T) {
	unit, err := NewCryptoUnit(make([]byte, 32))
	require.NoError(t, err)

	plaintext := []byte("dotvm operand bytes")
	ciphertext, err := unit.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := unit.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(plaintext, decrypted))
}

func TestCryptoUnitDecryptRejectsTampered(t *testing.T) {
	unit, err := NewCryptoUnit(make([]byte, 32))
	require.NoError(t, err)

	ciphertext, err := unit.Encrypt([]byte("payload"))
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xFF

	_, err = unit.Decrypt(ciphertext)
	assert.Error(t, err)
}

func TestSignVerifySignature(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("execute context abc123")
	sig := Sign(priv, msg)

	assert.True(t, VerifySignature(pub, msg, sig))
	assert.False(t, VerifySignature(pub, []byte("tampered"), sig))
}

func TestHashIsDeterministic(t *testing.T) {
	data := []byte("module bytecode")
	assert.Equal(t, Hash(data), Hash(data))
}
