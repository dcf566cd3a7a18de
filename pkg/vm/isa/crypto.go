// Package isa implements the typed instruction set the bytecode
// engine's dispatch loop executes: one Go function per opcode,
// registered into a byte-indexed handler table rather than boxed as
// interface values, so dispatch is a slice index plus a direct call.
package isa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/sha3"
)

// CryptoUnit implements the crypto opcode family: Hash, Encrypt,
// Decrypt, Sign, VerifySignature. One CryptoUnit is constructed per
// execution context so encryption keys never cross a context boundary.
type CryptoUnit struct {
	encryptionKey []byte // 32 bytes, AES-256
}

// NewCryptoUnit builds a unit around a 32-byte AES-256 key.
func NewCryptoUnit(key []byte) (*CryptoUnit, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("crypto unit: encryption key must be 32 bytes, got %d", len(key))
	}
	return &CryptoUnit{encryptionKey: key}, nil
}

// NewCryptoUnitFromSeed derives a 32-byte AES-256 key from an
// arbitrary-length seed via SHA-256, matching the password-derived-key
// convenience constructor used elsewhere in the stack.
func NewCryptoUnitFromSeed(seed []byte) (*CryptoUnit, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("crypto unit: seed cannot be empty")
	}
	hash := sha256.Sum256(seed)
	return NewCryptoUnit(hash[:])
}

// Encrypt implements the Encrypt opcode: AES-256-GCM with the nonce
// prepended to the returned ciphertext.
func (c *CryptoUnit) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("encrypt: cannot encrypt empty operand")
	}

	block, err := aes.NewCipher(c.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("encrypt: generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt implements the Decrypt opcode, the inverse of Encrypt.
func (c *CryptoUnit) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("decrypt: cannot decrypt empty operand")
	}

	block, err := aes.NewCipher(c.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("decrypt: ciphertext shorter than nonce")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// Hash implements the Hash opcode: SHA3-256, matching the digest used
// by the authenticated-state trie so a guest can verify a value
// against a StateRoot proof without a second hash primitive.
func Hash(data []byte) [32]byte {
	return sha3.Sum256(data)
}

// Sign implements the Sign opcode over an ed25519 private key.
func Sign(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}

// VerifySignature implements the VerifySignature opcode.
func VerifySignature(pub ed25519.PublicKey, message, signature []byte) bool {
	return ed25519.Verify(pub, message, signature)
}

// GenerateKeyPair implements the KeyGen opcode backing Sign/VerifySignature.
func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate keypair: %w", err)
	}
	return pub, priv, nil
}
