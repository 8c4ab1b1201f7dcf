// Package crypt implements the symmetric crypto used for archive parts:
// a key derived from the master secret, per-part AES-256-GCM with a random
// IV, and SHA-256 content hashing of the ciphertext.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// IVSize is the GCM nonce length in bytes.
	IVSize = 12
	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16
)

// ErrTagMismatch is returned when GCM authentication fails on decrypt.
var ErrTagMismatch = errors.New("authentication tag mismatch")

// ErrCryptoMissing is returned when a part record lacks its IV or tag.
var ErrCryptoMissing = errors.New("missing crypto parameters")

// DeriveKey derives the symmetric key from the master secret.
func DeriveKey(masterSecret string) []byte {
	sum := sha256.Sum256([]byte(masterSecret))
	return sum[:]
}

// Cipher seals and opens archive parts with a fixed derived key.
// Safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// New creates a Cipher from a 32-byte key (see DeriveKey).
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// SealedChunk is the result of encrypting one plaintext chunk. The tag is
// kept separate from the ciphertext so the ciphertext stays byte-aligned
// with the plaintext; the hash covers the ciphertext only.
type SealedChunk struct {
	Ciphertext []byte
	IV         []byte
	Tag        []byte
	Hash       string // hex SHA-256 of Ciphertext
}

// Seal encrypts one plaintext chunk with a fresh random IV.
func (c *Cipher) Seal(plaintext []byte) (*SealedChunk, error) {
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate IV: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, plaintext, nil)
	ct := sealed[:len(sealed)-TagSize]
	tag := sealed[len(sealed)-TagSize:]

	return &SealedChunk{
		Ciphertext: ct,
		IV:         iv,
		Tag:        tag,
		Hash:       HashHex(ct),
	}, nil
}

// Open decrypts one ciphertext chunk, verifying the authentication tag.
func (c *Cipher) Open(iv, ciphertext, tag []byte) ([]byte, error) {
	if len(iv) != IVSize || len(tag) != TagSize {
		return nil, ErrCryptoMissing
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plain, err := c.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrTagMismatch
	}
	return plain, nil
}

// OpenBase64 decrypts a chunk whose IV and tag are stored base64-encoded,
// as they are on part records.
func (c *Cipher) OpenBase64(iv64, tag64 string, ciphertext []byte) ([]byte, error) {
	if iv64 == "" || tag64 == "" {
		return nil, ErrCryptoMissing
	}
	iv, err := base64.StdEncoding.DecodeString(iv64)
	if err != nil {
		return nil, ErrCryptoMissing
	}
	tag, err := base64.StdEncoding.DecodeString(tag64)
	if err != nil {
		return nil, ErrCryptoMissing
	}
	return c.Open(iv, ciphertext, tag)
}

// HashHex returns the hex SHA-256 digest of data.
func HashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// EncodeB64 encodes raw crypto material for storage on a part record.
func EncodeB64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
