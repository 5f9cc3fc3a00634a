// Package secret resolves at-rest encrypted credentials into plaintext for
// the duration of a single operation. Plaintext is never persisted or logged.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"

	"codeberg.org/mutker/bmcmon/internal/errors"
)

const (
	ErrInvalidKey        = errors.ErrorCode("secret_invalid_key")
	ErrDecryptionFailed  = errors.ErrorCode("secret_decryption_failed")
	ErrEncryptionFailed  = errors.ErrorCode("secret_encryption_failed")
	ErrMalformedEnvelope = errors.ErrorCode("secret_malformed_envelope")
)

// Resolver decrypts stored secrets on demand.
type Resolver interface {
	Decrypt(ciphertext string) (string, error)
	Encrypt(plaintext string) (string, error)
}

type aesResolver struct {
	aead cipher.AEAD
}

// NewResolver builds a Resolver from a base64-encoded 32-byte AES key.
func NewResolver(encodedKey string) (Resolver, error) {
	errFactory := errors.New()

	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, errFactory.Wrap(ErrInvalidKey, err)
	}
	if len(key) != 32 {
		return nil, errFactory.WithMessage(ErrInvalidKey, "key must be 32 bytes")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errFactory.Wrap(ErrInvalidKey, err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errFactory.Wrap(ErrInvalidKey, err)
	}

	return &aesResolver{aead: aead}, nil
}

func (r *aesResolver) Encrypt(plaintext string) (string, error) {
	errFactory := errors.New()

	nonce := make([]byte, r.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errFactory.Wrap(ErrEncryptionFailed, err)
	}

	sealed := r.aead.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (r *aesResolver) Decrypt(ciphertext string) (string, error) {
	errFactory := errors.New()

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errFactory.Wrap(ErrMalformedEnvelope, err)
	}
	if len(raw) < r.aead.NonceSize() {
		return "", errFactory.New(ErrMalformedEnvelope)
	}

	nonce, sealed := raw[:r.aead.NonceSize()], raw[r.aead.NonceSize():]
	plaintext, err := r.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errFactory.Wrap(ErrDecryptionFailed, err)
	}

	return string(plaintext), nil
}
