package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLength       = 32
	nonceLength      = 12 // GCM nonce
	keyLength        = 32 // AES-256
	pbkdf2Iterations = 100000
)

// Unsealer supplies the sealing secret. The reference implementation wraps
// an environment-supplied passphrase; a production-grade backend binds this
// to an attestation-gated KMS so shards only unseal inside a valid isolated
// execution context.
type Unsealer interface {
	SealingSecret() ([]byte, error)
}

// PassphraseUnsealer is the reference Unsealer.
type PassphraseUnsealer string

func (p PassphraseUnsealer) SealingSecret() ([]byte, error) {
	if p == "" {
		return nil, errors.New("empty sealing passphrase")
	}
	return []byte(p), nil
}

// seal encrypts plaintext with AES-256-GCM under a PBKDF2-derived key.
// Output layout: salt || nonce || ciphertext.
func seal(secret, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, errors.Wrap(err, "generating salt")
	}

	gcm, err := newGCM(secret, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "generating nonce")
	}

	out := make([]byte, 0, saltLength+nonceLength+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// unseal reverses seal. A wrong secret or tampered blob fails authentication.
func unseal(secret, blob []byte) ([]byte, error) {
	if len(blob) < saltLength+nonceLength {
		return nil, errors.New("sealed blob too short")
	}
	salt := blob[:saltLength]
	nonce := blob[saltLength : saltLength+nonceLength]
	ciphertext := blob[saltLength+nonceLength:]

	gcm, err := newGCM(secret, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(err, "unsealing shard")
	}
	return plaintext, nil
}

func newGCM(secret, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(secret, salt, pbkdf2Iterations, keyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "creating cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "creating GCM")
	}
	return gcm, nil
}
