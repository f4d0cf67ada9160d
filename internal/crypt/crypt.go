// Package crypt implements the store's symmetric encryption of chunk
// payloads and file paths. Keys are derived from a caller-supplied
// passphrase with PBKDF2 (golang.org/x/crypto/pbkdf2), and payloads are
// sealed with AES-256-GCM so ciphertext is both confidential and
// authenticated — any wrong-passphrase or corrupted-envelope decrypt fails
// loudly instead of returning garbage.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/docsync/docsync/internal/errs"
	"github.com/docsync/docsync/pkg/model"
)

// envelope version tags, stored as the first byte of the sealed payload so
// Decrypt can reproduce the exact iteration count used at encryption time
// even if the store's current configuration has since changed — this lets
// a store that flips UseDynamicIterationCount on (or off) keep reading
// documents written under the old setting.
const (
	envelopeV1             byte = 1 // legacy fixed iteration count
	envelopeCurrentFixed   byte = 2 // current envelope, dynamic iterations disabled
	envelopeCurrentDynamic byte = 3 // current envelope, dynamic iterations enabled
)

const (
	v1Iterations             = 1000
	currentFixedIterations   = 210000
	dynamicIterationsPerByte = 1000
	dynamicIterationsCap     = 1_000_000
	keyLenBytes              = 32
)

// Config selects the iteration-count policy. It carries no passphrase —
// Encrypt and Decrypt take the passphrase explicitly, since a single store
// uses two independent passphrases (payload vs obfuscated-path) against the
// same policy.
type Config struct {
	UseV1                    bool
	UseDynamicIterationCount bool
}

// Service seals and opens ciphertext under this store's iteration policy.
type Service struct {
	cfg Config
}

// New constructs a Service for cfg.
func New(cfg Config) *Service {
	return &Service{cfg: cfg}
}

func dynamicIterations(passphrase string) int {
	n := currentFixedIterations + len(passphrase)*dynamicIterationsPerByte
	if n > dynamicIterationsCap {
		return dynamicIterationsCap
	}
	return n
}

func (s *Service) envelopeTag() byte {
	switch {
	case s.cfg.UseV1:
		return envelopeV1
	case s.cfg.UseDynamicIterationCount:
		return envelopeCurrentDynamic
	default:
		return envelopeCurrentFixed
	}
}

func iterationsForTag(tag byte, passphrase string) (int, error) {
	switch tag {
	case envelopeV1:
		return v1Iterations, nil
	case envelopeCurrentFixed:
		return currentFixedIterations, nil
	case envelopeCurrentDynamic:
		return dynamicIterations(passphrase), nil
	default:
		return 0, fmt.Errorf("crypt: %w: unknown envelope tag %d", errs.ErrDecrypt, tag)
	}
}

func deriveKey(passphrase string, iterations int) []byte {
	return pbkdf2.Key([]byte(passphrase), []byte(model.SaltOfPassphrase), iterations, keyLenBytes, sha256.New)
}

// Encrypt seals plaintext under passphrase and returns a base64-encoded
// envelope: [tag byte][nonce][ciphertext+tag].
func (s *Service) Encrypt(plaintext []byte, passphrase string) (string, error) {
	tag := s.envelopeTag()
	iterations, err := iterationsForTag(tag, passphrase)
	if err != nil {
		return "", err
	}
	gcm, err := newGCM(deriveKey(passphrase, iterations))
	if err != nil {
		return "", fmt.Errorf("crypt: build cipher: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypt: read nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)

	envelope := make([]byte, 0, 1+len(nonce)+len(sealed))
	envelope = append(envelope, tag)
	envelope = append(envelope, nonce...)
	envelope = append(envelope, sealed...)
	return base64.StdEncoding.EncodeToString(envelope), nil
}

// Decrypt opens an envelope produced by Encrypt under the same passphrase.
// Any failure — malformed base64, truncated envelope, unknown tag, or a
// GCM authentication failure (wrong passphrase or corrupted ciphertext) —
// is reported as errs.ErrDecrypt.
func (s *Service) Decrypt(envelopeB64 string, passphrase string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(envelopeB64)
	if err != nil {
		return nil, fmt.Errorf("crypt: %w: malformed base64: %v", errs.ErrDecrypt, err)
	}
	if len(raw) < 1 {
		return nil, fmt.Errorf("crypt: %w: empty envelope", errs.ErrDecrypt)
	}

	tag := raw[0]
	iterations, err := iterationsForTag(tag, passphrase)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(deriveKey(passphrase, iterations))
	if err != nil {
		return nil, fmt.Errorf("crypt: build cipher: %w", err)
	}

	body := raw[1:]
	if len(body) < gcm.NonceSize() {
		return nil, fmt.Errorf("crypt: %w: truncated envelope", errs.ErrDecrypt)
	}
	nonce, ciphertext := body[:gcm.NonceSize()], body[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypt: %w: %v", errs.ErrDecrypt, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
