// Package secrets encrypts the sensitive fields of connector configs before
// they reach the database. Encryption is AES-256-GCM with a process-wide key
// derived from the configured secret; each encrypted field is marked with a
// sibling "<field>_encrypted": true entry so mixed plaintext/ciphertext
// configs stay readable during credential rotation.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

const encryptedSuffix = "_encrypted"

// Cipher seals and opens individual string fields.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives a 256-bit key from the process secret. The secret is
// free-form; deployments supply it via LORE_SECRET_KEY.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("encryption secret cannot be empty")
	}

	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals a plaintext into base64(nonce || ciphertext).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// EncryptFields seals the named string fields of a connector config in
// place and marks each with "<field>_encrypted": true. Fields that are
// absent, non-string, or already marked encrypted are left untouched.
func (c *Cipher) EncryptFields(config map[string]any, fields ...string) error {
	for _, field := range fields {
		raw, ok := config[field]
		if !ok {
			continue
		}
		value, ok := raw.(string)
		if !ok || value == "" {
			continue
		}
		if isMarked(config, field) {
			continue
		}

		sealed, err := c.Encrypt(value)
		if err != nil {
			return fmt.Errorf("failed to encrypt field %q: %w", field, err)
		}
		config[field] = sealed
		config[field+encryptedSuffix] = true
	}
	return nil
}

// DecryptFields opens every field marked "<field>_encrypted": true,
// clearing the marker. Unmarked fields pass through as plaintext.
func (c *Cipher) DecryptFields(config map[string]any, fields ...string) error {
	for _, field := range fields {
		if !isMarked(config, field) {
			continue
		}
		value, ok := config[field].(string)
		if !ok {
			continue
		}

		plaintext, err := c.Decrypt(value)
		if err != nil {
			return fmt.Errorf("failed to decrypt field %q: %w", field, err)
		}
		config[field] = plaintext
		delete(config, field+encryptedSuffix)
	}
	return nil
}

func isMarked(config map[string]any, field string) bool {
	marked, ok := config[field+encryptedSuffix].(bool)
	return ok && marked
}
