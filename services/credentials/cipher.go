package credentials

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// sealedPrefix marks values produced by Cipher.Encrypt. Values without it are
// treated as plaintext keys stored before encryption was enabled.
const sealedPrefix = "v1:"

// Decrypter turns a stored API key into its plaintext
type Decrypter interface {
	Decrypt(enc string) (string, bool)
}

// Cipher seals API keys with XChaCha20-Poly1305
type Cipher struct {
	key []byte
}

// NewCipher parses a 32-byte key given as hex or standard base64.
// An empty key yields a Cipher that only accepts plaintext values.
func NewCipher(key string) (*Cipher, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return &Cipher{}, nil
	}

	raw, err := hex.DecodeString(key)
	if err != nil {
		raw, err = base64.StdEncoding.DecodeString(key)
		if err != nil {
			return nil, errors.New("encryption key must be hex or base64")
		}
	}
	if len(raw) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(raw))
	}
	return &Cipher{key: raw}, nil
}

// Encrypt seals plaintext as "v1:" + base64(nonce || ciphertext)
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if c.key == nil {
		return "", errors.New("no encryption key configured")
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. ok is false when the value is
// sealed but cannot be opened with this key.
func (c *Cipher) Decrypt(enc string) (string, bool) {
	if !strings.HasPrefix(enc, sealedPrefix) {
		return enc, true
	}
	if c.key == nil {
		return "", false
	}

	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(enc, sealedPrefix))
	if err != nil {
		return "", false
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil || len(sealed) < aead.NonceSize() {
		return "", false
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", false
	}
	return string(plain), true
}
