package federation

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

// keyCipher seals peer API keys at rest with AES-256-GCM. The key is
// derived from the node secret, so peers survive restarts without a
// separate key-management step.
type keyCipher struct {
	aead cipher.AEAD
}

func newKeyCipher(secret []byte) (*keyCipher, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty cipher secret")
	}
	key := sha256.Sum256(secret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &keyCipher{aead: aead}, nil
}

// seal encrypts plaintext; the nonce is prepended to the ciphertext.
func (c *keyCipher) seal(plaintext string) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// open decrypts a value produced by seal.
func (c *keyCipher) open(sealed []byte) (string, error) {
	ns := c.aead.NonceSize()
	if len(sealed) < ns {
		return "", errors.New("ciphertext too short")
	}
	plain, err := c.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt api key: %w", err)
	}
	return string(plain), nil
}
