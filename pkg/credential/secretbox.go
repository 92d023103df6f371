package credential

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// SealedPrefix marks a secret value encrypted with SealSecret.
const SealedPrefix = "enc:"

const nonceSize = 24

// ErrDecrypt is returned when a sealed secret cannot be opened.
var ErrDecrypt = errors.New("cannot decrypt secret")

// ParseKey decodes a 32-byte key given as 64 hex characters or standard base64.
func ParseKey(raw string) (*[32]byte, error) {
	raw = strings.TrimSpace(raw)
	var b []byte
	var err error
	if len(raw) == 64 {
		b, err = hex.DecodeString(raw)
	} else {
		b, err = base64.StdEncoding.DecodeString(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("secret key must be 32 bytes, got %d", len(b))
	}
	var key [32]byte
	copy(key[:], b)
	return &key, nil
}

// SealSecret encrypts plaintext and returns "enc:<base64(nonce|box)>".
func SealSecret(key *[32]byte, plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, key)
	return SealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenSecret decrypts a value produced by SealSecret. Values without the
// sealed prefix are returned unchanged.
func OpenSecret(key *[32]byte, value string) (string, error) {
	if !strings.HasPrefix(value, SealedPrefix) {
		return value, nil
	}
	if key == nil {
		return "", fmt.Errorf("%w: no secret key configured", ErrDecrypt)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, SealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(data) < nonceSize+secretbox.Overhead {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], data[:nonceSize])
	plain, ok := secretbox.Open(nil, data[nonceSize:], &nonce, key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
