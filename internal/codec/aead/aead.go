// Package aead implements the sealed-token format used by the Credential
// Codec's header mode: AES-256-GCM with a random 12-byte nonce, a 16-byte
// tag, and associated data bound to the token's name.
//
// The wire format uses a versioned-header scheme: a version prefix, the
// VersionHeaderSeparator, then a single base64url blob containing
// nonce||ciphertext||tag.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/swfrench/gosession/internal/codec/common"
)

// Version is the version identifier prefix for this sealed-token format.
const Version = "g1"

const header = Version + common.VersionHeaderSeparator

// Sizes, kept in sync with the AEAD construction below.
const (
	NonceLen = 12
	TagLen   = 16
	KeyLen   = 32
)

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLen {
		return nil, fmt.Errorf("aead: key must be %d bytes, got %d: %w", KeyLen, len(key), common.ErrBadToken)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aead: failed to init AES cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext under key, authenticating aad (typically the
// token's name), and returns the resulting token string.
func Seal(key []byte, aad, plaintext []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, NonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("aead: failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, aad)
	return header + base64.URLEncoding.EncodeToString(sealed), nil
}

// Open verifies and decrypts a token produced by Seal, authenticating aad.
// A base64, length, or MAC failure is reported as common.ErrBadSeal; a token
// without a version header as common.ErrBadToken, and one with an
// unrecognized version prefix as common.ErrUnsupportedVersion.
func Open(key []byte, aad []byte, token string) ([]byte, error) {
	if !strings.HasPrefix(token, header) {
		if strings.Contains(token, common.VersionHeaderSeparator) {
			return nil, fmt.Errorf("aead: unrecognized version prefix: %w", common.ErrUnsupportedVersion)
		}
		return nil, fmt.Errorf("aead: missing version header: %w", common.ErrBadToken)
	}
	body := token[len(header):]
	sealed, err := base64.URLEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("aead: bad base64 (error: %v): %w", err, common.ErrBadSeal)
	}
	if len(sealed) < NonceLen+TagLen {
		return nil, fmt.Errorf("aead: sealed value too short: %w", common.ErrBadSeal)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce, cipherAndTag := sealed[:NonceLen], sealed[NonceLen:]
	plaintext, err := gcm.Open(nil, nonce, cipherAndTag, aad)
	if err != nil {
		return nil, fmt.Errorf("aead: open failed: %w", common.ErrBadSeal)
	}
	return plaintext, nil
}
