// Package sessionkey implements the per-session encryption key used when
// config.SecurityMode is PerSession: a symmetric key scoped to one session,
// persisted encrypted-at-rest under the master key. Grounded on the design's
// SessionKey lifecycle (get-or-create, renew, encrypt/decrypt-at-rest).
package sessionkey

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/swfrench/gosession/internal/codec/aead"
)

// Key is a per-session symmetric key.
type Key struct {
	ID         string    `json:"id"`
	Secret     []byte    `json:"-"`
	Autoremove time.Time `json:"autoremove"`
}

// New returns a fresh Key with a newly generated 32-byte secret.
func New(id string, autoremove time.Time) (*Key, error) {
	secret := make([]byte, aead.KeyLen)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("sessionkey: failed to generate key material: %w", err)
	}
	return &Key{ID: id, Secret: secret, Autoremove: autoremove}, nil
}

// atRest is the JSON shape persisted under the master key.
type atRest struct {
	ID     string `json:"id"`
	Secret []byte `json:"secret"`
}

// EncryptAtRest seals k's secret under masterKey, keyed (AAD) by k.ID, so
// that a row sealed for one key id cannot be opened as another id's row.
func (k *Key) EncryptAtRest(masterKey []byte) (string, error) {
	plaintext, err := json.Marshal(atRest{ID: k.ID, Secret: k.Secret})
	if err != nil {
		return "", fmt.Errorf("sessionkey: failed to marshal key for storage: %w", err)
	}
	return aead.Seal(masterKey, []byte(k.ID), plaintext)
}

// DecryptAtRest reverses EncryptAtRest, verifying the row was sealed for id.
func DecryptAtRest(masterKey []byte, id string, sealed string, autoremove time.Time) (*Key, error) {
	plaintext, err := aead.Open(masterKey, []byte(id), sealed)
	if err != nil {
		return nil, err
	}
	var v atRest
	if err := json.Unmarshal(plaintext, &v); err != nil {
		return nil, fmt.Errorf("sessionkey: failed to unmarshal stored key: %w", err)
	}
	if v.ID != id {
		return nil, fmt.Errorf("sessionkey: stored key id mismatch")
	}
	return &Key{ID: v.ID, Secret: v.Secret, Autoremove: autoremove}, nil
}
