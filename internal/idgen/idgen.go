// Package idgen provides the pluggable SessionId generator used by Store,
// defaulting to a version-4 UUID.
package idgen

import "github.com/google/uuid"

// Generator produces new candidate session identifiers. Implementations need
// not guarantee uniqueness: Store additionally verifies candidates against
// the live set, the membership filter, and the backend before accepting one.
type Generator func() string

// DefaultUUIDv4 is the default Generator: a 36-character hyphenated UUIDv4
// string.
func DefaultUUIDv4() string {
	return uuid.NewString()
}
