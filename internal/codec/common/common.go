// Package common holds the error sentinels and framing constants shared by
// the sealed-token implementations under internal/codec.
package common

import "errors"

// VersionHeaderSeparator is the separator between a token's version prefix
// and its sealed body.
const VersionHeaderSeparator = "!"

var (
	// ErrUnsupportedVersion indicates that the version prefix embedded in a
	// token is not recognized by this implementation.
	ErrUnsupportedVersion = errors.New("unsupported version")
	// ErrBadToken indicates that a token string is structurally invalid.
	ErrBadToken = errors.New("bad token")
	// ErrBadSeal indicates that a token failed authentication (MAC mismatch,
	// AEAD open failure, or fingerprint mismatch). Per the fail-closed
	// contract, callers must treat this identically to "token absent".
	ErrBadSeal = errors.New("bad seal")
)
