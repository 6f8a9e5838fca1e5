// Package codec implements the Credential Codec: cookie/header parsing and
// emission, AEAD encryption for header mode, signed/private cookies for
// cookie mode, and client-fingerprint binding, per the design's Credential
// Codec component.
package codec

import (
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/hkdf"

	"github.com/swfrench/gosession/config"
	"github.com/swfrench/gosession/internal/codec/aead"
	"github.com/swfrench/gosession/internal/codec/common"
	"github.com/swfrench/gosession/internal/codec/fingerprint"
)

// ErrBadSeal is returned (or, per the fail-closed contract, simply folded
// into an "absent" result) when a token fails authentication.
var ErrBadSeal = common.ErrBadSeal

// fingerprintSeparator joins the fingerprint prefix to the token's true
// value before sealing. It must not appear in any fingerprint attribute
// value; attribute values are pipe-joined by the fingerprint package and
// this separator is a control byte, so collisions are not a concern.
const fingerprintSeparator = "\x00"

// Codec parses and emits the three Credential Codec tokens (session id,
// storable, and - in PerSession mode - session-key id) as either cookies or
// headers, per cfg.TransportMode.
type Codec struct {
	cfg *config.Config
	fp  fingerprint.Config
}

// New returns a Codec for cfg. Fingerprint binding is applied only when
// cfg.Cookie.WithIPAndUserAgent is set.
func New(cfg *config.Config) *Codec {
	c := &Codec{cfg: cfg}
	if cfg.Cookie.WithIPAndUserAgent {
		c.fp = cfg.IPUserAgent.ToFingerprintConfig()
	}
	return c
}

// deriveCookieKeys derives a 32-byte hash key and a 32-byte block key from
// masterKey via HKDF-SHA256, the same key-derivation approach already used
// elsewhere in this module for splitting one master secret into several
// independent subkeys.
func deriveCookieKeys(masterKey []byte) (hashKey, blockKey []byte, err error) {
	prk := hkdf.Extract(sha256.New, masterKey, nil)
	hashKey = make([]byte, 32)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, []byte("cookie-hash")), hashKey); err != nil {
		return nil, nil, err
	}
	blockKey = make([]byte, 32)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, []byte("cookie-block")), blockKey); err != nil {
		return nil, nil, err
	}
	return hashKey, blockKey, nil
}

func secureCookie(masterKey []byte) (*securecookie.SecureCookie, error) {
	if masterKey == nil {
		return nil, nil
	}
	hashKey, blockKey, err := deriveCookieKeys(masterKey)
	if err != nil {
		return nil, err
	}
	return securecookie.New(hashKey, blockKey), nil
}

func withFingerprint(fp []byte, value string) string {
	if len(fp) == 0 {
		return value
	}
	return string(fp) + fingerprintSeparator + value
}

func splitFingerprint(fp []byte, sealed string) (string, error) {
	if len(fp) == 0 {
		return sealed, nil
	}
	prefix := string(fp) + fingerprintSeparator
	if !strings.HasPrefix(sealed, prefix) {
		return "", common.ErrBadSeal
	}
	return sealed[len(prefix):], nil
}

// cookieName returns name, applying the host-prefix transform when
// configured (forcing Path "/", no Domain, Secure=true at the call site).
func (c *Codec) cookieName(name string) string {
	if c.cfg.Cookie.PrefixWithHost {
		return "__Host-" + name
	}
	return name
}

// Get parses the inbound token named name, using key to verify/decrypt it
// (key may be nil for cleartext tokens), binding it to the request's
// fingerprint per cfg.IPUserAgent. Any parse, MAC, or fingerprint failure is
// reported as absent (ok == false with a nil error) - this function never
// returns a value that failed verification. The only error it returns is a
// failure to derive the cookie keys.
func (c *Codec) Get(r *http.Request, name string, key []byte) (string, bool, error) {
	fp := fingerprint.Derive(c.fp, r)
	if c.cfg.TransportMode == config.Header {
		raw := r.Header.Get(name)
		if raw == "" {
			return "", false, nil
		}
		if key == nil {
			value, err := splitFingerprint(fp, raw)
			if err != nil {
				return "", false, nil
			}
			return value, true, nil
		}
		plaintext, err := aead.Open(key, []byte(name), raw)
		if err != nil {
			return "", false, nil
		}
		value, err := splitFingerprint(fp, string(plaintext))
		if err != nil {
			return "", false, nil
		}
		return value, true, nil
	}

	cookieName := c.cookieName(name)
	ck, err := r.Cookie(cookieName)
	if err != nil {
		return "", false, nil
	}
	sc, err := secureCookie(key)
	if err != nil {
		return "", false, fmt.Errorf("codec: failed to derive cookie keys: %w", err)
	}
	if sc == nil {
		value, err := splitFingerprint(fp, ck.Value)
		if err != nil {
			return "", false, nil
		}
		return value, true, nil
	}
	var sealed string
	if err := sc.Decode(cookieName, ck.Value, &sealed); err != nil {
		return "", false, nil
	}
	value, err := splitFingerprint(fp, sealed)
	if err != nil {
		return "", false, nil
	}
	return value, true, nil
}

// Set emits the token named name with the given value, sealed under key
// (nil for cleartext), valid for maxAge starting from now. Callers pass
// their own clock (rather than this package calling time.Now directly) so
// that cookie expiry stays controllable under a Store's overridden Clock,
// the same way the Store's own expiry computations are.
func (c *Codec) Set(w http.ResponseWriter, r *http.Request, name, value string, key []byte, maxAge time.Duration, now time.Time) error {
	if maxAge <= 0 {
		maxAge = c.cfg.Cookie.MaxAge
	}
	fp := fingerprint.Derive(c.fp, r)
	sealed := withFingerprint(fp, value)

	if c.cfg.TransportMode == config.Header {
		if key == nil {
			w.Header().Set(name, sealed)
			return nil
		}
		token, err := aead.Seal(key, []byte(name), []byte(sealed))
		if err != nil {
			return fmt.Errorf("codec: failed to seal header token %q: %w", name, err)
		}
		w.Header().Set(name, token)
		return nil
	}

	cookieName := c.cookieName(name)
	value = sealed
	if key != nil {
		sc, err := secureCookie(key)
		if err != nil {
			return fmt.Errorf("codec: failed to derive cookie keys: %w", err)
		}
		encoded, err := sc.Encode(cookieName, sealed)
		if err != nil {
			return fmt.Errorf("codec: failed to encode cookie %q: %w", name, err)
		}
		value = encoded
	}
	http.SetCookie(w, c.buildCookie(cookieName, value, now.Add(maxAge)))
	return nil
}

// Tombstone emits a removal credential for the token named name: an empty
// value with a past expiry, causing the client to discard any existing
// cookie/header of that name. Per the design's invariant, a tombstone never
// carries a fabricated value.
func (c *Codec) Tombstone(w http.ResponseWriter, name string) {
	if c.cfg.TransportMode == config.Header {
		w.Header().Set(name, "")
		return
	}
	cookieName := c.cookieName(name)
	cookie := c.buildCookie(cookieName, "", time.Unix(0, 0))
	cookie.MaxAge = -1
	http.SetCookie(w, cookie)
}

func (c *Codec) buildCookie(name, value string, expires time.Time) *http.Cookie {
	cc := c.cfg.Cookie
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     cc.Path,
		Secure:   cc.Secure,
		HttpOnly: cc.HTTPOnly,
		SameSite: cc.SameSite,
	}
	if cc.PrefixWithHost {
		cookie.Path = "/"
		cookie.Domain = ""
		cookie.Secure = true
	} else if cc.Domain != "" {
		cookie.Domain = cc.Domain
	}
	if !expires.IsZero() {
		cookie.Expires = expires
	}
	return cookie
}
