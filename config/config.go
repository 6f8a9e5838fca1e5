// Package config defines the tunable policy surface for gosession's Store
// and Middleware, per the configuration options enumerated in the design
// this module implements.
package config

import (
	"net/http"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/swfrench/gosession/internal/codec/fingerprint"
	"github.com/swfrench/gosession/internal/idgen"
)

// SessionMode controls session creation-and-save policy.
type SessionMode int

const (
	// Persistent: a record always exists and is always saved.
	Persistent SessionMode = iota
	// OptIn: a record always exists, but is saved only once storable=true.
	OptIn
	// Manual: a record exists only after an explicit CreateData call.
	Manual
)

func (m SessionMode) String() string {
	switch m {
	case Persistent:
		return "persistent"
	case OptIn:
		return "opt-in"
	case Manual:
		return "manual"
	default:
		return "unknown"
	}
}

// IsOptIn reports whether m is OptIn.
func (m SessionMode) IsOptIn() bool { return m == OptIn }

// IsManual reports whether m is Manual.
func (m SessionMode) IsManual() bool { return m == Manual }

// IsStorable reports whether a record's storable flag gates credential
// emission under m - true for OptIn and Manual, false for Persistent (which
// always emits).
func (m SessionMode) IsStorable() bool { return m == OptIn || m == Manual }

// SecurityMode controls which key seals cookie/header values.
type SecurityMode int

const (
	// Simple: all sessions are sealed with the single master key.
	Simple SecurityMode = iota
	// PerSession: each session is sealed with its own SessionKey, itself
	// persisted encrypted-at-rest under the master key.
	PerSession
)

// TransportMode selects how credentials are carried.
type TransportMode int

const (
	// Cookie: tokens are carried as Set-Cookie/Cookie headers (browser mode).
	Cookie TransportMode = iota
	// Header: tokens are carried as named, AEAD-sealed headers (REST mode).
	Header
)

// SameSite mirrors http.SameSite, re-exported so callers need not import
// net/http merely to set cookie.same_site.
type SameSite = http.SameSite

const (
	SameSiteDefault = http.SameSiteDefaultMode
	SameSiteLax     = http.SameSiteLaxMode
	SameSiteStrict  = http.SameSiteStrictMode
	SameSiteNone    = http.SameSiteNoneMode
)

// MemoryConfig groups in-memory live-set policy.
type MemoryConfig struct {
	// MemoryLifespan is the in-memory autoremove duration. Zero disables
	// memory retention between requests.
	MemoryLifespan time.Duration `env:"MEMORY_LIFESPAN" envDefault:"60m"`
	// PurgeUpdate is the sweep interval for the live set.
	PurgeUpdate time.Duration `env:"MEMORY_PURGE_UPDATE" envDefault:"1h"`
	// FilterExpectedElements sizes the membership filter.
	FilterExpectedElements uint `env:"MEMORY_FILTER_EXPECTED_ELEMENTS" envDefault:"100000"`
	// FilterFalsePositiveProbability sizes the membership filter.
	FilterFalsePositiveProbability float64 `env:"MEMORY_FILTER_FALSE_POSITIVE_PROBABILITY" envDefault:"0.01"`
	// UseBloomFilters enables the membership filter.
	UseBloomFilters bool `env:"MEMORY_USE_BLOOM_FILTERS" envDefault:"true"`
}

// DatabaseConfig groups durable-backend policy.
type DatabaseConfig struct {
	// TableName is the logical namespace passed to the backend.
	TableName string `env:"DATABASE_TABLE_NAME" envDefault:"sessions"`
	// PurgeDatabaseUpdate is the sweep interval for durable expiry.
	PurgeDatabaseUpdate time.Duration `env:"DATABASE_PURGE_UPDATE" envDefault:"5h"`
	// AlwaysSave bypasses the dirty check on write-back.
	AlwaysSave bool `env:"DATABASE_ALWAYS_SAVE" envDefault:"false"`
	// DatabaseKey is the master key used to encrypt per-session
	// SessionKeys at rest. Required for SecurityMode == PerSession.
	DatabaseKey []byte `env:"-"`
}

// CookieConfig groups cookie/header token attributes.
type CookieConfig struct {
	SessionName    string `env:"COOKIE_SESSION_NAME" envDefault:"session"`
	StoreName      string `env:"COOKIE_STORE_NAME" envDefault:"store"`
	KeyCookieName  string `env:"COOKIE_KEY_NAME" envDefault:"key"`
	Path           string `env:"COOKIE_PATH" envDefault:"/"`
	Domain         string `env:"COOKIE_DOMAIN" envDefault:""`
	Secure         bool   `env:"COOKIE_SECURE" envDefault:"true"`
	HTTPOnly       bool   `env:"COOKIE_HTTP_ONLY" envDefault:"true"`
	SameSite       SameSite
	MaxAge         time.Duration `env:"COOKIE_MAX_AGE" envDefault:"0"`
	PrefixWithHost bool          `env:"COOKIE_PREFIX_WITH_HOST" envDefault:"false"`
	// Key is the master signing/encryption key. When nil, cookies are set
	// in cleartext (no signing, no encryption).
	Key []byte `env:"-"`
	// WithIPAndUserAgent enables client-fingerprint binding.
	WithIPAndUserAgent bool `env:"COOKIE_WITH_IP_AND_USER_AGENT" envDefault:"false"`
}

// IPUserAgentConfig selects which attributes feed fingerprint binding.
type IPUserAgentConfig struct {
	UseIP           bool `env:"FINGERPRINT_USE_IP" envDefault:"true"`
	UseXForwardedIP bool `env:"FINGERPRINT_USE_XFORWARD_IP" envDefault:"false"`
	UseForwardedIP  bool `env:"FINGERPRINT_USE_FORWARD_IP" envDefault:"false"`
	UseRealIP       bool `env:"FINGERPRINT_USE_REAL_IP" envDefault:"false"`
	UseUserAgent    bool `env:"FINGERPRINT_USE_USER_AGENT" envDefault:"true"`
}

// ToFingerprintConfig adapts c into the shape consumed by the fingerprint
// package.
func (c IPUserAgentConfig) ToFingerprintConfig() fingerprint.Config {
	return fingerprint.Config{
		UseIP:           c.UseIP,
		UseXForwardedIP: c.UseXForwardedIP,
		UseForwardedIP:  c.UseForwardedIP,
		UseRealIP:       c.UseRealIP,
		UseUserAgent:    c.UseUserAgent,
	}
}

// Config is the full tunable policy surface for a Store.
type Config struct {
	SessionMode   SessionMode
	SecurityMode  SecurityMode
	TransportMode TransportMode

	// IDGenerator produces candidate session identifiers. Defaults to
	// idgen.DefaultUUIDv4.
	IDGenerator idgen.Generator

	// Lifespan is the default duration for "expires" on write-back.
	Lifespan time.Duration `env:"LIFESPAN" envDefault:"6h"`
	// MaxLifespan is used instead of Lifespan when longterm=true.
	MaxLifespan time.Duration `env:"MAX_LIFESPAN" envDefault:"1440h"`

	Memory       MemoryConfig
	Database     DatabaseConfig
	Cookie       CookieConfig
	IPUserAgent  IPUserAgentConfig
	ClearCheckOnLoad bool `env:"CLEAR_CHECK_ON_LOAD" envDefault:"true"`
}

// Default returns a Config populated with the defaults enumerated in the
// design (no environment variables are consulted).
func Default() *Config {
	return &Config{
		SessionMode:   Persistent,
		SecurityMode:  Simple,
		TransportMode: Cookie,
		IDGenerator:   idgen.DefaultUUIDv4,
		Lifespan:      6 * time.Hour,
		MaxLifespan:   60 * 24 * time.Hour,
		Memory: MemoryConfig{
			MemoryLifespan:                  60 * time.Minute,
			PurgeUpdate:                     1 * time.Hour,
			FilterExpectedElements:          100_000,
			FilterFalsePositiveProbability:  0.01,
			UseBloomFilters:                 true,
		},
		Database: DatabaseConfig{
			TableName:           "sessions",
			PurgeDatabaseUpdate: 5 * time.Hour,
			AlwaysSave:          false,
		},
		Cookie: CookieConfig{
			SessionName:   "session",
			StoreName:     "store",
			KeyCookieName: "key",
			Path:          "/",
			Secure:        true,
			HTTPOnly:      true,
			SameSite:      SameSiteLax,
		},
		IPUserAgent: IPUserAgentConfig{
			UseIP:        true,
			UseUserAgent: true,
		},
		ClearCheckOnLoad: true,
	}
}

// FromEnv returns a Config with defaults overridden from the process
// environment (see the `env` struct tags above for variable names),
// following the same struct-tag-driven approach the wider dependency
// pack uses for process configuration.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
