package fingerprint_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/swfrench/gosession/internal/codec/fingerprint"
)

func newRequest() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:54321"
	r.Header.Set("User-Agent", "test-agent/1.0")
	r.Header.Set("X-Forwarded-For", "198.51.100.2")
	r.Header.Set("X-Real-IP", "198.51.100.3")
	return r
}

func TestDeriveZeroValueIsEmpty(t *testing.T) {
	got := fingerprint.Derive(fingerprint.Config{}, newRequest())
	assert.Empty(t, got)
}

func TestDeriveIsStableForSameAttributes(t *testing.T) {
	cfg := fingerprint.Config{UseIP: true, UseUserAgent: true}
	r := newRequest()
	a := fingerprint.Derive(cfg, r)
	b := fingerprint.Derive(cfg, r)
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a)
}

func TestDeriveChangesWithSelectedAttributes(t *testing.T) {
	r := newRequest()
	onlyIP := fingerprint.Derive(fingerprint.Config{UseIP: true}, r)
	onlyUA := fingerprint.Derive(fingerprint.Config{UseUserAgent: true}, r)
	assert.NotEqual(t, onlyIP, onlyUA)
}

func TestDeriveHonorsConfiguredRealIPHeader(t *testing.T) {
	r := newRequest()
	withDefault := fingerprint.Derive(fingerprint.Config{UseRealIP: true}, r)
	withCustomHeader := fingerprint.Derive(fingerprint.Config{UseRealIP: true, RealIPHeader: "X-Forwarded-For"}, r)
	assert.NotEqual(t, withDefault, withCustomHeader)
}
