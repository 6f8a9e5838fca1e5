package codec_test

import (
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swfrench/gosession/config"
	"github.com/swfrench/gosession/internal/codec"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func newRequest() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:54321"
	return r
}

func TestCookieModeRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.Cookie.Key = randomKey(t)
	c := codec.New(cfg)

	w := httptest.NewRecorder()
	require.NoError(t, c.Set(w, newRequest(), cfg.Cookie.SessionName, "my-session-id", cfg.Cookie.Key, 0, time.Now()))

	r2 := newRequest()
	for _, ck := range w.Result().Cookies() {
		r2.AddCookie(ck)
	}
	got, ok, err := c.Get(r2, cfg.Cookie.SessionName, cfg.Cookie.Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "my-session-id", got)
}

func TestCookieModeCleartextWhenKeyNil(t *testing.T) {
	cfg := config.Default()
	c := codec.New(cfg)

	w := httptest.NewRecorder()
	require.NoError(t, c.Set(w, newRequest(), cfg.Cookie.SessionName, "plain-value", nil, 0, time.Now()))

	r2 := newRequest()
	for _, ck := range w.Result().Cookies() {
		r2.AddCookie(ck)
	}
	got, ok, err := c.Get(r2, cfg.Cookie.SessionName, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "plain-value", got)
}

func TestCookieModeBadSealTreatedAsAbsent(t *testing.T) {
	cfg := config.Default()
	cfg.Cookie.Key = randomKey(t)
	c := codec.New(cfg)

	w := httptest.NewRecorder()
	require.NoError(t, c.Set(w, newRequest(), cfg.Cookie.SessionName, "my-session-id", cfg.Cookie.Key, 0, time.Now()))

	r2 := newRequest()
	for _, ck := range w.Result().Cookies() {
		r2.AddCookie(ck)
	}
	_, ok, err := c.Get(r2, cfg.Cookie.SessionName, randomKey(t))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHeaderModeRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.TransportMode = config.Header
	cfg.Cookie.Key = randomKey(t)
	c := codec.New(cfg)

	w := httptest.NewRecorder()
	require.NoError(t, c.Set(w, newRequest(), cfg.Cookie.SessionName, "header-session-id", cfg.Cookie.Key, 0, time.Now()))

	r2 := newRequest()
	r2.Header.Set(cfg.Cookie.SessionName, w.Header().Get(cfg.Cookie.SessionName))
	got, ok, err := c.Get(r2, cfg.Cookie.SessionName, cfg.Cookie.Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "header-session-id", got)
}

func TestHeaderModeFingerprintMismatchIsBadSeal(t *testing.T) {
	cfg := config.Default()
	cfg.TransportMode = config.Header
	cfg.Cookie.Key = randomKey(t)
	cfg.Cookie.WithIPAndUserAgent = true
	cfg.IPUserAgent.UseIP = true
	c := codec.New(cfg)

	w := httptest.NewRecorder()
	r1 := newRequest()
	require.NoError(t, c.Set(w, r1, cfg.Cookie.SessionName, "header-session-id", cfg.Cookie.Key, 0, time.Now()))

	r2 := newRequest()
	r2.RemoteAddr = "198.51.100.7:1111"
	r2.Header.Set(cfg.Cookie.SessionName, w.Header().Get(cfg.Cookie.SessionName))
	_, ok, err := c.Get(r2, cfg.Cookie.SessionName, cfg.Cookie.Key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTombstoneEmitsPastExpiryCookie(t *testing.T) {
	cfg := config.Default()
	cfg.Cookie.Key = randomKey(t)
	c := codec.New(cfg)

	w := httptest.NewRecorder()
	c.Tombstone(w, cfg.Cookie.SessionName)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "", cookies[0].Value)
	assert.True(t, cookies[0].Expires.Before(time.Now()))
	assert.Less(t, cookies[0].MaxAge, 0)
}
