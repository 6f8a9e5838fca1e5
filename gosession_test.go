package gosession_test

import (
	"context"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swfrench/gosession"
	"github.com/swfrench/gosession/config"
	"github.com/swfrench/gosession/internal/codec"
	"github.com/swfrench/gosession/internal/testutil"
	"github.com/swfrench/gosession/store/memory"
	"github.com/swfrench/gosession/store/redis"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func doRequest(t *testing.T, h http.Handler, cookies []*http.Cookie) *http.Response {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		r.AddCookie(c)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w.Result()
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// cookieValue opens c under key the same way the middleware reads it back,
// since a keyed cookie's raw value is the sealed encoding, not the token.
func cookieValue(t *testing.T, cfg *config.Config, c *http.Cookie, key []byte) string {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(c)
	v, ok, err := codec.New(cfg).Get(r, c.Name, key)
	require.NoError(t, err)
	require.True(t, ok)
	return v
}

// TestPersistentModeFirstVisitAndRoundTrip covers end-to-end scenario 1: a
// fresh visit mints a session cookie, writes persist under it, and a
// follow-up request carrying that cookie observes the same data.
func TestPersistentModeFirstVisitAndRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.Cookie.Key = randomKey(t)
	s := gosession.NewStore(cfg, memory.New())

	var seenID string
	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle, ok := gosession.FromContext(r.Context())
		require.True(t, ok)
		seenID = handle.ID()
		require.NoError(t, handle.Set("count", "1"))
	}))

	resp1 := doRequest(t, h, nil)
	sessionCookie := findCookie(resp1, cfg.Cookie.SessionName)
	require.NotNil(t, sessionCookie)
	assert.Equal(t, seenID, cookieValue(t, cfg, sessionCookie, cfg.Cookie.Key))
	firstID := seenID

	h2 := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle, ok := gosession.FromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, firstID, handle.ID())
		v, ok := handle.Get("count")
		assert.True(t, ok)
		assert.Equal(t, "1", v)
	}))
	doRequest(t, h2, []*http.Cookie{sessionCookie})
}

// TestOptInModeOnlyPersistsAfterSetStore covers scenario 2.
func TestOptInModeOnlyPersistsAfterSetStore(t *testing.T) {
	cfg := config.Default()
	cfg.SessionMode = config.OptIn
	cfg.Cookie.Key = randomKey(t)
	backend := memory.New()
	s := gosession.NewStore(cfg, backend)

	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle, _ := gosession.FromContext(r.Context())
		require.NoError(t, handle.SetStore(true))
		require.NoError(t, handle.Set("x", "y"))
	}))

	resp := doRequest(t, h, nil)
	assert.NotNil(t, findCookie(resp, cfg.Cookie.SessionName))
	storeCookie := findCookie(resp, cfg.Cookie.StoreName)
	require.NotNil(t, storeCookie)
	assert.Equal(t, "true", cookieValue(t, cfg, storeCookie, cfg.Cookie.Key))

	count, err := backend.Count(context.Background(), cfg.Database.TableName)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

// TestRenewRotatesIDPreservingData covers scenario 3.
func TestRenewRotatesIDPreservingData(t *testing.T) {
	cfg := config.Default()
	cfg.Cookie.Key = randomKey(t)
	backend := memory.New()
	s := gosession.NewStore(cfg, backend)

	var oldID string
	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle, _ := gosession.FromContext(r.Context())
		oldID = handle.ID()
		require.NoError(t, handle.Set("count", "5"))
	}))
	resp1 := doRequest(t, h, nil)
	sessionCookie := findCookie(resp1, cfg.Cookie.SessionName)

	h2 := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle, _ := gosession.FromContext(r.Context())
		require.NoError(t, handle.Renew())
	}))
	resp2 := doRequest(t, h2, []*http.Cookie{sessionCookie})
	newCookie := findCookie(resp2, cfg.Cookie.SessionName)
	require.NotNil(t, newCookie)
	newID := cookieValue(t, cfg, newCookie, cfg.Cookie.Key)
	assert.NotEqual(t, oldID, newID)

	exists, err := backend.Exists(context.Background(), oldID, cfg.Database.TableName)
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = backend.Exists(context.Background(), newID, cfg.Database.TableName)
	require.NoError(t, err)
	assert.True(t, exists)

	h3 := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle, _ := gosession.FromContext(r.Context())
		v, ok := handle.Get("count")
		assert.True(t, ok)
		assert.Equal(t, "5", v)
	}))
	doRequest(t, h3, []*http.Cookie{newCookie})
}

// TestDestroyEmitsTombstoneAndRemovesBackendRow covers scenario 4.
func TestDestroyEmitsTombstoneAndRemovesBackendRow(t *testing.T) {
	cfg := config.Default()
	cfg.Cookie.Key = randomKey(t)
	backend := memory.New()
	s := gosession.NewStore(cfg, backend)

	var id string
	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle, _ := gosession.FromContext(r.Context())
		id = handle.ID()
	}))
	resp1 := doRequest(t, h, nil)
	sessionCookie := findCookie(resp1, cfg.Cookie.SessionName)

	h2 := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle, _ := gosession.FromContext(r.Context())
		require.NoError(t, handle.Destroy())
	}))
	resp2 := doRequest(t, h2, []*http.Cookie{sessionCookie})

	tombstone := findCookie(resp2, cfg.Cookie.SessionName)
	require.NotNil(t, tombstone)
	assert.Equal(t, "", tombstone.Value)
	assert.Less(t, tombstone.MaxAge, 0)

	exists, err := backend.Exists(context.Background(), id, cfg.Database.TableName)
	require.NoError(t, err)
	assert.False(t, exists)
}

// TestBadSealTreatedAsAbsent covers scenario 6: a session cookie sealed
// under a different key must never be honored, and must never be echoed
// back to the client.
func TestBadSealTreatedAsAbsent(t *testing.T) {
	cfg := config.Default()
	cfg.Cookie.Key = randomKey(t)
	s := gosession.NewStore(cfg, memory.New())

	attacker := config.Default()
	attacker.Cookie.Key = randomKey(t)
	attackerCodecStore := gosession.NewStore(attacker, memory.New())

	h := attackerCodecStore.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	forged := doRequest(t, h, nil)
	forgedCookie := findCookie(forged, cfg.Cookie.SessionName)
	require.NotNil(t, forgedCookie)

	var seenID string
	h2 := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle, _ := gosession.FromContext(r.Context())
		seenID = handle.ID()
	}))
	resp := doRequest(t, h2, []*http.Cookie{forgedCookie})

	fresh := findCookie(resp, cfg.Cookie.SessionName)
	require.NotNil(t, fresh)
	assert.Equal(t, seenID, cookieValue(t, cfg, fresh, cfg.Cookie.Key))
	assert.NotEqual(t, forgedCookie.Value, fresh.Value)
}

// TestRedisBackendPersistsAcrossRequests exercises a non-memory backend end
// to end, reusing the shared miniredis test harness.
func TestRedisBackendPersistsAcrossRequests(t *testing.T) {
	rb := testutil.MustCreateRedisBundle(t)
	defer rb.Close()

	cfg := config.Default()
	cfg.Cookie.Key = randomKey(t)
	s := gosession.NewStore(cfg, redis.New(rb.Client()))

	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle, _ := gosession.FromContext(r.Context())
		require.NoError(t, handle.Set("count", "1"))
	}))
	resp := doRequest(t, h, nil)
	sessionCookie := findCookie(resp, cfg.Cookie.SessionName)
	require.NotNil(t, sessionCookie)

	h2 := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle, _ := gosession.FromContext(r.Context())
		v, ok := handle.Get("count")
		assert.True(t, ok)
		assert.Equal(t, "1", v)
	}))
	doRequest(t, h2, []*http.Cookie{sessionCookie})
}

// TestManualModeRequiresCreateData covers Manual mode: a fresh
// visit that never calls CreateData must not mint a session, and one that
// does must persist and round-trip like any other mode.
func TestManualModeRequiresCreateData(t *testing.T) {
	cfg := config.Default()
	cfg.SessionMode = config.Manual
	cfg.Cookie.Key = randomKey(t)
	backend := memory.New()
	s := gosession.NewStore(cfg, backend)

	hNoOp := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle, ok := gosession.FromContext(r.Context())
		require.True(t, ok)
		_, present := handle.Get("count")
		assert.False(t, present)
	}))
	respNoOp := doRequest(t, hNoOp, nil)
	noOpCookie := findCookie(respNoOp, cfg.Cookie.SessionName)
	require.NotNil(t, noOpCookie)
	assert.Equal(t, "", noOpCookie.Value)
	assert.Less(t, noOpCookie.MaxAge, 0)

	var id string
	hCreate := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle, _ := gosession.FromContext(r.Context())
		id = handle.ID()
		require.NoError(t, handle.CreateData())
		require.NoError(t, handle.Set("count", "1"))
	}))
	resp := doRequest(t, hCreate, nil)
	sessionCookie := findCookie(resp, cfg.Cookie.SessionName)
	require.NotNil(t, sessionCookie)
	assert.Equal(t, id, cookieValue(t, cfg, sessionCookie, cfg.Cookie.Key))
	storeCookie := findCookie(resp, cfg.Cookie.StoreName)
	require.NotNil(t, storeCookie)
	assert.Equal(t, "true", cookieValue(t, cfg, storeCookie, cfg.Cookie.Key))

	exists, err := backend.Exists(context.Background(), id, cfg.Database.TableName)
	require.NoError(t, err)
	assert.True(t, exists)

	hRead := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle, _ := gosession.FromContext(r.Context())
		v, ok := handle.Get("count")
		assert.True(t, ok)
		assert.Equal(t, "1", v)
	}))
	doRequest(t, hRead, []*http.Cookie{sessionCookie})
}

// TestCreateDataRejectedOutsideManualMode covers the invariant-violation
// edge case: calling CreateData under any other SessionMode is a usage
// error, not a silent no-op.
func TestCreateDataRejectedOutsideManualMode(t *testing.T) {
	cfg := config.Default()
	cfg.Cookie.Key = randomKey(t)
	s := gosession.NewStore(cfg, memory.New())

	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle, _ := gosession.FromContext(r.Context())
		err := handle.CreateData()
		assert.ErrorIs(t, err, gosession.ErrManualModeViolation)
	}))
	doRequest(t, h, nil)
}

// TestRenewRotatesSessionKeyInPerSessionMode covers the PerSession half of
// renewal: the session-key-id credential must also rotate, and the old key
// row must be deleted durably, not just the session record's own ID.
func TestRenewRotatesSessionKeyInPerSessionMode(t *testing.T) {
	cfg := config.Default()
	cfg.SecurityMode = config.PerSession
	cfg.Cookie.Key = randomKey(t)
	cfg.Database.DatabaseKey = randomKey(t)
	backend := memory.New()
	s := gosession.NewStore(cfg, backend)

	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle, _ := gosession.FromContext(r.Context())
		require.NoError(t, handle.Set("count", "1"))
	}))
	resp1 := doRequest(t, h, nil)
	sessionCookie := findCookie(resp1, cfg.Cookie.SessionName)
	require.NotNil(t, sessionCookie)
	keyCookie := findCookie(resp1, cfg.Cookie.KeyCookieName)
	require.NotNil(t, keyCookie)

	h2 := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle, _ := gosession.FromContext(r.Context())
		require.NoError(t, handle.Renew())
	}))
	resp2 := doRequest(t, h2, []*http.Cookie{sessionCookie, keyCookie})
	newKeyCookie := findCookie(resp2, cfg.Cookie.KeyCookieName)
	require.NotNil(t, newKeyCookie)
	assert.NotEqual(t, keyCookie.Value, newKeyCookie.Value)

	exists, err := backend.Exists(context.Background(), cookieValue(t, cfg, keyCookie, cfg.Cookie.Key), "sessions_keys")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = backend.Exists(context.Background(), cookieValue(t, cfg, newKeyCookie, cfg.Cookie.Key), "sessions_keys")
	require.NoError(t, err)
	assert.True(t, exists)
}

