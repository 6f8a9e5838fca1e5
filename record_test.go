package gosession

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecordDefaults(t *testing.T) {
	now := time.Now()
	r := newRecord("id-1", true, now, time.Hour)
	assert.Equal(t, "id-1", r.ID)
	assert.True(t, r.Storable)
	assert.Empty(t, r.Data)
	assert.Equal(t, now.Add(time.Hour), r.Autoremove)
}

func TestRecordExpired(t *testing.T) {
	now := time.Now()
	r := newRecord("id-1", false, now, time.Hour)
	r.Expires = now.Add(-time.Minute)
	assert.True(t, r.expired(now))
	r.Expires = now.Add(time.Minute)
	assert.False(t, r.expired(now))
}

func TestResetIfInvalidOnExpiry(t *testing.T) {
	now := time.Now()
	r := newRecord("id-1", false, now, time.Hour)
	r.Data["k"] = "v"
	r.Expires = now.Add(-time.Minute)
	r.Renew = true

	reset := r.resetIfInvalid(now)
	require.True(t, reset)
	assert.Empty(t, r.Data)
	assert.False(t, r.Renew)
	assert.True(t, r.Expires.IsZero())
}

func TestResetIfInvalidOnDestroyFlag(t *testing.T) {
	now := time.Now()
	r := newRecord("id-1", false, now, time.Hour)
	r.Data["k"] = "v"
	r.Destroy = true

	reset := r.resetIfInvalid(now)
	require.True(t, reset)
	assert.False(t, r.Destroy)
}

func TestResetIfInvalidNoOpWhenValid(t *testing.T) {
	now := time.Now()
	r := newRecord("id-1", false, now, time.Hour)
	r.Data["k"] = "v"
	r.Expires = now.Add(time.Hour)

	reset := r.resetIfInvalid(now)
	assert.False(t, reset)
	assert.Equal(t, "v", r.Data["k"])
}

func TestRecordCloneIsIndependent(t *testing.T) {
	now := time.Now()
	r := newRecord("id-1", false, now, time.Hour)
	r.Data["k"] = "v"

	cp := r.clone()
	cp.Data["k"] = "changed"
	assert.Equal(t, "v", r.Data["k"])
	assert.Equal(t, "changed", cp.Data["k"])
}
