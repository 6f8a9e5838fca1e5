package sessionkey_test

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swfrench/gosession/sessionkey"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestEncryptDecryptAtRestRoundTrip(t *testing.T) {
	master := randomKey(t)
	autoremove := time.Now().Add(time.Hour)
	k, err := sessionkey.New("key-1", autoremove)
	require.NoError(t, err)

	sealed, err := k.EncryptAtRest(master)
	require.NoError(t, err)

	got, err := sessionkey.DecryptAtRest(master, "key-1", sealed, autoremove)
	require.NoError(t, err)
	assert.Equal(t, k.Secret, got.Secret)
	assert.Equal(t, "key-1", got.ID)
}

func TestDecryptAtRestRejectsIDMismatch(t *testing.T) {
	master := randomKey(t)
	k, err := sessionkey.New("key-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	sealed, err := k.EncryptAtRest(master)
	require.NoError(t, err)

	_, err = sessionkey.DecryptAtRest(master, "key-2", sealed, time.Now())
	assert.Error(t, err)
}

func TestDecryptAtRestRejectsWrongMasterKey(t *testing.T) {
	k, err := sessionkey.New("key-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	sealed, err := k.EncryptAtRest(randomKey(t))
	require.NoError(t, err)

	_, err = sessionkey.DecryptAtRest(randomKey(t), "key-1", sealed, time.Now())
	assert.Error(t, err)
}
