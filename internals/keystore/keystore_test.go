package keystore

import (
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"relay/internals/models"
	"testing"
)

func TestEnsureKeyCreatesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.key")
	store := New(path)

	key, created, err := store.EnsureKey()
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, key, 64)

	again, created, err := store.EnsureKey()
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, key, again)

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, key, string(onDisk))
}

func TestEnsureKeyKeepsExistingKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.key")
	require.NoError(t, os.WriteFile(path, []byte("handmade\n"), 0o600))

	key, created, err := New(path).EnsureKey()
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "handmade", key)
}

func TestEnsureKeyFailsOnEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.key")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	_, _, err := New(path).EnsureKey()
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrKeyUnavailable))
}

func TestCurrentKeyMissing(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope.key")).CurrentKey()
	assert.True(t, errors.Is(err, models.ErrKeyUnavailable))
}

func TestGenerateIsRandom(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
