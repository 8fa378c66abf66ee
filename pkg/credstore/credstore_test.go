package credstore

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadClear(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "token"))
	require.NoError(t, err)

	_, err = store.Load()
	assert.ErrorIs(t, err, ErrNoToken)

	require.NoError(t, store.Save("tok-123"))
	token, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)

	require.NoError(t, store.Clear())
	_, err = store.Load()
	assert.ErrorIs(t, err, ErrNoToken)
	assert.NoError(t, store.Clear(), "clearing twice is fine")
}

func TestSaveTrimsWhitespace(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "token"))
	require.NoError(t, err)

	require.NoError(t, store.Save("  tok-123\n"))
	token, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)
}

func TestSaveRejectsEmptyToken(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "token"))
	require.NoError(t, err)
	assert.Error(t, store.Save("   "))
}

func TestTokenFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions only")
	}
	path := filepath.Join(t.TempDir(), "token")
	store, err := New(path)
	require.NoError(t, err)
	require.NoError(t, store.Save("tok"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
