package client_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-taskauth/client"
)

func TestFileStorage_SaveLoadClear(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	storage := client.NewFileStorage(path)

	values, err := storage.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, values)

	want := map[string]string{
		client.KeyAuthToken:    "token",
		client.KeyUser:         `{"id":"1"}`,
		client.KeyRefreshToken: "refresh",
		client.KeyLastLoginAt:  "2024-01-01T00:00:00Z",
	}
	require.NoError(t, storage.Save(ctx, want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := storage.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, storage.Save(ctx, map[string]string{client.KeyAuthToken: "other"}))
	got, err = storage.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{client.KeyAuthToken: "other"}, got)

	require.NoError(t, storage.Clear(ctx))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, storage.Clear(ctx))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Empty(t, entries, "no temp files left behind")
}

func TestFileStorage_CorruptFileIsReported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	values, err := client.NewFileStorage(path).Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrCorruptSession)
	assert.Nil(t, values)

	_, err = os.Stat(path)
	assert.NoError(t, err, "Load leaves the file for the caller to clear")
}

func TestMemoryStorage_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	storage := client.NewMemoryStorage()

	in := map[string]string{client.KeyAuthToken: "a"}
	require.NoError(t, storage.Save(ctx, in))
	in[client.KeyAuthToken] = "mutated"

	out, err := storage.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", out[client.KeyAuthToken])

	out[client.KeyAuthToken] = "mutated"
	again, err := storage.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", again[client.KeyAuthToken])
}
