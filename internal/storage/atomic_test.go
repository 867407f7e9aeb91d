package storage_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fyrsmithlabs/entityrag/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFileStore_WriteReadRoundTrip(t *testing.T) {
	fs := storage.NewFileStore(zap.NewNop())
	path := filepath.Join(t.TempDir(), "data.json")

	want := map[string]any{
		"name":  "acme",
		"count": float64(3),
		"tags":  []any{"a", "b"},
	}
	require.NoError(t, fs.WriteJSON(path, want))

	var got map[string]any
	require.NoError(t, fs.ReadJSON(path, &got))
	assert.Equal(t, want, got)
}

func TestFileStore_ReadRoundTripAfterRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")

	fs := storage.NewFileStore(zap.NewNop())
	require.NoError(t, fs.WriteJSON(path, map[string]any{"k": "v"}))

	// A fresh FileStore pointed at the same path simulates a restart.
	fs2 := storage.NewFileStore(zap.NewNop())
	var got map[string]any
	require.NoError(t, fs2.ReadJSON(path, &got))
	assert.Equal(t, "v", got["k"])
}

func TestFileStore_ReadMissingFile(t *testing.T) {
	fs := storage.NewFileStore(zap.NewNop())

	var got map[string]any
	err := fs.ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &got)
	assert.ErrorIs(t, err, storage.ErrNotExist)
}

func TestFileStore_ReadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	fs := storage.NewFileStore(zap.NewNop())
	var got map[string]any
	err := fs.ReadJSON(path, &got)
	assert.ErrorIs(t, err, storage.ErrCorruptFile)
}

func TestFileStore_OverwritePreservesOldOnMarshalFailure(t *testing.T) {
	fs := storage.NewFileStore(zap.NewNop())
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, fs.WriteJSON(path, map[string]any{"k": "old"}))

	// Channels cannot be marshaled; the target must stay untouched.
	err := fs.WriteJSON(path, map[string]any{"bad": make(chan int)})
	require.Error(t, err)

	var got map[string]any
	require.NoError(t, fs.ReadJSON(path, &got))
	assert.Equal(t, "old", got["k"])
}

func TestFileStore_NoLeftoverTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")

	fs := storage.NewFileStore(zap.NewNop())
	require.NoError(t, fs.WriteJSON(path, map[string]any{"k": "v1"}))
	require.NoError(t, fs.WriteJSON(path, map[string]any{"k": "v2"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "data.json", entries[0].Name())
}

func TestFileStore_Replace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.bin")

	fs := storage.NewFileStore(zap.NewNop())
	require.NoError(t, fs.Replace(path, func(tmpPath string) error {
		return os.WriteFile(tmpPath, []byte("artifact-v1"), 0o644)
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "artifact-v1", string(data))

	// A failing write callback must leave the target intact.
	require.Error(t, fs.Replace(path, func(tmpPath string) error {
		return assert.AnError
	}))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "artifact-v1", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStore_CreatesParentDirectories(t *testing.T) {
	fs := storage.NewFileStore(zap.NewNop())
	path := filepath.Join(t.TempDir(), "nested", "deeper", "data.json")

	require.NoError(t, fs.WriteJSON(path, map[string]any{"k": "v"}))

	var got map[string]any
	require.NoError(t, fs.ReadJSON(path, &got))
	assert.Equal(t, "v", got["k"])
}
