package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	storage, err := NewLocalStorage(filepath.Join(t.TempDir(), "scratch"))
	require.NoError(t, err)
	return storage
}

func TestNewLocalStorage(t *testing.T) {
	t.Run("creates directory if not exists", func(t *testing.T) {
		tempDir := filepath.Join(t.TempDir(), "nested", "scratch")

		storage, err := NewLocalStorage(tempDir)
		require.NoError(t, err)
		assert.Equal(t, tempDir, storage.TempDir())

		info, err := os.Stat(tempDir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("uses default directory when empty", func(t *testing.T) {
		storage, err := NewLocalStorage("")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(os.TempDir(), "renderly"), storage.TempDir())
	})
}

func TestTempPattern(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"final_job-1.mp4", "final_job-1_*.mp4"},
		{"clip", "clip_*"},
		{"../../etc/passwd", "passwd_*"},
		{"", "file_*"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tempPattern(tt.name))
		})
	}
}

func TestLocalStorage_SaveAndLoad(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	path, err := storage.SaveTemp(ctx, "final_job-1.mp4", bytes.NewReader([]byte("video bytes")))
	require.NoError(t, err)

	assert.Equal(t, storage.TempDir(), filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "final_job-1_"))
	assert.Equal(t, ".mp4", filepath.Ext(path))

	reader, err := storage.LoadTemp(ctx, path)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "video bytes", string(content))
}

func TestLocalStorage_LoadTempMissing(t *testing.T) {
	storage := setupTestStorage(t)
	_, err := storage.LoadTemp(context.Background(), filepath.Join(storage.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestLocalStorage_CleanupTemp(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	var paths []string
	for range 3 {
		path, err := storage.SaveTemp(ctx, "cleanup", bytes.NewReader([]byte("data")))
		require.NoError(t, err)
		paths = append(paths, path)
	}
	paths = append(paths, filepath.Join(storage.TempDir(), "already-gone"))

	require.NoError(t, storage.CleanupTemp(ctx, paths))
	for _, p := range paths {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), "file %s still exists", p)
	}
}

func TestLocalStorage_RespectsCancellation(t *testing.T) {
	storage := setupTestStorage(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := storage.SaveTemp(ctx, "test", bytes.NewReader([]byte("data")))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = storage.LoadTemp(ctx, "/some/path")
	assert.ErrorIs(t, err, context.Canceled)

	err = storage.CleanupTemp(ctx, []string{"/some/path"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalStorage_Upload(t *testing.T) {
	storage := setupTestStorage(t)
	_, err := storage.Upload(context.Background(), "videos/job-1.mp4", VideoContentType, bytes.NewReader([]byte("data")))
	assert.ErrorIs(t, err, ErrS3NotConfigured)
}
