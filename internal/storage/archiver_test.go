package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// uploadRecorder keeps scratch files on disk and records uploads.
type uploadRecorder struct {
	*LocalStorage
	key         string
	contentType string
	body        string
	err         error
}

func (u *uploadRecorder) Upload(_ context.Context, key, contentType string, data io.Reader) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	u.key, u.contentType, u.body = key, contentType, string(b)
	return "https://renderly-archive.s3.us-east-1.amazonaws.com/" + key, nil
}

func scratchFiles(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return entries
}

func TestVideoArchiver_Archive(t *testing.T) {
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/video/vid-1.mp4", r.URL.Path)
		_, _ = w.Write([]byte("final video"))
	}))
	defer source.Close()

	store := &uploadRecorder{LocalStorage: setupTestStorage(t)}
	archiver := NewVideoArchiver(store)

	url, err := archiver.Archive(context.Background(), "job-1", source.URL+"/video/vid-1.mp4")
	require.NoError(t, err)

	assert.Equal(t, "https://renderly-archive.s3.us-east-1.amazonaws.com/videos/job-1.mp4", url)
	assert.Equal(t, "videos/job-1.mp4", store.key)
	assert.Equal(t, VideoContentType, store.contentType)
	assert.Equal(t, "final video", store.body)
	assert.Empty(t, scratchFiles(t, store.TempDir()))
}

func TestVideoArchiver_DownloadFails(t *testing.T) {
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "expired link", http.StatusForbidden)
	}))
	defer source.Close()

	store := &uploadRecorder{LocalStorage: setupTestStorage(t)}
	_, err := NewVideoArchiver(store).Archive(context.Background(), "job-1", source.URL)

	require.ErrorIs(t, err, ErrDownloadFailed)
	assert.Contains(t, err.Error(), "403")
	assert.Empty(t, store.key)
}

func TestVideoArchiver_UploadFailsCleansUp(t *testing.T) {
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("final video"))
	}))
	defer source.Close()

	store := &uploadRecorder{LocalStorage: setupTestStorage(t), err: ErrS3NotConfigured}
	_, err := NewVideoArchiver(store).Archive(context.Background(), "job-1", source.URL)

	require.ErrorIs(t, err, ErrS3NotConfigured)
	assert.Empty(t, scratchFiles(t, store.TempDir()))
}

func TestVideoArchiver_RequiresSource(t *testing.T) {
	_, err := NewVideoArchiver(setupTestStorage(t)).Archive(context.Background(), "job-1", "")
	assert.ErrorIs(t, err, ErrSourceRequired)
}

func TestArchiveKey(t *testing.T) {
	assert.Equal(t, "videos/3f2b6c1e.mp4", ArchiveKey("3f2b6c1e"))
}
