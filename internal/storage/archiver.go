package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Static errors for archiving.
var (
	// ErrSourceRequired is returned when archiving without a source URL.
	ErrSourceRequired = errors.New("archive: source URL is required")
	// ErrDownloadFailed is returned when the source video cannot be fetched.
	ErrDownloadFailed = errors.New("archive: download failed")
)

// VideoContentType is set on archived objects.
const VideoContentType = "video/mp4"

// VideoArchiver copies finished videos from the compositor's CDN into the
// configured object store under videos/{jobID}.mp4.
type VideoArchiver struct {
	store      Storage
	httpClient *http.Client
	logger     *slog.Logger
}

// ArchiverOption configures a VideoArchiver.
type ArchiverOption func(*VideoArchiver)

// WithDownloadClient sets the HTTP client used to fetch source videos.
func WithDownloadClient(c *http.Client) ArchiverOption {
	return func(a *VideoArchiver) {
		a.httpClient = c
	}
}

// WithArchiverLogger sets the logger.
func WithArchiverLogger(l *slog.Logger) ArchiverOption {
	return func(a *VideoArchiver) {
		a.logger = l
	}
}

// NewVideoArchiver creates a VideoArchiver writing to store.
func NewVideoArchiver(store Storage, opts ...ArchiverOption) *VideoArchiver {
	a := &VideoArchiver{
		store:      store,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ArchiveKey returns the object key for a job's final video.
func ArchiveKey(jobID string) string {
	return "videos/" + jobID + ".mp4"
}

// Archive downloads sourceURL to scratch space, uploads it and returns the
// archived URL. The scratch file is removed in every case.
func (a *VideoArchiver) Archive(ctx context.Context, jobID, sourceURL string) (string, error) {
	if sourceURL == "" {
		return "", ErrSourceRequired
	}

	path, err := a.download(ctx, jobID, sourceURL)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := a.store.CleanupTemp(context.WithoutCancel(ctx), []string{path}); err != nil {
			a.logger.Warn("failed to remove archive scratch file",
				slog.String("job_id", jobID),
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}()

	f, err := a.store.LoadTemp(ctx, path)
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	url, err := a.store.Upload(ctx, ArchiveKey(jobID), VideoContentType, f)
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	return url, nil
}

func (a *VideoArchiver) download(ctx context.Context, jobID, sourceURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: create request: %w", ErrDownloadFailed, err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return "", fmt.Errorf("%w with status %d: %s", ErrDownloadFailed, resp.StatusCode, string(body))
	}

	path, err := a.store.SaveTemp(ctx, "final_"+jobID+".mp4", resp.Body)
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	return path, nil
}
