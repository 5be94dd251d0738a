// Package gcpauth holds the process-wide Google Cloud access token used by
// the Vertex AI client.
package gcpauth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CloudPlatformScope is the OAuth scope required by Vertex AI.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Static errors for credential handling.
var (
	// ErrNoToken is returned when the token source yields an empty token.
	ErrNoToken = errors.New("gcpauth: token source returned an empty access token")
)

const (
	defaultLeeway   = 2 * time.Minute
	defaultLifetime = 10 * time.Minute
)

// Manager caches one access token and refreshes it shortly before expiry.
// It is safe for concurrent use; refreshes are serialized by one mutex so
// concurrent callers never trigger duplicate refreshes.
type Manager struct {
	mu     sync.Mutex
	source oauth2.TokenSource
	token  *oauth2.Token
	leeway time.Duration
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLeeway sets how long before expiry a token is refreshed.
func WithLeeway(d time.Duration) Option {
	return func(m *Manager) {
		m.leeway = d
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager over an arbitrary token source.
func NewManager(source oauth2.TokenSource, opts ...Option) *Manager {
	m := &Manager{
		source: source,
		leeway: defaultLeeway,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewFromServiceAccount loads credentials from a service account key file,
// or from Application Default Credentials when path is empty.
func NewFromServiceAccount(ctx context.Context, path string, opts ...Option) (*Manager, error) {
	var (
		creds *google.Credentials
		err   error
	)
	if path != "" {
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("gcpauth: read service account file: %w", readErr)
		}
		creds, err = google.CredentialsFromJSON(ctx, data, CloudPlatformScope)
	} else {
		creds, err = google.FindDefaultCredentials(ctx, CloudPlatformScope)
	}
	if err != nil {
		return nil, fmt.Errorf("gcpauth: load credentials: %w", err)
	}
	return NewManager(creds.TokenSource, opts...), nil
}

// Token returns a valid access token, refreshing it when it expires within
// the leeway.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != nil && m.now().Add(m.leeway).Before(m.token.Expiry) {
		return m.token.AccessToken, nil
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok, err := m.source.Token()
	if err != nil {
		return "", fmt.Errorf("gcpauth: refresh token: %w", err)
	}
	if tok == nil || tok.AccessToken == "" {
		return "", ErrNoToken
	}
	if tok.Expiry.IsZero() {
		tok.Expiry = m.now().Add(defaultLifetime)
	}
	m.token = tok
	return tok.AccessToken, nil
}

// AuthorizationHeader returns the bearer header value for the current token.
func (m *Manager) AuthorizationHeader(ctx context.Context) (string, error) {
	tok, err := m.Token(ctx)
	if err != nil {
		return "", err
	}
	return "Bearer " + tok, nil
}
