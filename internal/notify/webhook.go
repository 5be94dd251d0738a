// Package notify delivers terminal job snapshots to caller-provided webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/maauso/renderly/internal/job"
)

// EventHeader carries the event name on every delivery.
const EventHeader = "X-Renderly-Event"

// Event names.
const (
	EventCompleted = "job.completed"
	EventFailed    = "job.failed"
)

// Static errors for webhook delivery.
var (
	// ErrDestinationRequired is returned when no webhook URL is given.
	ErrDestinationRequired = errors.New("notify: destination URL is required")
	// ErrNotTerminal is returned for a snapshot of a job that is still running.
	ErrNotTerminal = errors.New("notify: job is not in a terminal state")
	// ErrTransport is returned when the webhook cannot be reached.
	ErrTransport = errors.New("notify: transport error")
	// ErrServerError is returned when the webhook answers with a 5xx status code.
	ErrServerError = errors.New("notify: server error")
	// ErrRejected is returned when the webhook answers with a non-2xx, non-5xx status code.
	ErrRejected = errors.New("notify: delivery rejected")
)

// Failure is the error block of a failed job.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Step    string `json:"step,omitempty"`
}

// Snapshot is the job state sent to webhooks.
type Snapshot struct {
	ID                    string     `json:"id"`
	Status                string     `json:"status"`
	Progress              int        `json:"progress"`
	ProductID             string     `json:"product_id,omitempty"`
	ProductTitle          string     `json:"product_title"`
	FinalVideoURL         string     `json:"final_video_url,omitempty"`
	BrollVideoURL         string     `json:"broll_video_url,omitempty"`
	Error                 *Failure   `json:"error,omitempty"`
	CreditsUsed           int        `json:"credits_used"`
	CreatedAt             time.Time  `json:"created_at"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	ProcessingTimeSeconds float64    `json:"processing_time_seconds,omitempty"`
}

// Event is the webhook request body.
type Event struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Job       Snapshot  `json:"job"`
}

// NewSnapshot builds the webhook view of j.
func NewSnapshot(j *job.Job) Snapshot {
	s := Snapshot{
		ID:            j.ID,
		Status:        string(j.Status),
		Progress:      j.Progress,
		ProductID:     j.Input.ProductID,
		ProductTitle:  j.Input.ProductTitle,
		FinalVideoURL: j.FinalURL,
		BrollVideoURL: j.Artifacts.BrollPublicURL,
		CreditsUsed:   j.CreditsUsed,
		CreatedAt:     j.CreatedAt,
	}
	if !j.CompletedAt.IsZero() {
		completed := j.CompletedAt
		s.CompletedAt = &completed
		s.ProcessingTimeSeconds = j.ProcessingTime.Seconds()
	}
	if j.Failure != nil {
		s.Error = &Failure{
			Kind:    string(j.Failure.Kind),
			Message: j.Failure.Message,
			Step:    j.Failure.Step,
		}
	}
	return s
}

// WebhookNotifier POSTs terminal snapshots as JSON.
type WebhookNotifier struct {
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a WebhookNotifier.
type Option func(*WebhookNotifier)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *WebhookNotifier) {
		n.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(retries int) Option {
	return func(n *WebhookNotifier) {
		n.maxRetries = retries
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) Option {
	return func(n *WebhookNotifier) {
		n.baseBackoff = d
	}
}

// WithClock overrides the event timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(n *WebhookNotifier) {
		n.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *WebhookNotifier) {
		n.logger = l
	}
}

// NewWebhookNotifier creates a WebhookNotifier.
func NewWebhookNotifier(opts ...Option) *WebhookNotifier {
	n := &WebhookNotifier{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify sends the terminal snapshot of j to destination.
func (n *WebhookNotifier) Notify(ctx context.Context, destination string, j *job.Job) error {
	if destination == "" {
		return ErrDestinationRequired
	}

	var name string
	switch j.Status {
	case job.StatusCompleted:
		name = EventCompleted
	case job.StatusFailed:
		name = EventFailed
	default:
		return ErrNotTerminal
	}

	body, err := json.Marshal(Event{
		Event:     name,
		Timestamp: n.now(),
		Job:       NewSnapshot(j),
	})
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}

	if err := n.deliverWithRetry(ctx, destination, name, body); err != nil {
		return err
	}
	n.logger.Info("webhook delivered",
		slog.String("job_id", j.ID),
		slog.String("event", name),
	)
	return nil
}

// deliverWithRetry posts body with exponential backoff on transient failures.
func (n *WebhookNotifier) deliverWithRetry(ctx context.Context, destination, event string, body []byte) error {
	var lastErr error
	backoff := n.baseBackoff

	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("notify: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := n.deliver(ctx, destination, event, body)
		if err == nil {
			return nil
		}

		if !isRetryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("notify: max retries exceeded: %w", lastErr)
}

func (n *WebhookNotifier) deliver(ctx context.Context, destination, event string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, event)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("%w: %w", ErrTransport, err)}
	}
	defer func() { _ = resp.Body.Close() }()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
	default:
		return fmt.Errorf("%w with status %d: %s", ErrRejected, resp.StatusCode, string(respBody))
	}
}

// retryableError marks an error as retryable.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable checks if an error should trigger a retry.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
