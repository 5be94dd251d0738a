package veo

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Static errors for Veo client operations.
var (
	// ErrProjectIDRequired is returned when the GCP project is not provided.
	ErrProjectIDRequired = errors.New("veo: project ID is required")
	// ErrAuthRequired is returned when no token provider is configured.
	ErrAuthRequired = errors.New("veo: token provider is required")
	// ErrPromptRequired is returned when a request has no prompt.
	ErrPromptRequired = errors.New("veo: prompt is required")
	// ErrStorageURIRequired is returned when a request has no output location.
	ErrStorageURIRequired = errors.New("veo: storage URI is required")
	// ErrOperationNameRequired is returned when polling without an operation name.
	ErrOperationNameRequired = errors.New("veo: operation name is required")
	// ErrNoOperationName is returned when the submit response has no operation name.
	ErrNoOperationName = errors.New("veo: submit failed: no operation name returned")
	// ErrImageDownload is returned when the reference image cannot be fetched.
	ErrImageDownload = errors.New("veo: reference image download failed")
	// ErrImageTooLarge is returned when the reference image exceeds the inline limit.
	ErrImageTooLarge = errors.New("veo: reference image too large")
	// ErrCredentials is returned when no access token can be obtained.
	ErrCredentials = errors.New("veo: credentials unavailable")
	// ErrTransport is returned when the API cannot be reached.
	ErrTransport = errors.New("veo: transport error")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("veo: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("veo: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("veo: request failed")
)

// TokenProvider supplies the Authorization header for Vertex AI calls.
type TokenProvider interface {
	AuthorizationHeader(ctx context.Context) (string, error)
}

// Client defines the interface for interacting with Veo.
type Client interface {
	// Submit starts a generation or extension and returns the operation name.
	Submit(ctx context.Context, req GenerateRequest) (operationName string, err error)

	// Poll fetches the current state of an operation.
	Poll(ctx context.Context, operationName string) (Operation, error)
}

// HTTPClient is the HTTP implementation of the Veo Client interface.
type HTTPClient struct {
	projectID   string
	location    string
	model       string
	baseURL     string
	auth        TokenProvider
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
	maxImage    int64
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithLocation sets the Vertex AI region.
func WithLocation(location string) ClientOption {
	return func(hc *HTTPClient) {
		hc.location = location
	}
}

// WithModel sets the Veo model name.
func WithModel(model string) ClientOption {
	return func(hc *HTTPClient) {
		hc.model = model
	}
}

// WithBaseURL overrides the regional API root (https://{location}-aiplatform.googleapis.com/v1).
func WithBaseURL(url string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// WithMaxImageBytes caps the size of the inline reference image.
func WithMaxImageBytes(n int64) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxImage = n
	}
}

// NewClient creates a new Veo HTTP client for a GCP project.
func NewClient(projectID string, auth TokenProvider, opts ...ClientOption) (*HTTPClient, error) {
	if projectID == "" {
		return nil, ErrProjectIDRequired
	}
	if auth == nil {
		return nil, ErrAuthRequired
	}

	c := &HTTPClient{
		projectID:   projectID,
		location:    "us-central1",
		model:       "veo-3.1-generate-preview",
		auth:        auth,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
		maxImage:    DefaultMaxImageBytes,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.baseURL == "" {
		c.baseURL = fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1", c.location)
	}

	return c, nil
}

func (c *HTTPClient) modelURL() string {
	return fmt.Sprintf("%s/projects/%s/locations/%s/publishers/google/models/%s",
		c.baseURL, c.projectID, c.location, c.model)
}

// Submit sends a predictLongRunning request and returns the operation name.
// The reference image is downloaded and sent inline.
func (c *HTTPClient) Submit(ctx context.Context, req GenerateRequest) (string, error) {
	if req.Prompt == "" {
		return "", ErrPromptRequired
	}
	if req.StorageURI == "" {
		return "", ErrStorageURIRequired
	}

	instance := predictInstance{
		Prompt:          req.Prompt,
		DurationSeconds: DefaultDurationSeconds,
		AspectRatio:     DefaultAspectRatio,
		Resolution:      DefaultResolution,
		SampleCount:     1,
		ResizeMode:      DefaultResizeMode,
	}
	if req.ImageURL != "" {
		img, err := c.fetchImage(ctx, req.ImageURL)
		if err != nil {
			return "", err
		}
		instance.Image = img
	}
	if req.PriorVideoURI != "" {
		instance.Video = &gcsRef{GcsURI: req.PriorVideoURI}
	}

	bodyBytes, err := json.Marshal(predictRequest{
		Instances:  []predictInstance{instance},
		Parameters: predictParameters{StorageURI: req.StorageURI},
	})
	if err != nil {
		return "", fmt.Errorf("veo: marshal request: %w", err)
	}

	var resp operationResponse
	if err := c.doRequestWithRetry(ctx, http.MethodPost, c.modelURL()+":predictLongRunning", bodyBytes, &resp); err != nil {
		return "", err
	}

	if resp.Name == "" {
		if resp.Error != nil && resp.Error.Message != "" {
			return "", fmt.Errorf("%w: %s", ErrRequestFailed, resp.Error.Message)
		}
		return "", ErrNoOperationName
	}

	return resp.Name, nil
}

// Poll fetches the operation state through fetchPredictOperation.
// A finished operation without a video URI is reported through Operation.Error.
func (c *HTTPClient) Poll(ctx context.Context, operationName string) (Operation, error) {
	if operationName == "" {
		return Operation{}, ErrOperationNameRequired
	}

	bodyBytes, err := json.Marshal(fetchOperationRequest{OperationName: operationName})
	if err != nil {
		return Operation{}, fmt.Errorf("veo: marshal request: %w", err)
	}

	var resp operationResponse
	if err := c.doRequestWithRetry(ctx, http.MethodPost, c.modelURL()+":fetchPredictOperation", bodyBytes, &resp); err != nil {
		return Operation{}, err
	}

	op := Operation{Name: operationName, Done: resp.Done}
	if !resp.Done {
		return op, nil
	}

	if resp.Error != nil {
		op.Error = resp.Error.Message
		if op.Error == "" {
			op.Error = fmt.Sprintf("operation failed with code %d", resp.Error.Code)
		}
		return op, nil
	}

	if resp.Response != nil {
		for _, out := range append(resp.Response.Videos, resp.Response.Predictions...) {
			if uri := out.uri(); uri != "" {
				op.VideoURI = uri
				return op, nil
			}
		}
		if resp.Response.RAIMediaFilteredCount > 0 {
			op.Error = "video blocked by content filter"
			if len(resp.Response.RAIMediaFilteredReasons) > 0 {
				op.Error += ": " + strings.Join(resp.Response.RAIMediaFilteredReasons, "; ")
			}
			return op, nil
		}
	}

	op.Error = "operation completed without a video URI"
	return op, nil
}

// fetchImage downloads the reference image and encodes it for inline upload.
func (c *HTTPClient) fetchImage(ctx context.Context, imageURL string) (*inlineData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImageDownload, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: image host returned %d", ErrServerError, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrImageDownload, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxImage+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if int64(len(data)) > c.maxImage {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrImageTooLarge, c.maxImage)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrImageDownload)
	}

	mimeType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}

	return &inlineData{
		BytesBase64Encoded: base64.StdEncoding.EncodeToString(data),
		MimeType:           mimeType,
	}, nil
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, url string, body []byte, result any) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("veo: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := c.doRequest(ctx, method, url, body, result)
		if err == nil {
			return nil
		}

		if !isRetryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("veo: max retries exceeded: %w", lastErr)
}

// doRequest performs a single authenticated HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, method, url string, body []byte, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("veo: create request: %w", err)
	}

	authz, err := c.auth.AuthorizationHeader(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCredentials, err)
	}
	req.Header.Set("Authorization", authz)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("%w: %w", ErrTransport, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("%w: read response: %w", ErrTransport, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))}
		}
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("veo: unmarshal response: %w", err)
		}
	}

	return nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// IsTransient reports whether err comes from the transport layer rather than
// a rejection by the API.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrServerError) || errors.Is(err, ErrRateLimited) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
