package heygen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Static errors for HeyGen client operations.
var (
	// ErrAPIKeyNotSet is returned when no API key is provided.
	ErrAPIKeyNotSet = errors.New("heygen: HEYGEN_API_KEY is not set")
	// ErrVideoURLRequired is returned when uploading without a source URL.
	ErrVideoURLRequired = errors.New("heygen: video URL is required")
	// ErrVideoIDRequired is returned when polling without a video ID.
	ErrVideoIDRequired = errors.New("heygen: video ID is required")
	// ErrInvalidRequest is returned when a composition request misses required fields.
	ErrInvalidRequest = errors.New("heygen: invalid video request")
	// ErrNoAssetID is returned when the upload response contains no asset ID.
	ErrNoAssetID = errors.New("heygen: asset_id not found in response")
	// ErrNoVideoID is returned when the generate response contains no video ID.
	ErrNoVideoID = errors.New("heygen: video_id not found in response")
	// ErrTransport is returned when the API cannot be reached.
	ErrTransport = errors.New("heygen: transport error")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("heygen: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("heygen: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("heygen: request failed")
)

// Client defines the interface for interacting with the HeyGen API.
type Client interface {
	// UploadAsset registers a publicly reachable video and returns its asset ID.
	UploadAsset(ctx context.Context, videoURL string) (assetID string, err error)

	// Generate starts an avatar composition and returns the video ID.
	Generate(ctx context.Context, req VideoRequest) (videoID string, err error)

	// Status returns the current state of a composition.
	Status(ctx context.Context, videoID string) (VideoStatus, error)
}

// HTTPClient is the HTTP implementation of the HeyGen Client interface.
type HTTPClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key sent as X-Api-Key.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithBaseURL sets a custom API root (default https://api.heygen.com).
func WithBaseURL(u string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = strings.TrimRight(u, "/")
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

// NewClient creates a new HeyGen HTTP client.
// The API key can be set via the WithAPIKey option. If not provided,
// it is read from the environment variable HEYGEN_API_KEY.
func NewClient(opts ...ClientOption) (*HTTPClient, error) {
	c := &HTTPClient{
		baseURL:     "https://api.heygen.com",
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("HEYGEN_API_KEY")
	}

	if c.apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	return c, nil
}

// UploadAsset registers videoURL with HeyGen so it can be used as a background.
func (c *HTTPClient) UploadAsset(ctx context.Context, videoURL string) (string, error) {
	if videoURL == "" {
		return "", ErrVideoURLRequired
	}

	bodyBytes, err := json.Marshal(assetRequest{URL: videoURL})
	if err != nil {
		return "", fmt.Errorf("heygen: marshal request: %w", err)
	}

	var resp envelope
	if err := c.doRequestWithRetry(ctx, http.MethodPost, c.baseURL+"/v1/asset", bodyBytes, &resp); err != nil {
		return "", err
	}

	var data assetData
	if err := decodeData(resp, &data); err != nil {
		return "", err
	}
	assetID := data.AssetID
	if assetID == "" {
		assetID = data.ID
	}
	if assetID == "" {
		if msg := errorMessage(resp.Error); msg != "" {
			return "", fmt.Errorf("%w: %s", ErrRequestFailed, msg)
		}
		return "", ErrNoAssetID
	}
	return assetID, nil
}

// Generate submits an avatar video with the uploaded asset as full-length background.
func (c *HTTPClient) Generate(ctx context.Context, req VideoRequest) (string, error) {
	if req.AvatarID == "" || req.VoiceID == "" || req.Script == "" || req.AssetID == "" {
		return "", fmt.Errorf("%w: avatar, voice, script and asset are required", ErrInvalidRequest)
	}

	payload := generateRequest{
		VideoInputs: []videoInput{{
			Character: character{
				Type:        "avatar",
				AvatarID:    req.AvatarID,
				AvatarStyle: "normal",
				Scale:       req.AvatarScale,
				Offset:      req.AvatarOffset,
				Matting:     true,
			},
			Voice: voice{
				Type:      "text",
				InputText: req.Script,
				VoiceID:   req.VoiceID,
			},
			Background: background{
				Type:         "video",
				VideoAssetID: req.AssetID,
				PlayStyle:    "full_video",
			},
		}},
		Dimension:   dimension{Width: OutputWidth, Height: OutputHeight},
		AspectRatio: OutputAspectRatio,
	}

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("heygen: marshal request: %w", err)
	}

	var resp envelope
	if err := c.doRequestWithRetry(ctx, http.MethodPost, c.baseURL+"/v2/video/generate", bodyBytes, &resp); err != nil {
		return "", err
	}

	var data generateData
	if err := decodeData(resp, &data); err != nil {
		return "", err
	}
	if data.VideoID == "" {
		if msg := errorMessage(resp.Error); msg != "" {
			return "", fmt.Errorf("%w: %s", ErrRequestFailed, msg)
		}
		return "", ErrNoVideoID
	}
	return data.VideoID, nil
}

// Status polls video_status.get for videoID.
func (c *HTTPClient) Status(ctx context.Context, videoID string) (VideoStatus, error) {
	if videoID == "" {
		return VideoStatus{}, ErrVideoIDRequired
	}

	endpoint := c.baseURL + "/v1/video_status.get?" + url.Values{"video_id": {videoID}}.Encode()

	var resp envelope
	if err := c.doRequestWithRetry(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return VideoStatus{}, err
	}

	var data statusData
	if err := decodeData(resp, &data); err != nil {
		return VideoStatus{}, err
	}

	result := VideoStatus{
		ID:     videoID,
		Status: Status(strings.ToLower(data.Status)),
	}
	switch result.Status {
	case StatusCompleted:
		result.VideoURL = data.VideoURL
	case StatusFailed:
		result.Error = errorMessage(data.Error)
		if result.Error == "" {
			result.Error = errorMessage(resp.Error)
		}
	}
	return result, nil
}

// decodeData reads the payload from data, or from the top level when the
// response has no data field.
func decodeData(resp envelope, dst any) error {
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(resp.Data, dst); err != nil {
		return fmt.Errorf("heygen: unmarshal data: %w", err)
	}
	return nil
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, url string, body []byte, result *envelope) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("heygen: context cancelled: %w", ctx.Err())
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

	return fmt.Errorf("heygen: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request. Responses without a data field
// are decoded into the envelope's Data so callers see one shape.
func (c *HTTPClient) doRequest(ctx context.Context, method, url string, body []byte, result *envelope) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("heygen: create request: %w", err)
	}

	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

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
		msg := string(respBody)
		var env envelope
		if json.Unmarshal(respBody, &env) == nil {
			if m := errorMessage(env.Error); m != "" {
				msg = m
			} else if env.Message != "" {
				msg = env.Message
			}
		}
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, msg)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("heygen: unmarshal response: %w", err)
	}
	if len(result.Data) == 0 || string(result.Data) == "null" {
		result.Data = respBody
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
