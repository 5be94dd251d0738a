package veo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type staticAuth string

func (s staticAuth) AuthorizationHeader(context.Context) (string, error) {
	return "Bearer " + string(s), nil
}

const modelPath = "/projects/proj-1/locations/us-central1/publishers/google/models/veo-3.1-generate-preview"

// newTestServer serves a reference image at /image.jpg and delegates
// everything else to api.
func newTestServer(t *testing.T, api http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /image.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	})
	mux.HandleFunc("/", api)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, baseURL string, opts ...ClientOption) *HTTPClient {
	t.Helper()
	opts = append([]ClientOption{
		WithBaseURL(baseURL),
		WithBaseBackoff(10 * time.Millisecond),
	}, opts...)
	client, err := NewClient("proj-1", staticAuth("test-token"), opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return client
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient("", staticAuth("x")); !errors.Is(err, ErrProjectIDRequired) {
		t.Errorf("expected ErrProjectIDRequired, got %v", err)
	}
	if _, err := NewClient("proj-1", nil); !errors.Is(err, ErrAuthRequired) {
		t.Errorf("expected ErrAuthRequired, got %v", err)
	}
}

func TestNewClient_DefaultBaseURL(t *testing.T) {
	client, err := NewClient("proj-1", staticAuth("x"), WithLocation("europe-west4"), WithModel("veo-3.0"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "https://europe-west4-aiplatform.googleapis.com/v1/projects/proj-1/locations/europe-west4/publishers/google/models/veo-3.0"
	if got := client.modelURL(); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestSubmit_Generation(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != modelPath+":predictLongRunning" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("expected Bearer test-token, got %s", r.Header.Get("Authorization"))
		}

		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		if len(req.Instances) != 1 {
			t.Errorf("expected 1 instance, got %d", len(req.Instances))
			return
		}
		inst := req.Instances[0]
		if inst.Prompt != "Headphones | Desk | slow 360 | premium" {
			t.Errorf("unexpected prompt %q", inst.Prompt)
		}
		if inst.DurationSeconds != 8 || inst.AspectRatio != "9:16" || inst.Resolution != "720p" ||
			inst.SampleCount != 1 || inst.ResizeMode != "crop" {
			t.Errorf("unexpected generation parameters %+v", inst)
		}
		if inst.Image == nil || inst.Image.BytesBase64Encoded != base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")) {
			t.Errorf("expected inline reference image, got %+v", inst.Image)
		}
		if inst.Image != nil && inst.Image.MimeType != "image/jpeg" {
			t.Errorf("expected image/jpeg, got %s", inst.Image.MimeType)
		}
		if inst.Video != nil {
			t.Error("generation must not carry a prior video")
		}
		if req.Parameters.StorageURI != "gs://bucket/p1/2025-01-01/scene_1/" {
			t.Errorf("unexpected storage URI %s", req.Parameters.StorageURI)
		}

		_ = json.NewEncoder(w).Encode(operationResponse{Name: "projects/proj-1/operations/op-1"})
	})

	client := newTestClient(t, server.URL)
	name, err := client.Submit(context.Background(), GenerateRequest{
		Prompt:     "Headphones | Desk | slow 360 | premium",
		ImageURL:   server.URL + "/image.jpg",
		StorageURI: "gs://bucket/p1/2025-01-01/scene_1/",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "projects/proj-1/operations/op-1" {
		t.Errorf("unexpected operation name %s", name)
	}
}

func TestSubmit_Extension(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req predictRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Instances) != 1 {
			t.Errorf("expected 1 instance, got %d", len(req.Instances))
			return
		}
		inst := req.Instances[0]
		if inst.Video == nil || inst.Video.GcsURI != "gs://bucket/p1/scene_1/sample_0.mp4" {
			t.Errorf("expected prior video reference, got %+v", inst.Video)
		}
		if inst.DurationSeconds != DefaultDurationSeconds {
			t.Errorf("extension clips use %d seconds, got %d", DefaultDurationSeconds, inst.DurationSeconds)
		}
		_ = json.NewEncoder(w).Encode(operationResponse{Name: "op-2"})
	})

	client := newTestClient(t, server.URL)
	name, err := client.Submit(context.Background(), GenerateRequest{
		Prompt:        "next scene",
		ImageURL:      server.URL + "/image.jpg",
		StorageURI:    "gs://bucket/p1/scene_2/",
		PriorVideoURI: "gs://bucket/p1/scene_1/sample_0.mp4",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "op-2" {
		t.Errorf("expected op-2, got %s", name)
	}
}

func TestSubmit_Validation(t *testing.T) {
	client := newTestClient(t, "http://unused")

	if _, err := client.Submit(context.Background(), GenerateRequest{StorageURI: "gs://b/"}); !errors.Is(err, ErrPromptRequired) {
		t.Errorf("expected ErrPromptRequired, got %v", err)
	}
	if _, err := client.Submit(context.Background(), GenerateRequest{Prompt: "p"}); !errors.Is(err, ErrStorageURIRequired) {
		t.Errorf("expected ErrStorageURIRequired, got %v", err)
	}
}

func TestSubmit_ImageNotFound(t *testing.T) {
	var apiCalls int32
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/missing.jpg") {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(&apiCalls, 1)
	})

	client := newTestClient(t, server.URL)
	_, err := client.Submit(context.Background(), GenerateRequest{
		Prompt:     "p",
		ImageURL:   server.URL + "/missing.jpg",
		StorageURI: "gs://b/",
	})
	if !errors.Is(err, ErrImageDownload) {
		t.Errorf("expected ErrImageDownload, got %v", err)
	}
	if IsTransient(err) {
		t.Error("a missing image is not transient")
	}
	if atomic.LoadInt32(&apiCalls) != 0 {
		t.Error("no generation request may be sent without the image")
	}
}

func TestSubmit_ImageTooLarge(t *testing.T) {
	var calls int32
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	client := newTestClient(t, server.URL, WithMaxImageBytes(4))
	_, err := client.Submit(context.Background(), GenerateRequest{
		Prompt:     "p",
		ImageURL:   server.URL + "/image.jpg",
		StorageURI: "gs://bucket/p1/",
	})
	if !errors.Is(err, ErrImageTooLarge) {
		t.Errorf("expected ErrImageTooLarge, got %v", err)
	}
	if IsTransient(err) {
		t.Error("an oversized image is not transient")
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("oversized image must not reach the API")
	}
}

func TestSubmit_Rejected(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"prompt violates policy"}}`))
	})

	client := newTestClient(t, server.URL)
	_, err := client.Submit(context.Background(), GenerateRequest{Prompt: "p", StorageURI: "gs://b/"})
	if !errors.Is(err, ErrRequestFailed) {
		t.Errorf("expected ErrRequestFailed, got %v", err)
	}
	if IsTransient(err) {
		t.Error("a 400 rejection is not transient")
	}
}

func TestSubmit_NoOperationName(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	client := newTestClient(t, server.URL)
	_, err := client.Submit(context.Background(), GenerateRequest{Prompt: "p", StorageURI: "gs://b/"})
	if !errors.Is(err, ErrNoOperationName) {
		t.Errorf("expected ErrNoOperationName, got %v", err)
	}
}

func TestPoll_States(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantDone bool
		wantURI  string
		wantErr  string
	}{
		{"running", `{"name":"op-1","done":false}`, false, "", ""},
		{"videos", `{"done":true,"response":{"videos":[{"gcsUri":"gs://b/p/scene_1/sample_0.mp4","mimeType":"video/mp4"}]}}`, true, "gs://b/p/scene_1/sample_0.mp4", ""},
		{"predictions storageUri", `{"done":true,"response":{"predictions":[{"storageUri":"gs://b/p/scene_1/x.mp4"}]}}`, true, "gs://b/p/scene_1/x.mp4", ""},
		{"operation error", `{"done":true,"error":{"code":3,"message":"image could not be processed"}}`, true, "", "image could not be processed"},
		{"content filtered", `{"done":true,"response":{"raiMediaFilteredCount":1,"raiMediaFilteredReasons":["unsafe content"]}}`, true, "", "video blocked by content filter: unsafe content"},
		{"no video", `{"done":true,"response":{}}`, true, "", "operation completed without a video URI"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != modelPath+":fetchPredictOperation" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				var req fetchOperationRequest
				_ = json.NewDecoder(r.Body).Decode(&req)
				if req.OperationName != "op-1" {
					t.Errorf("expected operationName op-1, got %s", req.OperationName)
				}
				_, _ = w.Write([]byte(tt.body))
			})

			client := newTestClient(t, server.URL)
			op, err := client.Poll(context.Background(), "op-1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if op.Done != tt.wantDone {
				t.Errorf("expected done=%v, got %v", tt.wantDone, op.Done)
			}
			if op.VideoURI != tt.wantURI {
				t.Errorf("expected URI %q, got %q", tt.wantURI, op.VideoURI)
			}
			if op.Error != tt.wantErr {
				t.Errorf("expected error %q, got %q", tt.wantErr, op.Error)
			}
		})
	}
}

func TestPoll_EmptyOperationName(t *testing.T) {
	client := newTestClient(t, "http://unused")

	if _, err := client.Poll(context.Background(), ""); !errors.Is(err, ErrOperationNameRequired) {
		t.Errorf("expected ErrOperationNameRequired, got %v", err)
	}
}

func TestRetry_TransientFailure(t *testing.T) {
	var attempts int32
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"done":false}`))
	})

	client := newTestClient(t, server.URL, WithMaxRetries(3))
	if _, err := client.Poll(context.Background(), "op-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	client := newTestClient(t, server.URL, WithMaxRetries(2))
	_, err := client.Poll(context.Background(), "op-1")
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
	if !IsTransient(err) {
		t.Error("exhausted retries must be reported as transient")
	}
}

type countingAuth struct {
	calls int32
}

func (a *countingAuth) AuthorizationHeader(context.Context) (string, error) {
	atomic.AddInt32(&a.calls, 1)
	return "", errors.New("no credentials")
}

func TestRetry_CredentialFailure(t *testing.T) {
	var attempts int32
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
	})

	auth := &countingAuth{}
	client, err := NewClient("proj-1", auth, WithBaseURL(server.URL), WithMaxRetries(3), WithBaseBackoff(time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = client.Poll(context.Background(), "op-1")
	if !errors.Is(err, ErrCredentials) {
		t.Errorf("expected ErrCredentials, got %v", err)
	}
	if IsTransient(err) {
		t.Error("missing credentials must not be reported as transient")
	}
	if got := atomic.LoadInt32(&auth.calls); got != 1 {
		t.Errorf("expected a single credential lookup, got %d", got)
	}
	if atomic.LoadInt32(&attempts) != 0 {
		t.Error("no request may be sent without credentials")
	}
}
