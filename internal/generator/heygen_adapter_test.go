package generator

import (
	"context"
	"fmt"
	"testing"

	"github.com/maauso/renderly/internal/heygen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockHeyGenClient is a simple mock for testing HeyGenAdapter.
type mockHeyGenClient struct {
	mock.Mock
}

func (m *mockHeyGenClient) UploadAsset(ctx context.Context, videoURL string) (string, error) {
	args := m.Called(ctx, videoURL)
	return args.String(0), args.Error(1)
}

func (m *mockHeyGenClient) Generate(ctx context.Context, req heygen.VideoRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockHeyGenClient) Status(ctx context.Context, videoID string) (heygen.VideoStatus, error) {
	args := m.Called(ctx, videoID)
	return args.Get(0).(heygen.VideoStatus), args.Error(1)
}

func TestHeyGenAdapter_UploadAsset(t *testing.T) {
	ctx := context.Background()
	mockClient := &mockHeyGenClient{}
	adapter := NewHeyGenAdapter(mockClient)

	mockClient.On("UploadAsset", ctx, "https://storage.googleapis.com/b/v.mp4").Return("asset-1", nil)

	assetID, err := adapter.UploadAsset(ctx, "https://storage.googleapis.com/b/v.mp4")
	require.NoError(t, err)
	assert.Equal(t, "asset-1", assetID)
	mockClient.AssertExpectations(t)
}

func TestHeyGenAdapter_UploadAsset_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("rejected", func(t *testing.T) {
		mockClient := &mockHeyGenClient{}
		adapter := NewHeyGenAdapter(mockClient)
		mockClient.On("UploadAsset", ctx, mock.Anything).
			Return("", fmt.Errorf("%w with status 400: url is not reachable", heygen.ErrRequestFailed))

		_, err := adapter.UploadAsset(ctx, "https://x/v.mp4")
		var trErr *TransferError
		require.ErrorAs(t, err, &trErr)
		assert.Contains(t, err.Error(), "url is not reachable")
	})

	t.Run("transport", func(t *testing.T) {
		mockClient := &mockHeyGenClient{}
		adapter := NewHeyGenAdapter(mockClient)
		mockClient.On("UploadAsset", ctx, mock.Anything).
			Return("", fmt.Errorf("heygen: max retries exceeded: %w", heygen.ErrServerError))

		_, err := adapter.UploadAsset(ctx, "https://x/v.mp4")
		var tpErr *TransportError
		assert.ErrorAs(t, err, &tpErr)
	})
}

func TestHeyGenAdapter_SubmitComposition(t *testing.T) {
	ctx := context.Background()
	mockClient := &mockHeyGenClient{}
	adapter := NewHeyGenAdapter(mockClient)

	mockClient.On("Generate", ctx, heygen.VideoRequest{
		AvatarID:     "josh_lite3_20230714",
		VoiceID:      "voice-1",
		Script:       "Hello",
		AssetID:      "asset-1",
		AvatarScale:  0.8,
		AvatarOffset: heygen.Offset{X: 0.7, Y: 0.8},
	}).Return("vid-1", nil)

	h, err := adapter.SubmitComposition(ctx, CompositionSpec{
		PresenterID: "josh_lite3_20230714",
		VoiceID:     "voice-1",
		Script:      "Hello",
		AssetID:     "asset-1",
		Placement:   Placement{Scale: 0.8, X: 0.7, Y: 0.8},
	})
	require.NoError(t, err)
	assert.Equal(t, Handle("vid-1"), h)
	mockClient.AssertExpectations(t)
}

func TestHeyGenAdapter_SubmitComposition_Rejected(t *testing.T) {
	ctx := context.Background()
	mockClient := &mockHeyGenClient{}
	adapter := NewHeyGenAdapter(mockClient)

	mockClient.On("Generate", ctx, mock.Anything).
		Return("", fmt.Errorf("%w with status 400: voice not found", heygen.ErrRequestFailed))

	_, err := adapter.SubmitComposition(ctx, CompositionSpec{VoiceID: "bad"})
	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Contains(t, err.Error(), "voice not found")
}

func TestHeyGenAdapter_PollComposition(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		status heygen.VideoStatus
		expect Status
	}{
		{"pending", heygen.VideoStatus{Status: heygen.StatusPending}, Status{State: StatePending}},
		{"processing", heygen.VideoStatus{Status: heygen.StatusProcessing}, Status{State: StatePending}},
		{"waiting", heygen.VideoStatus{Status: heygen.StatusWaiting}, Status{State: StatePending}},
		{"completed", heygen.VideoStatus{Status: heygen.StatusCompleted, VideoURL: "https://files/v.mp4"}, Status{State: StateReady, Artifact: "https://files/v.mp4"}},
		{"completed without url", heygen.VideoStatus{Status: heygen.StatusCompleted}, Status{State: StateFailed, Reason: "composition completed without a video URL"}},
		{"failed", heygen.VideoStatus{Status: heygen.StatusFailed, Error: "voice not found"}, Status{State: StateFailed, Reason: "voice not found"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockClient := &mockHeyGenClient{}
			adapter := NewHeyGenAdapter(mockClient)
			mockClient.On("Status", ctx, "vid-1").Return(tt.status, nil)

			st, err := adapter.PollComposition(ctx, "vid-1")
			require.NoError(t, err)
			assert.Equal(t, tt.expect, st)
			mockClient.AssertExpectations(t)
		})
	}
}

func TestHeyGenAdapter_PollComposition_Transport(t *testing.T) {
	ctx := context.Background()
	mockClient := &mockHeyGenClient{}
	adapter := NewHeyGenAdapter(mockClient)
	mockClient.On("Status", ctx, "vid-1").Return(heygen.VideoStatus{}, fmt.Errorf("%w: timeout", heygen.ErrTransport))

	_, err := adapter.PollComposition(ctx, "vid-1")
	var tpErr *TransportError
	assert.ErrorAs(t, err, &tpErr)
}
