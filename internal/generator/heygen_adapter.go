package generator

import (
	"context"
	"fmt"

	"github.com/maauso/renderly/internal/heygen"
)

// HeyGenAdapter adapts the HeyGen client to the Compositor interface.
type HeyGenAdapter struct {
	client heygen.Client
}

// NewHeyGenAdapter creates a new HeyGen compositor adapter.
func NewHeyGenAdapter(client heygen.Client) *HeyGenAdapter {
	return &HeyGenAdapter{client: client}
}

// UploadAsset registers the background video with HeyGen.
func (a *HeyGenAdapter) UploadAsset(ctx context.Context, publicURL string) (string, error) {
	assetID, err := a.client.UploadAsset(ctx, publicURL)
	if err != nil {
		if heygen.IsTransient(err) {
			return "", &TransportError{Service: "heygen", Err: err}
		}
		return "", &TransferError{Service: "heygen", Err: err}
	}
	return assetID, nil
}

// SubmitComposition starts the presenter render over the uploaded asset.
func (a *HeyGenAdapter) SubmitComposition(ctx context.Context, spec CompositionSpec) (Handle, error) {
	videoID, err := a.client.Generate(ctx, heygen.VideoRequest{
		AvatarID:     spec.PresenterID,
		VoiceID:      spec.VoiceID,
		Script:       spec.Script,
		AssetID:      spec.AssetID,
		AvatarScale:  spec.Placement.Scale,
		AvatarOffset: heygen.Offset{X: spec.Placement.X, Y: spec.Placement.Y},
	})
	if err != nil {
		if heygen.IsTransient(err) {
			return "", &TransportError{Service: "heygen", Err: err}
		}
		return "", &SubmissionError{Service: "heygen", Err: err}
	}
	if videoID == "" {
		return "", &SubmissionError{Service: "heygen", Err: ErrEmptyHandle}
	}
	return Handle(videoID), nil
}

// PollComposition checks the render status.
// A completed render without a video URL is reported as failed.
func (a *HeyGenAdapter) PollComposition(ctx context.Context, h Handle) (Status, error) {
	st, err := a.client.Status(ctx, string(h))
	if err != nil {
		if heygen.IsTransient(err) {
			return Status{}, &TransportError{Service: "heygen", Err: err}
		}
		return Status{}, fmt.Errorf("heygen adapter poll: %w", err)
	}

	switch st.Status {
	case heygen.StatusCompleted:
		if st.VideoURL == "" {
			return Status{State: StateFailed, Reason: "composition completed without a video URL"}, nil
		}
		return Status{State: StateReady, Artifact: st.VideoURL}, nil
	case heygen.StatusFailed:
		return Status{State: StateFailed, Reason: st.Error}, nil
	default:
		return Status{State: StatePending}, nil
	}
}

// Compile-time check that HeyGenAdapter implements Compositor.
var _ Compositor = (*HeyGenAdapter)(nil)
