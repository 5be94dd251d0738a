// Package generator defines the contract the pipeline uses to drive the two
// external video services: a background clip generator and a presenter
// compositor. Veo and HeyGen adapters implement it.
package generator

import (
	"context"
	"errors"
	"fmt"
)

// Handle is an opaque reference to an in-flight external operation.
// It is only meaningful to the adapter that issued it.
type Handle string

// State is the adapter-neutral progress of an external operation.
type State string

// Operation states shared by all adapters.
const (
	StatePending State = "pending"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Status is the result of polling an operation.
type Status struct {
	State State
	// Artifact is the output reference once ready: a storage locator for
	// clips, a URL for compositions.
	Artifact string
	// Reason is the upstream failure message once failed.
	Reason string
}

// IsReady reports whether the operation finished with an artifact.
func (s Status) IsReady() bool {
	return s.State == StateReady
}

// Failure reports the upstream reason when the operation failed.
func (s Status) Failure() (string, bool) {
	if s.State != StateFailed {
		return "", false
	}
	if s.Reason == "" {
		return "operation failed without a reason", true
	}
	return s.Reason, true
}

// ClipSpec describes one background clip.
type ClipSpec struct {
	Prompt   string
	ImageURL string
	// OutputHint is the relative location the clip should be written under.
	OutputHint string
}

// Placement positions the presenter over the background.
type Placement struct {
	Scale float64
	X     float64
	Y     float64
}

// CompositionSpec describes the presenter render over an uploaded background.
type CompositionSpec struct {
	PresenterID string
	VoiceID     string
	Script      string
	AssetID     string
	Placement   Placement
}

// BrollGenerator produces and extends background clips.
type BrollGenerator interface {
	// SubmitGeneration starts the first clip from a reference image.
	SubmitGeneration(ctx context.Context, spec ClipSpec) (Handle, error)

	// SubmitExtension starts a clip that continues prior.
	SubmitExtension(ctx context.Context, prior string, spec ClipSpec) (Handle, error)

	// PollGeneration reports the state of a clip operation.
	PollGeneration(ctx context.Context, h Handle) (Status, error)

	// PublicURL maps a clip locator to a publicly fetchable URL. It is pure.
	PublicURL(locator string) string
}

// Compositor renders the presenter over a background video.
type Compositor interface {
	// UploadAsset registers a public video URL and returns the asset ID.
	UploadAsset(ctx context.Context, publicURL string) (string, error)

	// SubmitComposition starts the presenter render.
	SubmitComposition(ctx context.Context, spec CompositionSpec) (Handle, error)

	// PollComposition reports the state of a render.
	PollComposition(ctx context.Context, h Handle) (Status, error)
}

// ErrEmptyHandle is returned when a service accepts a request without
// returning an operation reference.
var ErrEmptyHandle = errors.New("generator: service returned an empty operation handle")

// SubmissionError reports that a service rejected a request synchronously.
type SubmissionError struct {
	Service string
	Err     error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s rejected the request: %v", e.Service, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// TransferError reports that the background could not be registered with
// the compositor.
type TransferError struct {
	Service string
	Err     error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s asset upload failed: %v", e.Service, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// TransportError reports that a service could not be reached after the
// client's own retries.
type TransportError struct {
	Service string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s unreachable: %v", e.Service, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
