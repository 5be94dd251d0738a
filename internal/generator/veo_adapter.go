package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/maauso/renderly/internal/veo"
)

// ErrBucketRequired is returned when the Veo adapter has no output bucket.
var ErrBucketRequired = errors.New("generator: GCS bucket is required")

// VeoAdapter adapts the Veo client to the BrollGenerator interface.
// Clips are written under gs://{bucket}/{OutputHint}.
type VeoAdapter struct {
	client veo.Client
	bucket string
}

// NewVeoAdapter creates a new Veo generator adapter.
func NewVeoAdapter(client veo.Client, bucket string) (*VeoAdapter, error) {
	bucket = strings.Trim(bucket, "/")
	if bucket == "" {
		return nil, ErrBucketRequired
	}
	return &VeoAdapter{client: client, bucket: bucket}, nil
}

func (a *VeoAdapter) storageURI(hint string) string {
	hint = strings.TrimLeft(hint, "/")
	if hint != "" && !strings.HasSuffix(hint, "/") {
		hint += "/"
	}
	return gcsScheme + a.bucket + "/" + hint
}

// SubmitGeneration starts the first clip from the reference image.
func (a *VeoAdapter) SubmitGeneration(ctx context.Context, spec ClipSpec) (Handle, error) {
	return a.submit(ctx, spec, "")
}

// SubmitExtension starts a clip continuing the clip at prior.
func (a *VeoAdapter) SubmitExtension(ctx context.Context, prior string, spec ClipSpec) (Handle, error) {
	if prior == "" {
		return "", &SubmissionError{Service: "veo", Err: errors.New("prior clip locator is required")}
	}
	return a.submit(ctx, spec, prior)
}

func (a *VeoAdapter) submit(ctx context.Context, spec ClipSpec, prior string) (Handle, error) {
	name, err := a.client.Submit(ctx, veo.GenerateRequest{
		Prompt:        spec.Prompt,
		ImageURL:      spec.ImageURL,
		StorageURI:    a.storageURI(spec.OutputHint),
		PriorVideoURI: prior,
	})
	if err != nil {
		if veo.IsTransient(err) {
			return "", &TransportError{Service: "veo", Err: err}
		}
		return "", &SubmissionError{Service: "veo", Err: err}
	}
	if name == "" {
		return "", &SubmissionError{Service: "veo", Err: ErrEmptyHandle}
	}
	return Handle(name), nil
}

// PollGeneration fetches the clip operation state.
func (a *VeoAdapter) PollGeneration(ctx context.Context, h Handle) (Status, error) {
	op, err := a.client.Poll(ctx, string(h))
	if err != nil {
		if veo.IsTransient(err) {
			return Status{}, &TransportError{Service: "veo", Err: err}
		}
		return Status{}, fmt.Errorf("veo adapter poll: %w", err)
	}

	switch {
	case !op.Done:
		return Status{State: StatePending}, nil
	case op.Error != "":
		return Status{State: StateFailed, Reason: op.Error}, nil
	default:
		return Status{State: StateReady, Artifact: op.VideoURI}, nil
	}
}

// PublicURL maps a gs:// clip locator to its public HTTPS mirror.
func (a *VeoAdapter) PublicURL(locator string) string {
	return PublicURL(locator)
}

// Compile-time check that VeoAdapter implements BrollGenerator.
var _ BrollGenerator = (*VeoAdapter)(nil)
