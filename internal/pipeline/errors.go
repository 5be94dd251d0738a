package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/maauso/renderly/internal/generator"
	"github.com/maauso/renderly/internal/job"
	"github.com/maauso/renderly/internal/poll"
)

// Pipeline step names recorded on failures.
const (
	StepPrepare      = "prepare"
	StepPublish      = "publish_broll"
	StepUpload       = "upload_asset"
	StepCompose      = "submit_composition"
	StepAwaitCompose = "await_composition"
	StepArchive      = "archive"
	StepComplete     = "complete"
)

// StepBroll names the clip step for scene n (1-based).
func StepBroll(n int) string {
	return fmt.Sprintf("broll_scene_%d", n)
}

// Static errors for pipeline preconditions.
var (
	// ErrNoScenes is returned for a job without scenes.
	ErrNoScenes = errors.New("pipeline: job has no scenes")
	// ErrEmptyArtifact is returned when a ready operation has no output reference.
	ErrEmptyArtifact = errors.New("pipeline: operation finished without an output reference")
)

// StepError records which step of the pipeline an error came from.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Translate maps a pipeline error to the failure record stored on the job.
// The message is never empty.
func Translate(err error) job.Failure {
	if err == nil {
		return job.Failure{Kind: job.KindInternal, Message: "unknown error"}
	}

	var f job.Failure
	cause := err
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		f.Step = stepErr.Step
		cause = stepErr.Err
	}
	f.Kind = classify(cause)
	f.Message = cause.Error()

	var failed *poll.FailedError
	if errors.As(cause, &failed) && failed.Reason != "" {
		f.Message = failed.Reason
	}
	if f.Message == "" {
		f.Message = string(f.Kind)
	}
	return f
}

func classify(err error) job.ErrorKind {
	var (
		subErr      *generator.SubmissionError
		transferErr *generator.TransferError
		transErr    *generator.TransportError
	)
	switch {
	case errors.As(err, &subErr):
		return job.KindSubmission
	case errors.As(err, &transferErr):
		return job.KindTransfer
	case errors.As(err, &transErr):
		return job.KindTransport
	case errors.Is(err, poll.ErrFailed):
		return job.KindUpstream
	case errors.Is(err, poll.ErrTimeout):
		return job.KindPollTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return job.KindInterrupted
	default:
		return job.KindInternal
	}
}
