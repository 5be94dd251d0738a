// Package job provides the Job aggregate for product video generation jobs.
// It includes the Job entity with its pipeline state machine, the repository
// port used by the orchestrator, and the service used by the HTTP surface.
package job

import (
	"errors"
	"slices"
	"time"

	"github.com/maauso/renderly/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusPending indicates the job was accepted and waits for a worker.
	StatusPending Status = "pending"
	// StatusGeneratingBroll indicates background clips are being generated or extended.
	StatusGeneratingBroll Status = "generating_broll"
	// StatusTransferringAsset indicates the background video is being registered with the compositor.
	StatusTransferringAsset Status = "transferring_asset"
	// StatusGeneratingPresenter indicates the presenter overlay is being rendered.
	StatusGeneratingPresenter Status = "generating_presenter"
	// StatusCompleted indicates the final video is available.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the pipeline stopped with an error.
	StatusFailed Status = "failed"
)

// IsValid returns true if s is a known status.
func (s Status) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal returns true if no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CreditsPerJob is charged once per successfully completed job.
const CreditsPerJob = 1

// Static errors for job state changes.
var (
	// ErrInvalidTransition is returned when an invalid state transition is attempted.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrNotPending is returned when a pipeline run is requested for a job past pending.
	ErrNotPending = errors.New("job is already running or terminal")
	// ErrAlreadyClaimed is returned when another execution holds the job.
	ErrAlreadyClaimed = errors.New("job is already claimed by another execution")
)

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusPending:             {StatusGeneratingBroll, StatusFailed},
	StatusGeneratingBroll:     {StatusTransferringAsset, StatusFailed},
	StatusTransferringAsset:   {StatusGeneratingPresenter, StatusFailed},
	StatusGeneratingPresenter: {StatusCompleted, StatusFailed},
	StatusCompleted:           {},
	StatusFailed:              {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

// ErrorKind classifies why a job failed.
type ErrorKind string

const (
	KindSubmission  ErrorKind = "submission_error"
	KindTransport   ErrorKind = "transient_transport_error"
	KindUpstream    ErrorKind = "upstream_generation_failure"
	KindPollTimeout ErrorKind = "poll_timeout"
	KindTransfer    ErrorKind = "transfer_error"
	KindInterrupted ErrorKind = "interrupted"
	KindInternal    ErrorKind = "internal_error"
)

// Failure is the normalized error record of a failed job.
type Failure struct {
	Kind    ErrorKind
	Message string
	// Step names the pipeline step that failed, if known.
	Step string
}

// Scene describes one background clip.
type Scene struct {
	VisualDescription string
	CameraMovement    string
	Mood              string
	// Duration is the requested clip length in seconds (4-8).
	Duration    int
	TextOverlay string
}

// Placement positions the presenter over the background video.
type Placement struct {
	// Scale is the presenter size relative to the frame (0.1-1.0).
	Scale float64
	// X and Y are offsets in [-1.0, 1.0].
	X float64
	Y float64
}

// DefaultPlacement returns the placement used when the request omits one.
func DefaultPlacement() Placement {
	return Placement{Scale: 0.8, X: 0.7, Y: 0.8}
}

// Input is the immutable request a job was accepted with.
type Input struct {
	ProductID    string
	ProductTitle string
	Scenes       []Scene
	Script       string
	PresenterID  string
	VoiceID      string
	ImageURL     string
	Placement    Placement
	// WebhookURL receives the terminal snapshot, if set.
	WebhookURL string
	// PushToS3 archives the final video to S3 before completion.
	PushToS3 bool
}

// Owner returns the storage namespace for the job's artifacts.
func (in Input) Owner(jobID string) string {
	if in.ProductID != "" {
		return in.ProductID
	}
	return jobID
}

// Artifacts holds the intermediate references produced by the pipeline.
type Artifacts struct {
	// BrollLocator is the storage reference of the latest background clip.
	BrollLocator string
	// BrollPublicURL is the publicly fetchable mirror of BrollLocator.
	BrollPublicURL string
	// AssetID is the compositor's id for the uploaded background.
	AssetID string
	// CompositionID is the compositor's id for the presenter render.
	CompositionID string
	// PresenterVideoURL is the compositor's output URL.
	PresenterVideoURL string
}

// Job represents a video generation job aggregate.
// The orchestrator is its only writer; readers work on clones handed out
// by the repository.
type Job struct {
	// ID is the unique identifier for this job.
	ID string
	// Input is the accepted request.
	Input Input
	// Status is the current job state.
	Status Status
	// Progress is the percentage of completion (0-100), never decreasing.
	Progress int
	// Artifacts are the references reached so far.
	Artifacts Artifacts
	// FinalURL is set if and only if the job completed.
	FinalURL string
	// Failure is set if and only if the job failed.
	Failure *Failure
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// CompletedAt is when the job completed successfully.
	CompletedAt time.Time
	// ProcessingTime is CompletedAt minus CreatedAt.
	ProcessingTime time.Duration
	// CreditsUsed counts the usage charged for this job.
	CreditsUsed int
	// ClaimToken marks the execution that owns the job.
	ClaimToken string
	// ClaimedAt is when ClaimToken was written.
	ClaimedAt time.Time
	// Version is the optimistic concurrency counter maintained by the repository.
	Version int64
}

// New creates a new pending Job with a generated ID.
func New(input Input) *Job {
	return NewWithID(id.Generate(), input)
}

// NewWithID creates a new pending Job with the specified ID.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string, input Input) *Job {
	now := time.Now().UTC()
	input.Scenes = slices.Clone(input.Scenes)
	return &Job{
		ID:        jobID,
		Input:     input,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}
	j.Status = status
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Claim marks the job as owned by one pipeline execution.
// Only an unclaimed pending job can be claimed.
func (j *Job) Claim(token string, now time.Time) error {
	if j.Status != StatusPending {
		return ErrNotPending
	}
	if j.ClaimToken != "" {
		return ErrAlreadyClaimed
	}
	j.ClaimToken = token
	j.ClaimedAt = now
	j.UpdatedAt = now
	return nil
}

// AdvanceProgress raises progress to p, clamped to 0-100.
// Lower values are ignored so progress never moves backwards.
func (j *Job) AdvanceProgress(p int) {
	p = max(0, min(p, 100))
	if p <= j.Progress {
		return
	}
	j.Progress = p
	j.UpdatedAt = time.Now().UTC()
}

// Complete transitions the job to completed with its final URL and charges
// CreditsPerJob.
func (j *Job) Complete(finalURL string, now time.Time) error {
	if finalURL == "" {
		return errors.New("complete: final URL is required")
	}
	if err := j.TransitionTo(StatusCompleted); err != nil {
		return err
	}
	j.FinalURL = finalURL
	j.Progress = 100
	j.CompletedAt = now
	j.ProcessingTime = max(now.Sub(j.CreatedAt), 0)
	j.CreditsUsed += CreditsPerJob
	j.UpdatedAt = now
	return nil
}

// Fail transitions the job to failed with a normalized error record.
// Progress and artifacts reached so far are kept.
func (j *Job) Fail(f Failure, now time.Time) error {
	if err := j.TransitionTo(StatusFailed); err != nil {
		return err
	}
	if f.Message == "" {
		f.Message = "unknown error"
	}
	if f.Kind == "" {
		f.Kind = KindInternal
	}
	j.Failure = &f
	j.UpdatedAt = now
	return nil
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	c := *j
	c.Input.Scenes = slices.Clone(j.Input.Scenes)
	if j.Failure != nil {
		f := *j.Failure
		c.Failure = &f
	}
	return &c
}
