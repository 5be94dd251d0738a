// Package pipeline runs a job through background generation, asset transfer,
// presenter composition and optional archiving, persisting the job after
// every step.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/renderly/internal/generator"
	"github.com/maauso/renderly/internal/job"
	"github.com/maauso/renderly/internal/job/id"
	"github.com/maauso/renderly/internal/poll"
)

// Archiver copies the final video to long-term storage and returns its URL.
type Archiver interface {
	Archive(ctx context.Context, jobID, sourceURL string) (string, error)
}

// Notifier delivers a terminal job snapshot to destination.
type Notifier interface {
	Notify(ctx context.Context, destination string, snapshot *job.Job) error
}

// Orchestrator executes the pipeline for one job at a time per call to Run.
// It holds no per-job state, so one Orchestrator serves all workers.
type Orchestrator struct {
	repo       job.Repository
	broll      generator.BrollGenerator
	compositor generator.Compositor

	archiver Archiver
	notifier Notifier
	engine   *poll.Engine

	brollPoll       poll.Config
	compositionPoll poll.Config

	now      func() time.Time
	newToken func() string
	logger   *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithArchiver enables archiving for jobs that ask for it.
func WithArchiver(a Archiver) Option {
	return func(o *Orchestrator) {
		o.archiver = a
	}
}

// WithNotifier sets the notifier called after a terminal transition.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) {
		o.notifier = n
	}
}

// WithPollEngine sets the engine used for both poll loops.
func WithPollEngine(e *poll.Engine) Option {
	return func(o *Orchestrator) {
		o.engine = e
	}
}

// WithBrollPoll overrides the poll budget for background clips.
func WithBrollPoll(cfg poll.Config) Option {
	return func(o *Orchestrator) {
		o.brollPoll = cfg
	}
}

// WithCompositionPoll overrides the poll budget for presenter renders.
func WithCompositionPoll(cfg poll.Config) Option {
	return func(o *Orchestrator) {
		o.compositionPoll = cfg
	}
}

// WithClock overrides the clock used for job timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithTokenGenerator overrides how claim tokens are generated.
func WithTokenGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		o.newToken = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(repo job.Repository, broll generator.BrollGenerator, compositor generator.Compositor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		repo:            repo,
		broll:           broll,
		compositor:      compositor,
		engine:          poll.NewEngine(),
		brollPoll:       poll.BrollDefaults(),
		compositionPoll: poll.CompositionDefaults(),
		now:             func() time.Time { return time.Now().UTC() },
		newToken:        id.ClaimToken,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the pipeline for jobID.
//
// The job must be pending and unclaimed; otherwise Run returns the guard
// error without calling any external service. Once the job is claimed every
// outcome is persisted: Run returns nil both when the job completes and when
// it is stored as failed. A non-nil error after the claim means the failed
// state itself could not be written.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	j, err := o.repo.FindByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if err := j.Claim(o.newToken(), o.now()); err != nil {
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}
	if err := o.repo.Update(ctx, j); err != nil {
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}

	logger := o.logger.With(slog.String("job_id", j.ID))
	logger.Info("pipeline started",
		slog.Int("scenes", len(j.Input.Scenes)),
		slog.Bool("push_to_s3", j.Input.PushToS3),
	)

	if err := o.execute(ctx, j, logger); err != nil {
		return o.fail(ctx, j, err, logger)
	}

	logger.Info("pipeline completed",
		slog.String("final_url", j.FinalURL),
		slog.Duration("processing_time", j.ProcessingTime),
	)
	o.notify(ctx, j, logger)
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, j *job.Job, logger *slog.Logger) error {
	in := j.Input
	total := len(in.Scenes)
	if total == 0 {
		return &StepError{Step: StepPrepare, Err: ErrNoScenes}
	}
	prompts := BuildPrompts(in.ProductTitle, in.Scenes)
	owner := in.Owner(j.ID)

	var locator string
	for i := range in.Scenes {
		n := i + 1
		step := StepBroll(n)
		spec := generator.ClipSpec{
			Prompt:     prompts[i],
			ImageURL:   in.ImageURL,
			OutputHint: OutputHint(owner, j.CreatedAt, n),
		}

		var (
			h   generator.Handle
			err error
		)
		if n == 1 {
			h, err = o.broll.SubmitGeneration(ctx, spec)
		} else {
			h, err = o.broll.SubmitExtension(ctx, locator, spec)
		}
		if err != nil {
			return &StepError{Step: step, Err: err}
		}

		st, err := poll.Await(ctx, o.engine, o.brollPoll,
			func(ctx context.Context) (generator.Status, error) {
				return o.broll.PollGeneration(ctx, h)
			},
			generator.Status.IsReady,
			generator.Status.Failure,
		)
		if err != nil {
			return &StepError{Step: step, Err: err}
		}
		if st.Artifact == "" {
			return &StepError{Step: step, Err: ErrEmptyArtifact}
		}

		locator = st.Artifact
		j.Artifacts.BrollLocator = locator
		if n == 1 {
			if err := j.TransitionTo(job.StatusGeneratingBroll); err != nil {
				return &StepError{Step: step, Err: err}
			}
		}
		j.AdvanceProgress(BrollProgress(n, total))
		if err := o.save(ctx, j); err != nil {
			return &StepError{Step: step, Err: err}
		}
		logger.Info("background clip ready",
			slog.Int("scene", n),
			slog.Int("progress", j.Progress),
			slog.String("locator", locator),
		)
	}

	publicURL := o.broll.PublicURL(locator)
	j.Artifacts.BrollPublicURL = publicURL
	if err := j.TransitionTo(job.StatusTransferringAsset); err != nil {
		return &StepError{Step: StepPublish, Err: err}
	}
	j.AdvanceProgress(ProgressBrollDone)
	if err := o.save(ctx, j); err != nil {
		return &StepError{Step: StepPublish, Err: err}
	}

	assetID, err := o.compositor.UploadAsset(ctx, publicURL)
	if err != nil {
		return &StepError{Step: StepUpload, Err: err}
	}
	if assetID == "" {
		return &StepError{Step: StepUpload, Err: &generator.TransferError{Service: "compositor", Err: ErrEmptyArtifact}}
	}
	j.Artifacts.AssetID = assetID
	j.AdvanceProgress(ProgressAssetUploaded)
	if err := j.TransitionTo(job.StatusGeneratingPresenter); err != nil {
		return &StepError{Step: StepUpload, Err: err}
	}
	if err := o.save(ctx, j); err != nil {
		return &StepError{Step: StepUpload, Err: err}
	}
	logger.Info("background uploaded", slog.String("asset_id", assetID))

	h, err := o.compositor.SubmitComposition(ctx, generator.CompositionSpec{
		PresenterID: in.PresenterID,
		VoiceID:     in.VoiceID,
		Script:      in.Script,
		AssetID:     assetID,
		Placement: generator.Placement{
			Scale: in.Placement.Scale,
			X:     in.Placement.X,
			Y:     in.Placement.Y,
		},
	})
	if err != nil {
		return &StepError{Step: StepCompose, Err: err}
	}
	j.Artifacts.CompositionID = string(h)
	j.AdvanceProgress(ProgressCompositionSubmitted)
	if err := o.save(ctx, j); err != nil {
		return &StepError{Step: StepCompose, Err: err}
	}
	logger.Info("composition submitted", slog.String("composition_id", string(h)))

	st, err := poll.Await(ctx, o.engine, o.compositionPoll,
		func(ctx context.Context) (generator.Status, error) {
			return o.compositor.PollComposition(ctx, h)
		},
		generator.Status.IsReady,
		generator.Status.Failure,
	)
	if err != nil {
		return &StepError{Step: StepAwaitCompose, Err: err}
	}
	if st.Artifact == "" {
		return &StepError{Step: StepAwaitCompose, Err: ErrEmptyArtifact}
	}
	j.Artifacts.PresenterVideoURL = st.Artifact
	finalURL := st.Artifact

	if in.PushToS3 {
		if o.archiver == nil {
			logger.Warn("archiving requested but no archiver is configured; keeping presenter URL")
		} else {
			archived, err := o.archiver.Archive(ctx, j.ID, finalURL)
			if err != nil {
				return &StepError{Step: StepArchive, Err: err}
			}
			finalURL = archived
			j.AdvanceProgress(ProgressArchived)
			if err := o.save(ctx, j); err != nil {
				return &StepError{Step: StepArchive, Err: err}
			}
			logger.Info("final video archived", slog.String("url", archived))
		}
	}

	// Complete a copy so a failed write leaves j failable.
	done := j.Clone()
	if err := done.Complete(finalURL, o.now()); err != nil {
		return &StepError{Step: StepComplete, Err: err}
	}
	if err := o.save(ctx, done); err != nil {
		return &StepError{Step: StepComplete, Err: err}
	}
	*j = *done
	return nil
}

// save persists j; the repository bumps j.Version on success.
func (o *Orchestrator) save(ctx context.Context, j *job.Job) error {
	if err := o.repo.Update(ctx, j); err != nil {
		return fmt.Errorf("persist job: %w", err)
	}
	return nil
}

// fail stores the job as failed. Artifacts and progress reached so far are
// kept. The write uses a context detached from cancellation so a shutdown
// still records the outcome.
func (o *Orchestrator) fail(ctx context.Context, j *job.Job, cause error, logger *slog.Logger) error {
	failure := Translate(cause)
	if ctx.Err() != nil {
		// Adapters report a cancelled call as a transport failure.
		failure.Kind = job.KindInterrupted
	}

	persistCtx := context.WithoutCancel(ctx)
	if err := j.Fail(failure, o.now()); err != nil {
		return fmt.Errorf("fail job %s: %w", j.ID, err)
	}
	if err := o.repo.Update(persistCtx, j); err != nil {
		logger.Error("failed to persist job failure",
			slog.String("error", err.Error()),
			slog.String("cause", cause.Error()),
		)
		return fmt.Errorf("persist failed job %s: %w", j.ID, err)
	}

	logger.Warn("pipeline failed",
		slog.String("kind", string(failure.Kind)),
		slog.String("step", failure.Step),
		slog.String("error", failure.Message),
		slog.Int("progress", j.Progress),
	)
	o.notify(persistCtx, j, logger)
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, j *job.Job, logger *slog.Logger) {
	if o.notifier == nil || j.Input.WebhookURL == "" {
		return
	}
	if err := o.notifier.Notify(ctx, j.Input.WebhookURL, j.Clone()); err != nil {
		logger.Warn("webhook delivery failed",
			slog.String("error", err.Error()),
		)
	}
}
