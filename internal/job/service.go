package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrArchiveUnavailable is returned when a job asks for S3 archiving but no
// S3 storage is configured.
var ErrArchiveUnavailable = errors.New("S3 archiving requested but S3 is not configured")

// Service is the job use case exposed to the HTTP surface: it accepts new
// jobs, serves reads, and reconciles jobs orphaned by a restart.
// Pipeline execution itself belongs to the orchestrator.
type Service struct {
	repo           Repository
	logger         *slog.Logger
	archiveEnabled bool
	now            func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithArchiveEnabled declares whether S3 archiving can be honored.
func WithArchiveEnabled(enabled bool) ServiceOption {
	return func(s *Service) {
		s.archiveEnabled = enabled
	}
}

// WithServiceClock overrides the clock used for recovery timestamps.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new Service.
func NewService(repo Repository, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob creates a new job and persists it to the repository.
// The job is created in pending status, ready for the orchestrator.
func (s *Service) CreateJob(ctx context.Context, input Input) (*Job, error) {
	if input.PushToS3 && !s.archiveEnabled {
		return nil, ErrArchiveUnavailable
	}

	job := New(input)

	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.String("product_title", input.ProductTitle),
		slog.Int("scenes", len(input.Scenes)),
		slog.Bool("push_to_s3", input.PushToS3),
	)

	if err := s.repo.Create(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return job, nil
}

// GetJob retrieves a job by ID.
func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns jobs newest first.
func (s *Service) ListJobs(ctx context.Context, filter ListFilter) ([]*Job, error) {
	return s.repo.List(ctx, filter)
}

// Reject fails a pending job that could not be handed to a worker.
func (s *Service) Reject(ctx context.Context, id, reason string) error {
	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := j.Fail(Failure{Kind: KindInternal, Message: reason, Step: "dispatch"}, s.now()); err != nil {
		return fmt.Errorf("reject job %s: %w", id, err)
	}
	if err := s.repo.Update(ctx, j); err != nil {
		return fmt.Errorf("reject job %s: %w", id, err)
	}
	s.logger.Warn("job rejected",
		slog.String("job_id", id),
		slog.String("reason", reason),
	)
	return nil
}

// Recover reconciles jobs left behind by a previous process.
//
// In-flight operation handles do not survive a restart, so a job that was
// claimed or had moved past pending is failed with KindInterrupted rather
// than resumed. Unclaimed pending jobs never started; their IDs are returned
// so the caller can dispatch them again.
func (s *Service) Recover(ctx context.Context) ([]string, error) {
	jobs, err := s.repo.List(ctx, ListFilter{Active: true})
	if err != nil {
		return nil, fmt.Errorf("list jobs for recovery: %w", err)
	}

	var pending []string
	for _, j := range jobs {
		if j.Status == StatusPending && j.ClaimToken == "" {
			pending = append(pending, j.ID)
			continue
		}

		failure := Failure{
			Kind:    KindInterrupted,
			Message: fmt.Sprintf("processing was interrupted while %s; resubmit the request", j.Status),
			Step:    string(j.Status),
		}
		if err := j.Fail(failure, s.now()); err != nil {
			return pending, fmt.Errorf("fail interrupted job %s: %w", j.ID, err)
		}
		if err := s.repo.Update(ctx, j); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				// Another process owns the row now.
				continue
			}
			return pending, fmt.Errorf("persist interrupted job %s: %w", j.ID, err)
		}
		s.logger.Warn("marked interrupted job as failed",
			slog.String("job_id", j.ID),
			slog.Int("progress", j.Progress),
		)
	}

	return pending, nil
}
