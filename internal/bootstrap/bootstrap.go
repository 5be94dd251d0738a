// Package bootstrap provides dependency initialization for the Renderly API.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/maauso/renderly/internal/config"
	"github.com/maauso/renderly/internal/gcpauth"
	"github.com/maauso/renderly/internal/generator"
	"github.com/maauso/renderly/internal/heygen"
	"github.com/maauso/renderly/internal/job"
	"github.com/maauso/renderly/internal/notify"
	"github.com/maauso/renderly/internal/pipeline"
	"github.com/maauso/renderly/internal/storage"
	"github.com/maauso/renderly/internal/veo"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Service    *job.Service
	Dispatcher *pipeline.Dispatcher
	// DatabasePing is nil when jobs are kept in memory.
	DatabasePing func(ctx context.Context) error

	closers []func()
}

// Close releases pooled connections.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	repo, err := initRepository(ctx, cfg, deps, logger)
	if err != nil {
		return nil, err
	}

	broll, err := initBroll(ctx, cfg)
	if err != nil {
		deps.Close()
		return nil, err
	}

	heygenClient, err := heygen.NewClient(heygen.WithAPIKey(cfg.HeyGenAPIKey))
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("create HeyGen client: %w", err)
	}
	compositor := generator.NewHeyGenAdapter(heygenClient)

	opts := []pipeline.Option{
		pipeline.WithBrollPoll(cfg.BrollPoll()),
		pipeline.WithCompositionPoll(cfg.CompositionPoll()),
		pipeline.WithLogger(logger),
		pipeline.WithNotifier(notify.NewWebhookNotifier(
			notify.WithHTTPClient(&http.Client{Timeout: cfg.WebhookTimeout}),
			notify.WithMaxRetries(cfg.WebhookMaxRetries),
			notify.WithLogger(logger),
		)),
	}

	if cfg.S3Enabled() {
		archiver, err := initArchiver(ctx, cfg, logger)
		if err != nil {
			deps.Close()
			return nil, err
		}
		opts = append(opts, pipeline.WithArchiver(archiver))
	}

	orchestrator := pipeline.NewOrchestrator(repo, broll, compositor, opts...)

	deps.Dispatcher = pipeline.NewDispatcher(orchestrator, cfg.MaxConcurrentJobs, cfg.JobQueueSize, logger)
	deps.Service = job.NewService(repo, logger, job.WithArchiveEnabled(cfg.S3Enabled()))

	return deps, nil
}

// RecoverJobs fails jobs interrupted by a previous process and queues the
// pending ones that were never started. Jobs that do not fit in the queue
// are rejected.
func (d *Dependencies) RecoverJobs(ctx context.Context, logger *slog.Logger) error {
	pending, err := d.Service.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}

	for _, id := range pending {
		err := d.Dispatcher.Submit(id)
		switch {
		case err == nil:
			logger.Info("re-queued pending job", slog.String("job_id", id))
		case errors.Is(err, pipeline.ErrAlreadyQueued):
		default:
			if rejectErr := d.Service.Reject(ctx, id, "job queue was full on restart; resubmit the request"); rejectErr != nil {
				return fmt.Errorf("reject job %s: %w", id, rejectErr)
			}
		}
	}
	return nil
}

// initRepository returns the PostgreSQL repository when DATABASE_URL is set,
// otherwise the in-memory one.
func initRepository(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (job.Repository, error) {
	if !cfg.DatabaseEnabled() {
		logger.Warn("DATABASE_URL not set; jobs are kept in memory and lost on restart")
		return job.NewMemoryRepository(), nil
	}

	pool, err := job.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	deps.closers = append(deps.closers, pool.Close)
	deps.DatabasePing = pool.Ping

	release, err := job.AcquireInstanceLock(ctx, pool)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("lock job store: %w", err)
	}
	deps.closers = append(deps.closers, release)

	repo := job.NewPostgresRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		deps.Close()
		return nil, err
	}
	logger.Info("PostgreSQL job store configured",
		slog.Int("max_conns", int(cfg.DatabaseMaxConn)),
	)
	return repo, nil
}

// initBroll wires credentials, the Veo client and its adapter.
func initBroll(ctx context.Context, cfg *config.Config) (*generator.VeoAdapter, error) {
	auth, err := gcpauth.NewFromServiceAccount(ctx, cfg.GCPServiceAccountFile)
	if err != nil {
		return nil, fmt.Errorf("load GCP credentials: %w", err)
	}

	client, err := veo.NewClient(cfg.GCPProjectID, auth,
		veo.WithLocation(cfg.GCPLocation),
		veo.WithModel(cfg.VeoModel),
	)
	if err != nil {
		return nil, fmt.Errorf("create Veo client: %w", err)
	}

	adapter, err := generator.NewVeoAdapter(client, cfg.GCSBucket)
	if err != nil {
		return nil, fmt.Errorf("create Veo adapter: %w", err)
	}
	return adapter, nil
}

// initArchiver creates the S3-backed archiver for final videos.
func initArchiver(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage.VideoArchiver, error) {
	s3Store, err := storage.NewS3Storage(ctx, cfg.TempDir, storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 storage: %w", err)
	}
	logger.Info("S3 archiving configured",
		slog.String("bucket", cfg.S3Bucket),
		slog.String("region", cfg.S3Region),
	)
	return storage.NewVideoArchiver(s3Store, storage.WithArchiverLogger(logger)), nil
}
