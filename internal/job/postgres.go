package job

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Compile-time check that PostgresRepository implements Repository.
var _ Repository = (*PostgresRepository)(nil)

// dbtx is the subset of *pgxpool.Pool used by PostgresRepository.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

// PostgresRepository implements Repository on a PostgreSQL jobs table.
// Update is an optimistic compare-and-swap on the version column.
type PostgresRepository struct {
	db dbtx
}

// NewPostgresRepository creates a repository backed by a pgx pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: pool}
}

// NewPool opens and verifies a pgx connection pool.
func NewPool(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		// One extra connection is held by the instance lock.
		poolCfg.MaxConns = maxConns + 1
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// ErrInstanceLocked is returned when another process holds the instance lock.
var ErrInstanceLocked = errors.New("job store is locked by another instance")

// instanceLockKey is the advisory lock key shared by all Renderly processes.
const instanceLockKey int64 = 0x52454e444552

// sessionConn is the subset of *pgxpool.Conn used to hold a session lock.
type sessionConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Release()
}

// AcquireInstanceLock takes a session advisory lock on a dedicated pool
// connection. Only one process may recover and run jobs against a store;
// a second one gets ErrInstanceLocked. The returned func unlocks and gives
// the connection back, and must run before the pool is closed.
func AcquireInstanceLock(ctx context.Context, pool *pgxpool.Pool) (func(), error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}
	return lockInstance(ctx, conn)
}

func lockInstance(ctx context.Context, conn sessionConn) (func(), error) {
	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1);`, instanceLockKey).Scan(&locked); err != nil {
		conn.Release()
		return nil, fmt.Errorf("try instance lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, ErrInstanceLocked
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctx, `SELECT pg_advisory_unlock($1);`, instanceLockKey)
		conn.Release()
	}, nil
}

// Migrate creates the jobs table if it does not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate jobs schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

const jobColumns = `id, input, status, progress, artifacts, final_url, error_kind, error_message, error_step,
created_at, updated_at, completed_at, processing_ms, credits_used, claim_token, claimed_at, version`

// Create inserts a new job row with version 1.
func (r *PostgresRepository) Create(ctx context.Context, job *Job) error {
	input, err := json.Marshal(job.Input)
	if err != nil {
		return fmt.Errorf("marshal job input: %w", err)
	}
	artifacts, err := json.Marshal(job.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal job artifacts: %w", err)
	}
	kind, msg, step := failureColumns(job.Failure)

	tag, err := r.db.Exec(ctx, `
INSERT INTO jobs (`+jobColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1)
ON CONFLICT (id) DO NOTHING;`,
		job.ID, input, string(job.Status), job.Progress, artifacts, job.FinalURL,
		kind, msg, step,
		job.CreatedAt, job.UpdatedAt, nullableTime(job.CompletedAt),
		job.ProcessingTime.Milliseconds(), job.CreditsUsed, job.ClaimToken, nullableTime(job.ClaimedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobExists
	}
	job.Version = 1
	return nil
}

// FindByID fetches a job by its identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1;`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// List returns jobs newest first, optionally filtered by status.
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]*Job, error) {
	rows, err := r.db.Query(ctx, `
SELECT `+jobColumns+`
FROM jobs
WHERE ($1 = '' OR status = $1)
  AND (NOT $3::bool OR status NOT IN ('completed', 'failed'))
ORDER BY created_at DESC, id
LIMIT NULLIF($2::int, 0);`, string(filter.Status), filter.Limit, filter.Active)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Update writes the mutable columns when the stored version matches.
func (r *PostgresRepository) Update(ctx context.Context, job *Job) error {
	artifacts, err := json.Marshal(job.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal job artifacts: %w", err)
	}
	kind, msg, step := failureColumns(job.Failure)

	tag, err := r.db.Exec(ctx, `
UPDATE jobs
SET status = $3,
    progress = $4,
    artifacts = $5,
    final_url = $6,
    error_kind = $7,
    error_message = $8,
    error_step = $9,
    updated_at = $10,
    completed_at = $11,
    processing_ms = $12,
    credits_used = $13,
    claim_token = $14,
    claimed_at = $15,
    version = version + 1
WHERE id = $1 AND version = $2;`,
		job.ID, job.Version,
		string(job.Status), job.Progress, artifacts, job.FinalURL,
		kind, msg, step,
		job.UpdatedAt, nullableTime(job.CompletedAt), job.ProcessingTime.Milliseconds(),
		job.CreditsUsed, job.ClaimToken, nullableTime(job.ClaimedAt),
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1);`, job.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check job: %w", err)
		}
		if !exists {
			return ErrJobNotFound
		}
		return ErrVersionConflict
	}
	job.Version++
	return nil
}

// Delete removes a job row.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM jobs WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		job          Job
		status       string
		input        []byte
		artifacts    []byte
		kind         string
		msg          string
		step         string
		completedAt  *time.Time
		claimedAt    *time.Time
		processingMS int64
	)
	if err := row.Scan(
		&job.ID,
		&input,
		&status,
		&job.Progress,
		&artifacts,
		&job.FinalURL,
		&kind,
		&msg,
		&step,
		&job.CreatedAt,
		&job.UpdatedAt,
		&completedAt,
		&processingMS,
		&job.CreditsUsed,
		&job.ClaimToken,
		&claimedAt,
		&job.Version,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(input, &job.Input); err != nil {
		return nil, fmt.Errorf("decode job input: %w", err)
	}
	if len(artifacts) > 0 {
		if err := json.Unmarshal(artifacts, &job.Artifacts); err != nil {
			return nil, fmt.Errorf("decode job artifacts: %w", err)
		}
	}
	job.Status = Status(status)
	if kind != "" || msg != "" {
		job.Failure = &Failure{Kind: ErrorKind(kind), Message: msg, Step: step}
	}
	if completedAt != nil {
		job.CompletedAt = *completedAt
	}
	if claimedAt != nil {
		job.ClaimedAt = *claimedAt
	}
	job.ProcessingTime = time.Duration(processingMS) * time.Millisecond
	return &job, nil
}

func failureColumns(f *Failure) (kind, msg, step string) {
	if f == nil {
		return "", "", ""
	}
	return string(f.Kind), f.Message, f.Step
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
