package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRow assigns its values to the Scan destinations in order.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(r.values))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		v := reflect.ValueOf(r.values[i])
		if !v.IsValid() {
			target.SetZero()
			continue
		}
		if !v.Type().AssignableTo(target.Type()) {
			return fmt.Errorf("scan column %d: cannot assign %s to %s", i, v.Type(), target.Type())
		}
		target.Set(v)
	}
	return nil
}

type fakeRows struct {
	rows []fakeRow
	pos  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	return r.rows[r.pos-1].Scan(dest...)
}

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	execTags []string
	execErr  error
	execs    []execCall
	row      fakeRow
	queryRow []string
	queries  []execCall
	rows     *fakeRows
	pingErr  error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	tag := "UPDATE 1"
	if len(f.execTags) > 0 {
		tag, f.execTags = f.execTags[0], f.execTags[1:]
	}
	return pgconn.NewCommandTag(tag), nil
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	f.queryRow = append(f.queryRow, sql)
	return f.row
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.queries = append(f.queries, execCall{sql: sql, args: args})
	return f.rows, nil
}

func (f *fakeDB) Ping(context.Context) error { return f.pingErr }

func jobRow(t *testing.T, j *Job) fakeRow {
	t.Helper()
	input, err := json.Marshal(j.Input)
	require.NoError(t, err)
	artifacts, err := json.Marshal(j.Artifacts)
	require.NoError(t, err)
	kind, msg, step := failureColumns(j.Failure)
	return fakeRow{values: []any{
		j.ID, input, string(j.Status), j.Progress, artifacts, j.FinalURL,
		kind, msg, step,
		j.CreatedAt, j.UpdatedAt, nullableTime(j.CompletedAt),
		j.ProcessingTime.Milliseconds(), j.CreditsUsed, j.ClaimToken, nullableTime(j.ClaimedAt),
		j.Version,
	}}
}

func TestPostgresRepository_Create(t *testing.T) {
	db := &fakeDB{execTags: []string{"INSERT 0 1"}}
	repo := &PostgresRepository{db: db}
	job := NewWithID("job-1", testInput())

	require.NoError(t, repo.Create(context.Background(), job))

	assert.Equal(t, int64(1), job.Version)
	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].sql, "INSERT INTO jobs")
	assert.Equal(t, "job-1", db.execs[0].args[0])
	assert.Equal(t, "pending", db.execs[0].args[2])
}

func TestPostgresRepository_Create_Duplicate(t *testing.T) {
	db := &fakeDB{execTags: []string{"INSERT 0 0"}}
	repo := &PostgresRepository{db: db}

	err := repo.Create(context.Background(), NewWithID("job-1", testInput()))
	assert.ErrorIs(t, err, ErrJobExists)
}

func TestPostgresRepository_FindByID(t *testing.T) {
	stored := NewWithID("job-1", testInput())
	stored.Status = StatusFailed
	stored.Progress = 60
	stored.Artifacts.BrollLocator = "gs://bucket/job-1/scene_1/video.mp4"
	stored.Failure = &Failure{Kind: KindTransfer, Message: "asset rejected", Step: "asset_transfer"}
	stored.Version = 4

	db := &fakeDB{row: jobRow(t, stored)}
	repo := &PostgresRepository{db: db}

	found, err := repo.FindByID(context.Background(), "job-1")
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, found.Status)
	assert.Equal(t, 60, found.Progress)
	assert.Equal(t, stored.Input.ProductTitle, found.Input.ProductTitle)
	assert.Len(t, found.Input.Scenes, 2)
	assert.Equal(t, stored.Artifacts.BrollLocator, found.Artifacts.BrollLocator)
	require.NotNil(t, found.Failure)
	assert.Equal(t, KindTransfer, found.Failure.Kind)
	assert.True(t, found.CompletedAt.IsZero())
	assert.Equal(t, int64(4), found.Version)
}

func TestPostgresRepository_FindByID_NotFound(t *testing.T) {
	db := &fakeDB{row: fakeRow{err: pgx.ErrNoRows}}
	repo := &PostgresRepository{db: db}

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestPostgresRepository_Update(t *testing.T) {
	db := &fakeDB{execTags: []string{"UPDATE 1"}}
	repo := &PostgresRepository{db: db}
	job := NewWithID("job-1", testInput())
	job.Version = 3

	require.NoError(t, repo.Update(context.Background(), job))

	assert.Equal(t, int64(4), job.Version)
	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].sql, "WHERE id = $1 AND version = $2")
	assert.Equal(t, int64(3), db.execs[0].args[1])
}

func TestPostgresRepository_Update_NoRows(t *testing.T) {
	tests := []struct {
		name   string
		exists bool
		want   error
	}{
		{"stale version", true, ErrVersionConflict},
		{"missing row", false, ErrJobNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &fakeDB{
				execTags: []string{"UPDATE 0"},
				row:      fakeRow{values: []any{tt.exists}},
			}
			repo := &PostgresRepository{db: db}
			job := NewWithID("job-1", testInput())
			job.Version = 2

			err := repo.Update(context.Background(), job)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int64(2), job.Version, "version must not change on a failed update")
			require.Len(t, db.queryRow, 1)
			assert.True(t, strings.Contains(db.queryRow[0], "SELECT EXISTS"))
		})
	}
}

func TestPostgresRepository_List(t *testing.T) {
	a := NewWithID("a", testInput())
	b := NewWithID("b", testInput())
	b.CompletedAt = time.Now().UTC()
	db := &fakeDB{rows: &fakeRows{rows: []fakeRow{jobRow(t, a), jobRow(t, b)}}}
	repo := &PostgresRepository{db: db}

	jobs, err := repo.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].ID)
	assert.False(t, jobs[1].CompletedAt.IsZero())
	require.Len(t, db.queries, 1)
	assert.Equal(t, []any{"", 0, false}, db.queries[0].args)
}

func TestPostgresRepository_List_Active(t *testing.T) {
	db := &fakeDB{rows: &fakeRows{}}
	repo := &PostgresRepository{db: db}

	jobs, err := repo.List(context.Background(), ListFilter{Active: true, Limit: 50})
	require.NoError(t, err)
	assert.Empty(t, jobs)

	require.Len(t, db.queries, 1)
	assert.Contains(t, db.queries[0].sql, "status NOT IN ('completed', 'failed')")
	assert.Equal(t, []any{"", 50, true}, db.queries[0].args)
}

func TestPostgresRepository_Delete(t *testing.T) {
	db := &fakeDB{execTags: []string{"DELETE 0"}}
	repo := &PostgresRepository{db: db}

	assert.ErrorIs(t, repo.Delete(context.Background(), "missing"), ErrJobNotFound)
}

func TestPostgresRepository_MigrateAndPing(t *testing.T) {
	db := &fakeDB{}
	repo := &PostgresRepository{db: db}

	require.NoError(t, repo.Migrate(context.Background()))
	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].sql, "CREATE TABLE IF NOT EXISTS jobs")

	db.pingErr = errors.New("connection refused")
	assert.Error(t, repo.Ping(context.Background()))
}

type fakeConn struct {
	row      fakeRow
	queries  []execCall
	execs    []execCall
	released int
}

func (c *fakeConn) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.execs = append(c.execs, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func (c *fakeConn) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	c.queries = append(c.queries, execCall{sql: sql, args: args})
	return c.row
}

func (c *fakeConn) Release() { c.released++ }

func TestLockInstance(t *testing.T) {
	t.Run("acquired and released", func(t *testing.T) {
		conn := &fakeConn{row: fakeRow{values: []any{true}}}

		release, err := lockInstance(context.Background(), conn)
		require.NoError(t, err)
		require.Len(t, conn.queries, 1)
		assert.Contains(t, conn.queries[0].sql, "pg_try_advisory_lock")
		assert.Equal(t, []any{instanceLockKey}, conn.queries[0].args)
		assert.Zero(t, conn.released, "the connection is held while locked")

		release()
		require.Len(t, conn.execs, 1)
		assert.Contains(t, conn.execs[0].sql, "pg_advisory_unlock")
		assert.Equal(t, []any{instanceLockKey}, conn.execs[0].args)
		assert.Equal(t, 1, conn.released)
	})

	t.Run("held by another instance", func(t *testing.T) {
		conn := &fakeConn{row: fakeRow{values: []any{false}}}

		release, err := lockInstance(context.Background(), conn)
		assert.ErrorIs(t, err, ErrInstanceLocked)
		assert.Nil(t, release)
		assert.Equal(t, 1, conn.released)
		assert.Empty(t, conn.execs)
	})

	t.Run("query error", func(t *testing.T) {
		conn := &fakeConn{row: fakeRow{err: errors.New("connection refused")}}

		_, err := lockInstance(context.Background(), conn)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrInstanceLocked)
		assert.Equal(t, 1, conn.released)
	})
}
