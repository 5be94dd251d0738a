package job

import (
	"context"
	"errors"
)

// Static errors for job persistence.
var (
	// ErrJobNotFound is returned when a job cannot be found by ID.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned when creating a job whose ID is already stored.
	ErrJobExists = errors.New("job already exists")
	// ErrVersionConflict is returned when an update was based on a stale version.
	ErrVersionConflict = errors.New("job version conflict")
)

// ListFilter narrows List results.
type ListFilter struct {
	// Status keeps only jobs in this status when set.
	Status Status
	// Active keeps only jobs that are not yet completed or failed.
	Active bool
	// Limit caps the number of results when positive.
	Limit int
}

// Repository defines the interface for job persistence.
// It acts as a port in the hexagonal architecture pattern.
//
// Update is a compare-and-swap on Version: it succeeds only when the stored
// version equals job.Version, and on success increments job.Version.
// This per-row atomicity is what the single-execution guarantee relies on.
type Repository interface {
	// Create persists a new job.
	// Returns ErrJobExists if the ID is taken.
	Create(ctx context.Context, job *Job) error

	// FindByID retrieves a job by its unique identifier.
	// Returns ErrJobNotFound if the job does not exist.
	FindByID(ctx context.Context, id string) (*Job, error)

	// List returns jobs ordered by creation time, newest first.
	List(ctx context.Context, filter ListFilter) ([]*Job, error)

	// Update stores job if its Version matches the stored one.
	// Returns ErrJobNotFound or ErrVersionConflict.
	Update(ctx context.Context, job *Job) error

	// Delete removes a job from storage.
	// Returns ErrJobNotFound if the job does not exist.
	Delete(ctx context.Context, id string) error
}
