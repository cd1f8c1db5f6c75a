package job

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned when a job cannot be found by ID.
var ErrJobNotFound = errors.New("job not found")

// Repository stores extend jobs.
type Repository interface {
	// Save inserts or replaces job. Implementations store a copy.
	Save(ctx context.Context, job *Job) error

	// FindByID returns a copy of the job, or ErrJobNotFound.
	FindByID(ctx context.Context, id string) (*Job, error)

	// List returns copies of all jobs ordered by creation time.
	List(ctx context.Context) ([]*Job, error)

	// PruneFinished drops terminal jobs that completed before cutoff and
	// returns how many were removed. Queued and running jobs are kept.
	PruneFinished(ctx context.Context, cutoff time.Time) (int, error)
}
