package storage

import (
	"context"
	"errors"
	"time"

	"clearci/pkg/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// JobStore defines the data access layer for job management.
type JobStore interface {
	// CreateJob persists a new job.
	CreateJob(ctx context.Context, job *models.Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)

	// GetJobByName retrieves a job by its unique name.
	GetJobByName(ctx context.Context, name string) (*models.Job, error)

	// ListJobs returns non-archived jobs with pagination, newest first.
	ListJobs(ctx context.Context, limit, offset int) ([]models.Job, error)

	// ListDueJobs finds jobs that need to be scheduled (NextRunAt <= Now).
	ListDueJobs(ctx context.Context, limit int) ([]models.Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, job *models.Job) error

	// UpdateJobStatus transitions a job between ACTIVE, PAUSED, and ARCHIVED.
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error

	// UpdateNextRun sets the next execution time for a job.
	UpdateNextRun(ctx context.Context, id uuid.UUID, nextRun time.Time) error

	// DeleteJob soft-deletes a job.
	DeleteJob(ctx context.Context, id uuid.UUID) error
}

// Queue defines the mechanism for dispatching executions to executor nodes.
type Queue interface {
	// Push adds an execution to the pending queue.
	Push(ctx context.Context, execution *models.Execution) error

	// Pop retrieves an execution from the queue for a specific consumer group.
	Pop(ctx context.Context, group string, consumer string) (string, *models.Execution, error)

	// Ack acknowledges an execution as processed.
	Ack(ctx context.Context, group string, msgID string) error

	// EnsureGroup ensures the consumer group exists.
	EnsureGroup(ctx context.Context, group string) error

	// Depth returns the number of entries currently in the queue.
	Depth(ctx context.Context) (int64, error)
}

// Store combines job and execution persistence. Both the postgres and
// sqlite backends implement it.
type Store interface {
	JobStore
	ExecutionStore
	Close() error
}

// ExecutionStore defines the data access layer for execution history.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *models.Execution) error

	// GetExecution retrieves one execution by ID.
	GetExecution(ctx context.Context, id uuid.UUID) (*models.Execution, error)

	// ListExecutions returns executions for a job, newest first.
	ListExecutions(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]models.Execution, error)

	// UpdateRunState marks an execution as running on a node.
	UpdateRunState(ctx context.Context, id uuid.UUID, nodeID string, startedAt time.Time) error

	// UpdateResult marks an execution as finished.
	UpdateResult(ctx context.Context, id uuid.UUID, status models.ExecutionStatus, exitCode int, outputURI, errMsg string) error

	// MarkOrphansAsFailed updates executions stuck in RUNNING state on dead nodes.
	MarkOrphansAsFailed(ctx context.Context, activeNodeIDs []string) (int64, error)

	// ListRecentFailures returns executions that failed since a given time.
	ListRecentFailures(ctx context.Context, since time.Time, limit int) ([]models.Execution, error)
}
