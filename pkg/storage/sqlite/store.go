// Package sqlite implements the job and execution stores on a single-file
// SQLite database, for single-node installs that do not want to run
// PostgreSQL. The schema mirrors the postgres store; timestamps are stored
// as Unix nanoseconds and JSON columns hold the structured job fields.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"clearci/pkg/models"
	"clearci/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL UNIQUE,
	schedule     TEXT NOT NULL,
	command      TEXT NOT NULL,
	scm          TEXT,
	owner_id     TEXT,
	retry_policy TEXT,
	limits       TEXT,
	status       TEXT NOT NULL DEFAULT 'ACTIVE',
	next_run_at  INTEGER,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	deleted_at   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_jobs_next_run ON jobs(next_run_at);

CREATE TABLE IF NOT EXISTS executions (
	id           TEXT PRIMARY KEY,
	job_id       TEXT NOT NULL,
	node_id      TEXT,
	scheduled_at INTEGER NOT NULL,
	started_at   INTEGER,
	completed_at INTEGER,
	status       TEXT NOT NULL DEFAULT 'PENDING',
	attempt      INTEGER NOT NULL DEFAULT 1,
	exit_code    INTEGER NOT NULL DEFAULT 0,
	output_uri   TEXT,
	error        TEXT,
	UNIQUE(job_id, scheduled_at)
);
CREATE INDEX IF NOT EXISTS idx_executions_job ON executions(job_id);
CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
`

// Store wraps a SQLite database implementing JobStore and ExecutionStore.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path with WAL mode.
// Use ":memory:" for in-memory databases in tests.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening db %s: %w", dbPath, err)
	}

	// WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// SQLite handles one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, job *models.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = models.JobStatusActive
	}

	scm, retry, limits, err := marshalJobFields(job)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, name, schedule, command, scm, owner_id, retry_policy, limits, status, next_run_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID.String(), job.Name, job.Schedule, job.Command,
		scm, job.OwnerID, retry, limits, string(job.Status),
		nullTime(job.NextRunAt), job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting job %s: %w", job.Name, err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, selectJob+` WHERE id = ? AND deleted_at IS NULL`, id.String())
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting job %s: %w", id, err)
	}
	return job, nil
}

// GetJobByName retrieves a job by its unique name.
func (s *Store) GetJobByName(ctx context.Context, name string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, selectJob+` WHERE name = ? AND deleted_at IS NULL`, name)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting job %s: %w", name, err)
	}
	return job, nil
}

// ListJobs returns non-archived jobs with pagination, newest first.
func (s *Store) ListJobs(ctx context.Context, limit, offset int) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		selectJob+` WHERE status != ? AND deleted_at IS NULL ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		string(models.JobStatusArchived), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListDueJobs finds jobs that need to be run.
func (s *Store) ListDueJobs(ctx context.Context, limit int) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		selectJob+` WHERE status = ? AND deleted_at IS NULL AND next_run_at IS NOT NULL AND next_run_at <= ?
		 ORDER BY next_run_at ASC LIMIT ?`,
		string(models.JobStatusActive), time.Now().UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("listing due jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, job *models.Job) error {
	scm, retry, limits, err := marshalJobFields(job)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET schedule=?, command=?, scm=?, retry_policy=?, limits=?, status=?, next_run_at=?, updated_at=?
		 WHERE id=? AND deleted_at IS NULL`,
		job.Schedule, job.Command, scm, retry, limits, string(job.Status),
		nullTime(job.NextRunAt), time.Now().UnixNano(), job.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("updating job %s: %w", job.ID, err)
	}
	return requireRow(result)
}

// UpdateJobStatus transitions a job between ACTIVE, PAUSED, and ARCHIVED.
func (s *Store) UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status=?, updated_at=? WHERE id=? AND deleted_at IS NULL`,
		string(status), time.Now().UnixNano(), id.String())
	if err != nil {
		return fmt.Errorf("updating job status: %w", err)
	}
	return requireRow(result)
}

// UpdateNextRun sets the next execution time for a job.
func (s *Store) UpdateNextRun(ctx context.Context, id uuid.UUID, nextRun time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET next_run_at=?, updated_at=? WHERE id=? AND deleted_at IS NULL`,
		nextRun.UnixNano(), time.Now().UnixNano(), id.String())
	if err != nil {
		return fmt.Errorf("updating next run: %w", err)
	}
	return requireRow(result)
}

// DeleteJob soft-deletes a job.
func (s *Store) DeleteJob(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET deleted_at=? WHERE id=? AND deleted_at IS NULL`,
		time.Now().UnixNano(), id.String())
	if err != nil {
		return fmt.Errorf("deleting job %s: %w", id, err)
	}
	return requireRow(result)
}

// CreateExecution records a new execution run.
func (s *Store) CreateExecution(ctx context.Context, exec *models.Execution) error {
	if exec.ID == uuid.Nil {
		exec.ID = uuid.New()
	}
	if exec.Status == "" {
		exec.Status = models.ExecutionPending
	}
	if exec.Attempt == 0 {
		exec.Attempt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (id, job_id, node_id, scheduled_at, started_at, completed_at, status, attempt, exit_code, output_uri, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID.String(), exec.JobID.String(), nullStringPtr(exec.NodeID),
		exec.ScheduledAt.UnixNano(), nullTime(exec.StartedAt), nullTime(exec.CompletedAt),
		string(exec.Status), exec.Attempt, exec.ExitCode, exec.OutputURI, exec.Error,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// GetExecution retrieves one execution by ID.
func (s *Store) GetExecution(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	row := s.db.QueryRowContext(ctx, selectExecution+` WHERE id = ?`, id.String())
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting execution %s: %w", id, err)
	}
	return exec, nil
}

// ListExecutions returns executions for a job, newest first.
func (s *Store) ListExecutions(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]models.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		selectExecution+` WHERE job_id = ? ORDER BY scheduled_at DESC LIMIT ? OFFSET ?`,
		jobID.String(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

// UpdateRunState marks an execution as running on a node.
func (s *Store) UpdateRunState(ctx context.Context, id uuid.UUID, nodeID string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status=?, node_id=?, started_at=? WHERE id=?`,
		string(models.ExecutionRunning), nodeID, startedAt.UnixNano(), id.String())
	if err != nil {
		return fmt.Errorf("updating run state: %w", err)
	}
	return nil
}

// UpdateResult marks an execution as finished.
func (s *Store) UpdateResult(ctx context.Context, id uuid.UUID, status models.ExecutionStatus, exitCode int, outputURI, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status=?, exit_code=?, output_uri=?, error=?, completed_at=? WHERE id=?`,
		string(status), exitCode, outputURI, errMsg, time.Now().UnixNano(), id.String())
	if err != nil {
		return fmt.Errorf("updating result: %w", err)
	}
	return nil
}

// MarkOrphansAsFailed updates executions stuck in RUNNING state on dead nodes.
func (s *Store) MarkOrphansAsFailed(ctx context.Context, activeNodeIDs []string) (int64, error) {
	query := `UPDATE executions SET status=?, exit_code=-1, error='node lost while running', completed_at=? WHERE status=?`
	args := []interface{}{string(models.ExecutionFailed), time.Now().UnixNano(), string(models.ExecutionRunning)}

	if len(activeNodeIDs) > 0 {
		placeholders := strings.Repeat("?,", len(activeNodeIDs))
		query += ` AND node_id NOT IN (` + placeholders[:len(placeholders)-1] + `)`
		for _, id := range activeNodeIDs {
			args = append(args, id)
		}
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("marking orphans: %w", err)
	}
	return result.RowsAffected()
}

// ListRecentFailures returns executions that failed since a given time.
func (s *Store) ListRecentFailures(ctx context.Context, since time.Time, limit int) ([]models.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		selectExecution+` WHERE status = ? AND completed_at >= ? ORDER BY completed_at DESC LIMIT ?`,
		string(models.ExecutionFailed), since.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent failures: %w", err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

const selectJob = `SELECT id, name, schedule, command, scm, owner_id, retry_policy, limits, status, next_run_at, created_at, updated_at FROM jobs`

const selectExecution = `SELECT id, job_id, node_id, scheduled_at, started_at, completed_at, status, attempt, exit_code, output_uri, error FROM executions`

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(sc scanner) (*models.Job, error) {
	var (
		job                  models.Job
		id                   string
		scm, retry, limits   sql.NullString
		nextRun              sql.NullInt64
		createdAt, updatedAt int64
		status               string
	)
	err := sc.Scan(&id, &job.Name, &job.Schedule, &job.Command, &scm, &job.OwnerID,
		&retry, &limits, &status, &nextRun, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	job.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing job id: %w", err)
	}
	job.Status = models.JobStatus(status)
	job.CreatedAt = time.Unix(0, createdAt)
	job.UpdatedAt = time.Unix(0, updatedAt)
	if nextRun.Valid {
		t := time.Unix(0, nextRun.Int64)
		job.NextRunAt = &t
	}
	if err := unmarshalInto(scm, &job.SCM); err != nil {
		return nil, err
	}
	if err := unmarshalInto(retry, &job.RetryPolicy); err != nil {
		return nil, err
	}
	if err := unmarshalInto(limits, &job.Limits); err != nil {
		return nil, err
	}
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]models.Job, error) {
	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanExecution(sc scanner) (*models.Execution, error) {
	var (
		exec                  models.Execution
		id, jobID, status     string
		nodeID                sql.NullString
		scheduledAt           int64
		startedAt, completed  sql.NullInt64
		outputURI, errMsg     sql.NullString
	)
	err := sc.Scan(&id, &jobID, &nodeID, &scheduledAt, &startedAt, &completed,
		&status, &exec.Attempt, &exec.ExitCode, &outputURI, &errMsg)
	if err != nil {
		return nil, err
	}

	exec.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing execution id: %w", err)
	}
	exec.JobID, err = uuid.Parse(jobID)
	if err != nil {
		return nil, fmt.Errorf("parsing execution job id: %w", err)
	}
	exec.Status = models.ExecutionStatus(status)
	exec.ScheduledAt = time.Unix(0, scheduledAt)
	exec.OutputURI = outputURI.String
	exec.Error = errMsg.String
	if nodeID.Valid {
		exec.NodeID = &nodeID.String
	}
	if startedAt.Valid {
		t := time.Unix(0, startedAt.Int64)
		exec.StartedAt = &t
	}
	if completed.Valid {
		t := time.Unix(0, completed.Int64)
		exec.CompletedAt = &t
	}
	return &exec, nil
}

func collectExecutions(rows *sql.Rows) ([]models.Execution, error) {
	var execs []models.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *exec)
	}
	return execs, rows.Err()
}

func marshalJobFields(job *models.Job) (scm, retry, limits string, err error) {
	s, err := json.Marshal(job.SCM)
	if err != nil {
		return "", "", "", fmt.Errorf("marshaling scm: %w", err)
	}
	r, err := json.Marshal(job.RetryPolicy)
	if err != nil {
		return "", "", "", fmt.Errorf("marshaling retry policy: %w", err)
	}
	l, err := json.Marshal(job.Limits)
	if err != nil {
		return "", "", "", fmt.Errorf("marshaling limits: %w", err)
	}
	return string(s), string(r), string(l), nil
}

func unmarshalInto(col sql.NullString, v interface{}) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), v)
}

func requireRow(result sql.Result) error {
	n, _ := result.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
