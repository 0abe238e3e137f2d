package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"clearci/pkg/models"
	"clearci/pkg/storage"
)

// PostgresStore implements JobStore and ExecutionStore on PostgreSQL.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore initializes the GORM connection and migrates schemas.
func NewPostgresStore(connString string) (*PostgresStore, error) {
	config := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Warn),
		PrepareStmt: true, // cache prepared statements
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&models.Job{}, &models.Execution{}); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateJob persists a new job.
func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	result := s.db.WithContext(ctx).Create(job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return storage.ErrConflict
		}
		return fmt.Errorf("failed to create job: %w", result.Error)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	result := s.db.WithContext(ctx).First(&job, "id = ?", id)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &job, nil
}

// GetJobByName retrieves a job by its unique name.
func (s *PostgresStore) GetJobByName(ctx context.Context, name string) (*models.Job, error) {
	var job models.Job
	result := s.db.WithContext(ctx).First(&job, "name = ?", name)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &job, nil
}

// ListJobs returns non-archived jobs with pagination, newest first.
func (s *PostgresStore) ListJobs(ctx context.Context, limit, offset int) ([]models.Job, error) {
	var jobs []models.Job

	result := s.db.WithContext(ctx).
		Where("status != ?", models.JobStatusArchived).
		Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&jobs)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", result.Error)
	}
	return jobs, nil
}

// ListDueJobs finds jobs that need to be run.
func (s *PostgresStore) ListDueJobs(ctx context.Context, limit int) ([]models.Job, error) {
	var jobs []models.Job

	// SELECT * FROM jobs WHERE status = 'ACTIVE' AND next_run_at <= NOW() ORDER BY next_run_at ASC LIMIT ?
	result := s.db.WithContext(ctx).
		Where("status = ?", models.JobStatusActive).
		Where("next_run_at <= ?", time.Now()).
		Order("next_run_at asc").
		Limit(limit).
		Find(&jobs)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to list due jobs: %w", result.Error)
	}
	return jobs, nil
}

// UpdateJob persists changes to an existing job.
func (s *PostgresStore) UpdateJob(ctx context.Context, job *models.Job) error {
	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"schedule":     job.Schedule,
			"command":      job.Command,
			"scm":          job.SCM,
			"retry_policy": job.RetryPolicy,
			"limits":       job.Limits,
			"status":       job.Status,
			"next_run_at":  job.NextRunAt,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateJobStatus transitions a job between ACTIVE, PAUSED, and ARCHIVED.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error {
	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ?", id).
		Update("status", status)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateNextRun updates the scheduling timestamp.
func (s *PostgresStore) UpdateNextRun(ctx context.Context, id uuid.UUID, nextRun time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ?", id).
		Update("next_run_at", nextRun)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteJob soft-deletes a job.
func (s *PostgresStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&models.Job{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CreateExecution records a new execution run.
func (s *PostgresStore) CreateExecution(ctx context.Context, exec *models.Execution) error {
	result := s.db.WithContext(ctx).Create(exec)
	if result.Error != nil {
		return fmt.Errorf("failed to create execution: %w", result.Error)
	}
	return nil
}

// GetExecution retrieves one execution by ID.
func (s *PostgresStore) GetExecution(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	var exec models.Execution
	result := s.db.WithContext(ctx).First(&exec, "id = ?", id)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &exec, nil
}

// ListExecutions returns executions for a job, newest first.
func (s *PostgresStore) ListExecutions(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]models.Execution, error) {
	var execs []models.Execution
	result := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("scheduled_at desc").
		Limit(limit).
		Offset(offset).
		Find(&execs)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to list executions: %w", result.Error)
	}
	return execs, nil
}

// UpdateRunState marks an execution as running with the assigned node.
func (s *PostgresStore) UpdateRunState(ctx context.Context, id uuid.UUID, nodeID string, startedAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Execution{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.ExecutionRunning,
			"node_id":    nodeID,
			"started_at": startedAt,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update run state: %w", result.Error)
	}
	return nil
}

// UpdateResult marks an execution as finished.
func (s *PostgresStore) UpdateResult(ctx context.Context, id uuid.UUID, status models.ExecutionStatus, exitCode int, outputURI, errMsg string) error {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&models.Execution{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       status,
			"exit_code":    exitCode,
			"output_uri":   outputURI,
			"error":        errMsg,
			"completed_at": now,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update result: %w", result.Error)
	}
	return nil
}

// MarkOrphansAsFailed updates executions stuck in RUNNING state on dead nodes.
func (s *PostgresStore) MarkOrphansAsFailed(ctx context.Context, activeNodeIDs []string) (int64, error) {
	// With no active nodes every running execution is an orphan. Nodes
	// register before consuming, so a fresh node cannot lose work here.
	query := s.db.WithContext(ctx).
		Model(&models.Execution{}).
		Where("status = ?", models.ExecutionRunning)

	if len(activeNodeIDs) > 0 {
		query = query.Where("node_id NOT IN ?", activeNodeIDs)
	}

	result := query.Updates(map[string]interface{}{
		"status":       models.ExecutionFailed,
		"exit_code":    -1,
		"error":        "node lost while running",
		"completed_at": time.Now(),
	})
	return result.RowsAffected, result.Error
}

// ListRecentFailures returns executions that failed since a given time.
func (s *PostgresStore) ListRecentFailures(ctx context.Context, since time.Time, limit int) ([]models.Execution, error) {
	var execs []models.Execution
	result := s.db.WithContext(ctx).
		Where("status = ?", models.ExecutionFailed).
		Where("completed_at >= ?", since).
		Order("completed_at desc").
		Limit(limit).
		Find(&execs)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to list recent failures: %w", result.Error)
	}
	return execs, nil
}
