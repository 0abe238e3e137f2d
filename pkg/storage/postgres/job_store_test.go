package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"clearci/pkg/models"
	"clearci/pkg/storage"
)

// StoreSuite runs against a real PostgreSQL and skips itself when none is
// reachable. Job names are uniquified per run so repeated runs against the
// same database do not collide.
type StoreSuite struct {
	suite.Suite
	store *PostgresStore
}

func (s *StoreSuite) SetupSuite() {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("TEST_DB_HOST", "localhost"),
		getEnv("TEST_DB_PORT", "5432"),
		getEnv("TEST_DB_USER", "clearci"),
		getEnv("TEST_DB_PASS", "password"),
		getEnv("TEST_DB_NAME", "clearci_test"),
	)
	store, err := NewPostgresStore(connStr)
	if err != nil {
		s.T().Skipf("Skipping postgres tests: %v", err)
	}
	s.store = store
}

func (s *StoreSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
}

func (s *StoreSuite) newJob(prefix string) *models.Job {
	return &models.Job{
		Name:     prefix + "-" + uuid.NewString(),
		Schedule: "*/5 * * * *",
		Command:  "make all",
		SCM: models.ClearCaseView{
			ViewTag:    "build_main",
			ConfigSpec: "element * /main/LATEST",
		},
		Limits: models.Limits{Timeout: "10m", MaxLogBytes: 1 << 20},
	}
}

func (s *StoreSuite) TestJobRoundTrip() {
	ctx := context.Background()

	job := s.newJob("roundtrip")
	require.NoError(s.T(), s.store.CreateJob(ctx, job))

	got, err := s.store.GetJob(ctx, job.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), job.Name, got.Name)
	assert.Equal(s.T(), "build_main", got.SCM.ViewTag)
	assert.True(s.T(), got.SCM.Enabled())

	byName, err := s.store.GetJobByName(ctx, job.Name)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), job.ID, byName.ID)
}

func (s *StoreSuite) TestDuplicateNameConflicts() {
	ctx := context.Background()

	job := s.newJob("dup")
	require.NoError(s.T(), s.store.CreateJob(ctx, job))

	clone := s.newJob("dup")
	clone.Name = job.Name
	assert.ErrorIs(s.T(), s.store.CreateJob(ctx, clone), storage.ErrConflict)
}

func (s *StoreSuite) TestStatusTransitions() {
	ctx := context.Background()

	job := s.newJob("status")
	require.NoError(s.T(), s.store.CreateJob(ctx, job))

	require.NoError(s.T(), s.store.UpdateJobStatus(ctx, job.ID, models.JobStatusPaused))
	got, err := s.store.GetJob(ctx, job.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.JobStatusPaused, got.Status)

	assert.ErrorIs(s.T(),
		s.store.UpdateJobStatus(ctx, uuid.New(), models.JobStatusPaused),
		storage.ErrNotFound)
}

func (s *StoreSuite) TestDeleteJobHidesIt() {
	ctx := context.Background()

	job := s.newJob("delete")
	require.NoError(s.T(), s.store.CreateJob(ctx, job))
	require.NoError(s.T(), s.store.DeleteJob(ctx, job.ID))

	_, err := s.store.GetJob(ctx, job.ID)
	assert.ErrorIs(s.T(), err, storage.ErrNotFound)
}

func (s *StoreSuite) TestExecutionLifecycle() {
	ctx := context.Background()

	job := s.newJob("exec")
	require.NoError(s.T(), s.store.CreateJob(ctx, job))

	exec := &models.Execution{JobID: job.ID, ScheduledAt: time.Now()}
	require.NoError(s.T(), s.store.CreateExecution(ctx, exec))

	require.NoError(s.T(), s.store.UpdateRunState(ctx, exec.ID, "node-1", time.Now()))
	require.NoError(s.T(), s.store.UpdateResult(ctx, exec.ID, models.ExecutionFailed, 1, "", "cleartool failed. exit code=1"))

	got, err := s.store.GetExecution(ctx, exec.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.ExecutionFailed, got.Status)
	assert.Equal(s.T(), 1, got.ExitCode)
	assert.Equal(s.T(), "cleartool failed. exit code=1", got.Error)

	execs, err := s.store.ListExecutions(ctx, job.ID, 10, 0)
	require.NoError(s.T(), err)
	require.Len(s.T(), execs, 1)

	failures, err := s.store.ListRecentFailures(ctx, time.Now().Add(-time.Minute), 100)
	require.NoError(s.T(), err)
	found := false
	for _, f := range failures {
		if f.ID == exec.ID {
			found = true
		}
	}
	assert.True(s.T(), found, "expected the failed execution in recent failures")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func TestStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping postgres tests in short mode")
	}
	suite.Run(t, new(StoreSuite))
}
