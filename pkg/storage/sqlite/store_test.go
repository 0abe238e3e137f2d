package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clearci/pkg/models"
	"clearci/pkg/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleJob(name string) *models.Job {
	return &models.Job{
		Name:     name,
		Schedule: "*/5 * * * *",
		Command:  "make all",
		OwnerID:  "user-1",
		SCM: models.ClearCaseView{
			ViewTag:    "build_main",
			ConfigSpec: "element * CHECKEDOUT\nelement * /main/LATEST",
		},
		RetryPolicy: models.RetryPolicy{MaxRetries: 2, BackoffStrategy: "exponential"},
		Limits:      models.Limits{Timeout: "10m", MaxLogBytes: 1 << 20},
	}
}

func TestJobRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := sampleJob("nightly")
	require.NoError(t, s.CreateJob(ctx, job))
	require.NotEqual(t, uuid.Nil, job.ID)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly", got.Name)
	assert.Equal(t, "make all", got.Command)
	assert.Equal(t, models.JobStatusActive, got.Status)
	assert.Equal(t, "build_main", got.SCM.ViewTag)
	assert.Equal(t, 2, got.RetryPolicy.MaxRetries)
	assert.Equal(t, int64(1<<20), got.Limits.MaxLogBytes)

	byName, err := s.GetJobByName(ctx, "nightly")
	require.NoError(t, err)
	assert.Equal(t, job.ID, byName.ID)
}

func TestJobNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.GetJobByName(ctx, "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDuplicateJobName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, sampleJob("dup")))
	err := s.CreateJob(ctx, sampleJob("dup"))
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestListDueJobs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	due := sampleJob("due")
	due.NextRunAt = &past
	require.NoError(t, s.CreateJob(ctx, due))

	notYet := sampleJob("not-yet")
	notYet.NextRunAt = &future
	require.NoError(t, s.CreateJob(ctx, notYet))

	paused := sampleJob("paused")
	paused.NextRunAt = &past
	paused.Status = models.JobStatusPaused
	require.NoError(t, s.CreateJob(ctx, paused))

	jobs, err := s.ListDueJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "due", jobs[0].Name)
}

func TestUpdateJobStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := sampleJob("pausable")
	past := time.Now().Add(-time.Minute)
	job.NextRunAt = &past
	require.NoError(t, s.CreateJob(ctx, job))

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusPaused))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPaused, got.Status)

	jobs, err := s.ListDueJobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	err = s.UpdateJobStatus(ctx, uuid.New(), models.JobStatusPaused)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateNextRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := sampleJob("reschedule")
	require.NoError(t, s.CreateJob(ctx, job))

	next := time.Now().Add(5 * time.Minute).Truncate(time.Millisecond)
	require.NoError(t, s.UpdateNextRun(ctx, job.ID, next))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(next))
}

func TestDeleteJobIsSoft(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := sampleJob("doomed")
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.DeleteJob(ctx, job.ID))

	_, err := s.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, s.UpdateJob(ctx, job), storage.ErrNotFound)
	assert.ErrorIs(t, s.DeleteJob(ctx, job.ID), storage.ErrNotFound)

	jobs, err := s.ListJobs(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestExecutionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := sampleJob("built")
	require.NoError(t, s.CreateJob(ctx, job))

	exec := &models.Execution{JobID: job.ID, ScheduledAt: time.Now()}
	require.NoError(t, s.CreateExecution(ctx, exec))

	started := time.Now()
	require.NoError(t, s.UpdateRunState(ctx, exec.ID, "node-7", started))

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionRunning, got.Status)
	require.NotNil(t, got.NodeID)
	assert.Equal(t, "node-7", *got.NodeID)
	require.NotNil(t, got.StartedAt)

	require.NoError(t, s.UpdateResult(ctx, exec.ID, models.ExecutionSuccess, 0, "s3://logs/x.log", ""))

	got, err = s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionSuccess, got.Status)
	assert.Equal(t, 0, got.ExitCode)
	assert.Equal(t, "s3://logs/x.log", got.OutputURI)
	require.NotNil(t, got.CompletedAt)
}

func TestListExecutionsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := sampleJob("history")
	require.NoError(t, s.CreateJob(ctx, job))

	base := time.Now()
	for i := 0; i < 3; i++ {
		exec := &models.Execution{JobID: job.ID, ScheduledAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, s.CreateExecution(ctx, exec))
	}

	execs, err := s.ListExecutions(ctx, job.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.True(t, execs[0].ScheduledAt.After(execs[1].ScheduledAt))
}

func TestDuplicateScheduleSlot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := sampleJob("tick")
	require.NoError(t, s.CreateJob(ctx, job))

	at := time.Now()
	require.NoError(t, s.CreateExecution(ctx, &models.Execution{JobID: job.ID, ScheduledAt: at}))
	err := s.CreateExecution(ctx, &models.Execution{JobID: job.ID, ScheduledAt: at})
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestMarkOrphansAsFailed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := sampleJob("orphaned")
	require.NoError(t, s.CreateJob(ctx, job))

	alive := &models.Execution{JobID: job.ID, ScheduledAt: time.Now()}
	require.NoError(t, s.CreateExecution(ctx, alive))
	require.NoError(t, s.UpdateRunState(ctx, alive.ID, "node-alive", time.Now()))

	dead := &models.Execution{JobID: job.ID, ScheduledAt: time.Now().Add(time.Minute)}
	require.NoError(t, s.CreateExecution(ctx, dead))
	require.NoError(t, s.UpdateRunState(ctx, dead.ID, "node-dead", time.Now()))

	n, err := s.MarkOrphansAsFailed(ctx, []string{"node-alive"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetExecution(ctx, dead.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, got.Status)
	assert.Equal(t, -1, got.ExitCode)
	assert.Equal(t, "node lost while running", got.Error)

	still, err := s.GetExecution(ctx, alive.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionRunning, still.Status)
}

func TestListRecentFailures(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := sampleJob("flaky")
	require.NoError(t, s.CreateJob(ctx, job))

	exec := &models.Execution{JobID: job.ID, ScheduledAt: time.Now()}
	require.NoError(t, s.CreateExecution(ctx, exec))
	require.NoError(t, s.UpdateResult(ctx, exec.ID, models.ExecutionFailed, 1, "", "cleartool failed. exit code=1"))

	failures, err := s.ListRecentFailures(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, exec.ID, failures[0].ID)

	failures, err = s.ListRecentFailures(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, failures)
}
