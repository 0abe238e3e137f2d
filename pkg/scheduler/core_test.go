package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "clearci/configs"
	"clearci/pkg/coordination"
	"clearci/pkg/models"
	"clearci/pkg/storage"
)

// Fakes embed the storage interfaces so only the methods the scheduler
// touches need bodies.

type fakeJobStore struct {
	storage.JobStore
	mu       sync.Mutex
	due      []models.Job
	jobs     map[uuid.UUID]*models.Job
	nextRuns map[uuid.UUID]time.Time
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		jobs:     make(map[uuid.UUID]*models.Job),
		nextRuns: make(map[uuid.UUID]time.Time),
	}
}

func (f *fakeJobStore) add(job *models.Job, due bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
	if due {
		f.due = append(f.due, *job)
	}
}

func (f *fakeJobStore) ListDueJobs(ctx context.Context, limit int) ([]models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Job(nil), f.due...), nil
}

func (f *fakeJobStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return job, nil
}

func (f *fakeJobStore) UpdateNextRun(ctx context.Context, id uuid.UUID, nextRun time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRuns[id] = nextRun
	return nil
}

type fakeExecStore struct {
	storage.ExecutionStore
	mu         sync.Mutex
	created    []*models.Execution
	createErr  error
	failures   []models.Execution
	orphanArgs [][]string
}

func (f *fakeExecStore) CreateExecution(ctx context.Context, exec *models.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, exec)
	return nil
}

func (f *fakeExecStore) MarkOrphansAsFailed(ctx context.Context, activeNodeIDs []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orphanArgs = append(f.orphanArgs, activeNodeIDs)
	return 2, nil
}

func (f *fakeExecStore) ListRecentFailures(ctx context.Context, since time.Time, limit int) ([]models.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Execution(nil), f.failures...), nil
}

func (f *fakeExecStore) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakeQueue struct {
	storage.Queue
	mu     sync.Mutex
	pushed []*models.Execution
}

func (f *fakeQueue) Push(ctx context.Context, exec *models.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, exec)
	return nil
}

func (f *fakeQueue) Depth(ctx context.Context) (int64, error) { return int64(len(f.pushed)), nil }

type fakeCoordinator struct {
	coordination.Coordinator
	nodes []coordination.Node
}

func (f *fakeCoordinator) GetActiveNodes(ctx context.Context) ([]coordination.Node, error) {
	return f.nodes, nil
}

type fakeElection struct {
	leader string
}

func (f *fakeElection) Campaign(ctx context.Context, value string) error { return nil }
func (f *fakeElection) Resign(ctx context.Context) error                 { return nil }
func (f *fakeElection) Leader(ctx context.Context) (string, error)       { return f.leader, nil }

func newTestCore(jobs *fakeJobStore, execs *fakeExecStore, queue *fakeQueue, coord *fakeCoordinator) *Core {
	cfg := &config.Config{SchedulerInterval: "10ms"}
	return NewCore(cfg, "scheduler-1", jobs, execs, queue, coord)
}

func dueJob(name string) *models.Job {
	next := time.Now().Add(-time.Second)
	return &models.Job{
		ID:        uuid.New(),
		Name:      name,
		Schedule:  "*/5 * * * *",
		Command:   "make all",
		Status:    models.JobStatusActive,
		NextRunAt: &next,
		SCM:       models.ClearCaseView{ViewTag: "build_main", ConfigSpec: "element * /main/LATEST"},
		Limits:    models.Limits{Timeout: "10m"},
	}
}

func TestPollAndScheduleDispatchesDueJob(t *testing.T) {
	jobs := newFakeJobStore()
	execs := &fakeExecStore{}
	queue := &fakeQueue{}
	core := newTestCore(jobs, execs, queue, &fakeCoordinator{})

	job := dueJob("nightly")
	jobs.add(job, true)

	require.NoError(t, core.PollAndSchedule(context.Background()))

	require.Len(t, execs.created, 1)
	exec := execs.created[0]
	assert.Equal(t, job.ID, exec.JobID)
	assert.Equal(t, models.ExecutionPending, exec.Status)

	// Snapshot fields ride along so the executor never reads the jobs table.
	assert.Equal(t, "nightly", exec.JobName)
	assert.Equal(t, "make all", exec.JobCommand)
	assert.Equal(t, "build_main", exec.SCM.ViewTag)
	assert.Equal(t, "10m", exec.Limits.Timeout)

	require.Len(t, queue.pushed, 1)
	assert.Equal(t, exec.ID, queue.pushed[0].ID)

	next, ok := jobs.nextRuns[job.ID]
	require.True(t, ok, "next run should be advanced")
	assert.True(t, next.After(time.Now()))
}

func TestPollAndScheduleSkipsTakenSlot(t *testing.T) {
	jobs := newFakeJobStore()
	execs := &fakeExecStore{createErr: storage.ErrConflict}
	queue := &fakeQueue{}
	core := newTestCore(jobs, execs, queue, &fakeCoordinator{})

	jobs.add(dueJob("contended"), true)

	require.NoError(t, core.PollAndSchedule(context.Background()))
	assert.Empty(t, queue.pushed, "a slot another leader took must not be pushed again")
}

func TestRetryFailuresSchedulesNextAttempt(t *testing.T) {
	jobs := newFakeJobStore()
	execs := &fakeExecStore{}
	queue := &fakeQueue{}
	core := newTestCore(jobs, execs, queue, &fakeCoordinator{})

	job := dueJob("flaky")
	job.RetryPolicy = models.RetryPolicy{MaxRetries: 3, BackoffStrategy: "fixed", InitialInterval: "10s"}
	jobs.add(job, false)

	completed := time.Now().Add(-30 * time.Second)
	execs.failures = []models.Execution{{
		ID:          uuid.New(),
		JobID:       job.ID,
		Attempt:     1,
		Status:      models.ExecutionFailed,
		CompletedAt: &completed,
	}}

	require.NoError(t, core.RetryFailures(context.Background()))

	require.Len(t, execs.created, 1)
	retry := execs.created[0]
	assert.Equal(t, 2, retry.Attempt)
	assert.Equal(t, "flaky", retry.JobName)
	assert.True(t, retry.ScheduledAt.Equal(completed.Add(10*time.Second)),
		"retry slot should derive from the failure time")
	require.Len(t, queue.pushed, 1)
}

func TestRetryFailuresStopsAtPolicyLimit(t *testing.T) {
	jobs := newFakeJobStore()
	execs := &fakeExecStore{}
	queue := &fakeQueue{}
	core := newTestCore(jobs, execs, queue, &fakeCoordinator{})

	job := dueJob("exhausted")
	job.RetryPolicy = models.RetryPolicy{MaxRetries: 2}
	jobs.add(job, false)

	execs.failures = []models.Execution{{JobID: job.ID, Attempt: 2, Status: models.ExecutionFailed}}

	require.NoError(t, core.RetryFailures(context.Background()))
	assert.Empty(t, execs.created)
	assert.Empty(t, queue.pushed)
}

func TestRetryFailuresIgnoresDuplicateSlot(t *testing.T) {
	jobs := newFakeJobStore()
	execs := &fakeExecStore{createErr: storage.ErrConflict}
	queue := &fakeQueue{}
	core := newTestCore(jobs, execs, queue, &fakeCoordinator{})

	job := dueJob("raced")
	job.RetryPolicy = models.RetryPolicy{MaxRetries: 3}
	jobs.add(job, false)

	execs.failures = []models.Execution{{JobID: job.ID, Attempt: 1, Status: models.ExecutionFailed}}

	require.NoError(t, core.RetryFailures(context.Background()))
	assert.Empty(t, queue.pushed, "an already-claimed retry slot must not be pushed")
}

func TestReconcilePassesLiveNodesToReaper(t *testing.T) {
	jobs := newFakeJobStore()
	execs := &fakeExecStore{}
	queue := &fakeQueue{}
	coord := &fakeCoordinator{nodes: []coordination.Node{
		{ID: "node-a"}, {ID: "node-b"},
	}}
	core := newTestCore(jobs, execs, queue, coord)

	require.NoError(t, core.Reconcile(context.Background()))

	require.Len(t, execs.orphanArgs, 1)
	assert.Equal(t, []string{"node-a", "node-b"}, execs.orphanArgs[0])
}

func TestRunStandbyDoesNotDispatch(t *testing.T) {
	jobs := newFakeJobStore()
	execs := &fakeExecStore{}
	queue := &fakeQueue{}
	core := newTestCore(jobs, execs, queue, &fakeCoordinator{})

	jobs.add(dueJob("standby-job"), true)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	core.Run(ctx, &fakeElection{leader: "someone-else"})

	assert.Zero(t, execs.createdCount(), "a standby replica must not dispatch")
}

func TestRunLeaderDispatches(t *testing.T) {
	jobs := newFakeJobStore()
	execs := &fakeExecStore{}
	queue := &fakeQueue{}
	core := newTestCore(jobs, execs, queue, &fakeCoordinator{})

	jobs.add(dueJob("leader-job"), true)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	core.Run(ctx, &fakeElection{leader: "scheduler-1"})

	assert.Greater(t, execs.createdCount(), 0, "the leader should dispatch due jobs")
}

func TestBackoffFor(t *testing.T) {
	cases := []struct {
		name    string
		policy  models.RetryPolicy
		attempt int
		want    time.Duration
	}{
		{"fixed", models.RetryPolicy{BackoffStrategy: "fixed", InitialInterval: "5s"}, 3, 5 * time.Second},
		{"exponential first", models.RetryPolicy{BackoffStrategy: "exponential", InitialInterval: "5s"}, 1, 5 * time.Second},
		{"exponential third", models.RetryPolicy{BackoffStrategy: "exponential", InitialInterval: "5s"}, 3, 20 * time.Second},
		{"capped", models.RetryPolicy{BackoffStrategy: "exponential", InitialInterval: "10s", MaxInterval: "15s"}, 4, 15 * time.Second},
		{"unparsable defaults", models.RetryPolicy{InitialInterval: "soon"}, 1, 10 * time.Second},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, backoffFor(tc.policy, tc.attempt))
		})
	}
}
