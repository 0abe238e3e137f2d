// Package scheduler dispatches due jobs to the execution queue. A single
// leader elected through etcd runs the poll loop; standby replicas idle
// until they win the campaign.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	config "clearci/configs"
	"clearci/pkg/coordination"
	"clearci/pkg/logger"
	"clearci/pkg/metrics"
	"clearci/pkg/models"
	"clearci/pkg/storage"
)

type Core struct {
	id          string
	store       storage.JobStore
	execStore   storage.ExecutionStore
	queue       storage.Queue
	coordinator coordination.Coordinator
	parser      cron.Parser

	interval time.Duration
}

func NewCore(cfg *config.Config, id string, store storage.JobStore, execStore storage.ExecutionStore, queue storage.Queue, coord coordination.Coordinator) *Core {
	interval, _ := time.ParseDuration(cfg.SchedulerInterval)
	if interval == 0 {
		interval = 10 * time.Second
	}

	return &Core{
		id:          id,
		store:       store,
		execStore:   execStore,
		queue:       queue,
		coordinator: coord,
		parser:      cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		interval:    interval,
	}
}

// Run starts the main scheduler loop.
// It blocks until the context is cancelled.
func (c *Core) Run(ctx context.Context, election coordination.Election) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	reconcileTicker := time.NewTicker(30 * time.Second)
	defer reconcileTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler shutting down")
			return
		case <-ticker.C:
			if !c.isLeader(ctx, election) {
				continue
			}
			metrics.SchedulerPolls.Inc()
			if err := c.PollAndSchedule(ctx); err != nil {
				logger.Error("schedule loop failed", zap.Error(err))
			}

		case <-reconcileTicker.C:
			if !c.isLeader(ctx, election) {
				continue
			}
			if err := c.Reconcile(ctx); err != nil {
				logger.Error("reconcile loop failed", zap.Error(err))
			}
		}
	}
}

// isLeader reports whether this replica currently holds the campaign.
func (c *Core) isLeader(ctx context.Context, election coordination.Election) bool {
	leader, err := election.Leader(ctx)
	if err != nil {
		logger.Warn("leadership check failed", zap.Error(err))
		return false
	}
	return leader == c.id
}

// Reconcile reaps executions stranded on dead nodes and schedules retries.
func (c *Core) Reconcile(ctx context.Context) error {
	nodes, err := c.coordinator.GetActiveNodes(ctx)
	if err != nil {
		return fmt.Errorf("getting active nodes: %w", err)
	}
	metrics.ActiveNodes.Set(float64(len(nodes)))

	nodeIDs := make([]string, len(nodes))
	for i, n := range nodes {
		nodeIDs[i] = n.ID
	}

	// With zero live nodes every RUNNING execution is an orphan.
	count, err := c.execStore.MarkOrphansAsFailed(ctx, nodeIDs)
	if err != nil {
		return fmt.Errorf("reaping orphans: %w", err)
	}
	if count > 0 {
		metrics.OrphansReaped.Add(float64(count))
		logger.Warn("reaped orphaned executions", zap.Int64("count", count))
	}

	if depth, err := c.queue.Depth(ctx); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}

	if err := c.RetryFailures(ctx); err != nil {
		logger.Error("retrying failures", zap.Error(err))
	}

	return nil
}

// RetryFailures finds recently failed executions and reschedules those whose
// policy still has attempts left.
func (c *Core) RetryFailures(ctx context.Context) error {
	// Look back slightly longer than the reconcile interval so nothing
	// slips between cycles.
	since := time.Now().Add(-2 * time.Minute)
	failures, err := c.execStore.ListRecentFailures(ctx, since, 20)
	if err != nil {
		return err
	}

	for _, failure := range failures {
		job, err := c.store.GetJob(ctx, failure.JobID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue // job deleted since the failure
			}
			logger.Error("loading job for retry check", zap.Error(err))
			continue
		}

		if failure.Attempt >= job.RetryPolicy.MaxRetries {
			continue
		}

		// The retry slot derives from the failure itself, so the unique
		// (job, scheduled_at) index dedupes retries when the same failure
		// is still visible on the next reconcile cycle.
		base := time.Now()
		if failure.CompletedAt != nil {
			base = *failure.CompletedAt
		}
		retryExec := &models.Execution{
			ID:          uuid.New(),
			JobID:       job.ID,
			Attempt:     failure.Attempt + 1,
			ScheduledAt: base.Add(backoffFor(job.RetryPolicy, failure.Attempt)),
			Status:      models.ExecutionPending,
		}
		retryExec.Snapshot(job)

		if err := c.execStore.CreateExecution(ctx, retryExec); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				continue // already retried
			}
			logger.Error("scheduling retry", zap.Error(err))
			continue
		}

		if err := c.queue.Push(ctx, retryExec); err != nil {
			logger.Error("pushing retry", zap.Error(err))
			continue
		}

		metrics.RetriesTotal.WithLabelValues(job.Name).Inc()
		logger.Info("scheduled retry",
			zap.String("job", job.Name),
			zap.Int("attempt", retryExec.Attempt),
			zap.Int("max_retries", job.RetryPolicy.MaxRetries),
			zap.String("execution_id", retryExec.ID.String()),
		)
	}
	return nil
}

// backoffFor computes the delay before the next attempt. attempt is the
// number of attempts already made.
func backoffFor(policy models.RetryPolicy, attempt int) time.Duration {
	initial, err := time.ParseDuration(policy.InitialInterval)
	if err != nil || initial <= 0 {
		initial = 10 * time.Second
	}

	delay := initial
	if policy.BackoffStrategy == "exponential" {
		for i := 1; i < attempt; i++ {
			delay *= 2
		}
	}

	if limit, err := time.ParseDuration(policy.MaxInterval); err == nil && limit > 0 && delay > limit {
		delay = limit
	}
	return delay
}

// PollAndSchedule fetches due jobs and dispatches them.
func (c *Core) PollAndSchedule(ctx context.Context) error {
	jobs, err := c.store.ListDueJobs(ctx, 50)
	if err != nil {
		return fmt.Errorf("listing due jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	logger.Debug("found due jobs", zap.Int("count", len(jobs)))

	now := time.Now()

	for i := range jobs {
		job := &jobs[i]

		exec := &models.Execution{
			ID:          uuid.New(),
			JobID:       job.ID,
			ScheduledAt: *job.NextRunAt,
			Status:      models.ExecutionPending,
			Attempt:     1,
		}
		exec.Snapshot(job)

		// DB write first, queue push second: a crash in between leaves a
		// PENDING row the reaper surfaces, never a running ghost.
		if err := c.execStore.CreateExecution(ctx, exec); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				// Another leader already dispatched this slot.
				continue
			}
			logger.Error("creating execution", zap.String("job", job.Name), zap.Error(err))
			continue
		}

		if err := c.queue.Push(ctx, exec); err != nil {
			logger.Error("pushing execution", zap.String("job", job.Name), zap.Error(err))
			continue
		}

		metrics.RecordDispatch(now.Sub(*job.NextRunAt).Seconds())

		schedule, err := c.parser.Parse(job.Schedule)
		if err != nil {
			logger.Error("invalid cron schedule",
				zap.String("job", job.Name),
				zap.String("schedule", job.Schedule),
				zap.Error(err))
			continue
		}

		nextRun := schedule.Next(now)

		if err := c.store.UpdateNextRun(ctx, job.ID, nextRun); err != nil {
			logger.Error("updating next run", zap.String("job", job.Name), zap.Error(err))
		}

		logger.Info("dispatched job",
			zap.String("job", job.Name),
			zap.String("execution_id", exec.ID.String()),
			zap.Time("next_run", nextRun),
		)
	}

	return nil
}
