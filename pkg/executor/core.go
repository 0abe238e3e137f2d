// Package executor consumes executions from the queue and runs them: it
// prepares the job's ClearCase snapshot view when one is configured, runs
// the build command with its output captured in a bounded console log, and
// archives that log before reporting the result.
package executor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	config "clearci/configs"
	"clearci/pkg/coordination"
	"clearci/pkg/executor/runner"
	"clearci/pkg/logger"
	"clearci/pkg/metrics"
	"clearci/pkg/models"
	"clearci/pkg/proc"
	"clearci/pkg/resilience"
	"clearci/pkg/storage"
)

const (
	consumerGroup = "clearci-executors"
	tracerName    = "clearci/executor"
)

type Executor struct {
	ID       string
	Hostname string

	meta coordination.NodeMeta

	coordinator coordination.Coordinator
	queue       storage.Queue
	execStore   storage.ExecutionStore
	logStore    storage.LogStore
	logBreaker  *resilience.CircuitBreaker

	launcher proc.Launcher
	builds   runner.BuildRunner

	workspace      string
	cleartoolPath  string
	defaultTimeout time.Duration
	concurrency    int
	interval       time.Duration
}

func NewExecutor(cfg *config.Config, coord coordination.Coordinator, queue storage.Queue, execStore storage.ExecutionStore, logStore storage.LogStore) *Executor {
	hostname, _ := os.Hostname()
	id := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	timeout, _ := time.ParseDuration(cfg.DefaultTimeout)
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	launcher := proc.NewOSLauncher()

	return &Executor{
		ID:       id,
		Hostname: hostname,
		meta: coordination.NodeMeta{
			Hostname: hostname,
			CPUs:     runtime.NumCPU(),
			MemoryMB: detectTotalMemory(),
		},
		coordinator:    coord,
		queue:          queue,
		execStore:      execStore,
		logStore:       logStore,
		logBreaker:     resilience.NewCircuitBreaker("log-archive", resilience.DefaultCircuitBreakerConfig()),
		launcher:       launcher,
		builds:         runner.NewShellRunner(launcher),
		workspace:      cfg.Workspace,
		cleartoolPath:  cfg.CleartoolPath,
		defaultTimeout: timeout,
		concurrency:    concurrency,
		interval:       5 * time.Second,
	}
}

func detectTotalMemory() uint64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		logger.Warn("detecting memory failed, assuming 1GB", zap.Error(err))
		return 1024
	}
	return v.Total / 1024 / 1024
}

// Start begins the executor's heartbeat and work loops.
func (e *Executor) Start(ctx context.Context) {
	logger.Info("executor starting",
		zap.String("node_id", e.ID),
		zap.Int("concurrency", e.concurrency),
		zap.String("workspace", e.workspace),
	)

	if err := e.queue.EnsureGroup(ctx, consumerGroup); err != nil {
		logger.Warn("ensuring consumer group", zap.Error(err))
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := e.RegisterHeartbeat(ctx); err != nil {
					logger.Warn("heartbeat failed", zap.Error(err))
				}
			}
		}
	}()

	// Worker pool semaphore: one token per concurrent build.
	sem := make(chan struct{}, e.concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			sem <- struct{}{}
			go func() {
				defer func() { <-sem }()
				e.consumeOne(ctx)
			}()
		}
	}
}

func (e *Executor) consumeOne(ctx context.Context) {
	// Pop blocks up to 2s waiting for work.
	msgID, exec, err := e.queue.Pop(ctx, consumerGroup, e.ID)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("popping execution", zap.Error(err))
		}
		time.Sleep(time.Second)
		return
	}
	if exec == nil {
		// Queue empty; pause briefly so the worker loop does not spin.
		time.Sleep(time.Second)
		return
	}

	metrics.ExecutorJobsRunning.Inc()
	defer metrics.ExecutorJobsRunning.Dec()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "execute_build",
		trace.WithAttributes(
			attribute.String("job.name", exec.JobName),
			attribute.String("execution.id", exec.ID.String()),
			attribute.Int("execution.attempt", exec.Attempt),
		))
	defer span.End()

	logger.Info("received execution",
		zap.String("job", exec.JobName),
		zap.String("execution_id", exec.ID.String()),
		zap.String("command", exec.JobCommand),
	)

	if err := e.execStore.UpdateRunState(ctx, exec.ID, e.ID, time.Now()); err != nil {
		logger.Error("reporting run state", zap.Error(err))
	}

	outcome := e.runBuild(ctx, exec)

	// Archive before recording the result so the row can reference the log.
	outputURI := e.archiveLog(ctx, exec, outcome.console)

	if err := e.execStore.UpdateResult(ctx, exec.ID, outcome.status, outcome.exitCode, outputURI, outcome.errMsg); err != nil {
		logger.Error("reporting result", zap.Error(err))
	}

	metrics.RecordExecution(exec.JobName, string(outcome.status), outcome.duration.Seconds())
	if outcome.status != models.ExecutionSuccess {
		span.SetStatus(codes.Error, outcome.errMsg)
	}

	logger.Info("finished execution",
		zap.String("job", exec.JobName),
		zap.String("execution_id", exec.ID.String()),
		zap.String("status", string(outcome.status)),
		zap.Int("exit_code", outcome.exitCode),
		zap.Duration("duration", outcome.duration),
	)

	if err := e.queue.Ack(ctx, consumerGroup, msgID); err != nil {
		logger.Error("acking execution", zap.Error(err))
	}
}

// archiveLog ships the console log to the log store behind the circuit
// breaker. Archival failure costs the output reference, never the result.
func (e *Executor) archiveLog(ctx context.Context, exec *models.Execution, console []byte) string {
	if len(console) == 0 {
		return ""
	}

	var uri string
	err := e.logBreaker.Execute(ctx, func() error {
		stored, err := e.logStore.Store(ctx, exec.ID.String(), console)
		if err != nil {
			return err
		}
		uri = stored
		return nil
	})
	if err != nil {
		logger.Error("archiving console log",
			zap.String("execution_id", exec.ID.String()),
			zap.Error(err))
		return ""
	}

	metrics.LogBytesArchived.Add(float64(len(console)))
	return uri
}

// RegisterHeartbeat refreshes this node's registry lease.
func (e *Executor) RegisterHeartbeat(ctx context.Context) error {
	// TTL of 10 seconds against a 5 second heartbeat leaves one missed
	// beat of slack before the node drops out of the registry.
	if err := e.coordinator.RegisterNode(ctx, e.ID, e.meta, 10); err != nil {
		return fmt.Errorf("registering node: %w", err)
	}
	metrics.HeartbeatsSent.Inc()
	return nil
}
