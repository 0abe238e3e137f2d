package redis

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
)

// QueueSuite exercises the stream queue against a real Redis. It skips
// itself when no server is reachable, so `go test ./...` stays green on
// machines without the docker-compose stack.
type QueueSuite struct {
	suite.Suite
	queue *RedisQueue
}

func (s *QueueSuite) SetupSuite() {
	addr := fmt.Sprintf("%s:%s",
		getEnv("TEST_REDIS_HOST", "localhost"),
		getEnv("TEST_REDIS_PORT", "6379"),
	)
	queue, err := NewRedisQueue(addr)
	if err != nil {
		s.T().Skipf("Skipping queue tests: %v", err)
	}
	s.queue = queue
}

func (s *QueueSuite) TearDownSuite() {
	if s.queue != nil {
		s.queue.Close()
	}
}

// newGroup returns a consumer group that only sees messages pushed after
// this call, keeping tests independent on a shared Redis.
func (s *QueueSuite) newGroup(ctx context.Context) string {
	group := "test-" + uuid.NewString()
	require.NoError(s.T(), s.queue.EnsureGroup(ctx, group))
	return group
}

func (s *QueueSuite) TestPushPopAck() {
	ctx := context.Background()
	group := s.newGroup(ctx)

	exec := &models.Execution{
		ID:          uuid.New(),
		JobID:       uuid.New(),
		ScheduledAt: time.Now(),
		Status:      models.ExecutionPending,
		JobName:     "nightly",
		JobCommand:  "make all",
		SCM:         models.ClearCaseView{ViewTag: "build_main", ConfigSpec: "element * /main/LATEST"},
		Limits:      models.Limits{Timeout: "10m", MaxLogBytes: 1 << 20},
	}
	require.NoError(s.T(), s.queue.Push(ctx, exec))

	msgID, popped, err := s.queue.Pop(ctx, group, "consumer-1")
	require.NoError(s.T(), err)
	require.NotNil(s.T(), popped)

	assert.Equal(s.T(), exec.ID, popped.ID)
	assert.Equal(s.T(), "nightly", popped.JobName)
	assert.Equal(s.T(), "make all", popped.JobCommand)
	assert.Equal(s.T(), "build_main", popped.SCM.ViewTag)
	assert.Equal(s.T(), int64(1<<20), popped.Limits.MaxLogBytes)

	require.NoError(s.T(), s.queue.Ack(ctx, group, msgID))
}

func (s *QueueSuite) TestPopEmptyTimesOut() {
	ctx := context.Background()
	group := s.newGroup(ctx)

	msgID, popped, err := s.queue.Pop(ctx, group, "consumer-1")
	require.NoError(s.T(), err)
	assert.Nil(s.T(), popped)
	assert.Empty(s.T(), msgID)
}

func (s *QueueSuite) TestEnsureGroupIdempotent() {
	ctx := context.Background()
	group := s.newGroup(ctx)
	assert.NoError(s.T(), s.queue.EnsureGroup(ctx, group))
}

func (s *QueueSuite) TestDepthGrowsWithPush() {
	ctx := context.Background()

	before, err := s.queue.Depth(ctx)
	require.NoError(s.T(), err)

	exec := &models.Execution{ID: uuid.New(), JobID: uuid.New(), ScheduledAt: time.Now()}
	require.NoError(s.T(), s.queue.Push(ctx, exec))

	after, err := s.queue.Depth(ctx)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), before+1, after)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func TestQueueSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping redis tests in short mode")
	}
	suite.Run(t, new(QueueSuite))
}
