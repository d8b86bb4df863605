package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fechamento/jobs"
)

type stubEnqueuer struct {
	stores   [][]string
	cleanups int
}

func (s *stubEnqueuer) EnqueueDigest(ctx context.Context, stores ...string) (*asynq.TaskInfo, error) {
	s.stores = append(s.stores, stores)
	return &asynq.TaskInfo{ID: "task-1", Type: jobs.TaskReceivableDigest, Queue: jobs.QueueDefault}, nil
}

func (s *stubEnqueuer) EnqueueCleanup(ctx context.Context) (*asynq.TaskInfo, error) {
	s.cleanups++
	return &asynq.TaskInfo{ID: "task-2", Type: jobs.TaskIdempotencyCleanup, Queue: jobs.QueueDefault}, nil
}

func (s *stubEnqueuer) Close() error { return nil }

type stubInspector struct {
	info      *asynq.QueueInfo
	scheduled []*asynq.TaskInfo
	err       error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func (s stubInspector) ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return s.scheduled, s.err
}

func (s stubInspector) Close() error { return nil }

func TestTriggerDigestWithStores(t *testing.T) {
	enq := &stubEnqueuer{}
	c := &JobsCLI{client: enq}
	out := new(bytes.Buffer)

	require.NoError(t, c.Run(context.Background(), []string{"trigger", jobs.TaskReceivableDigest, "capao", "centro"}, out))
	require.Contains(t, out.String(), "enqueued receivables:digest id=task-1")
	require.Equal(t, [][]string{{"capao", "centro"}}, enq.stores)
}

func TestTriggerIdempotencyCleanup(t *testing.T) {
	enq := &stubEnqueuer{}
	c := &JobsCLI{client: enq}
	out := new(bytes.Buffer)

	require.NoError(t, c.Run(context.Background(), []string{"trigger", jobs.TaskIdempotencyCleanup}, out))
	require.Contains(t, out.String(), "enqueued idempotency:cleanup id=task-2")
	require.Equal(t, 1, enq.cleanups)
	require.Empty(t, enq.stores)
}

func TestTriggerRejectsUnknownJob(t *testing.T) {
	c := &JobsCLI{client: &stubEnqueuer{}}
	_, err := c.Trigger(context.Background(), jobs.TaskClosingAudit)
	require.Error(t, err)
	require.Error(t, c.Run(context.Background(), []string{"trigger"}, new(bytes.Buffer)))
	require.Error(t, c.Run(context.Background(), []string{"purge"}, new(bytes.Buffer)))
}

func TestStatsAndScheduled(t *testing.T) {
	next := time.Date(2024, 3, 2, 6, 0, 0, 0, time.UTC)
	c := &JobsCLI{inspector: stubInspector{
		info:      &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 3, Retry: 1},
		scheduled: []*asynq.TaskInfo{{ID: "s-1", Type: jobs.TaskReceivableDigest, NextProcessAt: next}},
	}}

	out := new(bytes.Buffer)
	require.NoError(t, c.Run(context.Background(), []string{"stats"}, out))
	require.Contains(t, out.String(), "PENDING")
	require.Contains(t, out.String(), "default")

	out.Reset()
	require.NoError(t, c.Run(context.Background(), []string{"scheduled", "-n", "5"}, out))
	require.Contains(t, out.String(), "s-1")
	require.Contains(t, out.String(), "2024-03-02 06:00:00")
}

func TestInspectorFailure(t *testing.T) {
	c := &JobsCLI{inspector: stubInspector{err: errors.New("redis down")}}
	_, err := c.InspectQueue()
	require.Error(t, err)

	var empty *JobsCLI
	_, err = empty.ListScheduled(1)
	require.Error(t, err)
}
