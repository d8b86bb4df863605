package jobs

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, *asynq.Task) error { return nil }

func redisOpts(t *testing.T) asynq.RedisClientOpt {
	t.Helper()
	return asynq.RedisClientOpt{Addr: miniredis.RunT(t).Addr()}
}

func TestNewWorkerValidatesHandlers(t *testing.T) {
	opts := redisOpts(t)

	_, err := NewWorker(WorkerConfig{RedisOpts: opts, Handlers: []TaskHandler{
		{Type: TaskClosingAudit, Handler: noop},
		{Type: TaskClosingAudit, Handler: noop},
	}})
	require.ErrorContains(t, err, "duplicate handler")

	_, err = NewWorker(WorkerConfig{RedisOpts: opts, Handlers: []TaskHandler{{Type: TaskClosingAudit}}})
	require.Error(t, err)

	w, err := NewWorker(WorkerConfig{RedisOpts: opts, Handlers: []TaskHandler{{Type: TaskClosingAudit, Handler: noop}}})
	require.NoError(t, err)
	require.Nil(t, w.scheduler)
}

func TestNewWorkerRegistersCron(t *testing.T) {
	opts := redisOpts(t)
	task, err := NewReceivableDigestTask()
	require.NoError(t, err)

	w, err := NewWorker(WorkerConfig{RedisOpts: opts, Cron: []CronRegistration{{Spec: "0 6 * * *", Task: task}}})
	require.NoError(t, err)
	require.NotNil(t, w.scheduler)

	_, err = NewWorker(WorkerConfig{RedisOpts: opts, Cron: []CronRegistration{{Spec: "every day", Task: task}}})
	require.ErrorContains(t, err, "register cron")

	_, err = NewWorker(WorkerConfig{RedisOpts: opts, Cron: []CronRegistration{{Spec: "0 6 * * *"}}})
	require.ErrorContains(t, err, "has no task")
}

func TestLogTasksPassesResultThrough(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	boom := errors.New("boom")

	h := logTasks(logger)(asynq.HandlerFunc(func(context.Context, *asynq.Task) error { return boom }))
	err := h.ProcessTask(context.Background(), asynq.NewTask(TaskReceivableDigest, nil))

	require.ErrorIs(t, err, boom)
	require.Contains(t, buf.String(), "type=receivables:digest")
	require.Contains(t, buf.String(), "ok=false")
}

func TestNilWorkerRun(t *testing.T) {
	var w *Worker
	require.Error(t, w.Run(context.Background()))
}
