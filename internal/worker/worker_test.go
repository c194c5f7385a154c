package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yungbote/pipeline-orchestrator/internal/broker"
	"github.com/yungbote/pipeline-orchestrator/internal/platform/blobstore"
	"github.com/yungbote/pipeline-orchestrator/internal/platform/logger"
	"github.com/yungbote/pipeline-orchestrator/internal/stage"
)

type stubHandler struct {
	outcome stage.Outcome
	panics  bool
}

func (h *stubHandler) Identifier() string { return "cpu.stub" }

func (h *stubHandler) Run(ctx context.Context, rc *stage.RunContext) stage.Outcome {
	if h.panics {
		panic("boom")
	}
	return h.outcome
}

func newTestPool(t *testing.T, reg *stage.Registry, b broker.Broker) *Pool {
	t.Helper()
	log, err := logger.New("dev")
	require.NoError(t, err)
	t.Setenv("TMP_DIR", t.TempDir())
	return NewPool("cpu", 1, b, nil, nil, reg, log)
}

func TestExecuteReportsSuccessForSuccessOutcome(t *testing.T) {
	reg := stage.NewRegistry()
	require.NoError(t, reg.Register(&stubHandler{outcome: stage.Success("all good")}))
	b := broker.NewFakeBroker()
	p := newTestPool(t, reg, b)
	_ = blobstore.ScratchRoot() // sanity: package is reachable from this test

	ctx := context.Background()
	task := broker.Task{ID: "task-1", JobID: "job-1", Step: "cpu.stub", Payload: map[string]any{}}
	p.execute(ctx, p.log, task)

	result, err := b.GetResult(ctx, "task-1")
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, broker.TaskSuccess, result.State)
	require.Equal(t, "all good", result.Log)
}

func TestExecuteReportsFailureForFatalOutcome(t *testing.T) {
	reg := stage.NewRegistry()
	require.NoError(t, reg.Register(&stubHandler{outcome: stage.Fatal("trace", "traceback detected")}))
	b := broker.NewFakeBroker()
	p := newTestPool(t, reg, b)

	ctx := context.Background()
	task := broker.Task{ID: "task-2", JobID: "job-2", Step: "cpu.stub", Payload: map[string]any{}}
	p.execute(ctx, p.log, task)

	result, err := b.GetResult(ctx, "task-2")
	require.NoError(t, err)
	require.Equal(t, broker.TaskFailure, result.State)
	require.Equal(t, "traceback detected", result.Error)
}

func TestExecuteRecoversFromHandlerPanic(t *testing.T) {
	reg := stage.NewRegistry()
	require.NoError(t, reg.Register(&stubHandler{panics: true}))
	b := broker.NewFakeBroker()
	p := newTestPool(t, reg, b)

	ctx := context.Background()
	task := broker.Task{ID: "task-3", JobID: "job-3", Step: "cpu.stub", Payload: map[string]any{}}
	require.NotPanics(t, func() { p.execute(ctx, p.log, task) })

	result, err := b.GetResult(ctx, "task-3")
	require.NoError(t, err)
	require.Equal(t, broker.TaskFailure, result.State)
	require.Contains(t, result.Error, "panic: boom")
}

func TestExecuteReportsFailureForUnknownStep(t *testing.T) {
	reg := stage.NewRegistry()
	b := broker.NewFakeBroker()
	p := newTestPool(t, reg, b)

	ctx := context.Background()
	task := broker.Task{ID: "task-4", JobID: "job-4", Step: "cpu.missing", Payload: map[string]any{}}
	p.execute(ctx, p.log, task)

	result, err := b.GetResult(ctx, "task-4")
	require.NoError(t, err)
	require.Equal(t, broker.TaskFailure, result.State)
}

func TestDequeueTimeoutIsPositive(t *testing.T) {
	reg := stage.NewRegistry()
	b := broker.NewFakeBroker()
	p := newTestPool(t, reg, b)
	require.Greater(t, p.dequeueTimeout, time.Duration(0))
}
