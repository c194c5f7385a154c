// Package worker is one pool's execution engine: it dequeues tasks the
// scheduler's dispatch_next enqueued, runs the registered stage.Handler,
// and reports back STARTED/SUCCESS/FAILURE transport states — the Go
// analogue of a Celery worker process bound to a single queue. Grounded
// on internal/jobs/worker.Worker's Start/runLoop/panic-recovery shape,
// adapted from a DB-claim loop to a broker-dequeue loop per spec.md
// §4.3/§4.7 (dispatch belongs to the scheduler, not the worker).
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/pipeline-orchestrator/internal/broker"
	"github.com/yungbote/pipeline-orchestrator/internal/platform/blobstore"
	"github.com/yungbote/pipeline-orchestrator/internal/platform/logger"
	"github.com/yungbote/pipeline-orchestrator/internal/runner"
	"github.com/yungbote/pipeline-orchestrator/internal/stage"
)

// Pool is one queue's worker fleet: N goroutines pulling from the same
// broker queue and executing stages through the same registry.
type Pool struct {
	name        string
	concurrency int

	broker   broker.Broker
	store    blobstore.Store
	runner   runner.Runner
	registry *stage.Registry
	log      *logger.Logger

	dequeueTimeout time.Duration
}

func NewPool(name string, concurrency int, b broker.Broker, store blobstore.Store, rn runner.Runner, reg *stage.Registry, log *logger.Logger) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{
		name:           name,
		concurrency:    concurrency,
		broker:         b,
		store:          store,
		runner:         rn,
		registry:       reg,
		log:            log.With("component", "worker_pool", "pool", name),
		dequeueTimeout: 5 * time.Second,
	}
}

// Start spawns the pool's goroutines. It blocks until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.log.Info("starting worker pool", "concurrency", p.concurrency)

	done := make(chan struct{})
	for i := 0; i < p.concurrency; i++ {
		workerID := i + 1
		go func() {
			p.runLoop(ctx, workerID)
			done <- struct{}{}
		}()
	}
	for i := 0; i < p.concurrency; i++ {
		<-done
	}
}

func (p *Pool) runLoop(ctx context.Context, workerID int) {
	log := p.log.With("worker_id", workerID)
	for {
		select {
		case <-ctx.Done():
			log.Info("worker loop stopped")
			return
		default:
		}

		task, ok, err := p.broker.Dequeue(ctx, p.name, p.dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("dequeue failed", "error", err)
			continue
		}
		if !ok {
			continue
		}

		p.execute(ctx, log, task)
	}
}

// execute is one task's full lifecycle: mark STARTED, build the
// RunContext, invoke the registered handler with panic recovery, and
// report the terminal broker.Result.
func (p *Pool) execute(ctx context.Context, log *logger.Logger, task broker.Task) {
	log = log.With("task_id", task.ID, "job_id", task.JobID, "step", task.Step)

	if err := p.broker.SetResult(ctx, task.ID, broker.Result{State: broker.TaskStarted, UpdatedAt: nowFunc()}); err != nil {
		log.Warn("failed to report STARTED", "error", err)
	}

	handler, ok := p.registry.Get(task.Step)
	if !ok {
		log.Error("no handler registered for step", "error", stage.ErrUnknownStep)
		p.reportFailure(ctx, task.ID, "", fmt.Sprintf("%s: %s", stage.ErrUnknownStep, task.Step))
		return
	}

	scratchDir, err := blobstore.JobScratchDir(task.JobID)
	if err != nil {
		p.reportFailure(ctx, task.ID, "", fmt.Sprintf("allocate scratch dir: %v", err))
		return
	}

	rc := &stage.RunContext{
		JobID:      task.JobID,
		TaskID:     task.ID,
		Step:       task.Step,
		ScratchDir: scratchDir,
		Payload:    task.Payload,
		Store:      p.store,
		Runner:     p.runner,
		Broker:     p.broker,
		Log:        log,
	}

	outcome := p.runWithRecover(ctx, handler, rc, log)

	if outcome.OK() {
		p.reportSuccess(ctx, task.ID, outcome.Log())
	} else {
		p.reportFailure(ctx, task.ID, outcome.Log(), outcome.Reason())
	}
}

// runWithRecover converts a stage handler panic into a Fatal outcome
// instead of crashing the pool goroutine, mirroring the teacher's
// defer/recover safety net around job handler execution.
func (p *Pool) runWithRecover(ctx context.Context, h stage.Handler, rc *stage.RunContext, log *logger.Logger) (outcome stage.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("stage handler panic", "panic", r)
			outcome = stage.Fatal("", fmt.Sprintf("panic: %v", r))
		}
	}()
	return h.Run(ctx, rc)
}

func (p *Pool) reportSuccess(ctx context.Context, taskID, log string) {
	_ = p.broker.SetResult(ctx, taskID, broker.Result{State: broker.TaskSuccess, Log: log, UpdatedAt: nowFunc()})
}

func (p *Pool) reportFailure(ctx context.Context, taskID, log, reason string) {
	_ = p.broker.SetResult(ctx, taskID, broker.Result{State: broker.TaskFailure, Log: log, Error: reason, UpdatedAt: nowFunc()})
}

// NewTaskID mints a fresh transport-level task identifier (a random
// UUID string).
func NewTaskID() string { return uuid.NewString() }

// nowFunc is indirected so tests can stub it; production always wants
// wall-clock time.
var nowFunc = time.Now
