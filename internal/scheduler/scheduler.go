// Package scheduler implements the three periodic control loops from
// spec.md §4.7 — promoter, poller, reaper — grounded directly on
// original_source/service/src/cmd/scheduler.py's
// check_for_new_jobs/check_status_of_running_jobs/delete_old_jobs and its
// APScheduler `interval, max_instances=1, coalesce=True` semantics,
// reimplemented as independent goroutines each guarded by a
// non-reentrant run (Design Note "Periodic loops").
package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/pipeline-orchestrator/internal/broker"
	"github.com/yungbote/pipeline-orchestrator/internal/config"
	"github.com/yungbote/pipeline-orchestrator/internal/data/repos/jobs"
	"github.com/yungbote/pipeline-orchestrator/internal/domain"
	"github.com/yungbote/pipeline-orchestrator/internal/platform/dbctx"
	"github.com/yungbote/pipeline-orchestrator/internal/platform/logger"
	"github.com/yungbote/pipeline-orchestrator/internal/stage"
)

// Scheduler owns the three control loops. It is constructed once per
// process (cmd/scheduler) and Run blocks until ctx is cancelled.
type Scheduler struct {
	repo   jobs.JobRepo
	broker broker.Broker
	log    *logger.Logger
	cfg    config.Settings
}

func New(repo jobs.JobRepo, b broker.Broker, log *logger.Logger, cfg config.Settings) *Scheduler {
	return &Scheduler{repo: repo, broker: b, log: log.With("component", "scheduler"), cfg: cfg}
}

// Run starts the three loops and blocks until ctx is done. Each loop is
// guarded by tickAndRun so a slow iteration never overlaps with the
// next tick (max_instances=1, coalesce=true's Go equivalent).
func (s *Scheduler) Run(ctx context.Context) {
	go tickAndRun(ctx, s.cfg.PromoterInterval, s.runPromoter)
	go tickAndRun(ctx, s.cfg.PollerInterval, s.runPoller)
	go tickAndRun(ctx, s.cfg.ReaperInterval, s.runReaper)

	// "plus one immediate run at startup" — spec.md §4.7's reaper note.
	s.runReaper(ctx)

	<-ctx.Done()
	s.log.Info("scheduler stopped")
}

// tickAndRun runs fn once per interval, skipping a tick entirely if the
// previous run is still in flight rather than queueing a second
// concurrent call — the Go analogue of max_instances=1, coalesce=true.
func tickAndRun(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	busy := make(chan struct{}, 1)
	busy <- struct{}{}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case <-busy:
				go func() {
					fn(ctx)
					busy <- struct{}{}
				}()
			default:
				// previous iteration still running; coalesce by skipping this tick.
			}
		}
	}
}

// runPromoter is check_for_new_jobs: every QUEUED job is moved to
// SCHEDULED and has its first step dispatched.
func (s *Scheduler) runPromoter(ctx context.Context) {
	dbc := dbctx.Context{Ctx: ctx}
	queued, err := s.repo.ClaimQueued(dbc, 100)
	if err != nil {
		s.log.Warn("promoter: claim queued failed", "error", err)
		return
	}

	for _, job := range queued {
		log := s.log.With("job_id", job.ID)
		if err := s.dispatchNext(ctx, job); err != nil {
			log.Error("promoter: dispatch failed, marking FAILED", "error", err)
			if uerr := s.repo.UpdateFields(dbc, job.ID, map[string]interface{}{
				"status": domain.JobStatusFailed,
				"error":  err.Error(),
			}); uerr != nil {
				log.Error("promoter: failed to persist FAILED status", "error", uerr)
			}
		}
	}
}

// runPoller is check_status_of_running_jobs: for each SCHEDULED/RUNNING
// job, map its most recent task's transport state onto the job row.
func (s *Scheduler) runPoller(ctx context.Context) {
	dbc := dbctx.Context{Ctx: ctx}
	active, err := s.repo.ClaimForPoll(dbc, 200)
	if err != nil {
		s.log.Warn("poller: list active failed", "error", err)
		return
	}

	for _, job := range active {
		log := s.log.With("job_id", job.ID)
		if err := s.pollOne(ctx, job); err != nil {
			log.Error("poller: marking FAILED", "error", err)
			_ = s.repo.UpdateFields(dbc, job.ID, map[string]interface{}{
				"status": domain.JobStatusFailed,
				"error":  err.Error(),
			})
		}
	}
}

func (s *Scheduler) pollOne(ctx context.Context, job *domain.Job) error {
	dbc := dbctx.Context{Ctx: ctx}

	taskIDs, err := job.TaskIDList()
	if err != nil {
		return err
	}
	if len(taskIDs) == 0 {
		return nil
	}
	lastTaskID := taskIDs[len(taskIDs)-1]

	result, err := s.broker.GetResult(ctx, lastTaskID)
	if err != nil {
		return err
	}
	if result == nil {
		return nil // no result yet; task hasn't reported a state transition
	}

	switch result.State {
	case broker.TaskStarted:
		return s.persistIfAlive(dbc, job.ID, map[string]interface{}{"status": domain.JobStatusRunning})

	case broker.TaskFailure:
		return s.persistIfAlive(dbc, job.ID, map[string]interface{}{
			"status": domain.JobStatusFailed,
			"logs":   result.Log,
			"error":  result.Error,
		})

	case broker.TaskSuccess:
		_ = s.broker.Forget(ctx, lastTaskID)

		progress := job.Progress + 1

		if progress >= job.Total {
			return s.persistIfAlive(dbc, job.ID, map[string]interface{}{
				"progress": progress,
				"status":   domain.JobStatusSucceeded,
			})
		}

		if err := s.persistIfAlive(dbc, job.ID, map[string]interface{}{"progress": progress}); err != nil {
			return err
		}
		job.Progress = progress
		return s.dispatchNext(ctx, job)

	default:
		return nil
	}
}

// persistIfAlive writes updates unless the row already moved to a
// terminal status (e.g. a concurrent cancel), matching spec.md §8's
// "terminal status never transitions to any other" invariant.
func (s *Scheduler) persistIfAlive(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	_, err := s.repo.UpdateFieldsUnlessTerminal(dbc, id, updates)
	return err
}

// runReaper is delete_old_jobs: non-SCHEDULED rows older than the
// retention threshold are deleted; a per-row failure is logged and does
// not stop the sweep.
func (s *Scheduler) runReaper(ctx context.Context) {
	dbc := dbctx.Context{Ctx: ctx}
	cutoff := time.Now().Add(-s.cfg.ReaperMaxAge)

	aged, err := s.repo.ListAged(dbc, cutoff)
	if err != nil {
		s.log.Warn("reaper: list aged failed", "error", err)
		return
	}

	for _, job := range aged {
		if err := s.repo.Delete(dbc, job.ID); err != nil {
			s.log.Error("reaper: delete failed", "job_id", job.ID, "error", err)
		}
	}
}

// dispatchNext is dispatch_next: resolve job.steps[job.progress], take
// its pool prefix, enqueue a broker task on that pool, and append the
// new task id. It returns stage.ErrUnknownStep only when progress is past
// the end of the step list; it does not consult the stage registry, so a
// step with no registered handler is still enqueued and the worker that
// receives it reports the task as FAILURE.
func (s *Scheduler) dispatchNext(ctx context.Context, job *domain.Job) error {
	dbc := dbctx.Context{Ctx: ctx}

	steps, err := job.StepList()
	if err != nil {
		return err
	}
	if job.Progress >= len(steps) {
		return stage.ErrUnknownStep
	}
	step := steps[job.Progress]
	pool := stage.Pool(step)

	var payload map[string]any
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return err
	}

	taskID := uuid.NewString()
	task := broker.Task{ID: taskID, JobID: job.ID.String(), Step: step, Payload: payload}
	if err := s.broker.Enqueue(ctx, pool, task); err != nil {
		return err
	}

	currentStep := step
	updates := map[string]interface{}{
		"status":       domain.JobStatusScheduled,
		"current_step": &currentStep,
	}
	if _, err := s.repo.UpdateFieldsUnlessTerminal(dbc, job.ID, updates); err != nil {
		return err
	}
	return s.repo.AppendTaskID(dbc, job.ID, taskID)
}
