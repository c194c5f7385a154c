package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/yungbote/pipeline-orchestrator/internal/broker"
	"github.com/yungbote/pipeline-orchestrator/internal/config"
	"github.com/yungbote/pipeline-orchestrator/internal/data/repos/jobs"
	"github.com/yungbote/pipeline-orchestrator/internal/domain"
	"github.com/yungbote/pipeline-orchestrator/internal/platform/dbctx"
	"github.com/yungbote/pipeline-orchestrator/internal/platform/logger"
)

// fakeJobRepo is an in-memory jobs.JobRepo, grounded on the teacher's
// pattern of faking the repo boundary in unit tests rather than standing
// up Postgres (Design Note "Implicit global clients").
type fakeJobRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.Job
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{rows: map[uuid.UUID]*domain.Job{}}
}

var _ jobs.JobRepo = (*fakeJobRepo)(nil)

func (f *fakeJobRepo) Create(_ dbctx.Context, job *domain.Job) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.UpdatedAt = job.CreatedAt
	f.rows[job.ID] = job
	return job, nil
}

func (f *fakeJobRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (f *fakeJobRepo) ClaimQueued(_ dbctx.Context, limit int) ([]*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Job
	for _, job := range f.rows {
		if job.Status != domain.JobStatusQueued {
			continue
		}
		job.Status = domain.JobStatusScheduled
		cp := *job
		out = append(out, &cp)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ClaimForPoll returns freshly-copied rows rather than the live stored
// pointer, matching the real jobRepo (every query reloads from Postgres).
// A fake that handed back the live pointer would let a caller's in-memory
// field mutation "persist" without ever calling UpdateFields, masking bugs
// that only a real reload would catch.
func (f *fakeJobRepo) ClaimForPoll(_ dbctx.Context, limit int) ([]*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Job
	for _, job := range f.rows {
		if job.Status != domain.JobStatusScheduled && job.Status != domain.JobStatusRunning {
			continue
		}
		cp := *job
		out = append(out, &cp)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeJobRepo) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.rows[id]
	if !ok {
		return nil
	}
	applyUpdates(job, updates)
	return nil
}

func (f *fakeJobRepo) UpdateFieldsUnlessTerminal(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.rows[id]
	if !ok || job.Status.IsTerminal() {
		return false, nil
	}
	applyUpdates(job, updates)
	return true, nil
}

func (f *fakeJobRepo) AppendTaskID(_ dbctx.Context, id uuid.UUID, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.rows[id]
	if !ok {
		return nil
	}
	ids, _ := job.TaskIDList()
	ids = append(ids, taskID)
	job.TaskIDs = domain.EncodeStringSlice(ids)
	return nil
}

func (f *fakeJobRepo) ListAged(_ dbctx.Context, cutoff time.Time) ([]*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Job
	for _, job := range f.rows {
		if job.Status != domain.JobStatusScheduled && job.CreatedAt.Before(cutoff) {
			out = append(out, job)
		}
	}
	return out, nil
}

func (f *fakeJobRepo) Delete(_ dbctx.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}

func applyUpdates(job *domain.Job, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "status":
			job.Status = v.(domain.JobStatus)
		case "current_step":
			job.CurrentStep = v.(*string)
		case "progress":
			job.Progress = v.(int)
		case "logs":
			job.Logs = v.(string)
		case "error":
			job.Error = v.(string)
		}
	}
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("dev")
	require.NoError(t, err)
	return log
}

func newJob(status domain.JobStatus, steps []string) *domain.Job {
	return &domain.Job{
		ID:      uuid.New(),
		Status:  status,
		Steps:   domain.EncodeStringSlice(steps),
		Total:   len(steps),
		TaskIDs: domain.EncodeStringSlice(nil),
		Payload: datatypes.JSON([]byte(`{}`)),
	}
}

func TestPromoterDispatchesFirstStep(t *testing.T) {
	repo := newFakeJobRepo()
	b := broker.NewFakeBroker()
	job := newJob(domain.JobStatusQueued, []string{"cpu.prestage_0", "cpu.stage_0"})
	_, err := repo.Create(dbctx.Context{Ctx: context.Background()}, job)
	require.NoError(t, err)

	s := New(repo, b, testLogger(t), config.Settings{})
	s.runPromoter(context.Background())

	got, err := repo.GetByID(dbctx.Context{Ctx: context.Background()}, job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusScheduled, got.Status)
	require.NotNil(t, got.CurrentStep)
	require.Equal(t, "cpu.prestage_0", *got.CurrentStep)
	require.Equal(t, 1, b.QueueLen("cpu"))
}

func TestPollerAdvancesOnSuccessAndDispatchesNext(t *testing.T) {
	repo := newFakeJobRepo()
	b := broker.NewFakeBroker()
	job := newJob(domain.JobStatusQueued, []string{"cpu.prestage_0", "cpu.stage_0"})
	_, err := repo.Create(dbctx.Context{Ctx: context.Background()}, job)
	require.NoError(t, err)

	s := New(repo, b, testLogger(t), config.Settings{})
	ctx := context.Background()
	s.runPromoter(ctx)

	afterPromote, err := repo.GetByID(dbctx.Context{Ctx: ctx}, job.ID)
	require.NoError(t, err)
	ids, err := afterPromote.TaskIDList()
	require.NoError(t, err)
	require.Len(t, ids, 1)

	require.NoError(t, b.SetResult(ctx, ids[0], broker.Result{State: broker.TaskSuccess}))
	s.runPoller(ctx)

	got, err := repo.GetByID(dbctx.Context{Ctx: ctx}, job.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Progress)
	require.Equal(t, domain.JobStatusScheduled, got.Status)
	require.NotNil(t, got.CurrentStep)
	require.Equal(t, "cpu.stage_0", *got.CurrentStep)
	// No worker dequeues in this test, so the promoter's task is still
	// queued alongside the one the poller just dispatched.
	require.Equal(t, 2, b.QueueLen("cpu"))
}

func TestPollerMarksJobFailedOnTaskFailure(t *testing.T) {
	repo := newFakeJobRepo()
	b := broker.NewFakeBroker()
	job := newJob(domain.JobStatusQueued, []string{"cpu.prestage_0"})
	_, err := repo.Create(dbctx.Context{Ctx: context.Background()}, job)
	require.NoError(t, err)

	s := New(repo, b, testLogger(t), config.Settings{})
	ctx := context.Background()
	s.runPromoter(ctx)

	got, err := repo.GetByID(dbctx.Context{Ctx: ctx}, job.ID)
	require.NoError(t, err)
	ids, err := got.TaskIDList()
	require.NoError(t, err)

	require.NoError(t, b.SetResult(ctx, ids[0], broker.Result{State: broker.TaskFailure, Error: "boom", Log: "traceback"}))
	s.runPoller(ctx)

	final, err := repo.GetByID(dbctx.Context{Ctx: ctx}, job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusFailed, final.Status)
	require.Equal(t, "boom", final.Error)
}

// TestPollerNeverTransitionsTerminalStatus covers spec.md §8's invariant:
// once a job reaches a terminal status (e.g. CANCELLED racing a poll), no
// later poll result can move it to a different status.
func TestPollerNeverTransitionsTerminalStatus(t *testing.T) {
	repo := newFakeJobRepo()
	b := broker.NewFakeBroker()
	job := newJob(domain.JobStatusQueued, []string{"cpu.prestage_0"})
	_, err := repo.Create(dbctx.Context{Ctx: context.Background()}, job)
	require.NoError(t, err)

	s := New(repo, b, testLogger(t), config.Settings{})
	ctx := context.Background()
	s.runPromoter(ctx)

	got, err := repo.GetByID(dbctx.Context{Ctx: ctx}, job.ID)
	require.NoError(t, err)
	ids, err := got.TaskIDList()
	require.NoError(t, err)

	_, err = repo.UpdateFieldsUnlessTerminal(dbctx.Context{Ctx: ctx}, job.ID, map[string]interface{}{
		"status": domain.JobStatusCancelled,
	})
	require.NoError(t, err)

	require.NoError(t, b.SetResult(ctx, ids[0], broker.Result{State: broker.TaskSuccess}))
	s.runPoller(ctx)

	final, err := repo.GetByID(dbctx.Context{Ctx: ctx}, job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusCancelled, final.Status)
}

// TestPollerPersistsProgressAcrossMultipleStages is a regression test for
// a bug where pollOne advanced job.Progress only on the in-memory struct
// handed back by ClaimForPoll and never wrote the progress column, so a
// fresh reload on the next poll always saw progress=0 and re-dispatched
// steps[1] forever. Each iteration below re-fetches the row by value
// (ClaimForPoll returns copies, never the live stored pointer) so a
// not-actually-persisted progress field would make this test loop past
// len(steps) and fail instead of silently passing.
func TestPollerPersistsProgressAcrossMultipleStages(t *testing.T) {
	repo := newFakeJobRepo()
	b := broker.NewFakeBroker()
	steps := []string{"cpu.prestage_0", "cpu.stage_0", "cpu.stage_1"}
	job := newJob(domain.JobStatusQueued, steps)
	_, err := repo.Create(dbctx.Context{Ctx: context.Background()}, job)
	require.NoError(t, err)

	s := New(repo, b, testLogger(t), config.Settings{})
	ctx := context.Background()
	s.runPromoter(ctx)

	for i := range steps {
		active, err := repo.ClaimForPoll(dbctx.Context{Ctx: ctx}, 10)
		require.NoError(t, err)
		require.Len(t, active, 1, "iteration %d: job should still be pollable", i)

		ids, err := active[0].TaskIDList()
		require.NoError(t, err)
		lastTaskID := ids[len(ids)-1]
		require.NoError(t, b.SetResult(ctx, lastTaskID, broker.Result{State: broker.TaskSuccess}))

		require.NoError(t, s.pollOne(ctx, active[0]))

		reloaded, err := repo.GetByID(dbctx.Context{Ctx: ctx}, job.ID)
		require.NoError(t, err)
		require.Equal(t, i+1, reloaded.Progress, "iteration %d: progress column must be persisted", i)

		if i+1 < len(steps) {
			require.Equal(t, domain.JobStatusScheduled, reloaded.Status)
			require.NotNil(t, reloaded.CurrentStep)
			require.Equal(t, steps[i+1], *reloaded.CurrentStep)
		} else {
			require.Equal(t, domain.JobStatusSucceeded, reloaded.Status)
		}
	}
}

func TestReaperDeletesOnlyAgedNonScheduledRows(t *testing.T) {
	repo := newFakeJobRepo()
	b := broker.NewFakeBroker()

	old := newJob(domain.JobStatusSucceeded, []string{"cpu.prestage_0"})
	old.CreatedAt = time.Now().Add(-100 * time.Hour)
	_, err := repo.Create(dbctx.Context{Ctx: context.Background()}, old)
	require.NoError(t, err)

	fresh := newJob(domain.JobStatusSucceeded, []string{"cpu.prestage_0"})
	_, err = repo.Create(dbctx.Context{Ctx: context.Background()}, fresh)
	require.NoError(t, err)

	agedScheduled := newJob(domain.JobStatusScheduled, []string{"cpu.prestage_0"})
	agedScheduled.CreatedAt = time.Now().Add(-100 * time.Hour)
	_, err = repo.Create(dbctx.Context{Ctx: context.Background()}, agedScheduled)
	require.NoError(t, err)

	s := New(repo, b, testLogger(t), config.Settings{ReaperMaxAge: 72 * time.Hour})
	s.runReaper(context.Background())

	_, ok := repo.rows[old.ID]
	require.False(t, ok, "aged row should have been deleted")
	_, ok = repo.rows[fresh.ID]
	require.True(t, ok, "fresh row should survive the sweep")
	_, ok = repo.rows[agedScheduled.ID]
	require.True(t, ok, "aged SCHEDULED row should survive the sweep")
}
