// Package jobs is the durable-storage boundary for domain.Job, grounded
// on the teacher's internal/data/repos/jobs.JobRunRepo: dbctx.Context
// threading, SKIP LOCKED claims, and an UpdateFieldsUnlessTerminal guard
// against clobbering a terminal row.
package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/pipeline-orchestrator/internal/domain"
	"github.com/yungbote/pipeline-orchestrator/internal/platform/dbctx"
	"github.com/yungbote/pipeline-orchestrator/internal/platform/logger"
)

type JobRepo interface {
	Create(dbc dbctx.Context, job *domain.Job) (*domain.Job, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Job, error)

	// ClaimQueued is the promoter's query: pick up to limit QUEUED jobs
	// and flip them to SCHEDULED, spec.md §4.7's "check_for_new_jobs".
	ClaimQueued(dbc dbctx.Context, limit int) ([]*domain.Job, error)

	// ClaimForPoll is the poller's query: select up to limit SCHEDULED or
	// RUNNING jobs (FOR UPDATE SKIP LOCKED) so the caller can check their
	// current step's broker result. The row locks last only as long as the
	// surrounding transaction; without a transaction in dbc.Tx they are
	// released when the SELECT returns, so two concurrent pollers can
	// handle the same row.
	ClaimForPoll(dbc dbctx.Context, limit int) ([]*domain.Job, error)

	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessTerminal(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error)
	AppendTaskID(dbc dbctx.Context, id uuid.UUID, taskID string) error

	// ListAged is the reaper's query, spec.md §4.7's "delete_old_jobs":
	// rows not in SCHEDULED whose created_at is older than cutoff.
	ListAged(dbc dbctx.Context, cutoff time.Time) ([]*domain.Job, error)
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{db: db, log: baseLog.With("repo", "JobRepo")}
}

func txOrDB(dbc dbctx.Context, fallback *gorm.DB) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return fallback
}

func (r *jobRepo) Create(dbc dbctx.Context, job *domain.Job) (*domain.Job, error) {
	tx := txOrDB(dbc, r.db)
	if err := tx.WithContext(dbc.Ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Job, error) {
	tx := txOrDB(dbc, r.db)
	var job domain.Job
	err := tx.WithContext(dbc.Ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) ClaimQueued(dbc dbctx.Context, limit int) ([]*domain.Job, error) {
	tx := txOrDB(dbc, r.db)
	var claimed []*domain.Job
	err := tx.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var rows []*domain.Job
		err := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", domain.JobStatusQueued).
			Order("created_at ASC").
			Limit(limit).
			Find(&rows).Error
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
			row.Status = domain.JobStatusScheduled
		}
		now := time.Now()
		if err := txx.Model(&domain.Job{}).Where("id IN ?", ids).Updates(map[string]interface{}{
			"status":     domain.JobStatusScheduled,
			"updated_at": now,
		}).Error; err != nil {
			return err
		}
		claimed = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRepo) ClaimForPoll(dbc dbctx.Context, limit int) ([]*domain.Job, error) {
	tx := txOrDB(dbc, r.db)
	var rows []*domain.Job
	err := tx.WithContext(dbc.Ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status IN ?", []domain.JobStatus{domain.JobStatusScheduled, domain.JobStatusRunning}).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *jobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	tx := txOrDB(dbc, r.db)
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return tx.WithContext(dbc.Ctx).Model(&domain.Job{}).Where("id = ?", id).Updates(updates).Error
}

// UpdateFieldsUnlessTerminal guards against a scheduler loop overwriting a
// job that has already reached SUCCEEDED/FAILED/CANCELLED — e.g. a
// cancellation landing between a poller's read and its write.
func (r *jobRepo) UpdateFieldsUnlessTerminal(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error) {
	tx := txOrDB(dbc, r.db)
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := tx.WithContext(dbc.Ctx).Model(&domain.Job{}).
		Where("id = ? AND status NOT IN ?", id, []domain.JobStatus{
			domain.JobStatusSucceeded, domain.JobStatusFailed, domain.JobStatusCancelled,
		}).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) AppendTaskID(dbc dbctx.Context, id uuid.UUID, taskID string) error {
	tx := txOrDB(dbc, r.db)
	encoded, err := json.Marshal([]string{taskID})
	if err != nil {
		return err
	}
	return tx.WithContext(dbc.Ctx).Exec(
		`UPDATE job SET task_ids = task_ids || ?::jsonb, updated_at = ? WHERE id = ?`,
		string(encoded), time.Now(), id,
	).Error
}

func (r *jobRepo) ListAged(dbc dbctx.Context, cutoff time.Time) ([]*domain.Job, error) {
	tx := txOrDB(dbc, r.db)
	var rows []*domain.Job
	err := tx.WithContext(dbc.Ctx).
		Where("status <> ? AND created_at < ?", domain.JobStatusScheduled, cutoff).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *jobRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	tx := txOrDB(dbc, r.db)
	return tx.WithContext(dbc.Ctx).Where("id = ?", id).Delete(&domain.Job{}).Error
}
