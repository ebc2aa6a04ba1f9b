package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/stackrun/internal/domain"
	"github.com/yungbote/stackrun/internal/platform/dbctx"
	"github.com/yungbote/stackrun/internal/platform/logger"
)

// TaskRunRepo is the low-level data-access surface over the task_runs
// table, grounded on the teacher's internal/data/repos/jobs/job_run.go.
type TaskRunRepo interface {
	Create(dbc dbctx.Context, row *domain.TaskRun) error
	Get(dbc dbctx.Context, id uuid.UUID) (*domain.TaskRun, error)
	UpdateStatus(dbc dbctx.Context, id uuid.UUID, to string, updates map[string]interface{}) (bool, error)
}

// taskRunTransitions mirrors stackRunTransitions but for the simpler
// TaskRun lifecycle (spec.md §3): queued is the only entry point,
// processing/suspended alternate while a stack_run drives the task,
// and completed/failed are write-once terminal states.
var taskRunTransitions = map[string][]string{
	domain.TaskRunQueued:     {},
	domain.TaskRunProcessing: {domain.TaskRunQueued, domain.TaskRunSuspended},
	domain.TaskRunSuspended:  {domain.TaskRunProcessing},
	domain.TaskRunCompleted:  {domain.TaskRunQueued, domain.TaskRunProcessing},
	domain.TaskRunFailed:     {domain.TaskRunQueued, domain.TaskRunProcessing, domain.TaskRunSuspended},
}

type taskRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskRunRepo(db *gorm.DB, log *logger.Logger) TaskRunRepo {
	return &taskRunRepo{db: db, log: log.With("repo", "TaskRunRepo")}
}

func (r *taskRunRepo) Create(dbc dbctx.Context, row *domain.TaskRun) error {
	tx := dbc.Resolve(r.db)
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.Status == "" {
		row.Status = domain.TaskRunQueued
	}
	return tx.WithContext(dbc.Ctx).Create(row).Error
}

func (r *taskRunRepo) Get(dbc dbctx.Context, id uuid.UUID) (*domain.TaskRun, error) {
	tx := dbc.Resolve(r.db)
	var row domain.TaskRun
	err := tx.WithContext(dbc.Ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// UpdateStatus writes `updates` only if the row's current status is a
// legal predecessor of `to`, mirroring StackRunRepo.UpdateStatus.
func (r *taskRunRepo) UpdateStatus(dbc dbctx.Context, id uuid.UUID, to string, updates map[string]interface{}) (bool, error) {
	tx := dbc.Resolve(r.db)
	from, ok := taskRunTransitions[to]
	if !ok || len(from) == 0 {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = to
	updates["updated_at"] = time.Now().UTC()
	res := tx.WithContext(dbc.Ctx).Model(&domain.TaskRun{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
