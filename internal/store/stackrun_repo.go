package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/stackrun/internal/domain"
	"github.com/yungbote/stackrun/internal/platform/dbctx"
	"github.com/yungbote/stackrun/internal/platform/logger"
)

// StackRunRepo is the low-level data-access surface over the
// stack_runs table. UpdateStatus and the claims guard their writes with
// the status transition table's predecessors; the one exception is the
// ClaimNextReady janitor pass, which resets stale processing rows to
// pending directly. It knows nothing about cross-table propagation — that lives
// in Store (store.go), which composes StackRunRepo and TaskRunRepo
// inside single transactions.
type StackRunRepo interface {
	Create(dbc dbctx.Context, row *domain.StackRun) error
	Get(dbc dbctx.Context, id uuid.UUID) (*domain.StackRun, error)
	ClaimNextReady(dbc dbctx.Context, staleProcessing time.Duration) (*domain.StackRun, error)
	ClaimSpecific(dbc dbctx.Context, id uuid.UUID) (*domain.StackRun, error)
	UpdateStatus(dbc dbctx.Context, id uuid.UUID, to string, updates map[string]interface{}) (bool, error)
}

type stackRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStackRunRepo(db *gorm.DB, log *logger.Logger) StackRunRepo {
	return &stackRunRepo{db: db, log: log.With("repo", "StackRunRepo")}
}

func (r *stackRunRepo) Create(dbc dbctx.Context, row *domain.StackRun) error {
	tx := dbc.Resolve(r.db)
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	return tx.WithContext(dbc.Ctx).Create(row).Error
}

func (r *stackRunRepo) Get(dbc dbctx.Context, id uuid.UUID) (*domain.StackRun, error) {
	tx := dbc.Resolve(r.db)
	var row domain.StackRun
	err := tx.WithContext(dbc.Ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ClaimNextReady implements claim_next_ready per spec.md §4.1: atomically
// selects one pending/pending_resume row (FIFO by created_at), flips it
// to processing, and returns it. Grounded on the teacher's
// JobRunRepo.ClaimNextRunnable (FOR UPDATE SKIP LOCKED inside a
// transaction). It additionally reclaims `processing` rows whose
// heartbeat has gone stale past deadline, per SPEC_FULL.md §4.1.2 —
// those are first reset to pending inside the same transaction, just
// before the select, so this same call may claim one through the usual
// pending→processing edge.
func (r *stackRunRepo) ClaimNextReady(dbc dbctx.Context, staleProcessing time.Duration) (*domain.StackRun, error) {
	tx := dbc.Resolve(r.db)
	var claimed *domain.StackRun
	err := tx.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		now := time.Now().UTC()

		// Janitor pass: reclaim abandoned processing rows whose deadline
		// and heartbeat have both lapsed, per SPEC_FULL.md §4.1.2.
		if staleProcessing > 0 {
			if err := txx.Model(&domain.StackRun{}).
				Where("status = ?", domain.StackRunProcessing).
				Where("deadline IS NOT NULL AND deadline < ?", now).
				Where("heartbeat_at IS NULL OR heartbeat_at < ?", now.Add(-staleProcessing)).
				Updates(map[string]interface{}{
					"status":     domain.StackRunPending,
					"updated_at": now,
				}).Error; err != nil {
				return err
			}
		}

		var row domain.StackRun
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status IN ?", []string{domain.StackRunPending, domain.StackRunPendingResume}).
			Order("created_at ASC").
			Limit(1).
			Take(&row).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}

		uErr := txx.Model(&domain.StackRun{}).
			Where("id = ? AND status IN ?", row.ID, []string{domain.StackRunPending, domain.StackRunPendingResume}).
			Updates(map[string]interface{}{
				"status":       domain.StackRunProcessing,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		row.Status = domain.StackRunProcessing
		claimed = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ClaimSpecific implements claim_specific: claims a caller-named id iff
// it is currently in a claimable status. Used by the Dispatcher's
// self-trigger fast path (spec.md §4.2).
func (r *stackRunRepo) ClaimSpecific(dbc dbctx.Context, id uuid.UUID) (*domain.StackRun, error) {
	tx := dbc.Resolve(r.db)
	var claimed *domain.StackRun
	err := tx.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		now := time.Now().UTC()
		var row domain.StackRun
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("id = ? AND status IN ?", id, []string{domain.StackRunPending, domain.StackRunPendingResume}).
			Take(&row).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&domain.StackRun{}).
			Where("id = ? AND status IN ?", row.ID, []string{domain.StackRunPending, domain.StackRunPendingResume}).
			Updates(map[string]interface{}{
				"status":       domain.StackRunProcessing,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		row.Status = domain.StackRunProcessing
		claimed = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// UpdateStatus writes `updates` (which must include "status": to) only
// if the row's current status is one of the legal predecessors of `to`
// per the transition table. Returns false (no error) if the guard
// rejected the write — callers treat that as "someone else already
// moved this row" rather than a hard failure.
func (r *stackRunRepo) UpdateStatus(dbc dbctx.Context, id uuid.UUID, to string, updates map[string]interface{}) (bool, error) {
	tx := dbc.Resolve(r.db)
	from := allowedFromStatuses(to)
	if len(from) == 0 {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = to
	updates["updated_at"] = time.Now().UTC()
	res := tx.WithContext(dbc.Ctx).Model(&domain.StackRun{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
