// Package store is the Continuation Store: the sole component allowed
// to write task_runs.status and stack_runs.status. It exposes the
// seven atomic operations from spec.md §4.1 on top of TaskRunRepo and
// StackRunRepo, composing both inside single gorm transactions where a
// spec operation spans both tables.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/stackrun/internal/domain"
	"github.com/yungbote/stackrun/internal/platform/dbctx"
	"github.com/yungbote/stackrun/internal/platform/logger"
)

var ErrNotFound = errors.New("store: not found")

// ChildSpec describes the child stack run that Suspend inserts for the
// call the handler is blocked on.
type ChildSpec struct {
	ServiceName string
	MethodName  string
	Args        []any
	Deadline    *time.Time
}

type Store struct {
	db       *gorm.DB
	log      *logger.Logger
	taskRuns TaskRunRepo
	stackRuns StackRunRepo
}

func New(db *gorm.DB, log *logger.Logger) *Store {
	l := log.With("component", "Store")
	return &Store{
		db:        db,
		log:       l,
		taskRuns:  NewTaskRunRepo(db, l),
		stackRuns: NewStackRunRepo(db, l),
	}
}

// CreateTaskRun implements create_task_run: inserts a queued task run
// and its root stack run (pending, service="tasks", method="execute",
// args=[task_name, input]), atomically.
func (s *Store) CreateTaskRun(ctx context.Context, taskName string, input any, ownerRef string) (*domain.TaskRun, *domain.StackRun, error) {
	inputJSON, err := marshalJSON(input)
	if err != nil {
		return nil, nil, fmt.Errorf("store: marshal input: %w", err)
	}
	argsJSON, err := marshalJSON([]any{taskName, input})
	if err != nil {
		return nil, nil, fmt.Errorf("store: marshal root args: %w", err)
	}

	var task domain.TaskRun
	var root domain.StackRun
	err = s.db.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: txx}
		task = domain.TaskRun{
			TaskName: taskName,
			Input:    inputJSON,
			Status:   domain.TaskRunQueued,
			OwnerRef: ownerRef,
		}
		if err := s.taskRuns.Create(dbc, &task); err != nil {
			return err
		}
		root = domain.StackRun{
			ParentTaskRunID: task.ID,
			ServiceName:     domain.ServiceTasks,
			MethodName:      domain.MethodExecute,
			Args:            argsJSON,
			Status:          domain.StackRunPending,
			TraceParent:     rootTraceParent(ctx, "task_run:"+taskName),
		}
		return s.stackRuns.Create(dbc, &root)
	})
	if err != nil {
		return nil, nil, err
	}
	return &task, &root, nil
}

// ClaimNextReady implements claim_next_ready, additionally promoting
// the enclosing task run to processing (from queued on its first
// claim, or from suspended on a later one).
func (s *Store) ClaimNextReady(ctx context.Context, staleProcessing time.Duration) (*domain.StackRun, error) {
	dbc := dbctx.Context{Ctx: ctx}
	row, err := s.stackRuns.ClaimNextReady(dbc, staleProcessing)
	if err != nil || row == nil {
		return nil, err
	}
	if ok, err := s.taskRuns.UpdateStatus(dbc, row.ParentTaskRunID, domain.TaskRunProcessing, nil); err != nil {
		s.log.Warn("failed to promote task run to processing", "task_run_id", row.ParentTaskRunID, "error", err)
	} else if ok {
		s.log.Debug("task run promoted to processing", "task_run_id", row.ParentTaskRunID)
	}
	return row, nil
}

// ClaimSpecific implements claim_specific.
func (s *Store) ClaimSpecific(ctx context.Context, id uuid.UUID) (*domain.StackRun, error) {
	dbc := dbctx.Context{Ctx: ctx}
	row, err := s.stackRuns.ClaimSpecific(dbc, id)
	if err != nil || row == nil {
		return nil, err
	}
	if ok, err := s.taskRuns.UpdateStatus(dbc, row.ParentTaskRunID, domain.TaskRunProcessing, nil); err != nil {
		s.log.Warn("failed to promote task run to processing", "task_run_id", row.ParentTaskRunID, "error", err)
	} else if ok {
		s.log.Debug("task run promoted to processing", "task_run_id", row.ParentTaskRunID)
	}
	return row, nil
}

// Suspend implements suspend(stack_run_id, child): persists the
// parent's continuation, flips it to suspended_waiting_child, and
// inserts the child as pending, all in one transaction. Also demotes
// the enclosing task run to suspended.
func (s *Store) Suspend(ctx context.Context, stackRunID uuid.UUID, vmState domain.VMState, child ChildSpec) (*domain.StackRun, error) {
	vmJSON, err := marshalJSON(vmState)
	if err != nil {
		return nil, fmt.Errorf("store: marshal vm_state: %w", err)
	}
	argsJSON, err := marshalJSON(child.Args)
	if err != nil {
		return nil, fmt.Errorf("store: marshal child args: %w", err)
	}

	var childRow domain.StackRun
	var parentTaskRunID uuid.UUID
	err = s.db.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: txx}

		parent, err := s.stackRuns.Get(dbc, stackRunID)
		if err != nil {
			return err
		}
		if parent == nil {
			return ErrNotFound
		}
		parentTaskRunID = parent.ParentTaskRunID

		childRow = domain.StackRun{
			ParentTaskRunID:  parent.ParentTaskRunID,
			ParentStackRunID: &stackRunID,
			ServiceName:      child.ServiceName,
			MethodName:       child.MethodName,
			Args:             argsJSON,
			Status:           domain.StackRunPending,
			Deadline:         child.Deadline,
			TraceParent:      parent.TraceParent,
		}
		if err := s.stackRuns.Create(dbc, &childRow); err != nil {
			return err
		}

		ok, err := s.stackRuns.UpdateStatus(dbc, stackRunID, domain.StackRunSuspendedWaitingChild, map[string]interface{}{
			"vm_state":                vmJSON,
			"waiting_on_stack_run_id": childRow.ID,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("store: suspend: illegal transition for stack_run %s", stackRunID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	dbc := dbctx.Context{Ctx: ctx}
	if ok, err := s.taskRuns.UpdateStatus(dbc, parentTaskRunID, domain.TaskRunSuspended, nil); err != nil {
		s.log.Warn("failed to demote task run to suspended", "task_run_id", parentTaskRunID, "error", err)
	} else if ok {
		s.log.Debug("task run demoted to suspended", "task_run_id", parentTaskRunID)
	}
	return &childRow, nil
}

// Complete implements complete(stack_run_id, result) -> parent_id |
// none, per spec.md §4.1.
func (s *Store) Complete(ctx context.Context, stackRunID uuid.UUID, result any) (*uuid.UUID, error) {
	resultJSON, err := marshalJSON(result)
	if err != nil {
		return nil, fmt.Errorf("store: marshal result: %w", err)
	}

	var parentID *uuid.UUID
	var taskRunID uuid.UUID
	err = s.db.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: txx}

		row, err := s.stackRuns.Get(dbc, stackRunID)
		if err != nil {
			return err
		}
		if row == nil {
			return ErrNotFound
		}
		taskRunID = row.ParentTaskRunID
		now := time.Now().UTC()

		ok, err := s.stackRuns.UpdateStatus(dbc, stackRunID, domain.StackRunCompleted, map[string]interface{}{
			"result":   resultJSON,
			"ended_at": now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("store: complete: illegal transition for stack_run %s", stackRunID)
		}

		if row.ParentStackRunID == nil {
			// Root frame: promote the enclosing task run.
			if _, err := s.taskRuns.UpdateStatus(dbc, taskRunID, domain.TaskRunCompleted, map[string]interface{}{
				"result":   resultJSON,
				"ended_at": now,
			}); err != nil {
				return err
			}
			return nil
		}

		parent, err := s.stackRuns.Get(dbc, *row.ParentStackRunID)
		if err != nil {
			return err
		}
		if parent == nil || parent.Status != domain.StackRunSuspendedWaitingChild {
			// Parent moved on or is gone; nothing further to stage.
			return nil
		}
		ok, err = s.stackRuns.UpdateStatus(dbc, parent.ID, domain.StackRunPendingResume, map[string]interface{}{
			"resume_payload":          resultJSON,
			"waiting_on_stack_run_id": nil,
		})
		if err != nil {
			return err
		}
		if ok {
			parentID = &parent.ID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parentID, nil
}

// Fail implements fail(stack_run_id, error) -> parent_task_run_id,
// walking suspended ancestors to failure and finally the enclosing
// task run, per spec.md §4.1.
func (s *Store) Fail(ctx context.Context, stackRunID uuid.UUID, failure domain.TaskFailure) (uuid.UUID, error) {
	errJSON, err := marshalJSON(failure)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: marshal error: %w", err)
	}

	var taskRunID uuid.UUID
	err = s.db.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: txx}

		row, err := s.stackRuns.Get(dbc, stackRunID)
		if err != nil {
			return err
		}
		if row == nil {
			return ErrNotFound
		}
		taskRunID = row.ParentTaskRunID
		now := time.Now().UTC()

		ok, err := s.stackRuns.UpdateStatus(dbc, stackRunID, domain.StackRunFailed, map[string]interface{}{
			"error":         errJSON,
			"last_error_at": now,
			"ended_at":      now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("store: fail: illegal transition for stack_run %s", stackRunID)
		}

		// Walk suspended ancestors to failure. Each carries a
		// propagated {child_failed, cause} error distinct from the
		// original; the root's original failure is what lands on the
		// task run.
		childID := row.ID
		cursor := row.ParentStackRunID
		for cursor != nil {
			ancestor, err := s.stackRuns.Get(dbc, *cursor)
			if err != nil {
				return err
			}
			if ancestor == nil || ancestor.Status != domain.StackRunSuspendedWaitingChild {
				break
			}
			propagated := domain.TaskFailure{
				Kind:             domain.FailureKindChildFailed,
				Message:          fmt.Sprintf("child stack run %s failed", childID),
				FailedStackRunID: childID.String(),
				Cause:            failure,
			}
			propagatedJSON, err := marshalJSON(propagated)
			if err != nil {
				return err
			}
			ok, err := s.stackRuns.UpdateStatus(dbc, ancestor.ID, domain.StackRunFailed, map[string]interface{}{
				"error":         propagatedJSON,
				"last_error_at": now,
				"ended_at":      now,
			})
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			childID = ancestor.ID
			cursor = ancestor.ParentStackRunID
		}

		_, err = s.taskRuns.UpdateStatus(dbc, taskRunID, domain.TaskRunFailed, map[string]interface{}{
			"error":    errJSON,
			"ended_at": now,
		})
		return err
	})
	if err != nil {
		return uuid.Nil, err
	}
	return taskRunID, nil
}

// Get implements get(stack_run_id).
func (s *Store) Get(ctx context.Context, stackRunID uuid.UUID) (*domain.StackRun, error) {
	return s.stackRuns.Get(dbctx.Context{Ctx: ctx}, stackRunID)
}

// GetTaskRun is an additional read path (not in spec.md's seven
// operations) backing the HTTP poll endpoint in SPEC_FULL.md §6.1.
func (s *Store) GetTaskRun(ctx context.Context, id uuid.UUID) (*domain.TaskRun, error) {
	return s.taskRuns.Get(dbctx.Context{Ctx: ctx}, id)
}

// rootTraceParent returns the W3C traceparent of whatever span is
// already active on ctx (e.g. one opened by HTTP middleware), or opens
// and immediately closes a fresh root span if none is. The resulting
// string is persisted on the root stack run so every later dispatch
// step — however many process restarts away — can reopen a span
// parented by this one, per SPEC_FULL.md §6.2.
func rootTraceParent(ctx context.Context, name string) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		_, span := otel.Tracer("stackrun/store").Start(ctx, name)
		sc = span.SpanContext()
		span.End()
	}
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(trace.ContextWithSpanContext(ctx, sc), carrier)
	return carrier.Get("traceparent")
}

func marshalJSON(v any) (datatypes.JSON, error) {
	if v == nil {
		return datatypes.JSON([]byte("null")), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
