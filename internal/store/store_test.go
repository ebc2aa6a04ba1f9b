package store

import (
	"context"
	"testing"

	"github.com/yungbote/stackrun/internal/domain"
	"github.com/yungbote/stackrun/internal/store/storetest"
)

func TestStore_CreateTaskRun(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()
	s := New(tx, storetest.Logger(t))

	task, root, err := s.CreateTaskRun(ctx, "echo", map[string]any{"msg": "hi"}, "owner-1")
	if err != nil {
		t.Fatalf("CreateTaskRun: %v", err)
	}
	if task.Status != domain.TaskRunQueued {
		t.Fatalf("expected queued task run, got %q", task.Status)
	}
	if root.Status != domain.StackRunPending {
		t.Fatalf("expected pending root stack run, got %q", root.Status)
	}
	if root.ServiceName != domain.ServiceTasks || root.MethodName != domain.MethodExecute {
		t.Fatalf("unexpected root frame: service=%q method=%q", root.ServiceName, root.MethodName)
	}
	if root.ParentTaskRunID != task.ID {
		t.Fatalf("root stack run not linked to task run")
	}
}

func TestStore_ClaimNextReady_FIFOAndClaimableStatuses(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()
	s := New(tx, storetest.Logger(t))

	_, first, err := s.CreateTaskRun(ctx, "a", nil, "")
	if err != nil {
		t.Fatalf("CreateTaskRun first: %v", err)
	}
	_, second, err := s.CreateTaskRun(ctx, "b", nil, "")
	if err != nil {
		t.Fatalf("CreateTaskRun second: %v", err)
	}

	claimed, err := s.ClaimNextReady(ctx, 0)
	if err != nil {
		t.Fatalf("ClaimNextReady: %v", err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Fatalf("expected FIFO claim of %s, got %+v", first.ID, claimed)
	}
	if claimed.Status != domain.StackRunProcessing {
		t.Fatalf("expected processing after claim, got %q", claimed.Status)
	}

	claimed2, err := s.ClaimNextReady(ctx, 0)
	if err != nil {
		t.Fatalf("ClaimNextReady second: %v", err)
	}
	if claimed2 == nil || claimed2.ID != second.ID {
		t.Fatalf("expected second claim of %s, got %+v", second.ID, claimed2)
	}

	none, err := s.ClaimNextReady(ctx, 0)
	if err != nil {
		t.Fatalf("ClaimNextReady empty: %v", err)
	}
	if none != nil {
		t.Fatalf("expected none when queue is drained, got %+v", none)
	}
}

func TestStore_SuspendThenCompleteResumesParent(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()
	s := New(tx, storetest.Logger(t))

	_, root, err := s.CreateTaskRun(ctx, "with_call", map[string]any{"key": "X"}, "")
	if err != nil {
		t.Fatalf("CreateTaskRun: %v", err)
	}
	if _, err := s.ClaimNextReady(ctx, 0); err != nil {
		t.Fatalf("ClaimNextReady: %v", err)
	}

	vm := domain.VMState{TaskName: "with_call", CallHistory: nil}
	child, err := s.Suspend(ctx, root.ID, vm, ChildSpec{
		ServiceName: "keystore",
		MethodName:  "get",
		Args:        []any{"X"},
	})
	if err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if child.Status != domain.StackRunPending {
		t.Fatalf("expected pending child, got %q", child.Status)
	}
	if child.ParentStackRunID == nil || *child.ParentStackRunID != root.ID {
		t.Fatalf("child not linked to parent")
	}

	parentAfterSuspend, err := s.Get(ctx, root.ID)
	if err != nil {
		t.Fatalf("Get parent: %v", err)
	}
	if parentAfterSuspend.Status != domain.StackRunSuspendedWaitingChild {
		t.Fatalf("expected suspended_waiting_child, got %q", parentAfterSuspend.Status)
	}
	if parentAfterSuspend.WaitingOnStackRunID == nil || *parentAfterSuspend.WaitingOnStackRunID != child.ID {
		t.Fatalf("parent not waiting on child")
	}

	claimedChild, err := s.ClaimSpecific(ctx, child.ID)
	if err != nil {
		t.Fatalf("ClaimSpecific: %v", err)
	}
	if claimedChild == nil {
		t.Fatalf("expected child to be claimable")
	}

	parentID, err := s.Complete(ctx, child.ID, "v")
	if err != nil {
		t.Fatalf("Complete child: %v", err)
	}
	if parentID == nil || *parentID != root.ID {
		t.Fatalf("expected parent id %s returned, got %+v", root.ID, parentID)
	}

	parentAfterResume, err := s.Get(ctx, root.ID)
	if err != nil {
		t.Fatalf("Get parent after resume: %v", err)
	}
	if parentAfterResume.Status != domain.StackRunPendingResume {
		t.Fatalf("expected pending_resume, got %q", parentAfterResume.Status)
	}
	if parentAfterResume.WaitingOnStackRunID != nil {
		t.Fatalf("expected waiting_on_stack_run_id cleared")
	}
}

func TestStore_CompleteRootPromotesTaskRun(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()
	s := New(tx, storetest.Logger(t))

	task, root, err := s.CreateTaskRun(ctx, "echo", map[string]any{"msg": "hi"}, "")
	if err != nil {
		t.Fatalf("CreateTaskRun: %v", err)
	}
	if _, err := s.ClaimNextReady(ctx, 0); err != nil {
		t.Fatalf("ClaimNextReady: %v", err)
	}

	parentID, err := s.Complete(ctx, root.ID, map[string]any{"msg": "hi"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if parentID != nil {
		t.Fatalf("expected no parent for root completion, got %+v", parentID)
	}

	got, err := s.GetTaskRun(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTaskRun: %v", err)
	}
	if got.Status != domain.TaskRunCompleted {
		t.Fatalf("expected completed task run, got %q", got.Status)
	}
}

func TestStore_FailPropagatesToAncestorsAndTaskRun(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()
	s := New(tx, storetest.Logger(t))

	task, root, err := s.CreateTaskRun(ctx, "with_call", map[string]any{}, "")
	if err != nil {
		t.Fatalf("CreateTaskRun: %v", err)
	}
	if _, err := s.ClaimNextReady(ctx, 0); err != nil {
		t.Fatalf("ClaimNextReady: %v", err)
	}
	child, err := s.Suspend(ctx, root.ID, domain.VMState{TaskName: "with_call"}, ChildSpec{
		ServiceName: "a",
		MethodName:  "m1",
	})
	if err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if _, err := s.ClaimSpecific(ctx, child.ID); err != nil {
		t.Fatalf("ClaimSpecific: %v", err)
	}

	failure := domain.TaskFailure{Kind: domain.FailureKindModule, Message: "boom"}
	taskRunID, err := s.Fail(ctx, child.ID, failure)
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if taskRunID != task.ID {
		t.Fatalf("expected task run id %s, got %s", task.ID, taskRunID)
	}

	parent, err := s.Get(ctx, root.ID)
	if err != nil {
		t.Fatalf("Get parent: %v", err)
	}
	if parent.Status != domain.StackRunFailed {
		t.Fatalf("expected ancestor failed, got %q", parent.Status)
	}

	gotTask, err := s.GetTaskRun(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTaskRun: %v", err)
	}
	if gotTask.Status != domain.TaskRunFailed {
		t.Fatalf("expected failed task run, got %q", gotTask.Status)
	}
}

func TestStore_IllegalTransitionRejected(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()
	s := New(tx, storetest.Logger(t))

	_, root, err := s.CreateTaskRun(ctx, "echo", map[string]any{}, "")
	if err != nil {
		t.Fatalf("CreateTaskRun: %v", err)
	}

	// Root is still pending; completing it directly (without having
	// gone through processing or a prior pending status) is allowed by
	// the table (pending is a legal predecessor of completed), but
	// completing it a second time must be rejected.
	if _, err := s.Complete(ctx, root.ID, "x"); err != nil {
		t.Fatalf("first Complete: %v", err)
	}
	if _, err := s.Complete(ctx, root.ID, "x"); err == nil {
		t.Fatalf("expected second Complete to fail the illegal transition")
	}
}
