package runner

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/stackrun/internal/domain"
	"github.com/yungbote/stackrun/internal/platform/logger"
)

func newEngine(t *testing.T) *Runner {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return New(log, 0)
}

func TestRunner_Echo(t *testing.T) {
	r := newEngine(t)
	code := `function handle(input) { return input; }`

	outcome, err := r.Execute(context.Background(), uuid.New(), "echo", code, map[string]any{"msg": "hi"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Status != OutcomeCompleted {
		t.Fatalf("expected completed, got %q (failure=%+v)", outcome.Status, outcome.Failure)
	}
	m, ok := outcome.Result.(map[string]interface{})
	if !ok || m["msg"] != "hi" {
		t.Fatalf("unexpected result: %#v", outcome.Result)
	}
}

func TestRunner_SingleExternalCallSuspendsThenCompletes(t *testing.T) {
	r := newEngine(t)
	code := `function handle(input) {
		var v = tools.keystore.get("X");
		return { wrapped: v };
	}`

	first, err := r.Execute(context.Background(), uuid.New(), "with_call", code, map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if first.Status != OutcomeSuspended {
		t.Fatalf("expected suspended, got %q (failure=%+v)", first.Status, first.Failure)
	}
	if first.Call.Service != "keystore" || first.Call.Method != "get" {
		t.Fatalf("unexpected call: %+v", first.Call)
	}
	if len(first.Call.Args) != 1 || first.Call.Args[0] != "X" {
		t.Fatalf("unexpected call args: %+v", first.Call.Args)
	}
	if len(first.VMState.CallHistory) != 1 || !first.VMState.CallHistory[0].Pending {
		t.Fatalf("expected one pending history entry, got %+v", first.VMState.CallHistory)
	}

	second, err := r.Resume(context.Background(), uuid.New(), code, first.VMState, "v")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if second.Status != OutcomeCompleted {
		t.Fatalf("expected completed after resume, got %q (failure=%+v)", second.Status, second.Failure)
	}
	m, ok := second.Result.(map[string]interface{})
	if !ok || m["wrapped"] != "v" {
		t.Fatalf("unexpected result: %#v", second.Result)
	}
}

func TestRunner_SequentialTwoCalls(t *testing.T) {
	r := newEngine(t)
	code := `function handle(input) {
		var a = tools.a.m1();
		var b = tools.a.m2(a);
		return b;
	}`

	first, err := r.Execute(context.Background(), uuid.New(), "two_calls", code, map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if first.Status != OutcomeSuspended || first.Call.Method != "m1" {
		t.Fatalf("expected suspended on m1, got %+v", first)
	}

	second, err := r.Resume(context.Background(), uuid.New(), code, first.VMState, float64(1))
	if err != nil {
		t.Fatalf("Resume #1: %v", err)
	}
	if second.Status != OutcomeSuspended || second.Call.Method != "m2" {
		t.Fatalf("expected suspended on m2, got %+v", second)
	}
	if len(second.Call.Args) != 1 || second.Call.Args[0] != float64(1) {
		t.Fatalf("expected m2 called with [1], got %+v", second.Call.Args)
	}
	settled := second.VMState.CallHistory[0]
	if settled.Service != "a" || settled.Method != "m1" || settled.Pending {
		t.Fatalf("expected settled m1 entry, got %+v", settled)
	}

	third, err := r.Resume(context.Background(), uuid.New(), code, second.VMState, float64(2))
	if err != nil {
		t.Fatalf("Resume #2: %v", err)
	}
	if third.Status != OutcomeCompleted || third.Result != float64(2) {
		t.Fatalf("expected completed with result 2, got %+v", third)
	}
}

func TestRunner_HandlerFailureAfterSuccessfulCall(t *testing.T) {
	r := newEngine(t)
	code := `function handle(input) {
		var a = tools.a.m1();
		throw new Error("boom");
	}`

	first, err := r.Execute(context.Background(), uuid.New(), "fails", code, map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if first.Status != OutcomeSuspended {
		t.Fatalf("expected suspended, got %+v", first)
	}

	second, err := r.Resume(context.Background(), uuid.New(), code, first.VMState, float64(1))
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if second.Status != OutcomeFailed {
		t.Fatalf("expected failed, got %+v", second)
	}
	if second.Failure.Kind != domain.FailureKindHandler {
		t.Fatalf("expected handler failure kind, got %q", second.Failure.Kind)
	}
}

func TestRunner_ModuleErrorDeliveredAsValue(t *testing.T) {
	r := newEngine(t)
	code := `function handle(input) {
		var v = tools.search.query("q");
		if (v && v.error) {
			return { ok: false };
		}
		return { ok: true };
	}`

	first, err := r.Execute(context.Background(), uuid.New(), "module_error", code, map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if first.Status != OutcomeSuspended {
		t.Fatalf("expected suspended, got %+v", first)
	}

	second, err := r.Resume(context.Background(), uuid.New(), code, first.VMState, map[string]any{"error": "not found"})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if second.Status != OutcomeCompleted {
		t.Fatalf("expected completed, got %+v", second)
	}
	m, ok := second.Result.(map[string]interface{})
	if !ok || m["ok"] != false {
		t.Fatalf("unexpected result: %#v", second.Result)
	}
}

func TestRunner_NondeterministicReplayRejected(t *testing.T) {
	r := newEngine(t)
	code := `function handle(input) {
		var v = tools.b.different_method();
		return v;
	}`

	vm := domain.VMState{
		TaskCode:  code,
		TaskName:  "mismatch",
		TaskInput: map[string]any{},
		CallHistory: []domain.CallRecord{
			{Service: "a", Method: "m1", Args: []any{}, Pending: true},
		},
	}

	outcome, err := r.Resume(context.Background(), uuid.New(), code, vm, float64(1))
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if outcome.Status != OutcomeFailed {
		t.Fatalf("expected failed, got %+v", outcome)
	}
	if outcome.Failure.Kind != domain.FailureKindNonDeterm {
		t.Fatalf("expected nondeterministic_replay failure kind, got %q", outcome.Failure.Kind)
	}
}
