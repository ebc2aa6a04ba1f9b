package dispatcher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/stackrun/internal/domain"
	"github.com/yungbote/stackrun/internal/platform/logger"
	"github.com/yungbote/stackrun/internal/runner"
	"github.com/yungbote/stackrun/internal/store"
)

type fakeStore struct {
	completedID *uuid.UUID
	completedResult any
	suspendedChild  *store.ChildSpec
	failedFailure   *domain.TaskFailure
	completeParent  *uuid.UUID
}

func (f *fakeStore) ClaimNextReady(ctx context.Context, staleProcessing time.Duration) (*domain.StackRun, error) {
	return nil, nil
}
func (f *fakeStore) ClaimSpecific(ctx context.Context, id uuid.UUID) (*domain.StackRun, error) {
	return nil, nil
}
func (f *fakeStore) Suspend(ctx context.Context, stackRunID uuid.UUID, vmState domain.VMState, child store.ChildSpec) (*domain.StackRun, error) {
	f.suspendedChild = &child
	return &domain.StackRun{ID: uuid.New(), ServiceName: child.ServiceName, MethodName: child.MethodName}, nil
}
func (f *fakeStore) Complete(ctx context.Context, stackRunID uuid.UUID, result any) (*uuid.UUID, error) {
	id := stackRunID
	f.completedID = &id
	f.completedResult = result
	return f.completeParent, nil
}
func (f *fakeStore) Fail(ctx context.Context, stackRunID uuid.UUID, failure domain.TaskFailure) (uuid.UUID, error) {
	f.failedFailure = &failure
	return uuid.New(), nil
}
func (f *fakeStore) Get(ctx context.Context, stackRunID uuid.UUID) (*domain.StackRun, error) {
	return nil, nil
}

type fakeRunner struct {
	outcome runner.Outcome
	err     error
}

func (f *fakeRunner) Execute(ctx context.Context, stackRunID uuid.UUID, taskName, code string, input any) (runner.Outcome, error) {
	return f.outcome, f.err
}
func (f *fakeRunner) Resume(ctx context.Context, stackRunID uuid.UUID, code string, vm domain.VMState, resumePayload any) (runner.Outcome, error) {
	return f.outcome, f.err
}

type fakeGateway struct {
	result any
	err    error
	called bool
}

func (f *fakeGateway) Call(ctx context.Context, service, method string, args []any) (any, error) {
	f.called = true
	return f.result, f.err
}

type fakeRegistry struct {
	code string
	ok   bool
}

func (f *fakeRegistry) Lookup(taskName string) (string, bool) { return f.code, f.ok }

type fakeTrigger struct {
	notified []uuid.UUID
}

func (f *fakeTrigger) Notify(ctx context.Context, id uuid.UUID) { f.notified = append(f.notified, id) }
func (f *fakeTrigger) Subscribe(ctx context.Context) <-chan uuid.UUID {
	ch := make(chan uuid.UUID)
	close(ch)
	return ch
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return l
}

func TestDispatcher_RunnerFrameCompletes(t *testing.T) {
	st := &fakeStore{}
	rn := &fakeRunner{outcome: runner.Outcome{Status: runner.OutcomeCompleted, Result: map[string]any{"msg": "hi"}}}
	reg := &fakeRegistry{code: "function(input){return input}", ok: true}
	trig := &fakeTrigger{}
	d := New(newTestLogger(t), st, rn, &fakeGateway{}, reg, trig)

	argsJSON, _ := json.Marshal([]any{"echo", map[string]any{"msg": "hi"}})
	row := &domain.StackRun{
		ID:          uuid.New(),
		ServiceName: domain.ServiceTasks,
		MethodName:  domain.MethodExecute,
		Status:      domain.StackRunProcessing,
		Args:        datatypes.JSON(argsJSON),
	}

	d.Step(context.Background(), row)

	if st.completedID == nil || *st.completedID != row.ID {
		t.Fatalf("expected Complete called for %s", row.ID)
	}
}

func TestDispatcher_RunnerFrameSuspends(t *testing.T) {
	st := &fakeStore{}
	rn := &fakeRunner{outcome: runner.Outcome{
		Status:  runner.OutcomeSuspended,
		VMState: domain.VMState{TaskName: "with_call"},
		Call:    runner.ChildCall{Service: "keystore", Method: "get", Args: []any{"X"}},
	}}
	reg := &fakeRegistry{code: "...", ok: true}
	d := New(newTestLogger(t), st, rn, &fakeGateway{}, reg, &fakeTrigger{})

	argsJSON, _ := json.Marshal([]any{"with_call", map[string]any{}})
	row := &domain.StackRun{
		ID:          uuid.New(),
		ServiceName: domain.ServiceTasks,
		MethodName:  domain.MethodExecute,
		Status:      domain.StackRunProcessing,
		Args:        datatypes.JSON(argsJSON),
	}

	d.Step(context.Background(), row)

	if st.suspendedChild == nil {
		t.Fatalf("expected Suspend called")
	}
	if st.suspendedChild.ServiceName != "keystore" || st.suspendedChild.MethodName != "get" {
		t.Fatalf("unexpected child spec: %+v", st.suspendedChild)
	}
}

func TestDispatcher_GatewayFrameCompletes(t *testing.T) {
	st := &fakeStore{}
	gw := &fakeGateway{result: "v"}
	d := New(newTestLogger(t), st, &fakeRunner{}, gw, &fakeRegistry{}, &fakeTrigger{})

	argsJSON, _ := json.Marshal([]any{"X"})
	row := &domain.StackRun{
		ID:          uuid.New(),
		ServiceName: "keystore",
		MethodName:  "get",
		Status:      domain.StackRunProcessing,
		Args:        datatypes.JSON(argsJSON),
	}

	d.Step(context.Background(), row)

	if !gw.called {
		t.Fatalf("expected gateway Call invoked")
	}
	if st.completedID == nil || st.completedResult != "v" {
		t.Fatalf("expected Complete(%s, \"v\") called, got %+v / %v", row.ID, st.completedID, st.completedResult)
	}
}

func TestDispatcher_GatewayFrameFailsOnTransportError(t *testing.T) {
	st := &fakeStore{}
	gw := &fakeGateway{err: errBoom{}}
	d := New(newTestLogger(t), st, &fakeRunner{}, gw, &fakeRegistry{}, &fakeTrigger{})

	row := &domain.StackRun{
		ID:          uuid.New(),
		ServiceName: "keystore",
		MethodName:  "get",
		Status:      domain.StackRunProcessing,
		Args:        datatypes.JSON([]byte("[]")),
	}

	d.Step(context.Background(), row)

	if st.failedFailure == nil {
		t.Fatalf("expected Fail called")
	}
	if st.failedFailure.Kind != domain.FailureKindModule {
		t.Fatalf("expected module failure kind, got %q", st.failedFailure.Kind)
	}
}

func TestDispatcher_CompleteNotifiesParent(t *testing.T) {
	parentID := uuid.New()
	st := &fakeStore{completeParent: &parentID}
	gw := &fakeGateway{result: "v"}
	trig := &fakeTrigger{}
	d := New(newTestLogger(t), st, &fakeRunner{}, gw, &fakeRegistry{}, trig)

	row := &domain.StackRun{
		ID:          uuid.New(),
		ServiceName: "keystore",
		MethodName:  "get",
		Status:      domain.StackRunProcessing,
		Args:        datatypes.JSON([]byte("[]")),
	}

	d.Step(context.Background(), row)

	if len(trig.notified) != 1 || trig.notified[0] != parentID {
		t.Fatalf("expected self-trigger notify for parent %s, got %+v", parentID, trig.notified)
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
