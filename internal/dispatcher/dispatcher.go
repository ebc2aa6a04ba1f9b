// Package dispatcher is the Dispatcher component of spec.md §4.2: it
// claims a ready stack run, drives it through the Sandboxed Runner or
// the Module Gateway, reacts by completing/suspending/failing it via
// the Continuation Store, and self-triggers the parent it unblocked.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/stackrun/internal/domain"
	"github.com/yungbote/stackrun/internal/platform/logger"
	"github.com/yungbote/stackrun/internal/runner"
	"github.com/yungbote/stackrun/internal/store"
)

// Store is the slice of *store.Store the Dispatcher needs. Declared
// here as a narrow interface so dispatcher tests can fake it, matching
// the teacher's pattern of depending on repos.JobRunRepo rather than a
// concrete type.
type Store interface {
	ClaimNextReady(ctx context.Context, staleProcessing time.Duration) (*domain.StackRun, error)
	ClaimSpecific(ctx context.Context, id uuid.UUID) (*domain.StackRun, error)
	Suspend(ctx context.Context, stackRunID uuid.UUID, vmState domain.VMState, child store.ChildSpec) (*domain.StackRun, error)
	Complete(ctx context.Context, stackRunID uuid.UUID, result any) (*uuid.UUID, error)
	Fail(ctx context.Context, stackRunID uuid.UUID, failure domain.TaskFailure) (uuid.UUID, error)
	Get(ctx context.Context, stackRunID uuid.UUID) (*domain.StackRun, error)
}

// Runner is the Sandboxed Runner contract the Dispatcher drives
// service=="tasks" method=="execute" frames through.
type Runner interface {
	Execute(ctx context.Context, stackRunID uuid.UUID, taskName, code string, input any) (runner.Outcome, error)
	Resume(ctx context.Context, stackRunID uuid.UUID, code string, vm domain.VMState, resumePayload any) (runner.Outcome, error)
}

// Gateway is the Module Gateway contract the Dispatcher drives every
// other (service, method) frame through.
type Gateway interface {
	Call(ctx context.Context, service, method string, args []any) (any, error)
}

// CodeRegistry resolves a task name to its source, used only on a
// fresh (non-resume) execute — resumes carry their own code in the
// persisted continuation.
type CodeRegistry interface {
	Lookup(taskName string) (string, bool)
}

// Trigger is the self-trigger transport (SPEC_FULL.md §4.2.1): an
// advisory, fire-and-forget nudge that a specific stack run is now
// claimable. Losing a trigger must never lose forward progress — the
// Dispatcher's ticker-driven poll is the backstop.
type Trigger interface {
	Notify(ctx context.Context, stackRunID uuid.UUID)
	Subscribe(ctx context.Context) <-chan uuid.UUID
}

// Metrics is the narrow slice of *observability.Metrics the Dispatcher
// reports against, per SPEC_FULL.md §6.2. Nil-safe: a Dispatcher
// without metrics wired simply doesn't record any.
type Metrics interface {
	IncDispatchCycle()
	ObserveStep(outcome string, seconds float64)
	IncStackRun(status string)
	IncTaskRun(status string)
}

type noopMetrics struct{}

func (noopMetrics) IncDispatchCycle()                           {}
func (noopMetrics) ObserveStep(outcome string, seconds float64) {}
func (noopMetrics) IncStackRun(status string)                   {}
func (noopMetrics) IncTaskRun(status string)                    {}

type Dispatcher struct {
	log      *logger.Logger
	store    Store
	runr     Runner
	gateway  Gateway
	registry CodeRegistry
	trigger  Trigger
	metrics  Metrics
	tracer   trace.Tracer

	staleProcessing time.Duration
	deadline        time.Duration
	pollInterval    time.Duration
}

type Option func(*Dispatcher)

func WithStaleProcessing(d time.Duration) Option { return func(x *Dispatcher) { x.staleProcessing = d } }
func WithDeadline(d time.Duration) Option        { return func(x *Dispatcher) { x.deadline = d } }
func WithPollInterval(d time.Duration) Option    { return func(x *Dispatcher) { x.pollInterval = d } }
func WithMetrics(m Metrics) Option                { return func(x *Dispatcher) { x.metrics = m } }
func WithTracer(t trace.Tracer) Option            { return func(x *Dispatcher) { x.tracer = t } }

func New(log *logger.Logger, st Store, r Runner, gw Gateway, reg CodeRegistry, trig Trigger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		log:             log.With("component", "Dispatcher"),
		store:           st,
		runr:            r,
		gateway:         gw,
		registry:        reg,
		trigger:         trig,
		metrics:         noopMetrics{},
		tracer:          trace.NewNoopTracerProvider().Tracer("dispatcher"),
		staleProcessing: 5 * time.Minute,
		deadline:        180 * time.Second,
		pollInterval:    1 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// spanContextFromTraceParent decodes the W3C traceparent persisted on
// a stack run's root back into a SpanContext, so Step can reopen a
// span parented by the task run's root span even though that root
// span closed, possibly in a different process, the moment it was
// created.
func spanContextFromTraceParent(tp string) trace.SpanContext {
	if tp == "" {
		return trace.SpanContext{}
	}
	carrier := propagation.MapCarrier{"traceparent": tp}
	remoteCtx := propagation.TraceContext{}.Extract(context.Background(), carrier)
	return trace.SpanContextFromContext(remoteCtx)
}

// Step runs exactly one dispatch cycle against a specific claimed
// stack run: read continuation, drive it, react. Exported separately
// from the polling loop so tests can exercise the algorithm directly
// against a single row without a goroutine/ticker in the way.
func (d *Dispatcher) Step(ctx context.Context, row *domain.StackRun) {
	spanCtx := ctx
	if sc := spanContextFromTraceParent(row.TraceParent); sc.IsValid() {
		spanCtx = trace.ContextWithRemoteSpanContext(ctx, sc)
	}
	ctx, span := d.tracer.Start(spanCtx, "dispatcher.step", trace.WithAttributes(
		attribute.String("stack_run_id", row.ID.String()),
		attribute.String("parent_task_run_id", row.ParentTaskRunID.String()),
		attribute.String("service", row.ServiceName),
		attribute.String("method", row.MethodName),
	))
	defer span.End()

	start := time.Now()
	outcomeLabel := "failed"
	d.metrics.IncDispatchCycle()
	defer func() {
		d.metrics.ObserveStep(outcomeLabel, time.Since(start).Seconds())
		if r := recover(); r != nil {
			span.RecordError(fmt.Errorf("panic: %v", r))
			span.SetStatus(codes.Error, "panic")
			d.log.Error("dispatch step panic", "stack_run_id", row.ID, "panic", r)
			d.reactFailed(ctx, row.ID, domain.TaskFailure{
				Kind:    domain.FailureKindInternal,
				Message: fmt.Sprintf("panic: %v", r),
			})
		}
	}()

	if row.ServiceName == domain.ServiceTasks && row.MethodName == domain.MethodExecute {
		d.stepRunnerFrame(ctx, row)
	} else {
		d.stepGatewayFrame(ctx, row)
	}
	outcomeLabel = "ok"
	span.SetStatus(codes.Ok, "")
}

func (d *Dispatcher) stepRunnerFrame(ctx context.Context, row *domain.StackRun) {
	var outcome runner.Outcome
	var err error

	if row.Status == domain.StackRunProcessing && len(row.VMState) == 0 {
		// Fresh execute: decode [task_name, input] from args.
		var args [2]json.RawMessage
		if decErr := json.Unmarshal(row.Args, &args); decErr != nil {
			d.reactFailed(ctx, row.ID, domain.TaskFailure{
				Kind: domain.FailureKindInternal, Message: "malformed root args: " + decErr.Error(),
			})
			return
		}
		var taskName string
		if decErr := json.Unmarshal(args[0], &taskName); decErr != nil {
			d.reactFailed(ctx, row.ID, domain.TaskFailure{
				Kind: domain.FailureKindInternal, Message: "malformed task name: " + decErr.Error(),
			})
			return
		}
		var input any
		if len(args[1]) > 0 {
			_ = json.Unmarshal(args[1], &input)
		}
		code, ok := d.registry.Lookup(taskName)
		if !ok {
			d.reactFailed(ctx, row.ID, domain.TaskFailure{
				Kind: domain.FailureKindInternal, Message: "no handler registered for task " + taskName,
			})
			return
		}
		outcome, err = d.runr.Execute(ctx, row.ID, taskName, code, input)
	} else {
		// Resume: continuation carries its own code and call history.
		var vm domain.VMState
		if decErr := json.Unmarshal(row.VMState, &vm); decErr != nil {
			d.reactFailed(ctx, row.ID, domain.TaskFailure{
				Kind: domain.FailureKindInternal, Message: "malformed vm_state: " + decErr.Error(),
			})
			return
		}
		var resumePayload any
		if len(row.ResumePayload) > 0 {
			_ = json.Unmarshal(row.ResumePayload, &resumePayload)
		}
		outcome, err = d.runr.Resume(ctx, row.ID, vm.TaskCode, vm, resumePayload)
	}

	if err != nil {
		d.reactFailed(ctx, row.ID, domain.TaskFailure{Kind: domain.FailureKindInternal, Message: err.Error()})
		return
	}
	d.react(ctx, row, outcome)
}

func (d *Dispatcher) stepGatewayFrame(ctx context.Context, row *domain.StackRun) {
	var args []any
	if len(row.Args) > 0 {
		if err := json.Unmarshal(row.Args, &args); err != nil {
			d.reactFailed(ctx, row.ID, domain.TaskFailure{
				Kind: domain.FailureKindInternal, Message: "malformed call args: " + err.Error(),
			})
			return
		}
	}
	result, err := d.gateway.Call(ctx, row.ServiceName, row.MethodName, args)
	if err != nil {
		d.reactFailed(ctx, row.ID, domain.TaskFailure{
			Kind: domain.FailureKindModule, Message: err.Error(), FailedStackRunID: row.ID.String(),
		})
		return
	}
	d.reactCompleted(ctx, row.ID, result)
}

func (d *Dispatcher) react(ctx context.Context, row *domain.StackRun, outcome runner.Outcome) {
	switch outcome.Status {
	case runner.OutcomeCompleted:
		d.reactCompleted(ctx, row.ID, outcome.Result)
	case runner.OutcomeSuspended:
		child := store.ChildSpec{
			ServiceName: outcome.Call.Service,
			MethodName:  outcome.Call.Method,
			Args:        outcome.Call.Args,
		}
		if d.deadline > 0 {
			dl := time.Now().UTC().Add(d.deadline)
			child.Deadline = &dl
		}
		if _, err := d.store.Suspend(ctx, row.ID, outcome.VMState, child); err != nil {
			d.log.Error("suspend failed", "stack_run_id", row.ID, "error", err)
			return
		}
		d.metrics.IncStackRun(domain.StackRunSuspendedWaitingChild)
		d.log.Debug("frame suspended", "stack_run_id", row.ID, "service", child.ServiceName, "method", child.MethodName)
	case runner.OutcomeFailed:
		d.reactFailed(ctx, row.ID, outcome.Failure)
	default:
		d.reactFailed(ctx, row.ID, domain.TaskFailure{
			Kind: domain.FailureKindInternal, Message: "runner returned unknown outcome status " + outcome.Status,
		})
	}
}

func (d *Dispatcher) reactCompleted(ctx context.Context, stackRunID uuid.UUID, result any) {
	parentID, err := d.store.Complete(ctx, stackRunID, result)
	if err != nil {
		d.log.Error("complete failed", "stack_run_id", stackRunID, "error", err)
		return
	}
	d.metrics.IncStackRun(domain.StackRunCompleted)
	if parentID != nil {
		d.trigger.Notify(ctx, *parentID)
	} else {
		d.metrics.IncTaskRun(domain.TaskRunCompleted)
	}
}

func (d *Dispatcher) reactFailed(ctx context.Context, stackRunID uuid.UUID, failure domain.TaskFailure) {
	if _, err := d.store.Fail(ctx, stackRunID, failure); err != nil {
		d.log.Error("fail failed", "stack_run_id", stackRunID, "error", err)
		return
	}
	d.metrics.IncStackRun(domain.StackRunFailed)
}
