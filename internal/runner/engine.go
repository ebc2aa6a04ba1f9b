// Package runner is the Sandboxed Runner of spec.md §4.3: it executes
// untrusted task handler code and intercepts every external-call
// attempt, replaying recorded results on resume and turning the first
// unmet call into a suspension request.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robertkrimen/otto"

	"github.com/yungbote/stackrun/internal/domain"
	"github.com/yungbote/stackrun/internal/platform/logger"
)

// Runner drives a fresh otto VM per Execute/Resume call — there is no
// persisted interpreter state between calls, only the JSON
// continuation record (domain.VMState). This is the "intercept and
// replay" substitute for snapshotting an interpreter, per spec.md §9.
type Runner struct {
	log      *logger.Logger
	deadline time.Duration
}

func New(log *logger.Logger, deadline time.Duration) *Runner {
	return &Runner{log: log.With("component", "Runner"), deadline: deadline}
}

// Execute runs a handler for the first time: no call history yet.
func (r *Runner) Execute(ctx context.Context, stackRunID uuid.UUID, taskName, code string, input any) (Outcome, error) {
	return r.run(ctx, stackRunID, taskName, code, input, nil, nil, false)
}

// Resume re-enters a suspended frame: call_history replays up to the
// pending entry, which is then fulfilled with resumePayload.
func (r *Runner) Resume(ctx context.Context, stackRunID uuid.UUID, code string, vm domain.VMState, resumePayload any) (Outcome, error) {
	return r.run(ctx, stackRunID, vm.TaskName, code, vm.TaskInput, vm.CallHistory, resumePayload, true)
}

func (r *Runner) run(
	ctx context.Context,
	stackRunID uuid.UUID,
	taskName, code string,
	input any,
	history []domain.CallRecord,
	resumePayload any,
	hasResumePayload bool,
) (outcome Outcome, err error) {
	fr := &frame{
		log:               r.log.With("stack_run_id", stackRunID, "task_name", taskName),
		history:           append([]domain.CallRecord(nil), history...),
		cursor:            0,
		resumePayload:     resumePayload,
		hasResumePayload:  hasResumePayload,
		resumeConsumed:    false,
	}

	defer func() {
		if rec := recover(); rec != nil {
			switch sig := rec.(type) {
			case suspendSignal:
				outcome = Outcome{
					Status: OutcomeSuspended,
					VMState: domain.VMState{
						TaskCode:    code,
						TaskName:    taskName,
						TaskInput:   input,
						CallHistory: fr.history,
					},
					Call: ChildCall{Service: sig.service, Method: sig.method, Args: sig.args},
				}
				err = nil
			case nondeterministicSignal:
				outcome = Outcome{
					Status: OutcomeFailed,
					Failure: domain.TaskFailure{
						Kind:    domain.FailureKindNonDeterm,
						Message: sig.Error(),
					},
				}
				err = nil
			case timeoutSignal:
				outcome = Outcome{
					Status: OutcomeFailed,
					Failure: domain.TaskFailure{
						Kind:    domain.FailureKindTimeout,
						Message: "runner exceeded deadline",
					},
				}
				err = nil
			default:
				outcome = Outcome{
					Status: OutcomeFailed,
					Failure: domain.TaskFailure{
						Kind:    domain.FailureKindInternal,
						Message: fmt.Sprintf("runner panic: %v", rec),
					},
				}
				err = nil
			}
		}
	}()

	vm := otto.New()
	if r.deadline > 0 {
		vm.Interrupt = make(chan func(), 1)
		deadlineCtx, cancel := context.WithTimeout(ctx, r.deadline)
		defer cancel()
		go func() {
			<-deadlineCtx.Done()
			if deadlineCtx.Err() == context.DeadlineExceeded {
				vm.Interrupt <- func() {
					panic(timeoutSignal{})
				}
			}
		}()
	}

	if err := bindSandbox(vm, fr); err != nil {
		return Outcome{Status: OutcomeFailed, Failure: domain.TaskFailure{
			Kind: domain.FailureKindInternal, Message: "sandbox setup failed: " + err.Error(),
		}}, nil
	}

	rewritten := rewriteToolCalls(code)
	if _, runErr := vm.Run(rewritten); runErr != nil {
		return handlerError(runErr), nil
	}

	handleFn, getErr := vm.Get("handle")
	if getErr != nil || !handleFn.IsFunction() {
		return Outcome{Status: OutcomeFailed, Failure: domain.TaskFailure{
			Kind: domain.FailureKindHandler, Message: "task code must define function handle(input)",
		}}, nil
	}

	inputVal, convErr := vm.ToValue(input)
	if convErr != nil {
		return Outcome{Status: OutcomeFailed, Failure: domain.TaskFailure{
			Kind: domain.FailureKindInternal, Message: "could not convert input: " + convErr.Error(),
		}}, nil
	}

	result, callErr := handleFn.Call(otto.NullValue(), inputVal)
	if callErr != nil {
		return handlerError(callErr), nil
	}

	exported, exportErr := result.Export()
	if exportErr != nil {
		return Outcome{Status: OutcomeFailed, Failure: domain.TaskFailure{
			Kind: domain.FailureKindInternal, Message: "could not export result: " + exportErr.Error(),
		}}, nil
	}

	return Outcome{Status: OutcomeCompleted, Result: exported}, nil
}

func handlerError(err error) Outcome {
	msg := err.Error()
	if oerr, ok := err.(*otto.Error); ok {
		msg = oerr.String()
	}
	return Outcome{Status: OutcomeFailed, Failure: domain.TaskFailure{
		Kind:    domain.FailureKindHandler,
		Message: msg,
	}}
}

// timeoutSignal is panicked through otto's Interrupt channel, the only
// way to break out of an uninterruptible vm.Call per otto's own docs.
type timeoutSignal struct{}

func (timeoutSignal) Error() string { return "runner exceeded deadline" }
