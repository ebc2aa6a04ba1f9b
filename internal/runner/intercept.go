package runner

import (
	"fmt"
	"reflect"

	"github.com/robertkrimen/otto"

	"github.com/yungbote/stackrun/internal/domain"
	"github.com/yungbote/stackrun/internal/platform/logger"
)

// frame holds one Execute/Resume call's replay state: the persisted
// call history it is replaying against, and — once the replay cursor
// reaches the end — the resume payload waiting to fulfil the pending
// entry.
type frame struct {
	log *logger.Logger

	history []domain.CallRecord
	cursor  int

	resumePayload    any
	hasResumePayload bool
	resumeConsumed   bool
}

// suspendSignal unwinds the otto call stack when a frame hits a call
// with no recorded (or deliverable) result. Recovered at the top of
// Runner.run — otto.Otto.Call offers no other way to interrupt
// mid-execution short of the Interrupt channel, which is reserved for
// deadline enforcement.
type suspendSignal struct {
	service string
	method  string
	args    []any
}

// nondeterministicSignal unwinds the call stack when a replayed
// invocation's (service, method, args) disagrees with the recorded
// entry at the same position, per spec.md §4.3's call-site identity
// rule.
type nondeterministicSignal struct {
	index    int
	expected domain.CallRecord
	observed domain.CallRecord
}

func (s nondeterministicSignal) Error() string {
	return fmt.Sprintf(
		"nondeterministic replay at call #%d: expected %s.%s(%v), observed %s.%s(%v)",
		s.index, s.expected.Service, s.expected.Method, s.expected.Args,
		s.observed.Service, s.observed.Method, s.observed.Args,
	)
}

// bindSandbox installs the controlled surface described in spec.md
// §4.3: a "tools" namespace routed through a single intercept point,
// and a structured logging sink. otto's default globals (Math, Date,
// JSON, string/array methods) already exclude filesystem, network, and
// process access, so no further stripping is needed.
func bindSandbox(vm *otto.Otto, fr *frame) error {
	toolsObj, err := vm.Object(`({})`)
	if err != nil {
		return err
	}
	if err := toolsObj.Set("call", func(call otto.FunctionCall) otto.Value {
		return fr.intercept(vm, call)
	}); err != nil {
		return err
	}
	if err := vm.Set("tools", toolsObj); err != nil {
		return err
	}

	logObj, err := vm.Object(`({})`)
	if err != nil {
		return err
	}
	for _, level := range []string{"info", "warn", "error", "debug"} {
		lvl := level
		if err := logObj.Set(lvl, func(call otto.FunctionCall) otto.Value {
			msg := call.Argument(0).String()
			extra := exportArgs(call)
			if len(extra) > 0 {
				extra = extra[1:]
			}
			handlerLog := fr.log.With("source", "handler")
			switch lvl {
			case "warn":
				handlerLog.Warn(msg, "args", extra)
			case "error":
				handlerLog.Error(msg, "args", extra)
			case "debug":
				handlerLog.Debug(msg, "args", extra)
			default:
				handlerLog.Info(msg, "args", extra)
			}
			return otto.UndefinedValue()
		}); err != nil {
			return err
		}
	}
	return vm.Set("log", logObj)
}

// intercept is the sole point at which handler code reaches the
// outside world (spec.md §4.3). It either replays a recorded result,
// fulfils the pending entry with the resume payload, or suspends the
// frame on a brand-new call.
func (fr *frame) intercept(vm *otto.Otto, call otto.FunctionCall) otto.Value {
	service := call.Argument(0).String()
	method := call.Argument(1).String()
	args := exportArgsValue(call.Argument(2))

	observed := domain.CallRecord{Service: service, Method: method, Args: args}

	if fr.cursor < len(fr.history) {
		recorded := fr.history[fr.cursor]

		if recorded.Service != observed.Service || recorded.Method != observed.Method || !argsEqual(recorded.Args, observed.Args) {
			panic(nondeterministicSignal{index: fr.cursor, expected: recorded, observed: observed})
		}

		if !recorded.Pending {
			fr.cursor++
			v, err := vm.ToValue(recorded.Result)
			if err != nil {
				panic(fmt.Sprintf("runner: could not re-deliver recorded result: %v", err))
			}
			return v
		}

		// The pending entry: fulfil it with the resume payload exactly
		// once, then continue as if it had always been a settled call.
		if !fr.hasResumePayload || fr.resumeConsumed {
			panic(suspendSignal{service: service, method: method, args: args})
		}
		fr.resumeConsumed = true
		fr.history[fr.cursor].Result = fr.resumePayload
		fr.history[fr.cursor].Pending = false
		fr.cursor++
		v, err := vm.ToValue(fr.resumePayload)
		if err != nil {
			panic(fmt.Sprintf("runner: could not deliver resume payload: %v", err))
		}
		return v
	}

	// A genuinely new call: record it as pending and suspend.
	fr.history = append(fr.history, domain.CallRecord{
		Service: service, Method: method, Args: args, Pending: true,
	})
	panic(suspendSignal{service: service, method: method, args: args})
}

func exportArgsValue(v otto.Value) []any {
	exported, err := v.Export()
	if err != nil || exported == nil {
		return nil
	}
	if arr, ok := exported.([]any); ok {
		return arr
	}
	// otto may export a homogeneous array as a concrete slice type
	// (e.g. []string) rather than []any; normalize via reflection.
	rv := reflect.ValueOf(exported)
	if rv.Kind() != reflect.Slice {
		return []any{exported}
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func exportArgs(call otto.FunctionCall) []any {
	out := make([]any, 0, len(call.ArgumentList))
	for _, a := range call.ArgumentList {
		v, err := a.Export()
		if err == nil {
			out = append(out, v)
		}
	}
	return out
}

// argsEqual compares two argument lists the way replay validation
// needs to: structurally, after both sides have passed through a
// JSON-like value model (numbers, strings, bools, nil, []any,
// map[string]any). reflect.DeepEqual is sufficient once both sides
// have been normalized to that shape, which Export() already does for
// otto values and json.Unmarshal already does for persisted ones.
func argsEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !valueEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	an, aok := normalizeNumber(a)
	bn, bok := normalizeNumber(b)
	if aok && bok {
		return an == bn
	}
	return reflect.DeepEqual(a, b)
}

// normalizeNumber collapses the int/int64/float64 distinctions that
// otto's Export() and encoding/json's Unmarshal can disagree on for
// the same logical number.
func normalizeNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
