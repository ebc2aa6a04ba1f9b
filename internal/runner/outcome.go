package runner

import "github.com/yungbote/stackrun/internal/domain"

// Outcome statuses, matching the three reactions the Dispatcher takes
// after driving a frame (spec.md §4.2): complete, suspend, fail.
const (
	OutcomeCompleted = "completed"
	OutcomeSuspended = "suspended"
	OutcomeFailed    = "failed"
)

// ChildCall is the external call a suspended frame is blocked on —
// what the Dispatcher turns into a new stack_runs child row via
// store.Suspend.
type ChildCall struct {
	Service string
	Method  string
	Args    []any
}

// Outcome is what Execute/Resume returns: exactly one of Result (on
// Completed), VMState+Call (on Suspended), or Failure (on Failed) is
// populated.
type Outcome struct {
	Status  string
	Result  any
	VMState domain.VMState
	Call    ChildCall
	Failure domain.TaskFailure
}
