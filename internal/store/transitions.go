package store

import "github.com/yungbote/stackrun/internal/domain"

// stackRunTransitions is the status transition table from spec.md
// §4.1.1, expressed as allowed-predecessors per target status. The
// store is the only component permitted to write stack_runs.status.
// StackRunRepo.UpdateStatus guards every write with
// allowedFromStatuses, so an illegal transition updates no row and is
// reported as rejected; the claims use the same predecessors. The
// ClaimNextReady janitor pass is the exception: it moves stale
// processing rows back to pending, an edge not listed here.
var stackRunTransitions = map[string][]string{
	domain.StackRunPending:               {}, // initial only
	domain.StackRunProcessing:            {domain.StackRunPending, domain.StackRunPendingResume},
	domain.StackRunSuspendedWaitingChild: {domain.StackRunProcessing},
	domain.StackRunPendingResume:         {domain.StackRunSuspendedWaitingChild},
	domain.StackRunCompleted:             {domain.StackRunPending, domain.StackRunProcessing},
	domain.StackRunFailed:                {domain.StackRunPending, domain.StackRunProcessing, domain.StackRunSuspendedWaitingChild},
}

// allowedFromStatuses returns the set of predecessor statuses a write
// to `to` may legally originate from. Used to build a `WHERE status IN
// (...)` guard so concurrent writers can never race past an illegal
// edge.
func allowedFromStatuses(to string) []string {
	return stackRunTransitions[to]
}
