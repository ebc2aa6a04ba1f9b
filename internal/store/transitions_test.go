package store

import (
	"testing"

	"github.com/yungbote/stackrun/internal/domain"
)

func TestAllowedFromStatuses(t *testing.T) {
	cases := []struct {
		to   string
		from []string
	}{
		{domain.StackRunPending, nil},
		{domain.StackRunProcessing, []string{domain.StackRunPending, domain.StackRunPendingResume}},
		{domain.StackRunSuspendedWaitingChild, []string{domain.StackRunProcessing}},
		{domain.StackRunPendingResume, []string{domain.StackRunSuspendedWaitingChild}},
		{domain.StackRunCompleted, []string{domain.StackRunPending, domain.StackRunProcessing}},
		{domain.StackRunFailed, []string{domain.StackRunPending, domain.StackRunProcessing, domain.StackRunSuspendedWaitingChild}},
	}

	for _, tc := range cases {
		got := allowedFromStatuses(tc.to)
		if len(got) != len(tc.from) {
			t.Fatalf("to=%q: expected %d predecessors, got %d (%v)", tc.to, len(tc.from), len(got), got)
		}
		want := map[string]bool{}
		for _, s := range tc.from {
			want[s] = true
		}
		for _, s := range got {
			if !want[s] {
				t.Fatalf("to=%q: unexpected predecessor %q", tc.to, s)
			}
		}
	}
}

func TestFailureNeverResurrectsSiblings(t *testing.T) {
	// completed and failed are both terminal: neither appears as a
	// predecessor of any other status, so a sibling that already
	// completed can never be dragged back into a live status by an
	// unrelated ancestor's failure walk.
	for to, from := range stackRunTransitions {
		for _, f := range from {
			if f == domain.StackRunCompleted || f == domain.StackRunFailed {
				t.Fatalf("status %q lists terminal status %q as a legal predecessor", to, f)
			}
		}
	}
}
