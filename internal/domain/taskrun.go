// Package domain holds the two durable records at the heart of the
// engine: TaskRun (one per external submission) and StackRun (one per
// call frame), per spec.md §3.
package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TaskRun status values. Terminal statuses are write-once.
const (
	TaskRunQueued     = "queued"
	TaskRunProcessing = "processing"
	TaskRunSuspended  = "suspended"
	TaskRunCompleted  = "completed"
	TaskRunFailed     = "failed"
)

func TaskRunIsTerminal(status string) bool {
	return status == TaskRunCompleted || status == TaskRunFailed
}

// TaskRun is one durable record per external task submission.
type TaskRun struct {
	ID                  uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	TaskName            string         `gorm:"column:task_name;not null;index" json:"task_name"`
	Input               datatypes.JSON `gorm:"column:input;type:jsonb" json:"input"`
	Status              string         `gorm:"column:status;not null;index" json:"status"`
	Result              datatypes.JSON `gorm:"column:result;type:jsonb" json:"result,omitempty"`
	Error               datatypes.JSON `gorm:"column:error;type:jsonb" json:"error,omitempty"`
	WaitingOnStackRunID *uuid.UUID     `gorm:"type:uuid;column:waiting_on_stack_run_id" json:"waiting_on_stack_run_id,omitempty"`
	// OwnerRef is an opaque external-caller correlation id; the core is
	// agnostic to what it means (see SPEC_FULL.md §3.1).
	OwnerRef  string         `gorm:"column:owner_ref;index" json:"owner_ref,omitempty"`
	CreatedAt time.Time      `gorm:"column:created_at;not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at;not null" json:"updated_at"`
	EndedAt   *time.Time     `gorm:"column:ended_at" json:"ended_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (TaskRun) TableName() string { return "task_runs" }

// TaskFailure is the structured payload stored in TaskRun.Error,
// per spec.md §7.
type TaskFailure struct {
	Kind             string `json:"kind"`
	Message          string `json:"message"`
	FailedStackRunID string `json:"failed_stack_run_id,omitempty"`
	Cause            any    `json:"cause,omitempty"`
}

const (
	FailureKindHandler     = "handler"
	FailureKindModule      = "module"
	FailureKindTimeout     = "timeout"
	FailureKindNonDeterm   = "nondeterministic_replay"
	FailureKindInternal    = "internal"
	FailureKindOrphan      = "missing_parent"
	FailureKindChildFailed = "child_failed"
)
