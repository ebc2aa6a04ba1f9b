package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// StackRun status values, per spec.md §3/§4.1.1.
const (
	StackRunPending                = "pending"
	StackRunProcessing             = "processing"
	StackRunSuspendedWaitingChild  = "suspended_waiting_child"
	StackRunPendingResume          = "pending_resume"
	StackRunCompleted              = "completed"
	StackRunFailed                 = "failed"
)

// ServiceTasks is the reserved service name for nested task invocation
// (spec.md §4.3 "Nested task invocation"); every other service name is
// routed to the Module Gateway.
const ServiceTasks = "tasks"
const MethodExecute = "execute"

func StackRunIsClaimable(status string) bool {
	return status == StackRunPending || status == StackRunPendingResume
}

func StackRunIsTerminal(status string) bool {
	return status == StackRunCompleted || status == StackRunFailed
}

// StackRun is one durable record per call frame in the dynamic tree.
type StackRun struct {
	ID                  uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ParentTaskRunID      uuid.UUID      `gorm:"type:uuid;column:parent_task_run_id;not null;index" json:"parent_task_run_id"`
	ParentStackRunID     *uuid.UUID     `gorm:"type:uuid;column:parent_stack_run_id;index" json:"parent_stack_run_id,omitempty"`
	ServiceName          string         `gorm:"column:service_name;not null" json:"service_name"`
	MethodName           string         `gorm:"column:method_name;not null" json:"method_name"`
	Args                 datatypes.JSON `gorm:"column:args;type:jsonb" json:"args"`
	Status               string         `gorm:"column:status;not null;index" json:"status"`
	Result               datatypes.JSON `gorm:"column:result;type:jsonb" json:"result,omitempty"`
	Error                datatypes.JSON `gorm:"column:error;type:jsonb" json:"error,omitempty"`
	VMState              datatypes.JSON `gorm:"column:vm_state;type:jsonb" json:"vm_state,omitempty"`
	ResumePayload        datatypes.JSON `gorm:"column:resume_payload;type:jsonb" json:"resume_payload,omitempty"`
	WaitingOnStackRunID  *uuid.UUID     `gorm:"type:uuid;column:waiting_on_stack_run_id;index" json:"waiting_on_stack_run_id,omitempty"`
	Attempts             int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastErrorAt          *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	HeartbeatAt          *time.Time     `gorm:"column:heartbeat_at" json:"heartbeat_at,omitempty"`
	Deadline             *time.Time     `gorm:"column:deadline" json:"deadline,omitempty"`
	TraceParent          string         `gorm:"column:trace_parent" json:"trace_parent,omitempty"`
	CreatedAt            time.Time      `gorm:"column:created_at;not null;index" json:"created_at"`
	UpdatedAt            time.Time      `gorm:"column:updated_at;not null" json:"updated_at"`
	EndedAt              *time.Time     `gorm:"column:ended_at" json:"ended_at,omitempty"`
	DeletedAt            gorm.DeletedAt `gorm:"index" json:"-"`
}

func (StackRun) TableName() string { return "stack_runs" }

// CallRecord is one entry of a continuation's call_history: a prior
// external call made by this frame together with the result it
// observed, used to drive replay-based resume (spec.md §4.3).
type CallRecord struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
	Result  any    `json:"result,omitempty"`
	Error   any    `json:"error,omitempty"`
	// Pending marks the call at the tail of call_history whose result
	// has not yet been delivered — the call that caused this frame to
	// suspend. At most one entry, always the last, is ever pending.
	Pending bool `json:"pending,omitempty"`
}

// VMState is the continuation captured at suspension: everything a
// Runner needs to re-enter the frame by replay, per spec.md §3/§4.3.
type VMState struct {
	TaskCode    string         `json:"task_code"`
	TaskName    string         `json:"task_name"`
	TaskInput   any            `json:"task_input"`
	CallHistory []CallRecord   `json:"call_history"`
	Scratch     map[string]any `json:"scratch,omitempty"`
}
