package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/stackrun/internal/domain"
	"github.com/yungbote/stackrun/internal/http/response"
)

// TaskRuns is the slice of *store.Store a handler needs, declared
// narrow so handler tests can fake it, mirroring the teacher's
// services.JobService dependency shape.
type TaskRuns interface {
	CreateTaskRun(ctx context.Context, taskName string, input any, ownerRef string) (*domain.TaskRun, *domain.StackRun, error)
	GetTaskRun(ctx context.Context, id uuid.UUID) (*domain.TaskRun, error)
}

type TaskRunHandler struct {
	tasks TaskRuns
}

func NewTaskRunHandler(tasks TaskRuns) *TaskRunHandler {
	return &TaskRunHandler{tasks: tasks}
}

type submitTaskRunRequest struct {
	TaskName string `json:"task_name" binding:"required"`
	Input    any    `json:"input"`
	OwnerRef string `json:"owner_ref"`
}

type submitTaskRunResponse struct {
	TaskRunID string `json:"task_run_id"`
}

// POST /api/task-runs
func (h *TaskRunHandler) Submit(c *gin.Context) {
	var req submitTaskRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	task, _, err := h.tasks.CreateTaskRun(c.Request.Context(), req.TaskName, req.Input, req.OwnerRef)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "create_task_run_failed", err)
		return
	}

	response.RespondCreated(c, submitTaskRunResponse{TaskRunID: task.ID.String()})
}

// GET /api/task-runs/:id
func (h *TaskRunHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_task_run_id", err)
		return
	}

	task, err := h.tasks.GetTaskRun(c.Request.Context(), id)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "get_task_run_failed", err)
		return
	}
	if task == nil {
		response.RespondError(c, http.StatusNotFound, "task_run_not_found", errors.New("task run not found"))
		return
	}

	response.RespondOK(c, task)
}
