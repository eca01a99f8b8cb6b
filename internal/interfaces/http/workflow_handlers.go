package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/booking-orchestrator/internal/application/approval"
)

// CancelRequest carries an optional cancellation reason
type CancelRequest struct {
	Reason string `json:"reason"`
}

// CreateWorkflow handles POST /api/v1/workflows
func (h *Handlers) CreateWorkflow(c *gin.Context) {
	var req approval.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	wf, err := h.deps.Workflows.Create(c.Request.Context(), callerFrom(c), req)
	if err != nil {
		h.fail(c, "create workflow", err)
		return
	}
	h.ok(c, http.StatusCreated, wf)
}

// ListWorkflows handles GET /api/v1/workflows
func (h *Handlers) ListWorkflows(c *gin.Context) {
	var page Page
	if err := c.ShouldBindQuery(&page); err != nil {
		h.badRequest(c, "invalid query parameters")
		return
	}
	page.normalize()

	workflows, err := h.deps.Workflows.List(c.Request.Context(), callerFrom(c), approval.ListRequest{
		RequesterID: c.Query("requester_id"),
		Status:      page.Status,
		Limit:       page.Limit,
		Offset:      page.Offset,
	})
	if err != nil {
		h.fail(c, "list workflows", err)
		return
	}
	h.ok(c, http.StatusOK, workflows)
}

// ListPendingWorkflows handles GET /api/v1/workflows/pending
func (h *Handlers) ListPendingWorkflows(c *gin.Context) {
	var page Page
	if err := c.ShouldBindQuery(&page); err != nil {
		h.badRequest(c, "invalid query parameters")
		return
	}
	page.normalize()

	workflows, err := h.deps.Workflows.ListPending(c.Request.Context(), callerFrom(c), page.Limit, page.Offset)
	if err != nil {
		h.fail(c, "list pending workflows", err)
		return
	}
	h.ok(c, http.StatusOK, workflows)
}

// GetWorkflow handles GET /api/v1/workflows/:id
func (h *Handlers) GetWorkflow(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.badRequest(c, "invalid workflow ID")
		return
	}

	wf, err := h.deps.Workflows.Get(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		h.fail(c, "get workflow", err)
		return
	}
	h.ok(c, http.StatusOK, wf)
}

// WorkflowHistory handles GET /api/v1/workflows/:id/history
func (h *Handlers) WorkflowHistory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.badRequest(c, "invalid workflow ID")
		return
	}

	records, err := h.deps.Workflows.History(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		h.fail(c, "workflow history", err)
		return
	}
	h.ok(c, http.StatusOK, records)
}

// DecideStep handles POST /api/v1/workflows/:id/steps/:stepId/decision
func (h *Handlers) DecideStep(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok {
		h.badRequest(c, "invalid workflow ID")
		return
	}
	stepID, ok := pathID(c, "stepId")
	if !ok {
		h.badRequest(c, "invalid step ID")
		return
	}

	var req approval.DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	req.WorkflowID = workflowID
	req.StepID = stepID

	wf, err := h.deps.Workflows.DecideStep(c.Request.Context(), callerFrom(c), req)
	if err != nil {
		h.fail(c, "decide step", err)
		return
	}
	h.ok(c, http.StatusOK, wf)
}

// CancelWorkflow handles POST /api/v1/workflows/:id/cancel
func (h *Handlers) CancelWorkflow(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.badRequest(c, "invalid workflow ID")
		return
	}

	var req CancelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, "invalid request body")
			return
		}
	}

	wf, err := h.deps.Workflows.Cancel(c.Request.Context(), callerFrom(c), id, req.Reason)
	if err != nil {
		h.fail(c, "cancel workflow", err)
		return
	}
	h.ok(c, http.StatusOK, wf)
}
