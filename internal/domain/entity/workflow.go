package entity

import (
	"encoding/json"
	"time"
)

// ApprovalWorkflow routes one business request through an ordered chain of approvers.
//
// CurrentStep always points at the lowest-ordered step that is still open
// (PENDING or IN_PROGRESS) until the workflow reaches a terminal status.
type ApprovalWorkflow struct {
	ID                 int64           `json:"id"`
	RequestType        string          `json:"request_type"`
	RequestID          string          `json:"request_id"`
	RequesterID        string          `json:"requester_id"`
	TotalSteps         int             `json:"total_steps"`
	CurrentStep        int             `json:"current_step"`
	Status             string          `json:"status"`
	Priority           string          `json:"priority"`
	RequestData        json.RawMessage `json:"request_data,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	Version            int64           `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`

	Steps []*WorkflowStep `json:"steps,omitempty"`
}

// IsTerminal reports whether the workflow is APPROVED, REJECTED or CANCELLED
func (w *ApprovalWorkflow) IsTerminal() bool {
	switch w.Status {
	case WorkflowStatusApproved, WorkflowStatusRejected, WorkflowStatusCancelled:
		return true
	}
	return false
}

// WorkflowStep is one approver's decision point within a workflow
type WorkflowStep struct {
	ID            int64      `json:"id"`
	WorkflowID    int64      `json:"workflow_id"`
	StepOrder     int        `json:"step_order"`
	ApproverID    string     `json:"approver_id,omitempty"`
	IsOptional    bool       `json:"is_optional"`
	Status        string     `json:"status"`
	Comments      string     `json:"comments,omitempty"`
	ApproverNotes string     `json:"approver_notes,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	ProcessedBy   string     `json:"processed_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsOpen reports whether the step still awaits a decision
func (s *WorkflowStep) IsOpen() bool {
	return s.Status == StepStatusPending || s.Status == StepStatusInProgress
}

// StepDefinition describes a step at workflow creation time
type StepDefinition struct {
	ApproverID string `json:"approver_id,omitempty"`
	IsOptional bool   `json:"is_optional"`
}
