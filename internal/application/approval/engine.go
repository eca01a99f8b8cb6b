// Package approval implements the multi-step approval workflow engine.
package approval

import (
	"context"
	"encoding/json"

	"github.com/garyjia/booking-orchestrator/internal/domain/entity"
)

// CreateRequest describes a new approval workflow. The requester is the caller.
type CreateRequest struct {
	RequestType string                  `json:"request_type"`
	RequestID   string                  `json:"request_id"`
	Priority    string                  `json:"priority"`
	RequestData json.RawMessage         `json:"request_data,omitempty"`
	Steps       []entity.StepDefinition `json:"steps"`
}

// DecideRequest records one approver's verdict on a step
type DecideRequest struct {
	WorkflowID    int64  `json:"-"`
	StepID        int64  `json:"-"`
	Verdict       string `json:"verdict"`
	Comments      string `json:"comments,omitempty"`
	ApproverNotes string `json:"approver_notes,omitempty"`
}

// ListRequest filters workflow listings. RequesterID other than the caller
// requires the workflow override permission.
type ListRequest struct {
	RequesterID string
	Status      string
	Limit       int
	Offset      int
}

// Engine routes requests through ordered approver chains
type Engine interface {
	// Create validates the step chain and persists the workflow with every step PENDING
	Create(ctx context.Context, caller entity.Caller, req CreateRequest) (*entity.ApprovalWorkflow, error)

	// DecideStep applies a verdict to the active step and advances the workflow atomically
	DecideStep(ctx context.Context, caller entity.Caller, req DecideRequest) (*entity.ApprovalWorkflow, error)

	// Cancel moves an open workflow to CANCELLED
	Cancel(ctx context.Context, caller entity.Caller, workflowID int64, reason string) (*entity.ApprovalWorkflow, error)

	// Get returns the workflow with its steps
	Get(ctx context.Context, caller entity.Caller, workflowID int64) (*entity.ApprovalWorkflow, error)

	List(ctx context.Context, caller entity.Caller, req ListRequest) ([]*entity.ApprovalWorkflow, error)

	// ListPending returns open workflows whose active step waits on the caller
	ListPending(ctx context.Context, caller entity.Caller, limit, offset int) ([]*entity.ApprovalWorkflow, error)

	History(ctx context.Context, caller entity.Caller, workflowID int64) ([]*entity.TransitionRecord, error)
}
