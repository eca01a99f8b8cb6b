package approval

import (
	"github.com/garyjia/booking-orchestrator/internal/domain/entity"
	"github.com/garyjia/booking-orchestrator/internal/domain/fsm"
)

// Workflow triggers
const (
	TriggerAdvance  fsm.Trigger = "advance"
	TriggerComplete fsm.Trigger = "complete"
	TriggerReject   fsm.Trigger = "reject"
	TriggerCancel   fsm.Trigger = "cancel"
)

// Step triggers
const (
	TriggerApproveStep fsm.Trigger = "approve"
	TriggerRejectStep  fsm.Trigger = "reject"
	TriggerSkipStep    fsm.Trigger = "skip"
)

var (
	workflowPending    = fsm.State(entity.WorkflowStatusPending)
	workflowInProgress = fsm.State(entity.WorkflowStatusInProgress)
	workflowApproved   = fsm.State(entity.WorkflowStatusApproved)
	workflowRejected   = fsm.State(entity.WorkflowStatusRejected)
	workflowCancelled  = fsm.State(entity.WorkflowStatusCancelled)

	stepPending    = fsm.State(entity.StepStatusPending)
	stepInProgress = fsm.State(entity.StepStatusInProgress)
	stepApproved   = fsm.State(entity.StepStatusApproved)
	stepRejected   = fsm.State(entity.StepStatusRejected)
	stepSkipped    = fsm.State(entity.StepStatusSkipped)
)

var workflowMachine = buildWorkflowMachine()
var stepMachine = buildStepMachine()

// buildWorkflowMachine configures
//
//	PENDING|IN_PROGRESS --advance--> IN_PROGRESS
//	PENDING|IN_PROGRESS --complete--> APPROVED
//	PENDING|IN_PROGRESS --reject--> REJECTED
//	PENDING|IN_PROGRESS --cancel--> CANCELLED
func buildWorkflowMachine() fsm.Builder {
	b := fsm.NewBuilder(workflowPending, workflowInProgress, workflowApproved, workflowRejected, workflowCancelled).
		Terminal(workflowApproved, workflowRejected, workflowCancelled)

	for _, open := range []fsm.State{workflowPending, workflowInProgress} {
		b.Configure(open).
			Permit(TriggerAdvance, workflowInProgress).
			Permit(TriggerComplete, workflowApproved).
			Permit(TriggerReject, workflowRejected).
			Permit(TriggerCancel, workflowCancelled)
	}
	return b
}

// buildStepMachine configures the single decision a step accepts
func buildStepMachine() fsm.Builder {
	b := fsm.NewBuilder(stepPending, stepInProgress, stepApproved, stepRejected, stepSkipped).
		Terminal(stepApproved, stepRejected, stepSkipped)

	for _, open := range []fsm.State{stepPending, stepInProgress} {
		b.Configure(open).
			Permit(TriggerApproveStep, stepApproved).
			Permit(TriggerRejectStep, stepRejected).
			Permit(TriggerSkipStep, stepSkipped)
	}
	return b
}

// NewWorkflowMachine returns a machine positioned at the workflow's stored status
func NewWorkflowMachine(status string) (fsm.StateMachine, error) {
	return workflowMachine.Build(fsm.State(status))
}

// NewStepMachine returns a machine positioned at the step's stored status
func NewStepMachine(status string) (fsm.StateMachine, error) {
	return stepMachine.Build(fsm.State(status))
}
