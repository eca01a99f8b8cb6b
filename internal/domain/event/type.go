package event

// Type identifies the type of domain event
type Type string

const (
	TypeWorkflowCreated     Type = "workflow.created"
	TypeStepDecided         Type = "workflow.step_decided"
	TypeWorkflowCompleted   Type = "workflow.completed"
	TypeWorkflowCancelled   Type = "workflow.cancelled"
	TypeBatchSubmitted      Type = "batch.submitted"
	TypeBatchRetryRequested Type = "batch.retry_requested"
	TypeBatchProcessed      Type = "batch.processed"
	TypeBatchCancelled      Type = "batch.cancelled"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeWorkflowCreated,
		TypeStepDecided,
		TypeWorkflowCompleted,
		TypeWorkflowCancelled,
		TypeBatchSubmitted,
		TypeBatchRetryRequested,
		TypeBatchProcessed,
		TypeBatchCancelled:
		return true
	default:
		return false
	}
}

// AllTypes returns every defined event type
func AllTypes() []Type {
	return []Type{
		TypeWorkflowCreated,
		TypeStepDecided,
		TypeWorkflowCompleted,
		TypeWorkflowCancelled,
		TypeBatchSubmitted,
		TypeBatchRetryRequested,
		TypeBatchProcessed,
		TypeBatchCancelled,
	}
}
