package entity

// Status constants for ApprovalWorkflow
const (
	WorkflowStatusPending    = "PENDING"
	WorkflowStatusInProgress = "IN_PROGRESS"
	WorkflowStatusApproved   = "APPROVED"
	WorkflowStatusRejected   = "REJECTED"
	WorkflowStatusCancelled  = "CANCELLED"
)

// Status constants for WorkflowStep
const (
	StepStatusPending    = "PENDING"
	StepStatusInProgress = "IN_PROGRESS"
	StepStatusApproved   = "APPROVED"
	StepStatusRejected   = "REJECTED"
	StepStatusSkipped    = "SKIPPED"
)

// Verdicts an approver may record on a step
const (
	VerdictApproved = "APPROVED"
	VerdictRejected = "REJECTED"
	VerdictSkipped  = "SKIPPED"
)

// Priority constants, informational only
const (
	PriorityLow    = "LOW"
	PriorityMedium = "MEDIUM"
	PriorityHigh   = "HIGH"
	PriorityUrgent = "URGENT"
)

// Request type constants for the business requests routed through approval
const (
	RequestTypeRefund           = "REFUND"
	RequestTypeSpecialDiscount  = "SPECIAL_DISCOUNT"
	RequestTypeEmergencyBooking = "EMERGENCY_BOOKING"
	RequestTypeBulkBooking      = "BULK_BOOKING"
	RequestTypeOther            = "OTHER"
)

// Status constants for BulkBooking
const (
	BatchStatusProcessing         = "PROCESSING"
	BatchStatusCompleted          = "COMPLETED"
	BatchStatusPartiallyCompleted = "PARTIALLY_COMPLETED"
	BatchStatusFailed             = "FAILED"
	BatchStatusCancelled          = "CANCELLED"
)

// Status constants for BulkBookingItem
const (
	ItemStatusPending = "PENDING"
	ItemStatusSuccess = "SUCCESS"
	ItemStatusFailed  = "FAILED"
)

// Appointment status constants
const (
	AppointmentStatusScheduled = "SCHEDULED"
	AppointmentStatusCancelled = "CANCELLED"
)

// Entity types recorded in transition history
const (
	EntityTypeWorkflow = "WORKFLOW"
	EntityTypeBatch    = "BATCH"
)

// Permissions understood by the engines
const (
	PermissionWorkflowOverride = "workflow:override"
	PermissionBatchOverride    = "batch:override"
)

// IsValidPriority reports whether p is a known priority
func IsValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// IsValidRequestType reports whether t is a known request type
func IsValidRequestType(t string) bool {
	switch t {
	case RequestTypeRefund, RequestTypeSpecialDiscount, RequestTypeEmergencyBooking,
		RequestTypeBulkBooking, RequestTypeOther:
		return true
	}
	return false
}
