package port

import (
	"context"
	"time"

	"github.com/garyjia/booking-orchestrator/internal/domain/entity"
)

// TransactionManager runs fn inside a single database transaction. Repositories
// called with the ctx handed to fn join that transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// WorkflowFilter narrows workflow listings
type WorkflowFilter struct {
	RequesterID string
	Status      string
	Limit       int
	Offset      int
}

// WorkflowRepository defines persistence operations for ApprovalWorkflow
type WorkflowRepository interface {
	// Create inserts the workflow row and sets wf.ID. Steps are written by StepRepository.
	Create(ctx context.Context, wf *entity.ApprovalWorkflow) error

	// GetByID returns nil, nil when the workflow does not exist
	GetByID(ctx context.Context, id int64) (*entity.ApprovalWorkflow, error)

	// Update writes status fields guarded by wf.Version and increments it.
	// A lost race returns errs.ErrConcurrentModification.
	Update(ctx context.Context, wf *entity.ApprovalWorkflow) error

	List(ctx context.Context, filter WorkflowFilter) ([]*entity.ApprovalWorkflow, error)

	// ListAwaitingApprover returns open workflows whose current step is assigned to approverID.
	// With includeUnassigned, current steps without an approver are returned too.
	ListAwaitingApprover(ctx context.Context, approverID string, includeUnassigned bool, limit, offset int) ([]*entity.ApprovalWorkflow, error)
}

// StepRepository defines persistence operations for WorkflowStep
type StepRepository interface {
	CreateAll(ctx context.Context, steps []*entity.WorkflowStep) error
	GetByID(ctx context.Context, id int64) (*entity.WorkflowStep, error)
	GetByWorkflowID(ctx context.Context, workflowID int64) ([]*entity.WorkflowStep, error)
	Update(ctx context.Context, step *entity.WorkflowStep) error
}

// BatchFilter narrows batch listings
type BatchFilter struct {
	AgentID string
	Status  string
	Limit   int
	Offset  int
}

// BulkBookingRepository defines persistence operations for BulkBooking
type BulkBookingRepository interface {
	Create(ctx context.Context, b *entity.BulkBooking) error

	// GetByID returns nil, nil when the batch does not exist
	GetByID(ctx context.Context, id int64) (*entity.BulkBooking, error)
	GetByBatchNumber(ctx context.Context, batchNumber string) (*entity.BulkBooking, error)

	// Update is guarded by b.Version like WorkflowRepository.Update
	Update(ctx context.Context, b *entity.BulkBooking) error

	List(ctx context.Context, filter BatchFilter) ([]*entity.BulkBooking, error)

	// ListStale returns PROCESSING batches not touched since before
	ListStale(ctx context.Context, before time.Time, limit int) ([]*entity.BulkBooking, error)
}

// BulkBookingItemRepository defines persistence operations for BulkBookingItem
type BulkBookingItemRepository interface {
	CreateAll(ctx context.Context, items []*entity.BulkBookingItem) error
	GetByID(ctx context.Context, id int64) (*entity.BulkBookingItem, error)

	// GetByBulkBookingID returns items ordered by sequence number
	GetByBulkBookingID(ctx context.Context, bulkBookingID int64) ([]*entity.BulkBookingItem, error)
	Update(ctx context.Context, item *entity.BulkBookingItem) error
}

// HistoryRepository stores the transition audit trail
type HistoryRepository interface {
	Create(ctx context.Context, rec *entity.TransitionRecord) error
	ListByEntity(ctx context.Context, entityType string, entityID int64) ([]*entity.TransitionRecord, error)
}

// AgentRepository defines persistence operations for Agent
type AgentRepository interface {
	Create(ctx context.Context, agent *entity.Agent) error
	GetByID(ctx context.Context, id string) (*entity.Agent, error)
}

// CustomerRepository defines persistence operations for Customer
type CustomerRepository interface {
	Create(ctx context.Context, customer *entity.Customer) error
	GetByID(ctx context.Context, id int64) (*entity.Customer, error)
}

// AppointmentRepository defines persistence operations for Appointment
type AppointmentRepository interface {
	// Create inserts the appointment. A taken slot returns ErrSlotTaken.
	Create(ctx context.Context, appt *entity.Appointment) error
	GetByID(ctx context.Context, id int64) (*entity.Appointment, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*entity.Appointment, error)
}

// DoctorRepository reads the doctor directory
type DoctorRepository interface {
	Create(ctx context.Context, doctor *entity.Doctor) error
	GetByID(ctx context.Context, id int64) (*entity.Doctor, error)
}
