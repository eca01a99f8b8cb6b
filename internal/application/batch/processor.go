// Package batch implements the bulk-booking batch processor.
package batch

import (
	"context"
	"time"

	"github.com/garyjia/booking-orchestrator/internal/domain/entity"
	"github.com/garyjia/booking-orchestrator/internal/domain/event"
)

// Config holds batch processing policy
type Config struct {
	// MaxItems bounds the number of items per batch
	MaxItems int
	// Workers bounds concurrent materializations within one batch run
	Workers int
	// ItemTimeout bounds each materialization call
	ItemTimeout time.Duration
	// ProcessInline runs ProcessBatch before Submit/Retry return; otherwise an
	// event handler drives it
	ProcessInline bool
}

// DefaultConfig returns the default processing policy
func DefaultConfig() Config {
	return Config{
		MaxItems:      10,
		Workers:       4,
		ItemTimeout:   15 * time.Second,
		ProcessInline: true,
	}
}

// SubmitRequest describes a new batch. The submitting agent is the caller.
type SubmitRequest struct {
	CustomerID int64                   `json:"customer_id"`
	BatchName  string                  `json:"batch_name"`
	Items      []entity.BookingRequest `json:"items"`
}

// ListRequest filters batch listings. AgentID other than the caller requires
// the batch override permission.
type ListRequest struct {
	AgentID string
	Status  string
	Limit   int
	Offset  int
}

// Processor owns the bulk-booking lifecycle
type Processor interface {
	// Submit validates and persists the batch with every item PENDING, then
	// processes it inline or hands it to the async driver
	Submit(ctx context.Context, caller entity.Caller, req SubmitRequest) (*entity.BulkBooking, error)

	// ProcessBatch materializes every PENDING item and resolves the batch status.
	// It is a no-op on CANCELLED batches and on batches with nothing left to do.
	ProcessBatch(ctx context.Context, batchID int64) (*entity.BulkBooking, error)

	// ResumeBatch behaves like ProcessBatch but returns ErrBatchBusy at once
	// when the batch is already being processed
	ResumeBatch(ctx context.Context, batchID int64) (*entity.BulkBooking, error)

	// Retry resets FAILED items (all, or the given ones) to PENDING and reprocesses them
	Retry(ctx context.Context, caller entity.Caller, batchID int64, itemIDs []int64) (*entity.BulkBooking, error)

	// Cancel moves a PROCESSING or FAILED batch to CANCELLED
	Cancel(ctx context.Context, caller entity.Caller, batchID int64, reason string) (*entity.BulkBooking, error)

	// Get returns the batch with its items
	Get(ctx context.Context, caller entity.Caller, batchID int64) (*entity.BulkBooking, error)

	List(ctx context.Context, caller entity.Caller, req ListRequest) ([]*entity.BulkBooking, error)

	History(ctx context.Context, caller entity.Caller, batchID int64) ([]*entity.TransitionRecord, error)

	// HandleEvent drives ProcessBatch for batch.submitted and batch.retry_requested
	HandleEvent(ctx context.Context, evt *event.Event) error
}
