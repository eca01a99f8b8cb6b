package batch

import (
	"github.com/garyjia/booking-orchestrator/internal/domain/entity"
	"github.com/garyjia/booking-orchestrator/internal/domain/fsm"
)

// Batch triggers
const (
	TriggerResolve fsm.Trigger = "resolve"
	TriggerRetry   fsm.Trigger = "retry"
	TriggerCancel  fsm.Trigger = "cancel"
)

var (
	batchProcessing = fsm.State(entity.BatchStatusProcessing)
	batchCompleted  = fsm.State(entity.BatchStatusCompleted)
	batchPartial    = fsm.State(entity.BatchStatusPartiallyCompleted)
	batchFailed     = fsm.State(entity.BatchStatusFailed)
	batchCancelled  = fsm.State(entity.BatchStatusCancelled)
)

// Tally counts item outcomes across a whole batch
type Tally struct {
	Total   int
	Success int
	Failed  int
	Pending int
}

// Count tallies items by status
func Count(items []*entity.BulkBookingItem) Tally {
	t := Tally{Total: len(items)}
	for _, item := range items {
		switch item.Status {
		case entity.ItemStatusSuccess:
			t.Success++
		case entity.ItemStatusFailed:
			t.Failed++
		default:
			t.Pending++
		}
	}
	return t
}

// NewBatchMachine returns a machine positioned at status whose guards read tally.
//
//	PROCESSING --resolve--> COMPLETED | PARTIALLY_COMPLETED | FAILED (by tally)
//	PROCESSING, FAILED --cancel--> CANCELLED
//	FAILED, PARTIALLY_COMPLETED --retry--> PROCESSING (while any item failed)
func NewBatchMachine(status string, tally *Tally) (fsm.StateMachine, error) {
	resolved := func() bool { return tally.Pending == 0 && tally.Total > 0 }
	allFailed := func() bool { return resolved() && tally.Failed == tally.Total }
	allSucceeded := func() bool { return resolved() && tally.Success == tally.Total }
	mixed := func() bool { return resolved() && tally.Success > 0 && tally.Failed > 0 }
	retryable := func() bool { return tally.Failed > 0 }

	b := fsm.NewBuilder(batchProcessing, batchCompleted, batchPartial, batchFailed, batchCancelled).
		Terminal(batchCompleted, batchCancelled)

	b.Configure(batchProcessing).
		PermitIf(TriggerResolve, batchFailed, guard(allFailed)).
		PermitIf(TriggerResolve, batchCompleted, guard(allSucceeded)).
		PermitIf(TriggerResolve, batchPartial, guard(mixed)).
		Permit(TriggerCancel, batchCancelled)

	b.Configure(batchFailed).
		PermitIf(TriggerRetry, batchProcessing, guard(retryable)).
		Permit(TriggerCancel, batchCancelled)

	b.Configure(batchPartial).
		PermitIf(TriggerRetry, batchProcessing, guard(retryable))

	return b.Build(fsm.State(status))
}
