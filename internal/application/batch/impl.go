package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/garyjia/booking-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/booking-orchestrator/internal/application/keylock"
	"github.com/garyjia/booking-orchestrator/internal/application/port"
	"github.com/garyjia/booking-orchestrator/internal/domain/entity"
	"github.com/garyjia/booking-orchestrator/internal/domain/errs"
	"github.com/garyjia/booking-orchestrator/internal/domain/event"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Repositories groups the persistence dependencies of the processor
type Repositories struct {
	Batches   port.BulkBookingRepository
	Items     port.BulkBookingItemRepository
	Customers port.CustomerRepository
	History   port.HistoryRepository
}

type processorImpl struct {
	cfg          Config
	repos        Repositories
	txManager    port.TransactionManager
	materializer port.AppointmentMaterializer
	ownership    port.OwnershipChecker
	dispatcher   dispatcher.Dispatcher
	logger       port.Logger
	locks        *keylock.Locker
	now          func() time.Time
}

// ProcessorOption configures the processor
type ProcessorOption func(*processorImpl)

// WithDispatcher sets the event dispatcher. Without one, processing is always inline.
func WithDispatcher(d dispatcher.Dispatcher) ProcessorOption {
	return func(p *processorImpl) {
		p.dispatcher = d
	}
}

// WithLogger sets the processor logger
func WithLogger(logger port.Logger) ProcessorOption {
	return func(p *processorImpl) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *processorImpl) {
		p.now = now
	}
}

// NewProcessor creates a new batch processor
func NewProcessor(
	cfg Config,
	repos Repositories,
	txManager port.TransactionManager,
	materializer port.AppointmentMaterializer,
	ownership port.OwnershipChecker,
	opts ...ProcessorOption,
) Processor {
	defaults := DefaultConfig()
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = defaults.MaxItems
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = defaults.ItemTimeout
	}

	p := &processorImpl{
		cfg:          cfg,
		repos:        repos,
		txManager:    txManager,
		materializer: materializer,
		ownership:    ownership,
		logger:       port.NopLogger{},
		locks:        keylock.New(),
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func lockKey(batchID int64) string {
	return fmt.Sprintf("batch:%d", batchID)
}

// NewBatchNumber returns BB-<YYYYMMDD>-<random UUID>, unique without coordination
func NewBatchNumber(now time.Time) string {
	return fmt.Sprintf("BB-%s-%s", now.UTC().Format("20060102"), strings.ToUpper(uuid.NewString()))
}

// IdempotencyKey identifies one item across every attempt to materialize it
func IdempotencyKey(batchNumber string, sequence int) string {
	return fmt.Sprintf("%s:%d", batchNumber, sequence)
}

func (p *processorImpl) inline() bool {
	return p.cfg.ProcessInline || p.dispatcher == nil
}

func (p *processorImpl) Submit(ctx context.Context, caller entity.Caller, req SubmitRequest) (*entity.BulkBooking, error) {
	if err := validateSubmit(&req, p.cfg.MaxItems); err != nil {
		return nil, err
	}

	customer, err := p.repos.Customers.GetByID(ctx, req.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}
	if customer == nil {
		return nil, errs.ErrCustomerNotFound
	}
	owns, err := p.ownership.OwnsResource(ctx, caller.AgentID, req.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("check customer ownership: %w", err)
	}
	if !owns {
		return nil, errs.ErrNotCustomerOwner
	}

	now := p.now().UTC()
	b := &entity.BulkBooking{
		BatchNumber: NewBatchNumber(now),
		BatchName:   req.BatchName,
		AgentID:     caller.AgentID,
		CustomerID:  req.CustomerID,
		TotalItems:  len(req.Items),
		Status:      entity.BatchStatusProcessing,
		CreatedAt:   now,
	}
	if b.BatchName == "" {
		b.BatchName = b.BatchNumber
	}

	err = p.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := p.repos.Batches.Create(txCtx, b); err != nil {
			return err
		}

		items := make([]*entity.BulkBookingItem, len(req.Items))
		for i, booking := range req.Items {
			items[i] = &entity.BulkBookingItem{
				BulkBookingID:  b.ID,
				SequenceNumber: i + 1,
				BookingRequest: booking,
				Status:         entity.ItemStatusPending,
				CreatedAt:      now,
			}
		}
		if err := p.repos.Items.CreateAll(txCtx, items); err != nil {
			return err
		}
		b.Items = items

		return p.record(txCtx, b.ID, "", b.Status, "submit", caller.AgentID,
			fmt.Sprintf("%d items", b.TotalItems))
	})
	if err != nil {
		return nil, fmt.Errorf("submit batch: %w", err)
	}

	p.logger.Info("Batch submitted",
		"batch_id", b.ID,
		"batch_number", b.BatchNumber,
		"total_items", b.TotalItems,
		"agent_id", caller.AgentID,
		"inline", p.inline(),
	)

	if p.inline() {
		return p.ProcessBatch(ctx, b.ID)
	}

	p.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeBatchSubmitted, b.ID, caller.AgentID,
		map[string]interface{}{"batch_number": b.BatchNumber, "total_items": b.TotalItems}))
	return b, nil
}

func (p *processorImpl) ProcessBatch(ctx context.Context, batchID int64) (*entity.BulkBooking, error) {
	unlock, err := p.locks.Lock(ctx, lockKey(batchID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	return p.process(ctx, batchID)
}

// ResumeBatch is ProcessBatch for background sweeps. A batch another run is
// working on is reported busy instead of waited for.
func (p *processorImpl) ResumeBatch(ctx context.Context, batchID int64) (*entity.BulkBooking, error) {
	unlock, ok := p.locks.TryLock(lockKey(batchID))
	if !ok {
		return nil, errs.ErrBatchBusy
	}
	defer unlock()

	return p.process(ctx, batchID)
}

// process runs with the batch lock held
func (p *processorImpl) process(ctx context.Context, batchID int64) (*entity.BulkBooking, error) {
	b, err := p.repos.Batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errs.ErrBatchNotFound
	}
	if b.Status == entity.BatchStatusCancelled {
		return p.withItems(ctx, b)
	}

	items, err := p.repos.Items.GetByBulkBookingID(ctx, b.ID)
	if err != nil {
		return nil, err
	}

	var pending []*entity.BulkBookingItem
	for _, item := range items {
		if item.Status == entity.ItemStatusPending {
			pending = append(pending, item)
		}
	}

	if len(pending) == 0 && b.Status != entity.BatchStatusProcessing {
		b.Items = items
		return b, nil
	}

	if len(pending) > 0 {
		if err := p.runItems(ctx, b, pending); err != nil {
			return nil, err
		}
	}

	return p.resolve(ctx, b)
}

// runItems materializes pending items on a bounded pool and waits for all of them
func (p *processorImpl) runItems(ctx context.Context, b *entity.BulkBooking, pending []*entity.BulkBookingItem) error {
	started := p.now()
	// outcome writes share b's version, so they are applied one at a time
	var writeMu sync.Mutex

	// Calls already handed to the collaborator run to completion or to their
	// item timeout even if ctx ends, and their outcome is still recorded.
	// Items not yet started stay PENDING.
	callCtx := context.WithoutCancel(ctx)
	var skipped atomic.Int64

	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)

	for _, item := range pending {
		item := item
		g.Go(func() error {
			if ctx.Err() != nil {
				skipped.Add(1)
				return nil
			}
			appt, matErr := p.materialize(callCtx, b, item)

			writeMu.Lock()
			defer writeMu.Unlock()
			return p.recordOutcome(callCtx, b, item, appt, matErr)
		})
	}

	if err := g.Wait(); err != nil {
		p.logger.Error("Batch run aborted by persistence failure",
			"batch_id", b.ID,
			"error", err,
		)
		return err
	}

	if n := skipped.Load(); n > 0 {
		p.logger.Info("Batch run interrupted, items left pending",
			"batch_id", b.ID,
			"pending", n,
			"reason", ctx.Err(),
		)
	}

	p.logger.Info("Batch items processed",
		"batch_id", b.ID,
		"items", len(pending),
		"workers", p.cfg.Workers,
		"duration", p.now().Sub(started).String(),
	)
	return nil
}

// materialize calls the collaborator under the item timeout. The call runs in
// its own goroutine so a collaborator that ignores ctx cannot block the run.
func (p *processorImpl) materialize(ctx context.Context, b *entity.BulkBooking, item *entity.BulkBookingItem) (*entity.Appointment, error) {
	itemCtx, cancel := context.WithTimeout(ctx, p.cfg.ItemTimeout)
	defer cancel()

	done := make(chan materializeResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- materializeResult{err: fmt.Errorf("%w: appointment creation panicked: %v", errs.ErrDownstream, r)}
			}
		}()
		appt, err := p.materializer.CreateAppointment(itemCtx, port.MaterializeRequest{
			IdempotencyKey: IdempotencyKey(b.BatchNumber, item.SequenceNumber),
			AgentID:        b.AgentID,
			CustomerID:     b.CustomerID,
			Booking:        item.BookingRequest,
		})
		if err == nil && appt == nil {
			err = errors.New("appointment creation returned no appointment")
		}
		done <- materializeResult{appt: appt, err: err}
	}()

	select {
	case r := <-done:
		return p.settle(r)
	case <-itemCtx.Done():
		// a result that landed together with the deadline still counts
		select {
		case r := <-done:
			return p.settle(r)
		default:
		}
		return nil, p.timeoutErr()
	}
}

type materializeResult struct {
	appt *entity.Appointment
	err  error
}

func (p *processorImpl) settle(r materializeResult) (*entity.Appointment, error) {
	if r.err == nil {
		return r.appt, nil
	}
	if errors.Is(r.err, context.DeadlineExceeded) {
		return nil, p.timeoutErr()
	}
	return nil, r.err
}

func (p *processorImpl) timeoutErr() error {
	return fmt.Errorf("%w: appointment creation timed out after %s", errs.ErrDownstream, p.cfg.ItemTimeout)
}

// recordOutcome writes the item result and the batch's running counters in one transaction
func (p *processorImpl) recordOutcome(ctx context.Context, b *entity.BulkBooking, item *entity.BulkBookingItem, appt *entity.Appointment, matErr error) error {
	// the outcome must land even if the caller went away mid-run
	ctx = context.WithoutCancel(ctx)

	now := p.now().UTC()
	updated := *item
	updated.ProcessedAt = &now
	updated.Attempts++

	// Batches.Update advances b.Version before commit
	snapshot := *b
	if matErr == nil {
		id := appt.ID
		updated.Status = entity.ItemStatusSuccess
		updated.AppointmentID = &id
		updated.ErrorMessage = ""
		b.SuccessfulItems++
	} else {
		updated.Status = entity.ItemStatusFailed
		updated.AppointmentID = nil
		updated.ErrorMessage = strings.TrimPrefix(matErr.Error(), errs.ErrDownstream.Error()+": ")
		b.FailedItems++
	}

	err := p.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := p.repos.Items.Update(txCtx, &updated); err != nil {
			return err
		}
		return p.repos.Batches.Update(txCtx, b)
	})
	if err != nil {
		*b = snapshot
		return fmt.Errorf("record item %d: %w", item.SequenceNumber, err)
	}
	*item = updated

	if matErr != nil {
		p.logger.Info("Batch item failed",
			"batch_id", b.ID,
			"sequence", item.SequenceNumber,
			"attempts", item.Attempts,
			"error", item.ErrorMessage,
		)
	}
	return nil
}

// resolve recounts from the full item set and settles the batch status
func (p *processorImpl) resolve(ctx context.Context, b *entity.BulkBooking) (*entity.BulkBooking, error) {
	ctx = context.WithoutCancel(ctx)

	items, err := p.repos.Items.GetByBulkBookingID(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	tally := Count(items)
	if tally.Pending > 0 {
		b.Items = items
		return b, nil
	}

	machine, err := NewBatchMachine(b.Status, &tally)
	if err != nil {
		return nil, err
	}
	if err := machine.Fire(ctx, TriggerResolve); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidTransition, err)
	}

	now := p.now().UTC()
	snapshot := *b
	previous := b.Status
	b.Status = machine.State().String()
	b.SuccessfulItems = tally.Success
	b.FailedItems = tally.Failed
	b.CompletedAt = &now

	err = p.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := p.repos.Batches.Update(txCtx, b); err != nil {
			return err
		}
		return p.record(txCtx, b.ID, previous, b.Status, "resolve", "",
			fmt.Sprintf("%d succeeded, %d failed", tally.Success, tally.Failed))
	})
	if err != nil {
		*b = snapshot
		return nil, fmt.Errorf("resolve batch %d: %w", b.ID, err)
	}

	p.logger.Info("Batch resolved",
		"batch_id", b.ID,
		"status", b.Status,
		"successful_items", b.SuccessfulItems,
		"failed_items", b.FailedItems,
	)
	p.emit(ctx, event.TypeBatchProcessed, b, "", nil)

	b.Items = items
	return b, nil
}

func (p *processorImpl) Retry(ctx context.Context, caller entity.Caller, batchID int64, itemIDs []int64) (*entity.BulkBooking, error) {
	unlock, err := p.locks.Lock(ctx, lockKey(batchID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	b, err := p.repos.Batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errs.ErrBatchNotFound
	}
	if !canManage(caller, b) {
		return nil, errs.ErrNotBatchOwner
	}

	switch b.Status {
	case entity.BatchStatusCancelled:
		return nil, errs.ErrBatchAlreadyTerminal
	case entity.BatchStatusProcessing:
		return nil, errs.ErrBatchBusy
	}

	items, err := p.repos.Items.GetByBulkBookingID(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	targets, err := selectRetryTargets(items, itemIDs)
	if err != nil {
		return nil, err
	}

	tally := Count(items)
	machine, err := NewBatchMachine(b.Status, &tally)
	if err != nil {
		return nil, err
	}
	if err := machine.Fire(ctx, TriggerRetry); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrNothingToRetry, err)
	}

	snapshot := *b
	previous := b.Status
	b.Status = machine.State().String()
	b.FailedItems = tally.Failed - len(targets)
	b.SuccessfulItems = tally.Success
	b.CompletedAt = nil

	err = p.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, item := range targets {
			item.Status = entity.ItemStatusPending
			item.ErrorMessage = ""
			item.ProcessedAt = nil
			if err := p.repos.Items.Update(txCtx, item); err != nil {
				return err
			}
		}
		if err := p.repos.Batches.Update(txCtx, b); err != nil {
			return err
		}
		return p.record(txCtx, b.ID, previous, b.Status, "retry", caller.AgentID,
			fmt.Sprintf("%d items", len(targets)))
	})
	if err != nil {
		*b = snapshot
		return nil, fmt.Errorf("retry batch %d: %w", b.ID, err)
	}

	p.logger.Info("Batch retry started",
		"batch_id", b.ID,
		"items", len(targets),
		"previous_status", previous,
		"actor", caller.AgentID,
	)

	if p.inline() {
		return p.process(ctx, b.ID)
	}

	p.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeBatchRetryRequested, b.ID, caller.AgentID,
		map[string]interface{}{"items": len(targets)}))
	return p.withItems(ctx, b)
}

// selectRetryTargets defaults to every FAILED item; explicit ids must be FAILED items of this batch
func selectRetryTargets(items []*entity.BulkBookingItem, itemIDs []int64) ([]*entity.BulkBookingItem, error) {
	if len(itemIDs) == 0 {
		var failed []*entity.BulkBookingItem
		for _, item := range items {
			if item.Status == entity.ItemStatusFailed {
				failed = append(failed, item)
			}
		}
		if len(failed) == 0 {
			return nil, errs.ErrNothingToRetry
		}
		return failed, nil
	}

	byID := make(map[int64]*entity.BulkBookingItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	seen := make(map[int64]bool, len(itemIDs))
	targets := make([]*entity.BulkBookingItem, 0, len(itemIDs))
	for _, id := range itemIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		item, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: item %d is not part of this batch", errs.ErrItemNotFound, id)
		}
		if item.Status != entity.ItemStatusFailed {
			return nil, fmt.Errorf("%w: item %d is %s", errs.ErrItemNotRetryable, id, item.Status)
		}
		targets = append(targets, item)
	}
	return targets, nil
}

func (p *processorImpl) Cancel(ctx context.Context, caller entity.Caller, batchID int64, reason string) (*entity.BulkBooking, error) {
	unlock, err := p.locks.Lock(ctx, lockKey(batchID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	b, err := p.repos.Batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errs.ErrBatchNotFound
	}
	if !canManage(caller, b) {
		return nil, errs.ErrNotBatchOwner
	}

	tally := Tally{Total: b.TotalItems, Success: b.SuccessfulItems, Failed: b.FailedItems}
	machine, err := NewBatchMachine(b.Status, &tally)
	if err != nil {
		return nil, err
	}
	if machine.State() == batchCancelled {
		return nil, errs.ErrBatchAlreadyTerminal
	}
	if !machine.CanFire(TriggerCancel) {
		return nil, fmt.Errorf("%w: batch is %s", errs.ErrBatchNotCancellable, b.Status)
	}
	if err := machine.Fire(ctx, TriggerCancel); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrBatchNotCancellable, err)
	}

	now := p.now().UTC()
	previous := b.Status
	b.Status = machine.State().String()
	b.CompletedAt = &now
	reason = strings.TrimSpace(reason)
	if reason != "" {
		b.Notes = appendNote(b.Notes, "Cancelled: "+reason)
	}

	err = p.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := p.repos.Batches.Update(txCtx, b); err != nil {
			return err
		}
		return p.record(txCtx, b.ID, previous, b.Status, "cancel", caller.AgentID, reason)
	})
	if err != nil {
		return nil, fmt.Errorf("cancel batch %d: %w", b.ID, err)
	}

	p.logger.Info("Batch cancelled",
		"batch_id", b.ID,
		"previous_status", previous,
		"actor", caller.AgentID,
	)
	p.emit(ctx, event.TypeBatchCancelled, b, caller.AgentID, map[string]interface{}{"reason": reason})

	return p.withItems(ctx, b)
}

func appendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + "\n" + note
}

func canManage(caller entity.Caller, b *entity.BulkBooking) bool {
	return b.AgentID == caller.AgentID || caller.Has(entity.PermissionBatchOverride)
}

func (p *processorImpl) Get(ctx context.Context, caller entity.Caller, batchID int64) (*entity.BulkBooking, error) {
	b, err := p.repos.Batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errs.ErrBatchNotFound
	}
	if !canManage(caller, b) {
		return nil, errs.ErrNotBatchOwner
	}
	return p.withItems(ctx, b)
}

func (p *processorImpl) List(ctx context.Context, caller entity.Caller, req ListRequest) ([]*entity.BulkBooking, error) {
	agentID := req.AgentID
	if agentID == "" {
		agentID = caller.AgentID
	}
	if agentID != caller.AgentID && !caller.Has(entity.PermissionBatchOverride) {
		return nil, fmt.Errorf("%w: cannot list batches of %s", errs.ErrUnauthorized, agentID)
	}

	return p.repos.Batches.List(ctx, port.BatchFilter{
		AgentID: agentID,
		Status:  strings.ToUpper(req.Status),
		Limit:   req.Limit,
		Offset:  req.Offset,
	})
}

func (p *processorImpl) History(ctx context.Context, caller entity.Caller, batchID int64) ([]*entity.TransitionRecord, error) {
	if _, err := p.Get(ctx, caller, batchID); err != nil {
		return nil, err
	}
	return p.repos.History.ListByEntity(ctx, entity.EntityTypeBatch, batchID)
}

func (p *processorImpl) HandleEvent(ctx context.Context, evt *event.Event) error {
	switch evt.Type {
	case event.TypeBatchSubmitted, event.TypeBatchRetryRequested:
		_, err := p.ProcessBatch(ctx, evt.EntityID)
		return err
	default:
		return nil
	}
}

func (p *processorImpl) withItems(ctx context.Context, b *entity.BulkBooking) (*entity.BulkBooking, error) {
	items, err := p.repos.Items.GetByBulkBookingID(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	b.Items = items
	return b, nil
}

func (p *processorImpl) record(ctx context.Context, batchID int64, previous, next, action, actor, note string) error {
	return p.repos.History.Create(ctx, &entity.TransitionRecord{
		EntityType:     entity.EntityTypeBatch,
		EntityID:       batchID,
		PreviousStatus: previous,
		NewStatus:      next,
		Action:         action,
		Actor:          actor,
		Note:           note,
		CreatedAt:      p.now().UTC(),
	})
}

func (p *processorImpl) emit(ctx context.Context, typ event.Type, b *entity.BulkBooking, actor string, payload map[string]interface{}) {
	if p.dispatcher == nil {
		return
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["status"] = b.Status
	payload["batch_number"] = b.BatchNumber
	payload["successful_items"] = b.SuccessfulItems
	payload["failed_items"] = b.FailedItems
	p.dispatcher.DispatchAsync(ctx, event.NewEvent(typ, b.ID, actor, payload))
}
