package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/booking-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/booking-orchestrator/internal/application/keylock"
	"github.com/garyjia/booking-orchestrator/internal/application/port"
	"github.com/garyjia/booking-orchestrator/internal/domain/entity"
	"github.com/garyjia/booking-orchestrator/internal/domain/errs"
	"github.com/garyjia/booking-orchestrator/internal/domain/event"
	"github.com/garyjia/booking-orchestrator/internal/domain/fsm"
	"github.com/garyjia/booking-orchestrator/pkg/utils"
)

// DefaultMaxSteps bounds the approver chain length
const DefaultMaxSteps = 10

// Repositories groups the persistence dependencies of the engine
type Repositories struct {
	Workflows port.WorkflowRepository
	Steps     port.StepRepository
	History   port.HistoryRepository
	Agents    port.AgentRepository
}

type engineImpl struct {
	repos      Repositories
	txManager  port.TransactionManager
	dispatcher dispatcher.Dispatcher
	logger     port.Logger
	locks      *keylock.Locker
	maxSteps   int
	now        func() time.Time
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithLogger sets the engine logger
func WithLogger(logger port.Logger) EngineOption {
	return func(e *engineImpl) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxSteps overrides DefaultMaxSteps
func WithMaxSteps(n int) EngineOption {
	return func(e *engineImpl) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a new workflow engine
func NewEngine(repos Repositories, txManager port.TransactionManager, opts ...EngineOption) Engine {
	e := &engineImpl{
		repos:     repos,
		txManager: txManager,
		logger:    port.NopLogger{},
		locks:     keylock.New(),
		maxSteps:  DefaultMaxSteps,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func lockKey(workflowID int64) string {
	return fmt.Sprintf("workflow:%d", workflowID)
}

func (e *engineImpl) Create(ctx context.Context, caller entity.Caller, req CreateRequest) (*entity.ApprovalWorkflow, error) {
	if err := e.validateCreate(ctx, caller, &req); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	wf := &entity.ApprovalWorkflow{
		RequestType: req.RequestType,
		RequestID:   req.RequestID,
		RequesterID: caller.AgentID,
		TotalSteps:  len(req.Steps),
		CurrentStep: 1,
		Status:      entity.WorkflowStatusPending,
		Priority:    req.Priority,
		RequestData: req.RequestData,
		CreatedAt:   now,
	}

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.repos.Workflows.Create(txCtx, wf); err != nil {
			return err
		}

		steps := make([]*entity.WorkflowStep, len(req.Steps))
		for i, def := range req.Steps {
			steps[i] = &entity.WorkflowStep{
				WorkflowID: wf.ID,
				StepOrder:  i + 1,
				ApproverID: def.ApproverID,
				IsOptional: def.IsOptional,
				Status:     entity.StepStatusPending,
				CreatedAt:  now,
			}
		}
		if err := e.repos.Steps.CreateAll(txCtx, steps); err != nil {
			return err
		}
		wf.Steps = steps

		return e.record(txCtx, wf.ID, "", wf.Status, "create", caller.AgentID, "")
	})
	if err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}

	e.logger.Info("Workflow created",
		"workflow_id", wf.ID,
		"request_type", wf.RequestType,
		"total_steps", wf.TotalSteps,
		"requester_id", wf.RequesterID,
	)

	e.emit(ctx, event.TypeWorkflowCreated, wf, caller.AgentID, map[string]interface{}{
		"request_type": wf.RequestType,
		"request_id":   wf.RequestID,
		"total_steps":  wf.TotalSteps,
	})

	return wf, nil
}

func (e *engineImpl) validateCreate(ctx context.Context, caller entity.Caller, req *CreateRequest) error {
	req.RequestType = strings.ToUpper(strings.TrimSpace(req.RequestType))
	req.RequestID = utils.SanitizeString(req.RequestID)
	req.Priority = strings.ToUpper(strings.TrimSpace(req.Priority))
	if req.Priority == "" {
		req.Priority = entity.PriorityMedium
	}

	switch {
	case caller.AgentID == "":
		return errs.Validationf(errs.ErrInvalidWorkflowRequest, "requester is required")
	case !entity.IsValidRequestType(req.RequestType):
		return errs.Validationf(errs.ErrInvalidWorkflowRequest, "unknown request type %q", req.RequestType)
	case req.RequestID == "":
		return errs.Validationf(errs.ErrInvalidWorkflowRequest, "request id is required")
	case !entity.IsValidPriority(req.Priority):
		return errs.Validationf(errs.ErrInvalidWorkflowRequest, "unknown priority %q", req.Priority)
	case len(req.Steps) == 0:
		return errs.Validationf(errs.ErrInvalidWorkflowRequest, "at least one step is required")
	case len(req.Steps) > e.maxSteps:
		return errs.Validationf(errs.ErrInvalidWorkflowRequest, "%d steps exceeds the limit of %d", len(req.Steps), e.maxSteps)
	case len(req.RequestData) > 0 && !json.Valid(req.RequestData):
		return errs.Validationf(errs.ErrInvalidWorkflowRequest, "request data is not valid JSON")
	}

	requester, err := e.repos.Agents.GetByID(ctx, caller.AgentID)
	if err != nil {
		return fmt.Errorf("load requester: %w", err)
	}
	if requester == nil {
		return errs.Validationf(errs.ErrInvalidWorkflowRequest, "unknown requester %s", caller.AgentID)
	}

	checked := make(map[string]bool)
	for i := range req.Steps {
		approverID := strings.TrimSpace(req.Steps[i].ApproverID)
		req.Steps[i].ApproverID = approverID
		if approverID == "" || checked[approverID] {
			continue
		}
		approver, err := e.repos.Agents.GetByID(ctx, approverID)
		if err != nil {
			return fmt.Errorf("load approver %s: %w", approverID, err)
		}
		if approver == nil {
			return errs.Validationf(errs.ErrInvalidWorkflowRequest, "step %d references unknown approver %s", i+1, approverID)
		}
		checked[approverID] = true
	}

	return nil
}

// stepOutcome is the effect of one verdict
type stepOutcome struct {
	stepTrigger     fsm.Trigger
	workflowTrigger fsm.Trigger
}

// resolveOutcome maps a verdict on step to triggers. A rejection of an optional
// step is recorded as SKIPPED and the chain continues.
func resolveOutcome(wf *entity.ApprovalWorkflow, step *entity.WorkflowStep, verdict string) (stepOutcome, error) {
	continueChain := TriggerAdvance
	if step.StepOrder >= wf.TotalSteps {
		continueChain = TriggerComplete
	}

	switch verdict {
	case entity.VerdictApproved:
		return stepOutcome{TriggerApproveStep, continueChain}, nil
	case entity.VerdictSkipped:
		if !step.IsOptional {
			return stepOutcome{}, errs.Validationf(errs.ErrInvalidVerdict, "step %d is required and cannot be skipped", step.StepOrder)
		}
		return stepOutcome{TriggerSkipStep, continueChain}, nil
	case entity.VerdictRejected:
		if step.IsOptional {
			return stepOutcome{TriggerSkipStep, continueChain}, nil
		}
		return stepOutcome{TriggerRejectStep, TriggerReject}, nil
	default:
		return stepOutcome{}, errs.Validationf(errs.ErrInvalidVerdict, "%q", verdict)
	}
}

func canActOnStep(caller entity.Caller, step *entity.WorkflowStep) bool {
	if caller.Has(entity.PermissionWorkflowOverride) {
		return true
	}
	return step.ApproverID != "" && step.ApproverID == caller.AgentID
}

func (e *engineImpl) DecideStep(ctx context.Context, caller entity.Caller, req DecideRequest) (*entity.ApprovalWorkflow, error) {
	req.Verdict = strings.ToUpper(strings.TrimSpace(req.Verdict))
	switch req.Verdict {
	case entity.VerdictApproved, entity.VerdictRejected, entity.VerdictSkipped:
	default:
		return nil, errs.Validationf(errs.ErrInvalidVerdict, "%q", req.Verdict)
	}

	unlock, err := e.locks.Lock(ctx, lockKey(req.WorkflowID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		wf             *entity.ApprovalWorkflow
		step           *entity.WorkflowStep
		previousStatus string
	)

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		if wf, err = e.repos.Workflows.GetByID(txCtx, req.WorkflowID); err != nil {
			return err
		}
		if wf == nil {
			return errs.ErrWorkflowNotFound
		}

		if step, err = e.repos.Steps.GetByID(txCtx, req.StepID); err != nil {
			return err
		}
		if step == nil || step.WorkflowID != wf.ID {
			return errs.ErrStepNotFound
		}

		if !canActOnStep(caller, step) {
			return errs.ErrNotApprover
		}
		if wf.IsTerminal() {
			return errs.ErrWorkflowAlreadyTerminal
		}
		if !step.IsOpen() {
			return fmt.Errorf("%w: step %d is %s", errs.ErrStepAlreadyDecided, step.StepOrder, step.Status)
		}
		if step.StepOrder != wf.CurrentStep {
			return fmt.Errorf("%w: step %d decided while step %d is active", errs.ErrStepNotActive, step.StepOrder, wf.CurrentStep)
		}

		outcome, err := resolveOutcome(wf, step, req.Verdict)
		if err != nil {
			return err
		}

		stepFSM, err := NewStepMachine(step.Status)
		if err != nil {
			return err
		}
		if err := stepFSM.Fire(txCtx, outcome.stepTrigger); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrStepAlreadyDecided, err)
		}
		wfFSM, err := NewWorkflowMachine(wf.Status)
		if err != nil {
			return err
		}
		if err := wfFSM.Fire(txCtx, outcome.workflowTrigger); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrInvalidTransition, err)
		}

		now := e.now().UTC()
		step.Status = stepFSM.State().String()
		step.Comments = utils.SanitizeString(req.Comments)
		step.ApproverNotes = utils.SanitizeString(req.ApproverNotes)
		step.ProcessedAt = &now
		step.ProcessedBy = caller.AgentID

		previousStatus = wf.Status
		wf.Status = wfFSM.State().String()
		switch outcome.workflowTrigger {
		case TriggerAdvance:
			wf.CurrentStep++
		case TriggerComplete, TriggerReject:
			wf.CompletedAt = &now
		}

		if err := e.repos.Steps.Update(txCtx, step); err != nil {
			return err
		}
		if err := e.repos.Workflows.Update(txCtx, wf); err != nil {
			return err
		}

		note := fmt.Sprintf("step %d %s", step.StepOrder, step.Status)
		if req.Verdict != step.Status {
			note = fmt.Sprintf("step %d %s as %s", step.StepOrder, strings.ToLower(req.Verdict), step.Status)
		}
		return e.record(txCtx, wf.ID, previousStatus, wf.Status, "decide", caller.AgentID, note)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Workflow step decided",
		"workflow_id", wf.ID,
		"step_order", step.StepOrder,
		"verdict", req.Verdict,
		"step_status", step.Status,
		"previous_status", previousStatus,
		"new_status", wf.Status,
		"actor", caller.AgentID,
	)

	e.emit(ctx, event.TypeStepDecided, wf, caller.AgentID, map[string]interface{}{
		"step_id":      step.ID,
		"step_order":   step.StepOrder,
		"verdict":      req.Verdict,
		"step_status":  step.Status,
		"current_step": wf.CurrentStep,
	})
	if wf.IsTerminal() {
		e.emit(ctx, event.TypeWorkflowCompleted, wf, caller.AgentID, map[string]interface{}{
			"status": wf.Status,
		})
	}

	return e.withSteps(ctx, wf)
}

func (e *engineImpl) Cancel(ctx context.Context, caller entity.Caller, workflowID int64, reason string) (*entity.ApprovalWorkflow, error) {
	unlock, err := e.locks.Lock(ctx, lockKey(workflowID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	reason = utils.SanitizeString(reason)
	var wf *entity.ApprovalWorkflow
	var previousStatus string

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		if wf, err = e.repos.Workflows.GetByID(txCtx, workflowID); err != nil {
			return err
		}
		if wf == nil {
			return errs.ErrWorkflowNotFound
		}
		if wf.RequesterID != caller.AgentID && !caller.Has(entity.PermissionWorkflowOverride) {
			return errs.ErrNotRequester
		}

		machine, err := NewWorkflowMachine(wf.Status)
		if err != nil {
			return err
		}
		if machine.IsTerminal() {
			return errs.ErrWorkflowAlreadyTerminal
		}
		if err := machine.Fire(txCtx, TriggerCancel); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrInvalidTransition, err)
		}

		now := e.now().UTC()
		previousStatus = wf.Status
		wf.Status = machine.State().String()
		wf.CompletedAt = &now
		wf.CancellationReason = reason

		if err := e.repos.Workflows.Update(txCtx, wf); err != nil {
			return err
		}
		return e.record(txCtx, wf.ID, previousStatus, wf.Status, "cancel", caller.AgentID, reason)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Workflow cancelled",
		"workflow_id", wf.ID,
		"previous_status", previousStatus,
		"actor", caller.AgentID,
	)
	e.emit(ctx, event.TypeWorkflowCancelled, wf, caller.AgentID, map[string]interface{}{
		"reason": reason,
	})

	return e.withSteps(ctx, wf)
}

func (e *engineImpl) Get(ctx context.Context, caller entity.Caller, workflowID int64) (*entity.ApprovalWorkflow, error) {
	wf, err := e.repos.Workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, errs.ErrWorkflowNotFound
	}

	wf, err = e.withSteps(ctx, wf)
	if err != nil {
		return nil, err
	}
	if !canView(caller, wf) {
		return nil, fmt.Errorf("%w: workflow %d", errs.ErrUnauthorized, workflowID)
	}
	return wf, nil
}

// canView admits the requester, any approver in the chain and override holders
func canView(caller entity.Caller, wf *entity.ApprovalWorkflow) bool {
	if wf.RequesterID == caller.AgentID || caller.Has(entity.PermissionWorkflowOverride) {
		return true
	}
	for _, s := range wf.Steps {
		if s.ApproverID == caller.AgentID {
			return true
		}
	}
	return false
}

func (e *engineImpl) List(ctx context.Context, caller entity.Caller, req ListRequest) ([]*entity.ApprovalWorkflow, error) {
	requester := req.RequesterID
	if requester == "" {
		requester = caller.AgentID
	}
	if requester != caller.AgentID && !caller.Has(entity.PermissionWorkflowOverride) {
		return nil, fmt.Errorf("%w: cannot list workflows of %s", errs.ErrUnauthorized, requester)
	}

	return e.repos.Workflows.List(ctx, port.WorkflowFilter{
		RequesterID: requester,
		Status:      strings.ToUpper(req.Status),
		Limit:       req.Limit,
		Offset:      req.Offset,
	})
}

func (e *engineImpl) ListPending(ctx context.Context, caller entity.Caller, limit, offset int) ([]*entity.ApprovalWorkflow, error) {
	return e.repos.Workflows.ListAwaitingApprover(ctx, caller.AgentID,
		caller.Has(entity.PermissionWorkflowOverride), limit, offset)
}

func (e *engineImpl) History(ctx context.Context, caller entity.Caller, workflowID int64) ([]*entity.TransitionRecord, error) {
	if _, err := e.Get(ctx, caller, workflowID); err != nil {
		return nil, err
	}
	return e.repos.History.ListByEntity(ctx, entity.EntityTypeWorkflow, workflowID)
}

func (e *engineImpl) withSteps(ctx context.Context, wf *entity.ApprovalWorkflow) (*entity.ApprovalWorkflow, error) {
	steps, err := e.repos.Steps.GetByWorkflowID(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	wf.Steps = steps
	return wf, nil
}

func (e *engineImpl) record(ctx context.Context, workflowID int64, previous, next, action, actor, note string) error {
	return e.repos.History.Create(ctx, &entity.TransitionRecord{
		EntityType:     entity.EntityTypeWorkflow,
		EntityID:       workflowID,
		PreviousStatus: previous,
		NewStatus:      next,
		Action:         action,
		Actor:          actor,
		Note:           note,
		CreatedAt:      e.now().UTC(),
	})
}

// emit fires after commit; handler failures never undo a committed transition
func (e *engineImpl) emit(ctx context.Context, typ event.Type, wf *entity.ApprovalWorkflow, actor string, payload map[string]interface{}) {
	if e.dispatcher == nil {
		return
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["status"] = wf.Status
	e.dispatcher.DispatchAsync(ctx, event.NewEvent(typ, wf.ID, actor, payload))
}
