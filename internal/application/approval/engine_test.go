package approval

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/garyjia/booking-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/booking-orchestrator/internal/application/port"
	"github.com/garyjia/booking-orchestrator/internal/domain/entity"
	"github.com/garyjia/booking-orchestrator/internal/domain/errs"
	"github.com/garyjia/booking-orchestrator/internal/domain/event"
	"github.com/garyjia/booking-orchestrator/internal/infrastructure/persistence/repository"
	"github.com/garyjia/booking-orchestrator/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/booking-orchestrator/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	requester = entity.Caller{AgentID: "requester"}
	alice     = entity.Caller{AgentID: "alice"}
	bob       = entity.Caller{AgentID: "bob"}
	mallory   = entity.Caller{AgentID: "mallory"}
	manager   = entity.Caller{AgentID: "manager", Permissions: []string{entity.PermissionWorkflowOverride}}
)

type fixture struct {
	db     *sqlite.DB
	repos  Repositories
	engine Engine
}

func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	for _, id := range []string{"requester", "alice", "bob", "mallory", "manager"} {
		testutil.SeedAgent(t, db, id)
	}

	logger := zap.NewNop()
	repos := Repositories{
		Workflows: repository.NewWorkflowRepository(db, logger),
		Steps:     repository.NewStepRepository(db, logger),
		History:   repository.NewHistoryRepository(db, logger),
		Agents:    repository.NewAgentRepository(db, logger),
	}
	return &fixture{db: db, repos: repos, engine: NewEngine(repos, db, opts...)}
}

func (f *fixture) create(t *testing.T, steps ...entity.StepDefinition) *entity.ApprovalWorkflow {
	t.Helper()
	wf, err := f.engine.Create(context.Background(), requester, CreateRequest{
		RequestType: entity.RequestTypeRefund,
		RequestID:   "refund-42",
		RequestData: []byte(`{"amount": 250}`),
		Steps:       steps,
	})
	require.NoError(t, err)
	return wf
}

func decide(wf *entity.ApprovalWorkflow, order int, verdict string) DecideRequest {
	return DecideRequest{WorkflowID: wf.ID, StepID: wf.Steps[order-1].ID, Verdict: verdict}
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t, entity.StepDefinition{ApproverID: "alice"}, entity.StepDefinition{ApproverID: "bob"})

	assert.Equal(t, 2, wf.TotalSteps)
	assert.Equal(t, 1, wf.CurrentStep)
	assert.Equal(t, entity.WorkflowStatusPending, wf.Status)
	assert.Equal(t, entity.PriorityMedium, wf.Priority)
	require.Len(t, wf.Steps, 2)
	for i, s := range wf.Steps {
		assert.Equal(t, i+1, s.StepOrder)
		assert.Equal(t, entity.StepStatusPending, s.Status)
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"no steps", CreateRequest{RequestType: entity.RequestTypeRefund, RequestID: "r"}},
		{"unknown approver", CreateRequest{RequestType: entity.RequestTypeRefund, RequestID: "r",
			Steps: []entity.StepDefinition{{ApproverID: "alice"}, {ApproverID: "ghost"}}}},
		{"unknown request type", CreateRequest{RequestType: "LOAN", RequestID: "r",
			Steps: []entity.StepDefinition{{ApproverID: "alice"}}}},
		{"missing request id", CreateRequest{RequestType: entity.RequestTypeRefund,
			Steps: []entity.StepDefinition{{ApproverID: "alice"}}}},
		{"bad priority", CreateRequest{RequestType: entity.RequestTypeRefund, RequestID: "r", Priority: "CRITICAL",
			Steps: []entity.StepDefinition{{ApproverID: "alice"}}}},
		{"too many steps", CreateRequest{RequestType: entity.RequestTypeRefund, RequestID: "r",
			Steps: []entity.StepDefinition{{}, {}, {}}}},
		{"invalid request data", CreateRequest{RequestType: entity.RequestTypeRefund, RequestID: "r",
			RequestData: []byte(`{oops`), Steps: []entity.StepDefinition{{ApproverID: "alice"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, WithMaxSteps(2))
			_, err := f.engine.Create(context.Background(), requester, tt.req)
			assert.ErrorIs(t, err, errs.ErrInvalidWorkflowRequest)
			assert.Equal(t, errs.KindValidation, errs.KindOf(err))
			assert.Zero(t, testutil.CountRows(t, f.db, "approval_workflows"))
			assert.Zero(t, testutil.CountRows(t, f.db, "workflow_steps"))
		})
	}
}

func TestDecideStep_ApproveThenReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := f.create(t, entity.StepDefinition{ApproverID: "alice"}, entity.StepDefinition{ApproverID: "bob"})

	got, err := f.engine.DecideStep(ctx, alice, decide(wf, 1, entity.VerdictApproved))
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentStep)
	assert.Equal(t, entity.WorkflowStatusInProgress, got.Status)
	assert.Nil(t, got.CompletedAt)

	got, err = f.engine.DecideStep(ctx, bob, DecideRequest{
		WorkflowID: wf.ID, StepID: wf.Steps[1].ID, Verdict: "rejected", Comments: "over budget",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusRejected, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, entity.StepStatusApproved, got.Steps[0].Status)
	assert.Equal(t, entity.StepStatusRejected, got.Steps[1].Status)
	assert.Equal(t, "over budget", got.Steps[1].Comments)
	assert.Equal(t, "bob", got.Steps[1].ProcessedBy)
	require.NotNil(t, got.Steps[1].ProcessedAt)

	history, err := f.engine.History(ctx, requester, wf.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "create", history[0].Action)
	assert.Equal(t, entity.WorkflowStatusInProgress, history[2].PreviousStatus)
	assert.Equal(t, entity.WorkflowStatusRejected, history[2].NewStatus)
}

func TestDecideStep_AllApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := f.create(t,
		entity.StepDefinition{ApproverID: "alice"},
		entity.StepDefinition{ApproverID: "bob"},
		entity.StepDefinition{ApproverID: "alice"},
	)

	approvers := []entity.Caller{alice, bob, alice}
	for i, approver := range approvers {
		got, err := f.engine.DecideStep(ctx, approver, decide(wf, i+1, entity.VerdictApproved))
		require.NoError(t, err)

		if i < len(approvers)-1 {
			assert.Equal(t, i+2, got.CurrentStep, "current step points at the lowest open step")
			assert.Equal(t, entity.WorkflowStatusInProgress, got.Status)
		} else {
			assert.Equal(t, entity.WorkflowStatusApproved, got.Status)
			assert.Equal(t, 3, got.CurrentStep)
			assert.NotNil(t, got.CompletedAt)
		}
	}
}

func TestDecideStep_RejectLeavesLaterStepsPending(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t,
		entity.StepDefinition{ApproverID: "alice"},
		entity.StepDefinition{ApproverID: "bob"},
		entity.StepDefinition{ApproverID: "bob"},
	)

	got, err := f.engine.DecideStep(context.Background(), alice, decide(wf, 1, entity.VerdictRejected))
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusRejected, got.Status)
	assert.Equal(t, 1, got.CurrentStep)
	assert.Equal(t, entity.StepStatusPending, got.Steps[1].Status)
	assert.Equal(t, entity.StepStatusPending, got.Steps[2].Status)

	_, err = f.engine.DecideStep(context.Background(), bob, decide(wf, 2, entity.VerdictApproved))
	assert.ErrorIs(t, err, errs.ErrWorkflowAlreadyTerminal)
}

func TestDecideStep_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := f.create(t, entity.StepDefinition{ApproverID: "alice"}, entity.StepDefinition{ApproverID: "bob"})
	other := f.create(t, entity.StepDefinition{ApproverID: "alice"})

	tests := []struct {
		name     string
		caller   entity.Caller
		req      DecideRequest
		wantErr  error
		wantKind errs.Kind
	}{
		{"unknown workflow", alice, DecideRequest{WorkflowID: 999, StepID: wf.Steps[0].ID, Verdict: entity.VerdictApproved},
			errs.ErrWorkflowNotFound, errs.KindNotFound},
		{"step of another workflow", alice, DecideRequest{WorkflowID: wf.ID, StepID: other.Steps[0].ID, Verdict: entity.VerdictApproved},
			errs.ErrStepNotFound, errs.KindNotFound},
		{"not the approver", mallory, decide(wf, 1, entity.VerdictApproved),
			errs.ErrNotApprover, errs.KindUnauthorized},
		{"approver of a later step", bob, decide(wf, 1, entity.VerdictApproved),
			errs.ErrNotApprover, errs.KindUnauthorized},
		{"out of order", bob, decide(wf, 2, entity.VerdictApproved),
			errs.ErrStepNotActive, errs.KindInvalidTransition},
		{"bad verdict", alice, decide(wf, 1, "MAYBE"),
			errs.ErrInvalidVerdict, errs.KindValidation},
		{"skip required step", alice, decide(wf, 1, entity.VerdictSkipped),
			errs.ErrInvalidVerdict, errs.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.DecideStep(ctx, tt.caller, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantKind, errs.KindOf(err))
		})
	}

	// nothing above mutated the workflow
	got, err := f.engine.Get(ctx, requester, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusPending, got.Status)
	assert.Equal(t, 1, got.CurrentStep)
	assert.Equal(t, int64(1), got.Version)
	for _, s := range got.Steps {
		assert.Equal(t, entity.StepStatusPending, s.Status)
		assert.Nil(t, s.ProcessedAt)
	}
}

func TestDecideStep_AlreadyDecided(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := f.create(t, entity.StepDefinition{ApproverID: "alice"}, entity.StepDefinition{ApproverID: "bob"})

	_, err := f.engine.DecideStep(ctx, alice, decide(wf, 1, entity.VerdictApproved))
	require.NoError(t, err)

	_, err = f.engine.DecideStep(ctx, alice, decide(wf, 1, entity.VerdictApproved))
	assert.ErrorIs(t, err, errs.ErrStepAlreadyDecided)
	assert.Equal(t, errs.KindInvalidTransition, errs.KindOf(err))

	// a decided step stays decided even for an override holder
	_, err = f.engine.DecideStep(ctx, manager, decide(wf, 1, entity.VerdictRejected))
	assert.ErrorIs(t, err, errs.ErrStepAlreadyDecided)

	got, err := f.engine.Get(ctx, requester, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentStep)
	assert.Equal(t, entity.StepStatusApproved, got.Steps[0].Status)
}

func TestDecideStep_OverrideAndUnassignedSteps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := f.create(t, entity.StepDefinition{}, entity.StepDefinition{ApproverID: "bob"})

	_, err := f.engine.DecideStep(ctx, alice, decide(wf, 1, entity.VerdictApproved))
	assert.ErrorIs(t, err, errs.ErrNotApprover, "unassigned step requires the override permission")

	got, err := f.engine.DecideStep(ctx, manager, decide(wf, 1, entity.VerdictApproved))
	require.NoError(t, err)
	assert.Equal(t, "manager", got.Steps[0].ProcessedBy)

	got, err = f.engine.DecideStep(ctx, manager, decide(wf, 2, entity.VerdictApproved))
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusApproved, got.Status)
}

func TestDecideStep_OptionalSteps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := f.create(t,
		entity.StepDefinition{ApproverID: "alice", IsOptional: true},
		entity.StepDefinition{ApproverID: "bob"},
		entity.StepDefinition{ApproverID: "alice", IsOptional: true},
	)

	got, err := f.engine.DecideStep(ctx, alice, decide(wf, 1, entity.VerdictRejected))
	require.NoError(t, err)
	assert.Equal(t, entity.StepStatusSkipped, got.Steps[0].Status)
	assert.Equal(t, entity.WorkflowStatusInProgress, got.Status)
	assert.Equal(t, 2, got.CurrentStep)

	_, err = f.engine.DecideStep(ctx, bob, decide(wf, 2, entity.VerdictApproved))
	require.NoError(t, err)

	got, err = f.engine.DecideStep(ctx, alice, decide(wf, 3, entity.VerdictSkipped))
	require.NoError(t, err)
	assert.Equal(t, entity.StepStatusSkipped, got.Steps[2].Status)
	assert.Equal(t, entity.WorkflowStatusApproved, got.Status)
}

func TestDecideStep_ConcurrentDecisionsOnOneWorkflow(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t, entity.StepDefinition{ApproverID: "alice"}, entity.StepDefinition{ApproverID: "bob"})

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.DecideStep(context.Background(), alice, decide(wf, 1, entity.VerdictApproved))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, errs.KindInvalidTransition, errs.KindOf(err))
	}
	assert.Equal(t, 1, succeeded)

	got, err := f.engine.Get(context.Background(), requester, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentStep)
}

// failingHistory fails every write so the surrounding transaction must roll back
type failingHistory struct {
	port.HistoryRepository
	createFn func(ctx context.Context, rec *entity.TransitionRecord) error
}

func (h *failingHistory) Create(ctx context.Context, rec *entity.TransitionRecord) error {
	if h.createFn != nil {
		return h.createFn(ctx, rec)
	}
	return h.HistoryRepository.Create(ctx, rec)
}

func TestDecideStep_PersistenceFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := f.create(t, entity.StepDefinition{ApproverID: "alice"}, entity.StepDefinition{ApproverID: "bob"})

	errDisk := errors.New("disk I/O error")
	repos := f.repos
	repos.History = &failingHistory{
		HistoryRepository: f.repos.History,
		createFn:          func(context.Context, *entity.TransitionRecord) error { return errDisk },
	}
	broken := NewEngine(repos, f.db)

	_, err := broken.DecideStep(ctx, alice, decide(wf, 1, entity.VerdictApproved))
	require.ErrorIs(t, err, errDisk)
	assert.Equal(t, errs.KindInternal, errs.KindOf(err))

	got, err := f.engine.Get(ctx, requester, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusPending, got.Status)
	assert.Equal(t, 1, got.CurrentStep)
	assert.Equal(t, entity.StepStatusPending, got.Steps[0].Status)

	// the real engine can still decide it
	_, err = f.engine.DecideStep(ctx, alice, decide(wf, 1, entity.VerdictApproved))
	require.NoError(t, err)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := f.create(t, entity.StepDefinition{ApproverID: "alice"}, entity.StepDefinition{ApproverID: "bob"})

	_, err := f.engine.Cancel(ctx, alice, wf.ID, "not mine")
	assert.ErrorIs(t, err, errs.ErrNotRequester)

	_, err = f.engine.Cancel(ctx, requester, 12345, "gone")
	assert.ErrorIs(t, err, errs.ErrWorkflowNotFound)

	got, err := f.engine.Cancel(ctx, requester, wf.ID, "customer withdrew")
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusCancelled, got.Status)
	assert.Equal(t, "customer withdrew", got.CancellationReason)
	assert.NotNil(t, got.CompletedAt)

	_, err = f.engine.Cancel(ctx, requester, wf.ID, "again")
	assert.ErrorIs(t, err, errs.ErrWorkflowAlreadyTerminal)

	_, err = f.engine.DecideStep(ctx, alice, decide(wf, 1, entity.VerdictApproved))
	assert.ErrorIs(t, err, errs.ErrWorkflowAlreadyTerminal)

	got, err = f.engine.Get(ctx, requester, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StepStatusPending, got.Steps[0].Status, "steps never change after a terminal status")
}

func TestCancel_OverrideHolder(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t, entity.StepDefinition{ApproverID: "alice"})

	got, err := f.engine.Cancel(context.Background(), manager, wf.ID, "policy")
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusCancelled, got.Status)
}

func TestReads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.create(t, entity.StepDefinition{ApproverID: "alice"}, entity.StepDefinition{ApproverID: "bob"})
	second := f.create(t, entity.StepDefinition{ApproverID: "bob"})

	_, err := f.engine.Get(ctx, mallory, first.ID)
	assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))

	got, err := f.engine.Get(ctx, bob, first.ID)
	require.NoError(t, err, "approvers later in the chain can read the workflow")
	assert.Len(t, got.Steps, 2)

	pending, err := f.engine.ListPending(ctx, bob, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)

	mine, err := f.engine.List(ctx, requester, ListRequest{})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	_, err = f.engine.List(ctx, alice, ListRequest{RequesterID: "requester"})
	assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))

	all, err := f.engine.List(ctx, manager, ListRequest{RequesterID: "requester", Status: "pending"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestEventsEmittedAfterCommit(t *testing.T) {
	d := dispatcher.NewDispatcher()
	var mu sync.Mutex
	var seen []event.Type
	for _, typ := range []event.Type{event.TypeWorkflowCreated, event.TypeStepDecided, event.TypeWorkflowCompleted} {
		d.Subscribe(typ, func(_ context.Context, evt *event.Event) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, evt.Type)
			return nil
		})
	}

	f := newFixture(t, WithDispatcher(d))
	wf := f.create(t, entity.StepDefinition{ApproverID: "alice"})
	_, err := f.engine.DecideStep(context.Background(), alice, decide(wf, 1, entity.VerdictApproved))
	require.NoError(t, err)
	require.NoError(t, d.Close())

	assert.ElementsMatch(t, []event.Type{
		event.TypeWorkflowCreated, event.TypeStepDecided, event.TypeWorkflowCompleted,
	}, seen)
}
