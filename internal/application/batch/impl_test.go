package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

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
	owner      = entity.Caller{AgentID: "owner"}
	stranger   = entity.Caller{AgentID: "stranger"}
	supervisor = entity.Caller{AgentID: "supervisor", Permissions: []string{entity.PermissionBatchOverride}}
)

// fakeMaterializer hands out sequential appointment ids unless createFn says otherwise
type fakeMaterializer struct {
	createFn func(ctx context.Context, req port.MaterializeRequest) (*entity.Appointment, error)
	nextID   int64
	calls    int64

	mu   sync.Mutex
	keys []string
}

func (m *fakeMaterializer) CreateAppointment(ctx context.Context, req port.MaterializeRequest) (*entity.Appointment, error) {
	atomic.AddInt64(&m.calls, 1)
	m.mu.Lock()
	m.keys = append(m.keys, req.IdempotencyKey)
	m.mu.Unlock()

	if m.createFn != nil {
		return m.createFn(ctx, req)
	}
	return &entity.Appointment{ID: atomic.AddInt64(&m.nextID, 1), IdempotencyKey: req.IdempotencyKey}, nil
}

func (m *fakeMaterializer) Calls() int {
	return int(atomic.LoadInt64(&m.calls))
}

// tableOwnership answers from the customers table
type tableOwnership struct {
	customers port.CustomerRepository
}

func (o tableOwnership) OwnsResource(ctx context.Context, agentID string, customerID int64) (bool, error) {
	c, err := o.customers.GetByID(ctx, customerID)
	if err != nil || c == nil {
		return false, err
	}
	return c.AgentID == agentID, nil
}

type fixture struct {
	db         *sqlite.DB
	repos      Repositories
	mat        *fakeMaterializer
	customerID int64
	processor  Processor
}

func newFixture(t *testing.T, cfg Config, opts ...ProcessorOption) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	for _, id := range []string{"owner", "stranger", "supervisor"} {
		testutil.SeedAgent(t, db, id)
	}

	logger := zap.NewNop()
	repos := Repositories{
		Batches:   repository.NewBulkBookingRepository(db, logger),
		Items:     repository.NewBulkBookingItemRepository(db, logger),
		Customers: repository.NewCustomerRepository(db, logger),
		History:   repository.NewHistoryRepository(db, logger),
	}
	f := &fixture{
		db:         db,
		repos:      repos,
		mat:        &fakeMaterializer{},
		customerID: testutil.SeedCustomer(t, db, "owner"),
	}
	f.processor = NewProcessor(cfg, repos, db, f.mat, tableOwnership{customers: repos.Customers}, opts...)
	return f
}

func booking(i int) entity.BookingRequest {
	return entity.BookingRequest{
		PatientName:     fmt.Sprintf("Patient %d", i),
		PatientPhone:    "+6591234567",
		DoctorID:        7,
		HospitalID:      3,
		AppointmentDate: "2026-11-02",
		AppointmentTime: fmt.Sprintf("%02d:00", 8+i),
	}
}

func bookings(n int) []entity.BookingRequest {
	out := make([]entity.BookingRequest, n)
	for i := range out {
		out[i] = booking(i + 1)
	}
	return out
}

// failPatients fails the named patients on the first attempt only
func failPatients(names ...string) func(ctx context.Context, req port.MaterializeRequest) (*entity.Appointment, error) {
	var mu sync.Mutex
	failed := make(map[string]bool)
	var next int64 = 100
	return func(ctx context.Context, req port.MaterializeRequest) (*entity.Appointment, error) {
		mu.Lock()
		defer mu.Unlock()
		for _, n := range names {
			if req.Booking.PatientName == n && !failed[n] {
				failed[n] = true
				return nil, port.ErrSlotTaken
			}
		}
		next++
		return &entity.Appointment{ID: next}, nil
	}
}

func (f *fixture) submit(t *testing.T, n int) *entity.BulkBooking {
	t.Helper()
	b, err := f.processor.Submit(context.Background(), owner, SubmitRequest{
		CustomerID: f.customerID,
		BatchName:  "Clinic day",
		Items:      bookings(n),
	})
	require.NoError(t, err)
	return b
}

func itemsByStatus(b *entity.BulkBooking, status string) []*entity.BulkBookingItem {
	var out []*entity.BulkBookingItem
	for _, item := range b.Items {
		if item.Status == status {
			out = append(out, item)
		}
	}
	return out
}

func TestSubmit_AllSucceed(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	b := f.submit(t, 3)

	assert.Equal(t, entity.BatchStatusCompleted, b.Status)
	assert.Equal(t, 3, b.TotalItems)
	assert.Equal(t, 3, b.SuccessfulItems)
	assert.Equal(t, 0, b.FailedItems)
	assert.NotNil(t, b.CompletedAt)
	assert.Regexp(t, `^BB-\d{8}-[0-9A-F-]{36}$`, b.BatchNumber)
	require.Len(t, b.Items, 3)
	for i, item := range b.Items {
		assert.Equal(t, i+1, item.SequenceNumber)
		assert.Equal(t, entity.ItemStatusSuccess, item.Status)
		assert.NotNil(t, item.AppointmentID)
		assert.NotNil(t, item.ProcessedAt)
		assert.Equal(t, 1, item.Attempts)
	}
	assert.ElementsMatch(t, []string{
		IdempotencyKey(b.BatchNumber, 1),
		IdempotencyKey(b.BatchNumber, 2),
		IdempotencyKey(b.BatchNumber, 3),
	}, f.mat.keys)
}

func TestSubmit_PartialFailureThenRetry(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.mat.createFn = failPatients("Patient 2", "Patient 4")
	ctx := context.Background()

	b := f.submit(t, 5)

	assert.Equal(t, entity.BatchStatusPartiallyCompleted, b.Status)
	assert.Equal(t, 3, b.SuccessfulItems)
	assert.Equal(t, 2, b.FailedItems)

	failed := itemsByStatus(b, entity.ItemStatusFailed)
	require.Len(t, failed, 2)
	for _, item := range failed {
		assert.Equal(t, port.ErrSlotTaken.Error(), item.ErrorMessage)
		assert.Nil(t, item.AppointmentID)
	}
	before := make(map[int64]int64)
	for _, item := range itemsByStatus(b, entity.ItemStatusSuccess) {
		before[item.ID] = *item.AppointmentID
	}
	callsBefore := f.mat.Calls()

	retried, err := f.processor.Retry(ctx, owner, b.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, f.mat.Calls()-callsBefore, "only failed items are re-run")
	assert.Equal(t, entity.BatchStatusCompleted, retried.Status)
	assert.Equal(t, 5, retried.SuccessfulItems)
	assert.Equal(t, 0, retried.FailedItems)
	for _, item := range retried.Items {
		assert.Equal(t, entity.ItemStatusSuccess, item.Status)
		assert.Empty(t, item.ErrorMessage)
		if id, ok := before[item.ID]; ok {
			assert.Equal(t, id, *item.AppointmentID)
			assert.Equal(t, 1, item.Attempts)
		} else {
			assert.Equal(t, 2, item.Attempts)
		}
	}
}

func TestSubmit_AllFail(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.mat.createFn = func(context.Context, port.MaterializeRequest) (*entity.Appointment, error) {
		return nil, errors.New("doctor is not accepting bookings")
	}

	b := f.submit(t, 2)

	assert.Equal(t, entity.BatchStatusFailed, b.Status)
	assert.Equal(t, 0, b.SuccessfulItems)
	assert.Equal(t, 2, b.FailedItems)
}

func TestSubmit_Validation(t *testing.T) {
	tooMany := bookings(11)
	badTime := bookings(1)
	badTime[0].AppointmentTime = "9am"
	noName := bookings(2)
	noName[1].PatientName = "  "

	tests := []struct {
		name  string
		items []entity.BookingRequest
	}{
		{"no items", nil},
		{"over the limit", tooMany},
		{"bad time", badTime},
		{"blank patient name", noName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig())
			_, err := f.processor.Submit(context.Background(), owner, SubmitRequest{
				CustomerID: f.customerID,
				Items:      tt.items,
			})
			require.ErrorIs(t, err, errs.ErrInvalidBatchRequest)
			assert.Equal(t, errs.KindValidation, errs.KindOf(err))
			assert.Equal(t, 0, testutil.CountRows(t, f.db, "bulk_bookings"))
			assert.Equal(t, 0, f.mat.Calls())
		})
	}
}

func TestSubmit_CustomerChecks(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	_, err := f.processor.Submit(ctx, stranger, SubmitRequest{CustomerID: f.customerID, Items: bookings(1)})
	assert.ErrorIs(t, err, errs.ErrNotCustomerOwner)
	assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))

	_, err = f.processor.Submit(ctx, owner, SubmitRequest{CustomerID: 9999, Items: bookings(1)})
	assert.ErrorIs(t, err, errs.ErrCustomerNotFound)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	assert.Equal(t, 0, testutil.CountRows(t, f.db, "bulk_bookings"))
	assert.Equal(t, 0, testutil.CountRows(t, f.db, "bulk_booking_items"))
}

func TestSubmit_ItemTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ItemTimeout = 50 * time.Millisecond
	f := newFixture(t, cfg)
	release := make(chan struct{})
	defer close(release)
	f.mat.createFn = func(ctx context.Context, req port.MaterializeRequest) (*entity.Appointment, error) {
		if req.Booking.PatientName == "Patient 1" {
			// ignores ctx on purpose
			<-release
		}
		return &entity.Appointment{ID: 1}, nil
	}

	b := f.submit(t, 2)

	assert.Equal(t, entity.BatchStatusPartiallyCompleted, b.Status)
	failed := itemsByStatus(b, entity.ItemStatusFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].SequenceNumber)
	assert.Equal(t, "appointment creation timed out after 50ms", failed[0].ErrorMessage)
}

func TestSubmit_PanickingMaterializerFailsItem(t *testing.T) {
	logger := &testutil.Logger{}
	f := newFixture(t, DefaultConfig(), WithLogger(logger))
	f.mat.createFn = func(context.Context, port.MaterializeRequest) (*entity.Appointment, error) {
		panic("boom")
	}

	b := f.submit(t, 1)

	assert.Equal(t, entity.BatchStatusFailed, b.Status)
	assert.Contains(t, b.Items[0].ErrorMessage, "panicked")

	var failed bool
	for _, e := range logger.Entries {
		if strings.Contains(e, "Batch item failed") && strings.Contains(e, "boom") {
			failed = true
		}
	}
	assert.True(t, failed, "item failure not logged: %v", logger.Entries)
}

func TestProcessBatch_BoundsConcurrency(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 2
	f := newFixture(t, cfg)

	var inFlight, peak int64
	f.mat.createFn = func(context.Context, port.MaterializeRequest) (*entity.Appointment, error) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return &entity.Appointment{ID: n}, nil
	}

	b := f.submit(t, 6)

	assert.Equal(t, entity.BatchStatusCompleted, b.Status)
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestSubmit_CallerCancellationKeepsFinishedItems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 1
	f := newFixture(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.mat.createFn = func(_ context.Context, req port.MaterializeRequest) (*entity.Appointment, error) {
		// the client goes away while the first booking is being made
		cancel()
		return &entity.Appointment{ID: 42, IdempotencyKey: req.IdempotencyKey}, nil
	}

	b, err := f.processor.Submit(ctx, owner, SubmitRequest{
		CustomerID: f.customerID,
		BatchName:  "Clinic day",
		Items:      bookings(3),
	})
	require.NoError(t, err)
	assert.Equal(t, entity.BatchStatusProcessing, b.Status)
	assert.Equal(t, 1, f.mat.Calls())

	require.Len(t, b.Items, 3)
	first := b.Items[0]
	assert.Equal(t, entity.ItemStatusSuccess, first.Status)
	require.NotNil(t, first.AppointmentID)
	assert.Equal(t, int64(42), *first.AppointmentID)
	for _, item := range b.Items[1:] {
		assert.Equal(t, entity.ItemStatusPending, item.Status, "item %d", item.SequenceNumber)
		assert.Empty(t, item.ErrorMessage)
		assert.Zero(t, item.Attempts)
	}

	f.mat.createFn = nil
	resumed, err := f.processor.ProcessBatch(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BatchStatusCompleted, resumed.Status)
	assert.Equal(t, 3, resumed.SuccessfulItems)
	assert.Zero(t, resumed.FailedItems)
	assert.Equal(t, 3, f.mat.Calls())
	assert.Equal(t, int64(42), *resumed.Items[0].AppointmentID)
}

func TestResumeBatch_SkipsBusyBatch(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.mat.createFn = func(context.Context, port.MaterializeRequest) (*entity.Appointment, error) {
		once.Do(func() { close(started) })
		<-release
		return &entity.Appointment{ID: 7}, nil
	}

	submitted := make(chan error, 1)
	go func() {
		_, err := f.processor.Submit(context.Background(), owner, SubmitRequest{
			CustomerID: f.customerID,
			BatchName:  "Clinic day",
			Items:      bookings(1),
		})
		submitted <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("processing never started")
	}

	ctx := context.Background()
	list, err := f.processor.List(ctx, owner, ListRequest{})
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = f.processor.ResumeBatch(ctx, list[0].ID)
	assert.ErrorIs(t, err, errs.ErrBatchBusy)

	close(release)
	require.NoError(t, <-submitted)

	b, err := f.processor.ResumeBatch(ctx, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BatchStatusCompleted, b.Status)
	assert.Equal(t, 1, f.mat.Calls())
}

var errCommit = errors.New("commit failed")

// flakyCommits fails the failOn-th transaction after its body ran, as a failed COMMIT would
type flakyCommits struct {
	port.TransactionManager
	failOn int64
	calls  atomic.Int64
}

func (m *flakyCommits) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	n := m.calls.Add(1)
	return m.TransactionManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := fn(txCtx); err != nil {
			return err
		}
		if n == m.failOn {
			return errCommit
		}
		return nil
	})
}

func TestProcessBatch_FailedOutcomeCommitDoesNotPoisonRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 1
	f := newFixture(t, cfg)
	// transaction 1 creates the batch, transaction 2 records item 1
	tx := &flakyCommits{TransactionManager: f.db, failOn: 2}
	p := NewProcessor(cfg, f.repos, tx, f.mat, tableOwnership{customers: f.repos.Customers})
	ctx := context.Background()

	_, err := p.Submit(ctx, owner, SubmitRequest{
		CustomerID: f.customerID,
		BatchName:  "Clinic day",
		Items:      bookings(3),
	})
	require.ErrorIs(t, err, errCommit)

	list, err := p.List(ctx, owner, ListRequest{})
	require.NoError(t, err)
	require.Len(t, list, 1)

	stored, err := p.Get(ctx, owner, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BatchStatusProcessing, stored.Status)
	assert.Equal(t, 2, stored.SuccessfulItems)
	require.Len(t, stored.Items, 3)
	assert.Equal(t, entity.ItemStatusPending, stored.Items[0].Status)
	assert.Equal(t, entity.ItemStatusSuccess, stored.Items[1].Status)
	assert.Equal(t, entity.ItemStatusSuccess, stored.Items[2].Status)

	b, err := p.ProcessBatch(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BatchStatusCompleted, b.Status)
	assert.Equal(t, 3, b.SuccessfulItems)
}

func TestProcessBatch_Idempotent(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	b := f.submit(t, 3)
	calls := f.mat.Calls()
	historyBefore := testutil.CountRows(t, f.db, "transition_history")

	again, err := f.processor.ProcessBatch(ctx, b.ID)
	require.NoError(t, err)

	assert.Equal(t, calls, f.mat.Calls())
	assert.Equal(t, b.Status, again.Status)
	assert.Equal(t, b.Version, again.Version)
	assert.Equal(t, historyBefore, testutil.CountRows(t, f.db, "transition_history"))

	_, err = f.processor.ProcessBatch(ctx, 9999)
	assert.ErrorIs(t, err, errs.ErrBatchNotFound)
}

func TestRetry_Rules(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing to retry", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		b := f.submit(t, 2)
		_, err := f.processor.Retry(ctx, owner, b.ID, nil)
		assert.ErrorIs(t, err, errs.ErrNothingToRetry)
	})

	t.Run("not the owner", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		f.mat.createFn = failPatients("Patient 1")
		b := f.submit(t, 2)
		_, err := f.processor.Retry(ctx, stranger, b.ID, nil)
		assert.ErrorIs(t, err, errs.ErrNotBatchOwner)
	})

	t.Run("selected items must be failed members", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		f.mat.createFn = failPatients("Patient 1")
		b := f.submit(t, 2)
		ok := itemsByStatus(b, entity.ItemStatusSuccess)[0]

		_, err := f.processor.Retry(ctx, owner, b.ID, []int64{ok.ID})
		assert.ErrorIs(t, err, errs.ErrItemNotRetryable)

		_, err = f.processor.Retry(ctx, owner, b.ID, []int64{424242})
		assert.ErrorIs(t, err, errs.ErrItemNotFound)
	})

	t.Run("selected subset only", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		f.mat.createFn = failPatients("Patient 1", "Patient 2")
		b := f.submit(t, 3)
		failed := itemsByStatus(b, entity.ItemStatusFailed)
		require.Len(t, failed, 2)

		retried, err := f.processor.Retry(ctx, supervisor, b.ID, []int64{failed[0].ID, failed[0].ID})
		require.NoError(t, err)

		assert.Equal(t, entity.BatchStatusPartiallyCompleted, retried.Status)
		assert.Equal(t, 2, retried.SuccessfulItems)
		assert.Equal(t, 1, retried.FailedItems)
	})

	t.Run("cancelled batch", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		f.mat.createFn = func(context.Context, port.MaterializeRequest) (*entity.Appointment, error) {
			return nil, port.ErrSlotTaken
		}
		b := f.submit(t, 1)
		_, err := f.processor.Cancel(ctx, owner, b.ID, "")
		require.NoError(t, err)

		_, err = f.processor.Retry(ctx, owner, b.ID, nil)
		assert.ErrorIs(t, err, errs.ErrBatchAlreadyTerminal)
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("failed batch", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		f.mat.createFn = func(context.Context, port.MaterializeRequest) (*entity.Appointment, error) {
			return nil, port.ErrSlotTaken
		}
		b := f.submit(t, 2)
		require.Equal(t, entity.BatchStatusFailed, b.Status)

		_, err := f.processor.Cancel(ctx, stranger, b.ID, "")
		assert.ErrorIs(t, err, errs.ErrNotBatchOwner)

		cancelled, err := f.processor.Cancel(ctx, owner, b.ID, "customer withdrew")
		require.NoError(t, err)
		assert.Equal(t, entity.BatchStatusCancelled, cancelled.Status)
		assert.Contains(t, cancelled.Notes, "customer withdrew")

		_, err = f.processor.Cancel(ctx, owner, b.ID, "")
		assert.ErrorIs(t, err, errs.ErrBatchAlreadyTerminal)

		history, err := f.processor.History(ctx, owner, b.ID)
		require.NoError(t, err)
		require.NotEmpty(t, history)
		last := history[len(history)-1]
		assert.Equal(t, "cancel", last.Action)
		assert.Equal(t, entity.BatchStatusFailed, last.PreviousStatus)
	})

	t.Run("resolved with successes", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		b := f.submit(t, 1)
		_, err := f.processor.Cancel(ctx, owner, b.ID, "")
		assert.ErrorIs(t, err, errs.ErrBatchNotCancellable)
		assert.Equal(t, errs.KindInvalidTransition, errs.KindOf(err))
	})

	t.Run("pending batch is left untouched by processing", func(t *testing.T) {
		d := dispatcher.NewDispatcher()
		defer d.Close()
		cfg := DefaultConfig()
		cfg.ProcessInline = false
		f := newFixture(t, cfg, WithDispatcher(d))

		b := f.submit(t, 2)
		assert.Equal(t, entity.BatchStatusProcessing, b.Status)

		_, err := f.processor.Cancel(ctx, owner, b.ID, "")
		require.NoError(t, err)

		after, err := f.processor.ProcessBatch(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.BatchStatusCancelled, after.Status)
		assert.Len(t, itemsByStatus(after, entity.ItemStatusPending), 2)
		assert.Equal(t, 0, f.mat.Calls())
	})
}

// failingItems fails every update so the surrounding transaction must roll back
type failingItems struct {
	port.BulkBookingItemRepository
	err error
}

func (r *failingItems) Update(context.Context, *entity.BulkBookingItem) error {
	return r.err
}

func TestRetry_PersistenceFailureRollsBack(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.mat.createFn = failPatients("Patient 1")
	ctx := context.Background()
	b := f.submit(t, 2)

	errDisk := errors.New("disk full")
	repos := f.repos
	repos.Items = &failingItems{BulkBookingItemRepository: f.repos.Items, err: errDisk}
	broken := NewProcessor(DefaultConfig(), repos, f.db, f.mat, tableOwnership{customers: repos.Customers})

	_, err := broken.Retry(ctx, owner, b.ID, nil)
	require.ErrorIs(t, err, errDisk)

	stored, err := f.processor.Get(ctx, owner, b.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BatchStatusPartiallyCompleted, stored.Status)
	assert.Equal(t, b.Version, stored.Version)
	assert.Len(t, itemsByStatus(stored, entity.ItemStatusFailed), 1)
}

func TestAsyncProcessingViaDispatcher(t *testing.T) {
	d := dispatcher.NewDispatcher()
	defer d.Close()
	cfg := DefaultConfig()
	cfg.ProcessInline = false
	f := newFixture(t, cfg, WithDispatcher(d))

	processed := make(chan *event.Event, 1)
	d.Subscribe(event.TypeBatchSubmitted, f.processor.HandleEvent)
	d.Subscribe(event.TypeBatchProcessed, func(_ context.Context, evt *event.Event) error {
		processed <- evt
		return nil
	})

	b := f.submit(t, 3)
	assert.Equal(t, entity.BatchStatusProcessing, b.Status)

	select {
	case evt := <-processed:
		assert.Equal(t, b.ID, evt.EntityID)
		assert.Equal(t, entity.BatchStatusCompleted, evt.GetPayloadString("status"))
	case <-time.After(5 * time.Second):
		t.Fatal("batch was never processed")
	}

	stored, err := f.processor.Get(context.Background(), owner, b.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BatchStatusCompleted, stored.Status)
}

func TestReads(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	b := f.submit(t, 1)

	_, err := f.processor.Get(ctx, stranger, b.ID)
	assert.ErrorIs(t, err, errs.ErrNotBatchOwner)

	got, err := f.processor.Get(ctx, supervisor, b.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)

	mine, err := f.processor.List(ctx, owner, ListRequest{})
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	_, err = f.processor.List(ctx, stranger, ListRequest{AgentID: "owner"})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	theirs, err := f.processor.List(ctx, supervisor, ListRequest{AgentID: "owner", Status: "completed"})
	require.NoError(t, err)
	assert.Len(t, theirs, 1)

	history, err := f.processor.History(ctx, owner, b.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "submit", history[0].Action)
	assert.Equal(t, "resolve", history[1].Action)
	assert.Equal(t, entity.BatchStatusCompleted, history[1].NewStatus)
}
