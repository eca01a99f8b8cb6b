package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garyjia/booking-orchestrator/internal/domain/event"
)

// recordingLogger implements port.Logger for testing
type recordingLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (l *recordingLogger) Info(msg string, _ ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}

func (l *recordingLogger) Error(msg string, _ ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

func newEvent(t event.Type) *event.Event {
	return event.NewEvent(t, 1, "agent-1", nil)
}

func TestSubscribe_GeneratesDistinctNames(t *testing.T) {
	d := NewDispatcher()
	noop := func(context.Context, *event.Event) error { return nil }

	d.Subscribe(event.TypeBatchSubmitted, noop)
	d.Subscribe(event.TypeBatchSubmitted, noop)

	handlers := d.ListHandlers(event.TypeBatchSubmitted)
	if len(handlers) != 2 {
		t.Fatalf("expected 2 handlers, got %d", len(handlers))
	}
	if handlers[0].Name == handlers[1].Name {
		t.Errorf("handler names should differ, both are %q", handlers[0].Name)
	}
	for _, h := range handlers {
		if h.Handler != nil {
			t.Error("ListHandlers() must not expose the handler func")
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	var called atomic.Int32
	d.SubscribeNamed(event.TypeBatchProcessed, "keep", func(context.Context, *event.Event) error {
		called.Add(1)
		return nil
	})
	d.SubscribeNamed(event.TypeBatchProcessed, "drop", func(context.Context, *event.Event) error {
		called.Add(100)
		return nil
	})

	d.Unsubscribe(event.TypeBatchProcessed, "drop")

	if err := d.Dispatch(context.Background(), newEvent(event.TypeBatchProcessed)); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got := called.Load(); got != 1 {
		t.Errorf("called = %d, want 1", got)
	}
}

func TestDispatch(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name      string
		handlers  []Handler
		wantErr   bool
		wantCalls int32
	}{
		{
			name:      "no handlers",
			wantCalls: 0,
		},
		{
			name: "all succeed",
			handlers: []Handler{
				func(context.Context, *event.Event) error { return nil },
				func(context.Context, *event.Event) error { return nil },
			},
			wantCalls: 2,
		},
		{
			name: "failure does not stop later handlers",
			handlers: []Handler{
				func(context.Context, *event.Event) error { return errBoom },
				func(context.Context, *event.Event) error { return nil },
			},
			wantErr:   true,
			wantCalls: 2,
		},
		{
			name: "panic is recovered",
			handlers: []Handler{
				func(context.Context, *event.Event) error { panic("bad handler") },
				func(context.Context, *event.Event) error { return nil },
			},
			wantErr:   true,
			wantCalls: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &recordingLogger{}
			d := NewDispatcher(WithLogger(logger))
			var calls atomic.Int32
			for _, h := range tt.handlers {
				h := h
				d.Subscribe(event.TypeStepDecided, func(ctx context.Context, evt *event.Event) error {
					calls.Add(1)
					return h(ctx, evt)
				})
			}

			err := d.Dispatch(context.Background(), newEvent(event.TypeStepDecided))
			if (err != nil) != tt.wantErr {
				t.Errorf("Dispatch() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
			if tt.wantErr && logger.errorCount() == 0 {
				t.Error("expected handler failure to be logged")
			}
		})
	}
}

func TestDispatch_WrapsHandlerError(t *testing.T) {
	errBoom := errors.New("boom")
	d := NewDispatcher()
	d.Subscribe(event.TypeWorkflowCreated, func(context.Context, *event.Event) error { return errBoom })

	err := d.Dispatch(context.Background(), newEvent(event.TypeWorkflowCreated))
	if !errors.Is(err, errBoom) {
		t.Errorf("Dispatch() error = %v, want wrapping %v", err, errBoom)
	}
}

func TestDispatchAsync_OutlivesCallerContext(t *testing.T) {
	d := NewDispatcher()
	done := make(chan error, 1)
	release := make(chan struct{})

	d.Subscribe(event.TypeBatchSubmitted, func(ctx context.Context, _ *event.Event) error {
		<-release
		done <- ctx.Err()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	d.DispatchAsync(ctx, newEvent(event.TypeBatchSubmitted))
	cancel()
	close(release)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("handler context should not be cancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("async handler did not run")
	}
}

func TestClose(t *testing.T) {
	d := NewDispatcher()
	var finished atomic.Bool
	d.Subscribe(event.TypeBatchRetryRequested, func(context.Context, *event.Event) error {
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return nil
	})

	d.DispatchAsync(context.Background(), newEvent(event.TypeBatchRetryRequested))

	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !finished.Load() {
		t.Error("Close() should wait for async handlers")
	}
	if err := d.Close(); err == nil {
		t.Error("second Close() should fail")
	}
	if err := d.Dispatch(context.Background(), newEvent(event.TypeBatchRetryRequested)); !errors.Is(err, ErrClosed) {
		t.Errorf("Dispatch() after Close error = %v, want ErrClosed", err)
	}
}

func TestConcurrentSubscribeAndDispatch(t *testing.T) {
	d := NewDispatcher()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			d.Subscribe(event.TypeBatchCancelled, func(context.Context, *event.Event) error { return nil })
		}()
		go func() {
			defer wg.Done()
			_ = d.Dispatch(context.Background(), newEvent(event.TypeBatchCancelled))
		}()
	}
	wg.Wait()

	if got := len(d.ListHandlers(event.TypeBatchCancelled)); got != 20 {
		t.Errorf("handlers = %d, want 20", got)
	}
}
