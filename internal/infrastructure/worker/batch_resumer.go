package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/booking-orchestrator/internal/application/port"
	"github.com/garyjia/booking-orchestrator/internal/domain/entity"
	"github.com/garyjia/booking-orchestrator/internal/domain/errs"
	"go.uber.org/zap"
)

// BatchRunner drives one batch to resolution, reporting errs.ErrBatchBusy
// for a batch another run holds
type BatchRunner interface {
	ResumeBatch(ctx context.Context, batchID int64) (*entity.BulkBooking, error)
}

// ResumerConfig controls the batch resumer
type ResumerConfig struct {
	// Interval between sweeps
	Interval time.Duration
	// StaleAfter is how long a batch must sit in PROCESSING before it is picked up
	StaleAfter time.Duration
	// BatchSize caps batches per sweep
	BatchSize int
}

// BatchResumer re-drives PROCESSING batches whose run was interrupted
type BatchResumer struct {
	batches port.BulkBookingRepository
	runner  BatchRunner
	cfg     ResumerConfig
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewBatchResumer creates a new batch resumer
func NewBatchResumer(batches port.BulkBookingRepository, runner BatchRunner, cfg ResumerConfig, logger *zap.Logger) *BatchResumer {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	return &BatchResumer{
		batches: batches,
		runner:  runner,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Start launches the sweep loop
func (r *BatchResumer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRunning {
		return fmt.Errorf("batch resumer is already running")
	}

	var loopCtx context.Context
	loopCtx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	r.isRunning = true

	r.logger.Info("BatchResumer started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Duration("stale_after", r.cfg.StaleAfter))

	go r.pollLoop(loopCtx, r.done)
	return nil
}

// Stop cancels the loop and waits for the current sweep to finish
func (r *BatchResumer) Stop() error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	r.cancel()
	done := r.done
	r.mu.Unlock()

	<-done
	r.logger.Info("BatchResumer stopped")
	return nil
}

// Name returns the worker name for identification
func (r *BatchResumer) Name() string {
	return "BatchResumer"
}

func (r *BatchResumer) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep processes every stale batch once and returns how many resolved
func (r *BatchResumer) Sweep(ctx context.Context) int {
	cutoff := r.now().Add(-r.cfg.StaleAfter).UTC()
	stale, err := r.batches.ListStale(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		r.logger.Error("Failed to list stale batches", zap.Error(err))
		return 0
	}
	if len(stale) == 0 {
		return 0
	}

	resolved := 0
	for _, b := range stale {
		if ctx.Err() != nil {
			break
		}
		result, err := r.runner.ResumeBatch(ctx, b.ID)
		if errors.Is(err, errs.ErrBatchBusy) {
			r.logger.Info("Batch busy, left for next sweep", zap.Int64("batch_id", b.ID))
			continue
		}
		if err != nil {
			r.logger.Error("Failed to resume batch",
				zap.Int64("batch_id", b.ID),
				zap.String("batch_number", b.BatchNumber),
				zap.Error(err))
			continue
		}
		if result.IsResolved() {
			resolved++
		}
	}

	r.logger.Info("Batch resume sweep completed",
		zap.Int("stale", len(stale)),
		zap.Int("resolved", resolved))
	return resolved
}
