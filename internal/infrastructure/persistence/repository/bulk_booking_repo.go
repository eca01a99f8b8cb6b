package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/booking-orchestrator/internal/application/port"
	"github.com/garyjia/booking-orchestrator/internal/domain/entity"
	"github.com/garyjia/booking-orchestrator/internal/domain/errs"
	"github.com/garyjia/booking-orchestrator/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const bulkBookingColumns = `
	id, batch_number, batch_name, agent_id, customer_id, total_items, successful_items,
	failed_items, status, notes, completed_at, version, created_at, updated_at`

// BulkBookingRepository implements port.BulkBookingRepository
type BulkBookingRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewBulkBookingRepository creates a new bulk booking repository
func NewBulkBookingRepository(db *sqlite.DB, logger *zap.Logger) *BulkBookingRepository {
	return &BulkBookingRepository{db: db, logger: logger}
}

// Create inserts a batch row
func (r *BulkBookingRepository) Create(ctx context.Context, b *entity.BulkBooking) error {
	stampNow(&b.CreatedAt, &b.UpdatedAt)
	if b.Version == 0 {
		b.Version = 1
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx, `
		INSERT INTO bulk_bookings (
			batch_number, batch_name, agent_id, customer_id, total_items,
			successful_items, failed_items, status, notes, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.BatchNumber, nullString(b.BatchName), b.AgentID, b.CustomerID, b.TotalItems,
		b.SuccessfulItems, b.FailedItems, b.Status, nullString(b.Notes), b.Version,
		b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create bulk booking", zap.String("batch_number", b.BatchNumber), zap.Error(err))
		return fmt.Errorf("failed to create bulk booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	b.ID = id
	return nil
}

// GetByID retrieves a batch without its items
func (r *BulkBookingRepository) GetByID(ctx context.Context, id int64) (*entity.BulkBooking, error) {
	return r.getOne(ctx, `SELECT `+bulkBookingColumns+` FROM bulk_bookings WHERE id = ?`, id)
}

// GetByBatchNumber retrieves a batch by its public number
func (r *BulkBookingRepository) GetByBatchNumber(ctx context.Context, batchNumber string) (*entity.BulkBooking, error) {
	return r.getOne(ctx, `SELECT `+bulkBookingColumns+` FROM bulk_bookings WHERE batch_number = ?`, batchNumber)
}

func (r *BulkBookingRepository) getOne(ctx context.Context, query string, arg interface{}) (*entity.BulkBooking, error) {
	b, err := scanBulkBooking(r.db.Executor(ctx).QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get bulk booking", zap.Any("key", arg), zap.Error(err))
		return nil, fmt.Errorf("failed to get bulk booking: %w", err)
	}
	return b, nil
}

// Update persists counters and status if the stored version still matches b.Version
func (r *BulkBookingRepository) Update(ctx context.Context, b *entity.BulkBooking) error {
	now := stampNow(nil, &b.UpdatedAt)

	result, err := r.db.Executor(ctx).ExecContext(ctx, `
		UPDATE bulk_bookings
		SET successful_items = ?, failed_items = ?, status = ?, notes = ?, completed_at = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		b.SuccessfulItems, b.FailedItems, b.Status, nullString(b.Notes), nullTime(b.CompletedAt),
		now, b.ID, b.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update bulk booking", zap.Int64("id", b.ID), zap.Error(err))
		return fmt.Errorf("failed to update bulk booking: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("bulk booking %d at version %d: %w", b.ID, b.Version, errs.ErrConcurrentModification)
	}

	b.Version++
	return nil
}

// List retrieves batches, newest first
func (r *BulkBookingRepository) List(ctx context.Context, filter port.BatchFilter) ([]*entity.BulkBooking, error) {
	query := `SELECT ` + bulkBookingColumns + ` FROM bulk_bookings WHERE 1 = 1`
	var args []interface{}
	if filter.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, filter.AgentID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, clampLimit(filter.Limit), filter.Offset)

	return r.query(ctx, "list bulk bookings", query, args...)
}

// ListStale retrieves PROCESSING batches last updated before the cutoff, oldest first
func (r *BulkBookingRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]*entity.BulkBooking, error) {
	return r.query(ctx, "list stale bulk bookings",
		`SELECT `+bulkBookingColumns+` FROM bulk_bookings
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC LIMIT ?`,
		entity.BatchStatusProcessing, before.UTC(), clampLimit(limit),
	)
}

func (r *BulkBookingRepository) query(ctx context.Context, op, query string, args ...interface{}) ([]*entity.BulkBooking, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to "+op, zap.Error(err))
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	batches := make([]*entity.BulkBooking, 0)
	for rows.Next() {
		b, err := scanBulkBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bulk booking: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func scanBulkBooking(s rowScanner) (*entity.BulkBooking, error) {
	var b entity.BulkBooking
	var name, notes sql.NullString
	var completedAt sql.NullTime

	if err := s.Scan(
		&b.ID, &b.BatchNumber, &name, &b.AgentID, &b.CustomerID, &b.TotalItems, &b.SuccessfulItems,
		&b.FailedItems, &b.Status, &notes, &completedAt, &b.Version, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}

	b.BatchName = name.String
	b.Notes = notes.String
	b.CompletedAt = timePtr(completedAt)
	return &b, nil
}

var _ port.BulkBookingRepository = (*BulkBookingRepository)(nil)
