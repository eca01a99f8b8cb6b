package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/booking-orchestrator/internal/application/port"
	"github.com/garyjia/booking-orchestrator/internal/domain/entity"
	"github.com/garyjia/booking-orchestrator/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new transition history repository
func NewHistoryRepository(db *sqlite.DB, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{db: db, logger: logger}
}

// Create appends a transition record
func (r *HistoryRepository) Create(ctx context.Context, rec *entity.TransitionRecord) error {
	stampNow(&rec.CreatedAt, nil)

	result, err := r.db.Executor(ctx).ExecContext(ctx, `
		INSERT INTO transition_history (
			entity_type, entity_id, previous_status, new_status, action, actor, note, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EntityType, rec.EntityID, nullString(rec.PreviousStatus), rec.NewStatus,
		rec.Action, nullString(rec.Actor), nullString(rec.Note), rec.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create transition record",
			zap.String("entity_type", rec.EntityType),
			zap.Int64("entity_id", rec.EntityID),
			zap.Error(err))
		return fmt.Errorf("failed to create transition record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// ListByEntity retrieves the trail of one entity in write order
func (r *HistoryRepository) ListByEntity(ctx context.Context, entityType string, entityID int64) ([]*entity.TransitionRecord, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, `
		SELECT id, entity_type, entity_id, previous_status, new_status, action, actor, note, created_at
		FROM transition_history
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY id`, entityType, entityID)
	if err != nil {
		r.logger.Error("Failed to list transition history", zap.Int64("entity_id", entityID), zap.Error(err))
		return nil, fmt.Errorf("failed to list transition history: %w", err)
	}
	defer rows.Close()

	records := make([]*entity.TransitionRecord, 0)
	for rows.Next() {
		var rec entity.TransitionRecord
		var prev, actor, note sql.NullString
		if err := rows.Scan(&rec.ID, &rec.EntityType, &rec.EntityID, &prev, &rec.NewStatus,
			&rec.Action, &actor, &note, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transition record: %w", err)
		}
		rec.PreviousStatus = prev.String
		rec.Actor = actor.String
		rec.Note = note.String
		records = append(records, &rec)
	}
	return records, rows.Err()
}

var _ port.HistoryRepository = (*HistoryRepository)(nil)
