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

const stepColumns = `
	id, workflow_id, step_order, approver_id, is_optional, status, comments,
	approver_notes, processed_at, processed_by, created_at, updated_at`

// StepRepository implements port.StepRepository
type StepRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewStepRepository creates a new step repository
func NewStepRepository(db *sqlite.DB, logger *zap.Logger) *StepRepository {
	return &StepRepository{db: db, logger: logger}
}

// CreateAll inserts the steps of one workflow
func (r *StepRepository) CreateAll(ctx context.Context, steps []*entity.WorkflowStep) error {
	exec := r.db.Executor(ctx)
	for _, step := range steps {
		stampNow(&step.CreatedAt, &step.UpdatedAt)

		result, err := exec.ExecContext(ctx, `
			INSERT INTO workflow_steps (
				workflow_id, step_order, approver_id, is_optional, status, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			step.WorkflowID, step.StepOrder, nullString(step.ApproverID), step.IsOptional,
			step.Status, step.CreatedAt, step.UpdatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to create workflow step",
				zap.Int64("workflow_id", step.WorkflowID),
				zap.Int("step_order", step.StepOrder),
				zap.Error(err))
			return fmt.Errorf("failed to create step %d: %w", step.StepOrder, err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		step.ID = id
	}
	return nil
}

// GetByID retrieves a step
func (r *StepRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowStep, error) {
	row := r.db.Executor(ctx).QueryRowContext(ctx, `SELECT `+stepColumns+` FROM workflow_steps WHERE id = ?`, id)

	step, err := scanStep(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get step", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get step: %w", err)
	}
	return step, nil
}

// GetByWorkflowID retrieves all steps of a workflow ordered by step order
func (r *StepRepository) GetByWorkflowID(ctx context.Context, workflowID int64) ([]*entity.WorkflowStep, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx,
		`SELECT `+stepColumns+` FROM workflow_steps WHERE workflow_id = ? ORDER BY step_order`, workflowID)
	if err != nil {
		r.logger.Error("Failed to get steps", zap.Int64("workflow_id", workflowID), zap.Error(err))
		return nil, fmt.Errorf("failed to get steps: %w", err)
	}
	defer rows.Close()

	var steps []*entity.WorkflowStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// Update persists the decision fields of a step
func (r *StepRepository) Update(ctx context.Context, step *entity.WorkflowStep) error {
	now := stampNow(nil, &step.UpdatedAt)

	_, err := r.db.Executor(ctx).ExecContext(ctx, `
		UPDATE workflow_steps
		SET status = ?, comments = ?, approver_notes = ?, processed_at = ?, processed_by = ?, updated_at = ?
		WHERE id = ?`,
		step.Status, nullString(step.Comments), nullString(step.ApproverNotes),
		nullTime(step.ProcessedAt), nullString(step.ProcessedBy), now, step.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update step", zap.Int64("id", step.ID), zap.Error(err))
		return fmt.Errorf("failed to update step: %w", err)
	}
	return nil
}

func scanStep(s rowScanner) (*entity.WorkflowStep, error) {
	var step entity.WorkflowStep
	var approverID, comments, notes, processedBy sql.NullString
	var processedAt sql.NullTime

	if err := s.Scan(
		&step.ID, &step.WorkflowID, &step.StepOrder, &approverID, &step.IsOptional, &step.Status,
		&comments, &notes, &processedAt, &processedBy, &step.CreatedAt, &step.UpdatedAt,
	); err != nil {
		return nil, err
	}

	step.ApproverID = approverID.String
	step.Comments = comments.String
	step.ApproverNotes = notes.String
	step.ProcessedBy = processedBy.String
	step.ProcessedAt = timePtr(processedAt)
	return &step, nil
}

var _ port.StepRepository = (*StepRepository)(nil)
