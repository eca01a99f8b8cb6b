package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/booking-orchestrator/internal/application/port"
	"github.com/garyjia/booking-orchestrator/internal/domain/entity"
	"github.com/garyjia/booking-orchestrator/internal/domain/errs"
	"github.com/garyjia/booking-orchestrator/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const workflowColumns = `
	w.id, w.request_type, w.request_id, w.requester_id, w.total_steps, w.current_step,
	w.status, w.priority, w.request_data, w.cancellation_reason, w.completed_at,
	w.version, w.created_at, w.updated_at`

// WorkflowRepository implements port.WorkflowRepository
type WorkflowRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *sqlite.DB, logger *zap.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// Create inserts a workflow row
func (r *WorkflowRepository) Create(ctx context.Context, wf *entity.ApprovalWorkflow) error {
	stampNow(&wf.CreatedAt, &wf.UpdatedAt)
	if wf.Version == 0 {
		wf.Version = 1
	}

	var requestData sql.NullString
	if len(wf.RequestData) > 0 {
		requestData = sql.NullString{String: string(wf.RequestData), Valid: true}
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx, `
		INSERT INTO approval_workflows (
			request_type, request_id, requester_id, total_steps, current_step,
			status, priority, request_data, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.RequestType, wf.RequestID, wf.RequesterID, wf.TotalSteps, wf.CurrentStep,
		wf.Status, wf.Priority, requestData, wf.Version, wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create workflow", zap.String("requester_id", wf.RequesterID), zap.Error(err))
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	wf.ID = id
	return nil
}

// GetByID retrieves a workflow without its steps
func (r *WorkflowRepository) GetByID(ctx context.Context, id int64) (*entity.ApprovalWorkflow, error) {
	row := r.db.Executor(ctx).QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM approval_workflows w WHERE w.id = ?`, id)

	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get workflow", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return wf, nil
}

// Update persists status fields if the stored version still matches wf.Version
func (r *WorkflowRepository) Update(ctx context.Context, wf *entity.ApprovalWorkflow) error {
	now := stampNow(nil, &wf.UpdatedAt)

	result, err := r.db.Executor(ctx).ExecContext(ctx, `
		UPDATE approval_workflows
		SET current_step = ?, status = ?, cancellation_reason = ?, completed_at = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		wf.CurrentStep, wf.Status, nullString(wf.CancellationReason), nullTime(wf.CompletedAt),
		now, wf.ID, wf.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update workflow", zap.Int64("id", wf.ID), zap.Error(err))
		return fmt.Errorf("failed to update workflow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("workflow %d at version %d: %w", wf.ID, wf.Version, errs.ErrConcurrentModification)
	}

	wf.Version++
	return nil
}

// List retrieves workflows, newest first
func (r *WorkflowRepository) List(ctx context.Context, filter port.WorkflowFilter) ([]*entity.ApprovalWorkflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM approval_workflows w WHERE 1 = 1`
	var args []interface{}
	if filter.RequesterID != "" {
		query += ` AND w.requester_id = ?`
		args = append(args, filter.RequesterID)
	}
	if filter.Status != "" {
		query += ` AND w.status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY w.created_at DESC, w.id DESC LIMIT ? OFFSET ?`
	args = append(args, clampLimit(filter.Limit), filter.Offset)

	return r.query(ctx, "list workflows", query, args...)
}

// ListAwaitingApprover retrieves open workflows whose current step waits on approverID
func (r *WorkflowRepository) ListAwaitingApprover(ctx context.Context, approverID string, includeUnassigned bool, limit, offset int) ([]*entity.ApprovalWorkflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM approval_workflows w
		JOIN workflow_steps s ON s.workflow_id = w.id AND s.step_order = w.current_step
		WHERE w.status IN (?, ?)
			AND s.status IN (?, ?)
			AND (s.approver_id = ? OR (? AND s.approver_id IS NULL))
		ORDER BY w.created_at ASC, w.id ASC
		LIMIT ? OFFSET ?`

	return r.query(ctx, "list workflows awaiting approver", query,
		entity.WorkflowStatusPending, entity.WorkflowStatusInProgress,
		entity.StepStatusPending, entity.StepStatusInProgress,
		approverID, includeUnassigned,
		clampLimit(limit), offset,
	)
}

func (r *WorkflowRepository) query(ctx context.Context, op, query string, args ...interface{}) ([]*entity.ApprovalWorkflow, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to "+op, zap.Error(err))
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	workflows := make([]*entity.ApprovalWorkflow, 0)
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func scanWorkflow(s rowScanner) (*entity.ApprovalWorkflow, error) {
	var wf entity.ApprovalWorkflow
	var requestData, cancellationReason sql.NullString
	var completedAt sql.NullTime

	if err := s.Scan(
		&wf.ID, &wf.RequestType, &wf.RequestID, &wf.RequesterID, &wf.TotalSteps, &wf.CurrentStep,
		&wf.Status, &wf.Priority, &requestData, &cancellationReason, &completedAt,
		&wf.Version, &wf.CreatedAt, &wf.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if requestData.Valid {
		wf.RequestData = []byte(requestData.String)
	}
	wf.CancellationReason = cancellationReason.String
	wf.CompletedAt = timePtr(completedAt)
	return &wf, nil
}

var _ port.WorkflowRepository = (*WorkflowRepository)(nil)
