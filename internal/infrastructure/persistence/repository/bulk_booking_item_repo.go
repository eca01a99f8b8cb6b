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

const bulkBookingItemColumns = `
	id, bulk_booking_id, sequence_number, patient_name, patient_phone, patient_email,
	patient_date_of_birth, patient_gender, doctor_id, hospital_id, appointment_date,
	appointment_time, consultation_fee, notes, status, appointment_id, error_message,
	processed_at, attempts, created_at, updated_at`

// BulkBookingItemRepository implements port.BulkBookingItemRepository
type BulkBookingItemRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewBulkBookingItemRepository creates a new item repository
func NewBulkBookingItemRepository(db *sqlite.DB, logger *zap.Logger) *BulkBookingItemRepository {
	return &BulkBookingItemRepository{db: db, logger: logger}
}

// CreateAll inserts the items of one batch
func (r *BulkBookingItemRepository) CreateAll(ctx context.Context, items []*entity.BulkBookingItem) error {
	exec := r.db.Executor(ctx)
	for _, item := range items {
		stampNow(&item.CreatedAt, &item.UpdatedAt)

		result, err := exec.ExecContext(ctx, `
			INSERT INTO bulk_booking_items (
				bulk_booking_id, sequence_number, patient_name, patient_phone, patient_email,
				patient_date_of_birth, patient_gender, doctor_id, hospital_id, appointment_date,
				appointment_time, consultation_fee, notes, status, attempts, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.BulkBookingID, item.SequenceNumber, item.PatientName, nullString(item.PatientPhone),
			nullString(item.PatientEmail), nullString(item.PatientDateOfBirth), nullString(item.PatientGender),
			item.DoctorID, item.HospitalID, item.AppointmentDate, item.AppointmentTime,
			item.ConsultationFee, nullString(item.Notes), item.Status, item.Attempts,
			item.CreatedAt, item.UpdatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to create bulk booking item",
				zap.Int64("bulk_booking_id", item.BulkBookingID),
				zap.Int("sequence_number", item.SequenceNumber),
				zap.Error(err))
			return fmt.Errorf("failed to create item %d: %w", item.SequenceNumber, err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		item.ID = id
	}
	return nil
}

// GetByID retrieves an item
func (r *BulkBookingItemRepository) GetByID(ctx context.Context, id int64) (*entity.BulkBookingItem, error) {
	row := r.db.Executor(ctx).QueryRowContext(ctx,
		`SELECT `+bulkBookingItemColumns+` FROM bulk_booking_items WHERE id = ?`, id)

	item, err := scanBulkBookingItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get bulk booking item", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get bulk booking item: %w", err)
	}
	return item, nil
}

// GetByBulkBookingID retrieves all items of a batch ordered by sequence number
func (r *BulkBookingItemRepository) GetByBulkBookingID(ctx context.Context, bulkBookingID int64) ([]*entity.BulkBookingItem, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx,
		`SELECT `+bulkBookingItemColumns+` FROM bulk_booking_items
		WHERE bulk_booking_id = ? ORDER BY sequence_number`, bulkBookingID)
	if err != nil {
		r.logger.Error("Failed to get bulk booking items", zap.Int64("bulk_booking_id", bulkBookingID), zap.Error(err))
		return nil, fmt.Errorf("failed to get bulk booking items: %w", err)
	}
	defer rows.Close()

	var items []*entity.BulkBookingItem
	for rows.Next() {
		item, err := scanBulkBookingItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bulk booking item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Update persists the outcome fields of an item
func (r *BulkBookingItemRepository) Update(ctx context.Context, item *entity.BulkBookingItem) error {
	now := stampNow(nil, &item.UpdatedAt)

	_, err := r.db.Executor(ctx).ExecContext(ctx, `
		UPDATE bulk_booking_items
		SET status = ?, appointment_id = ?, error_message = ?, processed_at = ?, attempts = ?, updated_at = ?
		WHERE id = ?`,
		item.Status, nullInt64(item.AppointmentID), nullString(item.ErrorMessage),
		nullTime(item.ProcessedAt), item.Attempts, now, item.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update bulk booking item", zap.Int64("id", item.ID), zap.Error(err))
		return fmt.Errorf("failed to update bulk booking item: %w", err)
	}
	return nil
}

func scanBulkBookingItem(s rowScanner) (*entity.BulkBookingItem, error) {
	var item entity.BulkBookingItem
	var phone, email, dob, gender, notes, errMsg sql.NullString
	var appointmentID sql.NullInt64
	var processedAt sql.NullTime

	if err := s.Scan(
		&item.ID, &item.BulkBookingID, &item.SequenceNumber, &item.PatientName, &phone, &email,
		&dob, &gender, &item.DoctorID, &item.HospitalID, &item.AppointmentDate,
		&item.AppointmentTime, &item.ConsultationFee, &notes, &item.Status, &appointmentID, &errMsg,
		&processedAt, &item.Attempts, &item.CreatedAt, &item.UpdatedAt,
	); err != nil {
		return nil, err
	}

	item.PatientPhone = phone.String
	item.PatientEmail = email.String
	item.PatientDateOfBirth = dob.String
	item.PatientGender = gender.String
	item.Notes = notes.String
	item.ErrorMessage = errMsg.String
	item.AppointmentID = int64Ptr(appointmentID)
	item.ProcessedAt = timePtr(processedAt)
	return &item, nil
}

var _ port.BulkBookingItemRepository = (*BulkBookingItemRepository)(nil)
