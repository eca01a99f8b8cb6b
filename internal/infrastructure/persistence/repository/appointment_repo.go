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

const appointmentColumns = `
	id, reference, idempotency_key, customer_id, agent_id, patient_name, patient_phone,
	patient_email, patient_date_of_birth, patient_gender, doctor_id, hospital_id,
	appointment_date, appointment_time, consultation_fee, notes, status, created_at`

// AppointmentRepository implements port.AppointmentRepository
type AppointmentRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewAppointmentRepository creates a new appointment repository
func NewAppointmentRepository(db *sqlite.DB, logger *zap.Logger) *AppointmentRepository {
	return &AppointmentRepository{db: db, logger: logger}
}

// Create inserts an appointment. A doctor slot collision returns port.ErrSlotTaken.
func (r *AppointmentRepository) Create(ctx context.Context, a *entity.Appointment) error {
	stampNow(&a.CreatedAt, nil)

	result, err := r.db.Executor(ctx).ExecContext(ctx, `
		INSERT INTO appointments (
			reference, idempotency_key, customer_id, agent_id, patient_name, patient_phone,
			patient_email, patient_date_of_birth, patient_gender, doctor_id, hospital_id,
			appointment_date, appointment_time, consultation_fee, notes, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Reference, nullString(a.IdempotencyKey), a.CustomerID, a.AgentID, a.PatientName,
		nullString(a.PatientPhone), nullString(a.PatientEmail), nullString(a.PatientDateOfBirth),
		nullString(a.PatientGender), a.DoctorID, a.HospitalID, a.AppointmentDate, a.AppointmentTime,
		a.ConsultationFee, nullString(a.Notes), a.Status, a.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "appointments.doctor_id") {
			return port.ErrSlotTaken
		}
		r.logger.Error("Failed to create appointment", zap.String("reference", a.Reference), zap.Error(err))
		return fmt.Errorf("failed to create appointment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	a.ID = id
	return nil
}

// GetByID retrieves an appointment
func (r *AppointmentRepository) GetByID(ctx context.Context, id int64) (*entity.Appointment, error) {
	return r.getOne(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = ?`, id)
}

// GetByIdempotencyKey retrieves the appointment created for a materialization key
func (r *AppointmentRepository) GetByIdempotencyKey(ctx context.Context, key string) (*entity.Appointment, error) {
	return r.getOne(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE idempotency_key = ?`, key)
}

func (r *AppointmentRepository) getOne(ctx context.Context, query string, arg interface{}) (*entity.Appointment, error) {
	var a entity.Appointment
	var key, phone, email, dob, gender, notes sql.NullString

	err := r.db.Executor(ctx).QueryRowContext(ctx, query, arg).Scan(
		&a.ID, &a.Reference, &key, &a.CustomerID, &a.AgentID, &a.PatientName, &phone,
		&email, &dob, &gender, &a.DoctorID, &a.HospitalID,
		&a.AppointmentDate, &a.AppointmentTime, &a.ConsultationFee, &notes, &a.Status, &a.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get appointment", zap.Any("key", arg), zap.Error(err))
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}

	a.IdempotencyKey = key.String
	a.PatientPhone = phone.String
	a.PatientEmail = email.String
	a.PatientDateOfBirth = dob.String
	a.PatientGender = gender.String
	a.Notes = notes.String
	return &a, nil
}

// DoctorRepository implements port.DoctorRepository
type DoctorRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewDoctorRepository creates a new doctor repository
func NewDoctorRepository(db *sqlite.DB, logger *zap.Logger) *DoctorRepository {
	return &DoctorRepository{db: db, logger: logger}
}

// Create inserts a doctor, creating the hospital row on first use
func (r *DoctorRepository) Create(ctx context.Context, d *entity.Doctor) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		exec := r.db.Executor(ctx)
		if _, err := exec.ExecContext(ctx,
			`INSERT OR IGNORE INTO hospitals (id, name) VALUES (?, ?)`,
			d.HospitalID, fmt.Sprintf("Hospital %d", d.HospitalID),
		); err != nil {
			return fmt.Errorf("failed to ensure hospital: %w", err)
		}

		var result sql.Result
		var err error
		if d.ID != 0 {
			result, err = exec.ExecContext(ctx,
				`INSERT INTO doctors (id, hospital_id, name, active) VALUES (?, ?, ?, ?)`,
				d.ID, d.HospitalID, d.Name, d.Active)
		} else {
			result, err = exec.ExecContext(ctx,
				`INSERT INTO doctors (hospital_id, name, active) VALUES (?, ?, ?)`,
				d.HospitalID, d.Name, d.Active)
		}
		if err != nil {
			r.logger.Error("Failed to create doctor", zap.String("name", d.Name), zap.Error(err))
			return fmt.Errorf("failed to create doctor: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		d.ID = id
		return nil
	})
}

// GetByID retrieves a doctor
func (r *DoctorRepository) GetByID(ctx context.Context, id int64) (*entity.Doctor, error) {
	var d entity.Doctor
	err := r.db.Executor(ctx).QueryRowContext(ctx,
		`SELECT id, hospital_id, name, active FROM doctors WHERE id = ?`, id,
	).Scan(&d.ID, &d.HospitalID, &d.Name, &d.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get doctor", zap.Int64("doctor_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get doctor: %w", err)
	}
	return &d, nil
}

var (
	_ port.AppointmentRepository = (*AppointmentRepository)(nil)
	_ port.DoctorRepository      = (*DoctorRepository)(nil)
)
