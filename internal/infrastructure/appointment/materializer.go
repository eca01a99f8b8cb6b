// Package appointment materializes batch items into rows of the appointments table.
package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/booking-orchestrator/internal/application/port"
	"github.com/garyjia/booking-orchestrator/internal/domain/entity"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Errors recorded on failed items
var (
	ErrDoctorNotFound    = errors.New("doctor not found")
	ErrDoctorInactive    = errors.New("doctor is not accepting appointments")
	ErrHospitalMismatch  = errors.New("doctor does not practice at the requested hospital")
	ErrMissingIdempotent = errors.New("idempotency key is required")
)

// Materializer implements port.AppointmentMaterializer against local tables
type Materializer struct {
	appointments port.AppointmentRepository
	doctors      port.DoctorRepository
	txManager    port.TransactionManager
	logger       *zap.Logger
}

// NewMaterializer creates a new appointment materializer
func NewMaterializer(
	appointments port.AppointmentRepository,
	doctors port.DoctorRepository,
	txManager port.TransactionManager,
	logger *zap.Logger,
) *Materializer {
	return &Materializer{
		appointments: appointments,
		doctors:      doctors,
		txManager:    txManager,
		logger:       logger,
	}
}

// CreateAppointment books the slot, or returns the appointment already created
// under the same idempotency key
func (m *Materializer) CreateAppointment(ctx context.Context, req port.MaterializeRequest) (*entity.Appointment, error) {
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return nil, ErrMissingIdempotent
	}

	var created *entity.Appointment
	err := m.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := m.appointments.GetByIdempotencyKey(txCtx, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			created = existing
			return nil
		}

		doctor, err := m.doctors.GetByID(txCtx, req.Booking.DoctorID)
		if err != nil {
			return err
		}
		switch {
		case doctor == nil:
			return fmt.Errorf("%w: %d", ErrDoctorNotFound, req.Booking.DoctorID)
		case !doctor.Active:
			return ErrDoctorInactive
		case doctor.HospitalID != req.Booking.HospitalID:
			return ErrHospitalMismatch
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		a := &entity.Appointment{
			Reference:      "APT-" + strings.ToUpper(uuid.NewString()),
			IdempotencyKey: req.IdempotencyKey,
			CustomerID:     req.CustomerID,
			AgentID:        req.AgentID,
			BookingRequest: req.Booking,
			Status:         entity.AppointmentStatusScheduled,
		}
		if err := m.appointments.Create(txCtx, a); err != nil {
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		if errors.Is(err, port.ErrSlotTaken) {
			return nil, fmt.Errorf("%w: doctor %d on %s at %s", port.ErrSlotTaken,
				req.Booking.DoctorID, req.Booking.AppointmentDate, req.Booking.AppointmentTime)
		}
		return nil, err
	}

	m.logger.Debug("Appointment materialized",
		zap.Int64("appointment_id", created.ID),
		zap.String("reference", created.Reference),
		zap.String("idempotency_key", req.IdempotencyKey))
	return created, nil
}

var _ port.AppointmentMaterializer = (*Materializer)(nil)
