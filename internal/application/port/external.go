package port

import (
	"context"
	"errors"

	"github.com/garyjia/booking-orchestrator/internal/domain/entity"
)

// ErrSlotTaken is returned by AppointmentRepository.Create when the doctor's slot is already booked
var ErrSlotTaken = errors.New("slot unavailable")

// MaterializeRequest carries one batch item to the booking collaborator
type MaterializeRequest struct {
	// IdempotencyKey is stable across retries of the same item
	IdempotencyKey string
	AgentID        string
	CustomerID     int64
	Booking        entity.BookingRequest
}

// AppointmentMaterializer turns a booking request into a persisted appointment.
// Any returned error is recorded on the item; it never aborts the batch.
type AppointmentMaterializer interface {
	CreateAppointment(ctx context.Context, req MaterializeRequest) (*entity.Appointment, error)
}

// IdentityResolver authenticates a bearer token into a caller
type IdentityResolver interface {
	ResolveCaller(ctx context.Context, token string) (*entity.Caller, error)
}

// OwnershipChecker answers whether an agent owns a customer
type OwnershipChecker interface {
	OwnsResource(ctx context.Context, agentID string, customerID int64) (bool, error)
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// NopLogger discards everything
type NopLogger struct{}

func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
