package entity

import "time"

// BulkBooking is a submitted group of appointment requests processed as independent items
type BulkBooking struct {
	ID              int64      `json:"id"`
	BatchNumber     string     `json:"batch_number"`
	BatchName       string     `json:"batch_name"`
	AgentID         string     `json:"agent_id"`
	CustomerID      int64      `json:"customer_id"`
	TotalItems      int        `json:"total_items"`
	SuccessfulItems int        `json:"successful_items"`
	FailedItems     int        `json:"failed_items"`
	Status          string     `json:"status"`
	Notes           string     `json:"notes,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Version         int64      `json:"version"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	Items []*BulkBookingItem `json:"items,omitempty"`
}

// IsResolved reports whether the batch left PROCESSING
func (b *BulkBooking) IsResolved() bool {
	return b.Status != BatchStatusProcessing
}

// BookingRequest is the denormalized appointment request carried by an item
type BookingRequest struct {
	PatientName        string  `json:"patient_name"`
	PatientPhone       string  `json:"patient_phone"`
	PatientEmail       string  `json:"patient_email,omitempty"`
	PatientDateOfBirth string  `json:"patient_date_of_birth,omitempty"`
	PatientGender      string  `json:"patient_gender,omitempty"`
	DoctorID           int64   `json:"doctor_id"`
	HospitalID         int64   `json:"hospital_id"`
	AppointmentDate    string  `json:"appointment_date"`
	AppointmentTime    string  `json:"appointment_time"`
	ConsultationFee    float64 `json:"consultation_fee"`
	Notes              string  `json:"notes,omitempty"`
}

// BulkBookingItem is one appointment request within a batch
type BulkBookingItem struct {
	ID             int64 `json:"id"`
	BulkBookingID  int64 `json:"bulk_booking_id"`
	SequenceNumber int   `json:"sequence_number"`
	BookingRequest
	Status        string     `json:"status"`
	AppointmentID *int64     `json:"appointment_id,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	Attempts      int        `json:"attempts"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
