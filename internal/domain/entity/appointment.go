package entity

import "time"

// Appointment is a materialized booking with a doctor
type Appointment struct {
	ID             int64  `json:"id"`
	Reference      string `json:"reference"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	CustomerID     int64  `json:"customer_id"`
	AgentID        string `json:"agent_id"`
	BookingRequest
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Doctor belongs to a hospital and can be booked while active
type Doctor struct {
	ID         int64  `json:"id"`
	HospitalID int64  `json:"hospital_id"`
	Name       string `json:"name"`
	Active     bool   `json:"active"`
}
