package entity

import "time"

// Agent is a booking-agency user that can request, approve and submit batches
type Agent struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Customer is owned by exactly one agent
type Customer struct {
	ID        int64     `json:"id"`
	AgentID   string    `json:"agent_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Caller is the authenticated identity supplied by the identity context
type Caller struct {
	AgentID     string   `json:"agent_id"`
	Permissions []string `json:"permissions,omitempty"`
}

// Has reports whether the caller holds a permission
func (c Caller) Has(permission string) bool {
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}
