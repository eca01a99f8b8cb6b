package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/garyjia/booking-orchestrator/internal/application/port"
	"github.com/garyjia/booking-orchestrator/internal/domain/entity"
	"github.com/garyjia/booking-orchestrator/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// AgentRepository implements port.AgentRepository
type AgentRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewAgentRepository creates a new agent repository
func NewAgentRepository(db *sqlite.DB, logger *zap.Logger) *AgentRepository {
	return &AgentRepository{db: db, logger: logger}
}

// Create inserts an agent
func (r *AgentRepository) Create(ctx context.Context, agent *entity.Agent) error {
	stampNow(&agent.CreatedAt, nil)

	perms := agent.Permissions
	if perms == nil {
		perms = []string{}
	}
	permsJSON, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}

	if _, err := r.db.Executor(ctx).ExecContext(ctx,
		`INSERT INTO agents (id, name, email, permissions, created_at) VALUES (?, ?, ?, ?, ?)`,
		agent.ID, agent.Name, nullString(agent.Email), string(permsJSON), agent.CreatedAt,
	); err != nil {
		r.logger.Error("Failed to create agent", zap.String("agent_id", agent.ID), zap.Error(err))
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

// GetByID retrieves an agent
func (r *AgentRepository) GetByID(ctx context.Context, id string) (*entity.Agent, error) {
	var agent entity.Agent
	var email sql.NullString
	var perms string

	err := r.db.Executor(ctx).QueryRowContext(ctx,
		`SELECT id, name, email, permissions, created_at FROM agents WHERE id = ?`, id,
	).Scan(&agent.ID, &agent.Name, &email, &perms, &agent.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get agent", zap.String("agent_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	agent.Email = email.String
	if err := json.Unmarshal([]byte(perms), &agent.Permissions); err != nil {
		return nil, fmt.Errorf("failed to decode permissions of agent %s: %w", id, err)
	}
	return &agent, nil
}

// CustomerRepository implements port.CustomerRepository
type CustomerRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewCustomerRepository creates a new customer repository
func NewCustomerRepository(db *sqlite.DB, logger *zap.Logger) *CustomerRepository {
	return &CustomerRepository{db: db, logger: logger}
}

// Create inserts a customer
func (r *CustomerRepository) Create(ctx context.Context, c *entity.Customer) error {
	stampNow(&c.CreatedAt, nil)

	result, err := r.db.Executor(ctx).ExecContext(ctx,
		`INSERT INTO customers (agent_id, name, phone, email, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.AgentID, c.Name, nullString(c.Phone), nullString(c.Email), c.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create customer", zap.String("agent_id", c.AgentID), zap.Error(err))
		return fmt.Errorf("failed to create customer: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	c.ID = id
	return nil
}

// GetByID retrieves a customer
func (r *CustomerRepository) GetByID(ctx context.Context, id int64) (*entity.Customer, error) {
	var c entity.Customer
	var phone, email sql.NullString

	err := r.db.Executor(ctx).QueryRowContext(ctx,
		`SELECT id, agent_id, name, phone, email, created_at FROM customers WHERE id = ?`, id,
	).Scan(&c.ID, &c.AgentID, &c.Name, &phone, &email, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get customer", zap.Int64("customer_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	c.Phone = phone.String
	c.Email = email.String
	return &c, nil
}

var (
	_ port.AgentRepository    = (*AgentRepository)(nil)
	_ port.CustomerRepository = (*CustomerRepository)(nil)
)
