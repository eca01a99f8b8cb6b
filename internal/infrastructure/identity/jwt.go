// Package identity resolves bearer tokens into callers and answers ownership questions.
package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/booking-orchestrator/internal/application/port"
	"github.com/garyjia/booking-orchestrator/internal/domain/entity"
	"github.com/garyjia/booking-orchestrator/internal/domain/errs"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

// Config holds token signing settings
type Config struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

// Claims is the token payload
type Claims struct {
	AgentID     string   `json:"agent_id"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// Service signs and verifies HS256 agent tokens
type Service struct {
	cfg       Config
	agents    port.AgentRepository
	customers port.CustomerRepository
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a new identity service
func NewService(cfg Config, agents port.AgentRepository, customers port.CustomerRepository, logger *zap.Logger) (*Service, error) {
	if len(cfg.Secret) < 16 {
		return nil, fmt.Errorf("jwt secret must be at least 16 bytes")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 12 * time.Hour
	}
	return &Service{
		cfg:       cfg,
		agents:    agents,
		customers: customers,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// IssueToken signs a token for a stored agent carrying its current permissions
func (s *Service) IssueToken(ctx context.Context, agentID string) (string, error) {
	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return "", err
	}
	if agent == nil {
		return "", fmt.Errorf("%w: agent %s", errs.ErrNotFound, agentID)
	}

	now := s.now()
	claims := Claims{
		AgentID:     agent.ID,
		Permissions: agent.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agent.ID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ResolveCaller verifies the token and returns the caller it names
func (s *Service) ResolveCaller(ctx context.Context, token string) (*entity.Caller, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, fmt.Errorf("%w: missing bearer token", errs.ErrUnauthorized)
	}

	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(s.cfg.Secret), nil
	})
	if err != nil || !parsed.Valid {
		s.logger.Debug("Rejected token", zap.Error(err))
		return nil, fmt.Errorf("%w: invalid token", errs.ErrUnauthorized)
	}
	if s.cfg.Issuer != "" && !claims.VerifyIssuer(s.cfg.Issuer, true) {
		return nil, fmt.Errorf("%w: unexpected issuer", errs.ErrUnauthorized)
	}
	if claims.AgentID == "" {
		return nil, fmt.Errorf("%w: token has no agent", errs.ErrUnauthorized)
	}

	return &entity.Caller{AgentID: claims.AgentID, Permissions: claims.Permissions}, nil
}

// OwnsResource reports whether customerID belongs to agentID. Unknown customers are not owned.
func (s *Service) OwnsResource(ctx context.Context, agentID string, customerID int64) (bool, error) {
	customer, err := s.customers.GetByID(ctx, customerID)
	if err != nil {
		return false, err
	}
	if customer == nil {
		return false, nil
	}
	return customer.AgentID == agentID, nil
}

var (
	_ port.IdentityResolver = (*Service)(nil)
	_ port.OwnershipChecker = (*Service)(nil)
)
