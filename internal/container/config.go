// Package container wires the booking orchestrator's components and owns their lifecycle.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Batch    BatchConfig
	Workflow WorkflowConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// MigrationsDir replaces the embedded migrations when set
	MigrationsDir string
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string
	Port            int
	Mode            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
}

// AuthConfig holds token settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration
}

// BatchConfig holds batch processing settings
type BatchConfig struct {
	MaxItems      int
	Workers       int
	ItemTimeout   time.Duration
	ProcessInline bool

	// ResumeInterval is how often the resumer sweeps; zero disables it
	ResumeInterval time.Duration
	ResumeAfter    time.Duration
}

// WorkflowConfig holds approval workflow settings
type WorkflowConfig struct {
	MaxSteps int
}

// Validate checks the settings the container cannot default
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required")
	}
	if c.Batch.MaxItems < 0 || c.Batch.Workers < 0 {
		return fmt.Errorf("batch limits must not be negative")
	}
	if c.Workflow.MaxSteps < 0 {
		return fmt.Errorf("workflow max steps must not be negative")
	}
	return nil
}
