package config

import "github.com/garyjia/booking-orchestrator/internal/container"

// ToContainerConfig converts the application config to the container's config
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			MigrationsDir:   c.Database.MigrationsDir,
		},
		Server: container.ServerConfig{
			Host:            c.Server.Host,
			Port:            c.Server.Port,
			Mode:            c.Server.Mode,
			ReadTimeout:     c.Server.ReadTimeout,
			WriteTimeout:    c.Server.WriteTimeout,
			ShutdownTimeout: c.Server.ShutdownTimeout,
			MaxUploadBytes:  c.Server.MaxUploadBytes,
		},
		Auth: container.AuthConfig{
			JWTSecret: c.Auth.JWTSecret,
			Issuer:    c.Auth.Issuer,
			TokenTTL:  c.Auth.TokenTTL,
		},
		Batch: container.BatchConfig{
			MaxItems:       c.Batch.MaxItems,
			Workers:        c.Batch.Workers,
			ItemTimeout:    c.Batch.ItemTimeout,
			ProcessInline:  c.Batch.ProcessInline,
			ResumeInterval: c.Batch.ResumeInterval,
			ResumeAfter:    c.Batch.ResumeAfter,
		},
		Workflow: container.WorkflowConfig{
			MaxSteps: c.Workflow.MaxSteps,
		},
	}
}
