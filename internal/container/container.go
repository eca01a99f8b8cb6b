package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/booking-orchestrator/internal/application/approval"
	"github.com/garyjia/booking-orchestrator/internal/application/batch"
	"github.com/garyjia/booking-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/booking-orchestrator/internal/infrastructure/identity"
	"github.com/garyjia/booking-orchestrator/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/booking-orchestrator/internal/infrastructure/spreadsheet"
	"github.com/garyjia/booking-orchestrator/internal/infrastructure/worker"
	httpapi "github.com/garyjia/booking-orchestrator/internal/interfaces/http"
	"github.com/garyjia/booking-orchestrator/pkg/database"
	"github.com/garyjia/booking-orchestrator/pkg/utils"
	"go.uber.org/zap"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	conn         *database.DB
	db           *sqlite.DB
	repositories *RepositoryBundle

	// Infrastructure - Adapters
	identity *identity.Service
	importer *spreadsheet.Importer
	reporter *spreadsheet.Reporter

	// Application
	dispatcher dispatcher.Dispatcher
	engines    *EngineBundle

	// Workers
	workers *worker.Manager

	// Interfaces
	server *httpapi.Server

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins background processing.
// Components are initialized in dependency order:
// 1. Database, migrations and repositories
// 2. Identity and spreadsheet adapters
// 3. Event dispatcher, workflow engine and batch processor
// 4. Workers
// 5. HTTP server (constructed, not listening)
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	if err := c.initAdapters(); err != nil {
		return fmt.Errorf("failed to initialize adapters: %w", err)
	}
	c.logger.Info("Adapters initialized")

	c.initEngines()
	c.logger.Info("Dispatcher and engines initialized",
		zap.Bool("batch_inline", c.config.Batch.ProcessInline))

	if err := c.initWorkers(); err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.logger.Info("Workers initialized and started", zap.Int("count", c.workers.Count()))

	c.initServer()

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	if c.server != nil {
		if err := c.server.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop server: %w", err))
		}
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return errors.Join(errs...)
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health() *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, h ComponentHealth) {
		status.Components[name] = h
		if !h.Healthy {
			status.Overall = false
		}
	}
	notInit := ComponentHealth{Healthy: false, Message: "not initialized"}

	switch {
	case c.conn == nil:
		set("database", notInit)
	default:
		if err := c.conn.Ping(); err != nil {
			set("database", ComponentHealth{Message: fmt.Sprintf("ping failed: %v", err)})
		} else {
			set("database", ComponentHealth{Healthy: true})
		}
	}

	if c.workers != nil {
		// A manager with nothing registered is healthy; the resumer is optional.
		healthy := c.workers.Count() == 0 || c.workers.IsRunning()
		set("workers", ComponentHealth{
			Healthy: healthy,
			Message: fmt.Sprintf("worker count: %d", c.workers.Count()),
		})
	} else {
		set("workers", notInit)
	}

	if c.dispatcher != nil {
		set("dispatcher", ComponentHealth{Healthy: true})
	} else {
		set("dispatcher", notInit)
	}

	if c.engines != nil {
		set("engines", ComponentHealth{Healthy: true})
	} else {
		set("engines", notInit)
	}

	return status
}

func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}

	c.conn = dbBundle.Conn
	c.db = dbBundle.TransactionMgr
	c.repositories = ProvideRepositories(c.db, c.logger)
	return nil
}

func (c *Container) initAdapters() error {
	svc, err := ProvideIdentity(&c.config.Auth, c.repositories, c.logger)
	if err != nil {
		return err
	}
	c.identity = svc
	c.importer = spreadsheet.NewImporter(c.logger.Named("importer"))
	c.reporter = spreadsheet.NewReporter(c.logger.Named("reporter"))
	return nil
}

func (c *Container) initEngines() {
	c.dispatcher = ProvideDispatcher(c.logger)
	c.engines = ProvideEngines(&EngineDeps{
		Repos:       c.repositories,
		TxManager:   c.db,
		Ownership:   c.identity,
		Dispatcher:  c.dispatcher,
		WorkflowCfg: &c.config.Workflow,
		BatchCfg:    &c.config.Batch,
		Logger:      c.logger,
	})
}

func (c *Container) initWorkers() error {
	c.workers = ProvideWorkers(&c.config.Batch, c.repositories, c.engines.Batches, c.logger)
	return c.workers.StartAll(c.ctx)
}

func (c *Container) initServer() {
	s := c.config.Server
	c.server = httpapi.NewServer(httpapi.ServerConfig{
		Host:            s.Host,
		Port:            s.Port,
		Mode:            s.Mode,
		ReadTimeout:     s.ReadTimeout,
		WriteTimeout:    s.WriteTimeout,
		ShutdownTimeout: s.ShutdownTimeout,
		MaxUploadBytes:  s.MaxUploadBytes,
	}, httpapi.Dependencies{
		Workflows: c.engines.Workflows,
		Batches:   c.engines.Batches,
		Identity:  c.identity,
		Importer:  c.importer,
		Reporter:  c.reporter,
	}, utils.NewKeyValueLogger(c.logger, "http"))
}

// Workflows returns the approval workflow engine.
func (c *Container) Workflows() approval.Engine {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.engines == nil {
		return nil
	}
	return c.engines.Workflows
}

// Batches returns the bulk-booking processor.
func (c *Container) Batches() batch.Processor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.engines == nil {
		return nil
	}
	return c.engines.Batches
}

// Identity returns the token service.
func (c *Container) Identity() *identity.Service {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// Importer returns the spreadsheet importer.
func (c *Container) Importer() *spreadsheet.Importer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.importer
}

// Reporter returns the spreadsheet report writer.
func (c *Container) Reporter() *spreadsheet.Reporter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reporter
}

// Repositories returns the repository bundle.
func (c *Container) Repositories() *RepositoryBundle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.repositories
}

// Server returns the HTTP server. It listens only once Server().Start is called.
func (c *Container) Server() *httpapi.Server {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.server
}
