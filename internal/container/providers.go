package container

import (
	"context"
	"fmt"

	"github.com/garyjia/booking-orchestrator/internal/application/approval"
	"github.com/garyjia/booking-orchestrator/internal/application/batch"
	"github.com/garyjia/booking-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/booking-orchestrator/internal/application/port"
	"github.com/garyjia/booking-orchestrator/internal/domain/event"
	"github.com/garyjia/booking-orchestrator/internal/infrastructure/appointment"
	"github.com/garyjia/booking-orchestrator/internal/infrastructure/identity"
	"github.com/garyjia/booking-orchestrator/internal/infrastructure/persistence/repository"
	"github.com/garyjia/booking-orchestrator/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/booking-orchestrator/internal/infrastructure/worker"
	"github.com/garyjia/booking-orchestrator/migrations"
	"github.com/garyjia/booking-orchestrator/pkg/database"
	"github.com/garyjia/booking-orchestrator/pkg/utils"
	"go.uber.org/zap"
)

// DatabaseBundle holds database-related components
type DatabaseBundle struct {
	Conn           *database.DB
	TransactionMgr *sqlite.DB
}

// RepositoryBundle groups all repositories
type RepositoryBundle struct {
	Workflows    *repository.WorkflowRepository
	Steps        *repository.StepRepository
	Batches      *repository.BulkBookingRepository
	Items        *repository.BulkBookingItemRepository
	History      *repository.HistoryRepository
	Agents       *repository.AgentRepository
	Customers    *repository.CustomerRepository
	Appointments *repository.AppointmentRepository
	Doctors      *repository.DoctorRepository
}

// EngineBundle groups the application engines
type EngineBundle struct {
	Workflows approval.Engine
	Batches   batch.Processor
}

// ProvideDatabase opens the database and applies pending migrations
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}

	conn, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	migrator := database.NewMigrator(conn, logger)
	if cfg.MigrationsDir != "" {
		err = migrator.RunMigrations(cfg.MigrationsDir)
	} else {
		err = migrator.RunMigrationsFS(migrations.FS)
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		Conn:           conn,
		TransactionMgr: sqlite.NewDB(conn.DB, logger),
	}, nil
}

// ProvideRepositories creates every repository over one transaction manager
func ProvideRepositories(db *sqlite.DB, logger *zap.Logger) *RepositoryBundle {
	return &RepositoryBundle{
		Workflows:    repository.NewWorkflowRepository(db, logger),
		Steps:        repository.NewStepRepository(db, logger),
		Batches:      repository.NewBulkBookingRepository(db, logger),
		Items:        repository.NewBulkBookingItemRepository(db, logger),
		History:      repository.NewHistoryRepository(db, logger),
		Agents:       repository.NewAgentRepository(db, logger),
		Customers:    repository.NewCustomerRepository(db, logger),
		Appointments: repository.NewAppointmentRepository(db, logger),
		Doctors:      repository.NewDoctorRepository(db, logger),
	}
}

// ProvideIdentity creates the token resolver and ownership checker
func ProvideIdentity(cfg *AuthConfig, repos *RepositoryBundle, logger *zap.Logger) (*identity.Service, error) {
	return identity.NewService(identity.Config{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.Issuer,
		TokenTTL: cfg.TokenTTL,
	}, repos.Agents, repos.Customers, logger.Named("identity"))
}

// ProvideDispatcher creates the event dispatcher and subscribes the event log
func ProvideDispatcher(logger *zap.Logger) dispatcher.Dispatcher {
	d := dispatcher.NewDispatcher(dispatcher.WithLogger(utils.NewKeyValueLogger(logger, "dispatcher")))

	eventLog := logger.Named("events")
	for _, t := range event.AllTypes() {
		d.SubscribeNamed(t, "event-log", func(_ context.Context, evt *event.Event) error {
			eventLog.Info("Domain event",
				zap.String("type", evt.Type.String()),
				zap.Int64("entity_id", evt.EntityID),
				zap.String("actor", evt.Actor),
				zap.Any("payload", evt.Payload))
			return nil
		})
	}
	return d
}

// EngineDeps holds what the engines are built from
type EngineDeps struct {
	Repos       *RepositoryBundle
	TxManager   port.TransactionManager
	Ownership   port.OwnershipChecker
	Dispatcher  dispatcher.Dispatcher
	WorkflowCfg *WorkflowConfig
	BatchCfg    *BatchConfig
	Logger      *zap.Logger
}

// ProvideEngines creates the workflow engine and batch processor. In async
// batch mode the processor is subscribed to its own submit and retry events.
func ProvideEngines(deps *EngineDeps) *EngineBundle {
	workflows := approval.NewEngine(approval.Repositories{
		Workflows: deps.Repos.Workflows,
		Steps:     deps.Repos.Steps,
		History:   deps.Repos.History,
		Agents:    deps.Repos.Agents,
	}, deps.TxManager,
		approval.WithDispatcher(deps.Dispatcher),
		approval.WithLogger(utils.NewKeyValueLogger(deps.Logger, "workflow")),
		approval.WithMaxSteps(deps.WorkflowCfg.MaxSteps),
	)

	materializer := appointment.NewMaterializer(
		deps.Repos.Appointments,
		deps.Repos.Doctors,
		deps.TxManager,
		deps.Logger.Named("appointment"),
	)

	batches := batch.NewProcessor(batch.Config{
		MaxItems:      deps.BatchCfg.MaxItems,
		Workers:       deps.BatchCfg.Workers,
		ItemTimeout:   deps.BatchCfg.ItemTimeout,
		ProcessInline: deps.BatchCfg.ProcessInline,
	}, batch.Repositories{
		Batches:   deps.Repos.Batches,
		Items:     deps.Repos.Items,
		Customers: deps.Repos.Customers,
		History:   deps.Repos.History,
	}, deps.TxManager, materializer, deps.Ownership,
		batch.WithDispatcher(deps.Dispatcher),
		batch.WithLogger(utils.NewKeyValueLogger(deps.Logger, "batch")),
	)

	if !deps.BatchCfg.ProcessInline {
		deps.Dispatcher.SubscribeNamed(event.TypeBatchSubmitted, "batch-processor", batches.HandleEvent)
		deps.Dispatcher.SubscribeNamed(event.TypeBatchRetryRequested, "batch-processor", batches.HandleEvent)
	}

	return &EngineBundle{Workflows: workflows, Batches: batches}
}

// ProvideWorkers creates the worker manager with the batch resumer registered
func ProvideWorkers(cfg *BatchConfig, repos *RepositoryBundle, runner worker.BatchRunner, logger *zap.Logger) *worker.Manager {
	manager := worker.NewManager(logger.Named("workers"))
	if cfg.ResumeInterval > 0 {
		manager.Register(worker.NewBatchResumer(repos.Batches, runner, worker.ResumerConfig{
			Interval:   cfg.ResumeInterval,
			StaleAfter: cfg.ResumeAfter,
		}, logger.Named("resumer")))
	}
	return manager
}
