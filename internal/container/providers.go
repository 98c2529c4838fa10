package container

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/access-approval/internal/application/dispatcher"
	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/application/service"
	"github.com/garyjia/access-approval/internal/application/workflow"
	"github.com/garyjia/access-approval/internal/domain/event"
	"github.com/garyjia/access-approval/internal/domain/requestid"
	infraLark "github.com/garyjia/access-approval/internal/infrastructure/external/lark"
	"github.com/garyjia/access-approval/internal/infrastructure/external/lognotify"
	"github.com/garyjia/access-approval/internal/infrastructure/persistence/memory"
	"github.com/garyjia/access-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/access-approval/internal/infrastructure/persistence/sheet"
	"github.com/garyjia/access-approval/internal/infrastructure/persistence/workbook"
	"github.com/garyjia/access-approval/pkg/database"
	"github.com/garyjia/access-approval/pkg/utils"
)

// StoreBundle holds the tabular backend and the views built on it.
type StoreBundle struct {
	Backend   port.TabularStore
	Requests  *sheet.Store
	Directory *sheet.Directory
}

// ProvideDatabase opens the history database and applies the bundled
// migrations. It returns nil when no path is configured.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*database.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Path == "" {
		logger.Info("History database disabled")
		return nil, nil
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).RunMigrations(database.Migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// ProvideHistory wraps the database in the history repository. A nil
// database yields a nil repository and the engine runs without history.
func ProvideHistory(db *database.DB, logger *zap.Logger) port.HistoryRepository {
	if db == nil {
		return nil
	}
	return repository.NewHistoryRepository(db.DB, logger)
}

// ProvideStores creates the tabular backend, the request store and the
// assignee directory.
func ProvideStores(cfg *StoreConfig, directoryTTL time.Duration, logger *zap.Logger) (*StoreBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("store config is required")
	}

	var backend port.TabularStore
	switch cfg.Driver {
	case "workbook":
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create workbook directory: %w", err)
			}
		}
		backend = workbook.NewStore(cfg.Path, logger)
	case "memory":
		backend = memory.NewStore()
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	requests := sheet.NewStore(backend, sheet.Tables{
		Access: cfg.AccessTable,
		User:   cfg.UserTable,
	}, cfg.Location, logger)

	var opts []sheet.DirectoryOption
	if directoryTTL > 0 {
		opts = append(opts, sheet.WithTTL(directoryTTL))
	}
	directory := sheet.NewDirectory(backend, sheet.ReferenceTables{
		RM:      cfg.RMTable,
		Data:    cfg.DataTable,
		Manager: cfg.ManagerTable,
	}, logger, opts...)

	return &StoreBundle{
		Backend:   backend,
		Requests:  requests,
		Directory: directory,
	}, nil
}

// ProvideIDGenerator creates the request id generator.
func ProvideIDGenerator(cfg *IdentityConfig) (*requestid.Generator, error) {
	return requestid.New(cfg.Prefix, requestid.WithRange(cfg.SuffixMin, cfg.SuffixMax))
}

// ProvideNotifier creates the assignee notifier for the configured driver.
func ProvideNotifier(cfg *NotificationConfig, larkCfg *LarkConfig, logger *zap.Logger) (port.Notifier, error) {
	switch cfg.Driver {
	case "lark":
		client := infraLark.NewSDKClient(infraLark.Config{
			AppID:     larkCfg.AppID,
			AppSecret: larkCfg.AppSecret,
			BaseURL:   larkCfg.BaseURL,
		}, logger)
		return infraLark.NewNotifier(client, logger), nil
	case "log", "":
		return lognotify.New(logger), nil
	default:
		return nil, fmt.Errorf("unknown notification driver %q", cfg.Driver)
	}
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) dispatcher.Dispatcher {
	return dispatcher.NewDispatcher(dispatcher.WithLogger(utils.NewKVLogger(logger)))
}

// WorkflowDeps holds the dependencies of the workflow engine.
type WorkflowDeps struct {
	Requests   port.RequestStore
	IDs        workflow.IDGenerator
	History    port.HistoryRepository
	Dispatcher dispatcher.Dispatcher
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the workflow engine.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.WorkflowEngine, error) {
	if deps.Requests == nil {
		return nil, fmt.Errorf("request store is required")
	}
	if deps.IDs == nil {
		return nil, fmt.Errorf("id generator is required")
	}

	opts := []workflow.EngineOption{
		workflow.WithLogger(utils.NewKVLogger(deps.Logger)),
	}
	if deps.History != nil {
		opts = append(opts, workflow.WithHistory(deps.History))
	}
	if deps.Dispatcher != nil {
		opts = append(opts, workflow.WithDispatcher(deps.Dispatcher))
	}
	return workflow.NewEngine(deps.Requests, deps.IDs, opts...), nil
}

// ServiceDeps holds the dependencies of the application services.
type ServiceDeps struct {
	Engine       workflow.WorkflowEngine
	Directory    port.AssigneeDirectory
	Notifier     port.Notifier
	Dispatcher   dispatcher.Dispatcher
	Notification *NotificationConfig
	Logger       *zap.Logger
}

// ProvideServices creates the application services and subscribes the
// notification handler to request creation.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("workflow engine is required")
	}
	if deps.Directory == nil {
		return nil, fmt.Errorf("assignee directory is required")
	}

	serviceLogger := utils.NewKVLogger(deps.Logger)

	bundle := &ServiceBundle{
		Submission: service.NewSubmissionService(deps.Engine, deps.Directory, serviceLogger),
		Decision:   service.NewDecisionService(deps.Engine, serviceLogger),
	}

	if deps.Notifier != nil && deps.Notification != nil && deps.Notification.Enabled {
		bundle.Notification = service.NewNotificationService(
			deps.Notifier,
			service.NewLinkBuilder(deps.Notification.DeepLinkBase),
			serviceLogger,
		)
		if deps.Dispatcher != nil {
			deps.Dispatcher.Subscribe(event.TypeRequestCreated, "notify-assignees", bundle.Notification.HandleRequestCreated)
		}
	}

	return bundle, nil
}
