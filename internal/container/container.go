package container

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/garyjia/access-approval/internal/application/dispatcher"
	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/application/service"
	"github.com/garyjia/access-approval/internal/application/workflow"
	"github.com/garyjia/access-approval/internal/domain/event"
	"github.com/garyjia/access-approval/internal/infrastructure/persistence/sheet"
	"github.com/garyjia/access-approval/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components are built in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	db      *database.DB
	history port.HistoryRepository
	stores  *StoreBundle

	// Infrastructure - External
	notifier port.Notifier

	// Application
	dispatcher dispatcher.Dispatcher
	workflow   workflow.WorkflowEngine
	services   *ServiceBundle

	// Lifecycle
	mu     sync.RWMutex
	ready  atomic.Bool
	closed atomic.Bool
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Submission   *service.SubmissionService
	Decision     *service.DecisionService
	Notification *service.NotificationService
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

// Start initializes all components.
// Components are initialized in dependency order:
// 1. History database
// 2. Tabular stores and directory
// 3. Notifier
// 4. Event dispatcher and workflow engine
// 5. Application services
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization")

	// Step 1: Initialize history database
	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	// Step 2: Initialize stores
	stores, err := ProvideStores(&c.config.Store, c.config.DirectoryTTL, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize stores: %w", err)
	}
	c.stores = stores
	c.logger.Info("Stores initialized", zap.String("driver", c.config.Store.Driver))

	// Step 3: Initialize notifier
	if c.config.Notification.Enabled {
		notifier, err := ProvideNotifier(&c.config.Notification, &c.config.Lark, c.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize notifier: %w", err)
		}
		c.notifier = notifier
		c.logger.Info("Notifier initialized", zap.String("driver", c.config.Notification.Driver))
	}

	// Step 4: Initialize dispatcher and workflow engine
	if err := c.initDispatcherAndWorkflow(); err != nil {
		return fmt.Errorf("failed to initialize dispatcher and workflow: %w", err)
	}
	c.logger.Info("Dispatcher and workflow engine initialized")

	// Step 5: Initialize application services
	services, err := ProvideServices(&ServiceDeps{
		Engine:       c.workflow,
		Directory:    c.stores.Directory,
		Notifier:     c.notifier,
		Dispatcher:   c.dispatcher,
		Notification: &c.config.Notification,
		Logger:       c.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.services = services
	c.logger.Info("Application services initialized")

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

	var errs error

	// Drain pending notifications before the stores go away
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if errs != nil {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(multierr.Errors(errs))))
		return errs
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	// Check database
	switch {
	case c.db == nil:
		status.Components["database"] = ComponentHealth{Healthy: true, Message: "history disabled"}
	default:
		if err := c.db.PingContext(ctx); err != nil {
			status.Components["database"] = ComponentHealth{
				Healthy: false,
				Message: fmt.Sprintf("ping failed: %v", err),
			}
			status.Overall = false
		} else {
			status.Components["database"] = ComponentHealth{Healthy: true}
		}
	}

	// Check the request store
	if c.stores != nil {
		table := c.config.Store.AccessTable
		if table == "" {
			table = sheet.DefaultAccessTable
		}
		if _, err := c.stores.Backend.ReadAll(ctx, table); err != nil {
			status.Components["store"] = ComponentHealth{
				Healthy: false,
				Message: err.Error(),
			}
			status.Overall = false
		} else {
			status.Components["store"] = ComponentHealth{Healthy: true}
		}
	} else {
		status.Components["store"] = ComponentHealth{
			Healthy: false,
			Message: "not initialized",
		}
		status.Overall = false
	}

	// Check dispatcher
	if c.dispatcher != nil {
		handlers := c.dispatcher.ListHandlers(event.TypeRequestCreated)
		names := make([]string, len(handlers))
		for i, h := range handlers {
			names[i] = h.Name
		}
		status.Components["dispatcher"] = ComponentHealth{
			Healthy: true,
			Message: fmt.Sprintf("%s handlers: %s", event.TypeRequestCreated, strings.Join(names, ", ")),
		}
	} else {
		status.Components["dispatcher"] = ComponentHealth{
			Healthy: false,
			Message: "not initialized",
		}
		status.Overall = false
	}

	return status
}

// initDatabase opens the history database when configured.
func (c *Container) initDatabase() error {
	db, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.db = db
	c.history = ProvideHistory(db, c.logger)
	return nil
}

// initDispatcherAndWorkflow initializes the event dispatcher and workflow engine.
func (c *Container) initDispatcherAndWorkflow() error {
	c.dispatcher = ProvideDispatcher(c.logger)

	ids, err := ProvideIDGenerator(&c.config.Identity)
	if err != nil {
		return err
	}

	engine, err := ProvideWorkflowEngine(&WorkflowDeps{
		Requests:   c.stores.Requests,
		IDs:        ids,
		History:    c.history,
		Dispatcher: c.dispatcher,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.workflow = engine

	return nil
}

// Getters for accessing container components

// Stores returns the tabular stores.
func (c *Container) Stores() *StoreBundle {
	return c.stores
}

// History returns the history repository, nil when disabled.
func (c *Container) History() port.HistoryRepository {
	return c.history
}

// Notifier returns the assignee notifier, nil when disabled.
func (c *Container) Notifier() port.Notifier {
	return c.notifier
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// WorkflowEngine returns the workflow engine.
func (c *Container) WorkflowEngine() workflow.WorkflowEngine {
	return c.workflow
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}
