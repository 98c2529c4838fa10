// Package container provides dependency injection and lifecycle management
// for the access approval service.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Tabular store holding requests and reference tables
	Store StoreConfig

	// History database configuration
	Database DatabaseConfig

	// Request id generation
	Identity IdentityConfig

	// DirectoryTTL is how long reference tables are cached
	DirectoryTTL time.Duration

	// Assignee notification
	Notification NotificationConfig

	// Lark API configuration
	Lark LarkConfig

	// Server configuration
	Server ServerConfig
}

// StoreConfig holds tabular store settings.
type StoreConfig struct {
	// Driver is "workbook" or "memory"
	Driver string

	// Path to the .xlsx workbook
	Path string

	// Location for request timestamps
	Location *time.Location

	AccessTable  string
	UserTable    string
	RMTable      string
	DataTable    string
	ManagerTable string
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file. Empty disables the history log.
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration
}

// IdentityConfig holds request id settings.
type IdentityConfig struct {
	Prefix    string
	SuffixMin int
	SuffixMax int
}

// NotificationConfig holds assignee notification settings.
type NotificationConfig struct {
	Enabled bool

	// Driver is "lark" or "log"
	Driver string

	// DeepLinkBase is the action endpoint the links point at
	DeepLinkBase string
}

// LarkConfig holds Lark API settings.
type LarkConfig struct {
	// AppID is the Lark application ID
	AppID string

	// AppSecret is the Lark application secret
	AppSecret string

	// BaseURL overrides the open platform endpoint
	BaseURL string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind to
	Host string

	// Port to listen on
	Port int

	// ReadTimeout for HTTP server
	ReadTimeout time.Duration

	// WriteTimeout for HTTP server
	WriteTimeout time.Duration

	// IdentityHeader carries the authenticated caller
	IdentityHeader string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:   "memory",
			Location: time.Local,
		},
		Identity: IdentityConfig{
			Prefix:    "REQ",
			SuffixMin: 1000,
			SuffixMax: 999999,
		},
		DirectoryTTL: 5 * time.Minute,
		Notification: NotificationConfig{
			Enabled:      true,
			Driver:       "log",
			DeepLinkBase: "http://localhost:8080/action",
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdentityHeader: "X-Forwarded-Email",
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "workbook":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Notification.Enabled {
		switch c.Notification.Driver {
		case "log":
		case "lark":
			if c.Lark.AppID == "" {
				return fmt.Errorf("lark.app_id is required")
			}
			if c.Lark.AppSecret == "" {
				return fmt.Errorf("lark.app_secret is required")
			}
		default:
			return fmt.Errorf("unknown notification driver %q", c.Notification.Driver)
		}
	}

	return nil
}
