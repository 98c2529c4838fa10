// Package config loads the service configuration from a YAML file, .env
// files and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/garyjia/access-approval/internal/domain/requestid"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Store        StoreConfig        `mapstructure:"store"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Identity     IdentityConfig     `mapstructure:"identity"`
	Directory    DirectoryConfig    `mapstructure:"directory"`
	Notification NotificationConfig `mapstructure:"notification"`
	Lark         LarkConfig         `mapstructure:"lark"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Logger       LoggerConfig       `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Store drivers
const (
	StoreDriverWorkbook = "workbook"
	StoreDriverMemory   = "memory"
)

// StoreConfig selects the tabular backend and names its tables
type StoreConfig struct {
	Driver       string `mapstructure:"driver"`
	Path         string `mapstructure:"path"`
	Timezone     string `mapstructure:"timezone"`
	AccessTable  string `mapstructure:"access_table"`
	UserTable    string `mapstructure:"user_table"`
	RMTable      string `mapstructure:"rm_table"`
	DataTable    string `mapstructure:"data_table"`
	ManagerTable string `mapstructure:"manager_table"`
}

// DatabaseConfig holds the history database configuration. An empty path
// disables the history log.
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// IdentityConfig shapes generated request ids
type IdentityConfig struct {
	Prefix    string `mapstructure:"prefix"`
	SuffixMin int    `mapstructure:"suffix_min"`
	SuffixMax int    `mapstructure:"suffix_max"`
}

// DirectoryConfig holds reference-table caching
type DirectoryConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// Notification drivers
const (
	NotifyDriverLark = "lark"
	NotifyDriverLog  = "log"
)

// NotificationConfig controls assignee notification
type NotificationConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Driver       string `mapstructure:"driver"`
	DeepLinkBase string `mapstructure:"deep_link_base"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	BaseURL   string `mapstructure:"base_url"`
}

// AuthConfig names the header carrying the authenticated caller
type AuthConfig struct {
	IdentityHeader string `mapstructure:"identity_header"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// LoadDotEnv loads .env style files into the process environment. Missing
// files are skipped and variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := gotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables. An empty
// configPath uses defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ACCESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Store defaults
	v.SetDefault("store.driver", StoreDriverWorkbook)
	v.SetDefault("store.path", "data/access_requests.xlsx")
	v.SetDefault("store.timezone", "Local")
	v.SetDefault("store.access_table", "responses")
	v.SetDefault("store.user_table", "user_responses")
	v.SetDefault("store.rm_table", "rm approvers")
	v.SetDefault("store.data_table", "data approvers")
	v.SetDefault("store.manager_table", "user_manager")

	// Database defaults
	v.SetDefault("database.path", "data/history.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Identity defaults
	v.SetDefault("identity.prefix", requestid.DefaultPrefix)
	v.SetDefault("identity.suffix_min", requestid.MinSuffix)
	v.SetDefault("identity.suffix_max", requestid.MaxSuffix)

	v.SetDefault("directory.cache_ttl", 5*time.Minute)

	// Notification defaults
	v.SetDefault("notification.enabled", true)
	v.SetDefault("notification.driver", NotifyDriverLog)
	v.SetDefault("notification.deep_link_base", "http://localhost:8080/action")

	v.SetDefault("lark.base_url", "")
	v.SetDefault("auth.identity_header", "X-Forwarded-Email")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) error {
	// Sensitive credentials from environment
	return errors.Join(
		v.BindEnv("lark.app_id", "LARK_APP_ID"),
		v.BindEnv("lark.app_secret", "LARK_APP_SECRET"),
	)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverWorkbook:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the workbook driver")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", StoreDriverWorkbook, StoreDriverMemory, c.Store.Driver)
	}

	if _, err := c.Store.Location(); err != nil {
		return fmt.Errorf("store.timezone: %w", err)
	}

	// Validate identity shape
	if strings.Contains(c.Identity.Prefix, "_") {
		return fmt.Errorf("identity.prefix must not contain '_'")
	}
	if c.Identity.SuffixMin < requestid.MinSuffix || c.Identity.SuffixMax > requestid.MaxSuffix || c.Identity.SuffixMin > c.Identity.SuffixMax {
		return fmt.Errorf("identity suffix range [%d, %d] must lie within [%d, %d]",
			c.Identity.SuffixMin, c.Identity.SuffixMax, requestid.MinSuffix, requestid.MaxSuffix)
	}

	if c.Directory.CacheTTL < 0 {
		return fmt.Errorf("directory.cache_ttl must not be negative")
	}

	// Validate notification
	if c.Notification.Enabled {
		switch c.Notification.Driver {
		case NotifyDriverLog:
		case NotifyDriverLark:
			if c.Lark.AppID == "" {
				return fmt.Errorf("lark.app_id is required")
			}
			if c.Lark.AppSecret == "" {
				return fmt.Errorf("lark.app_secret is required")
			}
		default:
			return fmt.Errorf("notification.driver must be %q or %q, got %q", NotifyDriverLark, NotifyDriverLog, c.Notification.Driver)
		}
		if c.Notification.DeepLinkBase == "" {
			return fmt.Errorf("notification.deep_link_base is required")
		}
	}

	if strings.TrimSpace(c.Auth.IdentityHeader) == "" {
		return fmt.Errorf("auth.identity_header is required")
	}

	return nil
}

// Location resolves the timezone used for request timestamps
func (s StoreConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}
