package config

import (
	"github.com/garyjia/access-approval/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() (*container.Config, error) {
	loc, err := c.Store.Location()
	if err != nil {
		return nil, err
	}

	return &container.Config{
		Store: container.StoreConfig{
			Driver:       c.Store.Driver,
			Path:         c.Store.Path,
			Location:     loc,
			AccessTable:  c.Store.AccessTable,
			UserTable:    c.Store.UserTable,
			RMTable:      c.Store.RMTable,
			DataTable:    c.Store.DataTable,
			ManagerTable: c.Store.ManagerTable,
		},
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		Identity: container.IdentityConfig{
			Prefix:    c.Identity.Prefix,
			SuffixMin: c.Identity.SuffixMin,
			SuffixMax: c.Identity.SuffixMax,
		},
		DirectoryTTL: c.Directory.CacheTTL,
		Notification: container.NotificationConfig{
			Enabled:      c.Notification.Enabled,
			Driver:       c.Notification.Driver,
			DeepLinkBase: c.Notification.DeepLinkBase,
		},
		Lark: container.LarkConfig{
			AppID:     c.Lark.AppID,
			AppSecret: c.Lark.AppSecret,
			BaseURL:   c.Lark.BaseURL,
		},
		Server: container.ServerConfig{
			Host:           c.Server.Host,
			Port:           c.Server.Port,
			ReadTimeout:    c.Server.ReadTimeout,
			WriteTimeout:   c.Server.WriteTimeout,
			IdentityHeader: c.Auth.IdentityHeader,
		},
	}, nil
}
