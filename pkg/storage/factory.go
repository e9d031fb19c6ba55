package storage

import (
	"fmt"

	"github.com/chauhanaman41/AIforBharat-sub001/pkg/config"
)

// NewProviderFromConfig creates a storage provider based on configuration
func NewProviderFromConfig(cfg config.StorageConfig) (StorageProvider, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryProvider(), nil

	case "postgres":
		return NewPostgreSQLProvider(PostgreSQLProviderConfig{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
			SSLMode:  cfg.Postgres.SSLMode,
		})

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
