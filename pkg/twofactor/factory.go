package twofactor

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryConfig contains configuration for creating a two-factor config repository
type RepositoryConfig struct {
	// Pool is required for PostgreSQL repositories
	Pool *pgxpool.Pool
}

// NewConfigRepository creates a config repository based on the persistence type
func NewConfigRepository(persistenceType string, config RepositoryConfig) (ConfigRepository, error) {
	switch persistenceType {
	case "postgres", "postgresql":
		if config.Pool == nil {
			return nil, fmt.Errorf("pool required for postgres repository")
		}
		return NewPostgresConfigRepository(config.Pool), nil
	case "inmem", "memory":
		return NewInMemConfigRepository(), nil
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s (supported: postgres, inmem)", persistenceType)
	}
}
