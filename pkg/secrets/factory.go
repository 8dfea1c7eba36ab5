package secrets

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryConfig contains configuration for creating a secret repository
type RepositoryConfig struct {
	// Pool is required for PostgreSQL repositories
	Pool *pgxpool.Pool
}

// NewSecretRepository creates a secret repository based on the persistence type
func NewSecretRepository(persistenceType string, config RepositoryConfig) (SecretRepository, error) {
	switch persistenceType {
	case "postgres", "postgresql":
		if config.Pool == nil {
			return nil, fmt.Errorf("pool required for postgres repository")
		}
		return NewPostgresSecretRepository(config.Pool), nil
	case "inmem", "memory":
		return NewInMemSecretRepository(), nil
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s (supported: postgres, inmem)", persistenceType)
	}
}
