package twofactor

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type configKey struct {
	ownerID uuid.UUID
	method  Method
}

// InMemConfigRepository is a mutex-guarded in-memory ConfigRepository.
type InMemConfigRepository struct {
	mu      sync.Mutex
	configs map[configKey]*Config
}

func NewInMemConfigRepository() *InMemConfigRepository {
	return &InMemConfigRepository{
		configs: make(map[configKey]*Config),
	}
}

func (r *InMemConfigRepository) Get(ctx context.Context, ownerID uuid.UUID, method Method) (*Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.configs[configKey{ownerID, method}]
	if !ok {
		return nil, ErrConfigNotFound
	}
	copy := *cfg
	copy.BackupCodeHashes = append([]string(nil), cfg.BackupCodeHashes...)
	copy.Credentials = append([]WebAuthnCredential(nil), cfg.Credentials...)
	return &copy, nil
}

func (r *InMemConfigRepository) Create(ctx context.Context, cfg Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := configKey{cfg.OwnerID, cfg.Method}
	if _, ok := r.configs[key]; ok {
		return ErrConfigExists
	}
	stored := cfg
	r.configs[key] = &stored
	return nil
}

func (r *InMemConfigRepository) SetEnabled(ctx context.Context, ownerID uuid.UUID, method Method, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.configs[configKey{ownerID, method}]
	if !ok {
		return ErrConfigNotFound
	}
	cfg.Enabled = enabled
	cfg.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *InMemConfigRepository) Delete(ctx context.Context, ownerID uuid.UUID, method Method) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := configKey{ownerID, method}
	if _, ok := r.configs[key]; !ok {
		return ErrConfigNotFound
	}
	delete(r.configs, key)
	return nil
}

func (r *InMemConfigRepository) ListEnabled(ctx context.Context, ownerID uuid.UUID) ([]Method, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var methods []Method
	for key, cfg := range r.configs {
		if key.ownerID == ownerID && cfg.Enabled {
			methods = append(methods, key.method)
		}
	}
	return methods, nil
}

func (r *InMemConfigRepository) UpdateBackupCodes(ctx context.Context, ownerID uuid.UUID, hashes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.configs[configKey{ownerID, MethodTotp}]
	if !ok {
		return ErrConfigNotFound
	}
	cfg.BackupCodeHashes = append([]string(nil), hashes...)
	cfg.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *InMemConfigRepository) AddCredential(ctx context.Context, ownerID uuid.UUID, cred WebAuthnCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.configs[configKey{ownerID, MethodPasskey}]
	if !ok {
		return ErrConfigNotFound
	}
	cfg.Credentials = append(cfg.Credentials, cred)
	cfg.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *InMemConfigRepository) UpdateCredentialCounter(ctx context.Context, ownerID uuid.UUID, credentialID []byte, signCount uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.configs[configKey{ownerID, MethodPasskey}]
	if !ok {
		return ErrConfigNotFound
	}
	for i := range cfg.Credentials {
		if bytes.Equal(cfg.Credentials[i].CredentialID, credentialID) {
			cfg.Credentials[i].SignCount = signCount
			cfg.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return ErrCredentialNotFound
}

func (r *InMemConfigRepository) TouchLastUsed(ctx context.Context, ownerID uuid.UUID, method Method, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.configs[configKey{ownerID, method}]
	if !ok {
		return ErrConfigNotFound
	}
	cfg.LastUsedAt = &at
	return nil
}
