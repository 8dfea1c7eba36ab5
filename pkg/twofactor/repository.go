package twofactor

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Method is a second-factor method tag.
type Method string

const (
	MethodTotp    Method = "totp"
	MethodPasskey Method = "passkey"
)

// ValidMethod reports whether the tag names a known second-factor method.
func ValidMethod(m Method) bool {
	return m == MethodTotp || m == MethodPasskey
}

// WebAuthnCredential is the stored form of a registered passkey.
type WebAuthnCredential struct {
	CredentialID []byte
	PublicKey    []byte
	SignCount    uint32 // monotonic replay guard
	Transports   []string
	CreatedAt    time.Time
}

// Config is an owner's configuration for one second-factor method. At most
// one active config exists per (owner, method).
type Config struct {
	ID               uuid.UUID
	OwnerID          uuid.UUID
	Method           Method
	Enabled          bool
	TotpSecret       string
	BackupCodeHashes []string
	Credentials      []WebAuthnCredential
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastUsedAt       *time.Time
}

// ConfigRepository persists two-factor configs and passkey credentials.
type ConfigRepository interface {
	// Get returns the config for (owner, method) or ErrConfigNotFound.
	Get(ctx context.Context, ownerID uuid.UUID, method Method) (*Config, error)

	// Create stores a new config; ErrConfigExists if one is already present
	// for (owner, method).
	Create(ctx context.Context, cfg Config) error

	// SetEnabled flips the active flag.
	SetEnabled(ctx context.Context, ownerID uuid.UUID, method Method, enabled bool) error

	// Delete removes the config and its credentials.
	Delete(ctx context.Context, ownerID uuid.UUID, method Method) error

	// ListEnabled returns the owner's active methods.
	ListEnabled(ctx context.Context, ownerID uuid.UUID) ([]Method, error)

	// UpdateBackupCodes persists the reduced hash set after a backup code is
	// consumed.
	UpdateBackupCodes(ctx context.Context, ownerID uuid.UUID, hashes []string) error

	// AddCredential attaches a passkey credential to the owner's passkey config.
	AddCredential(ctx context.Context, ownerID uuid.UUID, cred WebAuthnCredential) error

	// UpdateCredentialCounter persists the advanced signature counter after a
	// successful assertion.
	UpdateCredentialCounter(ctx context.Context, ownerID uuid.UUID, credentialID []byte, signCount uint32) error

	// TouchLastUsed records a successful use of the method.
	TouchLastUsed(ctx context.Context, ownerID uuid.UUID, method Method, at time.Time) error
}
