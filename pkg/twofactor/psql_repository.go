package twofactor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfigRepository implements ConfigRepository on a pgx pool.
// Credentials live in their own table keyed by the config id.
type PostgresConfigRepository struct {
	db *pgxpool.Pool
}

func NewPostgresConfigRepository(db *pgxpool.Pool) *PostgresConfigRepository {
	return &PostgresConfigRepository{db: db}
}

func (r *PostgresConfigRepository) Get(ctx context.Context, ownerID uuid.UUID, method Method) (*Config, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, owner_id, method, enabled, totp_secret, backup_code_hashes, created_at, updated_at, last_used_at
		FROM two_factor_configs
		WHERE owner_id = $1 AND method = $2
	`, ownerID, method)

	var cfg Config
	err := row.Scan(
		&cfg.ID,
		&cfg.OwnerID,
		&cfg.Method,
		&cfg.Enabled,
		&cfg.TotpSecret,
		&cfg.BackupCodeHashes,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
		&cfg.LastUsedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	if method == MethodPasskey {
		creds, err := r.credentialsFor(ctx, cfg.ID)
		if err != nil {
			return nil, err
		}
		cfg.Credentials = creds
	}
	return &cfg, nil
}

func (r *PostgresConfigRepository) credentialsFor(ctx context.Context, configID uuid.UUID) ([]WebAuthnCredential, error) {
	rows, err := r.db.Query(ctx, `
		SELECT credential_id, public_key, sign_count, transports, created_at
		FROM webauthn_credentials
		WHERE config_id = $1
		ORDER BY created_at
	`, configID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []WebAuthnCredential
	for rows.Next() {
		var cred WebAuthnCredential
		if err := rows.Scan(&cred.CredentialID, &cred.PublicKey, &cred.SignCount, &cred.Transports, &cred.CreatedAt); err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

func (r *PostgresConfigRepository) Create(ctx context.Context, cfg Config) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO two_factor_configs (id, owner_id, method, enabled, totp_secret, backup_code_hashes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (owner_id, method) DO NOTHING
	`, cfg.ID, cfg.OwnerID, cfg.Method, cfg.Enabled, cfg.TotpSecret, cfg.BackupCodeHashes, cfg.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConfigExists
	}
	return nil
}

func (r *PostgresConfigRepository) SetEnabled(ctx context.Context, ownerID uuid.UUID, method Method, enabled bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE two_factor_configs
		SET enabled = $3, updated_at = NOW() AT TIME ZONE 'UTC'
		WHERE owner_id = $1 AND method = $2
	`, ownerID, method, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConfigNotFound
	}
	return nil
}

func (r *PostgresConfigRepository) Delete(ctx context.Context, ownerID uuid.UUID, method Method) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM two_factor_configs
		WHERE owner_id = $1 AND method = $2
	`, ownerID, method)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConfigNotFound
	}
	return nil
}

func (r *PostgresConfigRepository) ListEnabled(ctx context.Context, ownerID uuid.UUID) ([]Method, error) {
	rows, err := r.db.Query(ctx, `
		SELECT method
		FROM two_factor_configs
		WHERE owner_id = $1 AND enabled = TRUE
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var methods []Method
	for rows.Next() {
		var m Method
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

func (r *PostgresConfigRepository) UpdateBackupCodes(ctx context.Context, ownerID uuid.UUID, hashes []string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE two_factor_configs
		SET backup_code_hashes = $2, updated_at = NOW() AT TIME ZONE 'UTC'
		WHERE owner_id = $1 AND method = 'totp'
	`, ownerID, hashes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConfigNotFound
	}
	return nil
}

func (r *PostgresConfigRepository) AddCredential(ctx context.Context, ownerID uuid.UUID, cred WebAuthnCredential) error {
	var configID uuid.UUID
	err := r.db.QueryRow(ctx, `
		SELECT id FROM two_factor_configs
		WHERE owner_id = $1 AND method = 'passkey'
	`, ownerID).Scan(&configID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrConfigNotFound
		}
		return err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO webauthn_credentials (config_id, credential_id, public_key, sign_count, transports, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, configID, cred.CredentialID, cred.PublicKey, cred.SignCount, cred.Transports, cred.CreatedAt)
	return err
}

func (r *PostgresConfigRepository) UpdateCredentialCounter(ctx context.Context, ownerID uuid.UUID, credentialID []byte, signCount uint32) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE webauthn_credentials c
		SET sign_count = $3
		FROM two_factor_configs f
		WHERE c.config_id = f.id AND f.owner_id = $1 AND c.credential_id = $2
	`, ownerID, credentialID, signCount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

func (r *PostgresConfigRepository) TouchLastUsed(ctx context.Context, ownerID uuid.UUID, method Method, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE two_factor_configs
		SET last_used_at = $3
		WHERE owner_id = $1 AND method = $2
	`, ownerID, method, at)
	return err
}
