package secrets

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SecretKind determines the shape of the generated secret.
type SecretKind string

const (
	// KindNumeric is a 6-digit code delivered to the user (email/SMS OTP).
	KindNumeric SecretKind = "numeric"
	// KindToken is a short reply token the user sends back over an inbound
	// channel (WhatsApp/SMS reply).
	KindToken SecretKind = "token"
)

// SecretRecord is a short-lived secret bound to an owner and a channel.
// Only the hash of the secret is ever stored.
type SecretRecord struct {
	ID         uuid.UUID
	OwnerID    uuid.UUID
	Channel    string
	Kind       SecretKind
	Target     string // empty until an inbound webhook adopts the sender
	SecretHash string
	Attempts   int32
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Verified   bool
	VerifiedAt *time.Time
}

// SecretRepository persists secret records. Attempt increments must be atomic
// at the storage layer, not read-modify-write in service code.
type SecretRepository interface {
	// Upsert replaces any pending record for (owner, channel) with rec.
	Upsert(ctx context.Context, rec SecretRecord) error

	// GetLatest returns the most recent record for (owner, channel),
	// verified or not, or ErrRecordNotFound.
	GetLatest(ctx context.Context, ownerID uuid.UUID, channel string) (*SecretRecord, error)

	// FindByHash returns the most recent record matching the secret hash,
	// verified or not, or ErrRecordNotFound.
	FindByHash(ctx context.Context, secretHash string) (*SecretRecord, error)

	// IncrementAttempts atomically bumps the attempt counter and returns the
	// new value.
	IncrementAttempts(ctx context.Context, id uuid.UUID) (int32, error)

	// MarkVerified marks the record verified and sets its target. It reports
	// whether the transition happened; a record that was already verified
	// returns false with no error, so concurrent verifications resolve to a
	// single winner.
	MarkVerified(ctx context.Context, id uuid.UUID, target string, at time.Time) (bool, error)

	// DeletePending removes the unverified record for (owner, channel), if any.
	DeletePending(ctx context.Context, ownerID uuid.UUID, channel string) error

	// DeleteExpired removes unverified records that expired before the cutoff
	// and returns how many were removed.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// PostgresSecretRepository implements SecretRepository on a pgx pool.
type PostgresSecretRepository struct {
	db *pgxpool.Pool
}

func NewPostgresSecretRepository(db *pgxpool.Pool) *PostgresSecretRepository {
	return &PostgresSecretRepository{db: db}
}

func (r *PostgresSecretRepository) Upsert(ctx context.Context, rec SecretRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		DELETE FROM secret_records
		WHERE owner_id = $1 AND channel = $2 AND verified = FALSE
	`, rec.OwnerID, rec.Channel)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO secret_records (id, owner_id, channel, kind, target, secret_hash, attempts, created_at, expires_at, verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE)
	`, rec.ID, rec.OwnerID, rec.Channel, rec.Kind, rec.Target, rec.SecretHash, rec.Attempts, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *PostgresSecretRepository) GetLatest(ctx context.Context, ownerID uuid.UUID, channel string) (*SecretRecord, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, owner_id, channel, kind, target, secret_hash, attempts, created_at, expires_at, verified, verified_at
		FROM secret_records
		WHERE owner_id = $1 AND channel = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, ownerID, channel)
	return scanSecretRecord(row)
}

func (r *PostgresSecretRepository) FindByHash(ctx context.Context, secretHash string) (*SecretRecord, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, owner_id, channel, kind, target, secret_hash, attempts, created_at, expires_at, verified, verified_at
		FROM secret_records
		WHERE secret_hash = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, secretHash)
	return scanSecretRecord(row)
}

func (r *PostgresSecretRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) (int32, error) {
	var attempts int32
	err := r.db.QueryRow(ctx, `
		UPDATE secret_records
		SET attempts = attempts + 1
		WHERE id = $1
		RETURNING attempts
	`, id).Scan(&attempts)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrRecordNotFound
		}
		return 0, err
	}
	return attempts, nil
}

func (r *PostgresSecretRepository) MarkVerified(ctx context.Context, id uuid.UUID, target string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE secret_records
		SET verified = TRUE, verified_at = $2, target = $3
		WHERE id = $1 AND verified = FALSE
	`, id, at, target)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresSecretRepository) DeletePending(ctx context.Context, ownerID uuid.UUID, channel string) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM secret_records
		WHERE owner_id = $1 AND channel = $2 AND verified = FALSE
	`, ownerID, channel)
	return err
}

func (r *PostgresSecretRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM secret_records
		WHERE verified = FALSE AND expires_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanSecretRecord(row pgx.Row) (*SecretRecord, error) {
	var rec SecretRecord
	err := row.Scan(
		&rec.ID,
		&rec.OwnerID,
		&rec.Channel,
		&rec.Kind,
		&rec.Target,
		&rec.SecretHash,
		&rec.Attempts,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&rec.Verified,
		&rec.VerifiedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}
