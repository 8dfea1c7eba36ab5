package verification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/utils"
)

// Onboarding steps a contact moves through as verification completes.
const (
	StepContactPending  = "contact_pending"
	StepContactVerified = "contact_verified"
)

// Contact holds an owner's reachable addresses and their verification state.
type Contact struct {
	OwnerID        uuid.UUID
	Email          string
	EmailVerified  bool
	Phone          string
	PhoneHash      string
	PhoneVerified  bool
	OnboardingStep string
	UpdatedAt      time.Time
}

// ContactRepository persists contact rows. Phone lookups go through the
// SHA-256 hash so the raw number never appears in an index.
type ContactRepository interface {
	Get(ctx context.Context, ownerID uuid.UUID) (*Contact, error)

	// Upsert creates or replaces the contact row for its owner.
	Upsert(ctx context.Context, contact Contact) error

	// FindByVerifiedPhone returns the contact holding this phone hash as a
	// verified number, or ErrContactNotFound.
	FindByVerifiedPhone(ctx context.Context, phoneHash string) (*Contact, error)

	// MarkPhoneVerified sets the owner's phone and flips it verified.
	MarkPhoneVerified(ctx context.Context, ownerID uuid.UUID, phone string, at time.Time) error

	// MarkEmailVerified flips the owner's email verified.
	MarkEmailVerified(ctx context.Context, ownerID uuid.UUID, at time.Time) error

	// AdvanceOnboarding moves the owner to the given step.
	AdvanceOnboarding(ctx context.Context, ownerID uuid.UUID, step string) error
}

// PostgresContactRepository implements ContactRepository on a pgx pool.
type PostgresContactRepository struct {
	db *pgxpool.Pool
}

func NewPostgresContactRepository(db *pgxpool.Pool) *PostgresContactRepository {
	return &PostgresContactRepository{db: db}
}

func (r *PostgresContactRepository) Get(ctx context.Context, ownerID uuid.UUID) (*Contact, error) {
	row := r.db.QueryRow(ctx, `
		SELECT owner_id, email, email_verified, phone, phone_hash, phone_verified, onboarding_step, updated_at
		FROM contacts
		WHERE owner_id = $1
	`, ownerID)
	return scanContact(row)
}

func (r *PostgresContactRepository) Upsert(ctx context.Context, c Contact) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO contacts (owner_id, email, email_verified, phone, phone_hash, phone_verified, onboarding_step, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (owner_id) DO UPDATE SET
			email = EXCLUDED.email,
			email_verified = EXCLUDED.email_verified,
			phone = EXCLUDED.phone,
			phone_hash = EXCLUDED.phone_hash,
			phone_verified = EXCLUDED.phone_verified,
			onboarding_step = EXCLUDED.onboarding_step,
			updated_at = EXCLUDED.updated_at
	`, c.OwnerID, c.Email, c.EmailVerified, c.Phone, c.PhoneHash, c.PhoneVerified, c.OnboardingStep, c.UpdatedAt)
	return err
}

func (r *PostgresContactRepository) FindByVerifiedPhone(ctx context.Context, phoneHash string) (*Contact, error) {
	row := r.db.QueryRow(ctx, `
		SELECT owner_id, email, email_verified, phone, phone_hash, phone_verified, onboarding_step, updated_at
		FROM contacts
		WHERE phone_hash = $1 AND phone_verified = TRUE
	`, phoneHash)
	return scanContact(row)
}

func (r *PostgresContactRepository) MarkPhoneVerified(ctx context.Context, ownerID uuid.UUID, phone string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE contacts
		SET phone = $2, phone_hash = $3, phone_verified = TRUE, updated_at = $4
		WHERE owner_id = $1
	`, ownerID, phone, utils.HashPhone(phone), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrContactNotFound
	}
	return nil
}

func (r *PostgresContactRepository) MarkEmailVerified(ctx context.Context, ownerID uuid.UUID, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE contacts
		SET email_verified = TRUE, updated_at = $2
		WHERE owner_id = $1
	`, ownerID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrContactNotFound
	}
	return nil
}

func (r *PostgresContactRepository) AdvanceOnboarding(ctx context.Context, ownerID uuid.UUID, step string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE contacts
		SET onboarding_step = $2, updated_at = NOW()
		WHERE owner_id = $1
	`, ownerID, step)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrContactNotFound
	}
	return nil
}

func scanContact(row pgx.Row) (*Contact, error) {
	var c Contact
	err := row.Scan(
		&c.OwnerID,
		&c.Email,
		&c.EmailVerified,
		&c.Phone,
		&c.PhoneHash,
		&c.PhoneVerified,
		&c.OnboardingStep,
		&c.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrContactNotFound
		}
		return nil, err
	}
	return &c, nil
}

// InMemContactRepository implements ContactRepository with a mutex-guarded
// map, for tests and local development.
type InMemContactRepository struct {
	mu       sync.RWMutex
	contacts map[uuid.UUID]Contact
}

func NewInMemContactRepository() *InMemContactRepository {
	return &InMemContactRepository{
		contacts: make(map[uuid.UUID]Contact),
	}
}

func (r *InMemContactRepository) Get(ctx context.Context, ownerID uuid.UUID) (*Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contacts[ownerID]
	if !ok {
		return nil, ErrContactNotFound
	}
	return &c, nil
}

func (r *InMemContactRepository) Upsert(ctx context.Context, c Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contacts[c.OwnerID] = c
	return nil
}

func (r *InMemContactRepository) FindByVerifiedPhone(ctx context.Context, phoneHash string) (*Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.contacts {
		if c.PhoneVerified && c.PhoneHash == phoneHash {
			contact := c
			return &contact, nil
		}
	}
	return nil, ErrContactNotFound
}

func (r *InMemContactRepository) MarkPhoneVerified(ctx context.Context, ownerID uuid.UUID, phone string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[ownerID]
	if !ok {
		return ErrContactNotFound
	}
	c.Phone = phone
	c.PhoneHash = utils.HashPhone(phone)
	c.PhoneVerified = true
	c.UpdatedAt = at
	r.contacts[ownerID] = c
	return nil
}

func (r *InMemContactRepository) MarkEmailVerified(ctx context.Context, ownerID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[ownerID]
	if !ok {
		return ErrContactNotFound
	}
	c.EmailVerified = true
	c.UpdatedAt = at
	r.contacts[ownerID] = c
	return nil
}

func (r *InMemContactRepository) AdvanceOnboarding(ctx context.Context, ownerID uuid.UUID, step string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[ownerID]
	if !ok {
		return ErrContactNotFound
	}
	c.OnboardingStep = step
	c.UpdatedAt = time.Now().UTC()
	r.contacts[ownerID] = c
	return nil
}
