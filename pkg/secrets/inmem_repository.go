package secrets

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemSecretRepository is a mutex-guarded in-memory SecretRepository,
// used for tests and single-instance deployments without a database.
type InMemSecretRepository struct {
	mu      sync.Mutex
	records map[uuid.UUID]*SecretRecord
}

func NewInMemSecretRepository() *InMemSecretRepository {
	return &InMemSecretRepository{
		records: make(map[uuid.UUID]*SecretRecord),
	}
}

func (r *InMemSecretRepository) Upsert(ctx context.Context, rec SecretRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, existing := range r.records {
		if existing.OwnerID == rec.OwnerID && existing.Channel == rec.Channel && !existing.Verified {
			delete(r.records, id)
		}
	}
	stored := rec
	r.records[rec.ID] = &stored
	return nil
}

func (r *InMemSecretRepository) GetLatest(ctx context.Context, ownerID uuid.UUID, channel string) (*SecretRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *SecretRecord
	for _, rec := range r.records {
		if rec.OwnerID != ownerID || rec.Channel != channel {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, ErrRecordNotFound
	}
	copy := *latest
	return &copy, nil
}

func (r *InMemSecretRepository) FindByHash(ctx context.Context, secretHash string) (*SecretRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *SecretRecord
	for _, rec := range r.records {
		if rec.SecretHash != secretHash {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, ErrRecordNotFound
	}
	copy := *latest
	return &copy, nil
}

func (r *InMemSecretRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return 0, ErrRecordNotFound
	}
	rec.Attempts++
	return rec.Attempts, nil
}

func (r *InMemSecretRepository) MarkVerified(ctx context.Context, id uuid.UUID, target string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false, ErrRecordNotFound
	}
	if rec.Verified {
		return false, nil
	}
	rec.Verified = true
	rec.VerifiedAt = &at
	rec.Target = target
	return true, nil
}

func (r *InMemSecretRepository) DeletePending(ctx context.Context, ownerID uuid.UUID, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, rec := range r.records {
		if rec.OwnerID == ownerID && rec.Channel == channel && !rec.Verified {
			delete(r.records, id)
		}
	}
	return nil
}

func (r *InMemSecretRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for id, rec := range r.records {
		if !rec.Verified && rec.ExpiresAt.Before(before) {
			delete(r.records, id)
			count++
		}
	}
	return count, nil
}
