package secrets

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/utils"
)

const (
	// TokenPrefix starts every inbound reply token ("VER-AB12C3").
	TokenPrefix = "VER"

	tokenLength   = 6
	numericLength = 6

	// tokenAlphabet is restricted to uppercase letters and digits so tokens
	// always match the inbound extraction pattern.
	tokenAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// IssuedSecret is returned from Issue. Plaintext is handed to the delivery
// channel and never stored.
type IssuedSecret struct {
	ID        uuid.UUID
	Plaintext string
	Display   string // user-facing form, e.g. "VER-AB12C3"
	Kind      SecretKind
	ExpiresAt time.Time
}

// Service is the secret ledger: it issues, hashes, and validates short-lived
// secrets with expiry and attempt counters.
type Service struct {
	repo        SecretRepository
	otpExpiry   time.Duration
	tokenExpiry time.Duration
	maxAttempts int32
}

type ServiceOption func(*Service)

// WithOtpExpiry sets the TTL for numeric OTP secrets.
func WithOtpExpiry(expiry time.Duration) ServiceOption {
	return func(s *Service) {
		s.otpExpiry = expiry
	}
}

// WithTokenExpiry sets the TTL for inbound reply tokens.
func WithTokenExpiry(expiry time.Duration) ServiceOption {
	return func(s *Service) {
		s.tokenExpiry = expiry
	}
}

// WithMaxAttempts sets how many failed verifications a record survives.
func WithMaxAttempts(max int32) ServiceOption {
	return func(s *Service) {
		s.maxAttempts = max
	}
}

func NewService(repo SecretRepository, opts ...ServiceOption) *Service {
	s := &Service{
		repo:        repo,
		otpExpiry:   10 * time.Minute,
		tokenExpiry: 30 * time.Minute,
		maxAttempts: 5,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxAttempts returns the configured attempt limit.
func (s *Service) MaxAttempts() int32 {
	return s.maxAttempts
}

// Issue generates a fresh secret for (owner, channel), replacing any pending
// record, and returns the plaintext exactly once.
func (s *Service) Issue(ctx context.Context, ownerID uuid.UUID, channel string, target string, kind SecretKind) (*IssuedSecret, error) {
	var plaintext, display string
	var expiry time.Duration

	switch kind {
	case KindNumeric:
		plaintext = utils.GenerateNumericCode(numericLength)
		display = plaintext
		expiry = s.otpExpiry
	case KindToken:
		plaintext = TokenPrefix + randomToken(tokenLength)
		display = TokenPrefix + "-" + plaintext[len(TokenPrefix):]
		expiry = s.tokenExpiry
	default:
		return nil, fmt.Errorf("unknown secret kind: %s", kind)
	}

	now := time.Now().UTC()
	rec := SecretRecord{
		ID:         uuid.New(),
		OwnerID:    ownerID,
		Channel:    channel,
		Kind:       kind,
		Target:     target,
		SecretHash: HashSecret(plaintext),
		Attempts:   0,
		CreatedAt:  now,
		ExpiresAt:  now.Add(expiry),
	}

	if err := s.repo.Upsert(ctx, rec); err != nil {
		slog.Error("Failed to store secret record", "owner_id", ownerID, "channel", channel, "error", err)
		return nil, fmt.Errorf("failed to store secret record: %w", err)
	}

	slog.Info("Issued secret", "owner_id", ownerID, "channel", channel, "kind", kind, "expires_at", rec.ExpiresAt)
	return &IssuedSecret{
		ID:        rec.ID,
		Plaintext: plaintext,
		Display:   display,
		Kind:      kind,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// Verify checks a candidate secret against the latest record for
// (owner, channel). Expiry and the attempt limit are checked before an
// attempt is consumed; a mismatch increments the counter atomically, and the
// mismatch that consumes the last attempt already reports the lockout.
func (s *Service) Verify(ctx context.Context, ownerID uuid.UUID, channel, candidate string) error {
	rec, err := s.repo.GetLatest(ctx, ownerID, channel)
	if err != nil {
		return err
	}
	return s.VerifyRecord(ctx, rec, candidate)
}

// VerifyRecord runs the verification state machine against an already-loaded
// record.
func (s *Service) VerifyRecord(ctx context.Context, rec *SecretRecord, candidate string) error {
	if rec.Verified {
		return ErrAlreadyVerified
	}
	if time.Now().UTC().After(rec.ExpiresAt) {
		return ErrExpired
	}
	if rec.Attempts >= s.maxAttempts {
		return ErrAttemptsExceeded
	}

	if !matchesHash(rec.SecretHash, candidate) {
		attempts, err := s.repo.IncrementAttempts(ctx, rec.ID)
		if err != nil {
			slog.Error("Failed to increment attempts", "record_id", rec.ID, "error", err)
			return fmt.Errorf("failed to record attempt: %w", err)
		}
		slog.Warn("Secret mismatch", "record_id", rec.ID, "attempts", attempts, "max_attempts", s.maxAttempts)
		if attempts >= s.maxAttempts {
			return ErrAttemptsExceeded
		}
		return ErrInvalidSecret
	}

	ok, err := s.repo.MarkVerified(ctx, rec.ID, rec.Target, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark secret verified: %w", err)
	}
	if !ok {
		// another verification won the race
		return ErrAlreadyVerified
	}
	return nil
}

// Confirm marks a record verified with the given target, as the webhook path
// does after matching an inbound token. It reports whether this call made the
// transition so duplicate deliveries stay idempotent.
func (s *Service) Confirm(ctx context.Context, rec *SecretRecord, target string) (bool, error) {
	return s.repo.MarkVerified(ctx, rec.ID, target, time.Now().UTC())
}

// RegisterFailedAttempt bumps a record's attempt counter outside the Verify
// path. The webhook sender-mismatch branch shares the record's single counter
// with code verification.
func (s *Service) RegisterFailedAttempt(ctx context.Context, id uuid.UUID) (int32, error) {
	return s.repo.IncrementAttempts(ctx, id)
}

// FindByToken looks up a record by an inbound reply token, normalizing case
// and the optional hyphen first.
func (s *Service) FindByToken(ctx context.Context, token string) (*SecretRecord, error) {
	return s.repo.FindByHash(ctx, HashSecret(NormalizeToken(token)))
}

// Status returns the latest record for (owner, channel).
func (s *Service) Status(ctx context.Context, ownerID uuid.UUID, channel string) (*SecretRecord, error) {
	return s.repo.GetLatest(ctx, ownerID, channel)
}

// Resend deletes the pending record and issues a fresh secret. Channel-level
// rate limiting is the caller's concern.
func (s *Service) Resend(ctx context.Context, ownerID uuid.UUID, channel, target string, kind SecretKind) (*IssuedSecret, error) {
	if err := s.repo.DeletePending(ctx, ownerID, channel); err != nil {
		return nil, fmt.Errorf("failed to delete pending secret: %w", err)
	}
	return s.Issue(ctx, ownerID, channel, target, kind)
}

// SweepExpired deletes unverified, expired records. Expired records are also
// rejected at verify time, so this is hygiene, not correctness.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	count, err := s.repo.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		slog.Error("Failed to sweep expired secrets", "error", err)
		return 0, fmt.Errorf("failed to sweep expired secrets: %w", err)
	}
	if count > 0 {
		slog.Info("Swept expired secrets", "count", count)
	}
	return count, nil
}

// HashSecret returns the hex-encoded SHA-256 hash of a secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// NormalizeToken uppercases an inbound token and strips the optional hyphen
// after the prefix, so "ver-ab12c3" and "VERAB12C3" hash identically.
func NormalizeToken(token string) string {
	t := strings.ToUpper(strings.TrimSpace(token))
	return strings.Replace(t, TokenPrefix+"-", TokenPrefix, 1)
}

func matchesHash(storedHash, candidate string) bool {
	candidateHash := HashSecret(candidate)
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(candidateHash)) == 1
}

func randomToken(length int) string {
	// local alphabet keeps tokens within [A-Z0-9]
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(tokenAlphabet))))
		if err != nil {
			panic(err)
		}
		b[i] = tokenAlphabet[n.Int64()]
	}
	return string(b)
}
