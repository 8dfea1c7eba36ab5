package twofactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/passkey"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/totp"
)

// Service manages an owner's second-factor configurations and validates
// factor proofs against them.
type Service struct {
	repo          ConfigRepository
	totpEngine    *totp.Engine
	passkeyEngine *passkey.Engine
}

func NewService(repo ConfigRepository, totpEngine *totp.Engine, passkeyEngine *passkey.Engine) *Service {
	return &Service{
		repo:          repo,
		totpEngine:    totpEngine,
		passkeyEngine: passkeyEngine,
	}
}

// FindEnabledMethods returns the owner's active second-factor methods.
func (s *Service) FindEnabledMethods(ctx context.Context, ownerID uuid.UUID) ([]Method, error) {
	methods, err := s.repo.ListEnabled(ctx, ownerID)
	if err != nil {
		slog.Error("Failed to list enabled two-factor methods", "owner_id", ownerID, "error", err)
		return nil, fmt.Errorf("failed to list enabled methods: %w", err)
	}
	return methods, nil
}

// EnrollTotp creates a disabled TOTP config and returns the one-time
// enrollment payload. The config activates once the owner proves possession
// with ActivateTotp.
func (s *Service) EnrollTotp(ctx context.Context, ownerID uuid.UUID, accountLabel string) (*totp.Enrollment, error) {
	existing, err := s.repo.Get(ctx, ownerID, MethodTotp)
	if err != nil && !errors.Is(err, ErrConfigNotFound) {
		return nil, fmt.Errorf("failed to check existing config: %w", err)
	}
	if existing != nil && existing.Enabled {
		return nil, ErrConfigExists
	}
	if existing != nil {
		// stale un-activated enrollment, start over
		if err := s.repo.Delete(ctx, ownerID, MethodTotp); err != nil {
			return nil, fmt.Errorf("failed to replace pending enrollment: %w", err)
		}
	}

	enrollment, err := s.totpEngine.Enroll(accountLabel)
	if err != nil {
		return nil, err
	}

	hashes, err := totp.HashBackupCodes(enrollment.BackupCodes)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	err = s.repo.Create(ctx, Config{
		ID:               uuid.New(),
		OwnerID:          ownerID,
		Method:           MethodTotp,
		Enabled:          false,
		TotpSecret:       enrollment.Secret,
		BackupCodeHashes: hashes,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store totp config: %w", err)
	}

	return enrollment, nil
}

// ActivateTotp enables the pending TOTP config once the owner submits a
// valid code from their authenticator app.
func (s *Service) ActivateTotp(ctx context.Context, ownerID uuid.UUID, code string) error {
	cfg, err := s.repo.Get(ctx, ownerID, MethodTotp)
	if err != nil {
		return err
	}

	valid, err := totp.VerifyCode(code, cfg.TotpSecret)
	if err != nil {
		return fmt.Errorf("failed to validate totp code: %w", err)
	}
	if !valid {
		return ErrInvalidPasscode
	}

	if err := s.repo.SetEnabled(ctx, ownerID, MethodTotp, true); err != nil {
		return fmt.Errorf("failed to enable totp: %w", err)
	}
	slog.Info("TOTP enabled", "owner_id", ownerID)
	return nil
}

// Disable deactivates a method without deleting its config.
func (s *Service) Disable(ctx context.Context, ownerID uuid.UUID, method Method) error {
	if !ValidMethod(method) {
		return fmt.Errorf("invalid two-factor method: %s", method)
	}
	return s.repo.SetEnabled(ctx, ownerID, method, false)
}

// Remove deletes a method's config entirely.
func (s *Service) Remove(ctx context.Context, ownerID uuid.UUID, method Method) error {
	if !ValidMethod(method) {
		return fmt.Errorf("invalid two-factor method: %s", method)
	}
	return s.repo.Delete(ctx, ownerID, method)
}

// ValidateTotp checks a TOTP code for the owner, falling back to the backup
// code set when the time-based code fails. A consumed backup code is removed
// from the stored set before returning.
func (s *Service) ValidateTotp(ctx context.Context, ownerID uuid.UUID, code string) error {
	cfg, err := s.repo.Get(ctx, ownerID, MethodTotp)
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		return ErrNotEnabled
	}

	valid, err := totp.VerifyCode(code, cfg.TotpSecret)
	if err != nil {
		return fmt.Errorf("failed to validate totp code: %w", err)
	}

	if !valid {
		consumed, remaining := totp.VerifyBackupCode(code, cfg.BackupCodeHashes)
		if !consumed {
			return ErrInvalidPasscode
		}
		if err := s.repo.UpdateBackupCodes(ctx, ownerID, remaining); err != nil {
			slog.Error("Failed to persist consumed backup code", "owner_id", ownerID, "error", err)
			return fmt.Errorf("failed to consume backup code: %w", err)
		}
		slog.Info("Backup code consumed", "owner_id", ownerID, "remaining", len(remaining))
	}

	if err := s.repo.TouchLastUsed(ctx, ownerID, MethodTotp, time.Now().UTC()); err != nil {
		slog.Warn("Failed to record totp use", "owner_id", ownerID, "error", err)
	}
	return nil
}

// BeginPasskeyRegistration produces creation options for registering a new
// passkey. A disabled passkey config is created on first registration.
func (s *Service) BeginPasskeyRegistration(ctx context.Context, ownerID uuid.UUID, accountLabel string) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	cfg, err := s.repo.Get(ctx, ownerID, MethodPasskey)
	if err != nil && !errors.Is(err, ErrConfigNotFound) {
		return nil, nil, fmt.Errorf("failed to load passkey config: %w", err)
	}
	if cfg == nil {
		now := time.Now().UTC()
		err = s.repo.Create(ctx, Config{
			ID:        uuid.New(),
			OwnerID:   ownerID,
			Method:    MethodPasskey,
			Enabled:   false,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil && !errors.Is(err, ErrConfigExists) {
			return nil, nil, fmt.Errorf("failed to create passkey config: %w", err)
		}
		cfg = &Config{OwnerID: ownerID}
	}

	return s.passkeyEngine.BeginRegistration(s.passkeyUser(ownerID, accountLabel, cfg.Credentials))
}

// FinishPasskeyRegistration validates the attestation, stores the credential,
// and activates the passkey method.
func (s *Service) FinishPasskeyRegistration(ctx context.Context, ownerID uuid.UUID, accountLabel string, session webauthn.SessionData, responseJSON []byte) error {
	cfg, err := s.repo.Get(ctx, ownerID, MethodPasskey)
	if err != nil {
		return err
	}

	credential, err := s.passkeyEngine.FinishRegistration(s.passkeyUser(ownerID, accountLabel, cfg.Credentials), session, responseJSON)
	if err != nil {
		return err
	}

	transports := make([]string, 0, len(credential.Transport))
	for _, t := range credential.Transport {
		transports = append(transports, string(t))
	}

	err = s.repo.AddCredential(ctx, ownerID, WebAuthnCredential{
		CredentialID: credential.ID,
		PublicKey:    credential.PublicKey,
		SignCount:    credential.Authenticator.SignCount,
		Transports:   transports,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to store passkey credential: %w", err)
	}

	if err := s.repo.SetEnabled(ctx, ownerID, MethodPasskey, true); err != nil {
		return fmt.Errorf("failed to enable passkey: %w", err)
	}
	slog.Info("Passkey registered", "owner_id", ownerID, "credential_id", fmt.Sprintf("%x", credential.ID))
	return nil
}

// BeginPasskeyLogin produces an assertion request scoped to the owner's
// registered credentials.
func (s *Service) BeginPasskeyLogin(ctx context.Context, ownerID uuid.UUID, accountLabel string) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	cfg, err := s.repo.Get(ctx, ownerID, MethodPasskey)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Enabled || len(cfg.Credentials) == 0 {
		return nil, nil, ErrNotEnabled
	}

	return s.passkeyEngine.BeginLogin(s.passkeyUser(ownerID, accountLabel, cfg.Credentials))
}

// FinishPasskeyLogin validates the assertion and persists the advanced
// signature counter. A non-increasing counter surfaces as
// passkey.ErrReplayDetected.
func (s *Service) FinishPasskeyLogin(ctx context.Context, ownerID uuid.UUID, accountLabel string, session webauthn.SessionData, responseJSON []byte) error {
	cfg, err := s.repo.Get(ctx, ownerID, MethodPasskey)
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		return ErrNotEnabled
	}

	credential, err := s.passkeyEngine.FinishLogin(s.passkeyUser(ownerID, accountLabel, cfg.Credentials), session, responseJSON)
	if err != nil {
		return err
	}

	if err := s.repo.UpdateCredentialCounter(ctx, ownerID, credential.ID, credential.Authenticator.SignCount); err != nil {
		slog.Error("Failed to persist signature counter", "owner_id", ownerID, "error", err)
		return fmt.Errorf("failed to persist signature counter: %w", err)
	}
	if err := s.repo.TouchLastUsed(ctx, ownerID, MethodPasskey, time.Now().UTC()); err != nil {
		slog.Warn("Failed to record passkey use", "owner_id", ownerID, "error", err)
	}
	return nil
}

func (s *Service) passkeyUser(ownerID uuid.UUID, accountLabel string, creds []WebAuthnCredential) *passkey.User {
	waCreds := make([]webauthn.Credential, 0, len(creds))
	for _, c := range creds {
		transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
		for _, t := range c.Transports {
			transports = append(transports, protocol.AuthenticatorTransport(t))
		}
		waCreds = append(waCreds, webauthn.Credential{
			ID:        c.CredentialID,
			PublicKey: c.PublicKey,
			Transport: transports,
			Authenticator: webauthn.Authenticator{
				SignCount: c.SignCount,
			},
		})
	}
	return &passkey.User{
		ID:          ownerID[:],
		Name:        accountLabel,
		DisplayName: accountLabel,
		Credentials: waCreds,
	}
}
