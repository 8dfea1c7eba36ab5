package mfa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/google/uuid"

	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/channel"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/secrets"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/twofactor"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/utils"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/verification"
)

// Factor names offered on a challenge.
const (
	MethodTotp    = "totp"
	MethodPasskey = "passkey"
	MethodSms     = "sms"
)

// smsChannel tags the secret ledger records backing SMS login codes,
// separate from the phone verification channel.
const smsChannel = "mfa_sms"

// CompletedLogin is the proof that a challenge was satisfied. The token
// layer mints session credentials from it.
type CompletedLogin struct {
	OwnerID     uuid.UUID
	Method      string
	CompletedAt time.Time
}

// Service orchestrates MFA challenges: it decides which factors an owner can
// use, issues challenges, and validates factor proofs. First successful
// verification wins; the rest see ErrAlreadyCompleted.
type Service struct {
	store     *Store
	twoFactor *twofactor.Service
	secrets   *secrets.Service
	channels  *channel.Factory
	contacts  verification.ContactRepository
}

func NewService(store *Store, twoFactor *twofactor.Service, secretService *secrets.Service, channels *channel.Factory, contacts verification.ContactRepository) *Service {
	return &Service{
		store:     store,
		twoFactor: twoFactor,
		secrets:   secretService,
		channels:  channels,
		contacts:  contacts,
	}
}

// CreateChallenge starts an MFA session for the owner. It returns nil when
// no second factor is available, in which case the login proceeds without
// MFA.
func (s *Service) CreateChallenge(ctx context.Context, ownerID uuid.UUID) (*Challenge, error) {
	enabled, err := s.twoFactor.FindEnabledMethods(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	methods := make([]string, 0, len(enabled)+1)
	for _, m := range enabled {
		methods = append(methods, string(m))
	}

	var maskedEmail, maskedPhone string
	contact, err := s.contacts.Get(ctx, ownerID)
	if err != nil && !errors.Is(err, verification.ErrContactNotFound) {
		return nil, fmt.Errorf("failed to load contact: %w", err)
	}
	if contact != nil {
		if contact.Email != "" {
			maskedEmail = utils.MaskEmail(contact.Email)
		}
		if contact.Phone != "" {
			maskedPhone = utils.MaskPhone(contact.Phone)
		}
		// SMS fallback only with a verified phone and a configured sender
		if contact.PhoneVerified {
			if _, err := s.channels.Get(channel.KindSmsOtp); err == nil {
				methods = append(methods, MethodSms)
			}
		}
	}

	if len(methods) == 0 {
		return nil, nil
	}

	c := s.store.Create(ownerID, methods, maskedEmail, maskedPhone)
	slog.Info("MFA challenge created", "owner_id", ownerID, "methods", methods)
	return c, nil
}

// GetChallenge returns the live challenge.
func (s *Service) GetChallenge(challengeID uuid.UUID) (*Challenge, error) {
	return s.store.Get(challengeID)
}

// VerifyTotp checks a TOTP or backup code against the challenge owner's
// config and completes the challenge on success.
func (s *Service) VerifyTotp(ctx context.Context, challengeID uuid.UUID, code string) (*CompletedLogin, error) {
	c, err := s.requireMethod(challengeID, MethodTotp)
	if err != nil {
		return nil, err
	}

	if err := s.twoFactor.ValidateTotp(ctx, c.OwnerID, code); err != nil {
		return nil, err
	}
	return s.complete(challengeID, c.OwnerID, MethodTotp)
}

// BeginPasskeyLogin produces the assertion options for the challenge owner
// and parks the WebAuthn session on the challenge.
func (s *Service) BeginPasskeyLogin(ctx context.Context, challengeID uuid.UUID) (*protocol.CredentialAssertion, error) {
	c, err := s.requireMethod(challengeID, MethodPasskey)
	if err != nil {
		return nil, err
	}

	assertion, session, err := s.twoFactor.BeginPasskeyLogin(ctx, c.OwnerID, s.accountLabel(c))
	if err != nil {
		return nil, err
	}

	if err := s.store.Update(challengeID, func(c *Challenge) {
		c.WebAuthnSession = session
	}); err != nil {
		return nil, err
	}
	return assertion, nil
}

// FinishPasskeyLogin validates the assertion response and completes the
// challenge. Replay of an old assertion surfaces passkey.ErrReplayDetected.
func (s *Service) FinishPasskeyLogin(ctx context.Context, challengeID uuid.UUID, responseJSON []byte) (*CompletedLogin, error) {
	c, err := s.requireMethod(challengeID, MethodPasskey)
	if err != nil {
		return nil, err
	}
	if c.WebAuthnSession == nil {
		return nil, fmt.Errorf("%w: passkey login not started", ErrMethodNotAvailable)
	}

	if err := s.twoFactor.FinishPasskeyLogin(ctx, c.OwnerID, s.accountLabel(c), *c.WebAuthnSession, responseJSON); err != nil {
		return nil, err
	}
	return s.complete(challengeID, c.OwnerID, MethodPasskey)
}

// SendSmsCode issues a login OTP to the owner's verified phone and attaches
// it to the challenge. Returns the masked phone for display.
func (s *Service) SendSmsCode(ctx context.Context, challengeID uuid.UUID) (string, error) {
	c, err := s.requireMethod(challengeID, MethodSms)
	if err != nil {
		return "", err
	}

	contact, err := s.contacts.Get(ctx, c.OwnerID)
	if err != nil {
		return "", fmt.Errorf("failed to load contact: %w", err)
	}

	provider, err := s.channels.Get(channel.KindSmsOtp)
	if err != nil {
		return "", err
	}

	issued, err := s.secrets.Issue(ctx, c.OwnerID, smsChannel, contact.Phone, secrets.KindNumeric)
	if err != nil {
		return "", err
	}
	// login codes carry their own notice wording when the provider offers it
	if sender, ok := provider.(channel.LoginCodeSender); ok {
		err = sender.SendLoginCode(ctx, contact.Phone, issued)
	} else {
		err = provider.Send(ctx, contact.Phone, issued)
	}
	if err != nil {
		return "", err
	}

	if err := s.store.Update(challengeID, func(c *Challenge) {
		c.SmsSent = true
	}); err != nil {
		return "", err
	}

	slog.Info("MFA sms code sent", "owner_id", c.OwnerID)
	return utils.MaskPhone(contact.Phone), nil
}

// VerifySms checks the SMS login code and completes the challenge.
func (s *Service) VerifySms(ctx context.Context, challengeID uuid.UUID, code string) (*CompletedLogin, error) {
	c, err := s.requireMethod(challengeID, MethodSms)
	if err != nil {
		return nil, err
	}
	if !c.SmsSent {
		return nil, ErrSmsNotSent
	}

	if err := s.secrets.Verify(ctx, c.OwnerID, smsChannel, code); err != nil {
		return nil, err
	}
	return s.complete(challengeID, c.OwnerID, MethodSms)
}

func (s *Service) requireMethod(challengeID uuid.UUID, method string) (*Challenge, error) {
	c, err := s.store.Get(challengeID)
	if err != nil {
		return nil, err
	}
	if c.Completed {
		return nil, ErrAlreadyCompleted
	}
	if !c.HasMethod(method) {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotAvailable, method)
	}
	return c, nil
}

func (s *Service) complete(challengeID uuid.UUID, ownerID uuid.UUID, method string) (*CompletedLogin, error) {
	if err := s.store.Complete(challengeID, method); err != nil {
		return nil, err
	}
	slog.Info("MFA challenge completed", "owner_id", ownerID, "method", method)
	return &CompletedLogin{
		OwnerID:     ownerID,
		Method:      method,
		CompletedAt: time.Now().UTC(),
	}, nil
}

func (s *Service) accountLabel(c *Challenge) string {
	if c.MaskedEmail != "" {
		return c.MaskedEmail
	}
	return c.OwnerID.String()
}
