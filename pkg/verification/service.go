package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/channel"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/events"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/secrets"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/utils"
)

// tokenPattern extracts a reply token from free-form inbound text. Users
// type "ver-ab12c3", "VERAB12C3", or copy the displayed "VER-AB12C3" form.
var tokenPattern = regexp.MustCompile(`(?i)\bVER-?[A-Z0-9]{6}\b`)

// Initiation is returned when a verification starts. Token is set only for
// inbound reply channels, where the user must see it to send it back.
type Initiation struct {
	Channel      channel.Kind
	Token        string
	Instructions string
	MaskedTarget string
	ExpiresAt    time.Time
}

// Service orchestrates contact verification: it starts verifications over a
// channel provider, checks submitted codes, and processes inbound webhook
// messages against the secret ledger.
type Service struct {
	secrets  *secrets.Service
	channels *channel.Factory
	contacts ContactRepository
	hub      *events.Hub
}

func NewService(secretService *secrets.Service, channels *channel.Factory, contacts ContactRepository, hub *events.Hub) *Service {
	return &Service{
		secrets:  secretService,
		channels: channels,
		contacts: contacts,
		hub:      hub,
	}
}

// Initiate starts a verification for (owner, channel). An empty kind picks
// the highest-priority configured channel. For outbound channels the secret
// is delivered to target; for inbound channels the target may be empty and is
// adopted from the first inbound reply.
func (s *Service) Initiate(ctx context.Context, ownerID uuid.UUID, kind channel.Kind, target string) (*Initiation, error) {
	provider, err := s.resolve(kind)
	if err != nil {
		return nil, err
	}

	target = s.normalizeTarget(provider.Kind(), target)
	if err := s.ensureContact(ctx, ownerID, provider.Kind(), target); err != nil {
		return nil, fmt.Errorf("failed to prepare contact: %w", err)
	}

	issued, err := s.secrets.Issue(ctx, ownerID, string(provider.Kind()), target, provider.SecretKind())
	if err != nil {
		return nil, err
	}

	if target != "" {
		if err := provider.Send(ctx, target, issued); err != nil {
			slog.Error("Failed to deliver verification secret", "owner_id", ownerID, "channel", provider.Kind(), "error", err)
			return nil, err
		}
	}

	return s.initiation(provider, issued, target), nil
}

// Verify checks a user-submitted code for (owner, channel) and completes the
// verification on success.
func (s *Service) Verify(ctx context.Context, ownerID uuid.UUID, kind channel.Kind, code string) error {
	ch := string(kind)
	if err := s.secrets.Verify(ctx, ownerID, ch, code); err != nil {
		return err
	}

	rec, err := s.secrets.Status(ctx, ownerID, ch)
	if err != nil {
		return err
	}
	s.completeContact(ctx, ownerID, kind, rec.Target)
	s.hub.Publish(ownerID, events.Event{
		OwnerID:  ownerID,
		Channel:  ch,
		Type:     events.TypeVerified,
		Terminal: true,
		At:       time.Now().UTC(),
	})
	return nil
}

// Resend discards the pending secret and issues a fresh one over the same
// channel.
func (s *Service) Resend(ctx context.Context, ownerID uuid.UUID, kind channel.Kind, target string) (*Initiation, error) {
	provider, err := s.resolve(kind)
	if err != nil {
		return nil, err
	}

	target = s.normalizeTarget(provider.Kind(), target)
	issued, err := s.secrets.Resend(ctx, ownerID, string(provider.Kind()), target, provider.SecretKind())
	if err != nil {
		return nil, err
	}

	if target != "" {
		if err := provider.Send(ctx, target, issued); err != nil {
			slog.Error("Failed to deliver verification secret", "owner_id", ownerID, "channel", provider.Kind(), "error", err)
			return nil, err
		}
	}

	return s.initiation(provider, issued, target), nil
}

// Status returns the latest verification record for (owner, channel).
func (s *Service) Status(ctx context.Context, ownerID uuid.UUID, kind channel.Kind) (*secrets.SecretRecord, error) {
	return s.secrets.Status(ctx, ownerID, string(kind))
}

// PendingExpiry returns the expiry of the owner's most recent pending
// verification across configured channels, for bounding event subscriptions.
func (s *Service) PendingExpiry(ctx context.Context, ownerID uuid.UUID) (time.Time, error) {
	var latest time.Time
	for _, kind := range s.channels.Configured() {
		rec, err := s.secrets.Status(ctx, ownerID, string(kind))
		if err != nil {
			continue
		}
		if !rec.Verified && rec.ExpiresAt.After(latest) {
			latest = rec.ExpiresAt
		}
	}
	if latest.IsZero() {
		return time.Time{}, secrets.ErrRecordNotFound
	}
	return latest, nil
}

// VerifyWebhookSignature checks an inbound delivery's signature with the
// channel's provider before anything else touches the payload.
func (s *Service) VerifyWebhookSignature(kind channel.Kind, rawBody []byte, signature string) error {
	provider, err := s.channels.Inbound(kind)
	if err != nil {
		return err
	}
	if !provider.ValidateWebhook(rawBody, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// ProcessInboundMessage handles one inbound webhook message. It is called
// after the HTTP layer has already acknowledged the delivery, so failures are
// logged and reported to the caller but never to the remote provider.
// Duplicate deliveries of the same message are idempotent.
func (s *Service) ProcessInboundMessage(ctx context.Context, kind channel.Kind, msg *channel.InboundMessage) error {
	token := tokenPattern.FindString(msg.Text)
	if token == "" {
		slog.Info("Inbound message carries no verification token", "channel", kind)
		return ErrNoToken
	}

	rec, err := s.secrets.FindByToken(ctx, token)
	if err != nil {
		slog.Warn("Inbound token matches no record", "channel", kind)
		return err
	}
	if rec.Verified {
		// duplicate delivery of an already-processed message
		slog.Info("Inbound token already verified", "record_id", rec.ID)
		return nil
	}
	if time.Now().UTC().After(rec.ExpiresAt) {
		slog.Info("Inbound token expired", "record_id", rec.ID, "expired_at", rec.ExpiresAt)
		return secrets.ErrExpired
	}
	if rec.Attempts >= s.secrets.MaxAttempts() {
		slog.Warn("Inbound token record exhausted", "record_id", rec.ID, "attempts", rec.Attempts)
		return secrets.ErrAttemptsExceeded
	}

	sender := utils.NormalizePhone(msg.Sender)

	// a record issued without a target (QR flow) adopts the sender's phone;
	// otherwise the sender must match the phone the verification was bound to
	if rec.Target != "" && rec.Target != sender {
		attempts, err := s.secrets.RegisterFailedAttempt(ctx, rec.ID)
		if err != nil {
			slog.Error("Failed to register mismatch attempt", "record_id", rec.ID, "error", err)
			return err
		}
		slog.Warn("Inbound sender mismatch", "record_id", rec.ID, "attempts", attempts)
		reason := "sender_mismatch"
		terminal := attempts >= s.secrets.MaxAttempts()
		if terminal {
			reason = "attempts_exceeded"
		}
		s.hub.Publish(rec.OwnerID, events.Event{
			OwnerID:  rec.OwnerID,
			Channel:  rec.Channel,
			Type:     events.TypeFailed,
			Reason:   reason,
			Terminal: terminal,
			At:       time.Now().UTC(),
		})
		if terminal {
			return secrets.ErrAttemptsExceeded
		}
		return secrets.ErrInvalidSecret
	}

	if existing, err := s.contacts.FindByVerifiedPhone(ctx, utils.HashPhone(sender)); err == nil && existing.OwnerID != rec.OwnerID {
		slog.Warn("Inbound sender phone verified by another owner", "record_id", rec.ID)
		s.hub.Publish(rec.OwnerID, events.Event{
			OwnerID: rec.OwnerID,
			Channel: rec.Channel,
			Type:    events.TypeFailed,
			Reason:  "phone_conflict",
			At:      time.Now().UTC(),
		})
		return ErrPhoneConflict
	}

	ok, err := s.secrets.Confirm(ctx, rec, sender)
	if err != nil {
		slog.Error("Failed to confirm inbound verification", "record_id", rec.ID, "error", err)
		return err
	}
	if !ok {
		// a concurrent delivery won the race
		return nil
	}

	s.completeContact(ctx, rec.OwnerID, channel.Kind(rec.Channel), sender)
	s.hub.Publish(rec.OwnerID, events.Event{
		OwnerID:  rec.OwnerID,
		Channel:  rec.Channel,
		Type:     events.TypeVerified,
		Terminal: true,
		At:       time.Now().UTC(),
	})
	slog.Info("Inbound verification completed", "owner_id", rec.OwnerID, "channel", rec.Channel)
	return nil
}

func (s *Service) resolve(kind channel.Kind) (channel.Provider, error) {
	if kind == "" {
		return s.channels.Default()
	}
	return s.channels.Get(kind)
}

func (s *Service) normalizeTarget(kind channel.Kind, target string) string {
	if kind == channel.KindEmail || target == "" {
		return target
	}
	return utils.NormalizePhone(target)
}

func (s *Service) initiation(provider channel.Provider, issued *secrets.IssuedSecret, target string) *Initiation {
	init := &Initiation{
		Channel:      provider.Kind(),
		Instructions: provider.Instructions(issued, target),
		ExpiresAt:    issued.ExpiresAt,
	}
	if issued.Kind == secrets.KindToken {
		init.Token = issued.Display
	}
	switch provider.Kind() {
	case channel.KindEmail:
		init.MaskedTarget = utils.MaskEmail(target)
	default:
		init.MaskedTarget = utils.MaskPhone(target)
	}
	return init
}

func (s *Service) ensureContact(ctx context.Context, ownerID uuid.UUID, kind channel.Kind, target string) error {
	_, err := s.contacts.Get(ctx, ownerID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrContactNotFound) {
		return err
	}

	contact := Contact{
		OwnerID:        ownerID,
		OnboardingStep: StepContactPending,
		UpdatedAt:      time.Now().UTC(),
	}
	if kind == channel.KindEmail {
		contact.Email = target
	} else if target != "" {
		contact.Phone = target
		contact.PhoneHash = utils.HashPhone(target)
	}
	return s.contacts.Upsert(ctx, contact)
}

// completeContact flips the verified flag for the channel's address and
// advances onboarding. Contact bookkeeping failures are logged, not returned:
// the verification itself already succeeded.
func (s *Service) completeContact(ctx context.Context, ownerID uuid.UUID, kind channel.Kind, target string) {
	now := time.Now().UTC()
	var err error
	if kind == channel.KindEmail {
		err = s.contacts.MarkEmailVerified(ctx, ownerID, now)
	} else {
		err = s.contacts.MarkPhoneVerified(ctx, ownerID, target, now)
	}
	if err != nil {
		slog.Error("Failed to update contact after verification", "owner_id", ownerID, "channel", kind, "error", err)
		return
	}
	if err := s.contacts.AdvanceOnboarding(ctx, ownerID, StepContactVerified); err != nil {
		slog.Error("Failed to advance onboarding", "owner_id", ownerID, "error", err)
	}
}
