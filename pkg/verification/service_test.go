package verification

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/channel"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/events"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/notification"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/secrets"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/utils"
)

type fixture struct {
	service  *Service
	secrets  *secrets.Service
	contacts *InMemContactRepository
	hub      *events.Hub
	mock     *notification.MockNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	nm := notification.NewNotificationManager()
	mock := &notification.MockNotifier{}
	nm.RegisterNotifier(notification.EmailSystem, mock)
	require.NoError(t, nm.RegisterNotification(notification.VerificationCodeNotice, notification.EmailSystem, notification.NoticeTemplate{
		Subject: "Your code",
		Text:    "{{.Code}}",
	}))

	secretService := secrets.NewService(secrets.NewInMemSecretRepository())
	factory := channel.NewFactory(
		channel.NewWhatsAppProvider(channel.WhatsAppConfig{
			BusinessNumber: "+15550001111",
			WebhookSecret:  "wa-secret",
			VerifyToken:    "verify-token",
		}),
		channel.NewEmailProvider(nm, "vritti-cloud"),
	)
	contacts := NewInMemContactRepository()
	hub := events.NewHub()

	return &fixture{
		service:  NewService(secretService, factory, contacts, hub),
		secrets:  secretService,
		contacts: contacts,
		hub:      hub,
		mock:     mock,
	}
}

func subscribe(f *fixture, ownerID uuid.UUID) <-chan events.Event {
	ch, _ := f.hub.Subscribe(context.Background(), ownerID, time.Now().Add(time.Minute))
	return ch
}

func expectEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("expected event")
		return events.Event{}
	}
}

func TestInitiateWhatsAppReturnsToken(t *testing.T) {
	f := newFixture(t)
	ownerID := uuid.New()

	init, err := f.service.Initiate(context.Background(), ownerID, channel.KindWhatsApp, "")
	require.NoError(t, err)

	assert.Equal(t, channel.KindWhatsApp, init.Channel)
	assert.Regexp(t, `^VER-[A-Z0-9]{6}$`, init.Token)
	assert.Contains(t, init.Instructions, init.Token)
	assert.Contains(t, init.Instructions, "+15550001111")
	assert.True(t, init.ExpiresAt.After(time.Now()))

	// contact row is created in the pending step
	contact, err := f.contacts.Get(context.Background(), ownerID)
	require.NoError(t, err)
	assert.Equal(t, StepContactPending, contact.OnboardingStep)
}

func TestInitiateDefaultChannelPriority(t *testing.T) {
	f := newFixture(t)

	init, err := f.service.Initiate(context.Background(), uuid.New(), "", "")
	require.NoError(t, err)
	assert.Equal(t, channel.KindWhatsApp, init.Channel)
}

func TestInboundMessageAdoptsSenderAndCompletes(t *testing.T) {
	f := newFixture(t)
	ownerID := uuid.New()

	init, err := f.service.Initiate(context.Background(), ownerID, channel.KindWhatsApp, "")
	require.NoError(t, err)

	ch := subscribe(f, ownerID)
	err = f.service.ProcessInboundMessage(context.Background(), channel.KindWhatsApp, &channel.InboundMessage{
		Sender: "+1 (555) 123-4567",
		Text:   "hi, my code is " + init.Token,
	})
	require.NoError(t, err)

	ev := expectEvent(t, ch)
	assert.Equal(t, events.TypeVerified, ev.Type)
	assert.Equal(t, string(channel.KindWhatsApp), ev.Channel)

	contact, err := f.contacts.Get(context.Background(), ownerID)
	require.NoError(t, err)
	assert.True(t, contact.PhoneVerified)
	assert.Equal(t, "+15551234567", contact.Phone)
	assert.Equal(t, StepContactVerified, contact.OnboardingStep)

	rec, err := f.service.Status(context.Background(), ownerID, channel.KindWhatsApp)
	require.NoError(t, err)
	assert.True(t, rec.Verified)
	assert.Equal(t, "+15551234567", rec.Target)
}

func TestInboundMessageCaseInsensitiveToken(t *testing.T) {
	f := newFixture(t)
	ownerID := uuid.New()

	init, err := f.service.Initiate(context.Background(), ownerID, channel.KindWhatsApp, "")
	require.NoError(t, err)

	lower := "ver-" + init.Token[len("VER-"):]
	err = f.service.ProcessInboundMessage(context.Background(), channel.KindWhatsApp, &channel.InboundMessage{
		Sender: "+15551234567",
		Text:   lower,
	})
	require.NoError(t, err)

	rec, err := f.service.Status(context.Background(), ownerID, channel.KindWhatsApp)
	require.NoError(t, err)
	assert.True(t, rec.Verified)
}

func TestInboundMessageDuplicateDeliveryIdempotent(t *testing.T) {
	f := newFixture(t)
	ownerID := uuid.New()

	init, err := f.service.Initiate(context.Background(), ownerID, channel.KindWhatsApp, "")
	require.NoError(t, err)

	msg := &channel.InboundMessage{Sender: "+15551234567", Text: init.Token}
	require.NoError(t, f.service.ProcessInboundMessage(context.Background(), channel.KindWhatsApp, msg))

	ch := subscribe(f, ownerID)
	require.NoError(t, f.service.ProcessInboundMessage(context.Background(), channel.KindWhatsApp, msg))

	// the duplicate must not emit a second completion event
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInboundMessageSenderMismatch(t *testing.T) {
	f := newFixture(t)
	ownerID := uuid.New()

	init, err := f.service.Initiate(context.Background(), ownerID, channel.KindWhatsApp, "+15551234567")
	require.NoError(t, err)

	ch := subscribe(f, ownerID)
	err = f.service.ProcessInboundMessage(context.Background(), channel.KindWhatsApp, &channel.InboundMessage{
		Sender: "+15559990000",
		Text:   init.Token,
	})
	assert.ErrorIs(t, err, secrets.ErrInvalidSecret)

	ev := expectEvent(t, ch)
	assert.Equal(t, events.TypeFailed, ev.Type)
	assert.Equal(t, "sender_mismatch", ev.Reason)

	// the mismatch consumed an attempt on the same counter Verify uses
	rec, err := f.service.Status(context.Background(), ownerID, channel.KindWhatsApp)
	require.NoError(t, err)
	assert.Equal(t, int32(1), rec.Attempts)
	assert.False(t, rec.Verified)
}

func TestInboundMessageMismatchExhaustsAttempts(t *testing.T) {
	f := newFixture(t)
	ownerID := uuid.New()

	init, err := f.service.Initiate(context.Background(), ownerID, channel.KindWhatsApp, "+15551234567")
	require.NoError(t, err)

	msg := &channel.InboundMessage{Sender: "+15559990000", Text: init.Token}
	for i := int32(0); i < f.secrets.MaxAttempts()-1; i++ {
		err = f.service.ProcessInboundMessage(context.Background(), channel.KindWhatsApp, msg)
		assert.ErrorIs(t, err, secrets.ErrInvalidSecret)
	}

	// the mismatch that consumes the last attempt reports the lockout itself
	err = f.service.ProcessInboundMessage(context.Background(), channel.KindWhatsApp, msg)
	assert.ErrorIs(t, err, secrets.ErrAttemptsExceeded)

	// counter exhausted, further deliveries are rejected before any compare
	err = f.service.ProcessInboundMessage(context.Background(), channel.KindWhatsApp, msg)
	assert.ErrorIs(t, err, secrets.ErrAttemptsExceeded)

	// and the correct sender is locked out too
	err = f.service.ProcessInboundMessage(context.Background(), channel.KindWhatsApp, &channel.InboundMessage{
		Sender: "+15551234567",
		Text:   init.Token,
	})
	assert.ErrorIs(t, err, secrets.ErrAttemptsExceeded)
}

func TestVerifyWebhookSignature(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"entry":[]}`)

	mac := hmac.New(sha256.New, []byte("wa-secret"))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	require.NoError(t, f.service.VerifyWebhookSignature(channel.KindWhatsApp, body, sig))

	err := f.service.VerifyWebhookSignature(channel.KindWhatsApp, body, "sha256=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	err = f.service.VerifyWebhookSignature(channel.KindEmail, body, sig)
	assert.ErrorIs(t, err, channel.ErrUnknownChannel)
}

func TestInboundMessageNoToken(t *testing.T) {
	f := newFixture(t)

	err := f.service.ProcessInboundMessage(context.Background(), channel.KindWhatsApp, &channel.InboundMessage{
		Sender: "+15551234567",
		Text:   "hello there",
	})
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestInboundMessageUnknownToken(t *testing.T) {
	f := newFixture(t)

	err := f.service.ProcessInboundMessage(context.Background(), channel.KindWhatsApp, &channel.InboundMessage{
		Sender: "+15551234567",
		Text:   "VER-ZZZZZZ",
	})
	assert.ErrorIs(t, err, secrets.ErrRecordNotFound)
}

func TestInboundMessagePhoneConflict(t *testing.T) {
	f := newFixture(t)
	otherOwner := uuid.New()
	phone := "+15551234567"

	require.NoError(t, f.contacts.Upsert(context.Background(), Contact{
		OwnerID:        otherOwner,
		Phone:          phone,
		PhoneHash:      utils.HashPhone(phone),
		PhoneVerified:  true,
		OnboardingStep: StepContactVerified,
		UpdatedAt:      time.Now().UTC(),
	}))

	ownerID := uuid.New()
	init, err := f.service.Initiate(context.Background(), ownerID, channel.KindWhatsApp, "")
	require.NoError(t, err)

	err = f.service.ProcessInboundMessage(context.Background(), channel.KindWhatsApp, &channel.InboundMessage{
		Sender: phone,
		Text:   init.Token,
	})
	assert.ErrorIs(t, err, ErrPhoneConflict)

	rec, err := f.service.Status(context.Background(), ownerID, channel.KindWhatsApp)
	require.NoError(t, err)
	assert.False(t, rec.Verified)
}

func TestEmailVerifyFlow(t *testing.T) {
	f := newFixture(t)
	ownerID := uuid.New()

	init, err := f.service.Initiate(context.Background(), ownerID, channel.KindEmail, "jane@example.com")
	require.NoError(t, err)
	assert.Empty(t, init.Token)
	assert.Equal(t, "j***e@example.com", init.MaskedTarget)

	require.Len(t, f.mock.SentNotifications, 1)
	code := f.mock.SentNotifications[0].Data["Code"]
	require.Len(t, code, 6)

	ch := subscribe(f, ownerID)
	require.NoError(t, f.service.Verify(context.Background(), ownerID, channel.KindEmail, code))

	ev := expectEvent(t, ch)
	assert.Equal(t, events.TypeVerified, ev.Type)

	contact, err := f.contacts.Get(context.Background(), ownerID)
	require.NoError(t, err)
	assert.True(t, contact.EmailVerified)
	assert.Equal(t, StepContactVerified, contact.OnboardingStep)

	// a second verify of the same code is rejected
	err = f.service.Verify(context.Background(), ownerID, channel.KindEmail, code)
	assert.ErrorIs(t, err, secrets.ErrAlreadyVerified)
}

func TestResendInvalidatesOldCode(t *testing.T) {
	f := newFixture(t)
	ownerID := uuid.New()

	_, err := f.service.Initiate(context.Background(), ownerID, channel.KindEmail, "jane@example.com")
	require.NoError(t, err)
	oldCode := f.mock.SentNotifications[0].Data["Code"]

	_, err = f.service.Resend(context.Background(), ownerID, channel.KindEmail, "jane@example.com")
	require.NoError(t, err)
	require.Len(t, f.mock.SentNotifications, 2)
	newCode := f.mock.SentNotifications[1].Data["Code"]

	if oldCode != newCode {
		err = f.service.Verify(context.Background(), ownerID, channel.KindEmail, oldCode)
		assert.ErrorIs(t, err, secrets.ErrInvalidSecret)
	}
	require.NoError(t, f.service.Verify(context.Background(), ownerID, channel.KindEmail, newCode))
}

func TestPendingExpiry(t *testing.T) {
	f := newFixture(t)
	ownerID := uuid.New()

	_, err := f.service.PendingExpiry(context.Background(), ownerID)
	assert.ErrorIs(t, err, secrets.ErrRecordNotFound)

	init, err := f.service.Initiate(context.Background(), ownerID, channel.KindWhatsApp, "")
	require.NoError(t, err)

	expiry, err := f.service.PendingExpiry(context.Background(), ownerID)
	require.NoError(t, err)
	assert.Equal(t, init.ExpiresAt, expiry)
}
