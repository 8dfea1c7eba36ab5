package mfa

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/channel"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/notification"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/passkey"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/secrets"
	enginetotp "github.com/vritti-ai-platforms/cloud-server-sub003/pkg/totp"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/twofactor"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/utils"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/verification"
)

type fixture struct {
	service   *Service
	store     *Store
	twoFactor *twofactor.Service
	contacts  *verification.InMemContactRepository
	mock      *notification.MockNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	passkeyEngine, err := passkey.NewEngine(passkey.Config{
		RPID:          "example.com",
		RPDisplayName: "Example",
		RPOrigins:     []string{"https://example.com"},
	})
	require.NoError(t, err)
	twoFactor := twofactor.NewService(twofactor.NewInMemConfigRepository(), enginetotp.NewEngine("vritti-cloud"), passkeyEngine)

	nm := notification.NewNotificationManager()
	mock := &notification.MockNotifier{}
	nm.RegisterNotifier(notification.SMSSystem, mock)
	require.NoError(t, nm.RegisterNotification(notification.VerificationCodeNotice, notification.SMSSystem, notification.NoticeTemplate{
		Text: "{{.Code}}",
	}))
	require.NoError(t, nm.RegisterNotification(notification.MfaCodeNotice, notification.SMSSystem, notification.NoticeTemplate{
		Text: "{{.Code}} login",
	}))

	store := NewStore(5 * time.Minute)
	t.Cleanup(store.Close)

	contacts := verification.NewInMemContactRepository()
	service := NewService(
		store,
		twoFactor,
		secrets.NewService(secrets.NewInMemSecretRepository()),
		channel.NewFactory(channel.NewSmsOtpProvider(nm, "vritti-cloud")),
		contacts,
	)

	return &fixture{
		service:   service,
		store:     store,
		twoFactor: twoFactor,
		contacts:  contacts,
		mock:      mock,
	}
}

func (f *fixture) enrollTotp(t *testing.T, ownerID uuid.UUID) *enginetotp.Enrollment {
	t.Helper()
	enrollment, err := f.twoFactor.EnrollTotp(context.Background(), ownerID, "user@example.com")
	require.NoError(t, err)
	require.NoError(t, f.twoFactor.ActivateTotp(context.Background(), ownerID, currentCode(t, enrollment.Secret)))
	return enrollment
}

func (f *fixture) addVerifiedPhone(t *testing.T, ownerID uuid.UUID, phone string) {
	t.Helper()
	require.NoError(t, f.contacts.Upsert(context.Background(), verification.Contact{
		OwnerID:        ownerID,
		Email:          "user@example.com",
		Phone:          phone,
		PhoneHash:      utils.HashPhone(phone),
		PhoneVerified:  true,
		OnboardingStep: verification.StepContactVerified,
		UpdatedAt:      time.Now().UTC(),
	}))
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    enginetotp.PERIOD,
		Skew:      enginetotp.SKEW,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestCreateChallengeNoSecondFactor(t *testing.T) {
	f := newFixture(t)

	c, err := f.service.CreateChallenge(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestCreateChallengeMethods(t *testing.T) {
	f := newFixture(t)
	ownerID := uuid.New()

	f.enrollTotp(t, ownerID)
	f.addVerifiedPhone(t, ownerID, "+15551234567")

	c, err := f.service.CreateChallenge(context.Background(), ownerID)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.ElementsMatch(t, []string{MethodTotp, MethodSms}, c.Methods)
	assert.Equal(t, "u***r@example.com", c.MaskedEmail)
	assert.Equal(t, "********4567", c.MaskedPhone)
	assert.True(t, c.ExpiresAt.After(time.Now()))
}

func TestCreateChallengeSmsRequiresVerifiedPhone(t *testing.T) {
	f := newFixture(t)
	ownerID := uuid.New()

	f.enrollTotp(t, ownerID)
	require.NoError(t, f.contacts.Upsert(context.Background(), verification.Contact{
		OwnerID:   ownerID,
		Phone:     "+15551234567",
		PhoneHash: utils.HashPhone("+15551234567"),
		UpdatedAt: time.Now().UTC(),
	}))

	c, err := f.service.CreateChallenge(context.Background(), ownerID)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, []string{MethodTotp}, c.Methods)
}

func TestVerifyTotpCompletesOnce(t *testing.T) {
	f := newFixture(t)
	ownerID := uuid.New()
	enrollment := f.enrollTotp(t, ownerID)

	c, err := f.service.CreateChallenge(context.Background(), ownerID)
	require.NoError(t, err)

	login, err := f.service.VerifyTotp(context.Background(), c.ID, currentCode(t, enrollment.Secret))
	require.NoError(t, err)
	assert.Equal(t, ownerID, login.OwnerID)
	assert.Equal(t, MethodTotp, login.Method)

	// first success wins; later attempts are rejected
	_, err = f.service.VerifyTotp(context.Background(), c.ID, currentCode(t, enrollment.Secret))
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
}

func TestVerifyTotpWrongCode(t *testing.T) {
	f := newFixture(t)
	ownerID := uuid.New()
	f.enrollTotp(t, ownerID)

	c, err := f.service.CreateChallenge(context.Background(), ownerID)
	require.NoError(t, err)

	_, err = f.service.VerifyTotp(context.Background(), c.ID, "000000")
	assert.ErrorIs(t, err, twofactor.ErrInvalidPasscode)

	// the challenge survives a failed attempt
	got, err := f.service.GetChallenge(c.ID)
	require.NoError(t, err)
	assert.False(t, got.Completed)
}

func TestVerifyTotpBackupCode(t *testing.T) {
	f := newFixture(t)
	ownerID := uuid.New()
	enrollment := f.enrollTotp(t, ownerID)

	c, err := f.service.CreateChallenge(context.Background(), ownerID)
	require.NoError(t, err)

	login, err := f.service.VerifyTotp(context.Background(), c.ID, enrollment.BackupCodes[0])
	require.NoError(t, err)
	assert.Equal(t, MethodTotp, login.Method)
}

func TestSmsFlow(t *testing.T) {
	f := newFixture(t)
	ownerID := uuid.New()
	f.enrollTotp(t, ownerID)
	f.addVerifiedPhone(t, ownerID, "+15551234567")

	c, err := f.service.CreateChallenge(context.Background(), ownerID)
	require.NoError(t, err)

	// verifying before a code was sent is rejected
	_, err = f.service.VerifySms(context.Background(), c.ID, "123456")
	assert.ErrorIs(t, err, ErrSmsNotSent)

	masked, err := f.service.SendSmsCode(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "********4567", masked)

	// login codes go out under the login notice, not the contact one
	require.Len(t, f.mock.SentNotifications, 1)
	require.Len(t, f.mock.SentTypes, 1)
	assert.Equal(t, notification.MfaCodeNotice, f.mock.SentTypes[0])
	code := f.mock.SentNotifications[0].Data["Code"]

	_, err = f.service.VerifySms(context.Background(), c.ID, "999999")
	assert.ErrorIs(t, err, secrets.ErrInvalidSecret)

	login, err := f.service.VerifySms(context.Background(), c.ID, code)
	require.NoError(t, err)
	assert.Equal(t, MethodSms, login.Method)
}

func TestVerifyMethodNotAvailable(t *testing.T) {
	f := newFixture(t)
	ownerID := uuid.New()
	f.enrollTotp(t, ownerID)

	c, err := f.service.CreateChallenge(context.Background(), ownerID)
	require.NoError(t, err)

	_, err = f.service.VerifySms(context.Background(), c.ID, "123456")
	assert.ErrorIs(t, err, ErrMethodNotAvailable)

	_, err = f.service.BeginPasskeyLogin(context.Background(), c.ID)
	assert.ErrorIs(t, err, ErrMethodNotAvailable)
}

func TestChallengeExpiry(t *testing.T) {
	f := newFixture(t)
	ownerID := uuid.New()
	f.enrollTotp(t, ownerID)

	store := NewStore(10 * time.Millisecond)
	defer store.Close()
	c := store.Create(ownerID, []string{MethodTotp}, "", "")

	time.Sleep(20 * time.Millisecond)
	_, err := store.Get(c.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestUnknownChallenge(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.VerifyTotp(context.Background(), uuid.New(), "123456")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
