package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/notification"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/secrets"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func testWhatsApp() *WhatsAppProvider {
	return NewWhatsAppProvider(WhatsAppConfig{
		BusinessNumber: "+15550001111",
		WebhookSecret:  "wa-secret",
		VerifyToken:    "verify-token",
	})
}

func TestWhatsAppValidateWebhook(t *testing.T) {
	p := testWhatsApp()
	body := []byte(`{"entry":[]}`)

	assert.True(t, p.ValidateWebhook(body, sign("wa-secret", body)))
	assert.True(t, p.ValidateWebhook(body, "sha256="+sign("wa-secret", body)))
	assert.False(t, p.ValidateWebhook(body, sign("wrong", body)))
	assert.False(t, p.ValidateWebhook(body, ""))
}

func TestWhatsAppParseWebhook(t *testing.T) {
	p := testWhatsApp()
	body := []byte(`{"entry":[{"changes":[{"value":{"messages":[{"from":"15551234567","text":{"body":"VER-AB12C3"}}]}}]}]}`)

	msg, err := p.ParseWebhook(body)
	require.NoError(t, err)
	assert.Equal(t, "15551234567", msg.Sender)
	assert.Equal(t, "VER-AB12C3", msg.Text)

	_, err = p.ParseWebhook([]byte(`{"entry":[]}`))
	assert.ErrorIs(t, err, ErrMalformedWebhook)

	_, err = p.ParseWebhook([]byte(`not-json`))
	assert.ErrorIs(t, err, ErrMalformedWebhook)
}

func TestSmsInboundParseWebhook(t *testing.T) {
	p := NewSmsInboundProvider(SmsInboundConfig{
		InboundNumber: "+15550002222",
		WebhookSecret: "sms-secret",
	})

	body := []byte(url.Values{
		"From": {"+1 555 123 4567"},
		"Body": {"ver-ab12c3"},
	}.Encode())

	msg, err := p.ParseWebhook(body)
	require.NoError(t, err)
	assert.Equal(t, "+1 555 123 4567", msg.Sender)
	assert.Equal(t, "ver-ab12c3", msg.Text)

	_, err = p.ParseWebhook([]byte("From=%2B1555"))
	assert.ErrorIs(t, err, ErrMalformedWebhook)
}

func TestProviderConfiguration(t *testing.T) {
	assert.True(t, testWhatsApp().IsConfigured())
	assert.False(t, NewWhatsAppProvider(WhatsAppConfig{}).IsConfigured())

	nm := notification.NewNotificationManager()
	sms := NewSmsOtpProvider(nm, "vritti-cloud")
	assert.False(t, sms.IsConfigured())

	nm.RegisterNotifier(notification.SMSSystem, &notification.MockNotifier{})
	assert.True(t, sms.IsConfigured())
}

func TestSmsOtpSend(t *testing.T) {
	nm := notification.NewNotificationManager()
	mock := &notification.MockNotifier{}
	nm.RegisterNotifier(notification.SMSSystem, mock)
	require.NoError(t, nm.RegisterNotification(notification.VerificationCodeNotice, notification.SMSSystem, notification.NoticeTemplate{
		Text: "{{.Code}}",
	}))

	p := NewSmsOtpProvider(nm, "vritti-cloud")
	issued := &secrets.IssuedSecret{
		Plaintext: "123456",
		Display:   "123456",
		Kind:      secrets.KindNumeric,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}

	require.NoError(t, p.Send(context.Background(), "+15551234567", issued))
	require.Len(t, mock.SentNotifications, 1)
	assert.Equal(t, "+15551234567", mock.SentNotifications[0].To)
	assert.Equal(t, "123456", mock.SentNotifications[0].Data["Code"])
}

func TestSmsOtpSendLoginCode(t *testing.T) {
	nm := notification.NewNotificationManager()
	mock := &notification.MockNotifier{}
	nm.RegisterNotifier(notification.SMSSystem, mock)
	require.NoError(t, nm.RegisterNotification(notification.MfaCodeNotice, notification.SMSSystem, notification.NoticeTemplate{
		Text: "{{.Code}} login",
	}))

	p := NewSmsOtpProvider(nm, "vritti-cloud")
	issued := &secrets.IssuedSecret{
		Plaintext: "654321",
		Display:   "654321",
		Kind:      secrets.KindNumeric,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}

	require.NoError(t, p.SendLoginCode(context.Background(), "+15551234567", issued))
	require.Len(t, mock.SentTypes, 1)
	assert.Equal(t, notification.MfaCodeNotice, mock.SentTypes[0])
	assert.Equal(t, "654321", mock.SentNotifications[0].Data["Code"])
}

func TestFactory(t *testing.T) {
	nm := notification.NewNotificationManager()
	nm.RegisterNotifier(notification.EmailSystem, &notification.MockNotifier{})

	factory := NewFactory(
		testWhatsApp(),
		NewSmsInboundProvider(SmsInboundConfig{}), // unconfigured
		NewEmailProvider(nm, "vritti-cloud"),
	)

	p, err := factory.Get(KindWhatsApp)
	require.NoError(t, err)
	assert.Equal(t, KindWhatsApp, p.Kind())

	_, err = factory.Get(KindSmsInbound)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = factory.Get("carrier-pigeon")
	assert.ErrorIs(t, err, ErrUnknownChannel)

	inbound, err := factory.Inbound(KindWhatsApp)
	require.NoError(t, err)
	assert.True(t, inbound.IsConfigured())

	_, err = factory.Inbound(KindEmail)
	assert.ErrorIs(t, err, ErrUnknownChannel)

	// priority order: whatsapp outranks email
	def, err := factory.Default()
	require.NoError(t, err)
	assert.Equal(t, KindWhatsApp, def.Kind())

	assert.Equal(t, []Kind{KindWhatsApp, KindEmail}, factory.Configured())
}

func TestInstructions(t *testing.T) {
	issued := &secrets.IssuedSecret{Display: "VER-AB12C3", Kind: secrets.KindToken}
	text := testWhatsApp().Instructions(issued, "")
	assert.Contains(t, text, "VER-AB12C3")
	assert.Contains(t, text, "+15550001111")
}
