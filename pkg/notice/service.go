package notice

import (
	"embed"
	"log/slog"

	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/notification"
)

//go:embed templates/*
var templateFiles embed.FS

func loadTemplate(filename string) string {
	content, err := templateFiles.ReadFile(filename)
	if err != nil {
		slog.Error("Error reading template file!", "err", err, "filename", filename)
		return ""
	}
	return string(content)
}

const (
	verificationCodeSms = "Your {{.ServiceName}} verification code is {{.Code}}. It expires in {{.ExpiryMinutes}} minutes."
	mfaCodeSms          = "{{.Code}} is your {{.ServiceName}} login code. It expires in {{.ExpiryMinutes}} minutes."
)

// NewNotificationManager wires up the notifiers and registers the notice
// templates this service sends.
func NewNotificationManager(smtpConfig notification.SMTPConfig, smsConfig notification.SMSGatewayConfig) (*notification.NotificationManager, error) {
	nm := notification.NewNotificationManager()

	emailNotifier, err := notification.NewEmailNotifier(smtpConfig)
	if err != nil {
		return nil, err
	}
	nm.RegisterNotifier(notification.EmailSystem, emailNotifier)

	smsNotifier := notification.NewSMSNotifier(smsConfig)
	if smsNotifier.IsConfigured() {
		nm.RegisterNotifier(notification.SMSSystem, smsNotifier)
	} else {
		slog.Warn("SMS gateway not configured, SMS notices disabled")
	}

	err = nm.RegisterNotification(notification.VerificationCodeNotice, notification.EmailSystem, notification.NoticeTemplate{
		Subject: "Your verification code",
		Html:    loadTemplate("templates/email/verification_code.html"),
	})
	if err != nil {
		return nil, err
	}

	err = nm.RegisterNotification(notification.VerificationCodeNotice, notification.SMSSystem, notification.NoticeTemplate{
		Text: verificationCodeSms,
	})
	if err != nil {
		return nil, err
	}

	err = nm.RegisterNotification(notification.MfaCodeNotice, notification.EmailSystem, notification.NoticeTemplate{
		Subject: "Your login code",
		Html:    loadTemplate("templates/email/mfa_code.html"),
	})
	if err != nil {
		return nil, err
	}

	err = nm.RegisterNotification(notification.MfaCodeNotice, notification.SMSSystem, notification.NoticeTemplate{
		Text: mfaCodeSms,
	})
	if err != nil {
		return nil, err
	}

	return nm, nil
}
