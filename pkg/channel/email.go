package channel

import (
	"context"
	"fmt"

	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/notification"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/secrets"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/utils"
)

// EmailProvider delivers a numeric OTP to the user's email address through
// the notification manager.
type EmailProvider struct {
	manager     *notification.NotificationManager
	serviceName string
}

func NewEmailProvider(manager *notification.NotificationManager, serviceName string) *EmailProvider {
	return &EmailProvider{manager: manager, serviceName: serviceName}
}

func (p *EmailProvider) Kind() Kind {
	return KindEmail
}

func (p *EmailProvider) SecretKind() secrets.SecretKind {
	return secrets.KindNumeric
}

func (p *EmailProvider) Send(ctx context.Context, target string, issued *secrets.IssuedSecret) error {
	err := p.manager.Send(notification.VerificationCodeNotice, notification.EmailSystem, notification.NotificationData{
		To: target,
		Data: map[string]string{
			"Code":          issued.Plaintext,
			"ServiceName":   p.serviceName,
			"ExpiryMinutes": expiryMinutes(issued.ExpiresAt),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send email otp: %w", err)
	}
	return nil
}

func (p *EmailProvider) Instructions(issued *secrets.IssuedSecret, target string) string {
	return fmt.Sprintf("We sent a 6-digit code to %s. Enter it to verify your email address.", utils.MaskEmail(target))
}

func (p *EmailProvider) IsConfigured() bool {
	return p.manager != nil && p.manager.HasNotifier(notification.EmailSystem)
}
