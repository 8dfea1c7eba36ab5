package channel

import (
	"context"
	"fmt"
	"net/url"

	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/secrets"
)

// SmsInboundConfig configures the SMS reply channel.
type SmsInboundConfig struct {
	InboundNumber string
	WebhookSecret string
	VerifyToken   string
}

// SmsInboundProvider is the SMS reply channel: the user texts the token to
// the inbound number and the carrier gateway posts it back form-encoded.
type SmsInboundProvider struct {
	config SmsInboundConfig
}

func NewSmsInboundProvider(config SmsInboundConfig) *SmsInboundProvider {
	return &SmsInboundProvider{config: config}
}

func (p *SmsInboundProvider) Kind() Kind {
	return KindSmsInbound
}

func (p *SmsInboundProvider) SecretKind() secrets.SecretKind {
	return secrets.KindToken
}

// Send is a no-op: the user initiates contact with the token.
func (p *SmsInboundProvider) Send(ctx context.Context, target string, issued *secrets.IssuedSecret) error {
	return nil
}

func (p *SmsInboundProvider) Instructions(issued *secrets.IssuedSecret, target string) string {
	return fmt.Sprintf("Text the code %s to %s to verify your phone number.", issued.Display, p.config.InboundNumber)
}

func (p *SmsInboundProvider) IsConfigured() bool {
	return p.config.InboundNumber != "" && p.config.WebhookSecret != ""
}

// VerifyToken returns the shared handshake token.
func (p *SmsInboundProvider) VerifyToken() string {
	return p.config.VerifyToken
}

func (p *SmsInboundProvider) ValidateWebhook(rawBody []byte, signature string) bool {
	return validSignature(p.config.WebhookSecret, rawBody, signature)
}

// ParseWebhook reads the gateway's form-encoded From/Body pair.
func (p *SmsInboundProvider) ParseWebhook(rawBody []byte) (*InboundMessage, error) {
	values, err := url.ParseQuery(string(rawBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}

	sender := values.Get("From")
	text := values.Get("Body")
	if sender == "" || text == "" {
		return nil, fmt.Errorf("%w: missing From or Body", ErrMalformedWebhook)
	}
	return &InboundMessage{Sender: sender, Text: text}, nil
}
