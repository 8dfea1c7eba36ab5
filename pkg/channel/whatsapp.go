package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/secrets"
)

// WhatsAppConfig configures the WhatsApp inbound channel.
type WhatsAppConfig struct {
	BusinessNumber string // the number users message their token to
	WebhookSecret  string // shared secret for webhook signatures
	VerifyToken    string // shared token for the GET handshake
}

// WhatsAppProvider is the inbound WhatsApp channel: the user sends the reply
// token to the business number and the platform delivers it back over a
// signed webhook.
type WhatsAppProvider struct {
	config WhatsAppConfig
}

func NewWhatsAppProvider(config WhatsAppConfig) *WhatsAppProvider {
	return &WhatsAppProvider{config: config}
}

func (p *WhatsAppProvider) Kind() Kind {
	return KindWhatsApp
}

func (p *WhatsAppProvider) SecretKind() secrets.SecretKind {
	return secrets.KindToken
}

// Send is a no-op: the user initiates contact with the token.
func (p *WhatsAppProvider) Send(ctx context.Context, target string, issued *secrets.IssuedSecret) error {
	return nil
}

func (p *WhatsAppProvider) Instructions(issued *secrets.IssuedSecret, target string) string {
	return fmt.Sprintf("Send the code %s to %s on WhatsApp to verify your phone number.", issued.Display, p.config.BusinessNumber)
}

func (p *WhatsAppProvider) IsConfigured() bool {
	return p.config.BusinessNumber != "" && p.config.WebhookSecret != "" && p.config.VerifyToken != ""
}

// VerifyToken returns the shared handshake token.
func (p *WhatsAppProvider) VerifyToken() string {
	return p.config.VerifyToken
}

func (p *WhatsAppProvider) ValidateWebhook(rawBody []byte, signature string) bool {
	return validSignature(p.config.WebhookSecret, rawBody, signature)
}

// whatsAppPayload mirrors the platform's nested webhook structure.
type whatsAppPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					From string `json:"from"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

func (p *WhatsAppProvider) ParseWebhook(rawBody []byte) (*InboundMessage, error) {
	var payload whatsAppPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.From == "" || msg.Text.Body == "" {
					continue
				}
				return &InboundMessage{
					Sender: msg.From,
					Text:   msg.Text.Body,
				}, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no message in payload", ErrMalformedWebhook)
}
