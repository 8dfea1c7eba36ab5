package channel

import (
	"context"
	"errors"

	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/secrets"
)

// Kind tags a delivery channel.
type Kind string

const (
	KindWhatsApp   Kind = "whatsapp"
	KindSmsInbound Kind = "sms_inbound"
	KindSmsOtp     Kind = "sms_otp"
	KindEmail      Kind = "email"
)

var (
	// ErrUnknownChannel is returned when no provider exists for a channel tag
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrNotConfigured is returned when a provider is resolved but its
	// configuration is incomplete. Readiness is checked eagerly so a channel
	// is never offered to a user it cannot serve.
	ErrNotConfigured = errors.New("channel not configured")

	// ErrMalformedWebhook is returned when an inbound payload cannot be parsed
	ErrMalformedWebhook = errors.New("malformed webhook payload")
)

// InboundMessage is the channel-independent reduction of a webhook payload.
type InboundMessage struct {
	Sender string // sender address, e.g. a phone number
	Text   string // message text containing the reply token
}

// Provider is one delivery channel for verification secrets.
type Provider interface {
	Kind() Kind

	// SecretKind tells the ledger what shape of secret this channel carries.
	SecretKind() secrets.SecretKind

	// Send delivers the secret to the target. Inbound channels have nothing
	// to transmit: the user initiates contact with the token.
	Send(ctx context.Context, target string, issued *secrets.IssuedSecret) error

	// Instructions renders the user-facing prompt for this channel.
	Instructions(issued *secrets.IssuedSecret, target string) string

	IsConfigured() bool
}

// LoginCodeSender is implemented by providers that can deliver a login code
// with its own notice wording, distinct from the contact-verification notice.
type LoginCodeSender interface {
	SendLoginCode(ctx context.Context, target string, issued *secrets.IssuedSecret) error
}

// InboundProvider is a Provider whose remote system calls back over a
// signed webhook.
type InboundProvider interface {
	Provider

	// VerifyToken returns the shared token echoed back during the webhook
	// subscription handshake.
	VerifyToken() string

	// ValidateWebhook checks the signature over the raw body.
	ValidateWebhook(rawBody []byte, signature string) bool

	// ParseWebhook reduces the channel-specific body to an InboundMessage.
	ParseWebhook(rawBody []byte) (*InboundMessage, error)
}
