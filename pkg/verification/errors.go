package verification

import "errors"

var (
	// ErrContactNotFound is returned when no contact row exists for the owner.
	ErrContactNotFound = errors.New("contact not found")

	// ErrPhoneConflict is returned when the phone number is already verified
	// by a different owner.
	ErrPhoneConflict = errors.New("phone number already verified by another account")

	// ErrInvalidSignature is returned when a webhook delivery fails the
	// provider's HMAC check.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrNoToken is returned when an inbound message carries no reply token.
	ErrNoToken = errors.New("no verification token in message")
)
