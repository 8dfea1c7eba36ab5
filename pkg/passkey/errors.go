package passkey

import "errors"

var (
	// ErrNotConfigured is returned when the relying party is not configured
	ErrNotConfigured = errors.New("passkey relying party not configured")

	// ErrRegistrationFailed is returned when an attestation response fails validation
	ErrRegistrationFailed = errors.New("passkey registration failed")

	// ErrAuthenticationFailed is returned when an assertion response fails validation
	ErrAuthenticationFailed = errors.New("passkey authentication failed")

	// ErrReplayDetected is returned when an assertion's signature counter did
	// not advance past the stored counter. This indicates a cloned
	// authenticator and is a hard failure, never retried.
	ErrReplayDetected = errors.New("passkey replay detected")
)
