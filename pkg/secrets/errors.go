package secrets

import "errors"

var (
	// ErrRecordNotFound is returned when no secret record exists for the lookup
	ErrRecordNotFound = errors.New("secret record not found")

	// ErrExpired is returned when the secret record has passed its expiry
	ErrExpired = errors.New("secret has expired")

	// ErrAttemptsExceeded is returned when the record has consumed all allowed attempts
	ErrAttemptsExceeded = errors.New("too many attempts, request a new code")

	// ErrAlreadyVerified is returned when the record was already verified
	ErrAlreadyVerified = errors.New("secret already verified")

	// ErrInvalidSecret is returned when the candidate does not match the stored hash
	ErrInvalidSecret = errors.New("invalid code")
)
