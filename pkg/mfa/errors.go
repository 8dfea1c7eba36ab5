package mfa

import "errors"

var (
	// ErrSessionNotFound is returned when the challenge does not exist or has
	// expired.
	ErrSessionNotFound = errors.New("mfa session not found or expired")

	// ErrMethodNotAvailable is returned when the requested factor is not
	// among the challenge's offered methods.
	ErrMethodNotAvailable = errors.New("mfa method not available")

	// ErrAlreadyCompleted is returned when the challenge was already
	// satisfied by another verification.
	ErrAlreadyCompleted = errors.New("mfa challenge already completed")

	// ErrSmsNotSent is returned when an SMS code is verified before one was
	// sent for the challenge.
	ErrSmsNotSent = errors.New("no sms code sent for this challenge")
)
