package twofactor

import "errors"

var (
	// ErrConfigNotFound is returned when no config exists for (owner, method)
	ErrConfigNotFound = errors.New("two-factor config not found")

	// ErrConfigExists is returned when an active config already exists for (owner, method)
	ErrConfigExists = errors.New("two-factor method already configured")

	// ErrNotEnabled is returned when the config exists but is not active
	ErrNotEnabled = errors.New("two-factor method not enabled")

	// ErrInvalidPasscode is returned when neither the TOTP code nor a backup code matched
	ErrInvalidPasscode = errors.New("invalid passcode")

	// ErrCredentialNotFound is returned when a passkey credential id is unknown
	ErrCredentialNotFound = errors.New("passkey credential not found")
)
