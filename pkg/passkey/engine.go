package passkey

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Engine wraps the relying-party side of the public-key credential exchange:
// it generates registration/authentication challenges and verifies the signed
// responses. Challenge session data is returned to the caller, who holds it
// until the finish step.
type Engine struct {
	wa *webauthn.WebAuthn
}

// Config identifies the relying party.
type Config struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.RPID == "" || len(cfg.RPOrigins) == 0 {
		return nil, ErrNotConfigured
	}
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure relying party: %w", err)
	}
	return &Engine{wa: wa}, nil
}

// BeginRegistration produces creation options with a fresh challenge. The
// returned session data must be held by the caller until FinishRegistration.
func (e *Engine) BeginRegistration(user *User) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	opts := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementPreferred),
	}
	if len(user.Credentials) > 0 {
		opts = append(opts, webauthn.WithExclusions(webauthn.Credentials(user.Credentials).CredentialDescriptors()))
	}

	creation, session, err := e.wa.BeginRegistration(user, opts...)
	if err != nil {
		slog.Error("Failed to begin passkey registration", "error", err)
		return nil, nil, fmt.Errorf("failed to begin registration: %w", err)
	}
	return creation, session, nil
}

// FinishRegistration validates an attestation response against the held
// session data and returns the new credential for the caller to persist.
func (e *Engine) FinishRegistration(user *User, session webauthn.SessionData, responseJSON []byte) (*webauthn.Credential, error) {
	parsed, err := protocol.ParseCredentialCreationResponseBytes(responseJSON)
	if err != nil {
		slog.Warn("Failed to parse credential creation response", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
	}

	credential, err := e.wa.CreateCredential(user, session, parsed)
	if err != nil {
		slog.Warn("Attestation validation failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
	}
	return credential, nil
}

// BeginLogin produces an assertion request limited to the user's registered
// credentials.
func (e *Engine) BeginLogin(user *User) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	assertion, session, err := e.wa.BeginLogin(user)
	if err != nil {
		slog.Error("Failed to begin passkey login", "error", err)
		return nil, nil, fmt.Errorf("failed to begin login: %w", err)
	}
	return assertion, session, nil
}

// FinishLogin validates a signed assertion against the stored public key and
// enforces the monotonic signature counter. The returned credential carries
// the advanced counter, which the caller persists.
func (e *Engine) FinishLogin(user *User, session webauthn.SessionData, responseJSON []byte) (*webauthn.Credential, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBytes(responseJSON)
	if err != nil {
		slog.Warn("Failed to parse credential assertion response", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	credential, err := e.wa.ValidateLogin(user, session, parsed)
	if err != nil {
		slog.Warn("Assertion validation failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	stored := storedCounterFor(user, credential.ID)
	if err := CheckCounter(stored, credential.Authenticator.SignCount); err != nil {
		slog.Error("Passkey replay detected",
			"credential_id", fmt.Sprintf("%x", credential.ID),
			"stored_counter", stored,
			"assertion_counter", credential.Authenticator.SignCount)
		return nil, err
	}
	if credential.Authenticator.CloneWarning {
		slog.Error("Authenticator clone warning raised", "credential_id", fmt.Sprintf("%x", credential.ID))
		return nil, ErrReplayDetected
	}

	return credential, nil
}

// CheckCounter enforces the replay guard: when counters are in use (either
// side non-zero), the assertion's counter must be strictly greater than the
// stored one.
func CheckCounter(stored, assertion uint32) error {
	if stored == 0 && assertion == 0 {
		// authenticator does not implement a counter
		return nil
	}
	if assertion <= stored {
		return ErrReplayDetected
	}
	return nil
}

func storedCounterFor(user *User, credentialID []byte) uint32 {
	for _, cred := range user.Credentials {
		if bytes.Equal(cred.ID, credentialID) {
			return cred.Authenticator.SignCount
		}
	}
	return 0
}
