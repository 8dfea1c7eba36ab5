package passkey

import (
	"testing"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine(Config{
		RPID:          "example.com",
		RPDisplayName: "Example",
		RPOrigins:     []string{"https://example.com"},
	})
	require.NoError(t, err)
	assert.NotNil(t, engine)
}

func TestNewEngineNotConfigured(t *testing.T) {
	_, err := NewEngine(Config{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewEngine(Config{RPID: "example.com"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestCheckCounter(t *testing.T) {
	// authenticator without a counter
	assert.NoError(t, CheckCounter(0, 0))

	// counter advanced
	assert.NoError(t, CheckCounter(5, 6))
	assert.NoError(t, CheckCounter(0, 1))

	// non-increasing counter is a hard replay failure
	assert.ErrorIs(t, CheckCounter(5, 5), ErrReplayDetected)
	assert.ErrorIs(t, CheckCounter(5, 4), ErrReplayDetected)
	assert.ErrorIs(t, CheckCounter(5, 0), ErrReplayDetected)
}

func TestBeginRegistrationExcludesExistingCredentials(t *testing.T) {
	engine, err := NewEngine(Config{
		RPID:          "example.com",
		RPDisplayName: "Example",
		RPOrigins:     []string{"https://example.com"},
	})
	require.NoError(t, err)

	user := &User{
		ID:   []byte("owner-1"),
		Name: "user@example.com",
		Credentials: []webauthn.Credential{
			{ID: []byte("cred-1")},
		},
	}

	creation, session, err := engine.BeginRegistration(user)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.NotEmpty(t, creation.Response.Challenge)
	require.Len(t, creation.Response.CredentialExcludeList, 1)
}

func TestBeginLogin(t *testing.T) {
	engine, err := NewEngine(Config{
		RPID:          "example.com",
		RPDisplayName: "Example",
		RPOrigins:     []string{"https://example.com"},
	})
	require.NoError(t, err)

	user := &User{
		ID:   []byte("owner-1"),
		Name: "user@example.com",
		Credentials: []webauthn.Credential{
			{ID: []byte("cred-1")},
		},
	}

	assertion, session, err := engine.BeginLogin(user)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.NotEmpty(t, assertion.Response.Challenge)
	require.Len(t, assertion.Response.AllowedCredentials, 1)
}

func TestUserAdapter(t *testing.T) {
	u := &User{ID: []byte("id"), Name: "name"}
	assert.Equal(t, []byte("id"), u.WebAuthnID())
	assert.Equal(t, "name", u.WebAuthnName())
	assert.Equal(t, "name", u.WebAuthnDisplayName())

	u.DisplayName = "Display"
	assert.Equal(t, "Display", u.WebAuthnDisplayName())
}
