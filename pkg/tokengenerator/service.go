package tokengenerator

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Default token expiry durations
const (
	DefaultAccessTokenExpiry  = 15 * time.Minute
	DefaultRefreshTokenExpiry = 24 * time.Hour
	DefaultTempTokenExpiry    = 5 * time.Minute
)

// TokenPair is a minted access/refresh token set for a completed login.
type TokenPair struct {
	AccessToken   string
	AccessExpiry  time.Time
	RefreshToken  string
	RefreshExpiry time.Time
}

// JwtService mints and validates the service's JWTs: session pairs for
// completed logins and short-lived temp tokens for logins pending MFA.
type JwtService struct {
	sessionGenerator TokenGenerator
	tempGenerator    TokenGenerator
	cookieSetter     CookieSetter

	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	tempTokenExpiry    time.Duration
}

// JwtServiceOption is a function that configures a JwtService
type JwtServiceOption func(*JwtService)

// WithAccessTokenExpiry sets the access token expiry duration
func WithAccessTokenExpiry(expiry time.Duration) JwtServiceOption {
	return func(js *JwtService) {
		js.accessTokenExpiry = expiry
	}
}

// WithRefreshTokenExpiry sets the refresh token expiry duration
func WithRefreshTokenExpiry(expiry time.Duration) JwtServiceOption {
	return func(js *JwtService) {
		js.refreshTokenExpiry = expiry
	}
}

// WithTempTokenExpiry sets the temporary token expiry duration
func WithTempTokenExpiry(expiry time.Duration) JwtServiceOption {
	return func(js *JwtService) {
		js.tempTokenExpiry = expiry
	}
}

// WithCookieSetter overrides the default cookie setter
func WithCookieSetter(setter CookieSetter) JwtServiceOption {
	return func(js *JwtService) {
		js.cookieSetter = setter
	}
}

// NewJwtService creates a new JwtService
func NewJwtService(secret, issuer, audience string, options ...JwtServiceOption) *JwtService {
	js := &JwtService{
		sessionGenerator:   NewJwtTokenGenerator(secret, issuer, audience),
		tempGenerator:      NewTempTokenGenerator(secret, issuer, audience),
		cookieSetter:       NewCookieSetter(true, true),
		accessTokenExpiry:  DefaultAccessTokenExpiry,
		refreshTokenExpiry: DefaultRefreshTokenExpiry,
		tempTokenExpiry:    DefaultTempTokenExpiry,
	}

	for _, option := range options {
		option(js)
	}
	return js
}

// IssueSession mints the access/refresh pair for a fully authenticated owner.
func (js *JwtService) IssueSession(ownerID uuid.UUID, mfaVerified bool, mfaMethod string) (*TokenPair, error) {
	claims := map[string]interface{}{
		"mfa_verified": mfaVerified,
	}
	if mfaMethod != "" {
		claims["mfa_method"] = mfaMethod
	}

	access, accessExpiry, err := js.sessionGenerator.GenerateToken(ownerID.String(), js.accessTokenExpiry, claims)
	if err != nil {
		return nil, fmt.Errorf("failed to mint access token: %w", err)
	}
	refresh, refreshExpiry, err := js.sessionGenerator.GenerateToken(ownerID.String(), js.refreshTokenExpiry, claims)
	if err != nil {
		return nil, fmt.Errorf("failed to mint refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:   access,
		AccessExpiry:  accessExpiry,
		RefreshToken:  refresh,
		RefreshExpiry: refreshExpiry,
	}, nil
}

// IssuePending mints a temp token bound to an MFA challenge.
func (js *JwtService) IssuePending(ownerID, challengeID uuid.UUID) (string, time.Time, error) {
	return js.tempGenerator.GenerateToken(ownerID.String(), js.tempTokenExpiry, map[string]interface{}{
		"challenge_id": challengeID.String(),
	})
}

// ParseToken parses and validates a session token.
func (js *JwtService) ParseToken(tokenStr string) (*jwt.Token, error) {
	return js.sessionGenerator.ParseToken(tokenStr)
}

// ValidatePending parses a temp token and returns the challenge it is bound
// to. Session tokens are rejected: they carry no mfa_pending marker.
func (js *JwtService) ValidatePending(tokenStr string) (uuid.UUID, error) {
	token, err := js.tempGenerator.ParseToken(tokenStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid temp token: %w", err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, fmt.Errorf("invalid token claims format")
	}
	extraClaims, _ := mapClaims["extra_claims"].(map[string]interface{})
	if use, _ := extraClaims["token_use"].(string); use != "mfa_pending" {
		return uuid.Nil, fmt.Errorf("not a pending-login token")
	}

	challengeIDStr, _ := extraClaims["challenge_id"].(string)
	if challengeIDStr == "" {
		return uuid.Nil, fmt.Errorf("missing challenge_id in token")
	}
	return uuid.Parse(challengeIDStr)
}

// SetSessionCookies writes the pair as HTTP-only cookies.
func (js *JwtService) SetSessionCookies(w http.ResponseWriter, pair *TokenPair) {
	js.cookieSetter.SetCookie(w, ACCESS_TOKEN_NAME, pair.AccessToken, pair.AccessExpiry)
	js.cookieSetter.SetCookie(w, REFRESH_TOKEN_NAME, pair.RefreshToken, pair.RefreshExpiry)
}

// SetTempTokenCookie writes the pending-MFA token cookie.
func (js *JwtService) SetTempTokenCookie(w http.ResponseWriter, token string, expiry time.Time) {
	js.cookieSetter.SetCookie(w, TEMP_TOKEN_NAME, token, expiry)
}

// ClearSessionCookies removes all session cookies.
func (js *JwtService) ClearSessionCookies(w http.ResponseWriter) {
	js.cookieSetter.ClearCookie(w, ACCESS_TOKEN_NAME)
	js.cookieSetter.ClearCookie(w, REFRESH_TOKEN_NAME)
	js.cookieSetter.ClearCookie(w, TEMP_TOKEN_NAME)
}
