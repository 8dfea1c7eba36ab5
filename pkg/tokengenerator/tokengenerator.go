package tokengenerator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token name constants
const (
	ACCESS_TOKEN_NAME  = "access_token"
	REFRESH_TOKEN_NAME = "refresh_token"
	TEMP_TOKEN_NAME    = "temp_token"
)

// TokenGenerator interface defines methods for token operations
type TokenGenerator interface {
	// GenerateToken generates a token with the given subject, expiry and extra claims
	GenerateToken(subject string, expiry time.Duration, extraClaims map[string]interface{}) (string, time.Time, error)

	// ParseToken parses and validates a token
	ParseToken(tokenStr string) (*jwt.Token, error)
}

// Claims struct for JWT claims
type Claims struct {
	ExtraClaims interface{} `json:"extra_claims,omitempty"`
	UserID      string      `json:"user_id,omitempty"`
	MfaVerified bool        `json:"mfa_verified,omitempty"`
	MfaMethod   string      `json:"mfa_method,omitempty"`
	jwt.RegisteredClaims
}

// JwtTokenGenerator implements TokenGenerator with HMAC signing
type JwtTokenGenerator struct {
	Secret   string
	Issuer   string
	Audience string
}

// NewJwtTokenGenerator creates a new JwtTokenGenerator
func NewJwtTokenGenerator(secret, issuer, audience string) *JwtTokenGenerator {
	return &JwtTokenGenerator{
		Secret:   secret,
		Issuer:   issuer,
		Audience: audience,
	}
}

// GenerateToken creates a new token with the given subject and claims
func (g *JwtTokenGenerator) GenerateToken(subject string, expiry time.Duration, extraClaims map[string]interface{}) (string, time.Time, error) {
	now := time.Now().UTC()
	claims := Claims{
		ExtraClaims: extraClaims,
		UserID:      subject,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Minute)),
			Issuer:    g.Issuer,
			Subject:   subject,
			ID:        uuid.New().String(),
			Audience:  jwt.ClaimStrings{g.Audience},
		},
	}

	if v, ok := extraClaims["mfa_verified"].(bool); ok {
		claims.MfaVerified = v
	}
	if m, ok := extraClaims["mfa_method"].(string); ok {
		claims.MfaMethod = m
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString([]byte(g.Secret))
	if err != nil {
		slog.Error("Failed to sign JWT", "error", err)
		return "", time.Time{}, err
	}
	return ss, claims.ExpiresAt.Time, nil
}

// ParseToken parses and validates a token string
func (g *JwtTokenGenerator) ParseToken(tokenStr string) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(g.Secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return token, nil
}

// TempTokenGenerator issues short-lived tokens for sessions that are not yet
// fully authenticated (password accepted, MFA pending). The challenge_id
// claim binds the token to one MFA challenge.
type TempTokenGenerator struct {
	Secret   string
	Issuer   string
	Audience string
}

// NewTempTokenGenerator creates a new TempTokenGenerator
func NewTempTokenGenerator(secret, issuer, audience string) *TempTokenGenerator {
	return &TempTokenGenerator{
		Secret:   secret,
		Issuer:   issuer,
		Audience: audience,
	}
}

// GenerateToken creates a pending-MFA token. extraClaims must carry the
// challenge_id this token is bound to.
func (g *TempTokenGenerator) GenerateToken(subject string, expiry time.Duration, extraClaims map[string]interface{}) (string, time.Time, error) {
	if extraClaims == nil {
		return "", time.Time{}, fmt.Errorf("extra claims required for temp token")
	}
	if _, ok := extraClaims["challenge_id"]; !ok {
		return "", time.Time{}, fmt.Errorf("challenge_id not found in claims")
	}

	now := time.Now().UTC()
	claims := Claims{
		ExtraClaims: map[string]interface{}{
			"challenge_id": extraClaims["challenge_id"],
			"token_use":    "mfa_pending",
		},
		UserID: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			// tighter skew tolerance than session tokens
			NotBefore: jwt.NewNumericDate(now.Add(-1 * time.Minute)),
			Issuer:    g.Issuer,
			Subject:   subject,
			ID:        uuid.New().String(),
			Audience:  jwt.ClaimStrings{g.Audience},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString([]byte(g.Secret))
	if err != nil {
		slog.Error("Failed to sign temp JWT", "error", err)
		return "", time.Time{}, err
	}
	return ss, claims.ExpiresAt.Time, nil
}

// ParseToken parses and validates a temp token
func (g *TempTokenGenerator) ParseToken(tokenStr string) (*jwt.Token, error) {
	return (&JwtTokenGenerator{Secret: g.Secret}).ParseToken(tokenStr)
}
