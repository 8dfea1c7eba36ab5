package api

// ChallengeResponse describes the MFA challenge issued after the first
// authentication factor
type ChallengeResponse struct {
	MfaRequired bool     `json:"mfa_required"`
	ChallengeID string   `json:"challenge_id,omitempty"`
	Methods     []string `json:"methods,omitempty"`
	MaskedEmail string   `json:"masked_email,omitempty"`
	MaskedPhone string   `json:"masked_phone,omitempty"`
	ExpiresAt   string   `json:"expires_at,omitempty"`
	TempToken   string   `json:"temp_token,omitempty"`
}

// VerifyCodeRequest submits a TOTP, backup, or SMS code for a challenge
type VerifyCodeRequest struct {
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
}

// ChallengeRequest names the challenge a factor operation applies to
type ChallengeRequest struct {
	ChallengeID string `json:"challenge_id"`
}

// FinishPasskeyRequest carries the authenticator's assertion response
type FinishPasskeyRequest struct {
	ChallengeID string `json:"challenge_id"`
	// Response is the raw WebAuthn assertion JSON produced by the browser
	Response map[string]interface{} `json:"response"`
}

// SendSmsResponse reports where the login code was sent
type SendSmsResponse struct {
	Message     string `json:"message"`
	MaskedPhone string `json:"masked_phone"`
}

// SessionResponse is returned once the challenge is satisfied
type SessionResponse struct {
	Message       string `json:"message"`
	Method        string `json:"method"`
	AccessToken   string `json:"access_token"`
	RefreshToken  string `json:"refresh_token"`
	AccessExpiry  string `json:"access_expiry"`
	RefreshExpiry string `json:"refresh_expiry"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}
