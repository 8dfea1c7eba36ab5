package api

// InitiateRequest starts a verification over a channel
type InitiateRequest struct {
	Channel string `json:"channel,omitempty"`
	Target  string `json:"target,omitempty"`
}

// InitiateResponse is returned when a verification has started
type InitiateResponse struct {
	Channel      string `json:"channel"`
	Token        string `json:"token,omitempty"`
	Instructions string `json:"instructions"`
	MaskedTarget string `json:"masked_target,omitempty"`
	ExpiresAt    string `json:"expires_at"`
}

// VerifyRequest submits a code for the pending verification
type VerifyRequest struct {
	Channel string `json:"channel"`
	Code    string `json:"code"`
}

// VerifyResponse is returned after a successful verification
type VerifyResponse struct {
	Message    string `json:"message"`
	VerifiedAt string `json:"verified_at"`
}

// StatusResponse reports the pending verification's state
type StatusResponse struct {
	Channel    string  `json:"channel"`
	Verified   bool    `json:"verified"`
	VerifiedAt *string `json:"verified_at,omitempty"`
	ExpiresAt  string  `json:"expires_at"`
	Attempts   int32   `json:"attempts"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}
