package api

// EnrollTotpResponse carries the one-time TOTP enrollment payload
type EnrollTotpResponse struct {
	Secret        string   `json:"secret"`
	QRImageBase64 string   `json:"qr_image_base64"`
	ManualKey     string   `json:"manual_key"`
	Issuer        string   `json:"issuer"`
	AccountLabel  string   `json:"account_label"`
	BackupCodes   []string `json:"backup_codes"`
}

// ActivateTotpRequest proves possession of the enrolled authenticator
type ActivateTotpRequest struct {
	Code string `json:"code"`
}

// MethodsResponse lists the owner's active second-factor methods
type MethodsResponse struct {
	Methods []string `json:"methods"`
}

// BeginRegistrationRequest starts a passkey registration
type BeginRegistrationRequest struct {
	AccountLabel string `json:"account_label,omitempty"`
}

// FinishRegistrationRequest carries the authenticator's attestation response
type FinishRegistrationRequest struct {
	// Response is the raw WebAuthn attestation JSON produced by the browser
	Response map[string]interface{} `json:"response"`
}

// MessageResponse is a generic success response
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}
