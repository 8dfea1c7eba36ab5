package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/mfa"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/passkey"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/secrets"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/tokengenerator"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/twofactor"
)

// Handler exposes the MFA challenge flow: challenge creation after the first
// factor and verification of each second factor.
type Handler struct {
	service    *mfa.Service
	jwtService *tokengenerator.JwtService
}

// NewHandler creates a new MFA API handler
func NewHandler(service *mfa.Service, jwtService *tokengenerator.JwtService) *Handler {
	return &Handler{
		service:    service,
		jwtService: jwtService,
	}
}

// Routes registers the MFA endpoints. The challenge endpoint requires a
// verified token; the factor endpoints require the temp token minted with
// the challenge, bound to the submitted challenge ID.
func (h *Handler) Routes(r chi.Router, auth *jwtauth.JWTAuth) {
	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(auth))
		r.Use(jwtauth.Authenticator(auth))
		r.Post("/challenge", h.CreateChallenge)
	})
	r.Post("/totp/verify", h.VerifyTotp)
	r.Post("/passkey/begin", h.BeginPasskey)
	r.Post("/passkey/finish", h.FinishPasskey)
	r.Post("/sms/send", h.SendSms)
	r.Post("/sms/verify", h.VerifySms)
}

// CreateChallenge handles POST /challenge
func (h *Handler) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	ownerID, err := getOwnerIDFromContext(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, ErrorResponse{Error: "Unauthorized"})
		return
	}

	challenge, err := h.service.CreateChallenge(r.Context(), ownerID)
	if err != nil {
		slog.Error("Failed to create MFA challenge", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Error: "An error occurred while creating the challenge"})
		return
	}

	if challenge == nil {
		// no second factor configured, login proceeds directly
		render.Status(r, http.StatusOK)
		render.JSON(w, r, ChallengeResponse{MfaRequired: false})
		return
	}

	tempToken, tempExpiry, err := h.jwtService.IssuePending(ownerID, challenge.ID)
	if err != nil {
		slog.Error("Failed to mint temp token", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Error: "An error occurred while creating the challenge"})
		return
	}
	h.jwtService.SetTempTokenCookie(w, tempToken, tempExpiry)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, ChallengeResponse{
		MfaRequired: true,
		ChallengeID: challenge.ID.String(),
		Methods:     challenge.Methods,
		MaskedEmail: challenge.MaskedEmail,
		MaskedPhone: challenge.MaskedPhone,
		ExpiresAt:   challenge.ExpiresAt.Format(time.RFC3339),
		TempToken:   tempToken,
	})
}

// VerifyTotp handles POST /totp/verify
func (h *Handler) VerifyTotp(w http.ResponseWriter, r *http.Request) {
	req, challengeID, ok := h.decodeVerifyRequest(w, r)
	if !ok {
		return
	}
	if !h.requireTempToken(w, r, challengeID) {
		return
	}

	login, err := h.service.VerifyTotp(r.Context(), challengeID, req.Code)
	if err != nil {
		h.renderFactorError(w, r, err)
		return
	}
	h.renderSession(w, r, login)
}

// BeginPasskey handles POST /passkey/begin
func (h *Handler) BeginPasskey(w http.ResponseWriter, r *http.Request) {
	var req ChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Invalid request body"})
		return
	}
	challengeID, err := uuid.Parse(req.ChallengeID)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Invalid challenge_id"})
		return
	}
	if !h.requireTempToken(w, r, challengeID) {
		return
	}

	assertion, err := h.service.BeginPasskeyLogin(r.Context(), challengeID)
	if err != nil {
		h.renderFactorError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, assertion)
}

// FinishPasskey handles POST /passkey/finish
func (h *Handler) FinishPasskey(w http.ResponseWriter, r *http.Request) {
	var req FinishPasskeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Invalid request body"})
		return
	}
	challengeID, err := uuid.Parse(req.ChallengeID)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Invalid challenge_id"})
		return
	}
	responseJSON, err := json.Marshal(req.Response)
	if err != nil || len(req.Response) == 0 {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Assertion response is required"})
		return
	}
	if !h.requireTempToken(w, r, challengeID) {
		return
	}

	login, err := h.service.FinishPasskeyLogin(r.Context(), challengeID, responseJSON)
	if err != nil {
		h.renderFactorError(w, r, err)
		return
	}
	h.renderSession(w, r, login)
}

// SendSms handles POST /sms/send
func (h *Handler) SendSms(w http.ResponseWriter, r *http.Request) {
	var req ChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Invalid request body"})
		return
	}
	challengeID, err := uuid.Parse(req.ChallengeID)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Invalid challenge_id"})
		return
	}
	if !h.requireTempToken(w, r, challengeID) {
		return
	}

	masked, err := h.service.SendSmsCode(r.Context(), challengeID)
	if err != nil {
		h.renderFactorError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, SendSmsResponse{
		Message:     "Login code sent",
		MaskedPhone: masked,
	})
}

// VerifySms handles POST /sms/verify
func (h *Handler) VerifySms(w http.ResponseWriter, r *http.Request) {
	req, challengeID, ok := h.decodeVerifyRequest(w, r)
	if !ok {
		return
	}
	if !h.requireTempToken(w, r, challengeID) {
		return
	}

	login, err := h.service.VerifySms(r.Context(), challengeID, req.Code)
	if err != nil {
		h.renderFactorError(w, r, err)
		return
	}
	h.renderSession(w, r, login)
}

// requireTempToken checks that the caller presents the temp token minted
// with the challenge and that it is bound to the submitted challenge ID. The
// token is read from the temp cookie or a bearer header.
func (h *Handler) requireTempToken(w http.ResponseWriter, r *http.Request, challengeID uuid.UUID) bool {
	var tokenStr string
	if cookie, err := r.Cookie(tokengenerator.TEMP_TOKEN_NAME); err == nil {
		tokenStr = cookie.Value
	}
	if tokenStr == "" {
		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			tokenStr = strings.TrimPrefix(header, "Bearer ")
		}
	}

	bound, err := h.jwtService.ValidatePending(tokenStr)
	if err != nil {
		slog.Warn("Temp token validation failed", "error", err)
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, ErrorResponse{Error: "Unauthorized"})
		return false
	}
	if bound != challengeID {
		slog.Warn("Temp token bound to a different challenge", "challenge_id", challengeID)
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, ErrorResponse{Error: "Unauthorized"})
		return false
	}
	return true
}

func (h *Handler) decodeVerifyRequest(w http.ResponseWriter, r *http.Request) (VerifyCodeRequest, uuid.UUID, bool) {
	var req VerifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Invalid request body"})
		return req, uuid.Nil, false
	}
	if req.Code == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Code is required"})
		return req, uuid.Nil, false
	}
	challengeID, err := uuid.Parse(req.ChallengeID)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Invalid challenge_id"})
		return req, uuid.Nil, false
	}
	return req, challengeID, true
}

func (h *Handler) renderSession(w http.ResponseWriter, r *http.Request, login *mfa.CompletedLogin) {
	pair, err := h.jwtService.IssueSession(login.OwnerID, true, login.Method)
	if err != nil {
		slog.Error("Failed to mint session tokens", "owner_id", login.OwnerID, "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Error: "An error occurred while completing login"})
		return
	}
	h.jwtService.SetSessionCookies(w, pair)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, SessionResponse{
		Message:       "Login completed",
		Method:        login.Method,
		AccessToken:   pair.AccessToken,
		RefreshToken:  pair.RefreshToken,
		AccessExpiry:  pair.AccessExpiry.Format(time.RFC3339),
		RefreshExpiry: pair.RefreshExpiry.Format(time.RFC3339),
	})
}

func (h *Handler) renderFactorError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadRequest
	message := "Verification failed"

	switch {
	case errors.Is(err, mfa.ErrSessionNotFound):
		status = http.StatusNotFound
		message = "Challenge not found or expired"
	case errors.Is(err, mfa.ErrAlreadyCompleted):
		status = http.StatusConflict
		message = "Challenge already completed"
	case errors.Is(err, mfa.ErrMethodNotAvailable):
		message = "Method not available for this challenge"
	case errors.Is(err, mfa.ErrSmsNotSent):
		message = "Request an SMS code first"
	case errors.Is(err, passkey.ErrReplayDetected):
		status = http.StatusUnauthorized
		message = "Credential replay detected"
	case errors.Is(err, twofactor.ErrInvalidPasscode), errors.Is(err, secrets.ErrInvalidSecret):
		status = http.StatusUnauthorized
		message = "Invalid code"
	case errors.Is(err, secrets.ErrExpired):
		message = "Code has expired"
	case errors.Is(err, secrets.ErrAttemptsExceeded):
		status = http.StatusTooManyRequests
		message = "Too many failed attempts"
	case errors.Is(err, twofactor.ErrNotEnabled), errors.Is(err, twofactor.ErrConfigNotFound):
		message = "Method not configured"
	default:
		slog.Error("MFA verification failed", "error", err)
		status = http.StatusInternalServerError
		message = "An error occurred during verification"
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: message})
}

// getOwnerIDFromContext extracts the owner ID from the JWT in the request
// context, set by the jwtauth middleware.
func getOwnerIDFromContext(r *http.Request) (uuid.UUID, error) {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		return uuid.Nil, err
	}

	sub, ok := claims["user_id"].(string)
	if !ok || sub == "" {
		return uuid.Nil, errors.New("user_id not found in JWT claims")
	}
	return uuid.Parse(sub)
}
