package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/passkey"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/twofactor"
)

const registrationSessionTTL = 5 * time.Minute

type registrationSession struct {
	session      *webauthn.SessionData
	accountLabel string
	expiresAt    time.Time
}

// Handler exposes second-factor management: TOTP enrollment and activation,
// passkey registration, and method listing/removal. All routes require an
// authenticated session.
type Handler struct {
	service *twofactor.Service

	// in-flight passkey registrations, keyed by owner
	mu       sync.Mutex
	sessions map[uuid.UUID]registrationSession
}

// NewHandler creates a new two-factor API handler
func NewHandler(service *twofactor.Service) *Handler {
	return &Handler{
		service:  service,
		sessions: make(map[uuid.UUID]registrationSession),
	}
}

// Routes registers the two-factor management endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/methods", h.ListMethods)
	r.Post("/totp/enroll", h.EnrollTotp)
	r.Post("/totp/activate", h.ActivateTotp)
	r.Post("/passkey/register/begin", h.BeginPasskeyRegistration)
	r.Post("/passkey/register/finish", h.FinishPasskeyRegistration)
	r.Delete("/{method}", h.RemoveMethod)
}

// ListMethods handles GET /methods
func (h *Handler) ListMethods(w http.ResponseWriter, r *http.Request) {
	ownerID, err := getOwnerIDFromContext(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, ErrorResponse{Error: "Unauthorized"})
		return
	}

	methods, err := h.service.FindEnabledMethods(r.Context(), ownerID)
	if err != nil {
		slog.Error("Failed to list methods", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Error: "An error occurred while listing methods"})
		return
	}

	names := make([]string, 0, len(methods))
	for _, m := range methods {
		names = append(names, string(m))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, MethodsResponse{Methods: names})
}

// EnrollTotp handles POST /totp/enroll
func (h *Handler) EnrollTotp(w http.ResponseWriter, r *http.Request) {
	ownerID, err := getOwnerIDFromContext(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, ErrorResponse{Error: "Unauthorized"})
		return
	}

	enrollment, err := h.service.EnrollTotp(r.Context(), ownerID, accountLabel(r, ownerID))
	if err != nil {
		if errors.Is(err, twofactor.ErrConfigExists) {
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, ErrorResponse{Error: "TOTP is already enabled"})
			return
		}
		slog.Error("Failed to enroll totp", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Error: "An error occurred while enrolling"})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, EnrollTotpResponse{
		Secret:        enrollment.Secret,
		QRImageBase64: enrollment.QRImageBase64,
		ManualKey:     enrollment.ManualKey,
		Issuer:        enrollment.Issuer,
		AccountLabel:  enrollment.AccountLabel,
		BackupCodes:   enrollment.BackupCodes,
	})
}

// ActivateTotp handles POST /totp/activate
func (h *Handler) ActivateTotp(w http.ResponseWriter, r *http.Request) {
	ownerID, err := getOwnerIDFromContext(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, ErrorResponse{Error: "Unauthorized"})
		return
	}

	var req ActivateTotpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Code is required"})
		return
	}

	if err := h.service.ActivateTotp(r.Context(), ownerID, req.Code); err != nil {
		status := http.StatusBadRequest
		message := "Failed to activate TOTP"

		switch {
		case errors.Is(err, twofactor.ErrConfigNotFound):
			status = http.StatusNotFound
			message = "No pending TOTP enrollment"
		case errors.Is(err, twofactor.ErrInvalidPasscode):
			status = http.StatusUnauthorized
			message = "Invalid code"
		default:
			slog.Error("Failed to activate totp", "error", err)
			status = http.StatusInternalServerError
			message = "An error occurred while activating TOTP"
		}

		render.Status(r, status)
		render.JSON(w, r, ErrorResponse{Error: message})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, MessageResponse{Message: "TOTP enabled"})
}

// BeginPasskeyRegistration handles POST /passkey/register/begin
func (h *Handler) BeginPasskeyRegistration(w http.ResponseWriter, r *http.Request) {
	ownerID, err := getOwnerIDFromContext(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, ErrorResponse{Error: "Unauthorized"})
		return
	}

	var req BeginRegistrationRequest
	json.NewDecoder(r.Body).Decode(&req)
	label := req.AccountLabel
	if label == "" {
		label = accountLabel(r, ownerID)
	}

	creation, session, err := h.service.BeginPasskeyRegistration(r.Context(), ownerID, label)
	if err != nil {
		slog.Error("Failed to begin passkey registration", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Error: "An error occurred while starting registration"})
		return
	}

	h.mu.Lock()
	h.sessions[ownerID] = registrationSession{
		session:      session,
		accountLabel: label,
		expiresAt:    time.Now().Add(registrationSessionTTL),
	}
	h.mu.Unlock()

	render.Status(r, http.StatusOK)
	render.JSON(w, r, creation)
}

// FinishPasskeyRegistration handles POST /passkey/register/finish
func (h *Handler) FinishPasskeyRegistration(w http.ResponseWriter, r *http.Request) {
	ownerID, err := getOwnerIDFromContext(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, ErrorResponse{Error: "Unauthorized"})
		return
	}

	var req FinishRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Response) == 0 {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Attestation response is required"})
		return
	}

	h.mu.Lock()
	reg, ok := h.sessions[ownerID]
	delete(h.sessions, ownerID)
	h.mu.Unlock()
	if !ok || time.Now().After(reg.expiresAt) {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Registration not started or expired"})
		return
	}

	responseJSON, err := json.Marshal(req.Response)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Invalid attestation response"})
		return
	}

	if err := h.service.FinishPasskeyRegistration(r.Context(), ownerID, reg.accountLabel, *reg.session, responseJSON); err != nil {
		if errors.Is(err, passkey.ErrRegistrationFailed) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, ErrorResponse{Error: "Attestation could not be verified"})
			return
		}
		slog.Error("Failed to finish passkey registration", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Error: "An error occurred while completing registration"})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, MessageResponse{Message: "Passkey registered"})
}

// RemoveMethod handles DELETE /{method}
func (h *Handler) RemoveMethod(w http.ResponseWriter, r *http.Request) {
	ownerID, err := getOwnerIDFromContext(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, ErrorResponse{Error: "Unauthorized"})
		return
	}

	method := twofactor.Method(chi.URLParam(r, "method"))
	if err := h.service.Remove(r.Context(), ownerID, method); err != nil {
		if errors.Is(err, twofactor.ErrConfigNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, ErrorResponse{Error: "Method not configured"})
			return
		}
		slog.Error("Failed to remove method", "error", err)
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Failed to remove method"})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, MessageResponse{Message: "Method removed"})
}

// accountLabel prefers the email claim for authenticator display, falling
// back to the owner ID.
func accountLabel(r *http.Request, ownerID uuid.UUID) string {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err == nil {
		if email, ok := claims["email"].(string); ok && email != "" {
			return email
		}
	}
	return ownerID.String()
}

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
