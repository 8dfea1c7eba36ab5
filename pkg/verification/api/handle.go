package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/channel"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/secrets"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/verification"
)

const processTimeout = 30 * time.Second

// Handler exposes the verification endpoints and the webhook ingestion
// surface for inbound channels.
type Handler struct {
	service  *verification.Service
	channels *channel.Factory
}

// NewHandler creates a new verification API handler
func NewHandler(service *verification.Service, channels *channel.Factory) *Handler {
	return &Handler{
		service:  service,
		channels: channels,
	}
}

// Routes registers the authenticated verification endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/initiate", h.Initiate)
	r.Post("/verify", h.Verify)
	r.Post("/resend", h.Resend)
	r.Get("/status", h.Status)
}

// WebhookRoutes registers the unauthenticated webhook surface.
func (h *Handler) WebhookRoutes(r chi.Router) {
	r.Get("/{channel}", h.WebhookHandshake)
	r.Post("/{channel}", h.WebhookReceive)
}

// Initiate handles POST /initiate
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	ownerID, err := getOwnerIDFromContext(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, ErrorResponse{Error: "Unauthorized"})
		return
	}

	var req InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Invalid request body"})
		return
	}

	init, err := h.service.Initiate(r.Context(), ownerID, channel.Kind(req.Channel), req.Target)
	if err != nil {
		h.renderChannelError(w, r, err, "Failed to start verification")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, initiateResponse(init))
}

// Verify handles POST /verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	ownerID, err := getOwnerIDFromContext(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, ErrorResponse{Error: "Unauthorized"})
		return
	}

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Invalid request body"})
		return
	}
	if req.Code == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Code is required"})
		return
	}

	err = h.service.Verify(r.Context(), ownerID, channel.Kind(req.Channel), req.Code)
	if err != nil {
		status := http.StatusBadRequest
		message := "Failed to verify code"

		switch {
		case errors.Is(err, secrets.ErrRecordNotFound):
			status = http.StatusNotFound
			message = "No pending verification"
		case errors.Is(err, secrets.ErrExpired):
			message = "Verification code has expired"
		case errors.Is(err, secrets.ErrAttemptsExceeded):
			status = http.StatusTooManyRequests
			message = "Too many failed attempts. Request a new code"
		case errors.Is(err, secrets.ErrAlreadyVerified):
			message = "Already verified"
		case errors.Is(err, secrets.ErrInvalidSecret):
			message = "Invalid verification code"
		default:
			slog.Error("Failed to verify code", "error", err)
			status = http.StatusInternalServerError
			message = "An error occurred while verifying the code"
		}

		render.Status(r, status)
		render.JSON(w, r, ErrorResponse{Error: message})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, VerifyResponse{
		Message:    "Verified successfully",
		VerifiedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// Resend handles POST /resend
func (h *Handler) Resend(w http.ResponseWriter, r *http.Request) {
	ownerID, err := getOwnerIDFromContext(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, ErrorResponse{Error: "Unauthorized"})
		return
	}

	var req InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Invalid request body"})
		return
	}

	init, err := h.service.Resend(r.Context(), ownerID, channel.Kind(req.Channel), req.Target)
	if err != nil {
		h.renderChannelError(w, r, err, "Failed to resend verification")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, initiateResponse(init))
}

// Status handles GET /status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ownerID, err := getOwnerIDFromContext(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, ErrorResponse{Error: "Unauthorized"})
		return
	}

	rec, err := h.service.Status(r.Context(), ownerID, channel.Kind(r.URL.Query().Get("channel")))
	if err != nil {
		if errors.Is(err, secrets.ErrRecordNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, ErrorResponse{Error: "No verification found"})
			return
		}
		slog.Error("Failed to get verification status", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Error: "An error occurred while retrieving status"})
		return
	}

	resp := StatusResponse{
		Channel:   rec.Channel,
		Verified:  rec.Verified,
		ExpiresAt: rec.ExpiresAt.Format(time.RFC3339),
		Attempts:  rec.Attempts,
	}
	if rec.VerifiedAt != nil {
		verifiedAt := rec.VerifiedAt.Format(time.RFC3339)
		resp.VerifiedAt = &verifiedAt
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// WebhookHandshake handles GET /webhook/{channel}: the provider's
// subscription check. The challenge is echoed only when the shared verify
// token matches.
func (h *Handler) WebhookHandshake(w http.ResponseWriter, r *http.Request) {
	provider, err := h.channels.Inbound(channel.Kind(chi.URLParam(r, "channel")))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != provider.VerifyToken() {
		slog.Warn("Webhook handshake rejected", "channel", provider.Kind())
		w.WriteHeader(http.StatusForbidden)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(q.Get("hub.challenge")))
}

// WebhookReceive handles POST /webhook/{channel}. The delivery is
// acknowledged as soon as the signature checks out; processing continues in a
// detached goroutine so provider retries are never triggered by our own
// failures.
func (h *Handler) WebhookReceive(w http.ResponseWriter, r *http.Request) {
	provider, err := h.channels.Inbound(channel.Kind(chi.URLParam(r, "channel")))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Failed to read body"})
		return
	}

	if err := h.service.VerifyWebhookSignature(provider.Kind(), body, webhookSignature(r)); err != nil {
		if errors.Is(err, verification.ErrInvalidSignature) {
			slog.Warn("Webhook signature rejected", "channel", provider.Kind())
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, ErrorResponse{Error: "Invalid signature"})
			return
		}
		slog.Error("Failed to validate webhook", "channel", provider.Kind(), "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Error: "An error occurred"})
		return
	}

	w.WriteHeader(http.StatusOK)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("Panic in webhook processing", "channel", provider.Kind(), "panic", rec)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()

		msg, err := provider.ParseWebhook(body)
		if err != nil {
			slog.Warn("Failed to parse webhook payload", "channel", provider.Kind(), "error", err)
			return
		}
		if err := h.service.ProcessInboundMessage(ctx, provider.Kind(), msg); err != nil {
			slog.Info("Inbound message not processed", "channel", provider.Kind(), "error", err)
		}
	}()
}

func (h *Handler) renderChannelError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := http.StatusBadRequest
	message := fallback

	switch {
	case errors.Is(err, channel.ErrUnknownChannel):
		message = "Unknown channel"
	case errors.Is(err, channel.ErrNotConfigured):
		status = http.StatusServiceUnavailable
		message = "Channel is not available"
	default:
		slog.Error(fallback, "error", err)
		status = http.StatusInternalServerError
		message = "An internal error occurred"
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: message})
}

func initiateResponse(init *verification.Initiation) InitiateResponse {
	return InitiateResponse{
		Channel:      string(init.Channel),
		Token:        init.Token,
		Instructions: init.Instructions,
		MaskedTarget: init.MaskedTarget,
		ExpiresAt:    init.ExpiresAt.Format(time.RFC3339),
	}
}

// webhookSignature pulls the HMAC signature from the header the provider
// uses. Meta-style channels send X-Hub-Signature-256; generic gateways send
// X-Webhook-Signature.
func webhookSignature(r *http.Request) string {
	if sig := r.Header.Get("X-Hub-Signature-256"); sig != "" {
		return sig
	}
	return r.Header.Get("X-Webhook-Signature")
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

	ownerID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, errors.New("invalid user_id in JWT claims")
	}
	return ownerID, nil
}
