package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/events"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/secrets"
)

// ExpiryLookup bounds a subscription to the pending verification's lifetime.
type ExpiryLookup interface {
	PendingExpiry(ctx context.Context, ownerID uuid.UUID) (time.Time, error)
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler serves verification outcome events over SSE. Browsers connect with
// EventSource, which cannot set headers, so the route is authenticated by a
// token in the query string.
type Handler struct {
	hub      *events.Hub
	expiries ExpiryLookup
}

// NewHandler creates a new events API handler
func NewHandler(hub *events.Hub, expiries ExpiryLookup) *Handler {
	return &Handler{
		hub:      hub,
		expiries: expiries,
	}
}

// Routes registers the SSE endpoint.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/subscribe", h.Subscribe)
}

// Subscribe handles GET /subscribe. The stream carries at most one terminal
// event and closes on it, on the verification's expiry, or when the client
// disconnects.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	ownerID, err := getOwnerIDFromContext(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, ErrorResponse{Error: "Unauthorized"})
		return
	}

	expiresAt, err := h.expiries.PendingExpiry(r.Context(), ownerID)
	if err != nil {
		if errors.Is(err, secrets.ErrRecordNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, ErrorResponse{Error: "No pending verification"})
			return
		}
		slog.Error("Failed to look up pending verification", "owner_id", ownerID, "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Error: "An error occurred"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Error: "Streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := h.hub.Subscribe(r.Context(), ownerID, expiresAt)
	defer cancel()

	for ev := range ch {
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Error("Failed to encode event", "error", err)
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		flusher.Flush()
		if ev.Terminal {
			return
		}
	}
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
