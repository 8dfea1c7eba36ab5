package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/events"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/secrets"
)

type fixedExpiry struct {
	expiry time.Time
	err    error
}

func (f fixedExpiry) PendingExpiry(ctx context.Context, ownerID uuid.UUID) (time.Time, error) {
	return f.expiry, f.err
}

func newRouter(hub *events.Hub, expiries ExpiryLookup, auth *jwtauth.JWTAuth) *chi.Mux {
	handler := NewHandler(hub, expiries)
	router := chi.NewRouter()
	router.Route("/events", func(r chi.Router) {
		r.Use(jwtauth.Verify(auth, jwtauth.TokenFromQuery, jwtauth.TokenFromHeader))
		r.Use(jwtauth.Authenticator(auth))
		handler.Routes(r)
	})
	return router
}

func queryToken(t *testing.T, auth *jwtauth.JWTAuth, ownerID uuid.UUID) string {
	t.Helper()
	_, tokenString, err := auth.Encode(map[string]interface{}{"user_id": ownerID.String()})
	require.NoError(t, err)
	return tokenString
}

func TestSubscribeReceivesTerminalEvent(t *testing.T) {
	hub := events.NewHub()
	auth := jwtauth.New("HS256", []byte("test-secret"), nil)
	ownerID := uuid.New()
	router := newRouter(hub, fixedExpiry{expiry: time.Now().Add(time.Minute)}, auth)

	srv := httptest.NewServer(router)
	defer srv.Close()

	url := fmt.Sprintf("%s/events/subscribe?jwt=%s", srv.URL, queryToken(t, auth, ownerID))
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// give the subscription a moment to attach before publishing
	time.Sleep(50 * time.Millisecond)
	hub.Publish(ownerID, events.Event{
		OwnerID:  ownerID,
		Channel:  "whatsapp",
		Type:     events.TypeVerified,
		Terminal: true,
		At:       time.Now().UTC(),
	})

	buf := make([]byte, 4096)
	var body strings.Builder
	for {
		n, err := resp.Body.Read(buf)
		body.Write(buf[:n])
		if err != nil {
			break
		}
		if strings.Contains(body.String(), "event: verified") {
			break
		}
	}

	assert.Contains(t, body.String(), "event: verified")
	assert.Contains(t, body.String(), `"whatsapp"`)
}

func TestSubscribeRequiresToken(t *testing.T) {
	hub := events.NewHub()
	auth := jwtauth.New("HS256", []byte("test-secret"), nil)
	router := newRouter(hub, fixedExpiry{expiry: time.Now().Add(time.Minute)}, auth)

	req := httptest.NewRequest(http.MethodGet, "/events/subscribe", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubscribeNoPendingVerification(t *testing.T) {
	hub := events.NewHub()
	auth := jwtauth.New("HS256", []byte("test-secret"), nil)
	router := newRouter(hub, fixedExpiry{err: secrets.ErrRecordNotFound}, auth)

	ownerID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/events/subscribe?jwt="+queryToken(t, auth, ownerID), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
