package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/channel"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/events"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/secrets"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/verification"
)

const webhookSecret = "wa-secret"

type testEnv struct {
	router  *chi.Mux
	service *verification.Service
	auth    *jwtauth.JWTAuth
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	secretService := secrets.NewService(secrets.NewInMemSecretRepository())
	factory := channel.NewFactory(
		channel.NewWhatsAppProvider(channel.WhatsAppConfig{
			BusinessNumber: "+15550001111",
			WebhookSecret:  webhookSecret,
			VerifyToken:    "verify-token",
		}),
	)
	service := verification.NewService(secretService, factory, verification.NewInMemContactRepository(), events.NewHub())
	handler := NewHandler(service, factory)

	auth := jwtauth.New("HS256", []byte("test-secret"), nil)

	router := chi.NewRouter()
	router.Route("/verification", func(r chi.Router) {
		r.Use(jwtauth.Verifier(auth))
		r.Use(jwtauth.Authenticator(auth))
		handler.Routes(r)
	})
	router.Route("/webhook", handler.WebhookRoutes)

	return &testEnv{router: router, service: service, auth: auth}
}

func (e *testEnv) bearer(t *testing.T, ownerID uuid.UUID) string {
	t.Helper()
	_, tokenString, err := e.auth.Encode(map[string]interface{}{"user_id": ownerID.String()})
	require.NoError(t, err)
	return "Bearer " + tokenString
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func whatsappPayload(sender, text string) []byte {
	return []byte(fmt.Sprintf(
		`{"entry":[{"changes":[{"value":{"messages":[{"from":%q,"text":{"body":%q}}]}}]}]}`,
		sender, text,
	))
}

func TestWebhookHandshake(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=verify-token&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())
}

func TestWebhookHandshakeWrongToken(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestWebhookHandshakeUnknownChannel(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/webhook/telegram?hub.mode=subscribe&hub.verify_token=verify-token", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	body := whatsappPayload("15551234567", "VER-AB12C3")

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookAcknowledgesAndProcesses(t *testing.T) {
	env := newTestEnv(t)
	ownerID := uuid.New()

	init, err := env.service.Initiate(context.Background(), ownerID, channel.KindWhatsApp, "")
	require.NoError(t, err)

	body := whatsappPayload("15551234567", init.Token)
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", signBody(body))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	// processing is detached from the request
	assert.Eventually(t, func() bool {
		record, err := env.service.Status(context.Background(), ownerID, channel.KindWhatsApp)
		return err == nil && record.Verified
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebhookMalformedPayloadStillAcknowledged(t *testing.T) {
	env := newTestEnv(t)
	body := []byte(`{"entry":[]}`)

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", signBody(body))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInitiateEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ownerID := uuid.New()

	payload, _ := json.Marshal(InitiateRequest{Channel: "whatsapp"})
	req := httptest.NewRequest(http.MethodPost, "/verification/initiate", bytes.NewReader(payload))
	req.Header.Set("Authorization", env.bearer(t, ownerID))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp InitiateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "whatsapp", resp.Channel)
	assert.Regexp(t, `^VER-[A-Z0-9]{6}$`, resp.Token)
	assert.Contains(t, resp.Instructions, resp.Token)
}

func TestInitiateRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	payload, _ := json.Marshal(InitiateRequest{Channel: "whatsapp"})
	req := httptest.NewRequest(http.MethodPost, "/verification/initiate", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInitiateUnknownChannel(t *testing.T) {
	env := newTestEnv(t)

	payload, _ := json.Marshal(InitiateRequest{Channel: "carrier-pigeon"})
	req := httptest.NewRequest(http.MethodPost, "/verification/initiate", bytes.NewReader(payload))
	req.Header.Set("Authorization", env.bearer(t, uuid.New()))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ownerID := uuid.New()

	_, err := env.service.Initiate(context.Background(), ownerID, channel.KindWhatsApp, "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/verification/status?channel=whatsapp", nil)
	req.Header.Set("Authorization", env.bearer(t, ownerID))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "whatsapp", resp.Channel)
	assert.False(t, resp.Verified)
}

func TestStatusNotFound(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/verification/status?channel=whatsapp", nil)
	req.Header.Set("Authorization", env.bearer(t, uuid.New()))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
