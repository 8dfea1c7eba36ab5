package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/passkey"
	enginetotp "github.com/vritti-ai-platforms/cloud-server-sub003/pkg/totp"
	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/twofactor"
)

type testEnv struct {
	router *chi.Mux
	auth   *jwtauth.JWTAuth
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	passkeyEngine, err := passkey.NewEngine(passkey.Config{
		RPID:          "example.com",
		RPDisplayName: "Example",
		RPOrigins:     []string{"https://example.com"},
	})
	require.NoError(t, err)
	service := twofactor.NewService(twofactor.NewInMemConfigRepository(), enginetotp.NewEngine("vritti-cloud"), passkeyEngine)

	auth := jwtauth.New("HS256", []byte("test-secret"), nil)
	handler := NewHandler(service)

	router := chi.NewRouter()
	router.Route("/2fa", func(r chi.Router) {
		r.Use(jwtauth.Verifier(auth))
		r.Use(jwtauth.Authenticator(auth))
		handler.Routes(r)
	})

	return &testEnv{router: router, auth: auth}
}

func (e *testEnv) bearer(t *testing.T, ownerID uuid.UUID) string {
	t.Helper()
	_, tokenString, err := e.auth.Encode(map[string]interface{}{
		"user_id": ownerID.String(),
		"email":   "user@example.com",
	})
	require.NoError(t, err)
	return "Bearer " + tokenString
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, ownerID uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", e.bearer(t, ownerID))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    enginetotp.PERIOD,
		Skew:      enginetotp.SKEW,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestEnrollAndActivateTotpEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ownerID := uuid.New()

	rec := env.do(t, http.MethodPost, "/2fa/totp/enroll", nil, ownerID)
	require.Equal(t, http.StatusOK, rec.Code)

	var enrollment EnrollTotpResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &enrollment))
	assert.NotEmpty(t, enrollment.Secret)
	assert.NotEmpty(t, enrollment.QRImageBase64)
	assert.Equal(t, "user@example.com", enrollment.AccountLabel)
	assert.Len(t, enrollment.BackupCodes, 10)

	// wrong code does not activate
	rec = env.do(t, http.MethodPost, "/2fa/totp/activate", ActivateTotpRequest{Code: "000000"}, ownerID)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/2fa/totp/activate", ActivateTotpRequest{Code: currentCode(t, enrollment.Secret)}, ownerID)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/2fa/methods", nil, ownerID)
	require.Equal(t, http.StatusOK, rec.Code)

	var methods MethodsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &methods))
	assert.Equal(t, []string{string(twofactor.MethodTotp)}, methods.Methods)

	// enrolling again while enabled conflicts
	rec = env.do(t, http.MethodPost, "/2fa/totp/enroll", nil, ownerID)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestActivateWithoutEnrollment(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/2fa/totp/activate", ActivateTotpRequest{Code: "123456"}, uuid.New())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBeginPasskeyRegistrationEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ownerID := uuid.New()

	rec := env.do(t, http.MethodPost, "/2fa/passkey/register/begin", BeginRegistrationRequest{}, ownerID)
	require.Equal(t, http.StatusOK, rec.Code)

	var creation map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &creation))
	publicKey, ok := creation["publicKey"].(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, publicKey["challenge"])
}

func TestFinishPasskeyRegistrationWithoutBegin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/2fa/passkey/register/finish", FinishRegistrationRequest{
		Response: map[string]interface{}{"id": "x"},
	}, uuid.New())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoveMethod(t *testing.T) {
	env := newTestEnv(t)
	ownerID := uuid.New()

	rec := env.do(t, http.MethodDelete, "/2fa/totp", nil, ownerID)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/2fa/totp/enroll", nil, ownerID)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/2fa/totp", nil, ownerID)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnauthenticated(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/2fa/methods", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
