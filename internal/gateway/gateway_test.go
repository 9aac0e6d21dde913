package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framelight/pkg/statecodec"
)

const testSecret = "gateway-test-signing-secret"

func newTestRouter(t *testing.T, cfg Config) chi.Router {
	t.Helper()
	if cfg.BaseDomain == "" {
		cfg.BaseDomain = "example.com"
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(cfg, logger, nil)
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func perform(router chi.Router, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestCallbackRewritesWrappedState(t *testing.T) {
	router := newTestRouter(t, Config{SigningSecret: testSecret})

	wrapped, err := statecodec.Encode(testSecret, "slug-a", "inner123", "", statecodec.DefaultTTL)
	require.NoError(t, err)

	rec := perform(router, "/api/auth/callback/github?state="+url.QueryEscape(wrapped)+"&code=xyz")
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "https", loc.Scheme)
	assert.Equal(t, "slug-a.example.com", loc.Host)
	assert.Equal(t, "/api/auth/callback/github", loc.Path)

	q := loc.Query()
	assert.Equal(t, "inner123", q.Get("state"))
	assert.Equal(t, wrapped, q.Get("gatewayState"))
	assert.Equal(t, "xyz", q.Get("code"))
}

func TestCallbackTamperedStateRejected(t *testing.T) {
	router := newTestRouter(t, Config{SigningSecret: testSecret})

	wrapped, err := statecodec.Encode(testSecret, "slug-a", "inner123", "", statecodec.DefaultTTL)
	require.NoError(t, err)
	corrupted := []byte(wrapped)
	if corrupted[3] == 'A' {
		corrupted[3] = 'B'
	} else {
		corrupted[3] = 'A'
	}

	rec := perform(router, "/api/auth/callback/github?state="+url.QueryEscape(string(corrupted)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorBody(t, rec)
	assert.Equal(t, "invalid_state", body["error"])
	assert.NotEmpty(t, body["message"])
}

// signState builds a validly signed token with arbitrary timestamps, since
// Encode refuses to mint already-expired tokens.
func signState(t *testing.T, secret string, payload statecodec.Payload) string {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(encoded))
	return encoded + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func TestCallbackExpiredStateRejected(t *testing.T) {
	router := newTestRouter(t, Config{SigningSecret: testSecret})

	expired := signState(t, testSecret, statecodec.Payload{
		InnerState: "inner123",
		TenantSlug: "slug-a",
		IssuedAt:   time.Now().Add(-15 * time.Minute).UnixMilli(),
		ExpiresAt:  time.Now().Add(-2 * time.Minute).UnixMilli(),
	})

	rec := perform(router, "/api/auth/callback/github?state="+url.QueryEscape(expired))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_state", decodeErrorBody(t, rec)["error"])
}

func TestCallbackStateWithinToleranceAccepted(t *testing.T) {
	router := newTestRouter(t, Config{SigningSecret: testSecret})

	justExpired := signState(t, testSecret, statecodec.Payload{
		InnerState: "inner123",
		TenantSlug: "slug-a",
		IssuedAt:   time.Now().Add(-10 * time.Minute).UnixMilli(),
		ExpiresAt:  time.Now().Add(-10 * time.Second).UnixMilli(),
	})

	rec := perform(router, "/api/auth/callback/github?state="+url.QueryEscape(justExpired))
	require.Equal(t, http.StatusFound, rec.Code)
}

func TestCallbackMissingProvider(t *testing.T) {
	router := newTestRouter(t, Config{SigningSecret: testSecret})

	for _, target := range []string{"/api/auth/callback", "/api/auth/callback/"} {
		rec := perform(router, target+"?code=xyz")
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Equal(t, "missing_provider", decodeErrorBody(t, rec)["error"], target)
	}
}

func TestCallbackExplicitTenantParamWins(t *testing.T) {
	router := newTestRouter(t, Config{SigningSecret: testSecret})

	wrapped, err := statecodec.Encode(testSecret, "from-state", "inner", "", statecodec.DefaultTTL)
	require.NoError(t, err)

	rec := perform(router, "/api/auth/callback/github?state="+url.QueryEscape(wrapped)+"&tenant=explicit")
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "explicit.example.com", loc.Host)
}

func TestCallbackInvalidExplicitTenant(t *testing.T) {
	router := newTestRouter(t, Config{SigningSecret: testSecret})

	rec := perform(router, "/api/auth/callback/github?tenant=Not%20Valid%21")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_tenant", decodeErrorBody(t, rec)["error"])
}

func TestCallbackUnresolvableHost(t *testing.T) {
	router := newTestRouter(t, Config{SigningSecret: testSecret})

	rec := perform(router, "/api/auth/callback/github?code=xyz")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unresolvable_host", decodeErrorBody(t, rec)["error"])
}

func TestCallbackUnwrappedStateForwardedWithoutSecret(t *testing.T) {
	router := newTestRouter(t, Config{SigningSecret: ""})

	rec := perform(router, "/api/auth/callback/github?state=raw-state&tenant=acme&code=xyz")
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	q := loc.Query()
	assert.Equal(t, "raw-state", q.Get("state"))
	assert.Empty(t, q.Get("gatewayState"))
	assert.Equal(t, "xyz", q.Get("code"))
}

func TestCallbackTargetHostOverride(t *testing.T) {
	t.Run("honored when enabled", func(t *testing.T) {
		router := newTestRouter(t, Config{SigningSecret: testSecret, AllowCustomHost: true})
		rec := perform(router, "/api/auth/callback/github?tenant=acme&targetHost=auth.custom.io")
		require.Equal(t, http.StatusFound, rec.Code)
		loc, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "auth.custom.io", loc.Host)
	})

	t.Run("ignored when disabled", func(t *testing.T) {
		router := newTestRouter(t, Config{SigningSecret: testSecret})
		rec := perform(router, "/api/auth/callback/github?tenant=acme&targetHost=auth.custom.io")
		require.Equal(t, http.StatusFound, rec.Code)
		loc, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "acme.example.com", loc.Host)
	})

	t.Run("invalid override rejected", func(t *testing.T) {
		router := newTestRouter(t, Config{SigningSecret: testSecret, AllowCustomHost: true})
		rec := perform(router, "/api/auth/callback/github?tenant=acme&targetHost=%20")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_host", decodeErrorBody(t, rec)["error"])
	})
}

func TestCallbackInsecureRedirectForLocalhost(t *testing.T) {
	router := newTestRouter(t, Config{
		SigningSecret:   testSecret,
		BaseDomain:      "localhost",
		AllowCustomHost: true,
		AllowInsecure:   true,
	})

	rec := perform(router, "/api/auth/callback/github?tenant=acme&targetHost=localhost:3000")
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "http", loc.Scheme)
}

func TestCallbackForwardsExtraParamsVerbatim(t *testing.T) {
	router := newTestRouter(t, Config{SigningSecret: testSecret})

	rec := perform(router, "/api/auth/callback/google?tenant=acme&code=abc&scope=openid+email&authuser=0")
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	q := loc.Query()
	assert.Equal(t, "abc", q.Get("code"))
	assert.Equal(t, "openid email", q.Get("scope"))
	assert.Equal(t, "0", q.Get("authuser"))
}

func TestCallbackPostMethodAccepted(t *testing.T) {
	router := newTestRouter(t, Config{SigningSecret: testSecret})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/callback/apple?tenant=acme&code=abc", strings.NewReader("id_token=tok"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, Config{})

	rec := perform(router, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeErrorBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "framelight-gateway", body["service"])
	assert.NotEmpty(t, body["timestamp"])
}
