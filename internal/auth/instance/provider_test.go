package instance

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framelight/internal/auth/runtime"
	authstore "framelight/internal/auth/store"
	tenantmodels "framelight/internal/tenant/models"
	"framelight/internal/tenant/resolver"
	tenantstore "framelight/internal/tenant/store"
	dErrors "framelight/pkg/domain-errors"
	"framelight/pkg/statecodec"
)

func newProvider(t *testing.T) (*Provider, *tenantstore.InMemory) {
	t.Helper()
	tenants := tenantstore.NewInMemory()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	p := New(Config{
		BaseDomain:    "example.com",
		GatewayURL:    "https://auth.example.com",
		SigningSecret: "signing-secret",
		SessionSecret: "session-secret",
		SessionTTL:    time.Hour,
		Providers: []runtime.ProviderCredentials{
			{Name: "github", ClientID: "cid", ClientSecret: "csec"},
		},
	}, tenants, authstore.NewInMemory(), logger)
	return p, tenants
}

func TestGetAuthMemoizesPerKey(t *testing.T) {
	p, _ := newProvider(t)

	reqA := httptest.NewRequest("GET", "https://acme.example.com/auth", nil)
	reqB := httptest.NewRequest("GET", "https://acme.example.com/api/auth/session", nil)
	reqC := httptest.NewRequest("GET", "https://globex.example.com/auth", nil)

	a1, err := p.GetAuth(reqA)
	require.NoError(t, err)
	a2, err := p.GetAuth(reqB)
	require.NoError(t, err)
	c, err := p.GetAuth(reqC)
	require.NoError(t, err)

	assert.Same(t, a1, a2, "same protocol/host/slug/config must share one instance")
	assert.NotSame(t, a1, c, "different slug must get a different instance")
}

func TestGetAuthProtocolSplitsKey(t *testing.T) {
	p, _ := newProvider(t)

	secure := httptest.NewRequest("GET", "https://acme.example.com/auth", nil)
	secure.Header.Set("X-Forwarded-Proto", "https")
	plain := httptest.NewRequest("GET", "https://acme.example.com/auth", nil)
	plain.Header.Set("X-Forwarded-Proto", "http")

	a, err := p.GetAuth(secure)
	require.NoError(t, err)
	b, err := p.GetAuth(plain)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestConfigFingerprintChangesKey(t *testing.T) {
	cfg := Config{
		BaseDomain: "example.com",
		GatewayURL: "https://auth.example.com",
		Providers: []runtime.ProviderCredentials{
			{Name: "github", ClientID: "cid", ClientSecret: "csec"},
			{Name: "google", ClientID: "gid", ClientSecret: "gsec"},
		},
	}
	fp := configFingerprint(cfg)

	reordered := cfg
	reordered.Providers = []runtime.ProviderCredentials{cfg.Providers[1], cfg.Providers[0]}
	assert.Equal(t, fp, configFingerprint(reordered), "provider order must not matter")

	rotated := cfg
	rotated.Providers = []runtime.ProviderCredentials{
		{Name: "github", ClientID: "cid", ClientSecret: "rotated"},
		cfg.Providers[1],
	}
	assert.NotEqual(t, fp, configFingerprint(rotated), "secret rotation must change the fingerprint")
}

func TestConcurrentGetAuthSingleFlight(t *testing.T) {
	p, _ := newProvider(t)

	const workers = 32
	var wg sync.WaitGroup
	instances := make([]*runtime.Runtime, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			req := httptest.NewRequest("GET", "https://acme.example.com/auth", nil)
			rt, err := p.GetAuth(req)
			assert.NoError(t, err)
			instances[idx] = rt
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Same(t, instances[0], instances[i], "all concurrent callers must share one constructed instance")
	}
	p.mu.RLock()
	assert.Len(t, p.cache, 1)
	p.mu.RUnlock()
}

func TestEnsureTenantIDPrefersRequestContext(t *testing.T) {
	p, tenants := newProvider(t)
	tenant, err := tenantmodels.NewPendingTenant("acme", time.Now())
	require.NoError(t, err)
	require.NoError(t, tenants.Create(context.Background(), tenant))

	ensure := p.ensureTenantID("other")
	ctx := resolver.WithContext(context.Background(), tenantmodels.NewContext(tenant, "acme"))
	id, err := ensure(ctx)
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, id, "request context tenant wins over the instance slug")
}

func TestEnsureTenantIDProvisionsOnDemand(t *testing.T) {
	p, tenants := newProvider(t)

	ensure := p.ensureTenantID("fresh")
	id, err := ensure(context.Background())
	require.NoError(t, err)

	stored, err := tenants.FindBySlug(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, stored.ID, id)
	assert.Equal(t, tenantmodels.TenantStatusPending, stored.Status)
}

func TestEnsureTenantIDRejectsNoSlug(t *testing.T) {
	p, _ := newProvider(t)

	for _, slug := range []string{"", "www"} {
		_, err := p.ensureTenantID(slug)(context.Background())
		require.Error(t, err, "slug %q", slug)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	}
}

func TestBuildTargetHostRespectsCustomHostFlag(t *testing.T) {
	newCase := func(allowCustom bool) *Provider {
		tenants := tenantstore.NewInMemory()
		tenant, err := tenantmodels.NewTenant("acme", "Acme", time.Now())
		require.NoError(t, err)
		require.NoError(t, tenants.Create(context.Background(), tenant))
		logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
		return New(Config{
			BaseDomain:      "example.com",
			GatewayURL:      "https://auth.example.com",
			SigningSecret:   "signing-secret",
			SessionSecret:   "session-secret",
			AllowCustomHost: allowCustom,
			Providers: []runtime.ProviderCredentials{
				{Name: "github", ClientID: "cid", ClientSecret: "csec"},
			},
		}, tenants, authstore.NewInMemory(), logger)
	}

	stateTarget := func(t *testing.T, p *Provider) string {
		t.Helper()
		req := httptest.NewRequest("GET", "https://acme.evil.io/auth", nil)
		tenant, err := p.tenants.FindBySlug(context.Background(), "acme")
		require.NoError(t, err)
		req = req.WithContext(resolver.WithContext(req.Context(), tenantmodels.NewContext(tenant, "acme")))

		rt, err := p.GetAuth(req)
		require.NoError(t, err)
		authURL, err := rt.BeginSocialSignIn(req.Context(), "github")
		require.NoError(t, err)

		parsed, err := url.Parse(authURL)
		require.NoError(t, err)
		payload := statecodec.Decode(parsed.Query().Get("state"), "signing-secret", 0)
		require.NotNil(t, payload)
		return payload.TargetHost
	}

	assert.Equal(t, "acme.example.com", stateTarget(t, newCase(false)),
		"without the override flag the canonical subdomain is signed")
	assert.Equal(t, "acme.evil.io", stateTarget(t, newCase(true)),
		"with the override flag the request host is signed")
}
