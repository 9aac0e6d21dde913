package resolver

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framelight/internal/tenant/models"
	"framelight/internal/tenant/store"
	"framelight/pkg/statecodec"
)

const (
	testBase   = "example.com"
	testSecret = "resolver-test-secret"
)

func newResolver(t *testing.T) (*Resolver, *store.InMemory) {
	t.Helper()
	s := store.NewInMemory()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	r := New(s, Config{
		BaseDomain:     testBase,
		RootTenantSlug: "root",
		SigningSecret:  testSecret,
	}, logger, nil)
	return r, s
}

func seedTenant(t *testing.T, s *store.InMemory, slug string, status models.TenantStatus) *models.Tenant {
	t.Helper()
	tenant, err := models.NewPendingTenant(slug, time.Now())
	require.NoError(t, err)
	tenant.Status = status
	require.NoError(t, s.Create(context.Background(), tenant))
	return tenant
}

func TestResolveBySubdomain(t *testing.T) {
	r, s := newResolver(t)
	seeded := seedTenant(t, s, "acme", models.TenantStatusActive)

	req := httptest.NewRequest("GET", "https://acme.example.com/photos", nil)
	tc, err := r.Resolve(req)
	require.NoError(t, err)
	require.NotNil(t, tc)
	assert.Equal(t, seeded.ID, tc.Tenant.ID)
	assert.Equal(t, "acme", tc.RequestedSlug)
	assert.False(t, tc.IsPlaceholder)
}

func TestResolveByForwardedHost(t *testing.T) {
	r, s := newResolver(t)
	seeded := seedTenant(t, s, "acme", models.TenantStatusActive)

	req := httptest.NewRequest("GET", "http://internal-lb/photos", nil)
	req.Header.Set("X-Forwarded-Host", "acme.example.com, lb.internal")
	tc, err := r.Resolve(req)
	require.NoError(t, err)
	require.NotNil(t, tc)
	assert.Equal(t, seeded.ID, tc.Tenant.ID)
}

func TestResolveByCustomDomain(t *testing.T) {
	r, s := newResolver(t)
	seeded := seedTenant(t, s, "acme", models.TenantStatusActive)
	require.NoError(t, s.AttachDomain(context.Background(), seeded.ID, "photos.acme-corp.com"))

	req := httptest.NewRequest("GET", "https://photos.acme-corp.com/gallery", nil)
	tc, err := r.Resolve(req)
	require.NoError(t, err)
	require.NotNil(t, tc)
	assert.Equal(t, seeded.ID, tc.Tenant.ID)
	assert.Equal(t, "acme", tc.RequestedSlug)
}

func TestAutoProvisionOnAuthEntry(t *testing.T) {
	r, s := newResolver(t)

	req := httptest.NewRequest("GET", "https://newslug.example.com/auth/social", nil)
	tc, err := r.Resolve(req)
	require.NoError(t, err)
	require.NotNil(t, tc, "expected auto-provisioned tenant context")
	assert.True(t, tc.IsPlaceholder)
	assert.Equal(t, "newslug", tc.Tenant.Slug)
	assert.Equal(t, models.TenantStatusPending, tc.Tenant.Status)

	stored, err := s.FindBySlug(context.Background(), "newslug")
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusPending, stored.Status)
}

func TestNoProvisioningOffAuthPaths(t *testing.T) {
	r, s := newResolver(t)

	req := httptest.NewRequest("GET", "https://newslug.example.com/gallery", nil)
	tc, err := r.Resolve(req)
	require.NoError(t, err)
	assert.Nil(t, tc)

	_, err = s.FindBySlug(context.Background(), "newslug")
	assert.Error(t, err, "no tenant must be created off auth-entry paths")
}

func TestReservedSlugNeverProvisioned(t *testing.T) {
	r, s := newResolver(t)

	req := httptest.NewRequest("GET", "https://www.example.com/auth", nil)
	tc, err := r.Resolve(req)
	require.NoError(t, err)
	assert.Nil(t, tc)

	_, err = s.FindBySlug(context.Background(), "www")
	assert.Error(t, err)
}

func TestResolveFromGatewayState(t *testing.T) {
	r, s := newResolver(t)
	seeded := seedTenant(t, s, "acme", models.TenantStatusActive)

	token, err := statecodec.Encode(testSecret, "acme", "inner123", "", 0)
	require.NoError(t, err)

	req := httptest.NewRequest("GET",
		"https://example.com/api/auth/callback/github?code=xyz&gatewayState="+token, nil)
	tc, err := r.Resolve(req)
	require.NoError(t, err)
	require.NotNil(t, tc)
	assert.Equal(t, seeded.ID, tc.Tenant.ID)
}

func TestStateIgnoredOffCallbackPaths(t *testing.T) {
	r, s := newResolver(t)
	seedTenant(t, s, "acme", models.TenantStatusActive)

	token, err := statecodec.Encode(testSecret, "acme", "inner123", "", 0)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "https://example.com/gallery?gatewayState="+token, nil)
	tc, err := r.Resolve(req)
	require.NoError(t, err)
	assert.Nil(t, tc, "query state must not influence tenant identity off callback paths")
}

func TestTamperedStateIgnored(t *testing.T) {
	r, _ := newResolver(t)

	token, err := statecodec.Encode(testSecret, "acme", "inner123", "", 0)
	require.NoError(t, err)
	tampered := token[:len(token)-2] + "xx"

	req := httptest.NewRequest("GET",
		"https://example.com/api/auth/callback/github?gatewayState="+tampered, nil)
	tc, err := r.Resolve(req)
	require.NoError(t, err)
	assert.Nil(t, tc, "tampered state is merely no routing hint, never a resolved tenant")
}

func TestRootPathAllowlist(t *testing.T) {
	r, s := newResolver(t)
	seeded := seedTenant(t, s, "root", models.TenantStatusActive)

	req := httptest.NewRequest("GET", "https://example.com/api/admin/settings", nil)
	tc, err := r.Resolve(req)
	require.NoError(t, err)
	require.NotNil(t, tc)
	assert.Equal(t, seeded.ID, tc.Tenant.ID)
}

func TestRequireFailsWithoutTenant(t *testing.T) {
	r, _ := newResolver(t)

	req := httptest.NewRequest("GET", "https://example.com/gallery", nil)
	_, err := r.Require(req)
	require.Error(t, err)
}

func TestResolutionMemoizedOnRequestContext(t *testing.T) {
	r, s := newResolver(t)
	seeded := seedTenant(t, s, "acme", models.TenantStatusActive)

	req := httptest.NewRequest("GET", "https://acme.example.com/auth", nil)
	tc, err := r.Resolve(req)
	require.NoError(t, err)
	require.NotNil(t, tc)

	// Attach the result, then delete the tenant: a second Resolve must see
	// the frozen context, not re-run resolution.
	req = req.WithContext(WithContext(req.Context(), tc))
	require.NoError(t, s.Delete(context.Background(), seeded.ID))

	again, err := r.Resolve(req)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, tc, again)
}

func TestMiddlewareAttachesContextOnce(t *testing.T) {
	r, s := newResolver(t)
	seedTenant(t, s, "acme", models.TenantStatusActive)

	var seen *models.Context
	h := r.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		seen = FromContext(req.Context())
	}))
	req := httptest.NewRequest("GET", "https://acme.example.com/photos", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.NotNil(t, seen)
	assert.Equal(t, "acme", seen.Tenant.Slug)
}

func TestConcurrentProvisioningSingleTenant(t *testing.T) {
	r, s := newResolver(t)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			req := httptest.NewRequest("GET", "https://burst.example.com/auth/social", nil)
			tc, err := r.Resolve(req)
			assert.NoError(t, err)
			assert.NotNil(t, tc)
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	stored, err := s.FindBySlug(context.Background(), "burst")
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusPending, stored.Status)
}
