// Package resolver derives the request-scoped tenant context from network
// level signals: host headers, forwarded headers, and signed gateway state.
// Resolution runs at most once per request; every downstream consumer reads
// the frozen result from the request context.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"framelight/internal/sentinel"
	"framelight/internal/tenant/metrics"
	"framelight/internal/tenant/models"
	"framelight/internal/tenant/store"
	dErrors "framelight/pkg/domain-errors"
	"framelight/pkg/hostutil"
	"framelight/pkg/statecodec"
)

// authEntryPaths are the only paths that trigger auto-provisioning of a
// pending tenant. Kept deliberately narrow: identity rows are foreign-keyed
// to a tenant id, so auth flows need a real tenant from the first request,
// but no other first-touch path creates tenants as a side effect.
var authEntryPaths = []string{"/auth", "/api/auth"}

// Config carries the static inputs of tenant resolution.
type Config struct {
	BaseDomain     string
	RootTenantSlug string
	// SigningSecret verifies gatewayState tokens on callback paths.
	SigningSecret string
	// CallbackBase is the path prefix under which state-based fallback applies.
	CallbackBase string
	// RootPaths always resolve to the root tenant regardless of host
	// (super-admin and global settings surfaces).
	RootPaths []string
}

// Resolver turns an inbound request into a tenant context.
type Resolver struct {
	tenants store.Store
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func New(tenants store.Store, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Resolver {
	if cfg.CallbackBase == "" {
		cfg.CallbackBase = "/api/auth/callback"
	}
	if len(cfg.RootPaths) == 0 {
		cfg.RootPaths = []string{"/api/admin", "/admin"}
	}
	return &Resolver{
		tenants: tenants,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("framelight/resolver"),
	}
}

type ctxKey struct{}

// resolution memoizes the per-request outcome, including "no tenant", so a
// second Resolve call can never re-run auto-provisioning within one request.
type resolution struct {
	tc *models.Context
}

// WithContext attaches a resolved tenant context to ctx. Exposed for tests
// and for the auth runtime's back-channel.
func WithContext(ctx context.Context, tc *models.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, &resolution{tc: tc})
}

// FromContext returns the tenant context attached to ctx, or nil.
func FromContext(ctx context.Context) *models.Context {
	if res, ok := ctx.Value(ctxKey{}).(*resolution); ok {
		return res.tc
	}
	return nil
}

// Middleware resolves the tenant context once and freezes it on the request.
// Resolution failure is not an error here; routes that demand a tenant call
// Require themselves.
func (r *Resolver) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := req.Context()
			if _, ok := ctx.Value(ctxKey{}).(*resolution); !ok {
				tc, _ := r.Resolve(req)
				ctx = context.WithValue(ctx, ctxKey{}, &resolution{tc: tc})
			}
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

// Resolve computes the tenant context for req. It returns (nil, nil) when the
// request is tenant-agnostic; errors are reserved for infrastructure
// failures. If a context is already attached to the request it is returned
// unchanged.
func (r *Resolver) Resolve(req *http.Request) (*models.Context, error) {
	if res, ok := req.Context().Value(ctxKey{}).(*resolution); ok {
		return res.tc, nil
	}

	start := time.Now()
	ctx, span := r.tracer.Start(req.Context(), "tenant.resolve")
	defer span.End()

	tc, err := r.resolve(ctx, req)
	switch {
	case err != nil:
		r.metrics.ObserveResolve("error", start)
	case tc == nil:
		r.metrics.ObserveResolve("none", start)
	case tc.IsPlaceholder:
		r.metrics.ObserveResolve("placeholder", start)
	default:
		r.metrics.ObserveResolve("active", start)
	}
	if tc != nil {
		span.SetAttributes(
			attribute.String("tenant.slug", tc.Tenant.Slug),
			attribute.Bool("tenant.placeholder", tc.IsPlaceholder),
		)
	}
	return tc, err
}

// Require resolves the tenant context and fails with not_found when a slug
// was requested but no tenant could be resolved for it.
func (r *Resolver) Require(req *http.Request) (*models.Context, error) {
	tc, err := r.Resolve(req)
	if err != nil {
		return nil, err
	}
	if tc == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "no tenant resolvable for this request")
	}
	return tc, nil
}

func (r *Resolver) resolve(ctx context.Context, req *http.Request) (*models.Context, error) {
	host := RequestHost(req)

	// 1. A verified custom domain resolves its owner directly, bypassing
	// slug derivation.
	if host != "" {
		if tenant, err := r.tenants.FindByDomain(ctx, host); err == nil {
			return models.NewContext(tenant, tenant.Slug), nil
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			r.logger.Error("custom domain lookup failed", "host", host, "error", err)
		}
	}

	slug := r.deriveSlug(host, req)
	if slug == "" {
		return nil, nil
	}

	tenant, err := r.tenants.FindBySlug(ctx, slug)
	switch {
	case err == nil:
		return models.NewContext(tenant, slug), nil
	case !errors.Is(err, sentinel.ErrNotFound):
		// Infrastructure failure: fail open to "no context" so tenant
		// agnostic routes keep working; demanding callers surface not_found.
		r.logger.Error("tenant lookup failed", "slug", slug, "error", err)
		return nil, nil
	}

	if !isAuthEntryPath(req.URL.Path) || hostutil.Reserved(slug) {
		return nil, nil
	}
	return r.provision(ctx, slug)
}

// provision creates a pending tenant so the very first auth request for a
// new workspace already operates against a stable tenant id.
func (r *Resolver) provision(ctx context.Context, slug string) (*models.Context, error) {
	pending, err := models.NewPendingTenant(slug, time.Now())
	if err != nil {
		return nil, nil
	}
	if err := r.tenants.Create(ctx, pending); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// A concurrent request provisioned the same slug first; adopt it.
			if tenant, ferr := r.tenants.FindBySlug(ctx, slug); ferr == nil {
				return models.NewContext(tenant, slug), nil
			}
		}
		r.logger.Error("tenant auto-provisioning failed", "slug", slug, "error", err)
		return nil, nil
	}
	r.metrics.IncrementProvisioned()
	r.logger.Info("auto-provisioned pending tenant", "slug", slug, "tenant_id", pending.ID)
	return models.NewContext(pending, slug), nil
}

// deriveSlug walks the priority chain: subdomain, then signed callback
// state, then the root-tenant path allowlist.
func (r *Resolver) deriveSlug(host string, req *http.Request) string {
	if slug := hostutil.ExtractSlugFromHost(host, r.cfg.BaseDomain); slug != "" {
		return slug
	}
	if slug := r.slugFromState(req); slug != "" {
		return slug
	}
	for _, prefix := range r.cfg.RootPaths {
		if pathHasPrefix(req.URL.Path, prefix) {
			return r.cfg.RootTenantSlug
		}
	}
	return ""
}

// slugFromState recovers the tenant slug the gateway embedded into the signed
// state, but only on callback paths; anywhere else query parameters must not
// influence tenant identity.
func (r *Resolver) slugFromState(req *http.Request) string {
	if r.cfg.SigningSecret == "" || !pathHasPrefix(req.URL.Path, r.cfg.CallbackBase) {
		return ""
	}
	q := req.URL.Query()
	for _, param := range []string{"gatewayState", "state"} {
		if payload := statecodec.Decode(q.Get(param), r.cfg.SigningSecret, 0); payload != nil {
			if hostutil.ValidSlug(payload.TenantSlug) {
				return payload.TenantSlug
			}
		}
	}
	return ""
}

// RequestHost prefers the forwarded host over Origin over the Host header.
func RequestHost(req *http.Request) string {
	for _, raw := range []string{
		req.Header.Get("X-Forwarded-Host"),
		req.Header.Get("Origin"),
		req.Host,
	} {
		if host := hostutil.NormalizeHost(raw); host != "" {
			return host
		}
	}
	return ""
}

func isAuthEntryPath(path string) bool {
	for _, prefix := range authEntryPaths {
		if pathHasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func pathHasPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
