// Package instance guarantees exactly one identity-runtime instance exists
// per (protocol, host, tenant-slug, configuration-fingerprint) tuple, so a
// social sign-in attempt and its callback are served by the same instance.
package instance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"framelight/internal/auth/runtime"
	"framelight/internal/auth/store"
	"framelight/internal/sentinel"
	tenantmodels "framelight/internal/tenant/models"
	"framelight/internal/tenant/resolver"
	tenantstore "framelight/internal/tenant/store"
	dErrors "framelight/pkg/domain-errors"
	"framelight/pkg/hostutil"
	"framelight/pkg/secrets"
)

// Config is the static identity configuration shared by all instances.
type Config struct {
	BaseDomain    string
	GatewayURL    string
	CallbackBase  string
	SigningSecret string
	SessionSecret string
	SessionTTL    time.Duration
	Providers     []runtime.ProviderCredentials
	// AllowCustomHost lets the request host travel in signed state as the
	// callback target. Off, the target is always the canonical tenant
	// subdomain, matching the gateway's own override flag.
	AllowCustomHost bool
}

// Provider constructs and memoizes identity-runtime instances.
type Provider struct {
	cfg     Config
	tenants tenantstore.Store
	adapter store.Adapter
	logger  *slog.Logger

	// fingerprint is stable for the provider's lifetime: configuration
	// changes restart the process and produce a new fingerprint, which keys
	// a new cache entry rather than invalidating old ones.
	fingerprint string

	mu    sync.RWMutex
	cache map[string]*runtime.Runtime
	group singleflight.Group
}

func New(cfg Config, tenants tenantstore.Store, adapter store.Adapter, logger *slog.Logger) *Provider {
	if cfg.CallbackBase == "" {
		cfg.CallbackBase = "/api/auth/callback"
	}
	return &Provider{
		cfg:         cfg,
		tenants:     tenants,
		adapter:     adapter,
		logger:      logger,
		fingerprint: configFingerprint(cfg),
		cache:       make(map[string]*runtime.Runtime),
	}
}

// configFingerprint hashes everything that shapes instance behavior. Client
// secrets contribute only through their own hash, never raw.
func configFingerprint(cfg Config) string {
	providers := make([]runtime.ProviderCredentials, len(cfg.Providers))
	copy(providers, cfg.Providers)
	sort.Slice(providers, func(i, j int) bool { return providers[i].Name < providers[j].Name })

	var b strings.Builder
	b.WriteString(cfg.BaseDomain)
	b.WriteString("|")
	b.WriteString(cfg.GatewayURL)
	for _, p := range providers {
		b.WriteString("|")
		b.WriteString(p.Name)
		b.WriteString(":")
		b.WriteString(p.ClientID)
		b.WriteString(":")
		b.WriteString(secrets.Fingerprint(p.ClientSecret))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// GetAuth returns the runtime instance serving req, constructing it at most
// once per cache key. Concurrent first callers share one construction.
func (p *Provider) GetAuth(req *http.Request) (*runtime.Runtime, error) {
	host := resolver.RequestHost(req)
	proto := hostutil.DetermineProtocol(host, req.Header.Get("X-Forwarded-Proto"))
	slug := p.requestSlug(req, host)
	key := proto + "://" + host + "::" + slug + "::" + p.fingerprint
	return p.getByKey(key, host, slug)
}

func (p *Provider) getByKey(key, host, slug string) (*runtime.Runtime, error) {
	p.mu.RLock()
	rt, ok := p.cache[key]
	p.mu.RUnlock()
	if ok {
		return rt, nil
	}

	v, err, _ := p.group.Do(key, func() (any, error) {
		// Double-check under the group: a racing first caller may have
		// stored the instance between our read and Do.
		p.mu.RLock()
		existing, ok := p.cache[key]
		p.mu.RUnlock()
		if ok {
			return existing, nil
		}
		built, err := p.build(host, slug)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.cache[key] = built
		p.mu.Unlock()
		p.logger.Info("constructed auth instance", "key", key)
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*runtime.Runtime), nil
}

func (p *Provider) build(host, slug string) (*runtime.Runtime, error) {
	target := host
	if !p.cfg.AllowCustomHost && slug != "" {
		target = slug + "." + p.cfg.BaseDomain
	}
	return runtime.New(runtime.Options{
		TenantSlug:     slug,
		Store:          p.adapter,
		Providers:      p.cfg.Providers,
		GatewayURL:     p.cfg.GatewayURL,
		CallbackBase:   p.cfg.CallbackBase,
		TargetHost:     target,
		SigningSecret:  p.cfg.SigningSecret,
		SessionSecret:  p.cfg.SessionSecret,
		SessionTTL:     p.cfg.SessionTTL,
		EnsureTenantID: p.ensureTenantID(slug),
		Logger:         p.logger,
	})
}

// requestSlug picks the slug for the cache key: the request's already
// resolved context first, then a fresh derivation from the host.
func (p *Provider) requestSlug(req *http.Request, host string) string {
	if tc := resolver.FromContext(req.Context()); tc != nil {
		if tc.RequestedSlug != "" {
			return tc.RequestedSlug
		}
		return tc.Tenant.Slug
	}
	return hostutil.ExtractSlugFromHost(host, p.cfg.BaseDomain)
}

// ensureTenantID is the back-channel handed to runtime hooks: identity record
// creation resolves its tenant id through the same pipeline as request
// resolution, looking up or provisioning the instance's slug on demand.
func (p *Provider) ensureTenantID(slug string) func(ctx context.Context) (uuid.UUID, error) {
	return func(ctx context.Context) (uuid.UUID, error) {
		if tc := resolver.FromContext(ctx); tc != nil {
			return tc.Tenant.ID, nil
		}
		if slug == "" || hostutil.Reserved(slug) {
			return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "no tenant resolvable for identity record")
		}
		tenant, err := p.tenants.FindBySlug(ctx, slug)
		switch {
		case err == nil:
			return tenant.ID, nil
		case !errors.Is(err, sentinel.ErrNotFound):
			return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInternal, "tenant lookup failed")
		}

		pending, err := tenantmodels.NewPendingTenant(slug, time.Now())
		if err != nil {
			return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "no tenant resolvable for identity record")
		}
		if err := p.tenants.Create(ctx, pending); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				if tenant, ferr := p.tenants.FindBySlug(ctx, slug); ferr == nil {
					return tenant.ID, nil
				}
			}
			return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInternal, "tenant provisioning failed")
		}
		p.logger.Info("provisioned pending tenant for identity record", "slug", slug)
		return pending.ID, nil
	}
}
