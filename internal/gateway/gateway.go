// Package gateway implements the stateless OAuth callback router. Identity
// providers call back to one fixed registered URL served here; the gateway
// unwraps the signed routing state and forwards the callback to the correct
// tenant host. Every decision is a pure function of the request's own query
// parameters and static configuration, so the service scales horizontally
// with no affinity.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"framelight/pkg/hostutil"
	httpErrors "framelight/pkg/http-errors"
	"framelight/pkg/statecodec"
)

// Config is the gateway's entire decision surface.
type Config struct {
	BaseDomain    string
	SigningSecret string
	CallbackBase  string
	// AllowCustomHost lets callers supply an explicit targetHost override.
	AllowCustomHost bool
	// AllowInsecure permits plain-http redirects to localhost-like hosts.
	AllowInsecure bool
}

// Handler routes provider callbacks to tenant hosts.
type Handler struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

func NewHandler(cfg Config, logger *slog.Logger, metrics *Metrics) *Handler {
	if cfg.CallbackBase == "" {
		cfg.CallbackBase = "/api/auth/callback"
	}
	return &Handler{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		tracer:  otel.Tracer("framelight/gateway"),
	}
}

// Register mounts the gateway routes. The bare callback path is routed too,
// so a missing provider segment gets the JSON envelope rather than a plain 404.
func (h *Handler) Register(r chi.Router) {
	r.HandleFunc(h.cfg.CallbackBase+"/{provider}", h.handleCallback)
	r.HandleFunc(h.cfg.CallbackBase, h.handleCallback)
	r.HandleFunc(h.cfg.CallbackBase+"/", h.handleCallback)
	r.Get("/healthz", h.handleHealth)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	_, span := h.tracer.Start(r.Context(), "gateway.callback")
	defer span.End()

	provider := chi.URLParam(r, "provider")
	if provider == "" {
		h.writeError(w, httpErrors.New(httpErrors.CodeMissingProvider, "provider path segment is required"))
		return
	}
	span.SetAttributes(attribute.String("oauth.provider", provider))

	query := r.URL.Query()
	outgoing := url.Values{}
	for key, values := range query {
		switch key {
		case "state", "tenant", "tenantSlug", "targetHost", "gatewayState":
		default:
			outgoing[key] = values
		}
	}

	// A present state with a configured secret must verify; a tampered or
	// expired token is never silently accepted.
	var payload *statecodec.Payload
	state := query.Get("state")
	if state != "" && h.cfg.SigningSecret != "" {
		payload = statecodec.Decode(state, h.cfg.SigningSecret, statecodec.DefaultClockTolerance)
		if payload == nil {
			h.writeError(w, httpErrors.New(httpErrors.CodeInvalidState, "state failed verification or expired"))
			return
		}
		// Restore the provider's original anti-CSRF value and keep the
		// wrapped token recoverable for the destination's own resolution.
		outgoing.Set("state", payload.InnerState)
		outgoing.Set("gatewayState", state)
	} else if state != "" {
		outgoing.Set("state", state)
	}

	slug, gwErr := h.resolveSlug(query, payload)
	if gwErr != nil {
		h.writeError(w, *gwErr)
		return
	}

	override, gwErr := h.resolveHostOverride(query)
	if gwErr != nil {
		h.writeError(w, *gwErr)
		return
	}

	host := override
	if host == "" && slug != "" {
		host = slug + "." + h.cfg.BaseDomain
	}
	if host == "" {
		h.writeError(w, httpErrors.New(httpErrors.CodeUnresolvableHost, "no tenant host resolvable from request"))
		return
	}

	scheme := "https"
	if h.cfg.AllowInsecure && hostutil.IsLocalHost(host) {
		scheme = "http"
	}
	destination := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     h.cfg.CallbackBase + "/" + provider,
		RawQuery: outgoing.Encode(),
	}

	span.SetAttributes(attribute.String("tenant.slug", slug), attribute.String("redirect.host", host))
	h.metrics.IncrementRedirect(provider)
	h.logger.Info("routing oauth callback", "provider", provider, "slug", slug, "host", host)
	http.Redirect(w, r, destination.String(), http.StatusFound)
}

// resolveSlug prefers the explicit legacy query parameter over the slug
// embedded in verified state.
func (h *Handler) resolveSlug(query url.Values, payload *statecodec.Payload) (string, *httpErrors.GatewayError) {
	explicit := query.Get("tenant")
	if explicit == "" {
		explicit = query.Get("tenantSlug")
	}
	if explicit != "" {
		if !hostutil.ValidSlug(explicit) {
			err := httpErrors.New(httpErrors.CodeInvalidTenant, "tenant slug contains invalid characters")
			return "", &err
		}
		return explicit, nil
	}
	if payload != nil && payload.TenantSlug != "" {
		if !hostutil.ValidSlug(payload.TenantSlug) {
			err := httpErrors.New(httpErrors.CodeInvalidTenant, "tenant slug contains invalid characters")
			return "", &err
		}
		return payload.TenantSlug, nil
	}
	return "", nil
}

// resolveHostOverride honors an explicit targetHost only when the operator
// opted in; otherwise the parameter is ignored entirely.
func (h *Handler) resolveHostOverride(query url.Values) (string, *httpErrors.GatewayError) {
	raw := query.Get("targetHost")
	if raw == "" || !h.cfg.AllowCustomHost {
		return "", nil
	}
	host := hostutil.NormalizeHost(raw)
	if host == "" {
		err := httpErrors.New(httpErrors.CodeInvalidHost, "targetHost is not a valid hostname")
		return "", &err
	}
	return host, nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    "ok",
		"service":   "framelight-gateway",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// writeError emits the JSON error envelope. Routing errors are always 400;
// the client must restart the sign-in flow.
func (h *Handler) writeError(w http.ResponseWriter, gwErr httpErrors.GatewayError) {
	h.metrics.IncrementError(string(gwErr.Code))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpErrors.ToHTTPStatus(gwErr.Code))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   string(gwErr.Code),
		"message": gwErr.Message,
	})
}
