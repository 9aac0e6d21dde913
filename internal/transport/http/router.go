// Package httptransport is the thin HTTP layer of the tenant-facing server.
// Handlers delegate to domain services; transport concerns (decoding,
// validation, error envelopes) stay here.
package httptransport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"framelight/internal/auth/instance"
	"framelight/internal/platform/health"
	"framelight/internal/platform/middleware"
	"framelight/internal/registration"
	"framelight/internal/tenant/resolver"
	dErrors "framelight/pkg/domain-errors"
)

// Handler carries the services the HTTP surface delegates to.
type Handler struct {
	instances  *instance.Provider
	tenants    *resolver.Resolver
	registrar  *registration.Orchestrator
	health     *health.Handler
	forceHTTPS bool
	logger     *slog.Logger
}

func NewHandler(instances *instance.Provider, tenants *resolver.Resolver, registrar *registration.Orchestrator, forceHTTPS bool, logger *slog.Logger) *Handler {
	return &Handler{
		instances:  instances,
		tenants:    tenants,
		registrar:  registrar,
		health:     health.New("framelight-server"),
		forceHTTPS: forceHTTPS,
		logger:     logger,
	}
}

// RegisterHealthCheck adds a named dependency probe to the readiness endpoint.
func (h *Handler) RegisterHealthCheck(name string, check health.CheckFunc) {
	h.health.RegisterCheck(name, check)
}

// NewRouter wires all public endpoints with middleware. Tenant resolution
// runs once per request; handlers read the frozen result from the context.
func NewRouter(h *Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(h.tenants.Middleware())

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/sign-up/email", h.handleSignUpEmail)
		r.Post("/sign-in/email", h.handleSignInEmail)
		r.Get("/sign-in/social/{provider}", h.handleSocialSignIn)
		r.HandleFunc("/callback/{provider}", h.handleSocialCallback)
		r.Post("/sign-out", h.handleSignOut)
		r.Get("/session", h.handleSession)
	})

	r.Route("/api/registration", func(r chi.Router) {
		r.Post("/finalize", h.handleFinalizeTenant)
		r.Post("/tenants", h.handleCreateTenant)
	})

	r.Get("/api/tenant", h.handleCurrentTenant)
	h.health.Register(r)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// handleCurrentTenant exposes the resolved tenant context for the caller.
func (h *Handler) handleCurrentTenant(w http.ResponseWriter, r *http.Request) {
	tc, err := h.tenants.Require(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant":         tc.Tenant,
		"is_placeholder": tc.IsPlaceholder,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError centralizes domain error translation to HTTP responses so every
// handler emits the same JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		writeJSON(w, domainCodeToStatus(domainErr.Code), map[string]string{
			"error":   string(domainErr.Code),
			"message": domainErr.Message,
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": string(dErrors.CodeInternal),
	})
}

func domainCodeToStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeValidation:
		return http.StatusBadRequest
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
