package httptransport

import (
	"net/http"
	"strings"

	strutil "framelight/pkg/string"
)

type finalizeTenantRequest struct {
	Slug string `json:"slug" validate:"required,tenantslug"`
	Name string `json:"name" validate:"max=128"`
}

func (r *finalizeTenantRequest) normalize() {
	strutil.TrimStrings(&r.Slug, &r.Name)
	r.Slug = strings.ToLower(r.Slug)
}

type createTenantRequest struct {
	Slug string `json:"slug" validate:"required,tenantslug"`
	Name string `json:"name" validate:"required,max=128"`
}

func (r *createTenantRequest) normalize() {
	strutil.TrimStrings(&r.Slug, &r.Name)
	r.Slug = strings.ToLower(r.Slug)
}

// handleFinalizeTenant claims the pending tenant the request resolved to.
// The authenticated caller becomes the workspace's first admin.
func (h *Handler) handleFinalizeTenant(w http.ResponseWriter, r *http.Request) {
	var req finalizeTenantRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	info, err := h.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tc, err := h.tenants.Require(r)
	if err != nil {
		writeError(w, err)
		return
	}

	tenant, err := h.registrar.FinalizeTenant(r.Context(), tc.Tenant.ID, info.UserID, req.Slug, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant": tenant})
}

// handleCreateTenant creates a brand-new active tenant owned by the caller.
func (h *Handler) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	info, err := h.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	tenant, err := h.registrar.CreateTenantWithOwner(r.Context(), req.Slug, req.Name, info.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"tenant": tenant})
}
