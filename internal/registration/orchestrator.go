// Package registration turns identities into workspaces. It owns the two
// sign-up flows that mutate tenant state: promoting an auto-provisioned
// pending tenant into an active one, and creating a brand-new tenant with its
// first admin in one rollback-guarded sequence.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	authModels "framelight/internal/auth/models"
	authStore "framelight/internal/auth/store"
	"framelight/internal/sentinel"
	tenantMetrics "framelight/internal/tenant/metrics"
	"framelight/internal/tenant/models"
	tenantStore "framelight/internal/tenant/store"
	dErrors "framelight/pkg/domain-errors"
	"framelight/pkg/hostutil"
)

// maxSlugAttempts bounds suffix probing when the requested slug is taken.
const maxSlugAttempts = 10

type Orchestrator struct {
	tenants  tenantStore.Store
	identity authStore.Adapter
	metrics  *tenantMetrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

func New(tenants tenantStore.Store, identity authStore.Adapter, metrics *tenantMetrics.Metrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		tenants:  tenants,
		identity: identity,
		metrics:  metrics,
		logger:   logger,
		tracer:   otel.Tracer("framelight/registration"),
	}
}

// FinalizeTenant promotes a pending tenant to active and makes userID its
// first admin. requestedSlug must still match the tenant's current slug; a
// mismatch means the workspace was claimed by someone else mid-flow. Exactly
// one of any number of concurrent finalization attempts succeeds.
func (o *Orchestrator) FinalizeTenant(ctx context.Context, tenantID, userID uuid.UUID, requestedSlug, name string) (*models.Tenant, error) {
	ctx, span := o.tracer.Start(ctx, "registration.finalize")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID.String()))

	tenant, err := o.tenants.FindByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "tenant not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "looking up tenant")
	}
	if requestedSlug != "" && requestedSlug != tenant.Slug {
		return nil, dErrors.New(dErrors.CodeConflict, "workspace was claimed under a different slug")
	}

	if name == "" {
		name = tenant.Slug
	}
	activated, err := o.tenants.ActivateIfPending(ctx, tenantID, name)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "tenant not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "activating tenant")
	}
	if !activated {
		return nil, dErrors.New(dErrors.CodeConflict, "tenant is no longer pending")
	}

	if err := o.identity.UpdateUserRole(ctx, userID, authModels.RoleAdmin); err != nil {
		// The tenant is already active; the role promotion is repairable.
		o.logger.Error("promoting first admin failed", "tenant_id", tenantID, "user_id", userID, "error", err)
	}

	o.metrics.IncrementFinalized()
	o.logger.Info("tenant finalized", "tenant_id", tenantID, "slug", tenant.Slug)

	finalized, err := o.tenants.FindByID(ctx, tenantID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "reloading finalized tenant")
	}
	return finalized, nil
}

// CreateTenantWithOwner creates an active tenant and promotes ownerID to its
// first admin. When baseSlug is taken, suffixed variants are probed up to a
// bounded attempt count. A downstream identity failure rolls the tenant back.
func (o *Orchestrator) CreateTenantWithOwner(ctx context.Context, baseSlug, name string, ownerID uuid.UUID) (*models.Tenant, error) {
	ctx, span := o.tracer.Start(ctx, "registration.create")
	defer span.End()

	baseSlug = strings.ToLower(strings.TrimSpace(baseSlug))
	if !hostutil.ValidSlug(baseSlug) || hostutil.Reserved(baseSlug) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "slug is invalid or reserved")
	}
	if ownerID == uuid.Nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "owner is required")
	}

	tenant, err := o.createWithUniqueSlug(ctx, baseSlug, name)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("tenant.slug", tenant.Slug))

	if err := o.identity.UpdateUserRole(ctx, ownerID, authModels.RoleAdmin); err != nil {
		o.rollback(ctx, tenant.ID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "owner not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "promoting owner")
	}

	o.metrics.IncrementProvisioned()
	o.logger.Info("tenant created", "tenant_id", tenant.ID, "slug", tenant.Slug, "owner_id", ownerID)
	return tenant, nil
}

func (o *Orchestrator) createWithUniqueSlug(ctx context.Context, baseSlug, name string) (*models.Tenant, error) {
	for attempt := 1; attempt <= maxSlugAttempts; attempt++ {
		slug := baseSlug
		if attempt > 1 {
			slug = fmt.Sprintf("%s-%d", baseSlug, attempt)
		}
		tenant, err := models.NewTenant(slug, name, time.Now())
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "building tenant")
		}
		err = o.tenants.Create(ctx, tenant)
		if err == nil {
			return tenant, nil
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "creating tenant")
		}
	}
	return nil, dErrors.New(dErrors.CodeConflict, "no available slug variant")
}

// rollback deletes a just-created tenant after a downstream failure. Best
// effort; a failed delete leaves an orphan row and is only logged.
func (o *Orchestrator) rollback(ctx context.Context, tenantID uuid.UUID) {
	if err := o.tenants.Delete(ctx, tenantID); err != nil {
		o.logger.Error("rollback of created tenant failed", "tenant_id", tenantID, "error", err)
	}
}
