package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"framelight/internal/auth/models"
	"framelight/internal/sentinel"
	dErrors "framelight/pkg/domain-errors"
	"framelight/pkg/secrets"
	"framelight/pkg/statecodec"
)

const stateTTL = 10 * time.Minute

// BeginSocialSignIn starts the provider flow: it mints the inner anti-CSRF
// state, persists it for one-time redemption, wraps it with tenant routing
// metadata when a gateway secret is configured, and returns the provider's
// authorization URL.
func (r *Runtime) BeginSocialSignIn(ctx context.Context, provider string) (string, error) {
	p, ok := r.providers[provider]
	if !ok {
		return "", dErrors.New(dErrors.CodeBadRequest, "unknown or disabled provider")
	}

	inner, err := secrets.Generate()
	if err != nil {
		return "", err
	}

	verification := &models.Verification{
		ID:         uuid.New(),
		Identifier: stateIdentifier(provider),
		Value:      inner,
		ExpiresAt:  time.Now().Add(stateTTL),
		CreatedAt:  time.Now(),
	}
	if tenantID, terr := r.tenantID(ctx); terr == nil {
		verification.TenantID = tenantID
	}
	if err := r.opts.Store.CreateVerification(ctx, verification); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist sign-in state")
	}

	state := inner
	if r.opts.SigningSecret != "" {
		state, err = statecodec.Encode(r.opts.SigningSecret, r.opts.TenantSlug, inner, r.opts.TargetHost, stateTTL)
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to wrap sign-in state")
		}
	}
	return p.authCodeURL(state), nil
}

// CompleteSocialSignIn finishes the provider flow after the gateway has
// routed the callback here. By then the outgoing state has been rewritten to
// the inner value, but a still-wrapped token is also accepted for flows that
// bypassed the gateway.
func (r *Runtime) CompleteSocialSignIn(ctx context.Context, provider, code, state, userAgent string) (*SessionToken, error) {
	p, ok := r.providers[provider]
	if !ok {
		return nil, dErrors.New(dErrors.CodeBadRequest, "unknown or disabled provider")
	}
	if code == "" || state == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "code and state are required")
	}

	inner := state
	if payload := statecodec.Decode(state, r.opts.SigningSecret, 0); payload != nil {
		inner = payload.InnerState
	}

	if _, err := r.opts.Store.ConsumeVerification(ctx, stateIdentifier(provider), inner); err != nil {
		if errors.Is(err, sentinel.ErrExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "sign-in state expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "unknown sign-in state")
	}

	identity, err := p.exchange(ctx, code)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "provider code exchange failed")
	}
	if identity.Email == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "provider identity has no email")
	}

	user, err := r.upsertSocialUser(ctx, provider, identity)
	if err != nil {
		return nil, err
	}
	return r.openSession(ctx, user, userAgent)
}

// upsertSocialUser resolves the provider identity to a tenant-scoped user,
// linking the account or creating the user as needed.
func (r *Runtime) upsertSocialUser(ctx context.Context, provider string, identity *providerIdentity) (*models.User, error) {
	tenantID, err := r.tenantID(ctx)
	if err != nil {
		return nil, err
	}

	if account, err := r.opts.Store.FindAccount(ctx, tenantID, provider, identity.Subject); err == nil {
		user, ferr := r.opts.Store.FindUserByID(ctx, account.UserID)
		if ferr != nil {
			return nil, dErrors.Wrap(ferr, dErrors.CodeInternal, "linked user missing")
		}
		return user, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "account lookup failed")
	}

	user, err := r.opts.Store.FindUserByEmail(ctx, tenantID, identity.Email)
	switch {
	case err == nil:
		// Existing email/password user signing in socially; link below.
	case errors.Is(err, sentinel.ErrNotFound):
		now := time.Now()
		user = &models.User{
			ID:        uuid.New(),
			TenantID:  tenantID,
			Email:     identity.Email,
			Name:      identity.Name,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if cerr := r.createUser(ctx, user); cerr != nil {
			return nil, cerr
		}
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "user lookup failed")
	}

	account := &models.Account{
		ID:                uuid.New(),
		UserID:            user.ID,
		TenantID:          tenantID,
		Provider:          provider,
		ProviderAccountID: identity.Subject,
		CreatedAt:         time.Now(),
	}
	if err := r.opts.Store.CreateAccount(ctx, account); err != nil && !errors.Is(err, sentinel.ErrConflict) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to link account")
	}
	return user, nil
}

func stateIdentifier(provider string) string {
	return "oauth_state:" + provider
}
