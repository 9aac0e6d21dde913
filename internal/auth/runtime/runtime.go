// Package runtime implements one configured instance of the identity
// integration: social and email/password sign-in, session issuance, and the
// storage adapter plumbing. Instances are constructed and cached by the
// instance provider; a sign-in attempt and its callback must be served by the
// same instance so they agree on cryptographic and session state.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"framelight/internal/auth/models"
	"framelight/internal/auth/store"
	"framelight/internal/sentinel"
	dErrors "framelight/pkg/domain-errors"
	"framelight/pkg/secrets"
)

// ProviderCredentials configures one enabled social provider.
type ProviderCredentials struct {
	Name         string
	ClientID     string
	ClientSecret string
}

// Hooks are narrow extension points invoked around record creation. The
// before-create hook is the injected back-channel through which record
// creation reaches tenant provisioning; it must set the tenant id.
type Hooks struct {
	BeforeCreateUser func(ctx context.Context, u *models.User) error
}

// Options wires one runtime instance.
type Options struct {
	// TenantSlug identifies the tenant this instance serves; empty for the
	// bare base-domain instance.
	TenantSlug string
	Store      store.Adapter
	Providers  []ProviderCredentials

	// GatewayURL is the single external base URL all provider redirect URIs
	// are built from. Redirect URIs are never derived from tenant data:
	// identity providers only accept a fixed set of registered URIs.
	GatewayURL   string
	CallbackBase string
	// TargetHost is where the gateway should send this tenant's callbacks.
	TargetHost string

	// SigningSecret wraps routing metadata around the OAuth state. Empty
	// disables wrapping (single-tenant development mode).
	SigningSecret string
	SessionSecret string
	SessionTTL    time.Duration

	// EnsureTenantID resolves (or provisions) the tenant id for new identity
	// records. Injected by the instance provider so runtime hooks and request
	// resolution can never diverge.
	EnsureTenantID func(ctx context.Context) (uuid.UUID, error)

	Logger *slog.Logger
	Hooks  Hooks
}

// Runtime is one live identity-integration instance.
type Runtime struct {
	opts      Options
	providers map[string]*socialProvider
}

// SessionToken is an issued session: the signed token plus its backing row.
type SessionToken struct {
	Token   string
	Session *models.Session
	User    *models.User
}

// SessionInfo is the verified identity attached to an authenticated request.
type SessionInfo struct {
	SessionID uuid.UUID `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Role      string    `json:"role"`
}

// New constructs a runtime instance. Construction performs no I/O; provider
// metadata is fetched lazily so cached instances stay cheap to build.
func New(opts Options) (*Runtime, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("runtime: store adapter is required")
	}
	if opts.SessionSecret == "" {
		return nil, fmt.Errorf("runtime: session secret is required")
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 7 * 24 * time.Hour
	}
	if opts.CallbackBase == "" {
		opts.CallbackBase = "/api/auth/callback"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Runtime{opts: opts, providers: make(map[string]*socialProvider)}
	for _, creds := range opts.Providers {
		p, err := newSocialProvider(creds, r.redirectURI(creds.Name))
		if err != nil {
			return nil, err
		}
		r.providers[creds.Name] = p
	}
	return r, nil
}

// redirectURI builds the provider-registered callback URI from the fixed
// gateway base, never from tenant data.
func (r *Runtime) redirectURI(provider string) string {
	return strings.TrimSuffix(r.opts.GatewayURL, "/") + r.opts.CallbackBase + "/" + provider
}

// createUser runs the before-create hook and enforces tenant attribution:
// identity rows may never be created without a tenant id, since per-tenant
// isolation depends on every row carrying one.
func (r *Runtime) createUser(ctx context.Context, u *models.User) error {
	if r.opts.Hooks.BeforeCreateUser != nil {
		if err := r.opts.Hooks.BeforeCreateUser(ctx, u); err != nil {
			return err
		}
	}
	if u.TenantID == uuid.Nil && r.opts.EnsureTenantID != nil {
		tenantID, err := r.opts.EnsureTenantID(ctx)
		if err != nil {
			return err
		}
		u.TenantID = tenantID
	}
	if u.TenantID == uuid.Nil {
		return dErrors.New(dErrors.CodeBadRequest, "cannot create identity record without tenant attribution")
	}
	if u.Role == "" {
		u.Role = models.RoleMember
	}
	if err := r.opts.Store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.New(dErrors.CodeConflict, "email already registered in this workspace")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create user")
	}
	return nil
}

// SignUpEmail registers a new email/password user and opens a session.
func (r *Runtime) SignUpEmail(ctx context.Context, email, password, name, userAgent string) (*SessionToken, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "email and password are required")
	}
	hash, err := secrets.Hash(password)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.createUser(ctx, user); err != nil {
		return nil, err
	}
	return r.openSession(ctx, user, userAgent)
}

// SignInEmail authenticates an existing email/password user.
func (r *Runtime) SignInEmail(ctx context.Context, email, password, userAgent string) (*SessionToken, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	tenantID, err := r.tenantID(ctx)
	if err != nil {
		return nil, err
	}
	user, err := r.opts.Store.FindUserByEmail(ctx, tenantID, email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid email or password")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up user")
	}
	if user.PasswordHash == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid email or password")
	}
	if err := secrets.Verify(password, user.PasswordHash); err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid email or password")
	}
	return r.openSession(ctx, user, userAgent)
}

func (r *Runtime) tenantID(ctx context.Context) (uuid.UUID, error) {
	if r.opts.EnsureTenantID == nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "no tenant resolvable for identity operation")
	}
	return r.opts.EnsureTenantID(ctx)
}

// openSession stores a session row and issues the matching signed token.
func (r *Runtime) openSession(ctx context.Context, user *models.User, userAgent string) (*SessionToken, error) {
	now := time.Now()
	session := &models.Session{
		ID:                uuid.New(),
		UserID:            user.ID,
		TenantID:          user.TenantID,
		DeviceFingerprint: deviceFingerprint(userAgent),
		ExpiresAt:         now.Add(r.opts.SessionTTL),
		CreatedAt:         now,
	}
	if err := r.opts.Store.CreateSession(ctx, session); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create session")
	}

	claims := jwt.MapClaims{
		"sub":       user.ID.String(),
		"sid":       session.ID.String(),
		"tenant_id": user.TenantID.String(),
		"role":      user.Role,
		"iat":       now.Unix(),
		"exp":       session.ExpiresAt.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(r.opts.SessionSecret))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign session token")
	}
	return &SessionToken{Token: token, Session: session, User: user}, nil
}

// VerifySession validates a session token and confirms its backing row still
// exists, so revocation takes effect immediately.
func (r *Runtime) VerifySession(ctx context.Context, token string) (*SessionInfo, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(r.opts.SessionSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid session token")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid session token")
	}
	info, err := sessionInfoFromClaims(claims)
	if err != nil {
		return nil, err
	}
	session, err := r.opts.Store.FindSession(ctx, info.SessionID)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "session not found")
	}
	if time.Now().After(session.ExpiresAt) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "session expired")
	}
	// Role changes (first-admin promotion) take effect immediately rather
	// than at next sign-in, so the live row wins over the minted claim.
	if user, uerr := r.opts.Store.FindUserByID(ctx, info.UserID); uerr == nil {
		info.Role = user.Role
	}
	return info, nil
}

// SignOut revokes the session behind the token. Unknown sessions are not an error.
func (r *Runtime) SignOut(ctx context.Context, token string) error {
	info, err := r.VerifySession(ctx, token)
	if err != nil {
		return nil
	}
	if err := r.opts.Store.DeleteSession(ctx, info.SessionID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete session")
	}
	return nil
}

// Store exposes the storage adapter to orchestration code that must touch
// identity records directly (first-admin promotion, rollback deletes).
func (r *Runtime) Store() store.Adapter {
	return r.opts.Store
}

func sessionInfoFromClaims(claims jwt.MapClaims) (*SessionInfo, error) {
	parse := func(key string) (uuid.UUID, error) {
		raw, _ := claims[key].(string)
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, dErrors.New(dErrors.CodeUnauthorized, "invalid session token")
		}
		return id, nil
	}
	userID, err := parse("sub")
	if err != nil {
		return nil, err
	}
	sessionID, err := parse("sid")
	if err != nil {
		return nil, err
	}
	tenantID, err := parse("tenant_id")
	if err != nil {
		return nil, err
	}
	role, _ := claims["role"].(string)
	return &SessionInfo{SessionID: sessionID, UserID: userID, TenantID: tenantID, Role: role}, nil
}
