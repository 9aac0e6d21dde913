package httptransport

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"framelight/internal/auth/runtime"
	dErrors "framelight/pkg/domain-errors"
	strutil "framelight/pkg/string"
	"framelight/pkg/validation"
)

// sessionCookie carries the session token for browser clients; API clients
// may send the same token as a bearer credential instead.
const sessionCookie = "framelight_session"

type signUpRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	Name     string `json:"name" validate:"max=128"`
}

func (r *signUpRequest) normalize() { strutil.TrimStrings(&r.Email, &r.Name) }

type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (r *signInRequest) normalize() { strutil.TrimStrings(&r.Email) }

func (h *Handler) handleSignUpEmail(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	rt, err := h.instances.GetAuth(r)
	if err != nil {
		writeError(w, err)
		return
	}
	session, err := rt.SignUpEmail(r.Context(), req.Email, req.Password, req.Name, r.UserAgent())
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeSession(w, r, session, http.StatusCreated)
}

func (h *Handler) handleSignInEmail(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	rt, err := h.instances.GetAuth(r)
	if err != nil {
		writeError(w, err)
		return
	}
	session, err := rt.SignInEmail(r.Context(), req.Email, req.Password, r.UserAgent())
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeSession(w, r, session, http.StatusOK)
}

// handleSocialSignIn starts the provider flow and returns the authorization
// URL for the client to navigate to.
func (h *Handler) handleSocialSignIn(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	rt, err := h.instances.GetAuth(r)
	if err != nil {
		writeError(w, err)
		return
	}
	authURL, err := rt.BeginSocialSignIn(r.Context(), provider)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": authURL})
}

// handleSocialCallback completes the provider flow after the gateway has
// routed the callback to this tenant's host.
func (h *Handler) handleSocialCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	query := r.URL.Query()

	if errCode := query.Get("error"); errCode != "" {
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "provider denied authorization: "+errCode))
		return
	}
	code := query.Get("code")
	if code == "" {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "authorization code is required"))
		return
	}

	rt, err := h.instances.GetAuth(r)
	if err != nil {
		writeError(w, err)
		return
	}
	session, err := rt.CompleteSocialSignIn(r.Context(), provider, code, query.Get("state"), r.UserAgent())
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeSession(w, r, session, http.StatusOK)
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r)
	if token == "" {
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "no session"))
		return
	}

	rt, err := h.instances.GetAuth(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := rt.SignOut(r.Context(), token); err != nil {
		writeError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleSession introspects the caller's session and returns the identity
// downstream subsystems key on.
func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// authenticate verifies the request's session token against the tenant's
// identity runtime.
func (h *Handler) authenticate(r *http.Request) (*runtime.SessionInfo, error) {
	token := sessionToken(r)
	if token == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "no session")
	}
	rt, err := h.instances.GetAuth(r)
	if err != nil {
		return nil, err
	}
	return rt.VerifySession(r.Context(), token)
}

func (h *Handler) writeSession(w http.ResponseWriter, r *http.Request, session *runtime.SessionToken, status int) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.Session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.forceHTTPS || r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, status, map[string]any{
		"token": session.Token,
		"user":  session.User,
	})
}

// sessionToken extracts the session credential from the Authorization header
// or the session cookie, in that order.
func sessionToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// normalizer lets request types clean themselves up before validation.
type normalizer interface {
	normalize()
}

// decodeBody parses, normalizes, and validates a JSON request body.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed request body")
	}
	if n, ok := dst.(normalizer); ok {
		n.normalize()
	}
	return validation.Validate(dst)
}
