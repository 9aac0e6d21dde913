package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// Overridable in tests; production always talks to the real providers.
var (
	githubAPIBase   = "https://api.github.com"
	googleIssuerURL = "https://accounts.google.com"
)

// providerIdentity is the normalized identity a provider callback yields.
type providerIdentity struct {
	Subject string
	Email   string
	Name    string
}

type socialProvider struct {
	name  string
	oauth *oauth2.Config

	// Google only: OIDC verifier, built lazily because discovery performs I/O.
	verifierOnce sync.Once
	verifier     *oidc.IDTokenVerifier
	verifierErr  error
}

func newSocialProvider(creds ProviderCredentials, redirectURI string) (*socialProvider, error) {
	cfg := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  redirectURI,
	}
	switch creds.Name {
	case "github":
		cfg.Endpoint = endpoints.GitHub
		cfg.Scopes = []string{"read:user", "user:email"}
	case "google":
		cfg.Endpoint = endpoints.Google
		cfg.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	default:
		return nil, fmt.Errorf("runtime: unsupported provider %q", creds.Name)
	}
	return &socialProvider{name: creds.Name, oauth: cfg}, nil
}

func (p *socialProvider) authCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// exchange trades the authorization code for tokens and resolves the
// provider identity.
func (p *socialProvider) exchange(ctx context.Context, code string) (*providerIdentity, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	switch p.name {
	case "google":
		return p.googleIdentity(ctx, token)
	default:
		return p.githubIdentity(ctx, token)
	}
}

// googleIdentity verifies the OIDC ID token rather than trusting userinfo.
func (p *socialProvider) googleIdentity(ctx context.Context, token *oauth2.Token) (*providerIdentity, error) {
	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, fmt.Errorf("google token response missing id_token")
	}
	p.verifierOnce.Do(func() {
		provider, err := oidc.NewProvider(ctx, googleIssuerURL)
		if err != nil {
			p.verifierErr = fmt.Errorf("oidc discovery: %w", err)
			return
		}
		p.verifier = provider.Verifier(&oidc.Config{ClientID: p.oauth.ClientID})
	})
	if p.verifierErr != nil {
		return nil, p.verifierErr
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}
	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode id token claims: %w", err)
	}
	return &providerIdentity{Subject: idToken.Subject, Email: claims.Email, Name: claims.Name}, nil
}

func (p *socialProvider) githubIdentity(ctx context.Context, token *oauth2.Token) (*providerIdentity, error) {
	client := p.oauth.Client(ctx, token)
	resp, err := client.Get(githubAPIBase + "/user")
	if err != nil {
		return nil, fmt.Errorf("fetch github user: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch github user: status %d", resp.StatusCode)
	}
	var payload struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode github user: %w", err)
	}
	name := payload.Name
	if name == "" {
		name = payload.Login
	}
	email := payload.Email
	if email == "" {
		// Users with a private primary address return null here, so fall
		// back to the emails listing granted by the user:email scope.
		email, err = p.githubPrimaryEmail(ctx, client)
		if err != nil {
			return nil, err
		}
	}
	return &providerIdentity{
		Subject: strconv.FormatInt(payload.ID, 10),
		Email:   email,
		Name:    name,
	}, nil
}

func (p *socialProvider) githubPrimaryEmail(ctx context.Context, client *http.Client) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, githubAPIBase+"/user/emails", nil)
	if err != nil {
		return "", fmt.Errorf("build github emails request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch github emails: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch github emails: status %d", resp.StatusCode)
	}
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return "", fmt.Errorf("decode github emails: %w", err)
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, nil
		}
	}
	return "", fmt.Errorf("github account has no verified email")
}
