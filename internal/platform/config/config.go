package config

import (
	"os"
	"strings"
	"time"
)

// Provider holds the OAuth credentials for one enabled social provider.
type Provider struct {
	Name         string
	ClientID     string
	ClientSecret string
}

// Server captures configuration for the tenant-facing application server.
type Server struct {
	Addr            string
	DatabaseURL     string
	BaseDomain      string
	RootTenantSlug  string
	SigningSecret   string
	SessionSecret   string
	SessionTTL      time.Duration
	GatewayURL      string
	CallbackBase    string
	Providers       []Provider
	AllowCustomHost bool
	ForceHTTPS      bool
}

// Gateway captures configuration for the stateless callback router.
type Gateway struct {
	Addr            string
	BaseDomain      string
	SigningSecret   string
	CallbackBase    string
	AllowCustomHost bool
	AllowInsecure   bool
}

const defaultCallbackBase = "/api/auth/callback"

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	cfg := Server{
		Addr:            envOr("FRAMELIGHT_ADDR", ":8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		BaseDomain:      envOr("BASE_DOMAIN", "localhost"),
		RootTenantSlug:  envOr("ROOT_TENANT_SLUG", "root"),
		SigningSecret:   os.Getenv("GATEWAY_STATE_SECRET"),
		SessionSecret:   envOr("SESSION_SECRET", "dev-secret-key-change-in-production"),
		SessionTTL:      durationOr("SESSION_TTL", 7*24*time.Hour),
		GatewayURL:      os.Getenv("AUTH_GATEWAY_URL"),
		CallbackBase:    envOr("CALLBACK_BASE_PATH", defaultCallbackBase),
		AllowCustomHost: os.Getenv("ALLOW_CUSTOM_TARGET_HOST") == "true",
		ForceHTTPS:      os.Getenv("FORCE_HTTPS") != "false",
	}
	cfg.Providers = providersFromEnv()
	return cfg
}

// GatewayFromEnv builds a Gateway config from environment variables.
func GatewayFromEnv() Gateway {
	return Gateway{
		Addr:            envOr("GATEWAY_ADDR", ":8081"),
		BaseDomain:      envOr("BASE_DOMAIN", "localhost"),
		SigningSecret:   os.Getenv("GATEWAY_STATE_SECRET"),
		CallbackBase:    envOr("CALLBACK_BASE_PATH", defaultCallbackBase),
		AllowCustomHost: os.Getenv("ALLOW_CUSTOM_TARGET_HOST") == "true",
		AllowInsecure:   os.Getenv("ALLOW_INSECURE_REDIRECT") == "true",
	}
}

// providersFromEnv reads OAUTH_<NAME>_CLIENT_ID / OAUTH_<NAME>_CLIENT_SECRET
// pairs for the known social providers. A provider is enabled when both are set.
func providersFromEnv() []Provider {
	var providers []Provider
	for _, name := range []string{"github", "google"} {
		upper := strings.ToUpper(name)
		id := os.Getenv("OAUTH_" + upper + "_CLIENT_ID")
		secret := os.Getenv("OAUTH_" + upper + "_CLIENT_SECRET")
		if id != "" && secret != "" {
			providers = append(providers, Provider{Name: name, ClientID: id, ClientSecret: secret})
		}
	}
	return providers
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
