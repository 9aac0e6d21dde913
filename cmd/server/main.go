package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"framelight/internal/auth/instance"
	"framelight/internal/auth/runtime"
	authStore "framelight/internal/auth/store"
	"framelight/internal/platform/config"
	"framelight/internal/platform/database"
	"framelight/internal/platform/httpserver"
	"framelight/internal/platform/logger"
	"framelight/internal/registration"
	tenantMetrics "framelight/internal/tenant/metrics"
	"framelight/internal/tenant/resolver"
	tenantStore "framelight/internal/tenant/store"
	httptransport "framelight/internal/transport/http"
	"framelight/migrations"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing framelight server",
		"addr", cfg.Addr,
		"base_domain", cfg.BaseDomain,
		"providers", len(cfg.Providers),
	)

	var (
		tenants  tenantStore.Store
		identity authStore.Adapter
		pool     *database.Pool
	)
	if cfg.DatabaseURL != "" {
		poolCfg := database.DefaultConfig()
		poolCfg.URL = cfg.DatabaseURL
		var err error
		pool, err = database.New(poolCfg)
		if err != nil {
			log.Error("database connection failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := migrations.Apply(migrateCtx, pool.DB()); err != nil {
			cancel()
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		cancel()

		tenants = tenantStore.NewPostgres(pool.DB())
		identity = authStore.NewPostgres(pool.DB())
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		tenants = tenantStore.NewInMemory()
		identity = authStore.NewInMemory()
	}

	metrics := tenantMetrics.New()
	res := resolver.New(tenants, resolver.Config{
		BaseDomain:     cfg.BaseDomain,
		RootTenantSlug: cfg.RootTenantSlug,
		SigningSecret:  cfg.SigningSecret,
		CallbackBase:   cfg.CallbackBase,
	}, log, metrics)

	providers := make([]runtime.ProviderCredentials, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers = append(providers, runtime.ProviderCredentials{
			Name:         p.Name,
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
		})
	}
	instances := instance.New(instance.Config{
		BaseDomain:      cfg.BaseDomain,
		GatewayURL:      cfg.GatewayURL,
		CallbackBase:    cfg.CallbackBase,
		SigningSecret:   cfg.SigningSecret,
		SessionSecret:   cfg.SessionSecret,
		SessionTTL:      cfg.SessionTTL,
		AllowCustomHost: cfg.AllowCustomHost,
		Providers:       providers,
	}, tenants, identity, log)

	registrar := registration.New(tenants, identity, metrics, log)

	handler := httptransport.NewHandler(instances, res, registrar, cfg.ForceHTTPS, log)
	if pool != nil {
		handler.RegisterHealthCheck("database", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Health(ctx)
		})
	}
	router := httptransport.NewRouter(handler, log)

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting http server", "addr", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown on SIGINT
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	log.Info("shutting down server gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
