package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"framelight/internal/gateway"
	"framelight/internal/platform/config"
	"framelight/internal/platform/httpserver"
	"framelight/internal/platform/logger"
	"framelight/internal/platform/middleware"
)

// main runs the stateless callback router. It holds no database connection
// and no per-request state, so any number of replicas can serve the same
// registered callback URL.
func main() {
	cfg := config.GatewayFromEnv()
	log := logger.New()

	if cfg.SigningSecret == "" {
		log.Warn("GATEWAY_STATE_SECRET not set, state verification disabled")
	}

	handler := gateway.NewHandler(gateway.Config{
		BaseDomain:      cfg.BaseDomain,
		SigningSecret:   cfg.SigningSecret,
		CallbackBase:    cfg.CallbackBase,
		AllowCustomHost: cfg.AllowCustomHost,
		AllowInsecure:   cfg.AllowInsecure,
	}, log, gateway.NewMetrics())

	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Timeout(10 * time.Second))
	handler.Register(r)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, r)

	log.Info("starting gateway", "addr", cfg.Addr, "base_domain", cfg.BaseDomain)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	log.Info("shutting down gateway gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("gateway stopped")
}
