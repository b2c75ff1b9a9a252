// Command ubl runs the policy evaluation and effect-application kernel's
// HTTP server: it loads configuration and key material, opens the durable
// ledger, optionally applies a startup policy bundle, and serves the seven
// wire endpoints until an interrupt or terminate signal arrives.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loglinehq/ubl/pkg/api"
	"github.com/loglinehq/ubl/pkg/audit"
	"github.com/loglinehq/ubl/pkg/blobstore"
	"github.com/loglinehq/ubl/pkg/cache"
	"github.com/loglinehq/ubl/pkg/config"
	"github.com/loglinehq/ubl/pkg/crypto"
	"github.com/loglinehq/ubl/pkg/ledger"
	"github.com/loglinehq/ubl/pkg/observability"
	"github.com/loglinehq/ubl/pkg/policybundle"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()
	configureLogging(cfg.LogLevel)

	keys := crypto.KeyMaterialFromEnv()

	l, err := ledger.Open(cfg.LedgerPath, keys)
	if err != nil {
		slog.Error("failed to open ledger", "path", cfg.LedgerPath, "error", err)
		return 1
	}

	if err := policybundle.ApplyPath(l, cfg.PolicyBundlePath); err != nil {
		slog.Error("failed to apply policy bundle", "path", cfg.PolicyBundlePath, "error", err)
		return 1
	}

	if cfg.AuditDSN != "" {
		mirror, err := audit.Open(cfg.AuditDSN)
		if err != nil {
			slog.Error("failed to open audit mirror", "error", err)
			return 1
		}
		defer mirror.Close()
		l.SetAuditMirror(mirror)
	}

	ctxBackground := context.Background()
	blobs, err := blobstore.Open(ctxBackground, cfg.BlobBackend, cfg.BlobBucket)
	if err != nil {
		slog.Error("failed to open blob store", "error", err)
		return 1
	}
	if blobs != nil {
		l.SetBlobStore(blobs, int(cfg.BlobOffloadBytes))
	}

	registryCache := cache.New(cfg.RedisAddr)
	defer registryCache.Close()

	otelConfig := observability.DefaultConfig()
	otelConfig.Enabled = cfg.OtelEnabled
	if cfg.OtelEndpoint != "" {
		otelConfig.OTLPEndpoint = cfg.OtelEndpoint
	}
	otelConfig.Environment = cfg.OtelEnvironment
	otelConfig.Insecure = true
	obs, err := observability.New(ctxBackground, otelConfig)
	if err != nil {
		slog.Error("failed to init observability", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	srv := &api.Server{Ledger: l, Keys: keys, APIKey: cfg.APIKey, Cache: registryCache, Observability: obs}
	limiter := api.NewGlobalRateLimiter(int(cfg.RateLimitRPS), cfg.RateLimitBurst)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Mux(limiter),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("ubl kernel starting", "addr", httpServer.Addr, "ledger", cfg.LedgerPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[ubl] server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	slog.Info("ubl kernel shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)

	return 0
}

func configureLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
