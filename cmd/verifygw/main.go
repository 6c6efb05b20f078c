package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	verifygw "github.com/ferro-labs/verifygw"
	"github.com/ferro-labs/verifygw/internal/api"
	"github.com/ferro-labs/verifygw/internal/auth"
	"github.com/ferro-labs/verifygw/internal/chat"
	"github.com/ferro-labs/verifygw/internal/coordinator"
	"github.com/ferro-labs/verifygw/internal/kv"
	"github.com/ferro-labs/verifygw/internal/logging"
	"github.com/ferro-labs/verifygw/internal/metrics"
	"github.com/ferro-labs/verifygw/internal/policy"
	"github.com/ferro-labs/verifygw/internal/ratelimit"
	"github.com/ferro-labs/verifygw/internal/store"
	"github.com/ferro-labs/verifygw/internal/verification"
	"github.com/ferro-labs/verifygw/internal/version"
)

func main() {
	if err := run(); err != nil {
		logging.Logger.Error("verifygw exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config from VERIFYGW_CONFIG when set, else defaults plus env.
	cfg, err := verifygw.Load(os.Getenv("VERIFYGW_CONFIG"))
	if err != nil {
		return err
	}
	if err := verifygw.ValidateConfig(*cfg); err != nil {
		return err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	log := logging.Logger

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close()

	if app.limiter != nil {
		go pruneLimiter(ctx, app.limiter)
	}

	addr := ":" + strconv.Itoa(cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Info("verifygw listening",
		"version", version.Short(),
		"addr", addr,
		"cache", cfg.Cache.Backend,
		"database", cfg.Database.Driver,
		"providers", len(cfg.Providers),
		"classifier", cfg.Chat.Classifier,
		"auth", cfg.Auth.JWTSecret != "")
	if err := serve(ctx, srv, ln, time.Duration(cfg.Server.ShutdownSeconds)*time.Second); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

// serve runs srv on ln until ctx is cancelled, then shuts it down. It returns
// only after Shutdown has drained in-flight requests, so callers may release
// stores once it returns.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, timeout time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		logging.Logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Logger.Error("shutdown error", "error", err)
		}
	}()

	err := srv.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		cancel()
		<-drained
		return err
	}
	<-drained
	return nil
}

type app struct {
	handler http.Handler
	limiter *ratelimit.Store
	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logging.Logger.Warn("close failed", "error", err)
		}
	}
}

// build wires every component from cfg.
func build(ctx context.Context, cfg *verifygw.Config) (*app, error) {
	a := &app{}
	checks := map[string]api.HealthCheck{}

	cache, err := newKV(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	if c, ok := cache.(kv.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	if p, ok := cache.(pinger); ok {
		checks["cache"] = p.Ping
	}

	db, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	checks["database"] = db.Ping

	registry, err := newProviders(cfg.Providers, cfg.DefaultProvider)
	if err != nil {
		a.close()
		return nil, err
	}
	for _, name := range registry.List() {
		c, _ := registry.Get(name)
		if p, ok := c.(pinger); ok {
			checks["provider_"+name] = p.Ping
		}
	}

	completer, err := newCompleter(ctx, cfg.Chat)
	if err != nil {
		a.close()
		return nil, err
	}

	coord := coordinator.New(cache,
		coordinator.WithDefaultTTL(cfg.Cache.DefaultTTL()),
		coordinator.WithKeySecret(cfg.Cache.KeySecret),
		coordinator.WithObserver(metrics.CacheObserver{}),
	)
	policies := policy.NewService(coord, registry, db, 0)
	srv := &api.Server{
		Verifications: verification.NewService(coord, registry, db, 0),
		Policies:      policies,
		Chat: chat.NewService(
			chat.NewClassifier(completer),
			chat.NewSessions(cache, cfg.Chat.SessionTTL()),
			policies,
			db,
		),
		Cache:    coord,
		Accounts: auth.NewAccounts(db, cfg.Auth.JWTSecret),
		Audit:    db,
		Checks:   checks,
	}

	if cfg.RateLimit.Enabled {
		a.limiter = ratelimit.NewStore(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)
	if !verifier.Enabled() {
		logging.Logger.Warn("JWT_SECRET is not set; API authentication is disabled")
	}
	a.handler = srv.Handler(api.Options{
		Auth:        verifier,
		RateLimit:   a.limiter,
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	return a, nil
}

// pruneLimiter drops rate-limit buckets of callers idle for ten minutes.
func pruneLimiter(ctx context.Context, limiter *ratelimit.Store) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Prune(10 * time.Minute); n > 0 {
				logging.Logger.Debug("pruned idle rate limiters", "count", n)
			}
		}
	}
}
