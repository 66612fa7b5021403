// Package main is the entry point for the sqlgate HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"sqlgate/internal/api"
	"sqlgate/internal/config"
	"sqlgate/internal/database"
	"sqlgate/internal/gateway"
	"sqlgate/internal/metrics"
	"sqlgate/internal/middleware"
	"sqlgate/internal/policy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn("config", "warning", w)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	store, err := policy.NewStore(cfg.PolicyFile, cfg.PolicyOptions(), logger)
	if err != nil {
		return err
	}
	logger.Info("policy loaded", "path", cfg.PolicyFile, "version", store.Current().Version())

	dialer, err := database.NewPostgresDialer(cfg.Database.Options())
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	gw := gateway.New(store, dialer, gateway.Options{
		Logger:          logger,
		Metrics:         m,
		EnumerableLimit: cfg.EnumerableLimit,
	})

	auth, err := buildAuth(ctx, cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	router := api.NewRouter(ctx, gw, api.RouterConfig{
		Logger:  logger,
		Metrics: m.Handler(),
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
			TrustForwardedFor: cfg.TrustForwardedFor,
		},
		Auth:           auth,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP API listening", "addr", cfg.ListenAddr, "tls", cfg.TLSCertFile != "", "auth", auth.Enabled())
		logger.Info("try: curl " + curlURL(cfg.ListenAddr, cfg.TLSCertFile != "") + "/healthz")
		var err error
		if cfg.TLSCertFile != "" {
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		reloadOnHangup(gctx, store, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// reloadOnHangup re-reads the policy file on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, store *policy.Store, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if p, err := store.Reload(ctx); err != nil {
				logger.Error("policy reload failed", "error", err)
			} else {
				logger.Info("policy reloaded", "version", p.Version())
			}
		}
	}
}

// buildAuth turns the configured credential sources into middleware options.
func buildAuth(ctx context.Context, cfg config.AuthConfig) (middleware.AuthConfig, error) {
	out := middleware.AuthConfig{APIKeys: cfg.APIKeys}
	switch {
	case cfg.OIDCEnabled():
		v, err := middleware.NewOIDCVerifier(ctx, cfg.IssuerURL, cfg.JWKSURL, cfg.Audience)
		if err != nil {
			return middleware.AuthConfig{}, err
		}
		out.Verifier = v
	case cfg.JWTSecret != "":
		v, err := middleware.NewSharedSecretVerifier(cfg.JWTSecret, cfg.JWTIssuer)
		if err != nil {
			return middleware.AuthConfig{}, err
		}
		out.Verifier = v
	}
	return out, nil
}

// curlURL returns a base URL a local operator can reach the listener on.
func curlURL(listenAddr string, tls bool) string {
	scheme := "http"
	if tls {
		scheme = "https"
	}
	return scheme + "://" + curlHostForListenAddr(listenAddr)
}

func curlHostForListenAddr(listenAddr string) string {
	addr := strings.TrimSpace(listenAddr)
	if addr == "" {
		return "localhost:8000"
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
