package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pobradovic08/appserver/internal/admin"
	"github.com/pobradovic08/appserver/internal/api"
	"github.com/pobradovic08/appserver/internal/config"
	"github.com/pobradovic08/appserver/internal/grpcserver"
	"github.com/pobradovic08/appserver/internal/metrics"
	"github.com/pobradovic08/appserver/internal/openapi"
	"github.com/pobradovic08/appserver/internal/ratelimit"
	"github.com/pobradovic08/appserver/internal/tlsutil"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level, _ := cfg.Log.SlogLevel()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	if err := run(cfg); err != nil {
		slog.Error("appserver exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("appserver stopped gracefully")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.New()

	var certLoader *tlsutil.CertificateLoader
	if cfg.TLS.Enabled() {
		var err error
		certLoader, err = tlsutil.NewCertificateLoader(cfg.TLS.Cert, cfg.TLS.Key)
		if err != nil {
			return fmt.Errorf("load TLS certificate: %w", err)
		}
		defer certLoader.Close()
	}

	adminHandler, err := newAdmin(ctx, cfg, collector)
	if err != nil {
		return err
	}
	if adminHandler != nil {
		defer adminHandler.limiter.Close()
	}

	adminH := admin.Disabled()
	if adminHandler != nil {
		adminH = adminHandler.Admin
	}
	routes := api.Routes(adminH, cfg.Admin.Prefix)
	if adminHandler != nil {
		adminHandler.SetRoutes(routes)
	}

	httpServer := api.NewServer(api.ServerDeps{
		Handler:      api.NewRouter(routes, collector),
		ListenAddr:   cfg.Server.ListenAddr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		CertLoader:   certLoader,
	})

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", collector.Handler())
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: cfg.Server.ReadTimeout,
		}
	}

	var grpcSrv *grpcserver.Server
	if cfg.GRPC.Enabled {
		grpcSrv = grpcserver.NewServer(grpcserver.ServerDeps{
			ListenAddr: cfg.GRPC.ListenAddr,
			CertLoader: certLoader,
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(httpServer.Start)
	if metricsServer != nil {
		g.Go(func() error {
			slog.Info("starting metrics server", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	if grpcSrv != nil {
		g.Go(grpcSrv.Start)
	}

	slog.Info("appserver running",
		"addr", cfg.Server.ListenAddr,
		"tls", certLoader != nil,
		"admin", adminHandler != nil,
		"metrics", cfg.Metrics.Enabled,
		"grpc", cfg.GRPC.Enabled,
	)

	// Shut everything down once a signal arrives or any server fails.
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			slog.Info("received shutdown signal")
		}
		return shutdown(cfg.Server.ShutdownTimeout, httpServer, metricsServer, grpcSrv)
	})

	return g.Wait()
}

// shutdown drains the servers in order: the health probe flips to
// NOT_SERVING first so load balancers stop routing before HTTP closes.
func shutdown(timeout time.Duration, httpServer *api.Server, metricsServer *http.Server, grpcSrv *grpcserver.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if grpcSrv != nil {
		grpcSrv.SetServing(false)
	}

	var errs []error
	if err := httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
		}
	}
	if grpcSrv != nil {
		grpcSrv.Shutdown(ctx)
	}
	return errors.Join(errs...)
}

type adminHandle struct {
	*admin.Admin
	limiter *ratelimit.Limiter
}

// newAdmin builds the admin interface, or returns nil when it is disabled.
func newAdmin(ctx context.Context, cfg *config.Config, collector *metrics.Collector) (*adminHandle, error) {
	if !cfg.Admin.Enabled {
		return nil, nil
	}

	doc, err := openapi.Load(ctx)
	if err != nil {
		return nil, err
	}

	limiter, err := ratelimit.New(ratelimit.Options{
		RequestsPerInterval: cfg.RateLimit.RequestsPerInterval,
		Interval:            cfg.RateLimit.Interval,
		CleanupInterval:     cfg.RateLimit.CleanupInterval,
		StaleAfter:          cfg.RateLimit.StaleAfter,
		TrustedProxies:      cfg.RateLimit.TrustedProxies,
		OnReject:            func(string) { collector.IncRateLimitRejectionsTotal() },
	})
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}

	a, err := admin.New(admin.Deps{
		Prefix:      cfg.Admin.Prefix,
		Username:    cfg.Admin.Username,
		Password:    cfg.Admin.Password,
		TokenSecret: []byte(cfg.Admin.TokenSecret),
		TokenTTL:    cfg.Admin.TokenTTL,
		Config:      cfg.Redacted(),
		OpenAPI:     doc,
		RateLimiter: limiter,
		Metrics:     collector,
	})
	if err != nil {
		limiter.Close()
		return nil, fmt.Errorf("create admin interface: %w", err)
	}
	return &adminHandle{Admin: a, limiter: limiter}, nil
}
