package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"customdomains/internal/auth"
	"customdomains/internal/cloudflare"
	"customdomains/internal/config"
	"customdomains/internal/database"
	"customdomains/internal/handler"
	"customdomains/internal/metrics"
	"customdomains/internal/provision"
	"customdomains/internal/registrar"
	_ "customdomains/internal/registrar/providers"
	"customdomains/internal/service"
	"customdomains/internal/util"
	"customdomains/web"
)

const shutdownTimeout = 30 * time.Second

// NewProvisioner wires the Cloudflare client and the configured registrar
// into a Provisioner.
func NewProvisioner(cfg *config.Config, log *zap.Logger, m *metrics.Metrics) (*provision.Provisioner, error) {
	httpClient := util.NewHTTPClient(cfg.Provisioning.RequestTimeout, cfg.HTTP.Dump, log.Named("http"))

	cf, err := cloudflare.New(cloudflare.Settings{
		APIToken:  cfg.Cloudflare.APIToken,
		AccountID: cfg.Cloudflare.AccountID,
		BaseURL:   cfg.Cloudflare.BaseURL,
	}, httpClient, log.Named("cloudflare"))
	if err != nil {
		return nil, err
	}

	reg, err := registrar.New(cfg.Registrar.Provider, log.Named("registrar"), httpClient, cfg.Registrar.Settings)
	if err != nil {
		return nil, err
	}

	return provision.New(cf, reg, provision.Options{
		RouteTarget:   cfg.Cloudflare.WorkerScript,
		PlaceholderIP: cfg.Cloudflare.PlaceholderIP,
		Logger:        log.Named("provision"),
		Metrics:       m,
	})
}

// Start runs the HTTP server and the retry sweeper until ctx is canceled,
// then shuts both down and waits for in-flight provisioning runs.
func Start(ctx context.Context, cfg *config.Config, log *zap.Logger, version string) error {
	if err := cfg.ValidateServer(); err != nil {
		return err
	}
	tokenAuth, err := auth.NewTokenAuth(cfg.Admin.TokenHash)
	if err != nil {
		return err
	}

	db, err := database.Open(ctx, cfg.Database.DSN, web.MigrationsFS(), log.Named("database"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	prov, err := NewProvisioner(cfg, log, m)
	if err != nil {
		return fmt.Errorf("failed to init provisioner: %w", err)
	}

	fulfiller := service.NewFulfillmentService(db, prov, cfg.Provisioning.RunTimeout, log.Named("fulfillment"), m)
	sweeper := service.NewSweeper(db, fulfiller, service.SweeperOptions{
		Interval:    cfg.Provisioning.SweepInterval,
		Concurrency: cfg.Provisioning.Concurrency,
		MaxAttempts: cfg.Provisioning.MaxAttempts,
		RetryAfter:  cfg.Provisioning.RetryAfter,
	}, log.Named("sweeper"))

	webhookH := handler.NewWebhookHandler(cfg.Stripe.WebhookSecret, db, fulfiller, log.Named("webhook"), m)
	orderH := handler.NewOrderHandler(db, fulfiller, log.Named("api"))
	auditH := handler.NewAuditHandler(db, log.Named("api"))

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", handler.Healthz(db))
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("POST /webhooks/stripe", webhookH.Stripe)

	mux.HandleFunc("POST /api/orders", tokenAuth.RequireToken(orderH.Create))
	mux.HandleFunc("GET /api/orders", tokenAuth.RequireToken(orderH.List))
	mux.HandleFunc("GET /api/orders/{id}", tokenAuth.RequireToken(orderH.Get))
	mux.HandleFunc("POST /api/orders/{id}/retry", tokenAuth.RequireToken(orderH.Retry))
	mux.HandleFunc("GET /api/audit", tokenAuth.RequireToken(auditH.List))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		log.Info("server starting", zap.String("addr", addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if ferr := fulfiller.Shutdown(shutdownCtx); ferr != nil {
			log.Warn("background provisioning runs still active at shutdown", zap.Error(ferr))
		}
		return err
	})
	return g.Wait()
}

// ProvisionOnce provisions a single domain without the database or the
// HTTP server. It needs only the provisioning settings.
func ProvisionOnce(ctx context.Context, cfg *config.Config, log *zap.Logger, domain string) (provision.Result, error) {
	prov, err := NewProvisioner(cfg, log, nil)
	if err != nil {
		return provision.Result{}, err
	}
	if cfg.Provisioning.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Provisioning.RunTimeout)
		defer cancel()
	}
	return prov.ProvisionDomain(ctx, domain)
}
