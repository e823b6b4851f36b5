// Package main runs the patient portal web console.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/patient_portal/internal/api"
	"github.com/R3E-Network/patient_portal/internal/config"
	"github.com/R3E-Network/patient_portal/internal/logging"
	"github.com/R3E-Network/patient_portal/internal/metrics"
	"github.com/R3E-Network/patient_portal/internal/middleware"
	"github.com/R3E-Network/patient_portal/internal/ops"
	"github.com/R3E-Network/patient_portal/internal/session"
	"github.com/R3E-Network/patient_portal/internal/storage"
	"github.com/R3E-Network/patient_portal/internal/storage/memory"
	"github.com/R3E-Network/patient_portal/internal/storage/redis"
	"github.com/R3E-Network/patient_portal/internal/web"
)

var version = "dev"

func main() {
	envFile := flag.String("env", ".env", "Path to an optional .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logging.Default().WithError(err).Fatal("Failed to load configuration")
	}
	logger := logging.New(web.ServiceName, cfg.LogLevel, cfg.LogFormat)
	m := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tokens, err := openTokenStore(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open token storage")
	}
	defer tokens.Close()

	client, err := newAPIClient(cfg, m, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create API client")
	}

	registry, err := session.NewRegistry(session.RegistryConfig{
		Client:  client,
		Store:   tokens,
		Logger:  logger,
		Metrics: m,
		IdleTTL: cfg.SessionIdleTTL,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create session registry")
	}
	defer registry.Close()

	limiter := middleware.NewRateLimiter(cfg.LoginRPS, cfg.LoginBurst, logger)

	scheduler := cron.New()
	if _, err := registry.ScheduleSweep(scheduler, cfg.SweepSchedule); err != nil {
		logger.WithError(err).Fatal("Invalid PORTAL_SWEEP_SCHEDULE")
	}
	if _, err := limiter.ScheduleCleanup(scheduler, cfg.SweepSchedule); err != nil {
		logger.WithError(err).Fatal("Invalid PORTAL_SWEEP_SCHEDULE")
	}
	scheduler.Start()
	defer scheduler.Stop()

	hashKey, blockKey, generated, err := cfg.CookieKeys()
	if err != nil {
		logger.WithError(err).Fatal("Invalid cookie keys")
	}
	if generated {
		logger.Warn("PORTAL_COOKIE_HASH_KEY or PORTAL_COOKIE_BLOCK_KEY unset; browser cookies will not survive a restart")
	}

	router, err := web.NewRouter(web.Config{
		Registry:          registry,
		Logger:            logger,
		Metrics:           m,
		CredentialLimiter: limiter,
		Cookies:           middleware.NewCookieStore(hashKey, blockKey, cfg.CookieSecure),
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to build console router")
	}

	servers := []*http.Server{
		{
			Addr:              cfg.ListenAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		{
			Addr: cfg.OpsAddr,
			Handler: ops.NewRouter(ops.Config{
				Service: web.ServiceName,
				Version: version,
				Metrics: m,
				Logger:  logger,
				Checks:  map[string]ops.Pinger{"token_storage": tokens},
			}),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.WithField("addr", srv.Addr).Info("Listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).WithField("addr", srv.Addr).Fatal("Server error")
			}
		}(srv)
	}
	logger.WithField("mode", cfg.Mode).WithField("api", client.BaseURL()).Info("Patient portal started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).WithField("addr", srv.Addr).Error("Server shutdown error")
		}
	}
}

func openTokenStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.StorageBackend == config.StorageRedis {
		return redis.New(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.TokenTTL,
		})
	}
	return memory.New(), nil
}

// newAPIClient builds the template client every session clones. In
// development mode requests use relative paths routed by the proxy table.
func newAPIClient(cfg *config.Config, m *metrics.Metrics, logger *logging.Logger) (*api.Client, error) {
	httpClient := &http.Client{}
	baseURL := api.ResolveBaseURL(cfg.Mode, cfg.APIURL)
	if baseURL == "" {
		table := config.LoadProxyTableOrDefault(cfg.DevProxyFile, cfg.DevProxyTarget)
		transport, err := api.NewProxyTransport(table, nil)
		if err != nil {
			return nil, err
		}
		httpClient.Transport = transport
		for _, route := range table.Routes {
			logger.WithField("prefix", route.Prefix).WithField("target", route.Target).Info("Dev proxy route")
		}
	}

	return api.New(api.Config{
		BaseURL:    baseURL,
		HTTPClient: httpClient,
		Observer:   m.RecordAPICall,
	})
}
