// Package main runs the local patient API used during portal development.
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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/R3E-Network/patient_portal/internal/config"
	"github.com/R3E-Network/patient_portal/internal/devapi"
)

func main() {
	envFile := flag.String("env", ".env", "Path to an optional .env file")
	flag.Parse()

	cfg, err := config.LoadDevAPI(*envFile)
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, closeStore, err := openStore(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer closeStore()

	issuer, err := devapi.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		logger.Fatal("token issuer", zap.Error(err))
	}

	gin.SetMode(gin.ReleaseMode)
	opts := devapi.Options{
		Store:       store,
		Issuer:      issuer,
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
	}
	if err := devapi.SeedAdmin(context.Background(), devapi.NewServer(opts), cfg.AdminUser, cfg.AdminPassword); err != nil {
		logger.Fatal("seed admin", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           devapi.NewRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("dev api listening", zap.String("addr", cfg.Addr), zap.Bool("postgres", cfg.DatabaseURL != ""))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}

func newLogger(level string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func openStore(ctx context.Context, dsn string) (devapi.Store, func(), error) {
	if dsn == "" {
		return devapi.NewMemoryStore(), func() {}, nil
	}
	store, err := devapi.OpenPostgres(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}
