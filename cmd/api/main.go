package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/wolfman30/physio-messaging/cmd/mainconfig"
	"github.com/wolfman30/physio-messaging/internal/app/bootstrap"
	"github.com/wolfman30/physio-messaging/internal/app/core"
	appconfig "github.com/wolfman30/physio-messaging/internal/config"
	"github.com/wolfman30/physio-messaging/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting physio messaging API",
		"env", cfg.Env,
		"port", cfg.Port,
		"store", cfg.StoreBackend,
	)

	ctx := context.Background()
	svc, cleanup, err := buildService(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build service", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := svc.Load(ctx); err != nil {
		logger.Error("failed to restore persisted state", "error", err)
		cleanup()
		os.Exit(1)
	}
	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		cleanup()
		os.Exit(1)
	}

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: svc.Handler(core.HTTPOptions{
			CORSAllowedOrigins: cfg.CORSAllowedOrigins,
			WebhookRateLimit:   cfg.WebhookRateLimit,
			WebhookRateBurst:   cfg.WebhookRateBurst,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown", "error", err)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// buildService assembles the messaging core from configuration. The returned
// cleanup closes the store and directory connections.
func buildService(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*core.Service, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*core.Service, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	var awsCfg *aws.Config
	if bootstrap.NeedsAWS(cfg) {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return fail(fmt.Errorf("load aws config: %w", err))
		}
		awsCfg = &loaded
	}

	st, closeStore, err := bootstrap.BuildStore(ctx, cfg, awsCfg, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeStore)

	directory, closeDirectory, err := bootstrap.BuildDirectory(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeDirectory)

	sink, err := bootstrap.BuildHandoff(cfg, awsCfg, logger)
	if err != nil {
		return fail(err)
	}
	rules, err := bootstrap.LoadChatbotRules(cfg, logger)
	if err != nil {
		return fail(err)
	}

	loc, err := time.LoadLocation(cfg.AnalyticsTimezone)
	if err != nil {
		return fail(fmt.Errorf("analytics timezone %q: %w", cfg.AnalyticsTimezone, err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc, err := core.New(core.Deps{
		Gateway:   bootstrap.BuildGateway(cfg, logger),
		Store:     st,
		Directory: directory,
		Handoff:   sink,
		Rules:     rules,
		Registry:  registry,
	}, core.Options{
		GatewayTimeout:      cfg.GatewayTimeout,
		DispatchInterval:    cfg.DispatchInterval,
		FlushInterval:       cfg.AnalyticsFlushInterval,
		DispatchConcurrency: cfg.DispatchConcurrency,
		Location:            loc,
		DefaultLocale:       cfg.DefaultLocale,
		WebhookVerifyToken:  cfg.WhatsAppVerifyToken,
		WebhookAppSecret:    cfg.WhatsAppAppSecret,
	}, logger)
	if err != nil {
		return fail(err)
	}
	return svc, cleanup, nil
}
