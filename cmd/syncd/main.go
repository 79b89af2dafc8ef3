package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"pharmsync/internal/api"
	"pharmsync/internal/app"
	"pharmsync/internal/config"
	"pharmsync/internal/database"
	"pharmsync/internal/google"
	"pharmsync/internal/logging"
	"pharmsync/internal/metrics"
	"pharmsync/internal/notify"
	"pharmsync/internal/scheduler"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer a.Close()

	startNotifier(cfg, a, &logger)
	startMetrics(ctx, cfg, &logger)

	var wg sync.WaitGroup
	if sheetsSvc := newStatusSheet(ctx, cfg, a, &logger); sheetsSvc != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sheetsSvc.Start(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Queue.Start(ctx)
	}()

	if cfg.Backup.Enabled {
		backup := database.NewBackupService(a.DB, cfg.Backup, &logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			backup.Start(ctx)
		}()
	}

	cron := scheduler.NewRunner(a.Scheduler, a.Intervals(), &logger)
	cron.Start(ctx)

	var httpServer *api.HTTPServer
	if cfg.API.Enabled && cfg.API.HTTP.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, a.Scheduler, a.DB, &logger)
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	var grpcHealth *api.GRPCHealthServer
	if cfg.API.Enabled && cfg.API.GRPC.Enabled {
		grpcHealth, err = api.NewGRPCHealthServer(cfg.API.GRPC, a.DB, &logger)
		if err != nil {
			return err
		}
		go func() {
			if err := grpcHealth.Serve(ctx); err != nil {
				logger.Error().Err(err).Msg("grpc health server stopped")
			}
		}()
	}

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Int("cron_entities", len(a.Intervals())).Msg("sync daemon started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}
	if grpcHealth != nil {
		grpcHealth.Shutdown(shutdownCtx)
	}
	cron.Wait()
	wg.Wait()

	logger.Info().Msg("sync daemon stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "syncd").Logger()

	return cfg, logger, closer, nil
}

func startNotifier(cfg *config.Config, a *app.App, logger *zerolog.Logger) {
	if !cfg.Notify.Enabled {
		return
	}
	bot, err := notify.NewBotSender(cfg.Notify.BotToken)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without notifications")
		return
	}
	notify.NewNotifier(bot, cfg.Notify.ChatIDs, logger).Subscribe(a.Events)
	logger.Info().Int("chats", len(cfg.Notify.ChatIDs)).Msg("telegram notifications enabled")
}

func newStatusSheet(ctx context.Context, cfg *config.Config, a *app.App, logger *zerolog.Logger) *google.SheetsService {
	if !cfg.Sheets.Enabled {
		return nil
	}
	svc, err := google.NewSheetsService(ctx, cfg.Sheets.CredentialsFile, cfg.Sheets.SpreadsheetID, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("sheets init failed, continuing without status sheet")
		return nil
	}
	if err := svc.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("status sheet unreachable at startup")
	}
	svc.Subscribe(a.Events)
	logger.Info().Str("spreadsheet_id", cfg.Sheets.SpreadsheetID).Msg("status sheet enabled")
	return svc
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
