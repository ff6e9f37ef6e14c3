package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	httpadapter "github.com/climbox/telemetry-engine/internal/adapter/http"
	kafkaadapter "github.com/climbox/telemetry-engine/internal/adapter/kafka"
	mqttadapter "github.com/climbox/telemetry-engine/internal/adapter/mqtt"
	"github.com/climbox/telemetry-engine/internal/adapter/sheets"
	"github.com/climbox/telemetry-engine/internal/alert"
	"github.com/climbox/telemetry-engine/internal/config"
	"github.com/climbox/telemetry-engine/internal/domain"
	"github.com/climbox/telemetry-engine/internal/observability"
	"github.com/climbox/telemetry-engine/internal/reconcile"
	"github.com/climbox/telemetry-engine/internal/store"
	"github.com/climbox/telemetry-engine/internal/thresholds"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache, err := store.NewFileCache(cfg.CacheDir, logger, clock)
	if err != nil {
		logger.Error("failed to open cache dir", "dir", cfg.CacheDir, "error", err)
		os.Exit(1)
	}

	// Threshold source: Postgres when a database is configured, otherwise
	// the static env-provided defaults.
	var source alert.ThresholdSource
	if cfg.DatabaseURL != "" {
		pool, err := thresholds.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect threshold database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := thresholds.RunMigrations(ctx, pool); err != nil {
			logger.Error("failed to run threshold migrations", "error", err)
			os.Exit(1)
		}
		source = thresholds.NewPostgres(pool)
		logger.Info("thresholds from postgres")
	} else {
		defaults, err := thresholds.ParseDefaults(cfg.ThresholdDefaults)
		if err != nil {
			logger.Error("invalid THRESHOLD_DEFAULTS", "error", err)
			os.Exit(1)
		}
		source = thresholds.NewStatic(defaults, nil)
		logger.Info("thresholds from env defaults", "fields", len(defaults))
	}

	// Alert sink: Kafka when brokers are configured, otherwise alerts are
	// only logged and surfaced through the ingest response.
	var sink alert.Sink
	if len(cfg.KafkaBrokers) > 0 {
		writer := kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaAlertsTopic, logger)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		sink = writer
		logger.Info("alerts to kafka", "topic", cfg.KafkaAlertsTopic)
	} else {
		logger.Info("kafka alert sink disabled")
	}

	evaluator := alert.New(source, sink, logger, metrics, clock)
	canon := domain.NewCanonicalizer(logger, cfg.AliasFallback)
	locations := reconcile.NewStore(cfg.HistoryBufferSize)
	rec := reconcile.New(locations, canon, cache, evaluator, logger, metrics, clock)

	// Cold start: serve the last cached state until a feed produces data.
	for _, loc := range cfg.LocationIDs {
		if err := rec.Bootstrap(ctx, loc); err != nil {
			logger.Warn("cache bootstrap failed", "location", loc, "error", err)
		}
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, rec, rec, locations, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	if cfg.SheetURLTemplate != "" {
		client := sheets.NewClient(cfg.SheetURLTemplate, cfg.SheetNamePattern,
			cfg.SheetNameOverride, cfg.SheetNameFallback, cfg.HistoryFetchTimeout, logger)
		refresher := sheets.NewRefresher(client, rec, logger, metrics, clock,
			cfg.HistoryRefreshInterval, cfg.HistoryFetchTimeout)
		go func() {
			if err := refresher.Run(ctx, cfg.LocationIDs); err != nil {
				logger.Error("history refresher error", "error", err)
			}
		}()
	} else {
		logger.Info("history refresh disabled, no SHEET_URL configured")
	}

	subscriber := mqttadapter.NewSubscriber(mqttadapter.Config{
		BrokerURL:       cfg.MQTTBrokerURL,
		ClientID:        cfg.MQTTClientID,
		Username:        cfg.MQTTUsername,
		Password:        cfg.MQTTPassword,
		TopicBase:       cfg.MQTTTopicBase,
		Locations:       cfg.LocationIDs,
		Wildcard:        cfg.MQTTWildcard,
		ReconnectPeriod: cfg.MQTTReconnectPeriod,
	}, rec, logger, metrics)
	go func() {
		if err := subscriber.Run(ctx); err != nil {
			logger.Error("mqtt subscriber error", "error", err)
		}
	}()

	metrics.EngineRunning.Set(1)
	logger.Info("engine started", "locations", cfg.LocationIDs)

	<-ctx.Done()
	logger.Info("shutting down")
	metrics.EngineRunning.Set(0)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	// Let queued cache writes reach disk before exiting.
	rec.Flush()

	logger.Info("shutdown complete")
}
