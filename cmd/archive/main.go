// Command archive lists the NOAA Storm Events catalog, downloads the selected
// details files, keeps the rows of one event type, and stores the combined
// dataset as a local snapshot. With REFRESH_FROM_SOURCE=false it reuses the
// snapshot instead of touching the network.
//
// Exit status is 0 on success, 1 on a fatal error, and 2 when the run
// finished with failed or skipped files.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/storm-events-archive/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/storm-events-archive/internal/adapter/kafka"
	"github.com/couchcryptid/storm-events-archive/internal/adapter/noaa"
	"github.com/couchcryptid/storm-events-archive/internal/adapter/snapshot"
	"github.com/couchcryptid/storm-events-archive/internal/config"
	"github.com/couchcryptid/storm-events-archive/internal/domain"
	"github.com/couchcryptid/storm-events-archive/internal/observability"
	"github.com/couchcryptid/storm-events-archive/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.TracesToStdout)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		return 1
	}

	client := noaa.NewClient(cfg.FetchTimeout, cfg.FetchRetries, cfg.FetchMaxBackoff, logger, metrics)
	catalog := noaa.NewCatalog(client, domain.NamingPolicy{Prefix: cfg.FilePrefix, Extension: cfg.FileExtension})
	fetcher := noaa.NewFetcher(client, cfg.TargetEvent)
	agg := pipeline.NewAggregator(fetcher, pipeline.AggregatorConfig{
		BaseURL:      cfg.CatalogURL,
		Concurrency:  cfg.FetchConcurrency,
		DrainTimeout: cfg.ShutdownTimeout,
	}, logger, metrics)
	store := snapshot.NewStore(cfg.CacheDir, logger)

	var publisher pipeline.Publisher
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		publisher = writer
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaSinkTopic)
	}

	runner := pipeline.NewRunner(catalog, agg, store, publisher, pipeline.RunnerConfig{
		IndexURL: cfg.CatalogURL,
		Years:    cfg.Years,
		MaxFiles: cfg.MaxFiles,
	}, logger, metrics)

	var srv *httpadapter.Server
	if cfg.HTTPAddr != "" {
		srv = httpadapter.NewServer(cfg.HTTPAddr, runner, runner, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	res, runErr := runner.Run(ctx, pipeline.RunOptions{
		RefreshFromSource: cfg.RefreshFromSource,
		PersistToCache:    cfg.PersistToCache,
		CacheName:         cfg.CacheName,
		AllowPartial:      cfg.CacheAllowPartial,
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	shutdown(shutdownCtx, logger, srv, writer, shutdownTracing)

	if runErr != nil {
		logger.Error("run failed", "error", runErr)
		return 1
	}
	return exitCode(res, logger)
}

func exitCode(res pipeline.RunResult, logger *slog.Logger) int {
	code := 0
	for _, f := range res.Failures {
		logger.Warn("file not included", "file", f.ID, "error", f.Err)
		code = 2
	}
	if len(res.Pending) > 0 {
		logger.Warn("files never fetched", "files", res.Pending)
		code = 2
	}
	for _, o := range res.Outcomes {
		if o.Kind != pipeline.OutcomeFailed && o.Stats.RowsSkipped > 0 {
			logger.Warn("undecodable rows dropped", "file", o.ID, "rows_skipped", o.Stats.RowsSkipped)
		}
	}
	if res.CacheErr != nil {
		logger.Warn("dataset not cached", "error", res.CacheErr)
		code = 2
	}
	return code
}

func shutdown(ctx context.Context, logger *slog.Logger, srv *httpadapter.Server, writer *kafkaadapter.Writer, tracing func(context.Context) error) {
	start := time.Now()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := tracing(ctx); err != nil {
		logger.Error("tracing shutdown error", "error", err)
	}
	logger.Info("shutdown complete", "duration", time.Since(start))
}
