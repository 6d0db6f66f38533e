package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/statkit/statkit/internal/aggregator"
	corecfg "github.com/statkit/statkit/internal/core/config"
	"github.com/statkit/statkit/internal/core/storage/postgres"
	"github.com/statkit/statkit/internal/ingestion"
	"github.com/statkit/statkit/internal/ingestion/queue"
	"github.com/statkit/statkit/internal/migrations"
	"github.com/statkit/statkit/internal/projection"
	"github.com/statkit/statkit/internal/schema"
	schemaapi "github.com/statkit/statkit/internal/schema/api"
	"github.com/statkit/statkit/internal/schema/formats/protobuf"
	"github.com/statkit/statkit/internal/schema/formats/yaml"
	schemaStorage "github.com/statkit/statkit/internal/schema/storage"
	"github.com/statkit/statkit/internal/server"
)

func main() {
	configPath := flag.String("config", "statkit.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	streams := cfg.StreamLoading.Registry
	slog.Info("Loaded config",
		"config_path", *configPath,
		"streams", len(streams.Events()),
		"aggregations", len(streams.Aggregations()),
	)

	cronInterval, err := time.ParseDuration(cfg.Aggregator.CronInterval)
	if err != nil {
		slog.Error("Invalid aggregator interval", "value", cfg.Aggregator.CronInterval, "error", err)
		os.Exit(1)
	}

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		streams,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}
	if err := dbAdapter.ValidateSchema(); err != nil {
		slog.Error("Schema validation failed - did you run migrations?", "error", err)
		os.Exit(1)
	}

	statsStore := postgres.NewStatsAdapter(dbAdapter.DB())
	bookmarkStore := postgres.NewBookmarkAdapter(dbAdapter.DB())

	// 3. Initialize Schema Registry
	var schemaRepo schemaStorage.Repository
	if cfg.Schema.SourceType == "filesystem" {
		schemaRepo = schemaStorage.NewFileSystemRepository(cfg.Schema.Path)
	} else {
		slog.Error("Unsupported schema source type", "type", cfg.Schema.SourceType)
		os.Exit(1)
	}

	registry := schema.NewRegistry(schemaRepo)

	formatRegistry := schema.NewFormatRegistry()
	formatRegistry.RegisterFormat(schema.FormatProtobuf, protobuf.NewCompiler(), protobuf.NewValidator())
	formatRegistry.RegisterFormat(schema.FormatYaml, yaml.NewCompiler(), yaml.NewValidator())

	validator := schema.NewValidator(formatRegistry)

	// 4. Initialize Aggregator (cron-based bucket recounts)
	scheduler := aggregator.NewScheduler(
		cronInterval,
		streams,
		aggregator.Deps{
			Events:    dbAdapter,
			Stats:     statsStore,
			Bookmarks: bookmarkStore,
			Workers:   cfg.Aggregator.WorkerCount,
		},
		cfg.Aggregator.AggregationNames(),
	)

	slog.Info("Aggregation scheduler initialized",
		"interval", cronInterval,
		"enabled", cfg.Aggregator.Enabled,
		"worker_count", cfg.Aggregator.WorkerCount,
	)

	// 5. Initialize Ingestion (HTTP writes straight to the event store)
	ingestionSvc, err := ingestion.NewService(streams, registry, validator, dbAdapter, cfg.Server.MaxBodySizeMB)
	if err != nil {
		slog.Error("Failed to initialize ingestion", "error", err)
		os.Exit(1)
	}

	// 5.1. Initialize Indexer (optional queue-fed ingestion path)
	var indexer *ingestion.Indexer
	if cfg.Indexer.Enabled {
		source, err := newQueueSource(cfg.Indexer.Queue)
		if err != nil {
			slog.Error("Failed to initialize queue source", "error", err)
			os.Exit(1)
		}
		defer source.Close()

		flushInterval, err := time.ParseDuration(cfg.Indexer.FlushInterval)
		if err != nil {
			slog.Error("Invalid indexer flush interval", "value", cfg.Indexer.FlushInterval, "error", err)
			os.Exit(1)
		}

		indexer, err = ingestion.NewIndexer(source, dbAdapter, streams, ingestion.IndexerOptions{
			BatchSize:     cfg.Indexer.BatchSize,
			FlushInterval: flushInterval,
		})
		if err != nil {
			slog.Error("Failed to initialize indexer", "error", err)
			os.Exit(1)
		}
		slog.Info("Indexer initialized",
			"driver", cfg.Indexer.Queue.Driver,
			"batch_size", cfg.Indexer.BatchSize,
			"flush_interval", flushInterval,
		)
	}

	// 6. Initialize Projection (query API)
	projectionSvc := projection.NewService(statsStore, streams)

	// 7. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), cfg.Server.Mode)
	ingestionSvc.RegisterRoutes(srv.Engine)
	projectionSvc.RegisterRoutes(srv.Engine)
	schemaapi.NewService(registry, validator).RegisterRoutes(srv.Engine)

	// 8. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Aggregator.Enabled {
		go func() {
			if err := scheduler.Start(ctx); err != nil {
				slog.Error("Scheduler stopped with error", "error", err)
			}
		}()
	} else {
		slog.Info("Aggregation scheduler disabled by config")
	}

	if indexer != nil {
		go func() {
			if err := indexer.Run(ctx); err != nil {
				slog.Error("Indexer stopped with error", "error", err)
			}
		}()
	}

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func newQueueSource(cfg corecfg.QueueConfig) (queue.Source, error) {
	switch cfg.Driver {
	case "rabbitmq":
		return queue.NewRabbitMQSource(cfg.URL, cfg.Name, cfg.Prefetch)
	case "kafka":
		return queue.NewKafkaSource(cfg.BrokerList(), cfg.Topic, cfg.GroupID), nil
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", cfg.Driver)
	}
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
