// Package main provides the newscluster daemon: periodic embedding ingestion
// and event clustering with an ops HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/newscluster/internal/articles"
	"github.com/thebtf/newscluster/internal/config"
	"github.com/thebtf/newscluster/internal/db/gorm"
	"github.com/thebtf/newscluster/internal/llm"
	"github.com/thebtf/newscluster/internal/logging"
	"github.com/thebtf/newscluster/internal/pipeline"
	"github.com/thebtf/newscluster/internal/refine"
	"github.com/thebtf/newscluster/internal/runlock"
	"github.com/thebtf/newscluster/internal/scheduler"
	"github.com/thebtf/newscluster/internal/telemetry"
	"github.com/thebtf/newscluster/internal/watcher"
	"github.com/thebtf/newscluster/internal/worker"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML config file")
	once := flag.Bool("once", false, "Run ingestion and clustering once, print the latest clusters and exit")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Setup("info", true)
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Pretty)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := gorm.NewStore(gorm.Config{
		Driver:   cfg.Database.Driver,
		DSN:      cfg.Database.DSN,
		MaxConns: cfg.Database.MaxConns,
		LogLevel: cfg.Database.GormLogLevel(),
	})
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("Failed to initialize store")
	}
	defer store.Close()

	source, err := articles.Open(ctx, articles.Config{
		Driver: cfg.Articles.Driver,
		DSN:    cfg.Articles.DSN,
		Table:  cfg.Articles.Table,
		Locale: cfg.Articles.Locale,
	})
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Articles.Driver).Msg("Failed to connect to article store")
	}
	defer source.Close()

	embedder, err := llm.NewEmbeddingClient(llm.Config{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Timeout:    cfg.Embedding.Timeout,
		MaxRetries: cfg.Embedding.MaxRetries,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create embedding client")
	}

	chat, err := llm.NewChatClient(llm.ChatConfig{
		Config: llm.Config{
			BaseURL:    cfg.Oracle.BaseURL,
			APIKey:     cfg.Oracle.APIKey,
			Model:      cfg.Oracle.Model,
			Timeout:    cfg.Oracle.Timeout,
			MaxRetries: cfg.Oracle.MaxRetries,
		},
		MaxCompletionTokens: cfg.Oracle.MaxCompletionTokens,
		Temperature:         cfg.Oracle.Temperature,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create oracle client")
	}

	refiner, err := refine.New(refine.NewChatOracle(chat, cfg.Clustering.RefineMinMembers), refine.Config{
		MinMembers:   cfg.Clustering.RefineMinMembers,
		SummaryRunes: cfg.Clustering.SummaryRunes,
		TokenBudget:  cfg.Clustering.TokenBudget,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create refiner")
	}

	metrics := telemetry.NewMetrics()
	embeddings := gorm.NewEmbeddingStore(store)
	clusters := gorm.NewClusterStore(store)

	svc := pipeline.NewService(
		pipeline.NewIngestor(source, embedder, embeddings, cfg.Ingestion.Concurrency),
		pipeline.NewClusterer(embeddings),
		refiner,
		clusters,
		pipeline.Options{Metrics: metrics, RefineConcurrency: cfg.Clustering.RefineConcurrency},
	)

	locker, closeLocker := newLocker(cfg.Lock)
	defer closeLocker()

	sched := scheduler.New(svc, locker, metrics, scheduler.Config{
		Interval:        cfg.Scheduler.Interval,
		RunOnStart:      cfg.Scheduler.RunOnStart,
		IngestionWindow: cfg.Ingestion.Window,
		Clustering:      cfg.Clustering.Params(),
	})

	log.Info().
		Str("version", Version).
		Str("driver", store.Driver()).
		Str("embedding_model", embedder.ModelVersion()).
		Str("oracle_model", chat.Model()).
		Msg("Starting newscluster")

	if *once {
		if err := runOnce(ctx, sched, clusters); err != nil {
			log.Error().Err(err).Msg("Run failed")
			closeLocker()
			source.Close()
			store.Close()
			os.Exit(1)
		}
		return
	}

	api := worker.NewService(worker.Config{
		Addr:            cfg.Server.Addr,
		Version:         Version,
		IngestionWindow: cfg.Ingestion.Window,
		Clustering:      cfg.Clustering.Params(),
	}, sched, clusters, store, metrics, nil)
	svc.Observe(api.PublishRun)
	if err := api.Start(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Server.Addr).Msg("Failed to start HTTP server")
	}

	startConfigWatcher(*configPath, stop)

	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown")
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Scheduled run did not stop in time")
	}
}

// newLocker returns a redis locker when an address is configured, an in-process one otherwise.
func newLocker(cfg config.LockConfig) (runlock.Locker, func()) {
	if cfg.RedisAddr == "" {
		return runlock.NewLocalLocker(), func() {}
	}
	pool := runlock.NewPool(cfg.RedisAddr)
	log.Info().Str("addr", cfg.RedisAddr).Msg("Using redis run lock")
	return runlock.NewRedisLocker(pool, cfg.KeyPrefix, cfg.TTL), func() { _ = pool.Close() }
}

// runOnce runs the pipeline once and logs the largest clusters.
func runOnce(ctx context.Context, sched *scheduler.Scheduler, clusters *gorm.ClusterStore) error {
	if err := sched.RunOnce(ctx); err != nil {
		return err
	}

	page, err := clusters.ListClusters(ctx, 1, gorm.DefaultPerPage)
	if err != nil {
		return err
	}
	log.Info().Int64("total", page.Total).Msg("Clusters")
	for _, c := range page.Clusters {
		log.Info().
			Int64("cluster_id", c.ID).
			Int("size", c.Size()).
			Str("label", c.Label).
			Time("created_at", c.CreatedAt).
			Msg(c.Theme)
	}
	return nil
}

// startConfigWatcher stops the daemon when the config file changes so the
// supervisor restarts it with the new settings.
func startConfigWatcher(path string, stop context.CancelFunc) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return
	}
	configWatcher, err := watcher.New(path, func() {
		log.Warn().Str("path", path).Msg("Config file changed, exiting for restart...")
		stop()
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create config watcher")
		return
	}
	if err := configWatcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start config watcher")
		return
	}
	log.Info().Str("path", path).Msg("Config file watcher started")
}
