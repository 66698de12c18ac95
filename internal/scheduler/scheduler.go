// Package scheduler runs the pipeline periodically and guards every run with a run lock.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/newscluster/internal/pipeline"
	"github.com/thebtf/newscluster/internal/runlock"
	"github.com/thebtf/newscluster/internal/telemetry"
)

// DefaultInterval is the pause between scheduled runs.
const DefaultInterval = 10 * time.Minute

// LockName is the run lock shared by every pipeline run.
const LockName = "pipeline"

// Runner executes pipeline stages. pipeline.Service implements it.
type Runner interface {
	RunEmbeddingIngestion(ctx context.Context, window time.Duration) (pipeline.IngestReport, error)
	RunClustering(ctx context.Context, params pipeline.ClusterParams) (pipeline.ClusteringReport, error)
}

// Config configures the schedule and the parameters of scheduled runs.
type Config struct {
	Clustering      pipeline.ClusterParams
	Interval        time.Duration
	IngestionWindow time.Duration
	RunOnStart      bool
}

// Scheduler triggers ingestion followed by clustering on a fixed interval.
type Scheduler struct {
	runner  Runner
	locker  runlock.Locker
	metrics *telemetry.Metrics
	cfg     Config
}

// New creates a Scheduler.
func New(runner Runner, locker runlock.Locker, metrics *telemetry.Metrics, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Scheduler{runner: runner, locker: locker, metrics: metrics, cfg: cfg}
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// Run triggers the pipeline every interval until ctx is done. Run errors are
// logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info().
		Dur("interval", s.cfg.Interval).
		Bool("run_on_start", s.cfg.RunOnStart).
		Msg("Scheduler started")

	if s.cfg.RunOnStart {
		s.tick(ctx)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	err := s.RunOnce(ctx)
	switch {
	case err == nil:
	case errors.Is(err, runlock.ErrLocked):
		log.Info().Msg("Previous run still in progress, skipping")
	case ctx.Err() != nil:
	default:
		log.Error().Err(err).Msg("Scheduled run failed")
	}
}

// RunOnce runs ingestion and then clustering under one lock. Clustering
// still runs when ingestion fails, over the embeddings already stored.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	release, err := s.acquire(ctx, pipeline.KindIngestion)
	if err != nil {
		return err
	}
	defer release()

	_, ingestErr := s.runner.RunEmbeddingIngestion(ctx, s.cfg.IngestionWindow)
	if ingestErr != nil {
		ingestErr = fmt.Errorf("ingestion: %w", ingestErr)
	}
	if ctx.Err() != nil {
		return errors.Join(ingestErr, ctx.Err())
	}

	_, clusterErr := s.runner.RunClustering(ctx, s.cfg.Clustering)
	if clusterErr != nil {
		clusterErr = fmt.Errorf("clustering: %w", clusterErr)
	}
	return errors.Join(ingestErr, clusterErr)
}

// Ingest runs ingestion alone under the run lock.
func (s *Scheduler) Ingest(ctx context.Context, window time.Duration) (pipeline.IngestReport, error) {
	release, err := s.acquire(ctx, pipeline.KindIngestion)
	if err != nil {
		return pipeline.IngestReport{}, err
	}
	defer release()
	return s.runner.RunEmbeddingIngestion(ctx, window)
}

// Cluster runs clustering alone under the run lock.
func (s *Scheduler) Cluster(ctx context.Context, params pipeline.ClusterParams) (pipeline.ClusteringReport, error) {
	release, err := s.acquire(ctx, pipeline.KindClustering)
	if err != nil {
		return pipeline.ClusteringReport{}, err
	}
	defer release()
	return s.runner.RunClustering(ctx, params)
}

func (s *Scheduler) acquire(ctx context.Context, stage string) (func(), error) {
	release, err := s.locker.Acquire(ctx, LockName)
	if errors.Is(err, runlock.ErrLocked) {
		s.metrics.RecordSkippedRun(ctx, stage)
	}
	if err != nil {
		return nil, err
	}
	return release, nil
}
