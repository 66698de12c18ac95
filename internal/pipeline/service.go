package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/newscluster/internal/telemetry"
	"github.com/thebtf/newscluster/pkg/models"
)

// Run kinds reported in events.
const (
	KindIngestion  = "ingestion"
	KindClustering = "clustering"
)

// ClusteringReport counts the outcome of one clustering run.
type ClusteringReport struct {
	Loaded           int  `json:"loaded"`
	RawClusters      int  `json:"raw_clusters"`
	Noise            int  `json:"noise"`
	BelowGate        int  `json:"below_gate"`
	OracleFailures   int  `json:"oracle_failures"`
	SubClusters      int  `json:"sub_clusters"`
	Saved            int  `json:"saved"`
	InsufficientData bool `json:"insufficient_data"`
}

// Event describes a finished run.
type Event struct {
	At         time.Time         `json:"at"`
	Ingestion  *IngestReport     `json:"ingestion,omitempty"`
	Clustering *ClusteringReport `json:"clustering,omitempty"`
	Kind       string            `json:"kind"`
	RunID      string            `json:"run_id"`
	Error      string            `json:"error,omitempty"`
	DurationMs int64             `json:"duration_ms"`
}

// Options tune a Service.
type Options struct {
	Metrics           *telemetry.Metrics
	RefineConcurrency int
}

// Service exposes the two pipeline entry points.
type Service struct {
	ingestor          *Ingestor
	clusterer         *Clusterer
	refiner           SubclusterRefiner
	clusters          ClusterRepository
	metrics           *telemetry.Metrics
	now               func() time.Time
	observers         []func(Event)
	observersMu       sync.RWMutex
	refineConcurrency int
}

// NewService creates a Service.
func NewService(ingestor *Ingestor, clusterer *Clusterer, refiner SubclusterRefiner, clusters ClusterRepository, opts Options) *Service {
	concurrency := opts.RefineConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Service{
		ingestor:          ingestor,
		clusterer:         clusterer,
		refiner:           refiner,
		clusters:          clusters,
		metrics:           opts.Metrics,
		now:               time.Now,
		refineConcurrency: concurrency,
	}
}

// Observe registers fn to be called after every run.
func (s *Service) Observe(fn func(Event)) {
	s.observersMu.Lock()
	s.observers = append(s.observers, fn)
	s.observersMu.Unlock()
}

func (s *Service) emit(ev Event) {
	s.observersMu.RLock()
	defer s.observersMu.RUnlock()
	for _, fn := range s.observers {
		fn(ev)
	}
}

// withRun attaches a run logger to ctx.
func withRun(ctx context.Context, kind string) (context.Context, string) {
	runID := uuid.NewString()
	logger := log.With().Str("run_id", runID).Str("run", kind).Logger()
	return logger.WithContext(ctx), runID
}

// RunEmbeddingIngestion embeds the summarized articles published within window.
func (s *Service) RunEmbeddingIngestion(ctx context.Context, window time.Duration) (IngestReport, error) {
	if window <= 0 {
		return IngestReport{}, fmt.Errorf("%w: window must be positive", ErrInvalidParams)
	}

	ctx, runID := withRun(ctx, KindIngestion)
	logger := zerolog.Ctx(ctx)
	start := s.now()

	report, err := s.ingestor.Ingest(ctx, window)
	took := s.now().Sub(start)

	ev := Event{At: s.now().UTC(), Kind: KindIngestion, RunID: runID, Ingestion: &report, DurationMs: took.Milliseconds()}
	if err != nil {
		ev.Error = err.Error()
		logger.Error().Err(err).Dur("window", window).Msg("Embedding ingestion failed")
	} else {
		logger.Info().
			Dur("window", window).
			Int("fetched", report.Fetched).
			Int("skipped", report.Skipped).
			Int("embedded", report.Embedded).
			Int("failed", report.Failed).
			Dur("took", took).
			Msg("Embedding ingestion finished")
	}

	s.metrics.RecordIngestion(ctx, telemetry.IngestionCounts{
		Fetched:  report.Fetched,
		Skipped:  report.Skipped,
		Embedded: report.Embedded,
		Failed:   report.Failed,
	}, took, err)
	s.emit(ev)
	return report, err
}

// RunClustering clusters the embeddings of the window, refines every raw
// cluster with the oracle and persists the validated sub-clusters in one
// transaction. Refinement failures are local to their cluster; a
// persistence failure is returned and nothing of the run is stored.
func (s *Service) RunClustering(ctx context.Context, params ClusterParams) (ClusteringReport, error) {
	if err := params.Validate(); err != nil {
		return ClusteringReport{}, err
	}

	ctx, runID := withRun(ctx, KindClustering)
	start := s.now()

	report, err := s.runClustering(ctx, params)
	took := s.now().Sub(start)

	logger := zerolog.Ctx(ctx)
	ev := Event{At: s.now().UTC(), Kind: KindClustering, RunID: runID, Clustering: &report, DurationMs: took.Milliseconds()}
	switch {
	case err != nil:
		ev.Error = err.Error()
		logger.Error().Err(err).Msg("Clustering failed")
	case report.InsufficientData:
		logger.Info().
			Int("loaded", report.Loaded).
			Int("min_cluster_size", params.MinClusterSize).
			Msg("Not enough embeddings to cluster")
	default:
		logger.Info().
			Int("loaded", report.Loaded).
			Int("raw_clusters", report.RawClusters).
			Int("noise", report.Noise).
			Int("below_gate", report.BelowGate).
			Int("oracle_failures", report.OracleFailures).
			Int("saved", report.Saved).
			Dur("took", took).
			Msg("Clustering finished")
	}

	s.metrics.RecordClustering(ctx, telemetry.ClusteringCounts{
		Loaded:         report.Loaded,
		RawClusters:    report.RawClusters,
		Noise:          report.Noise,
		OracleFailures: report.OracleFailures,
		Saved:          report.Saved,
	}, took, err)
	s.emit(ev)
	return report, err
}

func (s *Service) runClustering(ctx context.Context, params ClusterParams) (ClusteringReport, error) {
	var report ClusteringReport

	result, err := s.clusterer.Cluster(ctx, params)
	if err != nil {
		return report, err
	}
	report.Loaded = result.Loaded
	report.Noise = result.Noise
	report.RawClusters = len(result.Groups)
	if result.InsufficientData {
		report.InsufficientData = true
		return report, nil
	}

	labels := result.Labels()
	refined := s.refineAll(ctx, labels, result.Groups, &report)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	runAt := s.now().UTC()
	var validated []models.ValidatedCluster
	for i, label := range labels {
		for idx, sub := range refined[i] {
			validated = append(validated, models.ValidatedCluster{SubCluster: sub, RawLabel: label, Index: idx})
		}
	}
	report.SubClusters = len(validated)
	if len(validated) == 0 {
		return report, nil
	}

	saved, err := s.clusters.SaveRun(ctx, runAt, validated)
	if err != nil {
		return report, fmt.Errorf("persist clusters: %w", err)
	}
	report.Saved = saved
	return report, nil
}

// refineAll refines every raw cluster, at most refineConcurrency at a time.
// The result is indexed like labels.
func (s *Service) refineAll(ctx context.Context, labels []int, groups map[int][]models.ArticleDigest, report *ClusteringReport) [][]models.SubCluster {
	logger := zerolog.Ctx(ctx)
	refined := make([][]models.SubCluster, len(labels))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.refineConcurrency)
	for i, label := range labels {
		members := groups[label]
		if len(members) < s.refiner.MinMembers() {
			report.BelowGate++
			continue
		}
		if ctx.Err() != nil {
			break
		}
		i, label := i, label
		g.Go(func() error {
			subs, err := s.refiner.Refine(ctx, label, members)
			if err != nil {
				logger.Warn().Err(err).Int("raw_label", label).Int("size", len(members)).Msg("Cluster refinement failed")
				mu.Lock()
				report.OracleFailures++
				mu.Unlock()
				return nil
			}
			refined[i] = subs
			return nil
		})
	}
	_ = g.Wait()
	return refined
}
