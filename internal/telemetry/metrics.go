// Package telemetry tracks pipeline counters and mirrors them into OpenTelemetry.
package telemetry

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/thebtf/newscluster"

// Stage names used as metric attributes.
const (
	StageIngestion  = "ingestion"
	StageClustering = "clustering"
)

// IngestionCounts are the outcome counts of one ingestion run.
type IngestionCounts struct {
	Fetched  int
	Skipped  int
	Embedded int
	Failed   int
}

// ClusteringCounts are the outcome counts of one clustering run.
type ClusteringCounts struct {
	Loaded         int
	RawClusters    int
	Noise          int
	OracleFailures int
	Saved          int
}

// Metrics tracks pipeline statistics. A nil *Metrics records nothing.
type Metrics struct {
	startTime       time.Time
	recentDurations map[string][]time.Duration
	durationsMu     sync.Mutex

	articlesFetched  atomic.Int64
	articlesSkipped  atomic.Int64
	articlesEmbedded atomic.Int64
	articlesFailed   atomic.Int64
	articlesLoaded   atomic.Int64
	rawClusters      atomic.Int64
	noisePoints      atomic.Int64
	oracleFailures   atomic.Int64
	clustersSaved    atomic.Int64
	ingestionRuns    atomic.Int64
	clusteringRuns   atomic.Int64
	failedRuns       atomic.Int64
	skippedRuns      atomic.Int64
	lastIngestion    atomic.Int64 // unix millis
	lastClustering   atomic.Int64 // unix millis

	counters map[string]metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMetrics creates a metrics tracker bound to the global OpenTelemetry meter provider.
func NewMetrics() *Metrics {
	meter := otel.Meter(meterName)
	m := &Metrics{
		startTime:       time.Now(),
		recentDurations: make(map[string][]time.Duration),
		counters:        make(map[string]metric.Int64Counter),
	}

	for name, desc := range map[string]string{
		"newscluster.articles.fetched":  "Articles read from the article store",
		"newscluster.articles.skipped":  "Articles skipped because they were already embedded",
		"newscluster.articles.embedded": "Articles embedded and stored",
		"newscluster.articles.failed":   "Articles whose embedding failed",
		"newscluster.clusters.raw":      "Raw density clusters found",
		"newscluster.points.noise":      "Embeddings labeled as noise",
		"newscluster.oracle.failures":   "Raw clusters whose refinement failed",
		"newscluster.clusters.saved":    "Refined clusters persisted",
		"newscluster.runs":              "Pipeline runs",
	} {
		// The no-op provider never fails; a broken SDK provider just loses the instrument.
		if c, err := meter.Int64Counter(name, metric.WithDescription(desc)); err == nil {
			m.counters[name] = c
		}
	}
	if h, err := meter.Float64Histogram("newscluster.run.duration",
		metric.WithDescription("Pipeline run duration"), metric.WithUnit("s")); err == nil {
		m.duration = h
	}
	return m
}

func (m *Metrics) add(ctx context.Context, name string, n int, attrs ...attribute.KeyValue) {
	if n == 0 {
		return
	}
	if c, ok := m.counters[name]; ok {
		c.Add(ctx, int64(n), metric.WithAttributes(attrs...))
	}
}

// RecordIngestion records a finished ingestion run.
func (m *Metrics) RecordIngestion(ctx context.Context, c IngestionCounts, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.ingestionRuns.Add(1)
	m.articlesFetched.Add(int64(c.Fetched))
	m.articlesSkipped.Add(int64(c.Skipped))
	m.articlesEmbedded.Add(int64(c.Embedded))
	m.articlesFailed.Add(int64(c.Failed))
	m.lastIngestion.Store(time.Now().UnixMilli())

	m.add(ctx, "newscluster.articles.fetched", c.Fetched)
	m.add(ctx, "newscluster.articles.skipped", c.Skipped)
	m.add(ctx, "newscluster.articles.embedded", c.Embedded)
	m.add(ctx, "newscluster.articles.failed", c.Failed)
	m.recordRun(ctx, StageIngestion, took, err)
}

// RecordClustering records a finished clustering run.
func (m *Metrics) RecordClustering(ctx context.Context, c ClusteringCounts, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.clusteringRuns.Add(1)
	m.articlesLoaded.Add(int64(c.Loaded))
	m.rawClusters.Add(int64(c.RawClusters))
	m.noisePoints.Add(int64(c.Noise))
	m.oracleFailures.Add(int64(c.OracleFailures))
	m.clustersSaved.Add(int64(c.Saved))
	m.lastClustering.Store(time.Now().UnixMilli())

	m.add(ctx, "newscluster.clusters.raw", c.RawClusters)
	m.add(ctx, "newscluster.points.noise", c.Noise)
	m.add(ctx, "newscluster.oracle.failures", c.OracleFailures)
	m.add(ctx, "newscluster.clusters.saved", c.Saved)
	m.recordRun(ctx, StageClustering, took, err)
}

// RecordSkippedRun records a run that did not start because another one held the lock.
func (m *Metrics) RecordSkippedRun(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.skippedRuns.Add(1)
	m.add(ctx, "newscluster.runs", 1, attribute.String("stage", stage), attribute.String("outcome", "skipped"))
}

func (m *Metrics) recordRun(ctx context.Context, stage string, took time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.failedRuns.Add(1)
	}
	m.add(ctx, "newscluster.runs", 1, attribute.String("stage", stage), attribute.String("outcome", outcome))
	if m.duration != nil {
		m.duration.Record(ctx, took.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
	}

	m.durationsMu.Lock()
	recent := append(m.recentDurations[stage], took)
	if len(recent) > 100 {
		recent = recent[len(recent)-100:]
	}
	m.recentDurations[stage] = recent
	m.durationsMu.Unlock()
}

// GetSnapshot returns current metrics snapshot.
func (m *Metrics) GetSnapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	snapshot := Snapshot{
		ArticlesFetched:  m.articlesFetched.Load(),
		ArticlesSkipped:  m.articlesSkipped.Load(),
		ArticlesEmbedded: m.articlesEmbedded.Load(),
		ArticlesFailed:   m.articlesFailed.Load(),
		ArticlesLoaded:   m.articlesLoaded.Load(),
		RawClusters:      m.rawClusters.Load(),
		NoisePoints:      m.noisePoints.Load(),
		OracleFailures:   m.oracleFailures.Load(),
		ClustersSaved:    m.clustersSaved.Load(),
		IngestionRuns:    m.ingestionRuns.Load(),
		ClusteringRuns:   m.clusteringRuns.Load(),
		FailedRuns:       m.failedRuns.Load(),
		SkippedRuns:      m.skippedRuns.Load(),
		Uptime:           time.Since(m.startTime).Round(time.Second).String(),
	}
	if ms := m.lastIngestion.Load(); ms > 0 {
		t := time.UnixMilli(ms).UTC()
		snapshot.LastIngestion = &t
	}
	if ms := m.lastClustering.Load(); ms > 0 {
		t := time.UnixMilli(ms).UTC()
		snapshot.LastClustering = &t
	}

	m.durationsMu.Lock()
	defer m.durationsMu.Unlock()
	snapshot.P50IngestionMs = percentile(m.recentDurations[StageIngestion], 0.50).Milliseconds()
	snapshot.P50ClusteringMs = percentile(m.recentDurations[StageClustering], 0.50).Milliseconds()
	return snapshot
}

// Snapshot represents a point-in-time metrics snapshot.
type Snapshot struct {
	LastIngestion    *time.Time `json:"last_ingestion,omitempty"`
	LastClustering   *time.Time `json:"last_clustering,omitempty"`
	Uptime           string     `json:"uptime"`
	ArticlesFetched  int64      `json:"articles_fetched"`
	ArticlesSkipped  int64      `json:"articles_skipped"`
	ArticlesEmbedded int64      `json:"articles_embedded"`
	ArticlesFailed   int64      `json:"articles_failed"`
	ArticlesLoaded   int64      `json:"articles_loaded"`
	RawClusters      int64      `json:"raw_clusters"`
	NoisePoints      int64      `json:"noise_points"`
	OracleFailures   int64      `json:"oracle_failures"`
	ClustersSaved    int64      `json:"clusters_saved"`
	IngestionRuns    int64      `json:"ingestion_runs"`
	ClusteringRuns   int64      `json:"clustering_runs"`
	FailedRuns       int64      `json:"failed_runs"`
	SkippedRuns      int64      `json:"skipped_runs"`
	P50IngestionMs   int64      `json:"p50_ingestion_ms"`
	P50ClusteringMs  int64      `json:"p50_clustering_ms"`
}

func percentile(durations []time.Duration, p float64) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}
