package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_Snapshot(t *testing.T) {
	m := NewMetrics()
	ctx := context.Background()

	m.RecordIngestion(ctx, IngestionCounts{Fetched: 5, Skipped: 1, Embedded: 3, Failed: 1}, 100*time.Millisecond, nil)
	m.RecordIngestion(ctx, IngestionCounts{Fetched: 2, Skipped: 2}, 300*time.Millisecond, nil)
	m.RecordClustering(ctx, ClusteringCounts{Loaded: 5, RawClusters: 1, Noise: 1, Saved: 1}, time.Second, nil)
	m.RecordClustering(ctx, ClusteringCounts{Loaded: 5, RawClusters: 2, OracleFailures: 2}, time.Second, errors.New("db down"))
	m.RecordSkippedRun(ctx, StageClustering)

	s := m.GetSnapshot()
	assert.Equal(t, int64(7), s.ArticlesFetched)
	assert.Equal(t, int64(3), s.ArticlesSkipped)
	assert.Equal(t, int64(3), s.ArticlesEmbedded)
	assert.Equal(t, int64(1), s.ArticlesFailed)
	assert.Equal(t, int64(10), s.ArticlesLoaded)
	assert.Equal(t, int64(3), s.RawClusters)
	assert.Equal(t, int64(1), s.NoisePoints)
	assert.Equal(t, int64(2), s.OracleFailures)
	assert.Equal(t, int64(1), s.ClustersSaved)
	assert.Equal(t, int64(2), s.IngestionRuns)
	assert.Equal(t, int64(2), s.ClusteringRuns)
	assert.Equal(t, int64(1), s.FailedRuns)
	assert.Equal(t, int64(1), s.SkippedRuns)
	assert.Equal(t, int64(100), s.P50IngestionMs)
	assert.Equal(t, int64(1000), s.P50ClusteringMs)
	assert.NotNil(t, s.LastIngestion)
	assert.NotNil(t, s.LastClustering)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordIngestion(ctx, IngestionCounts{Fetched: 1}, time.Second, nil)
		m.RecordClustering(ctx, ClusteringCounts{Saved: 1}, time.Second, nil)
		m.RecordSkippedRun(ctx, StageIngestion)
	})
	assert.Equal(t, Snapshot{}, m.GetSnapshot())
}

func TestPercentile(t *testing.T) {
	assert.Zero(t, percentile(nil, 0.5))
	d := []time.Duration{3, 1, 2}
	assert.Equal(t, time.Duration(2), percentile(d, 0.5))
	assert.Equal(t, time.Duration(3), percentile(d, 1))
	assert.Equal(t, []time.Duration{3, 1, 2}, d, "input is not reordered")
}
