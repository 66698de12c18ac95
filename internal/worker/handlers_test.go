package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/thebtf/newscluster/internal/db/gorm"
	"github.com/thebtf/newscluster/internal/pipeline"
	"github.com/thebtf/newscluster/internal/runlock"
	"github.com/thebtf/newscluster/internal/telemetry"
	"github.com/thebtf/newscluster/pkg/models"
)

type fakeRunner struct {
	err           error
	ingestReport  pipeline.IngestReport
	clusterReport pipeline.ClusteringReport
	windows       []time.Duration
	params        []pipeline.ClusterParams
}

func (f *fakeRunner) Ingest(_ context.Context, window time.Duration) (pipeline.IngestReport, error) {
	f.windows = append(f.windows, window)
	return f.ingestReport, f.err
}

func (f *fakeRunner) Cluster(_ context.Context, params pipeline.ClusterParams) (pipeline.ClusteringReport, error) {
	f.params = append(f.params, params)
	return f.clusterReport, f.err
}

// testStore creates a SQLite-backed store in a temp dir.
func testStore(t *testing.T) *gorm.Store {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "newscluster_worker_test_*")
	require.NoError(t, err)

	store, err := gorm.NewStore(gorm.Config{
		Driver:   gorm.DriverSQLite,
		DSN:      filepath.Join(tmpDir, "test.db"),
		LogLevel: logger.Silent,
	})
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
		_ = os.RemoveAll(tmpDir)
	})
	return store
}

// testService creates a ready Service over a test SQLite database.
func testService(t *testing.T) (*Service, *fakeRunner, *gorm.Store) {
	t.Helper()

	store := testStore(t)
	runner := &fakeRunner{}
	svc := NewService(Config{
		Version:         "test-version",
		IngestionWindow: 24 * time.Hour,
		Clustering:      pipeline.DefaultClusterParams(),
	}, runner, gorm.NewClusterStore(store), store, telemetry.NewMetrics(), nil)
	svc.ready.Store(true)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	return svc, runner, store
}

func serve(svc *Service, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func seedClusters(t *testing.T, store *gorm.Store, sizes ...int) {
	t.Helper()
	var clusters []models.ValidatedCluster
	next := int64(1)
	for i, size := range sizes {
		ids := make([]int64, size)
		for j := range ids {
			ids[j] = next
			next++
		}
		clusters = append(clusters, models.ValidatedCluster{
			SubCluster: models.SubCluster{Theme: fmt.Sprintf("Event %d", i), ArticleIDs: ids},
			RawLabel:   i,
		})
	}
	_, err := gorm.NewClusterStore(store).SaveRun(context.Background(), time.Now(), clusters)
	require.NoError(t, err)
}

func TestHandleHealth(t *testing.T) {
	svc, _, store := testService(t)

	rec := serve(svc, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "test-version", resp["version"])

	require.NoError(t, store.Close())
	rec = serve(svc, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", decode[map[string]any](t, rec)["status"])
}

func TestRequireReady(t *testing.T) {
	svc, _, _ := testService(t)

	svc.ready.Store(false)
	assert.Equal(t, http.StatusServiceUnavailable, serve(svc, http.MethodGet, "/api/clusters").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(svc, http.MethodGet, "/api/ready").Code)

	svc.ready.Store(true)
	assert.Equal(t, http.StatusOK, serve(svc, http.MethodGet, "/api/clusters").Code)
	assert.Equal(t, http.StatusOK, serve(svc, http.MethodGet, "/api/ready").Code)
}

func TestHandleListClusters(t *testing.T) {
	svc, _, store := testService(t)
	seedClusters(t, store, 3, 5, 4)

	rec := serve(svc, http.MethodGet, "/api/clusters?page=1&per_page=2")
	require.Equal(t, http.StatusOK, rec.Code)

	page := decode[models.ClusterPage](t, rec)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 2, page.PerPage)
	require.Len(t, page.Clusters, 2)
	assert.Equal(t, "Event 1", page.Clusters[0].Theme)
	assert.Len(t, page.Clusters[0].Items, 5)
	assert.Equal(t, "Event 2", page.Clusters[1].Theme)

	rec = serve(svc, http.MethodGet, "/api/clusters?page=2&per_page=2")
	page = decode[models.ClusterPage](t, rec)
	require.Len(t, page.Clusters, 1)
	assert.Equal(t, "Event 0", page.Clusters[0].Theme)
}

func TestHandleGetCluster(t *testing.T) {
	svc, _, store := testService(t)
	seedClusters(t, store, 3)

	page, err := gorm.NewClusterStore(store).ListClusters(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Clusters, 1)
	id := page.Clusters[0].ID

	rec := serve(svc, http.MethodGet, fmt.Sprintf("/api/clusters/%d", id))
	require.Equal(t, http.StatusOK, rec.Code)
	cluster := decode[models.Cluster](t, rec)
	assert.Equal(t, id, cluster.ID)
	assert.Equal(t, "Event 0", cluster.Theme)
	assert.Len(t, cluster.Items, 3)

	tests := []struct {
		target string
		code   int
	}{
		{fmt.Sprintf("/api/clusters/%d", id+100), http.StatusNotFound},
		{"/api/clusters/abc", http.StatusBadRequest},
		{"/api/clusters/0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			assert.Equal(t, tt.code, serve(svc, http.MethodGet, tt.target).Code)
		})
	}
}

func TestHandleDeleteCluster(t *testing.T) {
	svc, _, store := testService(t)
	seedClusters(t, store, 3, 4)

	clusters := gorm.NewClusterStore(store)
	page, err := clusters.ListClusters(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Clusters, 2)
	id := page.Clusters[0].ID

	rec := serve(svc, http.MethodDelete, fmt.Sprintf("/api/clusters/%d", id))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, http.StatusNotFound, serve(svc, http.MethodGet, fmt.Sprintf("/api/clusters/%d", id)).Code)
	assert.Equal(t, http.StatusNotFound, serve(svc, http.MethodDelete, fmt.Sprintf("/api/clusters/%d", id)).Code)
	assert.Equal(t, http.StatusBadRequest, serve(svc, http.MethodDelete, "/api/clusters/abc").Code)

	count, err := clusters.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestHandleRunEmbeddings(t *testing.T) {
	svc, runner, _ := testService(t)
	runner.ingestReport = pipeline.IngestReport{Fetched: 4, Embedded: 3, Skipped: 1}

	rec := serve(svc, http.MethodPost, "/api/runs/embeddings")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, runner.ingestReport, decode[pipeline.IngestReport](t, rec))

	rec = serve(svc, http.MethodPost, "/api/runs/embeddings?window=72h")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []time.Duration{24 * time.Hour, 72 * time.Hour}, runner.windows)

	assert.Equal(t, http.StatusBadRequest, serve(svc, http.MethodPost, "/api/runs/embeddings?window=soon").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(svc, http.MethodGet, "/api/runs/embeddings").Code)
}

func TestHandleRunClustering(t *testing.T) {
	svc, runner, _ := testService(t)
	runner.clusterReport = pipeline.ClusteringReport{Loaded: 5, RawClusters: 1, Noise: 1, Saved: 1}

	rec := serve(svc, http.MethodPost, "/api/runs/clustering?window=72h&min_cluster_size=4&min_samples=3&selection_epsilon=0.5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, runner.clusterReport, decode[pipeline.ClusteringReport](t, rec))
	assert.Equal(t, []pipeline.ClusterParams{{
		Window:           72 * time.Hour,
		MinClusterSize:   4,
		MinSamples:       3,
		SelectionEpsilon: 0.5,
	}}, runner.params)

	rec = serve(svc, http.MethodPost, "/api/runs/clustering")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pipeline.DefaultClusterParams(), runner.params[1])

	for _, q := range []string{"window=x", "min_cluster_size=three", "min_samples=1.5", "selection_epsilon=big"} {
		assert.Equal(t, http.StatusBadRequest, serve(svc, http.MethodPost, "/api/runs/clustering?"+q).Code, q)
	}
}

func TestHandleRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"locked", runlock.ErrLocked, http.StatusConflict},
		{"invalid params", fmt.Errorf("%w: window must be positive", pipeline.ErrInvalidParams), http.StatusBadRequest},
		{"persistence", errors.New("persist clusters: disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, runner, _ := testService(t)
			runner.err = tt.err

			rec := serve(svc, http.MethodPost, "/api/runs/clustering")
			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, decode[map[string]any](t, rec)["error"], tt.err.Error())

			assert.Equal(t, tt.code, serve(svc, http.MethodPost, "/api/runs/embeddings").Code)
		})
	}
}

func TestHandleStats(t *testing.T) {
	svc, _, store := testService(t)
	seedClusters(t, store, 3, 4)
	svc.metrics.RecordClustering(context.Background(), telemetry.ClusteringCounts{Saved: 2}, time.Second, nil)

	rec := serve(svc, http.MethodGet, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Metrics        telemetry.Snapshot `json:"metrics"`
		StoredClusters int64              `json:"stored_clusters"`
		SSEClients     int                `json:"sse_clients"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Metrics.ClustersSaved)
	assert.Equal(t, int64(2), resp.StoredClusters)
	assert.Zero(t, resp.SSEClients)
}

func TestStartAndShutdown(t *testing.T) {
	store := testStore(t)
	svc := NewService(Config{Addr: "127.0.0.1:0"}, &fakeRunner{}, gorm.NewClusterStore(store), store, nil, nil)

	require.NoError(t, svc.Start())
	assert.True(t, svc.ready.Load())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))
	assert.False(t, svc.ready.Load())
}

func TestPublishRun(t *testing.T) {
	svc, _, _ := testService(t)
	assert.NotPanics(t, func() {
		svc.PublishRun(pipeline.Event{Kind: pipeline.KindClustering, RunID: "r1"})
	})
}
