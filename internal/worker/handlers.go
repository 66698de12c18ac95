package worker

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/newscluster/internal/db/gorm"
	"github.com/thebtf/newscluster/internal/pipeline"
	"github.com/thebtf/newscluster/internal/runlock"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth reports liveness and store connectivity.
func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	}
	if err := s.store.Ping(); err != nil {
		resp["status"] = "unhealthy"
		resp["error"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeError(w, http.StatusServiceUnavailable, "service not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	stored, err := s.clusters.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics":         s.metrics.GetSnapshot(),
		"stored_clusters": stored,
		"sse_clients":     s.sseBroadcaster.ClientCount(),
	})
}

func (s *Service) handleRunEmbeddings(w http.ResponseWriter, r *http.Request) {
	window := s.config.IngestionWindow
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid window: "+err.Error())
			return
		}
		window = d
	}

	report, err := s.runner.Ingest(s.ctx, window)
	if err != nil {
		writeRunError(w, err, report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Service) handleRunClustering(w http.ResponseWriter, r *http.Request) {
	params, err := parseClusterParams(r, s.config.Clustering)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.runner.Cluster(s.ctx, params)
	if err != nil {
		writeRunError(w, err, report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeRunError(w http.ResponseWriter, err error, report any) {
	switch {
	case errors.Is(err, runlock.ErrLocked):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrInvalidParams):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "report": report})
	}
}

// parseClusterParams overlays query parameters on defaults.
func parseClusterParams(r *http.Request, defaults pipeline.ClusterParams) (pipeline.ClusterParams, error) {
	params := defaults
	q := r.URL.Query()

	if v := q.Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return params, errors.New("invalid window: " + err.Error())
		}
		params.Window = d
	}
	for name, dst := range map[string]*int{
		"min_cluster_size": &params.MinClusterSize,
		"min_samples":      &params.MinSamples,
	} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return params, errors.New("invalid " + name + ": " + v)
			}
			*dst = n
		}
	}
	if v := q.Get("selection_epsilon"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return params, errors.New("invalid selection_epsilon: " + v)
		}
		params.SelectionEpsilon = f
	}
	return params, nil
}

func (s *Service) handleListClusters(w http.ResponseWriter, r *http.Request) {
	page, perPage := gorm.ParsePageParams(r)
	result, err := s.clusters.ListClusters(r.Context(), page, perPage)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list clusters")
		writeError(w, http.StatusInternalServerError, "failed to list clusters")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func parseClusterID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid cluster id")
		return 0, false
	}
	return id, true
}

func (s *Service) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	id, ok := parseClusterID(w, r)
	if !ok {
		return
	}

	cluster, err := s.clusters.GetCluster(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Int64("cluster_id", id).Msg("Failed to get cluster")
		writeError(w, http.StatusInternalServerError, "failed to get cluster")
		return
	}
	if cluster == nil {
		writeError(w, http.StatusNotFound, "cluster not found")
		return
	}
	writeJSON(w, http.StatusOK, cluster)
}

// handleDeleteCluster removes a cluster and its items.
func (s *Service) handleDeleteCluster(w http.ResponseWriter, r *http.Request) {
	id, ok := parseClusterID(w, r)
	if !ok {
		return
	}

	deleted, err := s.clusters.DeleteCluster(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Int64("cluster_id", id).Msg("Failed to delete cluster")
		writeError(w, http.StatusInternalServerError, "failed to delete cluster")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "cluster not found")
		return
	}
	log.Info().Int64("cluster_id", id).Msg("Cluster deleted")
	w.WriteHeader(http.StatusNoContent)
}
