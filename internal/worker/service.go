// Package worker provides the ops HTTP service for newscluster.
package worker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/newscluster/internal/pipeline"
	"github.com/thebtf/newscluster/internal/telemetry"
	"github.com/thebtf/newscluster/internal/worker/sse"
	"github.com/thebtf/newscluster/pkg/models"
)

// Runner executes lock-guarded pipeline runs. scheduler.Scheduler implements it.
type Runner interface {
	Ingest(ctx context.Context, window time.Duration) (pipeline.IngestReport, error)
	Cluster(ctx context.Context, params pipeline.ClusterParams) (pipeline.ClusteringReport, error)
}

// ClusterReader is the part of the cluster store served by the API. gorm.ClusterStore implements it.
type ClusterReader interface {
	ListClusters(ctx context.Context, page, perPage int) (*models.ClusterPage, error)
	GetCluster(ctx context.Context, id int64) (*models.Cluster, error)
	DeleteCluster(ctx context.Context, id int64) (bool, error)
	Count(ctx context.Context) (int64, error)
}

// Pinger checks store connectivity. gorm.Store implements it.
type Pinger interface {
	Ping() error
}

// Config configures the HTTP service.
type Config struct {
	Clustering      pipeline.ClusterParams
	Addr            string
	Version         string
	IngestionWindow time.Duration
}

// Service is the ops HTTP API.
type Service struct {
	startTime      time.Time
	ctx            context.Context
	runner         Runner
	clusters       ClusterReader
	store          Pinger
	router         chi.Router
	cancel         context.CancelFunc
	metrics        *telemetry.Metrics
	sseBroadcaster *sse.Broadcaster
	server         *http.Server
	config         Config
	version        string
	ready          atomic.Bool
}

// NewService creates the service and its routes.
func NewService(cfg Config, runner Runner, clusters ClusterReader, store Pinger, metrics *telemetry.Metrics, broadcaster *sse.Broadcaster) *Service {
	if broadcaster == nil {
		broadcaster = sse.NewBroadcaster()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		version:        cfg.Version,
		config:         cfg,
		runner:         runner,
		clusters:       clusters,
		store:          store,
		metrics:        metrics,
		sseBroadcaster: broadcaster,
		router:         chi.NewRouter(),
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Service) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/ready", s.handleReady)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireReady)
		r.Get("/api/stats", s.handleStats)
		r.Post("/api/runs/embeddings", s.handleRunEmbeddings)
		r.Post("/api/runs/clustering", s.handleRunClustering)
		r.Get("/api/clusters", s.handleListClusters)
		r.Get("/api/clusters/{id}", s.handleGetCluster)
		r.Delete("/api/clusters/{id}", s.handleDeleteCluster)
		r.Get("/api/events", s.sseBroadcaster.HandleSSE)
	})
}

// Handler returns the HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Broadcaster returns the event broadcaster.
func (s *Service) Broadcaster() *sse.Broadcaster {
	return s.sseBroadcaster
}

// PublishRun streams a finished run to event subscribers.
func (s *Service) PublishRun(ev pipeline.Event) {
	s.sseBroadcaster.Broadcast("run", ev)
}

// Start listens on the configured address and serves in the background.
func (s *Service) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}
	s.ready.Store(true)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()
	log.Info().Str("addr", ln.Addr().String()).Str("version", s.version).Msg("HTTP server started")
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
// Runs triggered over HTTP are canceled.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	s.cancel()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// requireReady rejects API requests until the service is ready.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeError(w, http.StatusServiceUnavailable, "service not ready")
			return
		}
		next.ServeHTTP(w, r)
	})
}
