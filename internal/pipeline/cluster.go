package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/thebtf/newscluster/pkg/models"
	"github.com/thebtf/newscluster/pkg/similarity"
)

// Clustering defaults.
const (
	DefaultClusterWindow    = 24 * time.Hour
	DefaultMinClusterSize   = 3
	DefaultMinSamples       = 2
	DefaultSelectionEpsilon = 0.3
)

// ClusterParams configures one clustering run.
type ClusterParams struct {
	Window           time.Duration `json:"window"`
	SelectionEpsilon float64       `json:"selection_epsilon"`
	MinClusterSize   int           `json:"min_cluster_size"`
	// MinSamples of zero uses MinClusterSize.
	MinSamples int `json:"min_samples"`
}

// DefaultClusterParams returns the parameters used when none are given.
func DefaultClusterParams() ClusterParams {
	return ClusterParams{
		Window:           DefaultClusterWindow,
		MinClusterSize:   DefaultMinClusterSize,
		MinSamples:       DefaultMinSamples,
		SelectionEpsilon: DefaultSelectionEpsilon,
	}
}

// Validate checks the parameters.
func (p ClusterParams) Validate() error {
	switch {
	case p.Window <= 0:
		return fmt.Errorf("%w: window must be positive", ErrInvalidParams)
	case p.MinClusterSize < 2:
		return fmt.Errorf("%w: min cluster size must be at least 2", ErrInvalidParams)
	case p.MinSamples < 0:
		return fmt.Errorf("%w: min samples must not be negative", ErrInvalidParams)
	case p.SelectionEpsilon < 0:
		return fmt.Errorf("%w: selection epsilon must not be negative", ErrInvalidParams)
	}
	return nil
}

// ClusterResult holds the raw clusters of one run. Raw labels are only
// meaningful within the result.
type ClusterResult struct {
	Groups           map[int][]models.ArticleDigest
	Loaded           int
	Noise            int
	InsufficientData bool
}

// Labels returns the raw labels in ascending order.
func (r ClusterResult) Labels() []int {
	labels := make([]int, 0, len(r.Groups))
	for l := range r.Groups {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	return labels
}

// Clusterer groups recent embeddings into raw event clusters.
type Clusterer struct {
	store EmbeddingRepository
	now   func() time.Time
}

// NewClusterer creates a Clusterer reading from store.
func NewClusterer(store EmbeddingRepository) *Clusterer {
	return &Clusterer{store: store, now: time.Now}
}

// Cluster loads the embeddings created within the window and runs HDBSCAN
// over them. Fewer embeddings than the minimum cluster size is not an error
// and yields InsufficientData.
func (c *Clusterer) Cluster(ctx context.Context, params ClusterParams) (ClusterResult, error) {
	if err := params.Validate(); err != nil {
		return ClusterResult{}, err
	}

	rows, err := c.store.ListSince(ctx, c.now().Add(-params.Window))
	if err != nil {
		return ClusterResult{}, fmt.Errorf("load embeddings: %w", err)
	}

	result := ClusterResult{Loaded: len(rows), Groups: map[int][]models.ArticleDigest{}}
	if len(rows) < params.MinClusterSize {
		result.InsufficientData = true
		return result, nil
	}

	points := make([][]float32, len(rows))
	for i := range rows {
		points[i] = rows[i].Vector
	}

	hdb, err := similarity.HDBSCAN(points, similarity.HDBSCANConfig{
		MinClusterSize:     params.MinClusterSize,
		MinSamples:         params.MinSamples,
		SelectionEpsilon:   params.SelectionEpsilon,
		AllowSingleCluster: true,
	})
	if err != nil {
		return ClusterResult{}, fmt.Errorf("hdbscan: %w", err)
	}
	result.Noise = hdb.Noise

	for label, members := range hdb.Groups() {
		if len(members) < params.MinClusterSize {
			zerolog.Ctx(ctx).Debug().
				Int("raw_label", label).
				Int("size", len(members)).
				Msg("Dropping undersized cluster")
			continue
		}
		group := make([]models.ArticleDigest, len(members))
		for i, idx := range members {
			group[i] = rows[idx].ArticleDigest
		}
		result.Groups[label] = group
	}
	return result, nil
}
