// Package pipeline runs the embedding ingestion and event clustering stages.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/thebtf/newscluster/internal/vector"
	"github.com/thebtf/newscluster/pkg/models"
)

// ErrInvalidParams is returned for unusable run parameters.
var ErrInvalidParams = errors.New("invalid run parameters")

// EmbeddingRepository is the embedding store as seen by the pipeline.
// gorm.EmbeddingStore implements it.
type EmbeddingRepository interface {
	ExistingIDs(ctx context.Context, ids []int64) (map[int64]struct{}, error)
	// Insert returns false when the article already has an embedding.
	Insert(ctx context.Context, article models.Article, text string, vec vector.Vector) (bool, error)
	ListSince(ctx context.Context, since time.Time) ([]models.EmbeddedArticle, error)
}

// ClusterRepository persists validated clusters. gorm.ClusterStore implements it.
type ClusterRepository interface {
	SaveRun(ctx context.Context, runAt time.Time, clusters []models.ValidatedCluster) (int, error)
}

// SubclusterRefiner splits one raw cluster into named sub-clusters.
// refine.Refiner implements it.
type SubclusterRefiner interface {
	Refine(ctx context.Context, rawLabel int, articles []models.ArticleDigest) ([]models.SubCluster, error)
	MinMembers() int
}
