// Package gorm provides GORM-based database operations for newscluster.
package gorm

import (
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/newscluster/internal/vector"
	"github.com/thebtf/newscluster/pkg/models"
)

// GORM Models

// Embedding is the persisted vector of one article. Rows are written once
// and never updated; news_id uniqueness makes ingestion idempotent.
type Embedding struct {
	ID        int64         `gorm:"primaryKey;autoIncrement"`
	NewsID    int64         `gorm:"uniqueIndex:idx_news_embeddings_news_id;not null"`
	Title     string        `gorm:"type:text"`
	Summary   string        `gorm:"type:text"` // text that was actually embedded
	Embedding vector.Vector `gorm:"not null"`
	CreatedAt time.Time     `gorm:"index:idx_news_embeddings_created_at;not null"`
}

func (Embedding) TableName() string { return "news_embeddings" }

// BeforeCreate hook to ensure timestamps are set.
func (e *Embedding) BeforeCreate(tx *gorm.DB) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return nil
}

// Cluster is a refined event cluster produced by one clustering run.
type Cluster struct {
	ID        int64         `gorm:"column:cluster_id;primaryKey;autoIncrement"`
	CreatedAt time.Time     `gorm:"index:idx_news_clusters_created_at;not null"`
	Label     string        `gorm:"type:text"`
	Theme     string        `gorm:"type:text"`
	Items     []ClusterItem `gorm:"foreignKey:ClusterID;references:ID;constraint:OnDelete:CASCADE"`
}

func (Cluster) TableName() string { return "news_clusters" }

// BeforeCreate hook to ensure timestamps are set.
func (c *Cluster) BeforeCreate(tx *gorm.DB) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return nil
}

// ClusterItem is one article membership of a cluster. The same article may
// appear in clusters of different runs.
type ClusterItem struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	ClusterID int64 `gorm:"index:idx_news_cluster_items_cluster_id;not null"`
	NewsID    int64 `gorm:"index:idx_news_cluster_items_news_id;not null"`
}

func (ClusterItem) TableName() string { return "news_cluster_items" }

func toModelDigest(e *Embedding) models.ArticleDigest {
	return models.ArticleDigest{
		ID:      e.NewsID,
		Title:   e.Title,
		Summary: e.Summary,
	}
}

func toModelCluster(c *Cluster) models.Cluster {
	items := make([]models.ClusterItem, len(c.Items))
	for i, it := range c.Items {
		items[i] = models.ClusterItem{
			ID:        it.ID,
			ClusterID: it.ClusterID,
			NewsID:    it.NewsID,
		}
	}
	return models.Cluster{
		ID:        c.ID,
		CreatedAt: c.CreatedAt,
		Label:     c.Label,
		Theme:     c.Theme,
		Items:     items,
	}
}
