// Package gorm provides GORM-based database operations for newscluster.
package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/newscluster/pkg/models"
)

// ClusterStore provides cluster-related database operations using GORM.
type ClusterStore struct {
	db *gorm.DB
}

// NewClusterStore creates a new cluster store.
func NewClusterStore(store *Store) *ClusterStore {
	return &ClusterStore{db: store.DB}
}

// SaveRun persists the validated clusters of one run in a single transaction.
// Either every cluster and item is stored or none is.
func (s *ClusterStore) SaveRun(ctx context.Context, runAt time.Time, clusters []models.ValidatedCluster) (int, error) {
	if len(clusters) == 0 {
		return 0, nil
	}

	saved := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, vc := range clusters {
			row := &Cluster{
				CreatedAt: runAt.UTC(),
				Label:     vc.Label(runAt),
				Theme:     vc.Theme,
			}
			if err := tx.Omit(clause.Associations).Create(row).Error; err != nil {
				return fmt.Errorf("insert cluster %s: %w", row.Label, err)
			}

			items := make([]ClusterItem, 0, len(vc.ArticleIDs))
			for _, id := range vc.ArticleIDs {
				items = append(items, ClusterItem{ClusterID: row.ID, NewsID: id})
			}
			if len(items) > 0 {
				if err := tx.Create(&items).Error; err != nil {
					return fmt.Errorf("insert items of cluster %s: %w", row.Label, err)
				}
			}
			saved++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return saved, nil
}

// clusterRank is one row of the item-count ranking.
type clusterRank struct {
	ClusterID int64
	Items     int64
}

// ListClusters returns a page of clusters ordered by member count, largest first.
func (s *ClusterStore) ListClusters(ctx context.Context, page, perPage int) (*models.ClusterPage, error) {
	page, perPage = normalizePage(page, perPage)

	var total int64
	if err := s.db.WithContext(ctx).Model(&Cluster{}).Count(&total).Error; err != nil {
		return nil, err
	}

	result := &models.ClusterPage{
		Clusters: []models.Cluster{},
		Total:    total,
		Page:     page,
		PerPage:  perPage,
	}
	if total == 0 {
		return result, nil
	}

	var ranks []clusterRank
	err := s.db.WithContext(ctx).
		Table("news_clusters AS c").
		Select("c.cluster_id AS cluster_id, COUNT(i.id) AS items").
		Joins("LEFT JOIN news_cluster_items AS i ON i.cluster_id = c.cluster_id").
		Group("c.cluster_id").
		Order("items DESC, c.cluster_id DESC").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Scan(&ranks).Error
	if err != nil {
		return nil, err
	}
	if len(ranks) == 0 {
		return result, nil
	}

	ids := make([]int64, len(ranks))
	for i, r := range ranks {
		ids[i] = r.ClusterID
	}

	var rows []Cluster
	err = s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("cluster_id IN ?", ids).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*Cluster, len(rows))
	for i := range rows {
		byID[rows[i].ID] = &rows[i]
	}
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			result.Clusters = append(result.Clusters, toModelCluster(c))
		}
	}
	return result, nil
}

// GetCluster returns one cluster with its items, or nil when it does not exist.
func (s *ClusterStore) GetCluster(ctx context.Context, id int64) (*models.Cluster, error) {
	var row Cluster
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("cluster_id = ?", id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c := toModelCluster(&row)
	return &c, nil
}

// DeleteCluster removes a cluster; its items go with it through the cascading foreign key.
// It reports whether a cluster was deleted.
func (s *ClusterStore) DeleteCluster(ctx context.Context, id int64) (bool, error) {
	result := s.db.WithContext(ctx).Where("cluster_id = ?", id).Delete(&Cluster{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Count returns the total number of stored clusters.
func (s *ClusterStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Cluster{}).Count(&count).Error
	return count, err
}
