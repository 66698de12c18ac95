// Package gorm provides GORM-based database operations for newscluster.
package gorm

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/newscluster/internal/vector"
	"github.com/thebtf/newscluster/pkg/models"
)

// existsBatchSize bounds the IN list of ExistingIDs.
const existsBatchSize = 500

// EmbeddingStore provides embedding-related database operations using GORM.
type EmbeddingStore struct {
	db *gorm.DB
}

// NewEmbeddingStore creates a new embedding store.
func NewEmbeddingStore(store *Store) *EmbeddingStore {
	return &EmbeddingStore{db: store.DB}
}

// Exists reports whether an embedding is stored for the article.
func (s *EmbeddingStore) Exists(ctx context.Context, newsID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Embedding{}).
		Where("news_id = ?", newsID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ExistingIDs returns the subset of ids that already have an embedding.
func (s *EmbeddingStore) ExistingIDs(ctx context.Context, ids []int64) (map[int64]struct{}, error) {
	existing := make(map[int64]struct{})
	for start := 0; start < len(ids); start += existsBatchSize {
		end := start + existsBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		var found []int64
		err := s.db.WithContext(ctx).
			Model(&Embedding{}).
			Where("news_id IN ?", ids[start:end]).
			Pluck("news_id", &found).Error
		if err != nil {
			return nil, err
		}
		for _, id := range found {
			existing[id] = struct{}{}
		}
	}
	return existing, nil
}

// Insert stores the embedding of an article. It returns false without error
// when a row for the article already exists, e.g. written by a concurrent run.
func (s *EmbeddingStore) Insert(ctx context.Context, article models.Article, text string, vec vector.Vector) (bool, error) {
	row := &Embedding{
		NewsID:    article.ID,
		Title:     article.Title,
		Summary:   text,
		Embedding: vec,
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "news_id"}},
			DoNothing: true,
		}).
		Create(row)
	if result.Error != nil {
		return false, fmt.Errorf("insert embedding for article %d: %w", article.ID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListSince returns embeddings created at or after since, oldest first.
func (s *EmbeddingStore) ListSince(ctx context.Context, since time.Time) ([]models.EmbeddedArticle, error) {
	var rows []Embedding
	err := s.db.WithContext(ctx).
		Where("created_at >= ?", since.UTC()).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]models.EmbeddedArticle, len(rows))
	for i := range rows {
		out[i] = models.EmbeddedArticle{
			ArticleDigest: toModelDigest(&rows[i]),
			Vector:        rows[i].Embedding,
			CreatedAt:     rows[i].CreatedAt,
		}
	}
	return out, nil
}

// Count returns the total number of stored embeddings.
func (s *EmbeddingStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Embedding{}).Count(&count).Error
	return count, err
}
