// Package models contains domain models for newscluster.
package models

import "time"

// Article is a summarized news article read from the external article store.
type Article struct {
	PublishedAt time.Time `json:"published_at"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	ID          int64     `json:"id"`
}

// ArticleDigest is the snapshot of an embedded article handed to refinement.
// Title and Summary are copies taken at embedding time.
type ArticleDigest struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	ID      int64  `json:"id"`
}

// EmbeddedArticle is a stored embedding together with its article snapshot.
type EmbeddedArticle struct {
	CreatedAt time.Time `json:"created_at"`
	Vector    []float32 `json:"-"`
	ArticleDigest
}
