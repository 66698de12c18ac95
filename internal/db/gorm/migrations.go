// Package gorm provides GORM-based database operations for newscluster.
package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: pgvector extension (Postgres only)
		{
			ID: "001_vector_extension",
			Migrate: func(tx *gorm.DB) error {
				if tx.Dialector.Name() != DriverPostgres {
					return nil
				}
				return tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error
			},
			Rollback: func(tx *gorm.DB) error {
				return nil
			},
		},

		// Migration 002: Embedding store
		{
			ID: "002_news_embeddings",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&Embedding{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("news_embeddings")
			},
		},

		// Migration 003: Cluster store (clusters + items with cascading FK)
		{
			ID: "003_news_clusters",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&Cluster{}, &ClusterItem{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("news_cluster_items", "news_clusters")
			},
		},
	})

	return m.Migrate()
}
