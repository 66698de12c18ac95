package articles

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thebtf/newscluster/pkg/models"
)

// PostgresSource reads articles through a pgx connection pool.
type PostgresSource struct {
	pool          *pgxpool.Pool
	table         string
	summaryColumn string
}

var _ Store = (*PostgresSource)(nil)

// NewPostgresSource connects to a Postgres article database.
func NewPostgresSource(ctx context.Context, cfg Config) (*PostgresSource, error) {
	table, column, err := resolveColumns(cfg.Table, cfg.Locale)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect article store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping article store: %w", err)
	}

	return &PostgresSource{pool: pool, table: table, summaryColumn: column}, nil
}

// FetchSummarized implements Source.
func (s *PostgresSource) FetchSummarized(ctx context.Context, since time.Time) ([]models.Article, error) {
	query, args, err := buildQuery(s.table, s.summaryColumn, since, sq.Dollar)
	if err != nil {
		return nil, fmt.Errorf("build article query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

// Close releases the connection pool.
func (s *PostgresSource) Close() {
	s.pool.Close()
}
