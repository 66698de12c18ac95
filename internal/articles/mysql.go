package articles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/newscluster/pkg/models"
)

// MySQLSource reads articles from the MySQL news database.
type MySQLSource struct {
	db            *sql.DB
	table         string
	summaryColumn string
}

var _ Store = (*MySQLSource)(nil)

// NewMySQLSource connects to a MySQL article database. The DSN uses the
// go-sql-driver format, e.g. user:pass@tcp(127.0.0.1:3307)/newsdb.
func NewMySQLSource(ctx context.Context, cfg Config) (*MySQLSource, error) {
	table, column, err := resolveColumns(cfg.Table, cfg.Locale)
	if err != nil {
		return nil, err
	}

	dsn, err := mysqlConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("connect article store: %w", err)
	}

	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping article store: %w", err)
	}

	return &MySQLSource{db: db, table: table, summaryColumn: column}, nil
}

// mysqlConfig parses dsn and makes DATETIME columns scan into time.Time.
func mysqlConfig(dsn string) (*mysql.Config, error) {
	if strings.Contains(dsn, "://") {
		return nil, errors.New("article store dsn must use the user:pass@tcp(host:port)/db format, got a URL")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse article store dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg, nil
}

// FetchSummarized implements Source.
func (s *MySQLSource) FetchSummarized(ctx context.Context, since time.Time) ([]models.Article, error) {
	query, args, err := buildQuery(s.table, s.summaryColumn, since, sq.Question)
	if err != nil {
		return nil, fmt.Errorf("build article query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

// Close closes the database handle.
func (s *MySQLSource) Close() {
	if err := s.db.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close article store")
	}
}
