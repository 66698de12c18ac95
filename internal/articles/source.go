// Package articles reads summarized news articles from the external article store.
package articles

import (
	"context"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/thebtf/newscluster/pkg/models"
)

// Supported article store drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Source is the read side of the article store.
type Source interface {
	// FetchSummarized returns articles with a summary published at or after since.
	FetchSummarized(ctx context.Context, since time.Time) ([]models.Article, error)
}

// Store is a Source backed by a connection that must be closed.
type Store interface {
	Source
	Close()
}

// Config selects where articles live.
type Config struct {
	Driver string // mysql (default) or postgres
	DSN    string
	Table  string // default "news"
	Locale string // summary locale: ru, kz or en (default ru)
}

// Open connects to the article store selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverMySQL:
		return NewMySQLSource(ctx, cfg)
	case DriverPostgres:
		return NewPostgresSource(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported article store driver %q", cfg.Driver)
	}
}

// Supported summary locales.
var summaryColumns = map[string]string{
	"ru": "summary_ru",
	"kz": "summary_kz",
	"en": "summary_en",
}

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

func resolveColumns(table, locale string) (string, string, error) {
	if table == "" {
		table = "news"
	}
	if !identifierRe.MatchString(table) {
		return "", "", fmt.Errorf("invalid article table name %q", table)
	}
	if locale == "" {
		locale = "ru"
	}
	column, ok := summaryColumns[locale]
	if !ok {
		return "", "", fmt.Errorf("unsupported summary locale %q", locale)
	}
	return table, column, nil
}

// buildQuery renders the article selection for the given cutoff with the
// placeholder style of the target database.
func buildQuery(table, summaryColumn string, since time.Time, format sq.PlaceholderFormat) (string, []any, error) {
	return sq.Select("id", "title", "COALESCE("+summaryColumn+", '')", "published_at").
		From(table).
		Where(sq.Eq{"has_summary": true}).
		Where(sq.GtOrEq{"published_at": since.UTC()}).
		OrderBy("published_at ASC", "id ASC").
		PlaceholderFormat(format).
		ToSql()
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanArticles(rows rowScanner) ([]models.Article, error) {
	var out []models.Article
	for rows.Next() {
		var a models.Article
		if err := rows.Scan(&a.ID, &a.Title, &a.Summary, &a.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}
