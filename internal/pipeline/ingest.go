package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/newscluster/internal/articles"
	"github.com/thebtf/newscluster/internal/textprep"
	"github.com/thebtf/newscluster/internal/vector"
	"github.com/thebtf/newscluster/pkg/models"
)

// IngestReport counts the outcome of one ingestion pass.
type IngestReport struct {
	Fetched  int `json:"fetched"`
	Skipped  int `json:"skipped"`
	Embedded int `json:"embedded"`
	Failed   int `json:"failed"`
}

// Ingestor embeds recently summarized articles that have no embedding yet.
type Ingestor struct {
	source      articles.Source
	embedder    vector.Embedder
	store       EmbeddingRepository
	now         func() time.Time
	concurrency int
}

// NewIngestor creates an Ingestor. A concurrency below 2 processes articles one by one.
func NewIngestor(source articles.Source, embedder vector.Embedder, store EmbeddingRepository, concurrency int) *Ingestor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Ingestor{
		source:      source,
		embedder:    embedder,
		store:       store,
		now:         time.Now,
		concurrency: concurrency,
	}
}

type outcome int

const (
	outcomeEmbedded outcome = iota
	outcomeSkipped
	outcomeFailed
)

// Ingest embeds the articles published within window. Failures of single
// articles are logged and counted; only a failure to read the article store
// or the set of already embedded ids aborts the pass.
func (i *Ingestor) Ingest(ctx context.Context, window time.Duration) (IngestReport, error) {
	var report IngestReport
	logger := zerolog.Ctx(ctx)

	since := i.now().Add(-window)
	fetched, err := i.source.FetchSummarized(ctx, since)
	if err != nil {
		return report, fmt.Errorf("fetch articles: %w", err)
	}
	report.Fetched = len(fetched)
	if len(fetched) == 0 {
		return report, nil
	}

	ids := make([]int64, len(fetched))
	for n, a := range fetched {
		ids[n] = a.ID
	}
	existing, err := i.store.ExistingIDs(ctx, ids)
	if err != nil {
		return report, fmt.Errorf("load embedded ids: %w", err)
	}

	pending := make([]models.Article, 0, len(fetched))
	seen := make(map[int64]struct{}, len(fetched))
	for _, a := range fetched {
		if _, ok := existing[a.ID]; ok {
			report.Skipped++
			continue
		}
		if _, ok := seen[a.ID]; ok {
			report.Skipped++
			continue
		}
		seen[a.ID] = struct{}{}
		pending = append(pending, a)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(i.concurrency)
	for _, a := range pending {
		if ctx.Err() != nil {
			break
		}
		a := a
		g.Go(func() error {
			res := i.embedOne(ctx, a)
			mu.Lock()
			switch res {
			case outcomeEmbedded:
				report.Embedded++
			case outcomeSkipped:
				report.Skipped++
			case outcomeFailed:
				report.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return report, err
	}

	logger.Debug().
		Int("fetched", report.Fetched).
		Int("pending", len(pending)).
		Msg("Ingestion pass finished")
	return report, nil
}

func (i *Ingestor) embedOne(ctx context.Context, a models.Article) outcome {
	logger := zerolog.Ctx(ctx)

	text := textprep.EmbeddingText(a)
	if text == "" {
		logger.Warn().Int64("news_id", a.ID).Msg("Article has neither summary nor title")
		return outcomeFailed
	}

	vec, err := i.embedder.Embed(ctx, text)
	if err != nil {
		logger.Warn().Err(err).Int64("news_id", a.ID).Msg("Embedding failed")
		return outcomeFailed
	}

	inserted, err := i.store.Insert(ctx, a, text, vec)
	if err != nil {
		logger.Warn().Err(err).Int64("news_id", a.ID).Msg("Storing embedding failed")
		return outcomeFailed
	}
	if !inserted {
		logger.Debug().Int64("news_id", a.ID).Msg("Embedding stored by a concurrent run")
		return outcomeSkipped
	}
	return outcomeEmbedded
}
