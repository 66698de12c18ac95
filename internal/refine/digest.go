// Package refine asks a text-generation oracle to split statistical clusters
// into named events and validates what it answers.
package refine

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/tiktoken-go/tokenizer"

	"github.com/thebtf/newscluster/pkg/models"
)

// Digest defaults.
const (
	DefaultSummaryRunes = 200
	DefaultTokenBudget  = 6000
)

// DigestBuilder renders the bounded article list sent to the oracle.
type DigestBuilder struct {
	codec        tokenizer.Codec
	summaryRunes int
	tokenBudget  int
}

// NewDigestBuilder creates a builder. A tokenBudget of zero or less disables the budget.
func NewDigestBuilder(summaryRunes, tokenBudget int) (*DigestBuilder, error) {
	if summaryRunes <= 0 {
		summaryRunes = DefaultSummaryRunes
	}
	b := &DigestBuilder{summaryRunes: summaryRunes, tokenBudget: tokenBudget}
	if tokenBudget > 0 {
		codec, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return nil, fmt.Errorf("load tokenizer: %w", err)
		}
		b.codec = codec
	}
	return b, nil
}

// Build returns the JSON digest and the articles it includes. Articles are
// added in order until the token budget is spent; the first one always fits.
func (b *DigestBuilder) Build(articles []models.ArticleDigest) ([]byte, []models.ArticleDigest, error) {
	entries := make([]models.ArticleDigest, 0, len(articles))
	used := 0
	for _, a := range articles {
		entry := models.ArticleDigest{
			ID:      a.ID,
			Title:   a.Title,
			Summary: truncate(a.Summary, b.summaryRunes),
		}
		if b.codec != nil {
			n, err := b.countTokens(entry)
			if err != nil {
				return nil, nil, err
			}
			if len(entries) > 0 && used+n > b.tokenBudget {
				break
			}
			used += n
		}
		entries = append(entries, entry)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("marshal digest: %w", err)
	}

	included := make([]models.ArticleDigest, len(entries))
	for i, e := range entries {
		included[i] = articles[i]
		included[i].Summary = e.Summary
	}
	return data, included, nil
}

func (b *DigestBuilder) countTokens(entry models.ArticleDigest) (int, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("marshal digest entry: %w", err)
	}
	ids, _, err := b.codec.Encode(string(data))
	if err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return len(ids), nil
}

// truncate cuts s to maxRunes runes and marks the cut with "...".
func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}
