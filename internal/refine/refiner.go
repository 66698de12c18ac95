package refine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/thebtf/newscluster/pkg/models"
)

// DefaultMinMembers is the smallest raw cluster worth refining and the
// smallest sub-cluster kept.
const DefaultMinMembers = 3

// Config tunes refinement.
type Config struct {
	MinMembers   int
	SummaryRunes int
	TokenBudget  int
}

// Refiner validates raw clusters with the oracle.
type Refiner struct {
	oracle     Oracle
	digest     *DigestBuilder
	minMembers int
}

// New creates a Refiner.
func New(oracle Oracle, cfg Config) (*Refiner, error) {
	minMembers := cfg.MinMembers
	if minMembers <= 0 {
		minMembers = DefaultMinMembers
	}
	digest, err := NewDigestBuilder(cfg.SummaryRunes, cfg.TokenBudget)
	if err != nil {
		return nil, err
	}
	return &Refiner{oracle: oracle, digest: digest, minMembers: minMembers}, nil
}

// MinMembers returns the refinement size gate.
func (r *Refiner) MinMembers() int {
	return r.minMembers
}

// Refine returns the validated sub-clusters of one raw cluster. Clusters
// below the size gate return nothing without calling the oracle. An oracle,
// parse or schema failure returns no sub-clusters and the cause as error;
// callers treat it as local to this cluster.
func (r *Refiner) Refine(ctx context.Context, rawLabel int, articles []models.ArticleDigest) ([]models.SubCluster, error) {
	if len(articles) < r.minMembers {
		return nil, nil
	}

	digest, included, err := r.digest.Build(articles)
	if err != nil {
		return nil, fmt.Errorf("build digest: %w", err)
	}

	raw, err := r.oracle.ProposeSubclusters(ctx, digest)
	if err != nil {
		return nil, fmt.Errorf("oracle: %w", err)
	}

	allowed := make(map[int64]struct{}, len(included))
	for _, a := range included {
		allowed[a.ID] = struct{}{}
	}

	subs, err := ParseResponse(raw, allowed, r.minMembers)
	if err != nil {
		zerolog.Ctx(ctx).Debug().
			Int("raw_label", rawLabel).
			Str("response", truncate(raw, 500)).
			Msg("Rejected oracle response")
		return nil, err
	}

	zerolog.Ctx(ctx).Debug().
		Int("raw_label", rawLabel).
		Int("articles", len(articles)).
		Int("digest_articles", len(included)).
		Int("sub_clusters", len(subs)).
		Msg("Cluster refined")
	return subs, nil
}
