package similarity

import (
	"errors"
	"fmt"
	"sort"
)

// NoiseLabel marks points that belong to no cluster.
const NoiseLabel = -1

var (
	// ErrInvalidConfig is returned for unusable clustering parameters.
	ErrInvalidConfig = errors.New("invalid hdbscan config")
	// ErrDimensionMismatch is returned when input vectors differ in length.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// HDBSCANConfig configures a density-based clustering run.
type HDBSCANConfig struct {
	// MinClusterSize is the smallest group reported as a cluster. Must be at least 2.
	MinClusterSize int
	// MinSamples is the number of neighbours, excluding the point itself, whose
	// distance defines a point's core distance. Zero means MinClusterSize.
	MinSamples int
	// SelectionEpsilon merges clusters that split apart below this distance.
	SelectionEpsilon float64
	// AllowSingleCluster lets the whole dataset be reported as one cluster
	// when the condensed tree never splits. Once it splits, separate groups
	// are never folded back into the root, even under SelectionEpsilon.
	AllowSingleCluster bool
}

// HDBSCANResult holds the label of every input point.
type HDBSCANResult struct {
	Labels   []int
	Clusters int
	Noise    int
}

// Groups returns member point indexes keyed by cluster label. Noise is excluded.
func (r *HDBSCANResult) Groups() map[int][]int {
	groups := make(map[int][]int, r.Clusters)
	for i, l := range r.Labels {
		if l == NoiseLabel {
			continue
		}
		groups[l] = append(groups[l], i)
	}
	return groups
}

// HDBSCAN clusters points by Euclidean density. Points in low density regions
// are labeled NoiseLabel. Cluster labels are 0..Clusters-1 and only meaningful
// within one result.
func HDBSCAN(points [][]float32, cfg HDBSCANConfig) (*HDBSCANResult, error) {
	if cfg.MinClusterSize < 2 {
		return nil, fmt.Errorf("%w: min cluster size %d < 2", ErrInvalidConfig, cfg.MinClusterSize)
	}
	if cfg.MinSamples < 0 {
		return nil, fmt.Errorf("%w: min samples %d < 0", ErrInvalidConfig, cfg.MinSamples)
	}
	if cfg.SelectionEpsilon < 0 {
		return nil, fmt.Errorf("%w: selection epsilon %v < 0", ErrInvalidConfig, cfg.SelectionEpsilon)
	}

	n := len(points)
	result := &HDBSCANResult{Labels: make([]int, n)}
	for i := range result.Labels {
		result.Labels[i] = NoiseLabel
	}
	if n == 0 {
		return result, nil
	}

	dim := len(points[0])
	for i, p := range points {
		if len(p) != dim {
			return nil, fmt.Errorf("%w: point %d has %d components, want %d", ErrDimensionMismatch, i, len(p), dim)
		}
	}
	if n < cfg.MinClusterSize {
		result.Noise = n
		return result, nil
	}

	minSamples := cfg.MinSamples
	if minSamples == 0 {
		minSamples = cfg.MinClusterSize
	}
	if minSamples > n-1 {
		minSamples = n - 1
	}

	core := coreDistances(points, minSamples)
	links := singleLinkage(minimumSpanningTree(points, core), n)
	edges, numClusters := condenseTree(links, n, cfg.MinClusterSize)
	h := newHierarchy(edges, n, numClusters)

	allowSingle := cfg.AllowSingleCluster && len(h.children[0]) == 0
	selected := h.selectByStability(allowSingle)
	if cfg.SelectionEpsilon > 0 && numClusters > 1 {
		selected = h.mergeBelowEpsilon(selected, cfg.SelectionEpsilon, allowSingle)
	}

	result.Labels = h.label(selected, cfg.SelectionEpsilon)
	seen := make(map[int]struct{})
	for _, l := range result.Labels {
		if l == NoiseLabel {
			result.Noise++
			continue
		}
		seen[l] = struct{}{}
	}
	result.Clusters = len(seen)
	return result, nil
}

// coreDistances returns, for every point, the distance to its k-th nearest other point.
func coreDistances(points [][]float32, k int) []float64 {
	n := len(points)
	core := make([]float64, n)
	row := make([]float64, n)
	for i := range points {
		for j := range points {
			if i == j {
				row[j] = 0
				continue
			}
			row[j] = EuclideanDistance(points[i], points[j])
		}
		sort.Float64s(row)
		// row[0] is the point itself.
		core[i] = row[k]
	}
	return core
}
