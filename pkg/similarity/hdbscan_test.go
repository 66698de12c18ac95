package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// around returns n points jittered by step along successive axes of center.
func around(center []float32, n int, step float32) [][]float32 {
	out := make([][]float32, n)
	for i := 0; i < n; i++ {
		p := append([]float32(nil), center...)
		if i > 0 {
			p[(i-1)%len(p)] += step
		}
		out[i] = p
	}
	return out
}

func axis(dim, i int, v float32) []float32 {
	p := make([]float32, dim)
	p[i] = v
	return p
}

func defaultConfig() HDBSCANConfig {
	return HDBSCANConfig{
		MinClusterSize:     3,
		MinSamples:         2,
		SelectionEpsilon:   0.3,
		AllowSingleCluster: true,
	}
}

func TestHDBSCAN_TightGroupAndOutlier(t *testing.T) {
	points := around(axis(8, 0, 1), 4, 0.01)
	points = append(points, axis(8, 7, 10))

	res, err := HDBSCAN(points, defaultConfig())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Clusters)
	assert.Equal(t, 1, res.Noise)
	assert.Equal(t, []int{0, 0, 0, 0, NoiseLabel}, res.Labels)
	assert.Equal(t, map[int][]int{0: {0, 1, 2, 3}}, res.Groups())
}

func TestHDBSCAN_SingleClusterDisallowed(t *testing.T) {
	points := around(axis(8, 0, 1), 4, 0.01)
	points = append(points, axis(8, 7, 10))

	cfg := defaultConfig()
	cfg.AllowSingleCluster = false
	res, err := HDBSCAN(points, cfg)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Clusters)
	assert.Equal(t, 5, res.Noise)
}

func TestHDBSCAN_TwoGroupsAndNoise(t *testing.T) {
	var points [][]float32
	points = append(points, around(axis(6, 0, 5), 4, 0.02)...)
	points = append(points, around(axis(6, 1, 5), 4, 0.02)...)
	points = append(points, axis(6, 5, 20))

	for _, allowSingle := range []bool{true, false} {
		cfg := defaultConfig()
		cfg.AllowSingleCluster = allowSingle
		res, err := HDBSCAN(points, cfg)
		require.NoError(t, err)

		assert.Equal(t, 2, res.Clusters)
		assert.Equal(t, 1, res.Noise)
		assert.Equal(t, NoiseLabel, res.Labels[8])

		first := res.Labels[0]
		second := res.Labels[4]
		assert.NotEqual(t, first, second)
		for i := 0; i < 4; i++ {
			assert.Equal(t, first, res.Labels[i])
			assert.Equal(t, second, res.Labels[4+i])
		}
	}
}

func TestHDBSCAN_EpsilonMergesCloseSubgroups(t *testing.T) {
	// Two subgroups 0.2 apart form one event; a second event sits far away.
	var points [][]float32
	points = append(points, around(axis(4, 0, 1), 3, 0.005)...)
	points = append(points, around([]float32{1, 0.2, 0, 0}, 3, 0.005)...)
	points = append(points, around(axis(4, 1, 5), 4, 0.005)...)
	points = append(points, axis(4, 3, 30))

	cfg := defaultConfig()
	cfg.SelectionEpsilon = 0
	res, err := HDBSCAN(points, cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Clusters)
	assert.Equal(t, 1, res.Noise)

	for _, allowSingle := range []bool{true, false} {
		cfg = defaultConfig()
		cfg.AllowSingleCluster = allowSingle
		res, err = HDBSCAN(points, cfg)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 0, 0, 0, 0, 0, 1, 1, 1, 1, NoiseLabel}, res.Labels)
	}
}

func TestHDBSCAN_RootKeepsSeparateGroupsApart(t *testing.T) {
	// Two top-level groups 0.2 apart stay separate even with a single cluster allowed.
	var points [][]float32
	points = append(points, around(axis(4, 0, 1), 4, 0.005)...)
	points = append(points, around([]float32{1, 0.2, 0, 0}, 4, 0.005)...)
	points = append(points, axis(4, 3, 30))

	for _, tt := range []struct {
		eps         float64
		allowSingle bool
	}{
		{eps: 0, allowSingle: false},
		{eps: 0.3, allowSingle: false},
		{eps: 0.3, allowSingle: true},
	} {
		cfg := defaultConfig()
		cfg.SelectionEpsilon = tt.eps
		cfg.AllowSingleCluster = tt.allowSingle
		res, err := HDBSCAN(points, cfg)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 0, 0, 0, 1, 1, 1, 1, NoiseLabel}, res.Labels, "eps=%v allowSingle=%v", tt.eps, tt.allowSingle)
	}
}

func TestHDBSCAN_DuplicateVectors(t *testing.T) {
	dup := axis(4, 0, 1)
	points := [][]float32{dup, dup, dup, dup, axis(4, 2, 9)}

	res, err := HDBSCAN(points, defaultConfig())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 0, NoiseLabel}, res.Labels)
}

func TestHDBSCAN_SmallInputs(t *testing.T) {
	res, err := HDBSCAN(nil, defaultConfig())
	require.NoError(t, err)
	assert.Empty(t, res.Labels)
	assert.Zero(t, res.Clusters)

	res, err = HDBSCAN([][]float32{{1, 2}, {1, 2.1}}, defaultConfig())
	require.NoError(t, err)
	assert.Equal(t, []int{NoiseLabel, NoiseLabel}, res.Labels)
	assert.Equal(t, 2, res.Noise)
}

func TestHDBSCAN_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		points [][]float32
		cfg    HDBSCANConfig
		want   error
	}{
		{
			name:   "min cluster size too small",
			points: [][]float32{{1}},
			cfg:    HDBSCANConfig{MinClusterSize: 1},
			want:   ErrInvalidConfig,
		},
		{
			name:   "negative epsilon",
			points: [][]float32{{1}},
			cfg:    HDBSCANConfig{MinClusterSize: 3, SelectionEpsilon: -1},
			want:   ErrInvalidConfig,
		},
		{
			name:   "ragged vectors",
			points: [][]float32{{1, 2}, {1}},
			cfg:    HDBSCANConfig{MinClusterSize: 2},
			want:   ErrDimensionMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := HDBSCAN(tt.points, tt.cfg)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEuclideanDistance(t *testing.T) {
	assert.InDelta(t, 5.0, EuclideanDistance([]float32{0, 0}, []float32{3, 4}), 1e-9)
	assert.InDelta(t, 0.0, EuclideanDistance([]float32{1, 1}, []float32{1, 1}), 1e-9)
}
