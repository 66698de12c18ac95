package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVector_ValueScanRoundTrip(t *testing.T) {
	v := Vector{0.5, -1, 2.25}

	raw, err := v.Value()
	require.NoError(t, err)
	assert.Equal(t, "[0.5,-1,2.25]", raw)

	var got Vector
	require.NoError(t, got.Scan(raw))
	assert.Equal(t, v, got)
}

func TestVector_Scan(t *testing.T) {
	tests := []struct {
		name    string
		src     any
		want    Vector
		wantErr bool
	}{
		{name: "nil", src: nil, want: nil},
		{name: "bytes", src: []byte("[1,2]"), want: Vector{1, 2}},
		{name: "pgvector spacing", src: " [1, 2.5] ", want: Vector{1, 2.5}},
		{name: "empty string", src: "", want: nil},
		{name: "garbage", src: "not a vector", wantErr: true},
		{name: "unsupported type", src: 42, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v Vector
			err := v.Scan(tt.src)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestVector_NilValue(t *testing.T) {
	var v Vector
	raw, err := v.Value()
	require.NoError(t, err)
	assert.Nil(t, raw)
}
