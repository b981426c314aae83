package processing

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeBaseline(t *testing.T) {
	powers := [][]float64{
		{1, 10},
		{2, 10},
		{3, 10},
	}

	b, err := ComputeBaseline(powers, 1e-6)
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float64{2, 10}, b.Mean, 1e-12)
	// Sample std of {1,2,3} is 1; a constant column floors to eps
	assert.InDelta(t, 1.0, b.Std[0], 1e-12)
	assert.Equal(t, 1e-6, b.Std[1])
	assert.Equal(t, 2, b.Bands())
}

func TestComputeBaselineSingleChannel(t *testing.T) {
	b, err := ComputeBaseline([][]float64{{4, 5, 6}}, 1e-3)
	require.NoError(t, err)

	assert.Equal(t, []float64{4, 5, 6}, b.Mean)
	for _, s := range b.Std {
		assert.Equal(t, 1e-3, s)
	}
}

func TestComputeBaselineRejects(t *testing.T) {
	tests := []struct {
		name   string
		powers [][]float64
	}{
		{"nil", nil},
		{"no bands", [][]float64{{}}},
		{"ragged", [][]float64{{1, 2}, {3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputeBaseline(tt.powers, 1e-6)
			assert.Error(t, err)
		})
	}
}

func TestComputeBaselineRejectsNonFinite(t *testing.T) {
	tests := []struct {
		name   string
		powers [][]float64
	}{
		{"nan", [][]float64{{1, math.NaN()}, {2, 3}}},
		{"inf", [][]float64{{1, 2}, {math.Inf(1), 3}}},
		{"negative inf", [][]float64{{math.Inf(-1), 2}, {1, 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := ComputeBaseline(tt.powers, 1e-6)
			assert.ErrorIs(t, err, ErrNonFinite)
			assert.Nil(t, b)
		})
	}
}

func TestNormalizeClipsAndScales(t *testing.T) {
	b := &Baseline{Mean: []float64{10}, Std: []float64{2}}

	tests := []struct {
		power float64
		want  float64
	}{
		{4, 0},     // below baseline
		{10, 0},    // at baseline
		{12, 0.25}, // z = 1
		{16, 0.75}, // z = 3
		{18, 1},    // z = 4
		{1000, 1},  // clipped
	}
	for _, tt := range tests {
		got := Normalize([][]float64{{tt.power}}, b, 4)
		assert.InDelta(t, tt.want, got[0][0], 1e-12, "power %g", tt.power)
	}
}

func TestNormalizeBaselineLikeWindowStaysLow(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	draw := func(channels, bands int) [][]float64 {
		out := make([][]float64, channels)
		for ch := range out {
			out[ch] = make([]float64, bands)
			for b := range out[ch] {
				out[ch][b] = 5 + rng.NormFloat64()
			}
		}
		return out
	}

	b, err := ComputeBaseline(draw(256, 5), 1e-6)
	require.NoError(t, err)

	norm := Normalize(draw(256, 5), b, 4)
	var sum float64
	var n int
	for _, row := range norm {
		for _, v := range row {
			require.GreaterOrEqual(t, v, 0.0)
			require.LessOrEqual(t, v, 1.0)
			sum += v
			n++
		}
	}
	// E[max(z,0)]/4 is about 0.1 for a standard normal
	assert.Less(t, sum/float64(n), 0.3)
}

func TestNormalizeZeroPowerIsLow(t *testing.T) {
	b := &Baseline{Mean: []float64{1, 2}, Std: []float64{0.5, 0.5}}
	got := Normalize([][]float64{{0, 0}, {0, 0}}, b, 4)
	for _, row := range got {
		for _, v := range row {
			assert.Zero(t, v)
		}
	}
}

func TestNormalizeNaNBecomesZero(t *testing.T) {
	b := &Baseline{Mean: []float64{0}, Std: []float64{1}}
	got := Normalize([][]float64{{math.NaN()}}, b, 4)
	assert.Zero(t, got[0][0])
}
