package synth

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austinkregel/local-media/sonifyd/internal/powermatrix"
)

var (
	testBaseMIDI = []float64{36, 48, 60, 72, 84}
	testDegrees  = []float64{0, 2, 4, 5, 7, 9, 11, 12}
)

func publish(t *testing.T, rows [][]float64) *powermatrix.Matrix {
	t.Helper()
	m, err := powermatrix.NewStore(len(rows), len(rows[0])).Publish(rows)
	require.NoError(t, err)
	return m
}

func filled(channels, bands int, v float64) [][]float64 {
	rows := make([][]float64, channels)
	for ch := range rows {
		rows[ch] = make([]float64, bands)
		for b := range rows[ch] {
			rows[ch][b] = v
		}
	}
	return rows
}

func TestMIDIToHz(t *testing.T) {
	tests := []struct {
		midi float64
		hz   float64
	}{
		{69, 440},
		{81, 880},
		{57, 220},
		{60, 261.6255653},
		{36, 65.4063913},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.hz, MIDIToHz(tt.midi), 1e-6, "midi %g", tt.midi)
	}
}

func TestFrequencyMap(t *testing.T) {
	fm := NewFrequencyMap(testBaseMIDI, testDegrees)
	assert.Equal(t, 8, fm.Channels())
	assert.Equal(t, 5, fm.Bands())
	// Channel 7 is an octave above channel 0
	assert.InDelta(t, 2*fm.At(0, 2), fm.At(7, 2), 1e-9)
	assert.InDelta(t, MIDIToHz(48+4), fm.At(2, 1), 1e-9)
}

func TestZeroMatrixRendersSilence(t *testing.T) {
	r := NewRenderer(48000, NewFrequencyMap(testBaseMIDI, testDegrees), 0.3)
	out := r.Render(powermatrix.Zeros(8, 5), 512)

	require.Len(t, out, 1024)
	for _, s := range out {
		assert.Zero(t, s)
	}
}

func TestNilAndMismatchedSnapshotsRenderSilence(t *testing.T) {
	r := NewRenderer(48000, NewFrequencyMap(testBaseMIDI, testDegrees), 0.3)

	for name, m := range map[string]*powermatrix.Matrix{
		"nil":        nil,
		"empty":      powermatrix.Zeros(0, 0),
		"mismatched": publish(t, filled(4, 5, 1)),
	} {
		t.Run(name, func(t *testing.T) {
			before := r.Phase()
			var out []float32
			assert.NotPanics(t, func() { out = r.Render(m, 256) })
			for _, s := range out {
				assert.Zero(t, s)
			}
			assert.NotEqual(t, before, r.Phase(), "phases should free-run")
		})
	}
}

func TestSaturationStaysInsideUnitRange(t *testing.T) {
	r := NewRenderer(48000, NewFrequencyMap(testBaseMIDI, testDegrees), 0.3)
	m := publish(t, filled(8, 5, 1))

	// A huge drive pushes tanh to exactly 1.0 in float32 without the clamp
	hot := NewRenderer(48000, NewFrequencyMap(testBaseMIDI, testDegrees), 1000)

	for _, rr := range []*Renderer{r, hot} {
		for range 8 {
			for _, s := range rr.Render(m, 512) {
				require.Less(t, s, float32(1))
				require.Greater(t, s, float32(-1))
			}
		}
	}
}

func TestPhaseContinuityAcrossBlocks(t *testing.T) {
	const (
		sr     = 48000.0
		drive  = 0.3
		frames = 512
	)
	// Single oscillator on the left: channel 0 of two, one band
	fm := NewFrequencyMap([]float64{69}, []float64{0, 0})
	r := NewRenderer(sr, fm, drive)
	m := publish(t, [][]float64{{1}, {0}})

	first := r.Render(m, frames)
	second := r.Render(m, frames)

	for k := range frames {
		want0 := math.Tanh(drive * math.Sin(2*math.Pi*440*float64(k)/sr))
		want1 := math.Tanh(drive * math.Sin(2*math.Pi*440*float64(frames+k)/sr))
		require.InDelta(t, want0, first[2*k], 1e-5, "block 1 frame %d", k)
		require.InDelta(t, want1, second[2*k], 1e-5, "block 2 frame %d", k)
	}

	// No jump at the block seam larger than one sample step of the sine
	maxStep := drive * 2 * math.Pi * 440 / sr
	seam := math.Abs(float64(second[0] - first[2*(frames-1)]))
	assert.LessOrEqual(t, seam, maxStep*1.01)
}

func TestStereoSeparation(t *testing.T) {
	r := NewRenderer(48000, NewFrequencyMap(testBaseMIDI, testDegrees), 0.3)

	leftOnly := filled(8, 5, 0)
	leftOnly[1][2] = 1
	out := r.Render(publish(t, leftOnly), 512)

	var leftEnergy float64
	for k := range 512 {
		leftEnergy += float64(out[2*k] * out[2*k])
		require.Zero(t, out[2*k+1], "right frame %d", k)
	}
	assert.Greater(t, leftEnergy, 0.0)

	rightOnly := filled(8, 5, 0)
	rightOnly[6][0] = 1
	out = r.Render(publish(t, rightOnly), 512)
	for k := range 512 {
		require.Zero(t, out[2*k], "left frame %d", k)
	}
}

func TestPhaseWrapsIntoRange(t *testing.T) {
	r := NewRenderer(48000, NewFrequencyMap(testBaseMIDI, testDegrees), 0.3)
	m := publish(t, filled(8, 5, 0.5))

	for range 200 {
		r.Render(m, 480)
	}
	for _, row := range r.Phase() {
		for _, p := range row {
			assert.GreaterOrEqual(t, p, 0.0)
			assert.Less(t, p, 2*math.Pi)
		}
	}
}

func TestRenderIntoOddBuffer(t *testing.T) {
	r := NewRenderer(48000, NewFrequencyMap(testBaseMIDI, testDegrees), 0.3)
	dst := []float32{9, 9, 9}
	r.RenderInto(dst, powermatrix.Zeros(8, 5))
	assert.Equal(t, []float32{0, 0, 0}, dst)
}

func TestRenderNegativeFrames(t *testing.T) {
	r := NewRenderer(48000, NewFrequencyMap(testBaseMIDI, testDegrees), 0.3)
	var out []float32
	assert.NotPanics(t, func() {
		out = r.Render(publish(t, filled(8, 5, 1)), -5)
	})
	assert.Empty(t, out)
}
