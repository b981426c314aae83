package processing

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrEmptyPowers is returned when a baseline is requested from no channels
	ErrEmptyPowers = errors.New("no band powers to compute a baseline from")

	// ErrNonFinite is returned when a calibration window yields a NaN or Inf
	// band mean; installing it would silence every later matrix
	ErrNonFinite = errors.New("non-finite band power in calibration window")
)

// Baseline holds per-band reference statistics. Mean and Std are computed
// across all channels, so every channel is normalized against the same
// reference. This flattens inter-channel differences in resting power and is
// kept that way on purpose.
type Baseline struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// Bands returns the number of bands the baseline covers
func (b *Baseline) Bands() int {
	if b == nil {
		return 0
	}
	return len(b.Mean)
}

// ComputeBaseline reduces powers, shaped [channel][band], to a per-band mean
// and sample standard deviation over the channel axis. Std never drops below
// eps; a single channel has no spread and gets exactly eps. A band whose mean
// is not finite fails with ErrNonFinite.
func ComputeBaseline(powers [][]float64, eps float64) (*Baseline, error) {
	if len(powers) == 0 || len(powers[0]) == 0 {
		return nil, ErrEmptyPowers
	}
	bands := len(powers[0])
	for ch, row := range powers {
		if len(row) != bands {
			return nil, fmt.Errorf("channel %d has %d bands, want %d", ch, len(row), bands)
		}
	}

	b := &Baseline{
		Mean: make([]float64, bands),
		Std:  make([]float64, bands),
	}
	column := make([]float64, len(powers))
	for band := range bands {
		for ch, row := range powers {
			column[ch] = row[band]
		}
		mean, std := stat.MeanStdDev(column, nil)
		if math.IsNaN(mean) || math.IsInf(mean, 0) {
			return nil, fmt.Errorf("band %d: %w", band, ErrNonFinite)
		}
		if math.IsNaN(std) || math.IsInf(std, 0) || std < eps {
			std = eps
		}
		b.Mean[band] = mean
		b.Std[band] = std
	}
	return b, nil
}

// Normalize z-scores powers against the baseline, clips to [0, clip] and
// rescales into [0, 1]. Power below the baseline mean maps to 0.
func Normalize(powers [][]float64, b *Baseline, clip float64) [][]float64 {
	out := make([][]float64, len(powers))
	for ch, row := range powers {
		out[ch] = make([]float64, len(row))
		for band, p := range row {
			z := (p - b.Mean[band]) / b.Std[band]
			if math.IsNaN(z) {
				z = 0
			}
			out[ch][band] = min(max(z, 0), clip) / clip
		}
	}
	return out
}
