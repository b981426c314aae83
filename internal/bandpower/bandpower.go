// Package bandpower estimates average signal power in fixed frequency bands
// from a window of single-channel samples.
package bandpower

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Band is a half-open frequency range [Low, High) in Hz
type Band struct {
	Name string
	Low  float64
	High float64
}

// Estimator turns one channel's samples into one power value per band.
// Implementations are deterministic and keep no state between calls.
type Estimator interface {
	Estimate(window []float64, sampleRate float64) []float64
	Bands() []Band
}

// New returns the estimator registered under name ("welch" or "periodogram")
func New(name string, bands []Band) (Estimator, error) {
	switch name {
	case "", "welch":
		return NewWelch(bands), nil
	case "periodogram":
		return NewPeriodogram(bands), nil
	default:
		return nil, fmt.Errorf("unknown band power estimator %q", name)
	}
}

// ChannelPowers applies est to every channel of window, shaped [channel][sample],
// and returns [channel][band]
func ChannelPowers(est Estimator, window [][]float64, sampleRate float64) [][]float64 {
	out := make([][]float64, len(window))
	for ch, samples := range window {
		out[ch] = est.Estimate(samples, sampleRate)
	}
	return out
}

// detrend returns a copy of x with its mean removed
func detrend(x []float64) []float64 {
	mean := stat.Mean(x, nil)
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v - mean
	}
	return out
}

// integrate sums a one-sided density spectrum over each band. freqStep is the
// bin spacing in Hz.
func integrate(bands []Band, psd []float64, freqStep float64) []float64 {
	powers := make([]float64, len(bands))
	for b, band := range bands {
		var sum float64
		for i, p := range psd {
			f := float64(i) * freqStep
			if f >= band.Low && f < band.High {
				sum += p
			}
		}
		powers[b] = sum * freqStep
	}
	return powers
}

// floorPow2 returns the largest power of two <= n, or 0 for n < 1
func floorPow2(n int) int {
	if n < 1 {
		return 0
	}
	p := 1
	for p*2 <= n {
		p *= 2
	}
	return p
}
