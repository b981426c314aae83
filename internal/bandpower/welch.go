package bandpower

import (
	"github.com/mjibson/go-dsp/spectral"
	"github.com/mjibson/go-dsp/window"
)

// Welch averages Hann-windowed periodograms over half-overlapping segments.
// The segment length is the largest power of two not exceeding either the
// window length or one second of samples.
type Welch struct {
	bands []Band
}

// NewWelch creates a Welch estimator over bands
func NewWelch(bands []Band) *Welch {
	return &Welch{bands: append([]Band(nil), bands...)}
}

// Bands returns the estimator's bands
func (w *Welch) Bands() []Band {
	return w.bands
}

// Estimate returns the power in each band; an empty window yields zeros
func (w *Welch) Estimate(samples []float64, sampleRate float64) []float64 {
	nfft := floorPow2(min(len(samples), int(sampleRate)))
	if nfft < 2 {
		return make([]float64, len(w.bands))
	}

	pxx, _ := spectral.Pwelch(detrend(samples), sampleRate, &spectral.PwelchOptions{
		NFFT:     nfft,
		Noverlap: nfft / 2,
		Window:   window.Hann,
	})

	return integrate(w.bands, pxx, sampleRate/float64(nfft))
}
