package bandpower

import (
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Periodogram takes a single Hann-windowed FFT over the whole window. It has
// finer frequency resolution than Welch and a noisier estimate.
type Periodogram struct {
	bands []Band

	mu   sync.Mutex
	ffts map[int]*fourier.FFT
}

// NewPeriodogram creates a periodogram estimator over bands
func NewPeriodogram(bands []Band) *Periodogram {
	return &Periodogram{
		bands: append([]Band(nil), bands...),
		ffts:  make(map[int]*fourier.FFT),
	}
}

// Bands returns the estimator's bands
func (p *Periodogram) Bands() []Band {
	return p.bands
}

// Estimate returns the power in each band; an empty window yields zeros
func (p *Periodogram) Estimate(samples []float64, sampleRate float64) []float64 {
	n := len(samples)
	if n < 2 {
		return make([]float64, len(p.bands))
	}

	win := make([]float64, n)
	for i := range win {
		win[i] = 1
	}
	window.Hann(win)
	var norm float64
	for _, w := range win {
		norm += w * w
	}

	windowed := detrend(samples)
	for i := range windowed {
		windowed[i] *= win[i]
	}

	// fourier.FFT holds scratch space, so calls serialize on the plan
	p.mu.Lock()
	fft, ok := p.ffts[n]
	if !ok {
		fft = fourier.NewFFT(n)
		p.ffts[n] = fft
	}
	coeffs := fft.Coefficients(nil, windowed)
	p.mu.Unlock()

	// One-sided density: double everything but DC and (for even n) Nyquist
	psd := make([]float64, len(coeffs))
	scale := norm * sampleRate
	for i, c := range coeffs {
		mag := real(c)*real(c) + imag(c)*imag(c)
		d := mag / scale
		if i > 0 && !(n%2 == 0 && i == len(coeffs)-1) {
			d *= 2
		}
		psd[i] = d
	}

	return integrate(p.bands, psd, sampleRate/float64(n))
}

