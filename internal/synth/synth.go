// Package synth renders the power matrix as additive stereo sine tones.
//
// Every (channel, band) cell drives one oscillator whose pitch is fixed by the
// band's base note plus the channel's scale degree and whose amplitude is the
// cell's normalized power.
package synth

import (
	"fmt"
	"math"

	"github.com/austinkregel/local-media/sonifyd/internal/powermatrix"
)

const twoPi = 2 * math.Pi

// maxSample is the largest float32 strictly below 1
var maxSample = math.Nextafter32(1, 0)

// MIDIToHz converts a (possibly fractional) MIDI note number to Hz, A4 = 69 = 440 Hz
func MIDIToHz(midi float64) float64 {
	return 440 * math.Pow(2, (midi-69)/12)
}

// FrequencyMap is the static (channel, band) → Hz table
type FrequencyMap struct {
	hz [][]float64
}

// NewFrequencyMap computes hz(baseMIDI[band] + degrees[channel]) for every cell
func NewFrequencyMap(baseMIDI, degrees []float64) *FrequencyMap {
	hz := make([][]float64, len(degrees))
	for ch, deg := range degrees {
		hz[ch] = make([]float64, len(baseMIDI))
		for b, base := range baseMIDI {
			hz[ch][b] = MIDIToHz(base + deg)
		}
	}
	return &FrequencyMap{hz: hz}
}

// Channels returns the number of channel rows
func (f *FrequencyMap) Channels() int { return len(f.hz) }

// Bands returns the number of band columns
func (f *FrequencyMap) Bands() int {
	if len(f.hz) == 0 {
		return 0
	}
	return len(f.hz[0])
}

// At returns the oscillator frequency for (channel, band)
func (f *FrequencyMap) At(channel, band int) float64 {
	return f.hz[channel][band]
}

// Renderer owns the oscillator phases. It is not safe for concurrent use:
// exactly one render path calls it, and that path owns the phase state.
type Renderer struct {
	sampleRate float64
	drive      float64
	freqs      *FrequencyMap

	phase [][]float64 // radians in [0, 2π)
	left  []float64
	right []float64
}

// NewRenderer creates a renderer with every oscillator at phase zero
func NewRenderer(sampleRate float64, freqs *FrequencyMap, drive float64) *Renderer {
	phase := make([][]float64, freqs.Channels())
	for ch := range phase {
		phase[ch] = make([]float64, freqs.Bands())
	}
	return &Renderer{
		sampleRate: sampleRate,
		drive:      drive,
		freqs:      freqs,
		phase:      phase,
	}
}

// SampleRate returns the output rate in Hz
func (r *Renderer) SampleRate() float64 {
	return r.sampleRate
}

// Phase returns a copy of the current oscillator phases
func (r *Renderer) Phase() [][]float64 {
	out := make([][]float64, len(r.phase))
	for ch, row := range r.phase {
		out[ch] = append([]float64(nil), row...)
	}
	return out
}

// Render returns frames of interleaved stereo audio (2·frames samples). A
// negative frame count renders nothing.
func (r *Renderer) Render(m *powermatrix.Matrix, frames int) []float32 {
	dst := make([]float32, 2*max(frames, 0))
	r.RenderInto(dst, m)
	return dst
}

// RenderInto fills dst with len(dst)/2 interleaved stereo frames without
// allocating once its scratch space has grown to the block size.
//
// Channels [0, C/2) sum into the left side, [C/2, C) into the right. Each
// side is soft-saturated with tanh(drive·x). A nil, empty or mismatched
// snapshot renders silence. Phases advance by one block regardless, so
// oscillators keep running on the audio clock.
func (r *Renderer) RenderInto(dst []float32, m *powermatrix.Matrix) {
	frames := len(dst) / 2
	if frames == 0 {
		return
	}
	r.grow(frames)
	clear(r.left[:frames])
	clear(r.right[:frames])

	channels := r.freqs.Channels()
	bands := r.freqs.Bands()
	valid := !m.Empty() && m.Channels() == channels && m.Bands() == bands

	if valid {
		half := channels / 2
		for ch := range channels {
			side := r.right
			if ch < half {
				side = r.left
			}
			for b := range bands {
				amp := m.At(ch, b)
				if amp == 0 {
					continue
				}
				phase := r.phase[ch][b]
				step := twoPi * r.freqs.At(ch, b) / r.sampleRate
				for k := range frames {
					side[k] += amp * math.Sin(phase+step*float64(k))
				}
			}
		}
	}

	for k := range frames {
		dst[2*k] = r.saturate(r.left[k])
		dst[2*k+1] = r.saturate(r.right[k])
	}
	for i := range dst[2*frames:] {
		dst[2*frames+i] = 0
	}

	r.advance(frames)
}

func (r *Renderer) saturate(x float64) float32 {
	y := float32(math.Tanh(r.drive * x))
	return min(max(y, -maxSample), maxSample)
}

// advance moves every phase forward by frames samples and wraps to [0, 2π)
func (r *Renderer) advance(frames int) {
	for ch, row := range r.phase {
		for b := range row {
			p := math.Mod(row[b]+twoPi*r.freqs.At(ch, b)*float64(frames)/r.sampleRate, twoPi)
			if p < 0 {
				p += twoPi
			}
			row[b] = p
		}
	}
}

func (r *Renderer) grow(frames int) {
	if cap(r.left) < frames {
		r.left = make([]float64, frames)
		r.right = make([]float64, frames)
	}
	r.left = r.left[:frames]
	r.right = r.right[:frames]
}

// String describes the oscillator bank for logs
func (r *Renderer) String() string {
	return fmt.Sprintf("%d×%d oscillators @ %g Hz, drive %g",
		r.freqs.Channels(), r.freqs.Bands(), r.sampleRate, r.drive)
}
