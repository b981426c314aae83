package audio

import (
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/austinkregel/local-media/sonifyd/internal/logging"
)

const (
	wavBitDepth  = 16
	wavPCMFormat = 1
)

// HeadlessOptions configures a HeadlessOutput
type HeadlessOptions struct {
	SampleRate int
	BlockSize  int

	// Realtime renders one block per block period; otherwise as fast as possible
	Realtime bool

	// WAVPath, when set, receives every block as 16-bit stereo PCM
	WAVPath string
}

// HeadlessOutput renders blocks on its own clock for machines without a sound
// card, and optionally records them to a WAV file.
type HeadlessOutput struct {
	opts   HeadlessOptions
	log    logging.Logger
	volume *volume
	blocks atomic.Uint64

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}

	file    *os.File
	encoder *wav.Encoder
	pcm     *goaudio.IntBuffer
	err     error // first encoder error, reported by Close
}

// NewHeadlessOutput creates a headless output; nothing runs until Start
func NewHeadlessOutput(opts HeadlessOptions, log logging.Logger) *HeadlessOutput {
	return &HeadlessOutput{
		opts:   opts,
		log:    logging.Component(log, "audio"),
		volume: newVolume(1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start opens the WAV sink if configured and begins the render clock
func (h *HeadlessOutput) Start(src BlockSource) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return fmt.Errorf("headless output already started")
	}

	if h.opts.WAVPath != "" {
		f, err := os.Create(h.opts.WAVPath)
		if err != nil {
			return fmt.Errorf("failed to create wav output: %w", err)
		}
		h.file = f
		h.encoder = wav.NewEncoder(f, h.opts.SampleRate, wavBitDepth, Channels, wavPCMFormat)
		h.pcm = &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: Channels, SampleRate: h.opts.SampleRate},
			Data:           make([]int, h.opts.BlockSize*Channels),
			SourceBitDepth: wavBitDepth,
		}
		h.log.Info("Recording audio", logging.Fields{"path": h.opts.WAVPath})
	}

	h.started = true
	go h.loop(src)
	return nil
}

func (h *HeadlessOutput) loop(src BlockSource) {
	defer close(h.done)

	block := make([]float32, h.opts.BlockSize*Channels)

	var tick <-chan time.Time
	if h.opts.Realtime {
		period := time.Duration(float64(time.Second) * float64(h.opts.BlockSize) / float64(h.opts.SampleRate))
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if tick != nil {
			select {
			case <-h.stop:
				return
			case <-tick:
			}
		} else {
			select {
			case <-h.stop:
				return
			default:
			}
		}

		renderBlock(src, block, h.volume.get())
		h.blocks.Add(1)

		if h.encoder != nil && h.err == nil {
			if err := h.write(block); err != nil {
				h.err = err
				h.log.Error(err, "WAV sink failed, recording stopped")
			}
		}
	}
}

// write converts one float block to 16-bit PCM and encodes it
func (h *HeadlessOutput) write(block []float32) error {
	const full = math.MaxInt16
	for i, s := range block {
		h.pcm.Data[i] = int(math.Round(float64(s) * full))
	}
	if err := h.encoder.Write(h.pcm); err != nil {
		return fmt.Errorf("failed to write wav block: %w", err)
	}
	return nil
}

// Blocks returns the number of blocks rendered so far
func (h *HeadlessOutput) Blocks() uint64 {
	return h.blocks.Load()
}

// SetVolume sets the master volume (0.0 - 1.0)
func (h *HeadlessOutput) SetVolume(v float64) {
	h.volume.set(v)
}

// GetVolume returns the current volume
func (h *HeadlessOutput) GetVolume() float64 {
	return h.volume.get()
}

// SampleRate returns the sample rate
func (h *HeadlessOutput) SampleRate() int {
	return h.opts.SampleRate
}

// Close stops the clock, waits for the in-flight block, then finalizes the
// WAV header. Close is idempotent.
func (h *HeadlessOutput) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return nil
	}
	select {
	case <-h.stop:
		return nil
	default:
		close(h.stop)
	}
	<-h.done

	err := h.err
	if h.encoder != nil {
		if cerr := h.encoder.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to finalize wav output: %w", cerr)
		}
		if cerr := h.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

var (
	_ Output        = (*HeadlessOutput)(nil)
	_ VolumeControl = (*HeadlessOutput)(nil)
)
