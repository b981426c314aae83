package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/hajimehoshi/oto/v2"
)

const bytesPerSample = 4 // float32 LE

// OtoOutput plays rendered blocks on the default sound card. Oto pulls bytes
// through Read from its own goroutine; Read renders exactly one block each
// time its fixed block buffer runs dry, so render calls stay aligned to the
// configured block size no matter how oto sizes its reads.
type OtoOutput struct {
	context    *oto.Context
	player     oto.Player // oto.Player is an interface, not a pointer
	sampleRate int

	src    atomic.Pointer[BlockSource] // atomic for lock-free Read()
	closed atomic.Bool
	volume *volume

	block []float32
	buf   []byte
	pos   int // read offset into buf; len(buf) means drained

	mu sync.Mutex // only for setup/control operations
}

// NewOtoOutput opens a float32 stereo oto context at sampleRate
func NewOtoOutput(sampleRate, blockSize int) (*OtoOutput, error) {
	ctx, ready, err := oto.NewContext(sampleRate, Channels, oto.FormatFloat32LE)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}

	// Wait for context to be ready
	<-ready

	o := newOtoReader(sampleRate, blockSize)
	o.context = ctx
	return o, nil
}

// newOtoReader builds the Read side without touching an audio device
func newOtoReader(sampleRate, blockSize int) *OtoOutput {
	block := make([]float32, blockSize*Channels)
	buf := make([]byte, len(block)*bytesPerSample)
	return &OtoOutput{
		sampleRate: sampleRate,
		volume:     newVolume(1),
		block:      block,
		buf:        buf,
		pos:        len(buf),
	}
}

// Start attaches src and starts the oto player
func (o *OtoOutput) Start(src BlockSource) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed.Load() {
		return fmt.Errorf("oto output is closed")
	}
	o.src.Store(&src)

	if o.player == nil {
		o.player = o.context.NewPlayer(o)
	}
	o.player.Play()
	return nil
}

// Read implements io.Reader for the player to read from
func (o *OtoOutput) Read(p []byte) (int, error) {
	if o.closed.Load() {
		return 0, io.EOF
	}

	src := o.src.Load()
	if src == nil {
		clear(p)
		return len(p), nil
	}

	n := 0
	for n < len(p) {
		if o.pos == len(o.buf) {
			o.fill(*src)
		}
		c := copy(p[n:], o.buf[o.pos:])
		o.pos += c
		n += c
	}
	return n, nil
}

// fill renders the next block into buf
func (o *OtoOutput) fill(src BlockSource) {
	renderBlock(src, o.block, o.volume.get())
	for i, s := range o.block {
		binary.LittleEndian.PutUint32(o.buf[i*bytesPerSample:], math.Float32bits(s))
	}
	o.pos = 0
}

// SetVolume sets the playback volume (0.0 - 1.0)
func (o *OtoOutput) SetVolume(v float64) {
	o.volume.set(v)
}

// GetVolume returns the current volume
func (o *OtoOutput) GetVolume() float64 {
	return o.volume.get()
}

// IsPlaying returns whether audio is currently playing
func (o *OtoOutput) IsPlaying() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.player != nil && o.player.IsPlaying()
}

// Close releases the audio output resources
func (o *OtoOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed.Swap(true) {
		return nil
	}
	if o.player != nil {
		if err := o.player.Close(); err != nil {
			return err
		}
	}
	return nil
}

// SampleRate returns the sample rate
func (o *OtoOutput) SampleRate() int {
	return o.sampleRate
}

// BlockSize returns the frames rendered per block
func (o *OtoOutput) BlockSize() int {
	return len(o.block) / Channels
}

// Ensure OtoOutput implements io.Reader and Output
var (
	_ io.Reader     = (*OtoOutput)(nil)
	_ Output        = (*OtoOutput)(nil)
	_ VolumeControl = (*OtoOutput)(nil)
)
