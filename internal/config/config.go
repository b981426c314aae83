// Package config handles daemon configuration file management.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/austinkregel/local-media/sonifyd/internal/types"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid config")

// Config represents the daemon configuration. Components receive a copy at
// construction and never see later edits.
type Config struct {
	// Signal describes the incoming EEG stream
	Signal SignalConfig `yaml:"signal"`

	// Bands in estimator order. Each band owns one oscillator per channel.
	Bands []BandConfig `yaml:"bands"`

	// ChannelDegrees is the per-channel semitone offset added to each band's base pitch
	ChannelDegrees []int `yaml:"channelDegrees"`

	// Acquisition settings
	Acquisition AcquisitionConfig `yaml:"acquisition"`

	// Processing settings
	Processing ProcessingConfig `yaml:"processing"`

	// Audio settings
	Audio AudioConfig `yaml:"audio"`

	// Control socket settings
	Control ControlConfig `yaml:"control"`

	// Metrics settings
	Metrics MetricsConfig `yaml:"metrics"`

	// Log settings
	Log LogConfig `yaml:"log"`
}

// SignalConfig describes the raw sample stream
type SignalConfig struct {
	// SampleRate of the EEG source in Hz (default: 250, Cyton)
	SampleRate int `yaml:"sampleRate"`

	// Channels is the number of EEG channels (default: 8)
	Channels int `yaml:"channels"`
}

// BandConfig is one frequency band and the pitch it drives
type BandConfig struct {
	Name string  `yaml:"name"`
	Low  float64 `yaml:"low"`  // Hz, inclusive
	High float64 `yaml:"high"` // Hz, exclusive

	// BaseMIDI is the oscillator pitch for channel degree 0
	BaseMIDI float64 `yaml:"baseMidi"`
}

// AcquisitionConfig selects and tunes the sample source
type AcquisitionConfig struct {
	// Mode is one of live, file, wav, synthetic
	Mode types.AcquisitionMode `yaml:"mode"`

	// Input is the recording path (file, wav) or device/tcp address (live)
	Input string `yaml:"input"`

	// Loop restarts a recording at EOF
	Loop bool `yaml:"loop"`

	// Realtime paces replay at the signal sample rate
	Realtime bool `yaml:"realtime"`

	// ChunkSize is the number of samples pushed per chunk (default: SampleRate/2)
	ChunkSize int `yaml:"chunkSize"`

	// Gain scales normalized WAV PCM into signal units
	Gain float64 `yaml:"gain"`
}

// ProcessingConfig contains calibration and normalization settings
type ProcessingConfig struct {
	// Interval between power matrix updates (default: 250ms, polled at half)
	Interval time.Duration `yaml:"interval"`

	// CalibrationSeconds of baseline recording (default: 10)
	CalibrationSeconds float64 `yaml:"calibrationSeconds"`

	// BufferSeconds of history kept in the ring buffer (default: 12)
	BufferSeconds float64 `yaml:"bufferSeconds"`

	// Epsilon floors the baseline standard deviation
	Epsilon float64 `yaml:"epsilon"`

	// ZClip is the z-score ceiling mapped to 1.0
	ZClip float64 `yaml:"zClip"`

	// Estimator is welch or periodogram
	Estimator string `yaml:"estimator"`
}

// AudioConfig contains audio-related settings
type AudioConfig struct {
	// Output is oto (sound card) or headless (clocked, optional WAV file)
	Output string `yaml:"output"`

	// SampleRate for audio output (default: 48000)
	SampleRate int `yaml:"sampleRate"`

	// BlockSize in frames per render call (default: 512)
	BlockSize int `yaml:"blockSize"`

	// Drive of the tanh soft saturator (default: 0.3)
	Drive float64 `yaml:"drive"`

	// Volume level 0.0 - 1.0 (default: 1.0)
	Volume float64 `yaml:"volume"`

	// WAVPath, when set with the headless output, receives the rendered audio
	WAVPath string `yaml:"wavPath"`

	// Realtime paces the headless output at the block period
	Realtime bool `yaml:"realtime"`
}

// ControlConfig contains control socket settings
type ControlConfig struct {
	// SocketPath of the unix control socket; empty disables it
	SocketPath string `yaml:"socketPath"`
}

// MetricsConfig contains prometheus exporter settings
type MetricsConfig struct {
	// Addr to serve /metrics on, e.g. ":9464"; empty disables it
	Addr string `yaml:"addr"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Signal: SignalConfig{
			SampleRate: 250,
			Channels:   8,
		},
		Bands: []BandConfig{
			{Name: "delta", Low: 1, High: 4, BaseMIDI: 36},   // C2
			{Name: "theta", Low: 4, High: 8, BaseMIDI: 48},   // C3
			{Name: "alpha", Low: 8, High: 13, BaseMIDI: 60},  // C4
			{Name: "beta", Low: 13, High: 30, BaseMIDI: 72},  // C5
			{Name: "gamma", Low: 30, High: 45, BaseMIDI: 84}, // C6
		},
		// C major scale degrees
		ChannelDegrees: []int{0, 2, 4, 5, 7, 9, 11, 12},
		Acquisition: AcquisitionConfig{
			Mode:     types.ModeSynthetic,
			Realtime: true,
			Gain:     1.0,
		},
		Processing: ProcessingConfig{
			Interval:           250 * time.Millisecond,
			CalibrationSeconds: 10,
			BufferSeconds:      12,
			Epsilon:            1e-6,
			ZClip:              4,
			Estimator:          "welch",
		},
		Audio: AudioConfig{
			Output:     "oto",
			SampleRate: 48000,
			BlockSize:  512,
			Drive:      0.3,
			Volume:     1.0,
			Realtime:   true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Clone returns a deep copy so callers can hold an immutable value
func (c *Config) Clone() Config {
	out := *c
	out.Bands = slices.Clone(c.Bands)
	out.ChannelDegrees = slices.Clone(c.ChannelDegrees)
	return out
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.Signal.SampleRate <= 0 {
		return fail("signal.sampleRate must be positive, got %d", c.Signal.SampleRate)
	}
	if c.Signal.Channels <= 0 {
		return fail("signal.channels must be positive, got %d", c.Signal.Channels)
	}
	if len(c.ChannelDegrees) != c.Signal.Channels {
		return fail("channelDegrees has %d entries for %d channels", len(c.ChannelDegrees), c.Signal.Channels)
	}
	if len(c.Bands) == 0 {
		return fail("at least one band is required")
	}
	nyquist := float64(c.Signal.SampleRate) / 2
	for _, b := range c.Bands {
		if b.Low < 0 || b.High <= b.Low {
			return fail("band %q has empty range [%g, %g)", b.Name, b.Low, b.High)
		}
		if b.High > nyquist {
			return fail("band %q ends above nyquist (%g Hz)", b.Name, nyquist)
		}
	}

	if !c.Acquisition.Mode.Valid() {
		return fail("unknown acquisition.mode %q", c.Acquisition.Mode)
	}
	if c.Acquisition.Mode != types.ModeSynthetic && c.Acquisition.Input == "" {
		return fail("acquisition.input is required for mode %q", c.Acquisition.Mode)
	}
	if c.Acquisition.ChunkSize < 0 {
		return fail("acquisition.chunkSize must not be negative")
	}

	p := c.Processing
	if p.Interval <= 0 {
		return fail("processing.interval must be positive")
	}
	if p.CalibrationSeconds <= 0 {
		return fail("processing.calibrationSeconds must be positive")
	}
	if c.BufferCapacity() < max(c.CalibrationSamples(), c.WindowSamples()) {
		return fail("processing.bufferSeconds (%g) cannot hold the calibration window", p.BufferSeconds)
	}
	if p.Epsilon <= 0 {
		return fail("processing.epsilon must be positive")
	}
	if p.ZClip <= 0 {
		return fail("processing.zClip must be positive")
	}
	switch p.Estimator {
	case "welch", "periodogram":
	default:
		return fail("unknown processing.estimator %q", p.Estimator)
	}

	a := c.Audio
	switch a.Output {
	case "oto", "headless":
	default:
		return fail("unknown audio.output %q", a.Output)
	}
	if a.SampleRate <= 0 || a.BlockSize <= 0 {
		return fail("audio.sampleRate and audio.blockSize must be positive")
	}
	if a.Drive <= 0 {
		return fail("audio.drive must be positive")
	}
	if a.Volume < 0 || a.Volume > 1 {
		return fail("audio.volume must be within [0, 1]")
	}

	return nil
}

// CalibrationSamples is the number of samples the baseline is computed from
func (c *Config) CalibrationSamples() int {
	return int(c.Processing.CalibrationSeconds * float64(c.Signal.SampleRate))
}

// WindowSamples is the one-second analysis window of each normalization cycle
func (c *Config) WindowSamples() int {
	return c.Signal.SampleRate
}

// BufferCapacity is the ring buffer capacity in samples
func (c *Config) BufferCapacity() int {
	return int(c.Processing.BufferSeconds * float64(c.Signal.SampleRate))
}

// PollInterval is half the processing interval, which halves update staleness
func (c *Config) PollInterval() time.Duration {
	return c.Processing.Interval / 2
}

// ChunkSize returns the configured acquisition chunk, defaulting to half a second
func (c *Config) ChunkSize() int {
	if c.Acquisition.ChunkSize > 0 {
		return c.Acquisition.ChunkSize
	}
	return max(1, c.Signal.SampleRate/2)
}

// BaseMIDI returns the per-band base pitch in band order
func (c *Config) BaseMIDI() []float64 {
	out := make([]float64, len(c.Bands))
	for i, b := range c.Bands {
		out[i] = b.BaseMIDI
	}
	return out
}

// Degrees returns the per-channel scale degrees as floats
func (c *Config) Degrees() []float64 {
	out := make([]float64, len(c.ChannelDegrees))
	for i, d := range c.ChannelDegrees {
		out[i] = float64(d)
	}
	return out
}

// Manager handles loading and saving configuration
type Manager struct {
	configDir  string
	configPath string
	config     *Config
}

// NewManager creates a new configuration manager rooted at configDir
func NewManager(configDir string) *Manager {
	return NewFileManager(filepath.Join(configDir, "config.yaml"))
}

// NewFileManager creates a configuration manager for an explicit file path
func NewFileManager(path string) *Manager {
	return &Manager{
		configDir:  filepath.Dir(path),
		configPath: path,
		config:     DefaultConfig(),
	}
}

// Load reads the configuration from disk, writing the defaults on first run
func (m *Manager) Load() error {
	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		m.config = DefaultConfig()
		return m.Save()
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	config := DefaultConfig() // Start with defaults
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	m.config = config
	return nil
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() Config {
	return m.config.Clone()
}

// GetPath returns the config file path
func (m *Manager) GetPath() string {
	return m.configPath
}

// Update replaces the configuration and saves it
func (m *Manager) Update(config *Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	m.config = config
	return m.Save()
}
