// Package types provides shared type definitions used across the sonifyd daemon.
package types

// PipelineState is the lifecycle state of the processing engine
type PipelineState int32

const (
	// StateUncalibrated means no baseline exists yet; the renderer plays silence
	// or the last matrix published before a recalibration was requested.
	StateUncalibrated PipelineState = iota
	// StateRunning means a baseline exists and normalization cycles are publishing.
	StateRunning
	// StateStopped means the engine loop has exited.
	StateStopped
)

// String returns the string representation of the pipeline state
func (s PipelineState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "uncalibrated"
	}
}

// ParsePipelineState parses a string into a PipelineState
func ParsePipelineState(s string) PipelineState {
	switch s {
	case "running":
		return StateRunning
	case "stopped":
		return StateStopped
	default:
		return StateUncalibrated
	}
}

// AcquisitionMode selects which acquisition source feeds the ring buffer
type AcquisitionMode string

const (
	ModeLive      AcquisitionMode = "live"
	ModeFile      AcquisitionMode = "file"
	ModeWAV       AcquisitionMode = "wav"
	ModeSynthetic AcquisitionMode = "synthetic"
)

// Valid reports whether m is a known acquisition mode
func (m AcquisitionMode) Valid() bool {
	switch m {
	case ModeLive, ModeFile, ModeWAV, ModeSynthetic:
		return true
	}
	return false
}
