// Package ipc handles inter-process communication between the daemon and clients.
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/austinkregel/local-media/sonifyd/internal/config"
	"github.com/austinkregel/local-media/sonifyd/internal/powermatrix"
)

// CommandType represents the type of command
type CommandType string

const (
	CmdStatus      CommandType = "status"
	CmdRecalibrate CommandType = "recalibrate"
	CmdVolume      CommandType = "volume"
	CmdGetConfig   CommandType = "getConfig"

	// Power matrix streaming
	CmdGetPowerMatrix         CommandType = "getPowerMatrix"
	CmdSubscribePowerMatrix   CommandType = "subscribePowerMatrix"
	CmdUnsubscribePowerMatrix CommandType = "unsubscribePowerMatrix"
)

// PushPowerMatrix is the type of the message sent to subscribers on every publish
const PushPowerMatrix = "powerMatrix"

// PushMessage represents a server-initiated message (no request needed)
type PushMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Request represents a client request
type Request struct {
	Cmd  CommandType     `json:"cmd"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response represents a server response
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// VolumeRequest is the data for a volume command
type VolumeRequest struct {
	Level float64 `json:"level"` // 0.0 - 1.0
}

// PowerMatrixResponse carries one published power matrix
type PowerMatrixResponse struct {
	Generation uint64 `json:"generation"`
	// Timestamp is when the matrix was published (Unix ms), 0 before the first publish
	Timestamp int64       `json:"timestamp"`
	Bands     []string    `json:"bands"`
	Values    [][]float64 `json:"values"` // [channel][band], 0-1
}

// NewPowerMatrixResponse converts a matrix snapshot for the wire
func NewPowerMatrixResponse(m *powermatrix.Matrix, bands []string) PowerMatrixResponse {
	resp := PowerMatrixResponse{
		Generation: m.Generation(),
		Bands:      bands,
		Values:     [][]float64{},
	}
	if !m.Empty() {
		resp.Values = m.Rows()
	}
	if t := m.PublishedAt(); !t.IsZero() {
		resp.Timestamp = t.UnixMilli()
	}
	return resp
}

// BandInfo describes one band and its pitch
type BandInfo struct {
	Name     string  `json:"name"`
	Low      float64 `json:"low"`
	High     float64 `json:"high"`
	BaseMIDI float64 `json:"baseMidi"`
}

// ConfigResponse is the response to a getConfig command
type ConfigResponse struct {
	Mode               string     `json:"mode"`
	Input              string     `json:"input,omitempty"`
	SampleRate         int        `json:"sampleRate"`
	Channels           int        `json:"channels"`
	Bands              []BandInfo `json:"bands"`
	ChannelDegrees     []int      `json:"channelDegrees"`
	IntervalMs         int64      `json:"intervalMs"`
	CalibrationSeconds float64    `json:"calibrationSeconds"`
	Estimator          string     `json:"estimator"`
	Output             string     `json:"output"`
	AudioSampleRate    int        `json:"audioSampleRate"`
	BlockSize          int        `json:"blockSize"`
	Drive              float64    `json:"drive"`
}

// NewConfigResponse flattens the daemon configuration for clients
func NewConfigResponse(cfg config.Config) ConfigResponse {
	bands := make([]BandInfo, len(cfg.Bands))
	for i, b := range cfg.Bands {
		bands[i] = BandInfo{Name: b.Name, Low: b.Low, High: b.High, BaseMIDI: b.BaseMIDI}
	}
	return ConfigResponse{
		Mode:               string(cfg.Acquisition.Mode),
		Input:              cfg.Acquisition.Input,
		SampleRate:         cfg.Signal.SampleRate,
		Channels:           cfg.Signal.Channels,
		Bands:              bands,
		ChannelDegrees:     cfg.ChannelDegrees,
		IntervalMs:         cfg.Processing.Interval.Milliseconds(),
		CalibrationSeconds: cfg.Processing.CalibrationSeconds,
		Estimator:          cfg.Processing.Estimator,
		Output:             cfg.Audio.Output,
		AudioSampleRate:    cfg.Audio.SampleRate,
		BlockSize:          cfg.Audio.BlockSize,
		Drive:              cfg.Audio.Drive,
	}
}

// EncodeRequest encodes a request to JSON
func EncodeRequest(req *Request) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeRequest decodes a request from JSON
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return &req, nil
}

// EncodeResponse encodes a response to JSON
func EncodeResponse(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse decodes a response from JSON
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data interface{}) (*Response, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	return &Response{
		Success: true,
		Data:    rawData,
	}, nil
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// NewPushMessage creates a push message for streaming data
func NewPushMessage(msgType string, data interface{}) ([]byte, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	msg := PushMessage{
		Type: msgType,
		Data: rawData,
	}
	return json.Marshal(msg)
}
