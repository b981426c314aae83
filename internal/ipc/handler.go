package ipc

import (
	"encoding/json"
	"errors"
	"math"

	"github.com/austinkregel/local-media/sonifyd/internal/logging"
	"github.com/austinkregel/local-media/sonifyd/internal/pipeline"
)

func (s *Server) handleRequest(c *client, req *Request) *Response {
	// Status and matrix reads are polled often, keep them out of the info log
	switch req.Cmd {
	case CmdStatus, CmdGetPowerMatrix:
	default:
		s.log.Info("Command", logging.Fields{"cmd": string(req.Cmd)})
	}

	switch req.Cmd {
	case CmdStatus:
		return s.handleStatus()
	case CmdGetPowerMatrix:
		return s.handleGetPowerMatrix()
	case CmdSubscribePowerMatrix:
		return s.handleSubscribe(c, true)
	case CmdUnsubscribePowerMatrix:
		return s.handleSubscribe(c, false)
	case CmdRecalibrate:
		return s.handleRecalibrate()
	case CmdGetConfig:
		return s.handleGetConfig()
	case CmdVolume:
		return s.handleVolume(req)
	default:
		return NewErrorResponse("unknown command")
	}
}

func success(data any) *Response {
	resp, err := NewSuccessResponse(data)
	if err != nil {
		return NewErrorResponse("internal error")
	}
	return resp
}

func (s *Server) handleStatus() *Response {
	return success(s.ctrl.Status())
}

func (s *Server) handleGetPowerMatrix() *Response {
	return success(NewPowerMatrixResponse(s.ctrl.Snapshot(), s.ctrl.Bands()))
}

func (s *Server) handleSubscribe(c *client, on bool) *Response {
	c.subscribed.Store(on)
	return success(map[string]bool{"subscribed": on})
}

func (s *Server) handleRecalibrate() *Response {
	s.ctrl.Recalibrate()
	return s.handleStatus()
}

func (s *Server) handleGetConfig() *Response {
	return success(NewConfigResponse(s.ctrl.Config()))
}

func (s *Server) handleVolume(req *Request) *Response {
	var volReq VolumeRequest
	if err := json.Unmarshal(req.Data, &volReq); err != nil {
		return NewErrorResponse("invalid volume request")
	}
	if math.IsNaN(volReq.Level) || volReq.Level < 0 || volReq.Level > 1 {
		return NewErrorResponse("volume must be between 0 and 1")
	}

	if err := s.ctrl.SetVolume(volReq.Level); err != nil {
		if errors.Is(err, pipeline.ErrNoVolumeControl) {
			return NewErrorResponse("output has no volume control")
		}
		s.log.Error(err, "Volume change failed")
		return NewErrorResponse("volume change failed")
	}
	return s.handleStatus()
}
