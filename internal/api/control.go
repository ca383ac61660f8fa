package api

import (
	"net/http"
	"strings"

	"github.com/banshee-data/twin.bridge/internal/httputil"
	"github.com/banshee-data/twin.bridge/internal/protocol"
	"github.com/banshee-data/twin.bridge/internal/twin"
	"github.com/banshee-data/twin.bridge/internal/version"
)

type readingResponse struct {
	twin.Reading
	Valid bool `json:"valid"`
}

func (s *Server) showReading(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	reading := s.src.LatestReading()
	httputil.WriteJSONOK(w, readingResponse{Reading: reading, Valid: reading.Valid()})
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, version.Info())
}

// commandResponse reports the exact text sent so clients can log it.
type commandResponse struct {
	Message string `json:"message"`
	Sent    bool   `json:"sent"`
	Error   string `json:"error,omitempty"`
}

// writeSendResult answers 200 when the datagram went out and 502 otherwise.
// A failed send still echoes the message.
func writeSendResult(w http.ResponseWriter, msg string, err error) {
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadGateway, commandResponse{Message: msg, Error: err.Error()})
		return
	}
	httputil.WriteJSONOK(w, commandResponse{Message: msg, Sent: true})
}

func (s *Server) moveServo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var pose twin.Pose
	if err := httputil.DecodeJSON(r, &pose); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	msg, err := s.ctl.MoveTo(pose)
	writeSendResult(w, msg, err)
}

type rawServoRequest struct {
	A *int `json:"a"`
	B *int `json:"b"`
	C *int `json:"c"`
}

func (s *Server) moveServoRaw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req rawServoRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.A == nil || req.B == nil || req.C == nil {
		httputil.BadRequest(w, "a, b and c are required")
		return
	}
	msg, err := s.ctl.MoveRaw(*req.A, *req.B, *req.C)
	writeSendResult(w, msg, err)
}

type ledRequest struct {
	On *bool `json:"on"`
}

func (s *Server) setLED(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req ledRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.On == nil {
		httputil.BadRequest(w, "on is required")
		return
	}
	msg, err := s.ctl.SetLED(*req.On)
	writeSendResult(w, msg, err)
}

type motorRequest struct {
	State string `json:"state"`
}

func (s *Server) setMotor(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, map[string]protocol.MotorState{"state": s.ctl.MotorState()})
		return
	case http.MethodPost:
	default:
		httputil.MethodNotAllowed(w)
		return
	}
	var req motorRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	state, err := protocol.ParseMotorState(req.State)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	msg, err := s.ctl.Motor(state)
	writeSendResult(w, msg, err)
}

type commandRequest struct {
	Message string `json:"message"`
	Host    string `json:"host,omitempty"`
	Port    int    `json:"port,omitempty"`
}

// sendCommand sends a raw message, to the default peer unless host and port
// are both given.
func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req commandRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		httputil.BadRequest(w, "message is required")
		return
	}
	if (req.Host == "") != (req.Port == 0) {
		httputil.BadRequest(w, "host and port must be given together")
		return
	}
	if req.Port < 0 || req.Port > 65535 {
		httputil.BadRequest(w, "port out of range")
		return
	}

	if req.Host == "" {
		msg, err := s.ctl.Raw(req.Message)
		writeSendResult(w, msg, err)
		return
	}
	err := s.sink.Send(req.Message, req.Host, req.Port)
	if s.onSend != nil {
		s.onSend(req.Message, req.Host, req.Port, err)
	}
	writeSendResult(w, req.Message, err)
}

func (s *Server) listPresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	out := make(map[string]string, len(twin.Presets))
	for _, name := range twin.PresetNames() {
		out[name] = twin.Presets[name]
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) sendPreset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	name := r.PathValue("name")
	if _, ok := twin.Presets[name]; !ok {
		httputil.NotFound(w, "unknown preset "+name)
		return
	}
	msg, err := s.ctl.Preset(name)
	writeSendResult(w, msg, err)
}
