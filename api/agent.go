package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"silentsync"
	"silentsync/infra/sqlite"
	"silentsync/internal/reconcile"
	"silentsync/internal/registry"
)

type heartbeatRequest struct {
	HardwareID  string `json:"hardware_id"`
	DisplayName string `json:"display_name"`
	OSInfo      string `json:"os_info"`
}

type heartbeatResponse struct {
	Tasks []silentsync.Task `json:"tasks"`
	// MachineToken is echoed on every heartbeat so an agent that lost
	// its persisted copy after a crash can re-store it. It only ever
	// reaches an agent that authenticated this request.
	MachineToken string `json:"machine_token"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer().Start(r.Context(), "agent.heartbeat")
	defer span.End()

	var req heartbeatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	hwid := registry.NormalizeHardwareID(req.HardwareID)
	if err := s.Guard.AllowHeartbeat(hwid); err != nil {
		s.writeFailure(w, span, err)
		return
	}

	origin := clientOrigin(r)

	// New-machine creation is charged against the origin separately, so
	// an origin fabricating hardware ids runs out of budget while known
	// machines keep heartbeating.
	_, err := s.Store.MachineByHardwareID(ctx, hwid)
	if errors.Is(err, sqlite.ErrNotFound) {
		if err := s.Guard.AllowRegistration(origin); err != nil {
			s.writeFailure(w, span, err)
			return
		}
	} else if err != nil {
		s.writeFailure(w, span, err)
		return
	}

	res, err := s.Service.Heartbeat(ctx, registry.UpsertInput{
		HardwareID:  req.HardwareID,
		DisplayName: req.DisplayName,
		OSInfo:      req.OSInfo,
		Origin:      origin,
	}, r.Header.Get(headerMachineToken))
	if err != nil {
		s.writeFailure(w, span, err)
		return
	}

	tasks := res.Tasks
	if tasks == nil {
		tasks = []silentsync.Task{}
	}
	writeJSON(w, http.StatusOK, heartbeatResponse{
		Tasks:        tasks,
		MachineToken: res.Machine.Token,
	})
}

type ackRequest struct {
	HardwareID string `json:"hardware_id"`
	TaskID     int64  `json:"task_id"`
	Outcome    string `json:"outcome"`
	Message    string `json:"message"`
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer().Start(r.Context(), "agent.ack")
	defer span.End()

	var req ackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.Service.Acknowledge(ctx, reconcile.AckInput{
		HardwareID: req.HardwareID,
		TaskID:     req.TaskID,
		Outcome:    silentsync.Outcome(req.Outcome),
		Message:    req.Message,
		Token:      r.Header.Get(headerMachineToken),
	})
	if err != nil {
		s.writeFailure(w, span, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"acknowledged": true})
}

type agentLogRequest struct {
	HardwareID string `json:"hardware_id"`
	Level      string `json:"level"`
	Message    string `json:"message"`
}

var logLevels = map[string]bool{"INFO": true, "WARN": true, "ERROR": true}

func (s *Server) handleAgentLog(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer().Start(r.Context(), "agent.log")
	defer span.End()

	var req agentLogRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	hwid := registry.NormalizeHardwareID(req.HardwareID)
	if err := s.Guard.AllowLog(hwid); err != nil {
		s.writeFailure(w, span, err)
		return
	}

	m, err := s.Store.MachineByHardwareID(ctx, hwid)
	if err != nil {
		s.writeFailure(w, span, err)
		return
	}
	if err := registry.VerifyToken(m, r.Header.Get(headerMachineToken)); err != nil {
		s.writeFailure(w, span, err)
		return
	}

	level := strings.ToUpper(strings.TrimSpace(req.Level))
	if !logLevels[level] {
		writeError(w, http.StatusBadRequest, "level must be INFO, WARN or ERROR")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message must not be empty")
		return
	}

	err = s.Store.InsertAgentLog(ctx, silentsync.AgentLogEntry{
		MachineID: m.ID,
		Level:     level,
		Message:   req.Message,
		Timestamp: s.now(),
	})
	if err != nil {
		s.writeFailure(w, span, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged"})
}

func (s *Server) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now()
	}
	return time.Now()
}
