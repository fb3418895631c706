// Package command implements control plane command handling.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"firestige.xyz/otrace/internal/core"
	"firestige.xyz/otrace/internal/server"
)

// Version is reported by daemon_status.
var Version = "0.1.0"

// SessionController is the part of the trace server the control plane drives.
type SessionController interface {
	ListSessions() []server.SessionInfo
	SendCommand(id string, cmd server.Command) error
	CloseSession(id string) error
	RejectedConnections() int64
}

// ConfigReloader is the interface for reloading global configuration.
type ConfigReloader interface {
	Reload() error
}

// CommandHandler handles control plane commands.
type CommandHandler struct {
	sessions       SessionController
	configReloader ConfigReloader
	shutdownFunc   func() // Called by daemon_shutdown to trigger graceful stop
	reporters      []string
	startTime      int64 // Unix timestamp of daemon start for uptime calc
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(sessions SessionController, reloader ConfigReloader) *CommandHandler {
	return &CommandHandler{
		sessions:       sessions,
		configReloader: reloader,
		startTime:      time.Now().Unix(),
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// SetReporters sets the reporter names listed by daemon_status.
func (h *CommandHandler) SetReporters(names []string) {
	h.reporters = names
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"` // e.g., "session_list", "session_capture"
	Params json.RawMessage `json:"params"` // command-specific parameters
	ID     string          `json:"id"`     // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`               // matches request ID
	Result interface{} `json:"result,omitempty"` // success result
	Error  *ErrorInfo  `json:"error,omitempty"`  // error info if failed
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
	ErrCodeNotFound       = -32004 // Session does not exist
)

// Methods
const (
	MethodSessionList    = "session_list"
	MethodSessionCapture = "session_capture"
	MethodSessionClose   = "session_close"
	MethodConfigReload   = "config_reload"
	MethodDaemonShutdown = "daemon_shutdown"
	MethodDaemonStatus   = "daemon_status"
	MethodDaemonStats    = "daemon_stats"
)

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Info("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case MethodSessionList:
		return h.handleSessionList(ctx, cmd)
	case MethodSessionCapture:
		return h.handleSessionCapture(ctx, cmd)
	case MethodSessionClose:
		return h.handleSessionClose(ctx, cmd)
	case MethodConfigReload:
		return h.handleConfigReload(ctx, cmd)
	case MethodDaemonShutdown:
		return h.handleDaemonShutdown(ctx, cmd)
	case MethodDaemonStatus:
		return h.handleDaemonStatus(ctx, cmd)
	case MethodDaemonStats:
		return h.handleDaemonStats(ctx, cmd)
	default:
		return errorResponse(cmd.ID, ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", cmd.Method))
	}
}

func errorResponse(id string, code int, msg string) Response {
	return Response{ID: id, Error: &ErrorInfo{Code: code, Message: msg}}
}

// sessionError maps a controller error onto a response.
func sessionError(id string, err error) Response {
	if errors.Is(err, core.ErrSessionNotFound) {
		return errorResponse(id, ErrCodeNotFound, err.Error())
	}
	return errorResponse(id, ErrCodeInternalError, err.Error())
}

// SessionParams selects a session. An empty SessionID means every live session
// where the method allows it.
type SessionParams struct {
	SessionID string `json:"session_id,omitempty"`
}

func decodeParams(cmd Command, out any) *Response {
	if len(cmd.Params) == 0 || string(cmd.Params) == "null" {
		return nil
	}
	if err := json.Unmarshal(cmd.Params, out); err != nil {
		resp := errorResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
		return &resp
	}
	return nil
}

// SessionListResult is the result of session_list.
type SessionListResult struct {
	Sessions []server.SessionInfo `json:"sessions"`
	Count    int                  `json:"count"`
}

// handleSessionList handles session_list command.
func (h *CommandHandler) handleSessionList(_ context.Context, cmd Command) Response {
	sessions := h.sessions.ListSessions()
	return Response{
		ID:     cmd.ID,
		Result: SessionListResult{Sessions: sessions, Count: len(sessions)},
	}
}

// handleSessionCapture asks producers to capture their next frame.
func (h *CommandHandler) handleSessionCapture(_ context.Context, cmd Command) Response {
	var params SessionParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}

	targets := []string{params.SessionID}
	if params.SessionID == "" {
		targets = targets[:0]
		for _, s := range h.sessions.ListSessions() {
			targets = append(targets, s.ID)
		}
	}

	sent := make([]string, 0, len(targets))
	var errs []error
	for _, id := range targets {
		if err := h.sessions.SendCommand(id, server.CaptureFrame); err != nil {
			if params.SessionID != "" {
				return sessionError(cmd.ID, err)
			}
			// A session may end between listing and sending.
			errs = append(errs, err)
			continue
		}
		sent = append(sent, id)
	}
	if len(errs) > 0 {
		slog.Warn("capture not delivered to every session", "error", errors.Join(errs...))
	}

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"sent":  sent,
			"count": len(sent),
		},
	}
}

// handleSessionClose disconnects a producer.
func (h *CommandHandler) handleSessionClose(_ context.Context, cmd Command) Response {
	var params SessionParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}
	if params.SessionID == "" {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "session_id is required")
	}
	if err := h.sessions.CloseSession(params.SessionID); err != nil {
		return sessionError(cmd.ID, err)
	}
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"session_id": params.SessionID,
			"status":     "closing",
		},
	}
}

// handleConfigReload handles config_reload command.
func (h *CommandHandler) handleConfigReload(_ context.Context, cmd Command) Response {
	if h.configReloader == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "config reloader not available")
	}

	if err := h.configReloader.Reload(); err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("reload config failed: %v", err))
	}

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"status": "reloaded",
		},
	}
}

// handleDaemonShutdown triggers graceful daemon shutdown via the registered callback.
func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "shutdown handler not registered")
	}

	slog.Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // Non-blocking: let the response be sent first

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"status": "shutting_down",
		},
	}
}

// StatusResult is the result of daemon_status.
type StatusResult struct {
	Version      string   `json:"version" yaml:"version"`
	UptimeSec    int64    `json:"uptime_sec" yaml:"uptime_sec"`
	SessionCount int      `json:"session_count" yaml:"session_count"`
	Reporters    []string `json:"reporters" yaml:"reporters"`
}

// handleDaemonStatus returns daemon status information.
func (h *CommandHandler) handleDaemonStatus(_ context.Context, cmd Command) Response {
	return Response{
		ID: cmd.ID,
		Result: StatusResult{
			Version:      Version,
			UptimeSec:    time.Now().Unix() - h.startTime,
			SessionCount: len(h.sessions.ListSessions()),
			Reporters:    h.reporters,
		},
	}
}

// StatsResult is the result of daemon_stats: per-session counters and their sum.
type StatsResult struct {
	Sessions            map[string]SessionStats `json:"sessions" yaml:"sessions"`
	Total               SessionStats            `json:"total" yaml:"total"`
	RejectedConnections int64                   `json:"rejected_connections" yaml:"rejected_connections"` // Refused by the per-IP rate limit
}

// SessionStats holds the counters of one session.
type SessionStats struct {
	Bytes          int64  `json:"bytes" yaml:"bytes"`
	Events         uint64 `json:"events" yaml:"events"`
	Spans          uint64 `json:"spans" yaml:"spans"`
	Anomalies      uint64 `json:"anomalies" yaml:"anomalies"`
	DroppedPackets uint64 `json:"dropped_packets" yaml:"dropped_packets"`
	Reported       uint64 `json:"reported" yaml:"reported"`
	ReportErrors   uint64 `json:"report_errors" yaml:"report_errors"`
}

func (s *SessionStats) add(o SessionStats) {
	s.Bytes += o.Bytes
	s.Events += o.Events
	s.Spans += o.Spans
	s.Anomalies += o.Anomalies
	s.DroppedPackets += o.DroppedPackets
	s.Reported += o.Reported
	s.ReportErrors += o.ReportErrors
}

// handleDaemonStats returns runtime statistics of the live sessions.
func (h *CommandHandler) handleDaemonStats(_ context.Context, cmd Command) Response {
	result := StatsResult{
		Sessions:            make(map[string]SessionStats),
		RejectedConnections: h.sessions.RejectedConnections(),
	}
	for _, info := range h.sessions.ListSessions() {
		st := SessionStats{
			Bytes:          info.Offset,
			Events:         info.Stats.Events,
			Spans:          info.Stats.Spans,
			Anomalies:      info.Stats.Anomalies,
			DroppedPackets: info.Stats.DroppedPackets,
			Reported:       info.Stats.Reported,
			ReportErrors:   info.Stats.ReportErrors,
		}
		result.Sessions[info.ID] = st
		result.Total.add(st)
	}
	return Response{ID: cmd.ID, Result: result}
}
