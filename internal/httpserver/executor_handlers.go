package httpserver

import (
	"net/http"

	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/pkg/command"
)

type agentStatusResponse struct {
	ClusterID  string `json:"cluster_id"`
	IsActive   bool   `json:"is_active"`
	QueueDepth int64  `json:"queue_depth"`
}

// handleAgentStatus implements GET /agent/status (spec.md §6 "Executor
// API"). The executor uses this to choose its long-poll cadence: a shorter
// wait while a debugging session is active, a longer one otherwise.
func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		RespondError(w, http.StatusUnauthorized, "unauthorized", "executor authentication required")
		return
	}
	clusterID := identity.Subject

	active, err := s.Sessions.IsClusterActive(r.Context(), clusterID)
	if err != nil {
		s.Logger.Error("checking cluster active marker", "error", err, "cluster_id", clusterID)
		RespondError(w, http.StatusInternalServerError, "internal", "failed to read cluster status")
		return
	}

	depth, err := s.Queue.QueueDepth(r.Context(), clusterID)
	if err != nil {
		s.Logger.Error("reading queue depth", "error", err, "cluster_id", clusterID)
		RespondError(w, http.StatusInternalServerError, "internal", "failed to read queue depth")
		return
	}

	Respond(w, http.StatusOK, agentStatusResponse{
		ClusterID:  clusterID,
		IsActive:   active,
		QueueDepth: depth,
	})
}

type resultSubmission struct {
	CommandID string        `json:"command_id" validate:"required"`
	Result    resultPayload `json:"result" validate:"required"`
}

type resultPayload struct {
	Success         bool   `json:"success"`
	Output          string `json:"output"`
	Error           string `json:"error,omitempty"`
	ExitCode        *int   `json:"exit_code,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

// handleAgentResults implements POST /agent/results (also mounted at
// /executor/results): store the result under its command id, or 404 if
// the short-lived tracking record has already expired (spec.md §6
// "404 if tracking record expired").
func (s *Server) handleAgentResults(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		RespondError(w, http.StatusUnauthorized, "unauthorized", "executor authentication required")
		return
	}

	var req resultSubmission
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	tracking, err := s.Queue.Tracking(r.Context(), req.CommandID)
	if err != nil {
		s.Logger.Error("checking tracking record", "error", err, "command_id", req.CommandID)
		RespondError(w, http.StatusInternalServerError, "internal", "failed to verify command tracking")
		return
	}
	if tracking == nil {
		RespondError(w, http.StatusNotFound, "not_found", "command tracking record expired or not found")
		return
	}

	result := command.Result{
		CommandID:       req.CommandID,
		Success:         req.Result.Success,
		Output:          req.Result.Output,
		Error:           req.Result.Error,
		ExitCode:        req.Result.ExitCode,
		ExecutionTimeMs: req.Result.ExecutionTimeMs,
	}
	if err := s.Queue.StoreResult(r.Context(), result); err != nil {
		s.Logger.Error("storing result", "error", err, "command_id", req.CommandID)
		RespondError(w, http.StatusInternalServerError, "internal", "failed to store result")
		return
	}

	Respond(w, http.StatusOK, map[string]string{"message": "result stored", "command_id": req.CommandID})
}
