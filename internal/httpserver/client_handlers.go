package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kubently/kubently/internal/audit"
	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/session"
	"github.com/kubently/kubently/internal/telemetry"
	"github.com/kubently/kubently/pkg/command"
)

// newCommandID allocates a random command id (spec.md §3 "Command... id").
func newCommandID() (string, error) {
	return uuid.New().String(), nil
}

// parsePositiveInt parses a positive integer query parameter.
func parsePositiveInt(raw string) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, strconv.ErrRange
	}
	return v, nil
}

// mountClientRoutes wires the client-role endpoints under /debug (spec.md
// §6 "Client API"): session lifecycle, synchronous and asynchronous
// execute, operation polling, and cluster listing.
func (s *Server) mountClientRoutes(r chi.Router) {
	r.Post("/session", s.handleCreateSession)
	r.Get("/session/{id}", s.handleGetSession)
	r.Delete("/session/{id}", s.handleEndSession)
	r.Post("/execute", s.handleExecute)
	r.Post("/execute/async", s.handleExecuteAsync)
	r.Get("/operations/{id}", s.handleGetOperation)
	r.Get("/clusters", s.handleListClusters)
}

// mountAdminRoutes wires the admin-role endpoints under /admin (spec.md §6
// "Admin: issue / revoke executor token"; plus the audit and agent-listing
// endpoints this implementation adds alongside them).
func (s *Server) mountAdminRoutes(r chi.Router) {
	r.Post("/agents/{cluster_id}/token", s.handleIssueToken)
	r.Delete("/agents/{cluster_id}/token", s.handleRevokeToken)
	r.Get("/agents", s.handleListAgents)
	r.Get("/audit", s.handleAudit)
}

type createSessionRequest struct {
	ClusterID       string `json:"cluster_id" validate:"required"`
	UserID          string `json:"user_id,omitempty"`
	ServiceIdentity string `json:"service_identity,omitempty"`
	CorrelationID   string `json:"correlation_id,omitempty"`
	TTLSeconds      int    `json:"ttl_seconds,omitempty" validate:"omitempty,gte=60,lte=3600"`
}

type sessionResponse struct {
	SessionID       string    `json:"session_id"`
	ClusterID       string    `json:"cluster_id"`
	UserID          string    `json:"user_id,omitempty"`
	ServiceIdentity string    `json:"service_identity,omitempty"`
	CorrelationID   string    `json:"correlation_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivity    time.Time `json:"last_activity"`
	CommandCount    int       `json:"command_count"`
	TTLSeconds      int       `json:"ttl_seconds"`
}

func toSessionResponse(sess *session.Session) sessionResponse {
	return sessionResponse{
		SessionID:       sess.ID,
		ClusterID:       sess.ClusterID,
		UserID:          sess.UserID,
		ServiceIdentity: sess.ServiceIdentity,
		CorrelationID:   sess.CorrelationID,
		CreatedAt:       sess.CreatedAt,
		LastActivity:    sess.LastActivity,
		CommandCount:    sess.CommandCount,
		TTLSeconds:      sess.TTLSeconds,
	}
}

// handleCreateSession implements POST /debug/session.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	identity := auth.FromContext(r.Context())
	sess, err := s.Sessions.Create(r.Context(), session.CreateParams{
		ClusterID:       req.ClusterID,
		UserID:          req.UserID,
		ServiceIdentity: req.ServiceIdentity,
		CorrelationID:   req.CorrelationID,
		TTLSeconds:      req.TTLSeconds,
	})
	if err != nil {
		s.Logger.Error("creating session", "error", err, "cluster_id", req.ClusterID)
		RespondError(w, http.StatusInternalServerError, "internal", "failed to create session")
		return
	}

	s.Audit.LogFromRequest(r, identity.Method, identity.Subject, "accepted", "create_session")
	Respond(w, http.StatusCreated, toSessionResponse(sess))
}

// handleGetSession implements GET /debug/session/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := s.Sessions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			RespondError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		s.Logger.Error("getting session", "error", err, "session_id", id)
		RespondError(w, http.StatusInternalServerError, "internal", "failed to read session")
		return
	}

	Respond(w, http.StatusOK, toSessionResponse(sess))
}

// handleEndSession implements DELETE /debug/session/{id}.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.Sessions.Get(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			RespondError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		s.Logger.Error("reading session before end", "error", err, "session_id", id)
		RespondError(w, http.StatusInternalServerError, "internal", "failed to end session")
		return
	}

	if err := s.Sessions.End(r.Context(), id); err != nil {
		s.Logger.Error("ending session", "error", err, "session_id", id)
		RespondError(w, http.StatusInternalServerError, "internal", "failed to end session")
		return
	}

	identity := auth.FromContext(r.Context())
	s.Audit.LogFromRequest(r, identity.Method, identity.Subject, "accepted", "end_session")
	Respond(w, http.StatusOK, map[string]string{"message": "session ended", "session_id": id})
}

type executeRequest struct {
	ClusterID      string   `json:"cluster_id" validate:"required"`
	SessionID      string   `json:"session_id,omitempty"`
	CorrelationID  string   `json:"correlation_id,omitempty"`
	CommandType    string   `json:"command_type" validate:"required"`
	Args           []string `json:"args" validate:"required,min=1,max=20"`
	Namespace      string   `json:"namespace,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty" validate:"omitempty,gte=1,lte=30"`
}

func (req executeRequest) toCommand() command.Command {
	cmd := command.Command{
		ClusterID:      req.ClusterID,
		Args:           append([]string{req.CommandType}, req.Args...),
		Namespace:      req.Namespace,
		TimeoutSeconds: req.TimeoutSeconds,
		SessionID:      req.SessionID,
		CorrelationID:  req.CorrelationID,
	}
	cmd.NormalizeTimeout()
	return cmd
}

type commandResponse struct {
	CommandID       string `json:"command_id"`
	Status          string `json:"status"`
	Output          string `json:"output,omitempty"`
	Error           string `json:"error,omitempty"`
	ExitCode        *int   `json:"exit_code,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

func toCommandResponse(result *command.Result) commandResponse {
	status := "success"
	switch {
	case !result.Success && strings.Contains(result.Error, "timed out"):
		status = "timeout"
	case !result.Success:
		status = "failure"
	}
	return commandResponse{
		CommandID:       result.CommandID,
		Status:          status,
		Output:          result.Output,
		Error:           result.Error,
		ExitCode:        result.ExitCode,
		ExecutionTimeMs: result.ExecutionTimeMs,
	}
}

// handleExecute implements POST /debug/execute: push the command, keep the
// request suspended on wait_for_result, and report a timeout status if the
// budget expires before a result is stored (spec.md §5 "Cancellation and
// timeouts... synchronous execute call takes a timeout").
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	if !s.dispatch.Allow(req.ClusterID) {
		RespondError(w, http.StatusTooManyRequests, "rate_limited", "dispatch rate exceeded for this cluster")
		return
	}

	cmd := req.toCommand()
	id, err := newCommandID()
	if err != nil {
		s.Logger.Error("generating command id", "error", err)
		RespondError(w, http.StatusInternalServerError, "internal", "failed to allocate command id")
		return
	}
	cmd.ID = id

	if req.SessionID != "" {
		if _, err := s.Sessions.KeepAlive(r.Context(), req.SessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
			s.Logger.Warn("keeping session alive on execute", "error", err, "session_id", req.SessionID)
		}
	}

	if _, err := s.Queue.Push(r.Context(), cmd); err != nil {
		s.Logger.Error("pushing command", "error", err, "command_id", cmd.ID)
		RespondError(w, http.StatusInternalServerError, "internal", "failed to queue command")
		return
	}
	telemetry.CommandsQueuedTotal.WithLabelValues(cmd.ClusterID).Inc()
	s.notifyExecutor(r, cmd.ClusterID)

	identity := auth.FromContext(r.Context())
	result, err := s.Queue.WaitForResult(r.Context(), cmd.ID, time.Duration(cmd.TimeoutSeconds)*time.Second)
	if err != nil {
		s.Logger.Error("waiting for result", "error", err, "command_id", cmd.ID)
		RespondError(w, http.StatusInternalServerError, "internal", "failed waiting for result")
		return
	}
	if result == nil {
		s.Audit.LogFromRequest(r, identity.Method, identity.Subject, "timeout", "execute")
		RespondError(w, http.StatusRequestTimeout, "timeout", "command did not complete before its timeout")
		return
	}

	s.Audit.LogFromRequest(r, identity.Method, identity.Subject, "accepted", "execute")
	Respond(w, http.StatusOK, toCommandResponse(result))
}

type asyncExecuteResponse struct {
	OperationID string `json:"operation_id"`
	Status      string `json:"status"`
	PollURL     string `json:"poll_url"`
}

// handleExecuteAsync implements POST /debug/execute/async: push the
// command and return immediately with an opaque operation id the caller
// polls via /debug/operations/{id} (spec.md §9 "async execute").
func (s *Server) handleExecuteAsync(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	if !s.dispatch.Allow(req.ClusterID) {
		RespondError(w, http.StatusTooManyRequests, "rate_limited", "dispatch rate exceeded for this cluster")
		return
	}

	cmd := req.toCommand()
	id, err := newCommandID()
	if err != nil {
		s.Logger.Error("generating command id", "error", err)
		RespondError(w, http.StatusInternalServerError, "internal", "failed to allocate command id")
		return
	}
	cmd.ID = id

	if _, err := s.Queue.Push(r.Context(), cmd); err != nil {
		s.Logger.Error("pushing async command", "error", err, "command_id", cmd.ID)
		RespondError(w, http.StatusInternalServerError, "internal", "failed to queue command")
		return
	}
	telemetry.CommandsQueuedTotal.WithLabelValues(cmd.ClusterID).Inc()
	s.notifyExecutor(r, cmd.ClusterID)

	identity := auth.FromContext(r.Context())
	s.Audit.LogFromRequest(r, identity.Method, identity.Subject, "accepted", "execute_async")

	Respond(w, http.StatusAccepted, asyncExecuteResponse{
		OperationID: cmd.ID,
		Status:      "pending",
		PollURL:     "/debug/operations/" + cmd.ID,
	})
}

type operationResponse struct {
	OperationID string           `json:"operation_id"`
	Status      string           `json:"status"`
	Result      *commandResponse `json:"result,omitempty"`
}

// handleGetOperation implements GET /debug/operations/{id}: a
// non-blocking peek at the result store, falling back to the tracking
// record to distinguish "still pending" from "never existed / expired"
// (spec.md §9 "result remains readable via /debug/operations/{id} until
// its TTL").
func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := s.Queue.WaitForResult(r.Context(), id, 0)
	if err != nil {
		s.Logger.Error("checking operation result", "error", err, "operation_id", id)
		RespondError(w, http.StatusInternalServerError, "internal", "failed to read operation")
		return
	}
	if result != nil {
		resp := toCommandResponse(result)
		Respond(w, http.StatusOK, operationResponse{OperationID: id, Status: resp.Status, Result: &resp})
		return
	}

	tracking, err := s.Queue.Tracking(r.Context(), id)
	if err != nil {
		s.Logger.Error("checking operation tracking", "error", err, "operation_id", id)
		RespondError(w, http.StatusInternalServerError, "internal", "failed to read operation")
		return
	}
	if tracking == nil {
		RespondError(w, http.StatusNotFound, "not_found", "operation not found or expired")
		return
	}

	Respond(w, http.StatusOK, operationResponse{OperationID: id, Status: "pending"})
}

type clustersResponse struct {
	Clusters []string `json:"clusters"`
}

// handleListClusters implements GET /debug/clusters: clusters with a
// registered executor token are, by construction, the clusters a client
// may target (spec.md §4.5 "List clusters the caller is authorized to
// see").
func (s *Server) handleListClusters(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.Tokens.ListIssued(r.Context())
	if err != nil {
		s.Logger.Error("listing clusters", "error", err)
		RespondError(w, http.StatusInternalServerError, "internal", "failed to list clusters")
		return
	}

	ids := make([]string, len(tokens))
	for i, t := range tokens {
		ids[i] = t.ClusterID
	}
	Respond(w, http.StatusOK, clustersResponse{Clusters: ids})
}

type issueTokenRequest struct {
	CustomToken string `json:"custom_token,omitempty"`
}

type issueTokenResponse struct {
	ClusterID string    `json:"cluster_id"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// handleIssueToken implements POST /admin/agents/{cluster_id}/token
// (spec.md §6).
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "cluster_id")

	var req issueTokenRequest
	if r.ContentLength != 0 {
		if !DecodeAndValidate(w, r, &req) {
			return
		}
	}

	token, err := s.Tokens.IssueToken(r.Context(), clusterID, req.CustomToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExists) {
			RespondError(w, http.StatusConflict, "conflict", "executor token already issued for this cluster")
			return
		}
		s.Logger.Error("issuing executor token", "error", err, "cluster_id", clusterID)
		RespondError(w, http.StatusInternalServerError, "internal", "failed to issue executor token")
		return
	}

	identity := auth.FromContext(r.Context())
	s.Audit.LogFromRequest(r, identity.Method, identity.Subject, "accepted", "issue_executor_token")

	Respond(w, http.StatusCreated, issueTokenResponse{
		ClusterID: clusterID,
		Token:     token,
		CreatedAt: time.Now().UTC(),
	})
}

// handleRevokeToken implements DELETE /admin/agents/{cluster_id}/token
// (spec.md §6).
func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "cluster_id")

	if err := s.Tokens.RevokeToken(r.Context(), clusterID); err != nil {
		if errors.Is(err, auth.ErrTokenNotFound) {
			RespondError(w, http.StatusNotFound, "not_found", "no executor token for this cluster")
			return
		}
		s.Logger.Error("revoking executor token", "error", err, "cluster_id", clusterID)
		RespondError(w, http.StatusInternalServerError, "internal", "failed to revoke executor token")
		return
	}

	identity := auth.FromContext(r.Context())
	s.Audit.LogFromRequest(r, identity.Method, identity.Subject, "accepted", "revoke_executor_token")
	Respond(w, http.StatusOK, map[string]string{"message": "executor token revoked", "cluster_id": clusterID})
}

type agentListResponse struct {
	Agents []auth.TokenInfo `json:"agents"`
}

// handleListAgents implements GET /admin/agents: clusters with an issued
// executor token, never the token value itself.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.Tokens.ListIssued(r.Context())
	if err != nil {
		s.Logger.Error("listing agents", "error", err)
		RespondError(w, http.StatusInternalServerError, "internal", "failed to list agents")
		return
	}
	Respond(w, http.StatusOK, agentListResponse{Agents: tokens})
}

type auditResponse struct {
	Entries []audit.Entry `json:"entries"`
}

// handleAudit implements GET /admin/audit: the most recent entries of the
// bounded audit ring buffer.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	n := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := parsePositiveInt(raw); err == nil {
			n = v
		}
	}

	entries, err := audit.Recent(r.Context(), s.Redis, n)
	if err != nil {
		s.Logger.Error("reading audit log", "error", err)
		RespondError(w, http.StatusInternalServerError, "internal", "failed to read audit log")
		return
	}
	Respond(w, http.StatusOK, auditResponse{Entries: entries})
}

// notifyExecutor publishes to the cluster's push-fabric channel; an open
// SSE stream pulls the queue only when such a notification arrives
// (spec.md §4.3 "Steady state").
func (s *Server) notifyExecutor(r *http.Request, clusterID string) {
	s.Redis.Publish(r.Context(), "executor:commands:"+clusterID, "push")
}
