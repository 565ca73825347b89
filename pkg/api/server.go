// Package api is the node's HTTP control surface: health and status reads,
// the approval workflow, direct tool invocation, fleet operations, and the
// interop inbox peers deliver envelopes to.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/famlabs/agentnode/pkg/approval"
	"github.com/famlabs/agentnode/pkg/backup"
	"github.com/famlabs/agentnode/pkg/config"
	"github.com/famlabs/agentnode/pkg/fleet"
	"github.com/famlabs/agentnode/pkg/interop"
	"github.com/famlabs/agentnode/pkg/llm"
	"github.com/famlabs/agentnode/pkg/memory"
	"github.com/famlabs/agentnode/pkg/observability"
	"github.com/famlabs/agentnode/pkg/tools"
)

const (
	maxBodyBytes     = 1 << 20
	defaultListLimit = 50
	maxListLimit     = 500

	rateLimitPerSecond = 50
	rateLimitBurst     = 100
)

// ServerConfig assembles the server's dependencies.
type ServerConfig struct {
	Profile  *config.Profile
	Registry *tools.Registry
	Queue    *approval.Queue
	Episodic *memory.EpisodicStore
	Messages *memory.MessageLog
	Usage    *memory.UsageStore
	Bridge   *interop.Bridge
	Replier  *llm.CheckinReplier
	Backups  *backup.StatusProvider
	Fleet    *fleet.ControlPlane
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Now      func() time.Time
}

// Server serves the control surface for one node process.
type Server struct {
	profile   *config.Profile
	registry  *tools.Registry
	queue     *approval.Queue
	episodic  *memory.EpisodicStore
	messages  *memory.MessageLog
	usage     *memory.UsageStore
	bridge    *interop.Bridge
	replier   *llm.CheckinReplier
	backups   *backup.StatusProvider
	fleet     *fleet.ControlPlane
	log       *slog.Logger
	metrics   *observability.Metrics
	limiter   *rate.Limiter
	now       func() time.Time
	startedAt time.Time
}

// NewServer builds a server. Logger must be non-nil; Metrics may be nil.
func NewServer(cfg ServerConfig) *Server {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		profile:   cfg.Profile,
		registry:  cfg.Registry,
		queue:     cfg.Queue,
		episodic:  cfg.Episodic,
		messages:  cfg.Messages,
		usage:     cfg.Usage,
		bridge:    cfg.Bridge,
		replier:   cfg.Replier,
		backups:   cfg.Backups,
		fleet:     cfg.Fleet,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
		limiter:   rate.NewLimiter(rate.Limit(rateLimitPerSecond), rateLimitBurst),
		now:       now,
		startedAt: now(),
	}
}

// Handler returns the routed control surface wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /logs", s.handleLogs)
	mux.HandleFunc("GET /api-usage", s.handleAPIUsage)
	mux.HandleFunc("GET /backup/status", s.handleBackupStatus)
	mux.HandleFunc("GET /approvals", s.handleApprovals)
	mux.HandleFunc("POST /approvals/{id}/resolve", s.handleApprovalResolve)
	mux.HandleFunc("POST /approvals/{id}/execute", s.handleApprovalExecute)
	mux.HandleFunc("POST /tools/execute", s.handleToolExecute)
	mux.HandleFunc("GET /fleet/status", s.handleFleetStatus)
	mux.HandleFunc("POST /fleet/deploy", s.handleFleetDeploy)
	mux.HandleFunc("GET /interop/messages", s.handleInteropMessages)
	mux.HandleFunc("POST /interop/inbox", s.handleInbox)

	var h http.Handler = mux
	h = s.readonlyGuard(h)
	h = s.rateLimit(h)
	h = s.requestID(h)
	return h
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		s.log.Debug("request", "request_id", id, "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// readonlyGuard restricts a public node to an allowlisted set of GET
// endpoints. Everything else, including the interop inbox, is refused.
func (s *Server) readonlyGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.profile.PublicReadonlyMode {
			next.ServeHTTP(w, r)
			return
		}
		allowed := false
		if r.Method == http.MethodGet {
			for _, path := range s.profile.PublicReadonlyGetEndpoints {
				if r.URL.Path == path {
					allowed = true
					break
				}
			}
		}
		if !allowed {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"error": "Endpoint blocked in public read-only mode",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"profile":        s.profile.Name,
		"uptime_seconds": int64(s.now().Sub(s.startedAt).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pending, err := s.queue.ListPending(ctx, maxListLimit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	events, err := s.episodic.Latest(ctx, 10)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profile":           s.profile.Name,
		"display_name":      s.profile.DisplayName,
		"policy_tier":       s.profile.PolicyTier,
		"uptime_seconds":    int64(s.now().Sub(s.startedAt).Seconds()),
		"tools_registered":  s.registry.Count(),
		"tools":             s.registry.Names(),
		"pending_approvals": len(pending),
		"recent_events":     orEmptyEvents(events),
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	events, err := s.episodic.Latest(r.Context(), listLimit(r))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": orEmptyEvents(events)})
}

func (s *Server) handleAPIUsage(w http.ResponseWriter, r *http.Request) {
	windowDays := 0
	if raw := r.URL.Query().Get("window_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid window_days"})
			return
		}
		windowDays = n
	}
	summary, err := s.usage.Summary(r.Context(), windowDays)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	summary.Profile = s.profile.Name
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleBackupStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backups.Summary())
}

func (s *Server) handleApprovals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pending, err := s.queue.ListPending(ctx, 100)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	recent, err := s.queue.ListRecent(ctx, 100)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending": orEmptyRecords(pending),
		"recent":  orEmptyRecords(recent),
	})
}

func (s *Server) handleApprovalResolve(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid approval id"})
		return
	}
	var body struct {
		Approve *bool `json:"approve"`
	}
	if err := readJSON(r, &body); err != nil || body.Approve == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "body must include boolean 'approve'"})
		return
	}

	ctx := r.Context()
	resolved, err := s.queue.Resolve(ctx, id, *body.Approve)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if !resolved {
		writeJSON(w, http.StatusConflict, map[string]any{
			"ok":    false,
			"error": fmt.Sprintf("Approval %d is not pending", id),
		})
		return
	}
	status := approval.StatusRejected
	if *body.Approve {
		status = approval.StatusApproved
	}
	if _, err := s.episodic.Record(ctx, "approval_resolved",
		map[string]any{"approval_id": id, "status": status}, "", status); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "approval_id": id, "status": status})
}

func (s *Server) handleApprovalExecute(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid approval id"})
		return
	}
	result, err := s.registry.ExecuteApproved(r.Context(), id)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": result.OK, "output": result.Output})
}

func (s *Server) handleToolExecute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ToolName string         `json:"tool_name"`
		Payload  map[string]any `json:"payload"`
	}
	if err := readJSON(r, &body); err != nil || body.ToolName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "body must include 'tool_name'"})
		return
	}
	if body.Payload == nil {
		body.Payload = map[string]any{}
	}
	result, err := s.registry.Execute(r.Context(), body.ToolName, body.Payload)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.metrics.ToolExecution(r.Context(), body.ToolName, toolDecision(result))
	writeJSON(w, http.StatusOK, map[string]any{"ok": result.OK, "output": result.Output})
}

func toolDecision(result tools.Result) string {
	if result.OK {
		return "allow"
	}
	if required, _ := result.Output["approval_required"].(bool); required {
		return "require_approval"
	}
	return "deny"
}

func (s *Server) handleFleetStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.fleet.HealthReport(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleFleetDeploy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	result := s.fleet.DeployAll(ctx)
	decision := "deny"
	if result.OK {
		decision = "allow"
	}
	if _, err := s.episodic.Record(ctx, "fleet_deploy_triggered",
		map[string]any{"ok": result.OK, "returncode": result.ReturnCode, "error": result.Error},
		"", decision); err != nil {
		s.internalError(w, r, err)
		return
	}
	status := http.StatusOK
	if !result.OK {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

func (s *Server) handleInteropMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.messages.Recent(r.Context(), listLimit(r))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []memory.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// handleInbox receives a peer envelope, validates and records it, and answers
// according to task type. Security rejections come back as 4xx so the sender
// can tell a refused envelope from a broken node.
func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Envelope json.RawMessage `json:"envelope"`
	}
	if err := readJSON(r, &body); err != nil || len(body.Envelope) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "body must include 'envelope'"})
		return
	}

	env, err := interop.DecodeEnvelope(body.Envelope)
	if err != nil {
		s.rejectEnvelope(w, r, "", err)
		return
	}

	ctx := r.Context()
	accepted, err := s.bridge.Receive(ctx, env)
	if err != nil {
		s.rejectEnvelope(w, r, env.Source, err)
		return
	}

	if _, err := s.episodic.Record(ctx, "interop_received",
		map[string]any{
			"source":                   accepted.Source,
			"task_type":                accepted.TaskType,
			"nonce":                    accepted.Nonce,
			"identity_signature_valid": accepted.IdentitySignatureValid,
		}, "", "allow"); err != nil {
		s.internalError(w, r, err)
		return
	}

	switch accepted.TaskType {
	case "route_envelope":
		s.relayEnvelope(w, r, accepted)
	case "skills_checkin":
		response := acceptedResponse(accepted)
		response["reply"] = s.replier.Reply(ctx, accepted.Source, accepted.Payload)
		writeJSON(w, http.StatusOK, response)
	default:
		writeJSON(w, http.StatusOK, acceptedResponse(accepted))
	}
}

func acceptedResponse(accepted interop.Accepted) map[string]any {
	return map[string]any{
		"accepted":                 true,
		"source":                   accepted.Source,
		"target":                   accepted.Target,
		"task_type":                accepted.TaskType,
		"payload":                  accepted.Payload,
		"nonce":                    accepted.Nonce,
		"identity_signature_valid": accepted.IdentitySignatureValid,
	}
}

// relayEnvelope forwards the inner envelope carried by a route_envelope task.
func (s *Server) relayEnvelope(w http.ResponseWriter, r *http.Request, accepted interop.Accepted) {
	rawInner, err := json.Marshal(accepted.Payload["envelope"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "route_envelope payload missing inner envelope"})
		return
	}
	inner, err := interop.DecodeEnvelope(rawInner)
	if err != nil {
		s.rejectEnvelope(w, r, accepted.Source, err)
		return
	}

	result, err := s.bridge.Relay(r.Context(), accepted.Source, inner)
	if err != nil {
		var transportErr *interop.TransportError
		switch {
		case interop.IsSecurityError(err):
			s.rejectEnvelope(w, r, accepted.Source, err)
		case errors.As(err, &transportErr):
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": transportErr.Error()})
		default:
			s.internalError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "routed": true, "relay": result})
}

// rejectEnvelope answers a refused envelope and records the deny event.
// Schema failures are the sender's formatting problem (400); everything else
// is a security refusal (403).
func (s *Server) rejectEnvelope(w http.ResponseWriter, r *http.Request, source string, err error) {
	status := http.StatusForbidden
	var schemaErr *interop.SchemaError
	if errors.As(err, &schemaErr) {
		status = http.StatusBadRequest
	}
	if _, recErr := s.episodic.Record(r.Context(), "interop_rejected",
		map[string]any{"source": source, "reason": err.Error()}, "", "deny"); recErr != nil {
		s.log.Error("record rejection event", "error", recErr)
	}
	s.log.Warn("envelope rejected", "source", source, "reason", err.Error())
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
}

func listLimit(r *http.Request) int {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}

func readJSON(r *http.Request, out any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func orEmptyEvents(events []memory.Event) []memory.Event {
	if events == nil {
		return []memory.Event{}
	}
	return events
}

func orEmptyRecords(records []approval.Record) []approval.Record {
	if records == nil {
		return []approval.Record{}
	}
	return records
}
