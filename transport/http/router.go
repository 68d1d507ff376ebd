// Package httptransport exposes the gateway over HTTP.
package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aidant64/atlas/model/run"
	"github.com/aidant64/atlas/service/approval"
	"github.com/aidant64/atlas/service/gatekeeper"
	"github.com/aidant64/atlas/service/runstore"
)

// DefaultApprover is recorded for webhook decisions that name no approver.
const DefaultApprover = "webhook"

// Gatekeeper defines the facade operations served over HTTP.
type Gatekeeper interface {
	Invoke(ctx context.Context, call *gatekeeper.Call) (*gatekeeper.Response, error)
	Status(ctx context.Context, ref string) (*gatekeeper.Response, error)
}

// Handler wires gateway endpoints to the facade and approval services.
type Handler struct {
	gatekeeper Gatekeeper
	approvals  approval.Service
	metrics    http.Handler
	apiKey     string
	logger     *slog.Logger
}

// Option configures the handler.
type Option func(h *Handler)

// WithAPIKey sets the bearer key required by protected endpoints. Without a
// key every protected request is refused.
func WithAPIKey(key string) Option {
	return func(h *Handler) { h.apiKey = key }
}

func WithMetrics(handler http.Handler) Option {
	return func(h *Handler) { h.metrics = handler }
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// New constructs the HTTP handler.
func New(gk Gatekeeper, approvals approval.Service, opts ...Option) *Handler {
	ret := &Handler{gatekeeper: gk, approvals: approvals, logger: slog.Default()}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Router returns the gateway routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/health", h.HandleHealth)
	r.Group(func(r chi.Router) {
		r.Use(RequireAPIKey(h.apiKey, h.logger))
		if h.metrics != nil {
			r.Method(http.MethodGet, "/metrics", h.metrics)
		}
		r.Post("/api/tools/{name}", h.HandleInvoke)
		r.Get("/api/runs/{ref}", h.HandleStatus)
		r.Get("/api/approvals", h.HandleListApprovals)
		r.Post("/webhook/approval", h.HandleApprovalWebhook)
	})
	return r
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ATLAS Governance Gateway Running"})
}

// InvokeRequest is the body of POST /api/tools/{name}.
type InvokeRequest struct {
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Intent    string                 `json:"intent,omitempty"`
}

// HandleInvoke handles POST /api/tools/{name}.
func (h *Handler) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	name := chi.URLParam(r, "name")
	req := &InvokeRequest{}
	if !decode(w, r, req) {
		return
	}
	response, err := h.gatekeeper.Invoke(ctx, &gatekeeper.Call{ToolName: name, Arguments: req.Arguments, Context: req.Context, Intent: req.Intent})
	if err != nil {
		h.logger.ErrorContext(ctx, "tool invocation failed",
			"request_id", middleware.GetReqID(ctx),
			"tool_name", name,
			"error", err,
		)
		writeError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "tool invocation answered",
		"request_id", middleware.GetReqID(ctx),
		"tool_name", name,
		"run_id", response.Ref,
		"pending", response.Pending,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	writeJSON(w, http.StatusOK, response)
}

// HandleStatus handles GET /api/runs/{ref}.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	response, err := h.gatekeeper.Status(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// HandleListApprovals handles GET /api/approvals?tool=&min_score=.
func (h *Handler) HandleListApprovals(w http.ResponseWriter, r *http.Request) {
	var filters []approval.PendingFilter
	query := r.URL.Query()
	if tool := query.Get("tool"); tool != "" {
		filters = append(filters, approval.WithToolName(tool))
	}
	if value := query.Get("min_score"); value != "" {
		score, err := strconv.Atoi(value)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "bad_request", "min_score must be an integer")
			return
		}
		filters = append(filters, approval.WithMinScore(score))
	}
	pending, err := h.approvals.ListPending(r.Context(), filters...)
	if err != nil {
		writeError(w, err)
		return
	}
	if pending == nil {
		pending = []*approval.Request{}
	}
	writeJSON(w, http.StatusOK, pending)
}

// DecisionRequest is the body of POST /webhook/approval.
type DecisionRequest struct {
	EventID  string `json:"event_id"`
	Decision string `json:"decision"`
	Approver string `json:"approver"`
	Note     string `json:"note,omitempty"`
}

// HandleApprovalWebhook handles POST /webhook/approval.
func (h *Handler) HandleApprovalWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := &DecisionRequest{}
	if !decode(w, r, req) {
		return
	}
	if req.EventID == "" {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "event_id is required")
		return
	}
	decision := run.DecisionApproved
	if req.Decision != "" {
		decision = run.Decision(strings.ToUpper(req.Decision))
	}
	if !decision.Valid() {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "decision must be APPROVED or REJECTED")
		return
	}
	approver := req.Approver
	if approver == "" {
		approver = DefaultApprover
	}
	if _, err := h.approvals.Decide(ctx, req.EventID, decision == run.DecisionApproved, approver, req.Note); err != nil {
		h.logger.WarnContext(ctx, "approval webhook refused",
			"request_id", middleware.GetReqID(ctx),
			"event_id", req.EventID,
			"error", err,
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "Signal Sent", "decision": string(decision)})
}

func decode(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gatekeeper.ErrUnknownTool):
		writeJSONError(w, http.StatusNotFound, "unknown_tool", err.Error())
	case errors.Is(err, runstore.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not_found", "run not found")
	case errors.Is(err, approval.ErrNotPending):
		writeJSONError(w, http.StatusConflict, "not_pending", err.Error())
	case errors.Is(err, runstore.ErrUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, "unavailable", "run store unavailable")
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	body := map[string]string{"error": errCode}
	if errDesc != "" {
		body["error_description"] = errDesc
	}
	writeJSON(w, status, body)
}
