package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/ai-orchestrator/internal/auth"
	"github.com/vnmchuo/ai-orchestrator/internal/orchestrator"
	"github.com/vnmchuo/ai-orchestrator/internal/provider"
	"github.com/vnmchuo/ai-orchestrator/internal/worker"
	"github.com/vnmchuo/ai-orchestrator/pkg/ratelimit"
)

type Handler struct {
	orch    *orchestrator.Orchestrator
	queue   *worker.Queue
	limiter *ratelimit.Limiter
	tracer  trace.Tracer
}

func NewHandler(orch *orchestrator.Orchestrator, queue *worker.Queue, limiter *ratelimit.Limiter, tracer trace.Tracer) *Handler {
	return &Handler{
		orch:    orch,
		queue:   queue,
		limiter: limiter,
		tracer:  tracer,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// HandleExecute runs a request through the orchestrator synchronously.
// Callers get HTTP 200 with a well-formed Response even when every
// provider failed; the Success field carries the outcome.
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	req, ok := h.prepare(w, r)
	if !ok {
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "gateway.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", req.TenantID),
		attribute.String("request_id", req.RequestID),
		attribute.String("capability", string(req.Capability)),
		attribute.String("priority", string(req.Priority)),
	)

	resp := h.orch.Execute(ctx, req)
	span.SetAttributes(
		attribute.Bool("success", resp.Success),
		attribute.String("provider", resp.Provider),
	)
	writeJSON(w, http.StatusOK, resp)
}

// HandleEnqueueJob queues a request for asynchronous execution.
func (h *Handler) HandleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Request     *provider.Request `json:"request"`
		CallbackURL string            `json:"callback_url,omitempty"`
	}
	tenantID := auth.GetTenantID(r.Context())
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Request == nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validCapability(body.Request.Capability) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown capability %q", body.Request.Capability))
		return
	}
	fillRequest(r, body.Request, tenantID)

	job := &worker.Job{
		TenantID:    tenantID,
		Request:     body.Request,
		CallbackURL: body.CallbackURL,
	}
	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

func (h *Handler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.GetTenantID(r.Context())
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	job, err := h.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err == worker.ErrJobNotFound {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job.TenantID != tenantID {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.GetMetricsSnapshot())
}

func (h *Handler) HandleCosts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.GetCostSummary())
}

func (h *Handler) HandleErrors(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.orch.RecentErrors(limit))
}

func (h *Handler) prepare(w http.ResponseWriter, r *http.Request) (*provider.Request, bool) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}

	var req provider.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if !validCapability(req.Capability) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown capability %q", req.Capability))
		return nil, false
	}
	fillRequest(r, &req, tenantID)

	// Rough token estimate, mirroring the dispatch cost model.
	estimatedTokens := len(req.Payload) / 4
	if estimatedTokens < 100 {
		estimatedTokens = 100
	}

	allowed, err := h.limiter.Allow(ctx, tenantID, estimatedTokens)
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60s")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":       "rate limit exceeded",
			"retry_after": "60s",
		})
		return nil, false
	}

	return &req, true
}

func fillRequest(r *http.Request, req *provider.Request, tenantID string) {
	req.TenantID = tenantID
	if req.RequestID == "" {
		req.RequestID = auth.GetRequestID(r.Context())
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}
	if req.Priority == "" {
		req.Priority = provider.PriorityNormal
	}
}

func validCapability(c provider.Capability) bool {
	switch c {
	case provider.CapabilityChat, provider.CapabilityTranslation,
		provider.CapabilitySpeechToText, provider.CapabilityVision:
		return true
	}
	return false
}
