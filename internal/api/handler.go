// Package api exposes the gateway over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"sqlgate/internal/gateway"
)

// Service is the gateway surface the handlers call.
type Service interface {
	Execute(ctx context.Context, query string) gateway.QueryResult
	Explain(ctx context.Context, query string) gateway.ExplainResult
	GetPolicies(ctx context.Context) gateway.PolicyInfo
	GetMetaInfo(ctx context.Context) gateway.MetaInfo
	ReloadPolicy(ctx context.Context) gateway.ReloadResult
}

// QueryRequest is the body of /exec and /explain.
type QueryRequest struct {
	Query *string `json:"query"`
}

// DefaultMaxBodyBytes bounds request bodies.
const DefaultMaxBodyBytes = 1 << 20

// HandlerOptions tune an APIHandler.
type HandlerOptions struct {
	MaxBodyBytes int64
	// Timeout bounds each gateway call; zero leaves only the database
	// statement timeout.
	Timeout time.Duration
}

// APIHandler serves the gateway endpoints. Gateway outcomes, successful or
// not, are answered with 200 and a success flag; only transport problems use
// other status codes.
type APIHandler struct {
	svc  Service
	opts HandlerOptions
}

// NewHandler creates an APIHandler over svc.
func NewHandler(svc Service, opts HandlerOptions) *APIHandler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &APIHandler{svc: svc, opts: opts}
}

func (h *APIHandler) context(r *http.Request) (context.Context, context.CancelFunc) {
	if h.opts.Timeout > 0 {
		return context.WithTimeout(r.Context(), h.opts.Timeout)
	}
	return context.WithCancel(r.Context())
}

// Root answers the liveness banner.
func (h *APIHandler) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "SQL gateway is running"})
}

// Exec validates and runs a query.
func (h *APIHandler) Exec(w http.ResponseWriter, r *http.Request) {
	query, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()
	writeJSON(w, http.StatusOK, h.svc.Execute(ctx, query))
}

// Explain plans a query and reports its cost assessment.
func (h *APIHandler) Explain(w http.ResponseWriter, r *http.Request) {
	query, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()
	writeJSON(w, http.StatusOK, h.svc.Explain(ctx, query))
}

// GetMetaInfo describes the database.
func (h *APIHandler) GetMetaInfo(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()
	writeJSON(w, http.StatusOK, h.svc.GetMetaInfo(ctx))
}

// GetPolicies returns the active policy.
func (h *APIHandler) GetPolicies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GetPolicies(r.Context()))
}

// ReloadPolicies re-reads the policy file.
func (h *APIHandler) ReloadPolicies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ReloadPolicy(r.Context()))
}

// Healthz reports readiness without touching the database.
func (h *APIHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	info := h.svc.GetPolicies(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"policy_version": info.Version,
	})
}

func (h *APIHandler) decodeQuery(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req QueryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "request body is required")
			return "", false
		}
		writeError(w, statusFromDecodeError(err), fmt.Sprintf("invalid request body: %v", err))
		return "", false
	}
	if req.Query == nil {
		writeError(w, http.StatusBadRequest, "field 'query' is required")
		return "", false
	}
	return *req.Query, true
}
