package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"edgelimit/internal/models"
	"edgelimit/internal/ratelimit"
	"edgelimit/internal/storage"
	"edgelimit/internal/version"
)

// healthPingTimeout bounds the store ping made by the health endpoint.
const healthPingTimeout = 2 * time.Second

// maxCheckBodyBytes caps decision request bodies.
const maxCheckBodyBytes = 4 << 10

// maxWindowMs is the largest window that fits in a time.Duration.
const maxWindowMs = math.MaxInt64 / int64(time.Millisecond)

var windowTooLargeMessage = fmt.Sprintf("windowMs must not exceed %d", maxWindowMs)

// Handlers contains the HTTP handlers of the edgelimit API.
type Handlers struct {
	store   storage.Store
	guard   *ratelimit.Guard
	version version.Info
	started time.Time
}

// NewHandlers creates handlers that check buckets in store with the limits and
// failure policy of guard. A nil store runs the API in memoryless mode.
func NewHandlers(store storage.Store, guard *ratelimit.Guard, ver version.Info) *Handlers {
	return &Handlers{
		store:   store,
		guard:   guard,
		version: ver,
		started: time.Now(),
	}
}

// Check consumes one token for the caller named in the body.
// POST /api/v1/check
//
// Denials are reported as 200 with "allowed": false; the caller decides how to
// reject its own request.
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	var req models.CheckRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCheckBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}

	if req.WindowMs > maxWindowMs {
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeInvalidRequest, windowTooLargeMessage)
		return
	}

	opts := h.options(req.ID, req.Limit, req.WindowMs, req.RefillRatePerMs)
	opts.Store = h.store

	decision, err := h.guard.Apply(r.Context(), opts)
	switch {
	case errors.Is(err, ratelimit.ErrInvalidOptions):
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeInvalidRequest, err.Error())
		return
	case err != nil:
		slog.Warn("Rate limit check failed", "id", req.ID, "error", err)
		resp := models.NewServiceUnavailableResponse("Rate limit store unavailable")
		resp.RequestID = requestIDFromContext(r.Context())
		h.writeJSONResponse(w, http.StatusServiceUnavailable, resp)
		return
	}

	if decision.Fallback != "" {
		w.Header().Set("X-RateLimit-Fallback", string(decision.Fallback))
	}
	if decision.Fallback != ratelimit.FailOpen {
		ratelimit.SetHeaders(w.Header(), decision.Result)
	}
	h.writeJSONResponse(w, http.StatusOK, decision.Result)
}

// PeekBucket reports the current state of a bucket without consuming a token.
// GET /api/v1/buckets/{id}?limit=&windowMs=
func (h *Handlers) PeekBucket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "limit must be an integer")
		return
	}
	windowMs, err := queryInt(r, "windowMs")
	if err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "windowMs must be an integer")
		return
	}
	if windowMs > maxWindowMs {
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeInvalidRequest, windowTooLargeMessage)
		return
	}

	opts := h.options(id, int(limit), windowMs, 0)
	opts.Store = h.store

	res, err := ratelimit.Peek(r.Context(), opts)
	switch {
	case errors.Is(err, ratelimit.ErrInvalidOptions):
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeInvalidRequest, err.Error())
		return
	case err != nil:
		slog.Warn("Bucket peek failed", "id", id, "error", err)
		resp := models.NewServiceUnavailableResponse("Rate limit store unavailable")
		resp.RequestID = requestIDFromContext(r.Context())
		h.writeJSONResponse(w, http.StatusServiceUnavailable, resp)
		return
	}

	ratelimit.SetHeaders(w.Header(), res)
	h.writeJSONResponse(w, http.StatusOK, res)
}

// HealthCheck reports service and store health.
// GET /health
//
// An unreachable store is "degraded" while a fallback policy keeps answering,
// and "unhealthy" (503) when the policy is to fail with an error.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version
	response.Uptime = time.Since(h.started).Round(time.Second).String()
	response.AddComponent("api", models.StatusHealthy, "API is operational")

	status := http.StatusOK
	switch {
	case h.store == nil:
		response.AddComponent("store", models.StatusDegraded, "No store configured; checks are memoryless")
		response.Status = models.StatusDegraded
	default:
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()

		if err := h.store.Ping(ctx); err != nil {
			if h.guard.Config().OnStoreError == ratelimit.FailError {
				response.Status = models.StatusUnhealthy
				status = http.StatusServiceUnavailable
			} else {
				response.Status = models.StatusDegraded
			}
			response.AddComponent("store", response.Status, err.Error())
		} else {
			response.AddComponent("store", models.StatusHealthy, "Store is reachable")
		}
	}

	h.writeJSONResponse(w, status, response)
}

// options fills zero request values from the guard's configured policy.
func (h *Handlers) options(id string, limit int, windowMs int64, refill float64) ratelimit.Options {
	cfg := h.guard.Config()
	opts := ratelimit.Options{
		ID:              id,
		Limit:           limit,
		Window:          time.Duration(windowMs) * time.Millisecond,
		RefillRatePerMs: refill,
		Now:             cfg.Now,
	}
	if limit == 0 {
		opts.Limit = cfg.Limit
	}
	if windowMs == 0 {
		opts.Window = cfg.Window
	}
	if limit == 0 && windowMs == 0 && refill == 0 {
		opts.RefillRatePerMs = cfg.RefillRatePerMs
	}
	return opts
}

func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

func (h *Handlers) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	errorResp := models.NewErrorResponse(message, errorCode)
	errorResp.RequestID = requestIDFromContext(r.Context())
	h.writeJSONResponse(w, statusCode, errorResp)
}
