// Package admin exposes the operational surface: health, metrics, the
// anchoring monitor and the failed-operation queue.
package admin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"karbon/internal/chainio/retry"
	"karbon/internal/monitor"
	dErrors "karbon/pkg/domain-errors"
	"karbon/pkg/platform/sentinel"
)

// Handler serves the administrative endpoints.
type Handler struct {
	logger   *slog.Logger
	monitor  *monitor.Monitor
	retrier  *retry.Handler
	registry *prometheus.Registry
}

// New creates the admin Handler.
func New(m *monitor.Monitor, retrier *retry.Handler, registry *prometheus.Registry, logger *slog.Logger) *Handler {
	return &Handler{
		logger:   logger,
		monitor:  m,
		retrier:  retrier,
		registry: registry,
	}
}

// Register mounts the admin routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	if h.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	} else {
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}

	r.Route("/admin", func(r chi.Router) {
		r.Get("/anchor/stats", h.handleAnchorStats)
		r.Get("/anchor/failures", h.handleAnchorFailures)
		r.Get("/anchor/export", h.handleAnchorExport)
		r.Get("/queue", h.handleQueueList)
		r.Post("/queue/{id}/resolve", h.handleQueueResolve)
		r.Post("/queue/{id}/retry", h.handleQueueRetry)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.monitor.Stats()
	status := http.StatusOK
	if stats.Health == monitor.HealthIssue {
		status = http.StatusServiceUnavailable
	}
	state, degraded := h.retrier.State()
	writeJSON(w, status, map[string]any{
		"status":           stats.Health,
		"reasons":          stats.Reasons,
		"handler_state":    state,
		"handler_degraded": degraded,
	})
}

func (h *Handler) handleAnchorStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Stats())
}

func (h *Handler) handleAnchorFailures(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.monitor.RecentFailures(limit))
}

func (h *Handler) handleAnchorExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(h.monitor.Export())); err != nil {
		h.logger.Warn("write anchor export", "error", err)
	}
}

func (h *Handler) handleQueueList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.retrier.Queue().List())
}

func (h *Handler) handleQueueResolve(w http.ResponseWriter, r *http.Request) {
	queueID := chi.URLParam(r, "id")
	if err := h.retrier.Queue().Resolve(queueID); err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info("queued operation resolved manually", "queue_id", queueID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleQueueRetry(w http.ResponseWriter, r *http.Request) {
	queueID := chi.URLParam(r, "id")
	hash, err := h.retrier.RetryQueued(r.Context(), queueID)
	if err != nil {
		h.logger.Warn("manual retry failed", "queue_id", queueID, "error", err)
		writeError(w, err)
		return
	}
	h.logger.Info("queued operation retried", "queue_id", queueID, "tx_hash", hash)
	writeJSON(w, http.StatusOK, map[string]string{"tx_hash": hash})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	var dErr *dErrors.Error
	status := http.StatusInternalServerError
	message := "internal error"
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		status, message = http.StatusNotFound, "queued operation not found"
	case errors.Is(err, sentinel.ErrInvalidState):
		status, message = http.StatusConflict, "queued operation already resolved"
	}
	if errors.As(err, &dErr) {
		message = dErr.Message
		switch dErr.Code {
		case dErrors.CodeInvalidInput:
			status = http.StatusBadRequest
		case dErrors.CodeNotFound:
			status = http.StatusNotFound
		case dErrors.CodeUnauthorized:
			status = http.StatusForbidden
		case dErrors.CodeConflict, dErrors.CodeInvariantViolation:
			status = http.StatusConflict
		case dErrors.CodeAnchorFailed, dErrors.CodeUnavailable:
			status = http.StatusBadGateway
		}
	}
	writeJSON(w, status, map[string]string{"error": message})
}
