package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"fluent-cache/internal/catalog"
	"fluent-cache/internal/health"
	"fluent-cache/internal/logs"
	"fluent-cache/internal/metrics"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	catalog  *catalog.Service
	metrics  *metrics.Registry
	analyzer *health.Analyzer
	logger   *logs.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	svc *catalog.Service,
	metrics *metrics.Registry,
	logger *logs.Logger,
) *Handler {
	return &Handler{
		catalog:  svc,
		metrics:  metrics,
		analyzer: health.NewAnalyzer(metrics, logger),
		logger:   logger.Named("api"),
	}
}

/* ---------------- GET /products/{id} ---------------- */

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/products/")
	if id == "" {
		http.Error(w, "missing product id", http.StatusBadRequest)
		return
	}

	p, err := h.catalog.Product(id).Await(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, p)
}

/* ---------------- GET /products ---------------- */

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := h.catalog.List(r.URL.Query().Get("category")).Await(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, ps)
}

/* ---------------- GET /admin/entities ---------------- */

type entityView struct {
	ID             string          `json:"id"`
	Product        catalog.Product `json:"product"`
	AgeMs          int64           `json:"age_ms"`
	RemainingTTLMs int64           `json:"remaining_ttl_ms"`
	Fresh          bool            `json:"fresh"`
}

func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	entities := h.catalog.Entities()
	now := h.catalog.Now()

	resp := []entityView{}
	for id, it := range entities.Items() {
		remaining := it.TTL - now.Sub(it.CachedAt)
		if remaining < 0 {
			remaining = 0
		}
		resp = append(resp, entityView{
			ID:             id,
			Product:        it.Value,
			AgeMs:          now.Sub(it.CachedAt).Milliseconds(),
			RemainingTTLMs: remaining.Milliseconds(),
			Fresh:          it.Fresh(now),
		})
	}
	sort.Slice(resp, func(i, j int) bool { return resp[i].ID < resp[j].ID })

	writeJSON(w, resp)
}

/* ---------------- DELETE /admin/cache ---------------- */

func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	all := r.URL.Query().Get("all") == "true"
	h.catalog.Invalidate(!all)
	w.WriteHeader(http.StatusNoContent)
}

/* ---------------- GET /metrics ---------------- */

func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.metrics.Snapshot())
}

/* ---------------- GET /health ---------------- */

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	report := h.analyzer.Analyze()
	if report.OverallStatus == health.StatusCritical {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(report)
		return
	}
	writeJSON(w, report)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		http.Error(w, "product not found", http.StatusNotFound)
	case catalog.IsTransient(err):
		http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
	default:
		h.logger.Warnf("request failed: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
