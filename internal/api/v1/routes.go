package v1

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openreliefdata/datahub/pkg/cache"
	"github.com/openreliefdata/datahub/pkg/consolidate"
	"github.com/openreliefdata/datahub/pkg/fetch"
	"github.com/openreliefdata/datahub/pkg/logger"
	"github.com/openreliefdata/datahub/pkg/ratelimit"
	"github.com/openreliefdata/datahub/pkg/sources"
)

// Response models for API consistency

// SourceResponse represents one source descriptor in API responses.
type SourceResponse struct {
	ID              string            `json:"id"`
	BaseAddress     string            `json:"base_address"`
	EndpointPath    string            `json:"endpoint_path"`
	Enabled         bool              `json:"enabled"`
	Priority        int               `json:"priority"`
	CacheTTLMs      int64             `json:"cache_ttl_ms"`
	MaxRetries      int               `json:"max_retries"`
	RateLimit       RateLimitResponse `json:"rate_limit"`
	ReliabilityTier string            `json:"reliability_tier"`
	UpdateFrequency string            `json:"update_frequency"`
	PayloadKind     string            `json:"payload_kind"`
}

// RateLimitResponse represents a source's configured quota.
type RateLimitResponse struct {
	Requests int   `json:"requests"`
	WindowMs int64 `json:"window_ms"`
}

// ListSourcesResponse represents the source list response.
type ListSourcesResponse struct {
	Sources []SourceResponse `json:"sources"`
	Total   int              `json:"total"`
}

// SetEnabledRequest is the body of the enable/disable toggle.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// RateLimitStatusResponse represents a source's current admission window.
type RateLimitStatusResponse struct {
	RequestCount    int   `json:"request_count"`
	Limit           int   `json:"limit"`
	WindowResetInMs int64 `json:"window_reset_in_ms"`
}

// LatencySampleResponse is one recorded fetch latency.
type LatencySampleResponse struct {
	At        time.Time `json:"at"`
	LatencyMs int64     `json:"latency_ms"`
	Success   bool      `json:"success"`
}

// LatencySamplesResponse lists a source's recent fetch latencies.
type LatencySamplesResponse struct {
	SourceID string                  `json:"source_id"`
	Samples  []LatencySampleResponse `json:"samples"`
}

// ConsolidatedSourceResponse is one source's slot in a consolidated
// response.
type ConsolidatedSourceResponse struct {
	SourceID        string          `json:"source_id"`
	Quality         string          `json:"quality"`
	ReliabilityTier string          `json:"reliability_tier,omitempty"`
	LastSuccess     *time.Time      `json:"last_success,omitempty"`
	AgeMs           *int64          `json:"age_ms,omitempty"`
	StaleFallback   bool            `json:"stale_fallback,omitempty"`
	Error           string          `json:"error,omitempty"`
	Record          json.RawMessage `json:"record,omitempty"`
}

// ConsolidatedResponse represents a consolidated fetch result.
type ConsolidatedResponse struct {
	RequestID   string                       `json:"request_id"`
	RequestedAt time.Time                    `json:"requested_at"`
	Sources     []ConsolidatedSourceResponse `json:"sources"`
}

// RefreshRequest is the body of a force-refresh call.
type RefreshRequest struct {
	Sources []string `json:"sources"`
}

// ErrorResponse represents a standardized error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Routes defines the routes for the orchestrator API with dependency
// injection.
type Routes struct {
	registry *sources.Registry
	facade   *consolidate.Facade
	limiter  *ratelimit.FixedWindow
	store    *cache.Store
	samples  *fetch.LatencyRecorder
}

// NewRoutes creates a new Routes instance with the provided dependencies.
func NewRoutes(
	registry *sources.Registry,
	facade *consolidate.Facade,
	limiter *ratelimit.FixedWindow,
	store *cache.Store,
	samples *fetch.LatencyRecorder,
) *Routes {
	return &Routes{
		registry: registry,
		facade:   facade,
		limiter:  limiter,
		store:    store,
		samples:  samples,
	}
}

// Router creates a new router for the orchestrator API.
func Router(routes *Routes) http.Handler {
	r := chi.NewRouter()

	r.Route("/sources", func(r chi.Router) {
		r.Get("/", routes.listSources)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", routes.getSource)
			r.Put("/enabled", routes.setSourceEnabled)
			r.Get("/ratelimit", routes.getRateLimitStatus)
			r.Get("/latency", routes.getLatencySamples)
		})
	})

	r.Get("/consolidated", routes.getConsolidated)
	r.Post("/consolidated/refresh", routes.refreshConsolidated)

	r.Get("/cache/stats", routes.getCacheStats)
	r.Delete("/cache", routes.clearCache)

	return r
}

// listSources handles GET /api/v1/sources
func (rt *Routes) listSources(w http.ResponseWriter, _ *http.Request) {
	descriptors := rt.registry.List()
	resp := ListSourcesResponse{
		Sources: make([]SourceResponse, 0, len(descriptors)),
		Total:   len(descriptors),
	}
	for _, d := range descriptors {
		resp.Sources = append(resp.Sources, toSourceResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

// getSource handles GET /api/v1/sources/{id}
func (rt *Routes) getSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := rt.registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, toSourceResponse(d))
}

// setSourceEnabled handles PUT /api/v1/sources/{id}/enabled
func (rt *Routes) setSourceEnabled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	if err := rt.registry.SetEnabled(id, body.Enabled); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	logger.Infof("Source %s enabled=%t", id, body.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": body.Enabled})
}

// getRateLimitStatus handles GET /api/v1/sources/{id}/ratelimit
func (rt *Routes) getRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := rt.limiter.Status(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, RateLimitStatusResponse{
		RequestCount:    status.RequestCount,
		Limit:           status.Limit,
		WindowResetInMs: status.WindowResetIn.Milliseconds(),
	})
}

// getLatencySamples handles GET /api/v1/sources/{id}/latency
func (rt *Routes) getLatencySamples(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := rt.registry.Get(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	samples := rt.samples.Samples(id)
	resp := LatencySamplesResponse{
		SourceID: id,
		Samples:  make([]LatencySampleResponse, 0, len(samples)),
	}
	for _, s := range samples {
		resp.Samples = append(resp.Samples, LatencySampleResponse{
			At:        s.At,
			LatencyMs: s.Latency.Milliseconds(),
			Success:   s.Success,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// getConsolidated handles GET /api/v1/consolidated?sources=a,b,c
func (rt *Routes) getConsolidated(w http.ResponseWriter, r *http.Request) {
	ids := splitSourceIDs(r.URL.Query().Get("sources"))
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("query parameter 'sources' is required"))
		return
	}

	result, err := rt.facade.FetchConsolidated(r.Context(), ids)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, toConsolidatedResponse(result))
}

// refreshConsolidated handles POST /api/v1/consolidated/refresh
func (rt *Routes) refreshConsolidated(w http.ResponseWriter, r *http.Request) {
	var body RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if len(body.Sources) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("at least one source id is required"))
		return
	}

	result, err := rt.facade.ForceRefresh(r.Context(), body.Sources)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, toConsolidatedResponse(result))
}

// getCacheStats handles GET /api/v1/cache/stats
func (rt *Routes) getCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.store.Stats())
}

// clearCache handles DELETE /api/v1/cache
func (rt *Routes) clearCache(w http.ResponseWriter, _ *http.Request) {
	rt.store.Clear()
	logger.Infof("Cache cleared by operator request")
	w.WriteHeader(http.StatusNoContent)
}

func toSourceResponse(d sources.Descriptor) SourceResponse {
	return SourceResponse{
		ID:           d.ID,
		BaseAddress:  d.BaseAddress,
		EndpointPath: d.EndpointPath,
		Enabled:      d.Enabled,
		Priority:     d.Priority,
		CacheTTLMs:   d.CacheTTL.Milliseconds(),
		MaxRetries:   d.MaxRetries,
		RateLimit: RateLimitResponse{
			Requests: d.RateLimit.Requests,
			WindowMs: d.RateLimit.Window.Milliseconds(),
		},
		ReliabilityTier: string(d.ReliabilityTier),
		UpdateFrequency: string(d.UpdateFrequency),
		PayloadKind:     string(d.PayloadKind),
	}
}

func toConsolidatedResponse(result *consolidate.Result) ConsolidatedResponse {
	resp := ConsolidatedResponse{
		RequestID:   result.ID,
		RequestedAt: result.RequestedAt,
		Sources:     make([]ConsolidatedSourceResponse, 0, len(result.Sources)),
	}
	for _, s := range result.Sources {
		item := ConsolidatedSourceResponse{
			SourceID:        s.SourceID,
			Quality:         string(s.Quality),
			ReliabilityTier: string(s.Tier),
			LastSuccess:     s.LastSuccess,
			StaleFallback:   s.StaleFallback,
		}
		if s.LastSuccess != nil {
			age := time.Since(*s.LastSuccess).Milliseconds()
			item.AgeMs = &age
		}
		if s.Err != nil {
			item.Error = s.Err.Error()
		}
		if s.Record != nil {
			if data, err := json.Marshal(s.Record); err == nil {
				item.Record = data
			}
		}
		resp.Sources = append(resp.Sources, item)
	}
	return resp
}

func splitSourceIDs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
