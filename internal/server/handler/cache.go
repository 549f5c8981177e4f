package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradeledger/internal/cache/querycache"
	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// CacheService defines the cache controls the cache handler exposes.
type CacheService interface {
	CacheStats(tc domain.TenantContext) (querycache.Stats, error)
	ClearCache(tc domain.TenantContext) error
}

// CacheHandler serves the tenant's query cache statistics.
type CacheHandler struct {
	cache  CacheService
	logger *slog.Logger
}

// NewCacheHandler creates a CacheHandler.
func NewCacheHandler(cache CacheService, logger *slog.Logger) *CacheHandler {
	return &CacheHandler{cache: cache, logger: logger}
}

// Stats returns hit/miss counters for the tenant.
// GET /api/cache/stats
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.cache.CacheStats(tenantOf(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to read cache stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Clear drops the tenant's cached views.
// DELETE /api/cache
func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.ClearCache(tenantOf(r)); err != nil {
		writeServiceError(w, r, h.logger, "failed to clear cache", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
