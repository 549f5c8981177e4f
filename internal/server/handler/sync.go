package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// SyncService defines the reconciliation passes the sync handler triggers.
type SyncService interface {
	ReconcilePositions(ctx context.Context, tc domain.TenantContext, views []domain.PositionView) (domain.ReconcileResult, error)
	ReconcileOrders(ctx context.Context, tc domain.TenantContext, fills []domain.OrderFill) (domain.ReconcileResult, error)
	Sync(ctx context.Context, tc domain.TenantContext, views []domain.PositionView, fills []domain.OrderFill) (domain.SyncResult, error)
}

// SyncHandler accepts broker snapshots pushed by a collaborator.
type SyncHandler struct {
	sync   SyncService
	logger *slog.Logger
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(sync SyncService, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{sync: sync, logger: logger}
}

// Positions is a pointer so that an omitted or null field can be told
// apart from an empty snapshot, which closes every active position.
type positionsRequest struct {
	Positions *[]domain.PositionView `json:"positions"`
}

type ordersRequest struct {
	Orders *[]domain.OrderFill `json:"orders"`
}

type syncRequest struct {
	Positions *[]domain.PositionView `json:"positions"`
	Orders    []domain.OrderFill     `json:"orders"`
}

func required(field string) error {
	return &domain.ValidationError{Field: field, Reason: "required, send [] for an empty list"}
}

// SyncPositions reconciles a live position snapshot.
// POST /api/sync/positions {"positions": [...]}
func (h *SyncHandler) SyncPositions(w http.ResponseWriter, r *http.Request) {
	var req positionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "invalid request body", err)
		return
	}
	if req.Positions == nil {
		writeServiceError(w, r, h.logger, "invalid request body", required("positions"))
		return
	}
	res, err := h.sync.ReconcilePositions(r.Context(), tenantOf(r), *req.Positions)
	if err != nil {
		writeServiceError(w, r, h.logger, "position sync failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SyncOrders FIFO-matches completed fills into trades.
// POST /api/sync/orders {"orders": [...]}
func (h *SyncHandler) SyncOrders(w http.ResponseWriter, r *http.Request) {
	var req ordersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "invalid request body", err)
		return
	}
	if req.Orders == nil {
		writeServiceError(w, r, h.logger, "invalid request body", required("orders"))
		return
	}
	res, err := h.sync.ReconcileOrders(r.Context(), tenantOf(r), *req.Orders)
	if err != nil {
		writeServiceError(w, r, h.logger, "order sync failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SyncAll reconciles positions and then orders in one request. orders may
// be omitted; positions may not.
// POST /api/sync {"positions": [...], "orders": [...]}
func (h *SyncHandler) SyncAll(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "invalid request body", err)
		return
	}
	if req.Positions == nil {
		writeServiceError(w, r, h.logger, "invalid request body", required("positions"))
		return
	}
	res, err := h.sync.Sync(r.Context(), tenantOf(r), *req.Positions, req.Orders)
	if err != nil {
		writeServiceError(w, r, h.logger, "sync failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
