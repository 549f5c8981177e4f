package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// LedgerService defines the read views the ledger handler requires.
type LedgerService interface {
	Today() string
	GetActivePositions(ctx context.Context, tc domain.TenantContext) ([]domain.Position, error)
	GetTrades(ctx context.Context, tc domain.TenantContext, date string) ([]domain.Trade, error)
	GetCumulativePnl(ctx context.Context, tc domain.TenantContext, asOf string) (domain.PnlSummary, error)
	GetDailyStat(ctx context.Context, tc domain.TenantContext, date string) (domain.DailyStat, error)
	ListAudit(ctx context.Context, tc domain.TenantContext, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// LedgerHandler serves the tenant's positions, trades, P&L and audit trail.
type LedgerHandler struct {
	ledger LedgerService
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(ledger LedgerService, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, logger: logger}
}

type positionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

type tradesResponse struct {
	Date   string         `json:"date"`
	Trades []domain.Trade `json:"trades"`
}

type auditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}

// dateParam returns the named query parameter, defaulting to today.
func (h *LedgerHandler) dateParam(r *http.Request, name string) string {
	if v := r.URL.Query().Get(name); v != "" {
		return v
	}
	return h.ledger.Today()
}

// ListPositions returns the tenant's active positions.
// GET /api/positions
func (h *LedgerHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.ledger.GetActivePositions(r.Context(), tenantOf(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to list positions", err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, positionsResponse{Positions: positions})
}

// ListTrades returns the trades closed on one trading day.
// GET /api/trades?date=YYYY-MM-DD
func (h *LedgerHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	date := h.dateParam(r, "date")
	trades, err := h.ledger.GetTrades(r.Context(), tenantOf(r), date)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to list trades", err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, tradesResponse{Date: date, Trades: trades})
}

// GetPnl returns cumulative realized P&L for the standard windows.
// GET /api/pnl?as_of=YYYY-MM-DD
func (h *LedgerHandler) GetPnl(w http.ResponseWriter, r *http.Request) {
	summary, err := h.ledger.GetCumulativePnl(r.Context(), tenantOf(r), h.dateParam(r, "as_of"))
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to compute pnl", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetDailyStat returns one trading day's aggregate.
// GET /api/daily-stats?date=YYYY-MM-DD
func (h *LedgerHandler) GetDailyStat(w http.ResponseWriter, r *http.Request) {
	st, err := h.ledger.GetDailyStat(r.Context(), tenantOf(r), h.dateParam(r, "date"))
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to get daily stat", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListAudit returns the tenant's audit trail, newest first.
// GET /api/audit?limit=50&offset=0&since=...&until=...
func (h *LedgerHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "invalid list options", err)
		return
	}
	entries, err := h.ledger.ListAudit(r.Context(), tenantOf(r), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to list audit entries", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, auditResponse{Entries: entries})
}
