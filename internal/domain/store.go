package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// LedgerReader is the read side of the ledger. Time ranges are half-open,
// [from, to), and compared against exit_time for trades.
type LedgerReader interface {
	ActivePositions(ctx context.Context, tenantID string) ([]Position, error)
	TradesBetween(ctx context.Context, tenantID string, from, to time.Time) ([]Trade, error)
	SumRealizedPnL(ctx context.Context, tenantID string, from, to time.Time) (float64, error)
	DailyStat(ctx context.Context, tenantID, date string) (DailyStat, error)
	ListAudit(ctx context.Context, tenantID string, opts ListOpts) ([]AuditEntry, error)
	ListTradesBefore(ctx context.Context, tenantID string, before time.Time) ([]Trade, error)
	ListTenants(ctx context.Context) ([]string, error)
}

// LedgerTx is a unit of work bound to a single tenant. Every read a
// reconciliation pass performs goes through the same LedgerTx as its writes.
type LedgerTx interface {
	ActivePositions(ctx context.Context) ([]Position, error)
	InsertPosition(ctx context.Context, p Position) (Position, error)
	UpdatePosition(ctx context.Context, p Position) error
	DeactivatePosition(ctx context.Context, id int64, exitPrice float64, closedAt time.Time) error
	TradesBetween(ctx context.Context, from, to time.Time) ([]Trade, error)
	InsertTrade(ctx context.Context, t Trade) (Trade, error)
	TradeTotals(ctx context.Context, from, to time.Time) (TradeTotals, error)
	DailyStat(ctx context.Context, date string) (DailyStat, error)
	UpsertDailyStat(ctx context.Context, s DailyStat) error
	Audit(ctx context.Context, action string, detail map[string]any) error
}

// LedgerBackend is a persistent ledger. WithTx commits when fn returns nil
// and rolls back otherwise.
type LedgerBackend interface {
	LedgerReader
	WithTx(ctx context.Context, tenantID string, fn func(tx LedgerTx) error) error
	AppendAudit(ctx context.Context, tenantID, action string, detail map[string]any) error
	Close() error
}
