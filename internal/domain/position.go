package domain

import "time"

// TransactionType is the side of a fill or of a position's opening leg.
type TransactionType string

const (
	TransactionBuy  TransactionType = "BUY"
	TransactionSell TransactionType = "SELL"
)

// Opposite returns the other side.
func (t TransactionType) Opposite() TransactionType {
	if t == TransactionBuy {
		return TransactionSell
	}
	return TransactionBuy
}

// Valid reports whether t is BUY or SELL.
func (t TransactionType) Valid() bool {
	return t == TransactionBuy || t == TransactionSell
}

// SideForQuantity derives the opening side from a signed quantity.
func SideForQuantity(qty int64) TransactionType {
	if qty < 0 {
		return TransactionSell
	}
	return TransactionBuy
}

// Position is the locally persisted view of an instrument the tenant holds.
// At most one active Position exists per (TenantID, InstrumentKey).
// Positions are deactivated, never deleted.
type Position struct {
	ID              int64           `json:"id"`
	TenantID        string          `json:"tenant_id"`
	InstrumentKey   string          `json:"instrument_key"`
	TradingSymbol   string          `json:"trading_symbol"`
	Exchange        string          `json:"exchange"`
	IsActive        bool            `json:"is_active"`
	EntryTime       time.Time       `json:"entry_time"`
	EntryPrice      float64         `json:"entry_price"`
	Quantity        int64           `json:"quantity"` // positive long, negative short
	TransactionType TransactionType `json:"transaction_type"`
	LastSyncedPrice float64         `json:"last_synced_price"`
	UnrealizedPnL   float64         `json:"unrealized_pnl"`
	ClosedAt        *time.Time      `json:"closed_at,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ExitPrice is the price a position is closed at when it disappears from
// the broker snapshot: the last synced price, or the entry price when it
// was never priced.
func (p Position) ExitPrice() float64 {
	if p.LastSyncedPrice > 0 {
		return p.LastSyncedPrice
	}
	return p.EntryPrice
}
