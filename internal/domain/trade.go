package domain

import "time"

// ExitType records how a trade was closed.
type ExitType string

const (
	ExitSyncedPositionClose ExitType = "synced_position_close"
	ExitOrderMatch          ExitType = "order_match"
	ExitManual              ExitType = "manual"
)

// Trade is an append-only record of a closed round trip. Quantity is signed
// (negative for shorts) so RealizedPnL is always (ExitPrice-EntryPrice)*Quantity.
type Trade struct {
	ID              int64           `json:"id"`
	TenantID        string          `json:"tenant_id"`
	PositionID      *int64          `json:"position_id,omitempty"`
	InstrumentKey   string          `json:"instrument_key"`
	TradingSymbol   string          `json:"trading_symbol"`
	Exchange        string          `json:"exchange"`
	EntryTime       time.Time       `json:"entry_time"`
	ExitTime        time.Time       `json:"exit_time"`
	EntryPrice      float64         `json:"entry_price"`
	ExitPrice       float64         `json:"exit_price"`
	Quantity        int64           `json:"quantity"`
	TransactionType TransactionType `json:"transaction_type"`
	RealizedPnL     float64         `json:"realized_pnl"`
	IsProfit        bool            `json:"is_profit"`
	ExitType        ExitType        `json:"exit_type"`
	CreatedAt       time.Time       `json:"created_at"`
}

// TradeTotals is the count and realized P&L sum of a set of trades.
type TradeTotals struct {
	Count       int
	RealizedPnL float64
}
