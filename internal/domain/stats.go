package domain

import "time"

// DateLayout is the canonical trading-day format used for keys and columns.
const DateLayout = "2006-01-02"

// DailyStat is the per-tenant, per-trading-day aggregate recomputed inside
// every pass that closes trades on that day.
type DailyStat struct {
	TenantID         string    `json:"tenant_id"`
	Date             string    `json:"date"`
	TotalRealizedPnL float64   `json:"total_realized_pnl"`
	NumberOfTrades   int       `json:"number_of_trades"`
	DailyLossUsed    float64   `json:"daily_loss_used"`
	DailyLossLimit   float64   `json:"daily_loss_limit"`
	LossLimitHit     bool      `json:"loss_limit_hit"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PnlSummary holds cumulative realized P&L over the standard windows ending
// on AsOf (inclusive).
type PnlSummary struct {
	AsOf    string  `json:"as_of"`
	Day     float64 `json:"day"`
	Week    float64 `json:"week"`
	Month   float64 `json:"month"`
	Year    float64 `json:"year"`
	AllTime float64 `json:"all_time"`
}
