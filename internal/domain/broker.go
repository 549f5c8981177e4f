package domain

// PositionView is one row of the broker's live position snapshot.
type PositionView struct {
	InstrumentKey   string          `json:"instrument_key"`
	TradingSymbol   string          `json:"trading_symbol"`
	Exchange        string          `json:"exchange"`
	Quantity        int64           `json:"quantity"`
	AveragePrice    float64         `json:"average_price"`
	LastPrice       float64         `json:"last_price"`
	TransactionType TransactionType `json:"transaction_type,omitempty"`
}

// OrderStatusComplete is the only broker order status that takes part in
// FIFO matching.
const OrderStatusComplete = "COMPLETE"

// OrderFill is one row of the broker's order history. FilledAt is kept raw
// because brokers report several layouts, often without a zone.
type OrderFill struct {
	OrderID         string          `json:"order_id"`
	InstrumentKey   string          `json:"instrument_key"`
	TradingSymbol   string          `json:"trading_symbol"`
	Exchange        string          `json:"exchange"`
	Status          string          `json:"status"`
	TransactionType TransactionType `json:"transaction_type"`
	Quantity        int64           `json:"quantity"`
	Price           float64         `json:"price"`
	FilledAt        string          `json:"filled_at"`
}

// Warning is a row-level problem reported back from a reconciliation pass.
type Warning struct {
	Ref    string `json:"ref"`
	Reason string `json:"reason"`
}

// ReconcileResult summarises one reconciliation pass.
type ReconcileResult struct {
	Opened     int         `json:"opened"`
	Updated    int         `json:"updated"`
	Closed     int         `json:"closed"`
	Created    int         `json:"created"`
	Skipped    int         `json:"skipped"`
	Ignored    int         `json:"ignored"`
	Rejected   int         `json:"rejected"`
	Unmatched  int         `json:"unmatched"`
	Warnings   []Warning   `json:"warnings,omitempty"`
	DailyStats []DailyStat `json:"daily_stats,omitempty"`

	// LossLimitTripped lists trading days whose loss limit was first hit
	// in this pass.
	LossLimitTripped []string `json:"loss_limit_tripped,omitempty"`
}

// Changed reports whether the pass wrote anything to the ledger.
func (r ReconcileResult) Changed() bool {
	return r.Opened+r.Updated+r.Closed+r.Created > 0
}

// Warn records a row-level validation problem.
func (r *ReconcileResult) Warn(err *ValidationError) {
	r.Rejected++
	r.Warnings = append(r.Warnings, Warning{Ref: err.Ref, Reason: err.Error()})
}

// SyncResult is the outcome of a combined positions-then-orders sync.
type SyncResult struct {
	Positions ReconcileResult `json:"positions"`
	Orders    ReconcileResult `json:"orders"`
}
