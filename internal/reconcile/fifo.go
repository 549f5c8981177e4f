package reconcile

import (
	"slices"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// fill is a validated, completed order fill.
type fill struct {
	orderID       string
	instrumentKey string
	tradingSymbol string
	exchange      string
	side          domain.TransactionType
	qty           int64
	price         float64
	at            time.Time
}

// lot is the unmatched remainder of an opening fill.
type lot struct {
	fill
	remaining int64
}

// roundTrip is one matched open/close pair of qty units.
type roundTrip struct {
	open  fill
	close fill
	qty   int64
}

// trade converts the round trip into a ledger trade. Long round trips carry
// a positive quantity, short ones a negative quantity.
func (rt roundTrip) trade() domain.Trade {
	qty := rt.qty
	if rt.open.side == domain.TransactionSell {
		qty = -qty
	}
	pnl := realizedPnL(rt.open.price, rt.close.price, qty)
	return domain.Trade{
		InstrumentKey:   rt.open.instrumentKey,
		TradingSymbol:   firstNonEmpty(rt.open.tradingSymbol, rt.close.tradingSymbol),
		Exchange:        firstNonEmpty(rt.open.exchange, rt.close.exchange),
		EntryTime:       rt.open.at,
		ExitTime:        rt.close.at,
		EntryPrice:      rt.open.price,
		ExitPrice:       rt.close.price,
		Quantity:        qty,
		TransactionType: rt.open.side,
		RealizedPnL:     pnl,
		IsProfit:        pnl > 0,
		ExitType:        domain.ExitOrderMatch,
	}
}

// matchFIFO pairs the fills of one instrument. Fills are taken in time order
// (input order breaks ties); each fill first consumes the oldest pending lots
// on the opposite side and any remainder opens a lot on its own side. It
// returns the round trips and the number of lots left open.
func matchFIFO(fills []fill) ([]roundTrip, int) {
	sorted := slices.Clone(fills)
	slices.SortStableFunc(sorted, func(a, b fill) int { return a.at.Compare(b.at) })

	pending := map[domain.TransactionType][]*lot{}
	var trips []roundTrip

	for _, f := range sorted {
		remaining := f.qty
		queue := pending[f.side.Opposite()]
		for remaining > 0 && len(queue) > 0 {
			head := queue[0]
			n := min(head.remaining, remaining)
			trips = append(trips, roundTrip{open: head.fill, close: f, qty: n})
			head.remaining -= n
			remaining -= n
			if head.remaining == 0 {
				queue = queue[1:]
			}
		}
		pending[f.side.Opposite()] = queue
		if remaining > 0 {
			pending[f.side] = append(pending[f.side], &lot{fill: f, remaining: remaining})
		}
	}

	open := len(pending[domain.TransactionBuy]) + len(pending[domain.TransactionSell])
	return trips, open
}

// tradeKey identifies a trade for re-sync de-duplication.
type tradeKey struct {
	instrumentKey string
	exitUnix      int64
	exitCents     int64
	qty           int64
}

func keyOf(t domain.Trade) tradeKey {
	return tradeKey{
		instrumentKey: t.InstrumentKey,
		exitUnix:      t.ExitTime.UTC().Truncate(time.Second).Unix(),
		exitCents:     centsOf(t.ExitPrice),
		qty:           t.Quantity,
	}
}

// tradeSet is a multiset of trade keys: one existing row absorbs exactly one
// identical candidate.
type tradeSet map[tradeKey]int

func newTradeSet(trades []domain.Trade) tradeSet {
	s := make(tradeSet, len(trades))
	for _, t := range trades {
		s[keyOf(t)]++
	}
	return s
}

// take consumes one occurrence of k and reports whether it was present.
func (s tradeSet) take(k tradeKey) bool {
	if s[k] == 0 {
		return false
	}
	s[k]--
	return true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
