package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

const tradeSelectCols = `id, tenant_id, position_id, instrument_key, trading_symbol, exchange,
	entry_time, exit_time, entry_price, exit_price, quantity, transaction_type,
	realized_pnl, is_profit, exit_type, created_at`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var txType, exitType string
		if err := rows.Scan(
			&t.ID, &t.TenantID, &t.PositionID, &t.InstrumentKey, &t.TradingSymbol, &t.Exchange,
			&t.EntryTime, &t.ExitTime, &t.EntryPrice, &t.ExitPrice, &t.Quantity, &txType,
			&t.RealizedPnL, &t.IsProfit, &exitType, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		t.TransactionType = domain.TransactionType(txType)
		t.ExitType = domain.ExitType(exitType)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func tradesBetween(ctx context.Context, q querier, tenantID string, from, to time.Time) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades
		WHERE tenant_id = $1 AND exit_time >= $2 AND exit_time < $3
		ORDER BY exit_time, id`

	rows, err := q.Query(ctx, query, tenantID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: trades between: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

func tradeTotals(ctx context.Context, q querier, tenantID string, from, to time.Time) (domain.TradeTotals, error) {
	const query = `
		SELECT COUNT(*), COALESCE(SUM(realized_pnl), 0)::DOUBLE PRECISION FROM trades
		WHERE tenant_id = $1 AND exit_time >= $2 AND exit_time < $3`

	var totals domain.TradeTotals
	if err := q.QueryRow(ctx, query, tenantID, from.UTC(), to.UTC()).Scan(&totals.Count, &totals.RealizedPnL); err != nil {
		return domain.TradeTotals{}, fmt.Errorf("postgres: trade totals: %w", err)
	}
	return totals, nil
}

// ListTradesBefore returns trades with exit_time strictly before the cutoff,
// oldest first.
func (s *LedgerStore) ListTradesBefore(ctx context.Context, tenantID string, before time.Time) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades
		WHERE tenant_id = $1 AND exit_time < $2
		ORDER BY exit_time, id`

	rows, err := s.pool.Query(ctx, query, tenantID, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// InsertTrade appends a closed trade and returns it with its id.
func (t *ledgerTx) InsertTrade(ctx context.Context, tr domain.Trade) (domain.Trade, error) {
	tr.TenantID = t.tenantID

	const query = `
		INSERT INTO trades (
			tenant_id, position_id, instrument_key, trading_symbol, exchange,
			entry_time, exit_time, entry_price, exit_price, quantity,
			transaction_type, realized_pnl, is_profit, exit_type
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14
		)
		RETURNING id, created_at`

	err := t.q.QueryRow(ctx, query,
		tr.TenantID, tr.PositionID, tr.InstrumentKey, tr.TradingSymbol, tr.Exchange,
		tr.EntryTime.UTC(), tr.ExitTime.UTC(), tr.EntryPrice, tr.ExitPrice, tr.Quantity,
		string(tr.TransactionType), tr.RealizedPnL, tr.IsProfit, string(tr.ExitType),
	).Scan(&tr.ID, &tr.CreatedAt)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: insert trade %s: %w", tr.InstrumentKey, err)
	}
	return tr, nil
}
