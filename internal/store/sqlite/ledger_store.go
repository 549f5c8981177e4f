package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// LedgerStore implements domain.LedgerBackend on SQLite.
type LedgerStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewLedgerStore creates a LedgerStore on an opened client.
func NewLedgerStore(c *Client) *LedgerStore {
	return &LedgerStore{db: c.DB(), now: time.Now}
}

// WithTx runs fn in a transaction bound to tenantID.
func (s *LedgerStore) WithTx(ctx context.Context, tenantID string, fn func(tx domain.LedgerTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StoreError{Op: "sqlite: begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&ledgerTx{q: tx, tenantID: tenantID, now: s.now}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &domain.StoreError{Op: "sqlite: commit", Err: err}
	}
	return nil
}

// Close is a no-op; the Client owns the handle.
func (s *LedgerStore) Close() error { return nil }

// ActivePositions returns the tenant's active positions.
func (s *LedgerStore) ActivePositions(ctx context.Context, tenantID string) ([]domain.Position, error) {
	return activePositions(ctx, s.db, tenantID)
}

// TradesBetween returns trades with exit_time in [from, to).
func (s *LedgerStore) TradesBetween(ctx context.Context, tenantID string, from, to time.Time) ([]domain.Trade, error) {
	return tradesBetween(ctx, s.db, tenantID, from, to)
}

// SumRealizedPnL sums realized P&L of trades with exit_time in [from, to).
func (s *LedgerStore) SumRealizedPnL(ctx context.Context, tenantID string, from, to time.Time) (float64, error) {
	totals, err := tradeTotals(ctx, s.db, tenantID, from, to)
	if err != nil {
		return 0, err
	}
	return totals.RealizedPnL, nil
}

// DailyStat returns one trading day's aggregate or domain.ErrNotFound.
func (s *LedgerStore) DailyStat(ctx context.Context, tenantID, date string) (domain.DailyStat, error) {
	return dailyStat(ctx, s.db, tenantID, date)
}

// ListAudit returns the tenant's audit entries, newest first.
func (s *LedgerStore) ListAudit(ctx context.Context, tenantID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `SELECT id, tenant_id, action, detail, created_at FROM audit_log WHERE tenant_id = ?`
	args := []any{tenantID}
	if opts.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, formatTime(*opts.Since))
	}
	if opts.Until != nil {
		query += " AND created_at <= ?"
		args = append(args, formatTime(*opts.Until))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var detail, createdAt string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Action, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if detail != "" {
			if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListTradesBefore returns trades with exit_time strictly before the cutoff.
func (s *LedgerStore) ListTradesBefore(ctx context.Context, tenantID string, before time.Time) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE tenant_id = ? AND exit_time < ?
		 ORDER BY exit_time, id`, tenantID, formatTime(before))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades before: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// ListTenants returns every tenant with ledger rows.
func (s *LedgerStore) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id FROM positions
		UNION
		SELECT tenant_id FROM trades
		ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tenants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan tenant: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AppendAudit writes a standalone audit entry.
func (s *LedgerStore) AppendAudit(ctx context.Context, tenantID, action string, detail map[string]any) error {
	return appendAudit(ctx, s.db, tenantID, action, detail, s.now())
}

// ledgerTx implements domain.LedgerTx.
type ledgerTx struct {
	q        querier
	tenantID string
	now      func() time.Time
}

func (t *ledgerTx) ActivePositions(ctx context.Context) ([]domain.Position, error) {
	return activePositions(ctx, t.q, t.tenantID)
}

func (t *ledgerTx) InsertPosition(ctx context.Context, p domain.Position) (domain.Position, error) {
	p.TenantID = t.tenantID
	p.IsActive = true
	p.EntryTime = p.EntryTime.UTC().Truncate(time.Microsecond)
	p.UpdatedAt = t.now().UTC().Truncate(time.Microsecond)

	res, err := t.q.ExecContext(ctx, `
		INSERT INTO positions (
			tenant_id, instrument_key, trading_symbol, exchange, is_active,
			entry_time, entry_price, quantity, transaction_type,
			last_synced_price, unrealized_pnl, updated_at
		) VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?)`,
		p.TenantID, p.InstrumentKey, p.TradingSymbol, p.Exchange,
		formatTime(p.EntryTime), p.EntryPrice, p.Quantity, string(p.TransactionType),
		p.LastSyncedPrice, p.UnrealizedPnL, formatTime(p.UpdatedAt),
	)
	if err != nil {
		return domain.Position{}, fmt.Errorf("sqlite: insert position %s: %w", p.InstrumentKey, err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return domain.Position{}, fmt.Errorf("sqlite: position id: %w", err)
	}
	return p, nil
}

func (t *ledgerTx) UpdatePosition(ctx context.Context, p domain.Position) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE positions SET
			trading_symbol    = ?,
			exchange          = ?,
			entry_price       = ?,
			quantity          = ?,
			transaction_type  = ?,
			last_synced_price = ?,
			unrealized_pnl    = ?,
			updated_at        = ?
		WHERE id = ? AND tenant_id = ? AND is_active = 1`,
		p.TradingSymbol, p.Exchange, p.EntryPrice, p.Quantity, string(p.TransactionType),
		p.LastSyncedPrice, p.UnrealizedPnL, formatTime(t.now()),
		p.ID, t.tenantID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update position %d: %w", p.ID, err)
	}
	return requireRow(res, "update position", p.ID)
}

func (t *ledgerTx) DeactivatePosition(ctx context.Context, id int64, exitPrice float64, closedAt time.Time) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE positions SET
			is_active         = 0,
			last_synced_price = ?,
			closed_at         = ?,
			updated_at        = ?
		WHERE id = ? AND tenant_id = ? AND is_active = 1`,
		exitPrice, formatTime(closedAt), formatTime(t.now()), id, t.tenantID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deactivate position %d: %w", id, err)
	}
	return requireRow(res, "deactivate position", id)
}

func (t *ledgerTx) TradesBetween(ctx context.Context, from, to time.Time) ([]domain.Trade, error) {
	return tradesBetween(ctx, t.q, t.tenantID, from, to)
}

func (t *ledgerTx) InsertTrade(ctx context.Context, tr domain.Trade) (domain.Trade, error) {
	tr.TenantID = t.tenantID
	tr.EntryTime = tr.EntryTime.UTC().Truncate(time.Microsecond)
	tr.ExitTime = tr.ExitTime.UTC().Truncate(time.Microsecond)
	tr.CreatedAt = t.now().UTC().Truncate(time.Microsecond)

	var positionID sql.NullInt64
	if tr.PositionID != nil {
		positionID = sql.NullInt64{Int64: *tr.PositionID, Valid: true}
	}

	res, err := t.q.ExecContext(ctx, `
		INSERT INTO trades (
			tenant_id, position_id, instrument_key, trading_symbol, exchange,
			entry_time, exit_time, entry_price, exit_price, quantity,
			transaction_type, realized_pnl, is_profit, exit_type, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.TenantID, positionID, tr.InstrumentKey, tr.TradingSymbol, tr.Exchange,
		formatTime(tr.EntryTime), formatTime(tr.ExitTime), tr.EntryPrice, tr.ExitPrice, tr.Quantity,
		string(tr.TransactionType), tr.RealizedPnL, tr.IsProfit, string(tr.ExitType), formatTime(tr.CreatedAt),
	)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("sqlite: insert trade %s: %w", tr.InstrumentKey, err)
	}
	if tr.ID, err = res.LastInsertId(); err != nil {
		return domain.Trade{}, fmt.Errorf("sqlite: trade id: %w", err)
	}
	return tr, nil
}

func (t *ledgerTx) TradeTotals(ctx context.Context, from, to time.Time) (domain.TradeTotals, error) {
	return tradeTotals(ctx, t.q, t.tenantID, from, to)
}

func (t *ledgerTx) DailyStat(ctx context.Context, date string) (domain.DailyStat, error) {
	return dailyStat(ctx, t.q, t.tenantID, date)
}

func (t *ledgerTx) UpsertDailyStat(ctx context.Context, st domain.DailyStat) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO daily_stats (
			tenant_id, date, total_realized_pnl, number_of_trades,
			daily_loss_used, daily_loss_limit, loss_limit_hit, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, date) DO UPDATE SET
			total_realized_pnl = excluded.total_realized_pnl,
			number_of_trades   = excluded.number_of_trades,
			daily_loss_used    = excluded.daily_loss_used,
			daily_loss_limit   = excluded.daily_loss_limit,
			loss_limit_hit     = excluded.loss_limit_hit,
			updated_at         = excluded.updated_at`,
		t.tenantID, st.Date, st.TotalRealizedPnL, st.NumberOfTrades,
		st.DailyLossUsed, st.DailyLossLimit, st.LossLimitHit, formatTime(t.now()),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert daily stat %s: %w", st.Date, err)
	}
	return nil
}

func (t *ledgerTx) Audit(ctx context.Context, action string, detail map[string]any) error {
	return appendAudit(ctx, t.q, t.tenantID, action, detail, t.now())
}

const positionSelectCols = `id, tenant_id, instrument_key, trading_symbol, exchange, is_active,
	entry_time, entry_price, quantity, transaction_type, last_synced_price,
	unrealized_pnl, closed_at, updated_at`

const tradeSelectCols = `id, tenant_id, position_id, instrument_key, trading_symbol, exchange,
	entry_time, exit_time, entry_price, exit_price, quantity, transaction_type,
	realized_pnl, is_profit, exit_type, created_at`

func activePositions(ctx context.Context, q querier, tenantID string) ([]domain.Position, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE tenant_id = ? AND is_active = 1
		 ORDER BY instrument_key`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: active positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var txType, entryTime, updatedAt string
		var closedAt sql.NullString
		if err := rows.Scan(
			&p.ID, &p.TenantID, &p.InstrumentKey, &p.TradingSymbol, &p.Exchange, &p.IsActive,
			&entryTime, &p.EntryPrice, &p.Quantity, &txType, &p.LastSyncedPrice,
			&p.UnrealizedPnL, &closedAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan position: %w", err)
		}
		p.TransactionType = domain.TransactionType(txType)
		if p.EntryTime, err = parseTime(entryTime); err != nil {
			return nil, err
		}
		if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		if closedAt.Valid {
			ts, err := parseTime(closedAt.String)
			if err != nil {
				return nil, err
			}
			p.ClosedAt = &ts
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func tradesBetween(ctx context.Context, q querier, tenantID string, from, to time.Time) ([]domain.Trade, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE tenant_id = ? AND exit_time >= ? AND exit_time < ?
		 ORDER BY exit_time, id`, tenantID, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("sqlite: trades between: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func scanTrades(rows *sql.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var tr domain.Trade
		var positionID sql.NullInt64
		var txType, exitType, entryTime, exitTime, createdAt string
		if err := rows.Scan(
			&tr.ID, &tr.TenantID, &positionID, &tr.InstrumentKey, &tr.TradingSymbol, &tr.Exchange,
			&entryTime, &exitTime, &tr.EntryPrice, &tr.ExitPrice, &tr.Quantity, &txType,
			&tr.RealizedPnL, &tr.IsProfit, &exitType, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan trade: %w", err)
		}
		if positionID.Valid {
			id := positionID.Int64
			tr.PositionID = &id
		}
		tr.TransactionType = domain.TransactionType(txType)
		tr.ExitType = domain.ExitType(exitType)
		var err error
		if tr.EntryTime, err = parseTime(entryTime); err != nil {
			return nil, err
		}
		if tr.ExitTime, err = parseTime(exitTime); err != nil {
			return nil, err
		}
		if tr.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		trades = append(trades, tr)
	}
	return trades, rows.Err()
}

func tradeTotals(ctx context.Context, q querier, tenantID string, from, to time.Time) (domain.TradeTotals, error) {
	var totals domain.TradeTotals
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(realized_pnl), 0.0) FROM trades
		WHERE tenant_id = ? AND exit_time >= ? AND exit_time < ?`,
		tenantID, formatTime(from), formatTime(to),
	).Scan(&totals.Count, &totals.RealizedPnL)
	if err != nil {
		return domain.TradeTotals{}, fmt.Errorf("sqlite: trade totals: %w", err)
	}
	return totals, nil
}

func dailyStat(ctx context.Context, q querier, tenantID, date string) (domain.DailyStat, error) {
	var st domain.DailyStat
	var updatedAt string
	err := q.QueryRowContext(ctx, `
		SELECT tenant_id, date, total_realized_pnl, number_of_trades,
		       daily_loss_used, daily_loss_limit, loss_limit_hit, updated_at
		FROM daily_stats WHERE tenant_id = ? AND date = ?`, tenantID, date,
	).Scan(&st.TenantID, &st.Date, &st.TotalRealizedPnL, &st.NumberOfTrades,
		&st.DailyLossUsed, &st.DailyLossLimit, &st.LossLimitHit, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DailyStat{}, domain.ErrNotFound
		}
		return domain.DailyStat{}, fmt.Errorf("sqlite: get daily stat %s: %w", date, err)
	}
	if st.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.DailyStat{}, err
	}
	return st, nil
}

func appendAudit(ctx context.Context, q querier, tenantID, action string, detail map[string]any, now time.Time) error {
	if detail == nil {
		detail = map[string]any{}
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO audit_log (tenant_id, action, detail, created_at) VALUES (?, ?, ?, ?)`,
		tenantID, action, string(detailJSON), formatTime(now),
	); err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", action, err)
	}
	return nil
}

func requireRow(res sql.Result, op string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: %s %d: %w", op, id, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: %s %d: %w", op, id, domain.ErrNotFound)
	}
	return nil
}

var _ domain.LedgerBackend = (*LedgerStore)(nil)
