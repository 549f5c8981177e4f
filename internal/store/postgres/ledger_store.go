package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// LedgerStore implements domain.LedgerBackend using PostgreSQL.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// WithTx runs fn in a transaction holding the tenant's advisory lock, so two
// processes sharing the database never interleave passes for one tenant.
func (s *LedgerStore) WithTx(ctx context.Context, tenantID string, fn func(tx domain.LedgerTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &domain.StoreError{Op: "postgres: begin", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, tenantID); err != nil {
		return &domain.StoreError{Op: "postgres: advisory lock", Err: err}
	}

	if err := fn(&ledgerTx{q: tx, tenantID: tenantID}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return &domain.StoreError{Op: "postgres: commit", Err: err}
	}
	return nil
}

// Close is a no-op; the Client owns the pool.
func (s *LedgerStore) Close() error { return nil }

// ActivePositions returns the tenant's active positions.
func (s *LedgerStore) ActivePositions(ctx context.Context, tenantID string) ([]domain.Position, error) {
	return activePositions(ctx, s.pool, tenantID)
}

// TradesBetween returns trades with exit_time in [from, to).
func (s *LedgerStore) TradesBetween(ctx context.Context, tenantID string, from, to time.Time) ([]domain.Trade, error) {
	return tradesBetween(ctx, s.pool, tenantID, from, to)
}

// SumRealizedPnL sums realized P&L of trades with exit_time in [from, to).
func (s *LedgerStore) SumRealizedPnL(ctx context.Context, tenantID string, from, to time.Time) (float64, error) {
	totals, err := tradeTotals(ctx, s.pool, tenantID, from, to)
	if err != nil {
		return 0, err
	}
	return totals.RealizedPnL, nil
}

// DailyStat returns one trading day's aggregate or domain.ErrNotFound.
func (s *LedgerStore) DailyStat(ctx context.Context, tenantID, date string) (domain.DailyStat, error) {
	return dailyStat(ctx, s.pool, tenantID, date)
}

// ListTenants returns every tenant with ledger rows.
func (s *LedgerStore) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id FROM positions
		UNION
		SELECT tenant_id FROM trades
		ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tenants: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan tenants: %w", err)
	}
	return ids, nil
}

// ledgerTx implements domain.LedgerTx on a pgx.Tx.
type ledgerTx struct {
	q        querier
	tenantID string
}

func (t *ledgerTx) ActivePositions(ctx context.Context) ([]domain.Position, error) {
	return activePositions(ctx, t.q, t.tenantID)
}

func (t *ledgerTx) TradesBetween(ctx context.Context, from, to time.Time) ([]domain.Trade, error) {
	return tradesBetween(ctx, t.q, t.tenantID, from, to)
}

func (t *ledgerTx) TradeTotals(ctx context.Context, from, to time.Time) (domain.TradeTotals, error) {
	return tradeTotals(ctx, t.q, t.tenantID, from, to)
}

func (t *ledgerTx) DailyStat(ctx context.Context, date string) (domain.DailyStat, error) {
	return dailyStat(ctx, t.q, t.tenantID, date)
}

func (t *ledgerTx) UpsertDailyStat(ctx context.Context, st domain.DailyStat) error {
	day, err := time.Parse(domain.DateLayout, st.Date)
	if err != nil {
		return &domain.ValidationError{Field: "date", Reason: "want YYYY-MM-DD", Ref: st.Date}
	}

	const query = `
		INSERT INTO daily_stats (
			tenant_id, date, total_realized_pnl, number_of_trades,
			daily_loss_used, daily_loss_limit, loss_limit_hit, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (tenant_id, date) DO UPDATE SET
			total_realized_pnl = EXCLUDED.total_realized_pnl,
			number_of_trades   = EXCLUDED.number_of_trades,
			daily_loss_used    = EXCLUDED.daily_loss_used,
			daily_loss_limit   = EXCLUDED.daily_loss_limit,
			loss_limit_hit     = EXCLUDED.loss_limit_hit,
			updated_at         = NOW()`

	_, err = t.q.Exec(ctx, query,
		t.tenantID, day, st.TotalRealizedPnL, st.NumberOfTrades,
		st.DailyLossUsed, st.DailyLossLimit, st.LossLimitHit,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert daily stat %s: %w", st.Date, err)
	}
	return nil
}

func (t *ledgerTx) Audit(ctx context.Context, action string, detail map[string]any) error {
	return appendAudit(ctx, t.q, t.tenantID, action, detail)
}

func dailyStat(ctx context.Context, q querier, tenantID, date string) (domain.DailyStat, error) {
	day, err := time.Parse(domain.DateLayout, date)
	if err != nil {
		return domain.DailyStat{}, &domain.ValidationError{Field: "date", Reason: "want YYYY-MM-DD", Ref: date}
	}

	var st domain.DailyStat
	var d time.Time
	err = q.QueryRow(ctx, `
		SELECT tenant_id, date, total_realized_pnl, number_of_trades,
		       daily_loss_used, daily_loss_limit, loss_limit_hit, updated_at
		FROM daily_stats WHERE tenant_id = $1 AND date = $2`, tenantID, day,
	).Scan(&st.TenantID, &d, &st.TotalRealizedPnL, &st.NumberOfTrades,
		&st.DailyLossUsed, &st.DailyLossLimit, &st.LossLimitHit, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DailyStat{}, domain.ErrNotFound
		}
		return domain.DailyStat{}, fmt.Errorf("postgres: get daily stat %s: %w", date, err)
	}
	st.Date = d.Format(domain.DateLayout)
	return st, nil
}

func requireRow(tag pgconn.CommandTag, op string, id int64) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: %s %d: %w", op, id, domain.ErrNotFound)
	}
	return nil
}

var _ domain.LedgerBackend = (*LedgerStore)(nil)
