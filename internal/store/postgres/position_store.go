package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

const positionSelectCols = `id, tenant_id, instrument_key, trading_symbol, exchange, is_active,
	entry_time, entry_price, quantity, transaction_type, last_synced_price,
	unrealized_pnl, closed_at, updated_at`

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var txType string

		if err := rows.Scan(
			&p.ID, &p.TenantID, &p.InstrumentKey, &p.TradingSymbol, &p.Exchange, &p.IsActive,
			&p.EntryTime, &p.EntryPrice, &p.Quantity, &txType, &p.LastSyncedPrice,
			&p.UnrealizedPnL, &p.ClosedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		p.TransactionType = domain.TransactionType(txType)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func activePositions(ctx context.Context, q querier, tenantID string) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		WHERE tenant_id = $1 AND is_active
		ORDER BY instrument_key`

	rows, err := q.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("postgres: active positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// InsertPosition opens a new active position and returns it with its id.
func (t *ledgerTx) InsertPosition(ctx context.Context, p domain.Position) (domain.Position, error) {
	p.TenantID = t.tenantID
	p.IsActive = true

	const query = `
		INSERT INTO positions (
			tenant_id, instrument_key, trading_symbol, exchange, is_active,
			entry_time, entry_price, quantity, transaction_type,
			last_synced_price, unrealized_pnl, updated_at
		) VALUES (
			$1, $2, $3, $4, TRUE,
			$5, $6, $7, $8,
			$9, $10, NOW()
		)
		RETURNING id, updated_at`

	err := t.q.QueryRow(ctx, query,
		p.TenantID, p.InstrumentKey, p.TradingSymbol, p.Exchange,
		p.EntryTime.UTC(), p.EntryPrice, p.Quantity, string(p.TransactionType),
		p.LastSyncedPrice, p.UnrealizedPnL,
	).Scan(&p.ID, &p.UpdatedAt)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: insert position %s: %w", p.InstrumentKey, err)
	}
	return p, nil
}

// UpdatePosition rewrites the mutable fields of an active position.
func (t *ledgerTx) UpdatePosition(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			trading_symbol    = $3,
			exchange          = $4,
			entry_price       = $5,
			quantity          = $6,
			transaction_type  = $7,
			last_synced_price = $8,
			unrealized_pnl    = $9,
			updated_at        = NOW()
		WHERE id = $1 AND tenant_id = $2 AND is_active`

	tag, err := t.q.Exec(ctx, query,
		p.ID, t.tenantID,
		p.TradingSymbol, p.Exchange, p.EntryPrice, p.Quantity, string(p.TransactionType),
		p.LastSyncedPrice, p.UnrealizedPnL,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %d: %w", p.ID, err)
	}
	return requireRow(tag, "update position", p.ID)
}

// DeactivatePosition closes an active position at exitPrice.
func (t *ledgerTx) DeactivatePosition(ctx context.Context, id int64, exitPrice float64, closedAt time.Time) error {
	const query = `
		UPDATE positions SET
			is_active         = FALSE,
			last_synced_price = $3,
			closed_at         = $4,
			updated_at        = NOW()
		WHERE id = $1 AND tenant_id = $2 AND is_active`

	tag, err := t.q.Exec(ctx, query, id, t.tenantID, exitPrice, closedAt.UTC())
	if err != nil {
		return fmt.Errorf("postgres: deactivate position %d: %w", id, err)
	}
	return requireRow(tag, "deactivate position", id)
}
