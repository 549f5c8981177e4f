package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// appendAudit writes one audit entry. The detail map is stored as JSONB.
func appendAudit(ctx context.Context, q querier, tenantID, action string, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}

	const query = `INSERT INTO audit_log (tenant_id, action, detail) VALUES ($1, $2, $3)`
	if _, err := q.Exec(ctx, query, tenantID, action, detailJSON); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", action, err)
	}
	return nil
}

// AppendAudit writes a standalone audit entry outside any pass.
func (s *LedgerStore) AppendAudit(ctx context.Context, tenantID, action string, detail map[string]any) error {
	return appendAudit(ctx, s.pool, tenantID, action, detail)
}

// ListAudit returns the tenant's audit entries with pagination and optional
// time filtering, newest first.
func (s *LedgerStore) ListAudit(ctx context.Context, tenantID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `SELECT id, tenant_id, action, detail, created_at FROM audit_log WHERE tenant_id = $1`
	args := []any{tenantID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC, id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var detailJSON []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Action, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
