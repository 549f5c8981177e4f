package domain

import "time"

// AuditEntry is an append-only record of a ledger change.
type AuditEntry struct {
	ID        int64          `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Action    string         `json:"action"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}
